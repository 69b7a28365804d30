package daemon

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/sensorloop/sensorcore/sensor"
)

func TestTooSoonAllowsWhenNoPriorTick(t *testing.T) {
	assert.False(t, TooSoon(&sensor.Data{}, 30, time.Now()))
}

func TestTooSoonAllowsWhenNoMinInterval(t *testing.T) {
	now := time.Now()
	data := &sensor.Data{LastTickTimestamp: &now}
	assert.False(t, TooSoon(data, 0, now.Add(time.Second)))
}

func TestTooSoonBlocksWithinInterval(t *testing.T) {
	now := time.Now()
	data := &sensor.Data{LastTickTimestamp: &now}
	assert.True(t, TooSoon(data, 30, now.Add(5*time.Second)))
}

func TestTooSoonAllowsAfterInterval(t *testing.T) {
	now := time.Now()
	data := &sensor.Data{LastTickTimestamp: &now}
	assert.False(t, TooSoon(data, 30, now.Add(31*time.Second)))
}

func TestTooSoonUsesMaxOfTimestampAndStart(t *testing.T) {
	tickTime := time.Now()
	startTime := tickTime.Add(20 * time.Second)
	data := &sensor.Data{
		LastTickTimestamp:      &tickTime,
		LastTickStartTimestamp: &startTime,
	}
	// 15s after the start (not the completed timestamp) should still be gated.
	assert.True(t, TooSoon(data, 30, startTime.Add(15*time.Second)))
}
