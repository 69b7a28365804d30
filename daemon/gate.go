package daemon

import (
	"time"

	"github.com/sensorloop/sensorcore/sensor"
)

// TooSoon is the Interval Gate: it decides whether enough time has
// elapsed since a sensor's last tick start to justify a new evaluation.
//
// Returns false (allow) if there is no previous tick recorded, or no
// min_interval_seconds configured. Otherwise computes elapsed against
// max(last_tick_timestamp, last_tick_start_timestamp) — using the max
// guards against repeatedly re-evaluating a sensor whose previous tick
// started but never finished.
func TooSoon(data *sensor.Data, minIntervalSeconds int, now time.Time) bool {
	if minIntervalSeconds <= 0 {
		return false
	}
	if data == nil {
		return false
	}

	last := latestOf(data.LastTickTimestamp, data.LastTickStartTimestamp)
	if last == nil {
		return false
	}

	elapsed := now.Sub(*last)
	return elapsed < time.Duration(minIntervalSeconds)*time.Second
}

func latestOf(a, b *time.Time) *time.Time {
	switch {
	case a == nil:
		return b
	case b == nil:
		return a
	case a.After(*b):
		return a
	default:
		return b
	}
}
