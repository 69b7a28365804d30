// Package sensor defines the sensor identity, definition, and persisted
// per-sensor state evaluated by the daemon.
package sensor

import (
	"crypto/sha256"
	"encoding/hex"
	"time"
)

// Status is the lifecycle status of a sensor's instigator state.
type Status string

const (
	StatusDeclaredInCode Status = "DECLARED_IN_CODE"
	StatusRunning        Status = "RUNNING"
	StatusStopped        Status = "STOPPED"
)

// Identity names a sensor within a workspace. The triple is stable; the
// derived SelectorID is what every other record keys off of.
type Identity struct {
	CodeLocation string
	Repository   string
	SensorName   string
}

// SelectorID derives a stable hash identifying this sensor across restarts
// and workspace reloads.
func (id Identity) SelectorID() string {
	h := sha256.New()
	h.Write([]byte(id.CodeLocation))
	h.Write([]byte{0})
	h.Write([]byte(id.Repository))
	h.Write([]byte{0})
	h.Write([]byte(id.SensorName))
	return hex.EncodeToString(h.Sum(nil))[:32]
}

// Definition is the sensor's declared configuration, as read from user code.
type Definition struct {
	MinIntervalSeconds   int
	SensorType           string
	DefaultStatus        Status
	HandledByAssetDaemon bool
}

// Sensor pairs an identity with its declared definition.
type Sensor struct {
	Identity   Identity
	Definition Definition
}

// SelectorID is a convenience forward to Identity.SelectorID.
func (s Sensor) SelectorID() string {
	return s.Identity.SelectorID()
}

// Data is the per-sensor persisted evaluation state (SensorData in the data
// model). LastTickSuccessTimestamp is the fast-path flag: non-nil means the
// previous tick finished cleanly and no interrupted-tick lookup is needed.
type Data struct {
	LastTickTimestamp        *time.Time
	LastTickStartTimestamp   *time.Time
	LastTickSuccessTimestamp *time.Time
	LastSensorStartTimestamp *time.Time
	LastRunKey               string
	Cursor                   string
	MinInterval              int
	SensorType               string
}

// InstigatorState is the persisted per-sensor record: a status plus the
// optional evaluation data accumulated across ticks.
type InstigatorState struct {
	SelectorID string
	Status     Status
	Data       *Data
}

// NewDeclaredState builds the DECLARED_IN_CODE state created the first time
// a RUNNING sensor is observed with no prior persisted state.
func NewDeclaredState(selectorID string, def Definition) *InstigatorState {
	return &InstigatorState{
		SelectorID: selectorID,
		Status:     StatusDeclaredInCode,
		Data: &Data{
			MinInterval: def.MinIntervalSeconds,
			SensorType:  def.SensorType,
		},
	}
}
