// Package store defines the Instance Store: the sole durable truth for
// sensors, instigator state, ticks, runs, backfills, and dynamic
// partitions. The daemon core depends only on this interface; sqlite_store.go
// provides the concrete SQLite-backed implementation.
package store

import (
	"context"
	"time"

	"github.com/sensorloop/sensorcore/sensor"
	"github.com/sensorloop/sensorcore/tick"
)

// RunStatus is the external run's lifecycle status as tracked by the store.
// NotStarted is the only value the Duplicate Suppressor inspects directly:
// any other status means the run already launched.
type RunStatus string

const (
	RunStatusNotStarted RunStatus = "NOT_STARTED"
	RunStatusStarted    RunStatus = "STARTED"
	RunStatusSuccess    RunStatus = "SUCCESS"
	RunStatusFailure    RunStatus = "FAILURE"
	RunStatusCanceled   RunStatus = "CANCELED"
)

// Run is a submitted (or reserved-but-not-yet-submitted) job execution.
// OriginSelectorID is the selector_id of the sensor that created it, used
// by the Duplicate Suppressor's collision check. This store only ever
// creates runs on behalf of the sensor that reserved them, so it always
// equals SelectorID; the field stays distinct because the collision check
// is defined in terms of "origin" rather than "creator" (a future Instance
// Store that imports runs from elsewhere could diverge the two).
type Run struct {
	ID               string
	SelectorID       string
	TickID           string
	OriginSelectorID string
	RunKey           string
	Status           RunStatus
	Tags             map[string]string
	CreatedAt        time.Time
}

// Backfill is a multi-run execution unit materializing an asset-graph
// subset, produced when a RunRequest carries AssetGraphSubset.
type Backfill struct {
	ID               string
	SelectorID       string
	TickID           string
	AssetGraphSubset []byte
	Status           RunStatus
	CreatedAt        time.Time
}

// Store is the Instance Store surface the daemon core consumes.
type Store interface {
	// Sensor registry. Sensors are normally discovered from the workspace,
	// but the daemon needs somewhere durable to mirror what the workspace
	// reports so the iteration loop can diff "known sensors" across restarts.
	UpsertSensor(ctx context.Context, s sensor.Sensor) error
	ListSensors(ctx context.Context) ([]sensor.Sensor, error)

	AllInstigatorStates(ctx context.Context) ([]*sensor.InstigatorState, error)
	AddInstigatorState(ctx context.Context, state *sensor.InstigatorState) error
	UpdateInstigatorState(ctx context.Context, state *sensor.InstigatorState) error
	GetInstigatorState(ctx context.Context, selectorID string) (*sensor.InstigatorState, error)

	CreateTick(ctx context.Context, t *tick.Tick) (*tick.Tick, error)
	UpdateTick(ctx context.Context, t *tick.Tick) error
	GetTicks(ctx context.Context, selectorID string, limit int) ([]*tick.Tick, error)
	PurgeTicks(ctx context.Context, selectorID string, before time.Time, statuses []tick.Status) error

	GetRunsByTag(ctx context.Context, key, value string) ([]*Run, error)
	GetRunByID(ctx context.Context, id string) (*Run, error)
	CreateRun(ctx context.Context, r *Run) (*Run, error)
	SubmitRun(ctx context.Context, runID string) error

	AddBackfill(ctx context.Context, b *Backfill) (*Backfill, error)

	HasDynamicPartition(ctx context.Context, defName, key string) (bool, error)
	AddDynamicPartitions(ctx context.Context, defName string, keys []string) error
	DeleteDynamicPartition(ctx context.Context, defName, key string) error

	ReportRunlessAssetEvent(ctx context.Context, assetKey string, payload []byte) error
	ReportEngineEvent(ctx context.Context, runID, message string) error
}
