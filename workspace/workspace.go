// Package workspace defines the external collaborator that resolves
// sensor identities to code locations and evaluates sensor user code
// remotely. The daemon core only depends on these interfaces; a concrete
// implementation lives outside this module's scope.
package workspace

import (
	"context"
	"time"

	"github.com/sensorloop/sensorcore/errors"
	"github.com/sensorloop/sensorcore/tick"
)

// ErrCodeLocationUnreachable classifies a transient "user code server
// unreachable" failure. Callers check for it with errors.Is rather than
// matching on an error message, so it stays a distinct failure class from
// a general evaluation error.
var ErrCodeLocationUnreachable = errors.New("user code server unreachable")

// IsCodeLocationUnreachable reports whether err is, or wraps, the transient
// unreachable classification; this cause must not increment failure_count.
func IsCodeLocationUnreachable(err error) bool {
	return errors.Is(err, ErrCodeLocationUnreachable)
}

// Snapshot is one atomic read of every known code location, taken once per
// iteration-loop pass to tolerate workspace churn mid-iteration.
type Snapshot struct {
	Locations map[string]CodeLocation
}

// Context resolves the current workspace snapshot and individual code
// locations by name. Implementations must re-resolve a location handle on
// every call rather than caching it across a yield boundary.
type Context interface {
	Snapshot(ctx context.Context) (*Snapshot, error)
	GetCodeLocation(ctx context.Context, name string) (CodeLocation, error)
}

// EvaluationRequest carries the prior state the Evaluator passes into a
// sensor's user code so it can resume incrementally.
type EvaluationRequest struct {
	RepositoryHandle         string
	SensorName               string
	LastTickTimestamp        *time.Time
	LastRunKey               string
	Cursor                   string
	LogKey                   string
	LastSensorStartTimestamp *time.Time
}

// AutomationConditionEvaluation is an optional per-asset side record from a
// sensor's output, linked back to the tick that produced it.
type AutomationConditionEvaluation struct {
	AssetKey string
	RunIDs   []string
}

// AssetEvent is a runless asset materialization event reported directly by
// sensor user code (no run is created for it).
type AssetEvent struct {
	AssetKey string
	Payload  []byte
}

// RuntimeData is everything a sensor's user code can emit in one
// evaluation. Every field is optional; absence is represented by the zero
// value / nil, not a sentinel.
type RuntimeData struct {
	LogKey                         string
	AssetEvents                    []AssetEvent
	DynamicPartitionsRequests      []tick.DynamicPartitionsRequest
	RunRequests                    []tick.RunRequest
	AutomationConditionEvaluations []AutomationConditionEvaluation
	RunReactions                   []tick.RunReaction
	SkipMessage                    string
	Cursor                         string
}

// HasRunRequestsOrEvaluations reports whether the evaluator output carries
// anything that routes to the Submission Engine.
func (d *RuntimeData) HasRunRequestsOrEvaluations() bool {
	return len(d.RunRequests) > 0 || len(d.AutomationConditionEvaluations) > 0
}

// JobSelector identifies the job a run request targets.
type JobSelector struct {
	RepositoryHandle string
	JobName          string
}

// Job is the external job definition resolved from a code location.
type Job struct {
	Name string
}

// ExecutionPlan is the resolved execution plan for a job plus run config.
type ExecutionPlan struct {
	StepKeys []string
}

// CodeLocation evaluates sensor user code and resolves jobs within one
// repository location. Handles must be reloaded per submission.
type CodeLocation interface {
	GetExternalSensorExecutionData(ctx context.Context, req EvaluationRequest) (*RuntimeData, error)
	GetExternalJob(ctx context.Context, selector JobSelector) (*Job, error)
	GetExternalExecutionPlan(ctx context.Context, job *Job, runConfig []byte) (*ExecutionPlan, error)
}

// StaleAssetResolver consults the external asset graph for which of a
// selection's asset keys are currently stale, used by the Request Resolver
// when a request sets stale_assets_only.
type StaleAssetResolver interface {
	GetStaleAssetKeys(ctx context.Context, selection []string) ([]string, error)
}
