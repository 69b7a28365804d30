// Package tick defines the audit unit recorded for each sensor evaluation
// attempt, and the run requests a sensor's user code can emit.
package tick

import (
	"encoding/json"
	"time"
)

// Status is a tick's lifecycle status.
type Status string

const (
	StatusStarted Status = "STARTED"
	StatusSkipped Status = "SKIPPED"
	StatusSuccess Status = "SUCCESS"
	StatusFailure Status = "FAILURE"
)

// Finished reports whether status is one of the terminal states.
func (s Status) Finished() bool {
	switch s {
	case StatusSkipped, StatusSuccess, StatusFailure:
		return true
	default:
		return false
	}
}

// Tag names applied to runs launched by the daemon.
const (
	RunKeyTag     = "dagster/run_key"
	SensorNameTag = "dagster/sensor_name"
	TickIDTag     = "dagster/sensor_tick_id"
)

// PartitionRequestKind distinguishes add from delete dynamic-partition requests.
type PartitionRequestKind string

const (
	PartitionRequestAdd    PartitionRequestKind = "ADD"
	PartitionRequestDelete PartitionRequestKind = "DELETE"
)

// DynamicPartitionsRequest is a raw add/delete request emitted by sensor
// user code, ahead of being resolved against the partition store.
type DynamicPartitionsRequest struct {
	PartitionsDefName string
	Kind              PartitionRequestKind
	PartitionKeys     []string
}

// DynamicPartitionsRequestResult records what a DynamicPartitionsRequest
// actually did once reconciled against the store, regardless of whether it
// was a no-op.
type DynamicPartitionsRequestResult struct {
	PartitionsDefName string   `json:"partitions_def_name"`
	Added             []string `json:"added"`
	Deleted           []string `json:"deleted"`
	Skipped           []string `json:"skipped"`
}

// RunRequest is the raw request emitted by sensor user code. The presence of
// AssetGraphSubset marks this as a backfill request rather than a single run.
type RunRequest struct {
	RunKey           string            `json:"run_key,omitempty"`
	RunConfig        json.RawMessage   `json:"run_config,omitempty"`
	AssetSelection   []string          `json:"asset_selection,omitempty"`
	AssetCheckKeys   []string          `json:"asset_check_keys,omitempty"`
	Tags             map[string]string `json:"tags,omitempty"`
	StaleAssetsOnly  bool              `json:"stale_assets_only,omitempty"`
	AssetGraphSubset json.RawMessage   `json:"asset_graph_subset,omitempty"`
}

// IsBackfill reports whether this request targets an asset-graph subset
// rather than a single run.
func (r RunRequest) IsBackfill() bool {
	return len(r.AssetGraphSubset) > 0
}

// RunReaction is a status-change reaction a sensor emits against a run it
// is watching, optionally carrying an error from evaluating that reaction.
type RunReaction struct {
	RunID     string
	NewStatus string
	Error     string
}

// Tick is one durable record of a single sensor evaluation attempt.
//
// RunRequests and ReservedRunIDs are persisted before submission is
// attempted: ReservedRunIDs maps a reserved id to the request it was
// reserved for, and RunIDs/RunKeys only grow once a reservation has
// actually produced a submitted run.
type Tick struct {
	ID                              string
	SelectorID                      string
	InstigatorName                  string
	Status                          Status
	Timestamp                       time.Time
	EndTimestamp                    *time.Time
	Cursor                          string
	SkipReason                      string
	OriginRunID                     string
	LogKey                          string
	Error                           string
	FailureCount                    int
	RunIDs                          []string
	RunKeys                         []string
	ReservedRunIDs                  map[string]RunRequest
	DynamicPartitionsRequestResults []DynamicPartitionsRequestResult
}

// NewStarted creates a fresh STARTED tick at timestamp.
func NewStarted(id, selectorID, instigatorName string, timestamp time.Time) *Tick {
	return &Tick{
		ID:             id,
		SelectorID:     selectorID,
		InstigatorName: instigatorName,
		Status:         StatusStarted,
		Timestamp:      timestamp,
		ReservedRunIDs: map[string]RunRequest{},
	}
}

// CloneForResubmission copies a failed tick's reservation data into a new
// STARTED tick, clearing the error, per Tick Selector step 3 (retry path).
func (t *Tick) CloneForResubmission(newID string, timestamp time.Time) *Tick {
	reserved := make(map[string]RunRequest, len(t.ReservedRunIDs))
	for k, v := range t.ReservedRunIDs {
		reserved[k] = v
	}
	return &Tick{
		ID:             newID,
		SelectorID:     t.SelectorID,
		InstigatorName: t.InstigatorName,
		Status:         StatusStarted,
		Timestamp:      timestamp,
		Cursor:         t.Cursor,
		RunIDs:         append([]string(nil), t.RunIDs...),
		RunKeys:        append([]string(nil), t.RunKeys...),
		ReservedRunIDs: reserved,
	}
}

// SetRunRequests persists the reservation set atomically with the cursor in
// effect at that moment — the commitment point after which no submission
// proceeds without a prior reservation.
func (t *Tick) SetRunRequests(reserved map[string]RunRequest, cursor string) {
	t.ReservedRunIDs = reserved
	t.Cursor = cursor
}

// UnsubmittedRunIDsWithRequests returns the reserved (id, request) pairs
// whose runs have not yet been recorded in RunIDs — the derived resumption
// view consulted by the Tick Selector and Submission Engine.
func (t *Tick) UnsubmittedRunIDsWithRequests() map[string]RunRequest {
	submitted := make(map[string]struct{}, len(t.RunIDs))
	for _, id := range t.RunIDs {
		submitted[id] = struct{}{}
	}
	out := make(map[string]RunRequest)
	for id, req := range t.ReservedRunIDs {
		if _, ok := submitted[id]; !ok {
			out[id] = req
		}
	}
	return out
}

// HasUnsubmittedReservations reports whether any reserved id has not yet
// produced a recorded run.
func (t *Tick) HasUnsubmittedReservations() bool {
	return len(t.UnsubmittedRunIDsWithRequests()) > 0
}

// RecordRun appends a submitted run's id (and its run key, if any) to the
// tick's append-only sequences. Run ids are always a subset of reserved ids.
func (t *Tick) RecordRun(runID, runKey string) {
	t.RunIDs = append(t.RunIDs, runID)
	if runKey != "" {
		t.RunKeys = append(t.RunKeys, runKey)
	}
}

// MarkSkipped finalizes the tick as SKIPPED.
func (t *Tick) MarkSkipped(reason, cursor string, now time.Time) {
	t.Status = StatusSkipped
	t.SkipReason = reason
	t.Cursor = cursor
	t.EndTimestamp = &now
}

// MarkSuccess finalizes the tick as SUCCESS.
func (t *Tick) MarkSuccess(cursor string, now time.Time) {
	t.Status = StatusSuccess
	t.Cursor = cursor
	t.EndTimestamp = &now
}

// MarkFailure finalizes the tick as FAILURE. incrementFailureCount is false
// only for the transient "user code server unreachable" classification.
func (t *Tick) MarkFailure(errMsg string, incrementFailureCount bool, now time.Time) {
	t.Status = StatusFailure
	t.Error = errMsg
	t.EndTimestamp = &now
	if incrementFailureCount {
		t.FailureCount++
	}
}
