package daemon

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/sensorloop/sensorcore/internal/workerpool"
	"github.com/sensorloop/sensorcore/sensor"
	"github.com/sensorloop/sensorcore/store"
	"github.com/sensorloop/sensorcore/tick"
	"github.com/sensorloop/sensorcore/workspace"
)

// ReserveRequests assigns a fresh reservation id to each raw request: a
// backfill id if the request carries an asset-graph subset, otherwise a run
// id. The returned map is what LaunchContext.SetRunRequests persists
// before any submission is attempted.
func ReserveRequests(newID IDGenerator, requests []tick.RunRequest) map[string]tick.RunRequest {
	reserved := make(map[string]tick.RunRequest, len(requests))
	for _, req := range requests {
		reserved[newID()] = req
	}
	return reserved
}

// SubmissionSummary is the per-tick submission telemetry: a single summary
// line listing skipped run keys is logged at the end of a tick.
type SubmissionSummary struct {
	Submitted   []string
	SkippedKeys []string
}

type submissionOutcome struct {
	runID      string
	runKey     string
	skippedKey string
	err        error
}

// Submit is the Submission Engine. It fans the tick's unsubmitted
// reservations out over pool (serially if pool is nil), resolving each
// request, suppressing duplicates by run key, and recording every
// launched run onto the Launch Context as its result comes back.
func Submit(
	ctx context.Context,
	lc *LaunchContext,
	st store.Store,
	sn sensor.Sensor,
	resolver workspace.StaleAssetResolver,
	codeLocation workspace.CodeLocation,
	pool *workerpool.Pool,
	logger *zap.SugaredLogger,
) (*SubmissionSummary, error) {
	pending := lc.Tick().UnsubmittedRunIDsWithRequests()
	summary := &SubmissionSummary{}
	if len(pending) == 0 {
		return summary, nil
	}

	results := make(chan submissionOutcome, len(pending))
	var wg sync.WaitGroup

	for reservedID, req := range pending {
		reservedID, req := reservedID, req
		wg.Add(1)
		work := func(taskCtx context.Context) {
			defer wg.Done()
			results <- submitOne(taskCtx, st, sn, resolver, codeLocation, lc.Tick().ID, reservedID, req)
		}
		if pool != nil {
			pool.Submit(work)
		} else {
			work(ctx)
		}
	}

	go func() {
		wg.Wait()
		close(results)
	}()

	var firstErr error
	for o := range results {
		switch {
		case o.err != nil:
			if logger != nil {
				logger.Errorw("run submission failed", "selector_id", sn.SelectorID(), "error", o.err)
			}
			if firstErr == nil {
				firstErr = o.err
			}
		case o.skippedKey != "":
			summary.SkippedKeys = append(summary.SkippedKeys, o.skippedKey)
		case o.runID != "":
			if err := lc.RecordRun(o.runID, o.runKey); err != nil {
				if firstErr == nil {
					firstErr = err
				}
				continue
			}
			summary.Submitted = append(summary.Submitted, o.runID)
		}
	}

	if len(summary.SkippedKeys) > 0 && logger != nil {
		logger.Infow("skipped run requests with colliding run keys",
			"selector_id", sn.SelectorID(), "run_keys", summary.SkippedKeys)
	}

	return summary, firstErr
}

// submitOne resolves and launches a single reserved request. Backfills are
// created directly; runs are routed through the Request Resolver and
// Duplicate Suppressor before creation and submission.
func submitOne(
	ctx context.Context,
	st store.Store,
	sn sensor.Sensor,
	resolver workspace.StaleAssetResolver,
	codeLocation workspace.CodeLocation,
	tickID, reservedID string,
	req tick.RunRequest,
) submissionOutcome {
	if req.IsBackfill() {
		b := &store.Backfill{
			ID:               reservedID,
			SelectorID:       sn.SelectorID(),
			TickID:           tickID,
			AssetGraphSubset: req.AssetGraphSubset,
			Status:           store.RunStatusNotStarted,
		}
		if _, err := st.AddBackfill(ctx, b); err != nil {
			return submissionOutcome{err: err}
		}
		return submissionOutcome{runID: b.ID}
	}

	resolved, err := ResolveRequest(ctx, resolver, sn.Identity.SensorName, tickID, req)
	if err != nil {
		return submissionOutcome{err: err}
	}
	if resolved == nil {
		// stale_assets_only resolved to nothing stale: this reservation
		// produces no run.
		return submissionOutcome{skippedKey: req.RunKey}
	}

	var existing *store.Run
	if resolved.RunKey != "" {
		colliding, err := CollidingRuns(ctx, st, sn, []string{resolved.RunKey})
		if err != nil {
			return submissionOutcome{err: err}
		}
		existing = colliding[resolved.RunKey]
	}

	run, alreadyLaunched, err := GetOrCreateRun(ctx, st, existing, func() (*store.Run, error) {
		return st.CreateRun(ctx, &store.Run{
			ID:               reservedID,
			SelectorID:       sn.SelectorID(),
			OriginSelectorID: sn.SelectorID(),
			TickID:           tickID,
			RunKey:           resolved.RunKey,
			Tags:             resolved.Tags,
		})
	})
	if err != nil {
		return submissionOutcome{err: err}
	}
	if alreadyLaunched {
		return submissionOutcome{skippedKey: resolved.RunKey}
	}

	if codeLocation != nil {
		job, err := codeLocation.GetExternalJob(ctx, workspace.JobSelector{RepositoryHandle: sn.Identity.Repository})
		if err != nil {
			return submissionOutcome{err: err}
		}
		if _, err := codeLocation.GetExternalExecutionPlan(ctx, job, resolved.RunConfig); err != nil {
			return submissionOutcome{err: err}
		}
	}

	if err := st.SubmitRun(ctx, run.ID); err != nil {
		return submissionOutcome{err: err}
	}
	return submissionOutcome{runID: run.ID, runKey: run.RunKey}
}
