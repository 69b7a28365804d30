package daemon

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/sensorloop/sensorcore/errors"
	"github.com/sensorloop/sensorcore/internal/workerpool"
	"github.com/sensorloop/sensorcore/sensor"
	"github.com/sensorloop/sensorcore/store"
	"github.com/sensorloop/sensorcore/workspace"
)

func genID() string { return uuid.NewString() }

// ProcessTick is the composed per-tick pipeline: re-read state, re-check
// the Interval Gate, mark start, select a tick, open a Launch Context,
// then either resume outstanding submissions or run a fresh evaluation —
// closing the tick on every exit path, including a panic from the
// evaluation step.
func ProcessTick(
	ctx context.Context,
	st store.Store,
	wsCtx workspace.Context,
	sn sensor.Sensor,
	resolver workspace.StaleAssetResolver,
	submissionPool *workerpool.Pool,
	retention RetentionSettings,
	logger *zap.SugaredLogger,
	now time.Time,
) error {
	state, err := st.GetInstigatorState(ctx, sn.SelectorID())
	if err != nil && !errors.Is(err, errors.ErrNotFound) {
		return errors.Wrapf(err, "failed to read instigator state for %s", sn.SelectorID())
	}
	var data *sensor.Data
	if state != nil {
		data = state.Data
	}
	if TooSoon(data, sn.Definition.MinIntervalSeconds, now) {
		return nil
	}

	if _, err := MarkStart(ctx, st, sn.SelectorID(), sn.Definition, now); err != nil {
		return errors.Wrapf(err, "failed to mark start for %s", sn.SelectorID())
	}

	t, resumed, err := SelectTick(ctx, st, sn, data, now, genID)
	if err != nil {
		return errors.Wrapf(err, "failed to select tick for %s", sn.SelectorID())
	}

	lc, err := Open(ctx, st, t, sn.Definition, resumed, retention, logger)
	if err != nil {
		return errors.Wrapf(err, "failed to open launch context for %s", sn.SelectorID())
	}
	if lc.Tick().LogKey == "" {
		lc.SetLogKey(genID())
	}

	evalErr := runEvaluation(ctx, lc, st, wsCtx, sn, resolver, submissionPool, logger, data, now)

	cancelled := errors.Is(ctx.Err(), context.Canceled)
	if closeErr := lc.Close(cancelled, evalErr); closeErr != nil {
		return closeErr
	}
	return evalErr
}

// runEvaluation recovers from panics in either the resumption or fresh-
// evaluation path so a sensor's own code (or a bug in ours) can never leave
// a tick permanently un-finalized.
func runEvaluation(
	ctx context.Context,
	lc *LaunchContext,
	st store.Store,
	wsCtx workspace.Context,
	sn sensor.Sensor,
	resolver workspace.StaleAssetResolver,
	submissionPool *workerpool.Pool,
	logger *zap.SugaredLogger,
	data *sensor.Data,
	now time.Time,
) (evalErr error) {
	defer func() {
		if r := recover(); r != nil {
			if logger != nil {
				logger.Errorw("panic during sensor evaluation", "selector_id", sn.SelectorID(), "panic", r)
			}
			evalErr = errors.Newf("panic during sensor evaluation: %v", r)
		}
	}()

	if lc.Tick().HasUnsubmittedReservations() {
		codeLocation, err := wsCtx.GetCodeLocation(ctx, sn.Identity.CodeLocation)
		if err != nil {
			return errors.Wrapf(workspace.ErrCodeLocationUnreachable, "code location %s: %v", sn.Identity.CodeLocation, err)
		}
		if _, err := Submit(ctx, lc, st, sn, resolver, codeLocation, submissionPool, logger); err != nil {
			return err
		}
		finalizeAfterSubmission(lc, now)
		return nil
	}

	return evaluateFresh(ctx, lc, st, wsCtx, sn, resolver, submissionPool, logger, data, now)
}

func evaluateFresh(
	ctx context.Context,
	lc *LaunchContext,
	st store.Store,
	wsCtx workspace.Context,
	sn sensor.Sensor,
	resolver workspace.StaleAssetResolver,
	submissionPool *workerpool.Pool,
	logger *zap.SugaredLogger,
	data *sensor.Data,
	now time.Time,
) error {
	codeLocation, err := wsCtx.GetCodeLocation(ctx, sn.Identity.CodeLocation)
	if err != nil {
		return errors.Wrapf(workspace.ErrCodeLocationUnreachable, "code location %s: %v", sn.Identity.CodeLocation, err)
	}

	req := workspace.EvaluationRequest{
		RepositoryHandle: sn.Identity.Repository,
		SensorName:       sn.Identity.SensorName,
		LogKey:           lc.Tick().LogKey,
	}
	if data != nil {
		req.LastTickTimestamp = data.LastTickTimestamp
		req.LastRunKey = data.LastRunKey
		req.Cursor = data.Cursor
		req.LastSensorStartTimestamp = data.LastSensorStartTimestamp
	}

	runtime, err := codeLocation.GetExternalSensorExecutionData(ctx, req)
	if err != nil {
		return err
	}

	if runtime.LogKey != "" {
		lc.SetLogKey(runtime.LogKey)
	}
	for _, event := range runtime.AssetEvents {
		if err := st.ReportRunlessAssetEvent(ctx, event.AssetKey, event.Payload); err != nil {
			return errors.Wrapf(err, "failed to report asset event for %s", event.AssetKey)
		}
	}

	if len(runtime.DynamicPartitionsRequests) > 0 {
		results, err := ApplyDynamicPartitionRequests(ctx, st, runtime.DynamicPartitionsRequests)
		if err != nil {
			return err
		}
		lc.Tick().DynamicPartitionsRequestResults = results
	}

	if !runtime.HasRunRequestsOrEvaluations() {
		if len(runtime.RunReactions) > 0 {
			return HandleRunReactions(ctx, lc, st, runtime.RunReactions, runtime.Cursor)
		}
		lc.Tick().MarkSkipped(runtime.SkipMessage, runtime.Cursor, now)
		return nil
	}

	// Automation condition evaluations are accepted as an evaluator output
	// but have no durable home here: persisting per-asset evaluation
	// records requires the asset graph, which is out of scope (asset-
	// materialization daemon). Only the run requests they may accompany
	// are acted on.
	reserved := ReserveRequests(genID, runtime.RunRequests)
	if err := lc.SetRunRequests(reserved, runtime.Cursor); err != nil {
		return err
	}

	if _, err := Submit(ctx, lc, st, sn, resolver, codeLocation, submissionPool, logger); err != nil {
		return err
	}

	finalizeAfterSubmission(lc, now)
	return nil
}

func finalizeAfterSubmission(lc *LaunchContext, now time.Time) {
	t := lc.Tick()
	if len(t.RunIDs) > 0 {
		t.MarkSuccess(t.Cursor, now)
		return
	}
	t.MarkSkipped("", t.Cursor, now)
}
