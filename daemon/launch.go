package daemon

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/sensorloop/sensorcore/errors"
	"github.com/sensorloop/sensorcore/sensor"
	"github.com/sensorloop/sensorcore/store"
	"github.com/sensorloop/sensorcore/tick"
	"github.com/sensorloop/sensorcore/workspace"
)

// RetentionSettings maps a terminal tick status to a day offset; ticks
// older than that offset are purged on Launch Context close. An offset
// <= 0 means "never purge this status".
type RetentionSettings map[tick.Status]int

// LaunchContext is the scoped lifecycle around one tick: an in-memory
// builder for tick mutations, flushed on SetRunRequests and finalized on
// Close, guaranteeing every tick that passes through it is terminated on
// every exit path including errors and cooperative shutdown.
type LaunchContext struct {
	ctx        context.Context
	store      store.Store
	tick       *tick.Tick
	def        sensor.Definition
	persisted  bool
	retention  RetentionSettings
	logger     *zap.SugaredLogger

	cursorAdvanceOnFailure bool
}

// Open creates the Launch Context for t. If t has not yet been persisted
// (a brand-new or cloned-for-resubmission tick), it is created immediately
// so a crash before the first flush still leaves a STARTED row behind.
func Open(
	ctx context.Context,
	st store.Store,
	t *tick.Tick,
	def sensor.Definition,
	alreadyPersisted bool,
	retention RetentionSettings,
	logger *zap.SugaredLogger,
) (*LaunchContext, error) {
	lc := &LaunchContext{
		ctx:       ctx,
		store:     st,
		tick:      t,
		def:       def,
		persisted: alreadyPersisted,
		retention: retention,
		logger:    logger,
	}

	if !alreadyPersisted {
		if _, err := st.CreateTick(ctx, t); err != nil {
			return nil, errors.Wrapf(err, "failed to create tick %s", t.ID)
		}
		lc.persisted = true
	}

	return lc, nil
}

// Tick exposes the in-flight tick for mutation by the caller's evaluation
// logic.
func (lc *LaunchContext) Tick() *tick.Tick {
	return lc.tick
}

// SetLogKey records the log key the Evaluator attached to this tick.
func (lc *LaunchContext) SetLogKey(key string) {
	lc.tick.LogKey = key
}

// SetCursorAdvanceOnFailure opts this tick into advancing cursor/last_run_key
// even if it ends in FAILURE — used only by Run Reaction handling, whose
// side effects must not be repeated on retry.
func (lc *LaunchContext) SetCursorAdvanceOnFailure() {
	lc.cursorAdvanceOnFailure = true
}

// SetRunRequests persists the reservation set before any submission is
// attempted, so a crash mid-launch can always be replayed from what was
// durably reserved here.
func (lc *LaunchContext) SetRunRequests(reserved map[string]tick.RunRequest, cursor string) error {
	lc.tick.SetRunRequests(reserved, cursor)
	if err := lc.flush(); err != nil {
		return errors.Wrapf(err, "failed to persist run requests for tick %s", lc.tick.ID)
	}
	return nil
}

// RecordRun appends a submitted run and flushes immediately, so the
// reservation-before-submission guarantee holds even if a later run in the
// same tick fails to submit.
func (lc *LaunchContext) RecordRun(runID, runKey string) error {
	lc.tick.RecordRun(runID, runKey)
	return lc.flush()
}

func (lc *LaunchContext) flush() error {
	return lc.store.UpdateTick(lc.ctx, lc.tick)
}

// Close finalizes the tick on every exit path.
//
//   - cancelled: the scope exited due to a cooperative-shutdown signal;
//     finalize silently without marking failure.
//   - err != nil: classify it. "user code server unreachable" is transient
//     — FAILURE without incrementing failure_count. Anything else is a
//     general evaluation error — FAILURE with failure_count incremented.
//   - err == nil and the tick was never otherwise finalized: nothing further
//     to do; the caller was responsible for finalizing it (SKIPPED/SUCCESS).
//
// After finalizing, re-reads the latest instigator state (to minimize the
// clobber window against a concurrent writer) and applies the State
// Aggregator's close write rules, then purges aged ticks.
func (lc *LaunchContext) Close(cancelled bool, err error) error {
	now := time.Now()

	switch {
	case cancelled:
		// Silent close: no failure recorded, no failure_count increment,
		// but the tick as currently built is still flushed.
	case err != nil && !lc.tick.Status.Finished():
		if workspace.IsCodeLocationUnreachable(err) {
			lc.tick.MarkFailure(err.Error(), false, now)
		} else {
			lc.tick.MarkFailure(err.Error(), true, now)
		}
	}

	if flushErr := lc.flush(); flushErr != nil {
		return errors.Wrapf(flushErr, "failed to flush tick %s on close", lc.tick.ID)
	}

	if !lc.tick.Status.Finished() {
		// Still in flight (e.g. a cancelled scope that never reached a
		// terminal state) — nothing more to aggregate or purge yet.
		return nil
	}

	state, stateErr := lc.store.GetInstigatorState(lc.ctx, lc.tick.SelectorID)
	if stateErr != nil {
		return errors.Wrapf(stateErr, "failed to read instigator state for %s", lc.tick.SelectorID)
	}
	applyCloseWriteRules(state, lc.tick, lc.cursorAdvanceOnFailure, now)
	if err := lc.store.UpdateInstigatorState(lc.ctx, state); err != nil {
		return errors.Wrapf(err, "failed to update instigator state for %s", lc.tick.SelectorID)
	}

	if err := lc.purgeAgedTicks(now); err != nil {
		return err
	}

	return nil
}

func (lc *LaunchContext) purgeAgedTicks(now time.Time) error {
	byOffset := map[int][]tick.Status{}
	for status, offsetDays := range lc.retention {
		if offsetDays <= 0 {
			continue
		}
		byOffset[offsetDays] = append(byOffset[offsetDays], status)
	}

	for offsetDays, statuses := range byOffset {
		before := now.Add(-time.Duration(offsetDays) * 24 * time.Hour)
		if err := lc.store.PurgeTicks(lc.ctx, lc.tick.SelectorID, before, statuses); err != nil {
			return errors.Wrapf(err, "failed to purge aged ticks for %s", lc.tick.SelectorID)
		}
	}
	return nil
}
