package daemon

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/sensorloop/sensorcore/errors"
	"github.com/sensorloop/sensorcore/internal/workerpool"
	"github.com/sensorloop/sensorcore/sensor"
	"github.com/sensorloop/sensorcore/store"
	"github.com/sensorloop/sensorcore/workspace"
)

// Loop is the Iteration Loop: it drives repeated single iterations
// over every known sensor, dispatching at most one in-flight evaluation per
// selector_id to an evaluation pool, and emitting heartbeats a surrounding
// supervisor can watch for liveness.
type Loop struct {
	store          store.Store
	workspace      workspace.Context
	resolver       workspace.StaleAssetResolver
	evaluationPool *workerpool.Pool
	submissionPool *workerpool.Pool
	retention      RetentionSettings
	logger         *zap.SugaredLogger
	loopInterval   time.Duration

	mu       sync.Mutex
	inFlight map[string]bool
}

// NewLoop builds a Loop. evaluationPool may be nil, in which case sensors
// are processed inline rather than dispatched concurrently.
func NewLoop(
	st store.Store,
	ws workspace.Context,
	resolver workspace.StaleAssetResolver,
	evaluationPool, submissionPool *workerpool.Pool,
	retention RetentionSettings,
	logger *zap.SugaredLogger,
) *Loop {
	return &Loop{
		store:          st,
		workspace:      ws,
		resolver:       resolver,
		evaluationPool: evaluationPool,
		submissionPool: submissionPool,
		retention:      retention,
		logger:         logger,
		loopInterval:   MinIntervalLoopTime,
		inFlight:       map[string]bool{},
	}
}

// SetLoopInterval overrides the target cycle time used by Run (default
// MinIntervalLoopTime). Configuration-driven, unlike MaxTimeToResumeTick and
// MaxFailureResubmissionRetries, which stay fixed behavioral constants
// rather than operator tuning (see DESIGN.md).
func (l *Loop) SetLoopInterval(d time.Duration) {
	l.loopInterval = d
}

// Run alternates full iterations with a bounded sleep targeting the loop
// interval (MinIntervalLoopTime unless SetLoopInterval changed it), emitting
// heartbeats on hb until ctx is done. hb may
// be nil if the caller doesn't need liveness markers.
func (l *Loop) Run(ctx context.Context, hb chan<- Heartbeat) {
	for {
		start := time.Now()
		emit(hb, startSpan())
		if err := l.RunOnce(ctx, time.Now()); err != nil {
			emit(hb, errHeartbeat(err))
		}
		emit(hb, endSpan())

		sleep := l.loopInterval - time.Since(start)
		if sleep < 0 {
			sleep = 0
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(sleep):
		}
	}
}

// RunOnce is a single iteration: snapshot the workspace, then walk
// every known sensor — skipping those handled by the asset daemon — and
// for each RUNNING sensor either declare its DECLARED_IN_CODE state (first
// ever pass), skip it (Interval Gate), or dispatch it.
func (l *Loop) RunOnce(ctx context.Context, now time.Time) error {
	if _, err := l.workspace.Snapshot(ctx); err != nil {
		return errors.Wrap(err, "failed to snapshot workspace")
	}

	sensors, err := l.store.ListSensors(ctx)
	if err != nil {
		return errors.Wrap(err, "failed to list sensors")
	}

	// Bulk-read every persisted instigator state once per iteration rather
	// than round-tripping per sensor.
	states, err := l.store.AllInstigatorStates(ctx)
	if err != nil {
		return errors.Wrap(err, "failed to list instigator states")
	}
	byID := make(map[string]*sensor.InstigatorState, len(states))
	for _, state := range states {
		byID[state.SelectorID] = state
	}

	for _, sn := range sensors {
		if sn.Definition.HandledByAssetDaemon {
			continue
		}
		if err := l.considerSensor(ctx, sn, byID[sn.SelectorID()], now); err != nil {
			return err
		}
	}
	return nil
}

func (l *Loop) considerSensor(ctx context.Context, sn sensor.Sensor, state *sensor.InstigatorState, now time.Time) error {
	if state == nil {
		if sn.Definition.DefaultStatus != sensor.StatusRunning {
			return nil
		}
		if _, err := MarkStart(ctx, l.store, sn.SelectorID(), sn.Definition, now); err != nil {
			return errors.Wrapf(err, "failed to declare state for %s", sn.SelectorID())
		}
		return nil
	}
	if state.Status != sensor.StatusRunning {
		return nil
	}
	if TooSoon(state.Data, sn.Definition.MinIntervalSeconds, now) {
		return nil
	}

	l.dispatch(ctx, sn, now)
	return nil
}

// dispatch enforces at most one in-flight evaluation per selector_id: a
// sensor whose prior evaluation is still outstanding is dropped for this
// pass rather than queued.
func (l *Loop) dispatch(ctx context.Context, sn sensor.Sensor, now time.Time) {
	if l.evaluationPool == nil {
		l.evaluate(ctx, sn, now)
		return
	}

	selectorID := sn.SelectorID()
	l.mu.Lock()
	if l.inFlight[selectorID] {
		l.mu.Unlock()
		return
	}
	l.inFlight[selectorID] = true
	l.mu.Unlock()

	submitted := l.evaluationPool.TrySubmit(func(taskCtx context.Context) {
		defer func() {
			l.mu.Lock()
			delete(l.inFlight, selectorID)
			l.mu.Unlock()
		}()
		l.evaluate(taskCtx, sn, now)
	})
	if !submitted {
		l.mu.Lock()
		delete(l.inFlight, selectorID)
		l.mu.Unlock()
	}
}

func (l *Loop) evaluate(ctx context.Context, sn sensor.Sensor, now time.Time) {
	if err := ProcessTick(ctx, l.store, l.workspace, sn, l.resolver, l.submissionPool, l.retention, l.logger, now); err != nil {
		if l.logger != nil {
			l.logger.Errorw("sensor evaluation failed", "selector_id", sn.SelectorID(), "error", err)
		}
	}
}

func emit(hb chan<- Heartbeat, h Heartbeat) {
	if hb == nil {
		return
	}
	select {
	case hb <- h:
	default:
	}
}
