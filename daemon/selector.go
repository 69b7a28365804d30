package daemon

import (
	"context"
	"time"

	"github.com/sensorloop/sensorcore/errors"
	"github.com/sensorloop/sensorcore/sensor"
	"github.com/sensorloop/sensorcore/store"
	"github.com/sensorloop/sensorcore/tick"
)

// IDGenerator mints new tick/run/backfill identifiers.
type IDGenerator func() string

// SelectTick is the Tick Selector: given the sensor state and an
// evaluation timestamp, it produces the active tick — either resuming an
// interrupted one, cloning a retryable failure, or creating a brand-new
// tick.
// SelectTick returns the active tick plus whether it was resumed from an
// already-persisted row (true) or is a brand-new/cloned tick the caller
// still needs to create (false).
func SelectTick(
	ctx context.Context,
	st store.Store,
	sn sensor.Sensor,
	data *sensor.Data,
	evaluationTimestamp time.Time,
	newID IDGenerator,
) (t *tick.Tick, resumed bool, err error) {
	selectorID := sn.SelectorID()

	// Fast path: a non-null last_tick_success_timestamp means the previous
	// tick finished cleanly, so no interrupted-tick lookup is necessary.
	if data != nil && data.LastTickSuccessTimestamp != nil {
		return tick.NewStarted(newID(), selectorID, sn.Identity.SensorName, evaluationTimestamp), false, nil
	}

	ticks, err := st.GetTicks(ctx, selectorID, 1)
	if err != nil {
		return nil, false, errors.Wrapf(err, "failed to fetch latest tick for %s", selectorID)
	}
	if len(ticks) == 0 {
		return tick.NewStarted(newID(), selectorID, sn.Identity.SensorName, evaluationTimestamp), false, nil
	}

	latest := ticks[0]

	switch {
	case latest.Status == tick.StatusStarted && latest.HasUnsubmittedReservations() &&
		evaluationTimestamp.Sub(latest.Timestamp) <= MaxTimeToResumeTick:
		// Resume: the prior tick is still within the resumption window and
		// has reservations nothing was ever submitted for.
		return latest, true, nil

	case latest.Status == tick.StatusStarted:
		// Dangling STARTED tick past the resumption window (or with nothing
		// left to resume) — retire it so it never blocks future evaluation.
		latest.Status = tick.StatusSkipped
		now := evaluationTimestamp
		latest.EndTimestamp = &now
		if err := st.UpdateTick(ctx, latest); err != nil {
			return nil, false, errors.Wrapf(err, "failed to retire dangling tick %s", latest.ID)
		}
		return tick.NewStarted(newID(), selectorID, sn.Identity.SensorName, evaluationTimestamp), false, nil

	case latest.Status == tick.StatusFailure &&
		latest.FailureCount <= MaxFailureResubmissionRetries &&
		latest.HasUnsubmittedReservations():
		return latest.CloneForResubmission(newID(), evaluationTimestamp), false, nil

	default:
		return tick.NewStarted(newID(), selectorID, sn.Identity.SensorName, evaluationTimestamp), false, nil
	}
}
