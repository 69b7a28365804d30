package daemon

import (
	"context"
	"time"

	"github.com/sensorloop/sensorcore/errors"
	"github.com/sensorloop/sensorcore/sensor"
	"github.com/sensorloop/sensorcore/store"
	"github.com/sensorloop/sensorcore/tick"
)

// MarkStart is the State Aggregator's first write point: it runs
// before evaluation, preserving last_tick_timestamp, last_run_key, cursor
// and last_sensor_start_timestamp while setting last_tick_start_timestamp to
// now and clearing last_tick_success_timestamp.
func MarkStart(ctx context.Context, st store.Store, selectorID string, def sensor.Definition, now time.Time) (*sensor.InstigatorState, error) {
	state, err := st.GetInstigatorState(ctx, selectorID)
	if err != nil {
		if !errors.Is(err, errors.ErrNotFound) {
			return nil, errors.Wrapf(err, "failed to read instigator state for %s", selectorID)
		}
		state = sensor.NewDeclaredState(selectorID, def)
		if err := st.AddInstigatorState(ctx, state); err != nil {
			return nil, errors.Wrapf(err, "failed to add instigator state for %s", selectorID)
		}
	}

	if state.Data == nil {
		state.Data = &sensor.Data{}
	}
	if state.Data.LastSensorStartTimestamp == nil {
		state.Data.LastSensorStartTimestamp = &now
	}
	state.Data.LastTickStartTimestamp = &now
	state.Data.LastTickSuccessTimestamp = nil

	if err := st.UpdateInstigatorState(ctx, state); err != nil {
		return nil, errors.Wrapf(err, "failed to mark start for %s", selectorID)
	}
	return state, nil
}

// applyCloseWriteRules is the State Aggregator's second write point,
// invoked from inside the Launch Context's close: cursor and last_run_key
// advance iff the tick did not fail, or cursorAdvanceOnFailure was opted
// in. last_tick_start_timestamp only ever moves forward. last_tick_success_timestamp
// is set on success, cleared otherwise.
func applyCloseWriteRules(state *sensor.InstigatorState, t *tick.Tick, cursorAdvanceOnFailure bool, now time.Time) {
	if state.Data == nil {
		state.Data = &sensor.Data{}
	}
	data := state.Data

	advanceCursor := t.Status != tick.StatusFailure || cursorAdvanceOnFailure
	if advanceCursor {
		data.Cursor = t.Cursor
		if lastRunKey := lastOf(t.RunKeys); lastRunKey != "" {
			data.LastRunKey = lastRunKey
		}
	}

	if data.LastTickStartTimestamp == nil || t.Timestamp.After(*data.LastTickStartTimestamp) {
		ts := t.Timestamp
		data.LastTickStartTimestamp = &ts
	}

	if t.Status == tick.StatusSuccess {
		data.LastTickSuccessTimestamp = &now
	} else {
		data.LastTickSuccessTimestamp = nil
	}
}

func lastOf(keys []string) string {
	if len(keys) == 0 {
		return ""
	}
	return keys[len(keys)-1]
}
