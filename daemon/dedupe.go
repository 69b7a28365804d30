package daemon

import (
	"context"

	"github.com/sensorloop/sensorcore/errors"
	"github.com/sensorloop/sensorcore/sensor"
	"github.com/sensorloop/sensorcore/store"
	"github.com/sensorloop/sensorcore/tick"
)

// CollidingRuns is the Duplicate Suppressor. For the given run keys, it
// looks up existing runs tagged with that key (a serial per-key fetch —
// an IN-clause query has been empirically slower) and returns a map of
// run_key → colliding run. A run collides iff its SENSOR_NAME_TAG equals
// this sensor's name AND (the run has no recorded origin, or the origin's
// selector id matches this sensor's).
func CollidingRuns(ctx context.Context, st store.Store, sn sensor.Sensor, runKeys []string) (map[string]*store.Run, error) {
	out := make(map[string]*store.Run, len(runKeys))
	for _, key := range runKeys {
		runs, err := st.GetRunsByTag(ctx, tick.RunKeyTag, key)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to fetch runs for run_key %s", key)
		}
		for _, r := range runs {
			if r.Tags[tick.SensorNameTag] != sn.Identity.SensorName {
				continue
			}
			if r.OriginSelectorID != "" && r.OriginSelectorID != sn.SelectorID() {
				continue
			}
			out[key] = r
			break
		}
	}
	return out, nil
}

// GetOrCreateRun implements the "already exists" branch of C6's create path:
// if a colliding run exists, a NOT_STARTED one is returned for retry (the
// crash-between-create-and-launch case); anything else means it already
// launched and should be skipped.
func GetOrCreateRun(ctx context.Context, st store.Store, existing *store.Run, create func() (*store.Run, error)) (run *store.Run, alreadyLaunched bool, err error) {
	if existing == nil {
		run, err = create()
		if err != nil {
			return nil, false, err
		}
		return run, false, nil
	}

	if existing.Status != store.RunStatusNotStarted {
		return existing, true, nil
	}
	return existing, false, nil
}
