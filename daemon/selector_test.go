package daemon

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/sensorloop/sensorcore/internal/testutil"
	"github.com/sensorloop/sensorcore/sensor"
	"github.com/sensorloop/sensorcore/store"
	"github.com/sensorloop/sensorcore/tick"
)

func newID() string { return uuid.NewString() }

func testSensor() sensor.Sensor {
	return sensor.Sensor{
		Identity:   sensor.Identity{CodeLocation: "loc", Repository: "repo", SensorName: "S"},
		Definition: sensor.Definition{MinIntervalSeconds: 30, SensorType: "STANDARD"},
	}
}

func TestSelectTickCreatesFreshWhenNoState(t *testing.T) {
	db := testutil.CreateTestDB(t)
	st := store.NewSQLiteStore(db)
	sn := testSensor()

	got, _, err := SelectTick(context.Background(), st, sn, nil, time.Now(), newID)
	require.NoError(t, err)
	require.Equal(t, tick.StatusStarted, got.Status)
	require.Empty(t, got.ReservedRunIDs)
}

func TestSelectTickResumesStartedWithinWindow(t *testing.T) {
	db := testutil.CreateTestDB(t)
	st := store.NewSQLiteStore(db)
	sn := testSensor()
	ctx := context.Background()

	existing := tick.NewStarted(newID(), sn.SelectorID(), sn.Identity.SensorName, time.Now().Add(-60*time.Second))
	existing.ReservedRunIDs = map[string]tick.RunRequest{"r1": {RunKey: "k1"}}
	_, err := st.CreateTick(ctx, existing)
	require.NoError(t, err)

	got, resumed, err := SelectTick(ctx, st, sn, nil, time.Now(), newID)
	require.NoError(t, err)
	require.True(t, resumed)
	require.Equal(t, existing.ID, got.ID)
	require.Equal(t, tick.StatusStarted, got.Status)
}

func TestSelectTickRetiresStaleStarted(t *testing.T) {
	db := testutil.CreateTestDB(t)
	st := store.NewSQLiteStore(db)
	sn := testSensor()
	ctx := context.Background()

	stale := tick.NewStarted(newID(), sn.SelectorID(), sn.Identity.SensorName, time.Now().Add(-2*MaxTimeToResumeTick))
	stale.ReservedRunIDs = map[string]tick.RunRequest{"r1": {RunKey: "k1"}}
	_, err := st.CreateTick(ctx, stale)
	require.NoError(t, err)

	got, resumed, err := SelectTick(ctx, st, sn, nil, time.Now(), newID)
	require.NoError(t, err)
	require.False(t, resumed)
	require.NotEqual(t, stale.ID, got.ID)

	ticks, err := st.GetTicks(ctx, sn.SelectorID(), 10)
	require.NoError(t, err)
	var retired *tick.Tick
	for _, tk := range ticks {
		if tk.ID == stale.ID {
			retired = tk
		}
	}
	require.NotNil(t, retired)
	require.Equal(t, tick.StatusSkipped, retired.Status)
}

func TestSelectTickClonesRetryableFailure(t *testing.T) {
	db := testutil.CreateTestDB(t)
	st := store.NewSQLiteStore(db)
	sn := testSensor()
	ctx := context.Background()

	failed := tick.NewStarted(newID(), sn.SelectorID(), sn.Identity.SensorName, time.Now().Add(-time.Minute))
	failed.ReservedRunIDs = map[string]tick.RunRequest{"r1": {RunKey: "k1"}}
	failed.Status = tick.StatusFailure
	failed.FailureCount = 1
	_, err := st.CreateTick(ctx, failed)
	require.NoError(t, err)

	got, resumed, err := SelectTick(ctx, st, sn, nil, time.Now(), newID)
	require.NoError(t, err)
	require.False(t, resumed)
	require.NotEqual(t, failed.ID, got.ID)
	require.Equal(t, tick.StatusStarted, got.Status)
	require.Contains(t, got.ReservedRunIDs, "r1")
}

func TestSelectTickDoesNotCloneFailureBeyondRetryBudget(t *testing.T) {
	db := testutil.CreateTestDB(t)
	st := store.NewSQLiteStore(db)
	sn := testSensor()
	ctx := context.Background()

	failed := tick.NewStarted(newID(), sn.SelectorID(), sn.Identity.SensorName, time.Now().Add(-time.Minute))
	failed.ReservedRunIDs = map[string]tick.RunRequest{"r1": {RunKey: "k1"}}
	failed.Status = tick.StatusFailure
	failed.FailureCount = MaxFailureResubmissionRetries + 1
	_, err := st.CreateTick(ctx, failed)
	require.NoError(t, err)

	got, _, err := SelectTick(ctx, st, sn, nil, time.Now(), newID)
	require.NoError(t, err)
	require.Empty(t, got.ReservedRunIDs)
}

func TestSelectTickUsesFastPathWhenLastTickSucceeded(t *testing.T) {
	db := testutil.CreateTestDB(t)
	st := store.NewSQLiteStore(db)
	sn := testSensor()
	ctx := context.Background()

	// Even with a STARTED tick on record, a non-nil LastTickSuccessTimestamp
	// must skip the interrupted-tick lookup entirely.
	dangling := tick.NewStarted(newID(), sn.SelectorID(), sn.Identity.SensorName, time.Now().Add(-time.Minute))
	_, err := st.CreateTick(ctx, dangling)
	require.NoError(t, err)

	now := time.Now()
	got, resumed, err := SelectTick(ctx, st, sn, &sensor.Data{LastTickSuccessTimestamp: &now}, now, newID)
	require.NoError(t, err)
	require.False(t, resumed)
	require.NotEqual(t, dangling.ID, got.ID)
}
