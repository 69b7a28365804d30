package daemon

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sensorloop/sensorcore/internal/testutil"
	"github.com/sensorloop/sensorcore/sensor"
	"github.com/sensorloop/sensorcore/store"
	"github.com/sensorloop/sensorcore/tick"
)

func openTestLaunchContext(t *testing.T, st store.Store, sn sensor.Sensor) *LaunchContext {
	t.Helper()
	tk := tick.NewStarted(newID(), sn.SelectorID(), sn.Identity.SensorName, time.Now())
	lc, err := Open(context.Background(), st, tk, sn.Definition, false, nil, nil)
	require.NoError(t, err)
	return lc
}

func TestReserveRequestsAssignsOneIDPerRequest(t *testing.T) {
	reqs := []tick.RunRequest{{RunKey: "a"}, {RunKey: "b"}}
	reserved := ReserveRequests(newID, reqs)
	assert.Len(t, reserved, 2)
}

func TestSubmitLaunchesPlainRunRequest(t *testing.T) {
	db := testutil.CreateTestDB(t)
	st := store.NewSQLiteStore(db)
	sn := testSensor()
	ctx := context.Background()

	lc := openTestLaunchContext(t, st, sn)
	reserved := ReserveRequests(newID, []tick.RunRequest{{RunKey: "k1"}})
	require.NoError(t, lc.SetRunRequests(reserved, "cursor-1"))

	summary, err := Submit(ctx, lc, st, sn, nil, nil, nil, nil)
	require.NoError(t, err)
	assert.Len(t, summary.Submitted, 1)
	assert.Empty(t, summary.SkippedKeys)
	assert.Len(t, lc.Tick().RunIDs, 1)
}

func TestSubmitSkipsCollidingRunKey(t *testing.T) {
	db := testutil.CreateTestDB(t)
	st := store.NewSQLiteStore(db)
	sn := testSensor()
	ctx := context.Background()

	existing := &store.Run{
		ID:        newID(),
		RunKey:    "k1",
		Status:    store.RunStatusStarted,
		Tags:      map[string]string{tick.RunKeyTag: "k1", tick.SensorNameTag: sn.Identity.SensorName},
		CreatedAt: time.Now(),
	}
	_, err := st.CreateRun(ctx, existing)
	require.NoError(t, err)

	lc := openTestLaunchContext(t, st, sn)
	reserved := ReserveRequests(newID, []tick.RunRequest{{RunKey: "k1"}})
	require.NoError(t, lc.SetRunRequests(reserved, "cursor-1"))

	summary, err := Submit(ctx, lc, st, sn, nil, nil, nil, nil)
	require.NoError(t, err)
	assert.Empty(t, summary.Submitted)
	assert.Equal(t, []string{"k1"}, summary.SkippedKeys)
}

func TestSubmitTagsRunSoALaterCollidingSubmitIsSuppressed(t *testing.T) {
	db := testutil.CreateTestDB(t)
	st := store.NewSQLiteStore(db)
	sn := testSensor()
	ctx := context.Background()

	firstTick := openTestLaunchContext(t, st, sn)
	reserved := ReserveRequests(newID, []tick.RunRequest{{RunKey: "k1"}})
	require.NoError(t, firstTick.SetRunRequests(reserved, "cursor-1"))
	summary, err := Submit(ctx, firstTick, st, sn, nil, nil, nil, nil)
	require.NoError(t, err)
	require.Len(t, summary.Submitted, 1)

	secondTick := openTestLaunchContext(t, st, sn)
	reserved2 := ReserveRequests(newID, []tick.RunRequest{{RunKey: "k1"}})
	require.NoError(t, secondTick.SetRunRequests(reserved2, "cursor-2"))
	summary2, err := Submit(ctx, secondTick, st, sn, nil, nil, nil, nil)
	require.NoError(t, err)
	assert.Empty(t, summary2.Submitted)
	assert.Equal(t, []string{"k1"}, summary2.SkippedKeys)
}

func TestSubmitCreatesBackfillForAssetGraphSubset(t *testing.T) {
	db := testutil.CreateTestDB(t)
	st := store.NewSQLiteStore(db)
	sn := testSensor()
	ctx := context.Background()

	lc := openTestLaunchContext(t, st, sn)
	reserved := ReserveRequests(newID, []tick.RunRequest{{AssetGraphSubset: []byte(`{"a":1}`)}})
	require.NoError(t, lc.SetRunRequests(reserved, "cursor-1"))

	summary, err := Submit(ctx, lc, st, sn, nil, nil, nil, nil)
	require.NoError(t, err)
	assert.Len(t, summary.Submitted, 1)
}

func TestSubmitNoOpWhenNoUnsubmittedReservations(t *testing.T) {
	db := testutil.CreateTestDB(t)
	st := store.NewSQLiteStore(db)
	sn := testSensor()
	ctx := context.Background()

	lc := openTestLaunchContext(t, st, sn)
	summary, err := Submit(ctx, lc, st, sn, nil, nil, nil, nil)
	require.NoError(t, err)
	assert.Empty(t, summary.Submitted)
	assert.Empty(t, summary.SkippedKeys)
}
