package daemon

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sensorloop/sensorcore/internal/testutil"
	"github.com/sensorloop/sensorcore/internal/workerpool"
	"github.com/sensorloop/sensorcore/sensor"
	"github.com/sensorloop/sensorcore/store"
	"github.com/sensorloop/sensorcore/tick"
	"github.com/sensorloop/sensorcore/workspace"
)

func TestRunOnceDeclaresStateForDefaultRunningSensor(t *testing.T) {
	db := testutil.CreateTestDB(t)
	st := store.NewSQLiteStore(db)
	ctx := context.Background()

	sn := testSensor()
	sn.Definition.DefaultStatus = sensor.StatusRunning
	require.NoError(t, st.UpsertSensor(ctx, sn))

	ws := &fakeWorkspaceContext{locations: map[string]workspace.CodeLocation{}}
	l := NewLoop(st, ws, nil, nil, nil, nil, nil)

	require.NoError(t, l.RunOnce(ctx, time.Now()))

	state, err := st.GetInstigatorState(ctx, sn.SelectorID())
	require.NoError(t, err)
	assert.Equal(t, sensor.StatusDeclaredInCode, state.Status)
}

func TestRunOnceSkipsSensorHandledByAssetDaemon(t *testing.T) {
	db := testutil.CreateTestDB(t)
	st := store.NewSQLiteStore(db)
	ctx := context.Background()

	sn := testSensor()
	sn.Definition.HandledByAssetDaemon = true
	require.NoError(t, st.UpsertSensor(ctx, sn))

	ws := &fakeWorkspaceContext{locations: map[string]workspace.CodeLocation{}}
	l := NewLoop(st, ws, nil, nil, nil, nil, nil)
	require.NoError(t, l.RunOnce(ctx, time.Now()))

	_, err := st.GetInstigatorState(ctx, sn.SelectorID())
	assert.Error(t, err)
}

func TestRunOnceDispatchesRunningSensor(t *testing.T) {
	db := testutil.CreateTestDB(t)
	st := store.NewSQLiteStore(db)
	ctx := context.Background()

	sn := testSensor()
	require.NoError(t, st.UpsertSensor(ctx, sn))
	require.NoError(t, st.AddInstigatorState(ctx, sensor.NewDeclaredState(sn.SelectorID(), sn.Definition)))
	state, err := st.GetInstigatorState(ctx, sn.SelectorID())
	require.NoError(t, err)
	state.Status = sensor.StatusRunning
	require.NoError(t, st.UpdateInstigatorState(ctx, state))

	loc := &fakeCodeLocation{runtime: &workspace.RuntimeData{SkipMessage: "nothing", Cursor: "c1"}}
	ws := &fakeWorkspaceContext{locations: map[string]workspace.CodeLocation{"loc": loc}}
	l := NewLoop(st, ws, nil, nil, nil, nil, nil)

	require.NoError(t, l.RunOnce(ctx, time.Now()))

	ticks, err := st.GetTicks(ctx, sn.SelectorID(), 10)
	require.NoError(t, err)
	require.Len(t, ticks, 1)
	assert.Equal(t, tick.StatusSkipped, ticks[0].Status)
}

func TestDispatchDropsSensorWithInFlightEvaluation(t *testing.T) {
	db := testutil.CreateTestDB(t)
	st := store.NewSQLiteStore(db)
	ctx := context.Background()
	sn := testSensor()

	pool := workerpool.New(1, nil)
	pool.Start(ctx)
	defer pool.Stop(time.Second)

	ws := &fakeWorkspaceContext{locations: map[string]workspace.CodeLocation{}}
	l := NewLoop(st, ws, nil, pool, nil, nil, nil)
	l.inFlight[sn.SelectorID()] = true

	l.dispatch(ctx, sn, time.Now())

	l.mu.Lock()
	defer l.mu.Unlock()
	assert.True(t, l.inFlight[sn.SelectorID()])
}
