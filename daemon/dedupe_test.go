package daemon

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sensorloop/sensorcore/internal/testutil"
	"github.com/sensorloop/sensorcore/store"
	"github.com/sensorloop/sensorcore/tick"
)

func TestCollidingRunsNoCollision(t *testing.T) {
	db := testutil.CreateTestDB(t)
	st := store.NewSQLiteStore(db)
	sn := testSensor()

	got, err := CollidingRuns(context.Background(), st, sn, []string{"k1"})
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestCollidingRunsMatchesBySensorNameWithEmptyOrigin(t *testing.T) {
	db := testutil.CreateTestDB(t)
	st := store.NewSQLiteStore(db)
	sn := testSensor()
	ctx := context.Background()

	run := &store.Run{
		ID:        newID(),
		RunKey:    "k1",
		Status:    store.RunStatusNotStarted,
		Tags:      map[string]string{tick.RunKeyTag: "k1", tick.SensorNameTag: sn.Identity.SensorName},
		CreatedAt: time.Now(),
	}
	_, err := st.CreateRun(ctx, run)
	require.NoError(t, err)

	got, err := CollidingRuns(ctx, st, sn, []string{"k1"})
	require.NoError(t, err)
	require.Contains(t, got, "k1")
	assert.Equal(t, run.ID, got["k1"].ID)
}

func TestCollidingRunsMatchesByOriginSelectorID(t *testing.T) {
	db := testutil.CreateTestDB(t)
	st := store.NewSQLiteStore(db)
	sn := testSensor()
	ctx := context.Background()

	run := &store.Run{
		ID:               newID(),
		SelectorID:       sn.SelectorID(),
		RunKey:           "k1",
		OriginSelectorID: sn.SelectorID(),
		Status:           store.RunStatusNotStarted,
		Tags:             map[string]string{tick.RunKeyTag: "k1", tick.SensorNameTag: sn.Identity.SensorName},
		CreatedAt:        time.Now(),
	}
	_, err := st.CreateRun(ctx, run)
	require.NoError(t, err)

	got, err := CollidingRuns(ctx, st, sn, []string{"k1"})
	require.NoError(t, err)
	require.Contains(t, got, "k1")
}

func TestCollidingRunsRejectsMismatchedOrigin(t *testing.T) {
	db := testutil.CreateTestDB(t)
	st := store.NewSQLiteStore(db)
	sn := testSensor()
	ctx := context.Background()

	run := &store.Run{
		ID:               newID(),
		SelectorID:       "some-other-selector",
		RunKey:           "k1",
		OriginSelectorID: "some-other-selector",
		Status:           store.RunStatusNotStarted,
		Tags:             map[string]string{tick.RunKeyTag: "k1", tick.SensorNameTag: sn.Identity.SensorName},
		CreatedAt:        time.Now(),
	}
	_, err := st.CreateRun(ctx, run)
	require.NoError(t, err)

	got, err := CollidingRuns(ctx, st, sn, []string{"k1"})
	require.NoError(t, err)
	assert.NotContains(t, got, "k1")
}

func TestGetOrCreateRunCreatesWhenNoCollision(t *testing.T) {
	created := &store.Run{ID: "new-run"}
	run, alreadyLaunched, err := GetOrCreateRun(context.Background(), nil, nil, func() (*store.Run, error) {
		return created, nil
	})
	require.NoError(t, err)
	assert.False(t, alreadyLaunched)
	assert.Equal(t, created, run)
}

func TestGetOrCreateRunRetriesNotStarted(t *testing.T) {
	existing := &store.Run{ID: "r1", Status: store.RunStatusNotStarted}
	run, alreadyLaunched, err := GetOrCreateRun(context.Background(), nil, existing, func() (*store.Run, error) {
		panic("create should not be called when a colliding run exists")
	})
	require.NoError(t, err)
	assert.False(t, alreadyLaunched)
	assert.Equal(t, existing, run)
}

func TestGetOrCreateRunSkipsAlreadyLaunched(t *testing.T) {
	existing := &store.Run{ID: "r1", Status: store.RunStatusStarted}
	run, alreadyLaunched, err := GetOrCreateRun(context.Background(), nil, existing, func() (*store.Run, error) {
		panic("create should not be called when a colliding run exists")
	})
	require.NoError(t, err)
	assert.True(t, alreadyLaunched)
	assert.Equal(t, existing, run)
}
