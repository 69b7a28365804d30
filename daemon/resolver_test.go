package daemon

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sensorloop/sensorcore/tick"
)

type fakeStaleResolver struct {
	stale []string
	err   error
}

func (f *fakeStaleResolver) GetStaleAssetKeys(ctx context.Context, selection []string) ([]string, error) {
	return f.stale, f.err
}

func TestResolveRequestInjectsTickIDTag(t *testing.T) {
	req := tick.RunRequest{RunKey: "k1"}
	resolved, err := ResolveRequest(context.Background(), nil, "my_sensor", "tick-1", req)
	require.NoError(t, err)
	require.NotNil(t, resolved)
	assert.Equal(t, "tick-1", resolved.Tags[tick.TickIDTag])
}

func TestResolveRequestInjectsSensorNameAndRunKeyTags(t *testing.T) {
	req := tick.RunRequest{RunKey: "k1"}
	resolved, err := ResolveRequest(context.Background(), nil, "my_sensor", "tick-1", req)
	require.NoError(t, err)
	require.NotNil(t, resolved)
	assert.Equal(t, "my_sensor", resolved.Tags[tick.SensorNameTag])
	assert.Equal(t, "k1", resolved.Tags[tick.RunKeyTag])
}

func TestResolveRequestOmitsRunKeyTagWhenNoRunKey(t *testing.T) {
	req := tick.RunRequest{}
	resolved, err := ResolveRequest(context.Background(), nil, "my_sensor", "tick-1", req)
	require.NoError(t, err)
	require.NotNil(t, resolved)
	_, hasRunKeyTag := resolved.Tags[tick.RunKeyTag]
	assert.False(t, hasRunKeyTag)
}

func TestResolveRequestDropsWhenNothingStale(t *testing.T) {
	req := tick.RunRequest{AssetSelection: []string{"a", "b"}, StaleAssetsOnly: true}
	resolver := &fakeStaleResolver{stale: nil}
	resolved, err := ResolveRequest(context.Background(), resolver, "my_sensor", "tick-1", req)
	require.NoError(t, err)
	assert.Nil(t, resolved)
}

func TestResolveRequestNarrowsToStaleSubset(t *testing.T) {
	req := tick.RunRequest{AssetSelection: []string{"a", "b", "c"}, StaleAssetsOnly: true}
	resolver := &fakeStaleResolver{stale: []string{"b"}}
	resolved, err := ResolveRequest(context.Background(), resolver, "my_sensor", "tick-1", req)
	require.NoError(t, err)
	require.NotNil(t, resolved)
	assert.Equal(t, []string{"b"}, resolved.AssetSelection)
	assert.False(t, resolved.StaleAssetsOnly)
}
