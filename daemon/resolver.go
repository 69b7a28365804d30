package daemon

import (
	"context"

	"github.com/sensorloop/sensorcore/errors"
	"github.com/sensorloop/sensorcore/tick"
	"github.com/sensorloop/sensorcore/workspace"
)

// ResolveRequest is the Request Resolver. It injects the tick-id and
// sensor-name tags joining the run back to its tick and owning sensor (plus
// the run-key tag, if the request carries one), so the Duplicate
// Suppressor's later GetRunsByTag(RunKeyTag, ...) lookup can find it, and —
// if the request set stale_assets_only — consults the external
// stale-asset resolver, either dropping the request (nothing stale) or
// replacing its asset selection with the stale subset and clearing the
// flag.
//
// A nil return means the request was dropped.
func ResolveRequest(
	ctx context.Context,
	resolver workspace.StaleAssetResolver,
	sensorName string,
	tickID string,
	req tick.RunRequest,
) (*tick.RunRequest, error) {
	resolved := req
	if resolved.Tags == nil {
		resolved.Tags = map[string]string{}
	}
	resolved.Tags[tick.TickIDTag] = tickID
	resolved.Tags[tick.SensorNameTag] = sensorName
	if resolved.RunKey != "" {
		resolved.Tags[tick.RunKeyTag] = resolved.RunKey
	}

	if !resolved.StaleAssetsOnly {
		return &resolved, nil
	}

	if resolver == nil {
		return nil, errors.New("stale_assets_only request but no stale-asset resolver configured")
	}

	stale, err := resolver.GetStaleAssetKeys(ctx, resolved.AssetSelection)
	if err != nil {
		return nil, errors.Wrap(err, "failed to resolve stale asset keys")
	}
	if len(stale) == 0 {
		return nil, nil
	}

	resolved.AssetSelection = stale
	resolved.StaleAssetsOnly = false
	return &resolved, nil
}
