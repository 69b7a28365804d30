// Package noopworkspace provides a workspace.Context with no code
// locations, used so cmd/sensord can start the daemon loop standalone.
// Resolving remote sensor user code over gRPC/wire protocols is out of
// scope here: a real deployment wires its own workspace.Context.
package noopworkspace

import (
	"context"

	"github.com/sensorloop/sensorcore/errors"
	"github.com/sensorloop/sensorcore/workspace"
)

// Context is an empty workspace: every code location lookup fails with
// workspace.ErrCodeLocationUnreachable, which the Launch Context classifies
// as a transient failure rather than a general evaluation error.
type Context struct{}

// New returns an empty workspace.Context.
func New() *Context {
	return &Context{}
}

func (c *Context) Snapshot(ctx context.Context) (*workspace.Snapshot, error) {
	return &workspace.Snapshot{Locations: map[string]workspace.CodeLocation{}}, nil
}

func (c *Context) GetCodeLocation(ctx context.Context, name string) (workspace.CodeLocation, error) {
	return nil, errors.Wrapf(workspace.ErrCodeLocationUnreachable, "no code location %q configured", name)
}
