package daemon

import (
	"context"
	"time"

	"github.com/sensorloop/sensorcore/store"
	"github.com/sensorloop/sensorcore/tick"
)

// HandleRunReactions is the Run Reaction Handler. Every reaction reports an
// engine event against the run it reacted to, in order; a single tick has
// exactly one terminal status and one origin_run_id to assign, so only the
// last reaction processed decides them — it finalizes the tick as FAILURE
// with the cursor-on-failure opt-in set (a reaction's side effects must not
// be repeated on retry) if it carried an error, or as SUCCESS with
// origin_run_id set to its run otherwise. Earlier reactions in the same
// tick are reported but otherwise overwritten, mirroring a sequential
// state update rather than an aggregate across all of them.
func HandleRunReactions(ctx context.Context, lc *LaunchContext, st store.Store, reactions []tick.RunReaction, cursor string) error {
	if len(reactions) == 0 {
		return nil
	}

	now := time.Now()
	t := lc.Tick()

	var last tick.RunReaction
	for _, reaction := range reactions {
		if err := st.ReportEngineEvent(ctx, reaction.RunID, "acted on run status "+reaction.NewStatus+" of run "+reaction.RunID); err != nil {
			return err
		}
		last = reaction
	}

	if last.Error != "" {
		lc.SetCursorAdvanceOnFailure()
		t.Cursor = cursor
		t.MarkFailure(last.Error, true, now)
		return nil
	}

	t.OriginRunID = last.RunID
	t.MarkSuccess(cursor, now)
	return nil
}
