package provision

import (
	"context"
	"fmt"
	"time"

	"github.com/kartikbazzad/hexwar/gamestate"
)

// catchUpPollInterval is how often JoinCluster re-checks a learner's
// replication progress before promoting it to a voter.
const catchUpPollInterval = 100 * time.Millisecond

// JoinCluster admits a freshly spawned agent's raft address to the shared
// replicated log through the learner-then-voter handshake: it adds
// raftAddr as a learner on the local (leader) node, waits until it has
// replicated up to the current commit point, then promotes it to a voter.
// Callers (provision.Bridge and agentapi.Server) only invoke this while
// game.IsLeader() holds, since AddLearner/PromoteToVoter are leader-only.
func JoinCluster(ctx context.Context, game *gamestate.Game, raftAddr string) error {
	if err := game.AddLearner(ctx, raftAddr); err != nil {
		return fmt.Errorf("provision: add learner %s: %w", raftAddr, err)
	}

	if err := waitCaughtUp(ctx, game, raftAddr); err != nil {
		return fmt.Errorf("provision: wait for %s to catch up: %w", raftAddr, err)
	}

	if err := game.PromoteToVoter(ctx, raftAddr); err != nil {
		return fmt.Errorf("provision: promote %s to voter: %w", raftAddr, err)
	}
	return nil
}

// waitCaughtUp polls until raftAddr's replicated index reaches the commit
// index observed at call time, or ctx is done.
func waitCaughtUp(ctx context.Context, game *gamestate.Game, raftAddr string) error {
	target := game.CommitIndex()

	ticker := time.NewTicker(catchUpPollInterval)
	defer ticker.Stop()

	for {
		if match, ok := game.MatchIndex(raftAddr); ok && match >= target {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
