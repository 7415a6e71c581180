package provision

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/kartikbazzad/hexwar/event"
	"github.com/kartikbazzad/hexwar/gamestate"
	"github.com/kartikbazzad/hexwar/hex"
	"github.com/kartikbazzad/hexwar/pkg/logger"
)

const (
	spawnRetries       = 3
	spawnRetryDelay    = 500 * time.Millisecond
	spawnAttemptTO     = 5 * time.Second
	appendTimeout      = 2 * time.Second
	joinClusterTimeout = 10 * time.Second
)

// Bridge is the leader-only lazy-provisioning bridge: it watches the
// applied-event stream for SetNodeTarget commands naming a hex with no
// existing Node, and turns each one into a NodeInitStarted / spawn /
// NodeInitComplete sequence.
type Bridge struct {
	game    *gamestate.Game
	spawner TaskSpawner
	gameID  string
	log     *slog.Logger

	mu         sync.Mutex
	inFlight   map[hex.Coord]bool
	stoppedAll bool
}

func NewBridge(game *gamestate.Game, spawner TaskSpawner, gameID string) *Bridge {
	return &Bridge{
		game:     game,
		spawner:  spawner,
		gameID:   gameID,
		log:      logger.Named("provision.bridge"),
		inFlight: make(map[hex.Coord]bool),
	}
}

// Run subscribes to applied events until ctx is done, triggering
// provisioning for targets that need it.
func (b *Bridge) Run(ctx context.Context) {
	sub, cancel := b.game.SubscribeApplied()
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			return
		case applied, ok := <-sub:
			if !ok {
				return
			}
			b.onApplied(ctx, applied.Event)
		}
	}
}

func (b *Bridge) onApplied(ctx context.Context, ev event.Event) {
	if ev.Kind == event.KindGameOver {
		b.onGameOver(ctx)
		return
	}
	if ev.Kind != event.KindSetNodeTarget {
		return
	}
	if ev.Target == nil || ev.Target.Kind != event.TargetHex {
		return
	}
	target := ev.Target.Hex

	if !b.game.IsLeader() {
		return
	}
	state := b.game.Snapshot()
	if _, exists := state.Nodes[target]; exists {
		return
	}
	attacker, ok := state.Nodes[ev.NodeCoord]
	if !ok {
		return
	}

	b.mu.Lock()
	if b.inFlight[target] {
		b.mu.Unlock()
		return
	}
	b.inFlight[target] = true
	b.mu.Unlock()

	go b.provision(ctx, target, attacker.OwnerID, ev.NodeCoord)
}

// provision drives one target hex through its materialisation sequence:
// NodeInitStarted, a bounded-retry Spawn call, then NodeInitComplete. A
// permanent spawn failure compensates by resetting the triggering
// attacker's target back to None and surfacing the error in the log
// (there is no player-facing error channel at this layer; agentapi
// reports the outcome back to the owning client via /state polling).
func (b *Bridge) provision(ctx context.Context, target hex.Coord, attackerOwnerID uint64, attackerCoord hex.Coord) {
	defer func() {
		b.mu.Lock()
		delete(b.inFlight, target)
		b.mu.Unlock()
	}()

	startCtx, cancel := context.WithTimeout(ctx, appendTimeout)
	_, err := b.game.Append(startCtx, event.NodeInitStarted(target, attackerOwnerID, time.Now().UnixMicro()))
	cancel()
	if err != nil {
		b.log.Warn("failed to append NodeInitStarted", "target", target.String(), "error", err)
		return
	}

	endpoint, raftAddr, err := b.spawnWithRetry(ctx, target)
	if err != nil {
		b.log.Error("permanent spawn failure, compensating", "target", target.String(), "error", err)
		b.compensate(ctx, attackerCoord)
		return
	}

	if raftAddr != "" {
		joinCtx, joinCancel := context.WithTimeout(ctx, joinClusterTimeout)
		err = JoinCluster(joinCtx, b.game, raftAddr)
		joinCancel()
		if err != nil {
			b.log.Error("permanent raft join failure, compensating", "target", target.String(), "raft_addr", raftAddr, "error", err)
			b.compensate(ctx, attackerCoord)
			return
		}
	}

	completeCtx, cancel := context.WithTimeout(ctx, appendTimeout)
	defer cancel()
	if _, err := b.game.Append(completeCtx, event.NodeInitComplete(target, endpoint, time.Now().UnixMicro())); err != nil {
		b.log.Warn("failed to append NodeInitComplete", "target", target.String(), "error", err)
	}
}

// onGameOver asks the external spawner to tear down every agent of this
// game. Leader-only and once per process; a leader change mid-teardown
// means the new leader repeats the call, which the spawner treats as
// idempotent.
func (b *Bridge) onGameOver(ctx context.Context) {
	if !b.game.IsLeader() {
		return
	}
	b.mu.Lock()
	if b.stoppedAll {
		b.mu.Unlock()
		return
	}
	b.stoppedAll = true
	b.mu.Unlock()

	stopCtx, cancel := context.WithTimeout(ctx, spawnAttemptTO)
	defer cancel()
	if err := b.spawner.StopAll(stopCtx, b.gameID); err != nil {
		b.log.Warn("stop-all after game over failed", "game_id", b.gameID, "error", err)
		return
	}
	b.log.Info("game over, all agents stopped", "game_id", b.gameID)
}

func (b *Bridge) spawnWithRetry(ctx context.Context, target hex.Coord) (string, string, error) {
	var lastErr error
	for attempt := 0; attempt < spawnRetries; attempt++ {
		attemptCtx, cancel := context.WithTimeout(ctx, spawnAttemptTO)
		endpoint, raftAddr, err := b.spawner.Spawn(attemptCtx, KindRegular, b.gameID, 0, &CoordHint{Q: target.Q, R: target.R})
		cancel()
		if err == nil {
			return endpoint, raftAddr, nil
		}
		lastErr = err
		b.log.Warn("spawn attempt failed", "target", target.String(), "attempt", attempt+1, "error", err)

		select {
		case <-ctx.Done():
			return "", "", ctx.Err()
		case <-time.After(spawnRetryDelay):
		}
	}
	return "", "", lastErr
}

func (b *Bridge) compensate(ctx context.Context, attackerCoord hex.Coord) {
	compCtx, cancel := context.WithTimeout(ctx, appendTimeout)
	defer cancel()
	ev := event.SetNodeTarget(attackerCoord, event.NoTarget, time.Now().UnixMicro())
	if _, err := b.game.Append(compCtx, ev); err != nil {
		b.log.Error("failed to append compensating SetNodeTarget(None)", "attacker", attackerCoord.String(), "error", err)
	}
}
