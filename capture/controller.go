package capture

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/kartikbazzad/hexwar/event"
	"github.com/kartikbazzad/hexwar/gamestate"
	"github.com/kartikbazzad/hexwar/hex"
	"github.com/kartikbazzad/hexwar/pkg/logger"
	"github.com/panjf2000/ants/v2"
)

// OverloadDuration is the sustained-overload window before capture.
const OverloadDuration = 5 * time.Second

const tickPeriod = 1 * time.Second

// Controller is the leader-only periodic task that appends NodeCaptured
// (and, when it ends the game, GameOver) events.
type Controller struct {
	game      *gamestate.Game
	tracker   *episodeTracker
	predicate *overloadPredicate
	pool      *ants.Pool
	log       *slog.Logger

	wasLeader bool
}

// NewController constructs a Controller bound to game. poolSize bounds
// how many targets are evaluated concurrently in one tick.
func NewController(game *gamestate.Game, poolSize int) (*Controller, error) {
	predicate, err := newOverloadPredicate()
	if err != nil {
		return nil, err
	}
	pool, err := ants.NewPool(poolSize)
	if err != nil {
		return nil, err
	}
	return &Controller{
		game:      game,
		tracker:   newEpisodeTracker(),
		predicate: predicate,
		pool:      pool,
		log:       logger.Named("capture.controller"),
	}, nil
}

// Close releases the controller's goroutine pool.
func (c *Controller) Close() { c.pool.Release() }

// Run subscribes to applied events (to feed the episode tracker) and
// ticks the capture evaluation once per second until ctx is done.
func (c *Controller) Run(ctx context.Context) {
	sub, cancel := c.game.SubscribeApplied()
	defer cancel()

	ticker := time.NewTicker(tickPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case applied, ok := <-sub:
			if !ok {
				return
			}
			c.tracker.observe(applied.Event, time.Now())
		case now := <-ticker.C:
			c.tick(ctx, now)
		}
	}
}

// captureDecision names the winning attacker for one overloaded target.
type captureDecision struct {
	target   hex.Coord
	attacker hex.Coord
	ownerID  uint64
}

func (c *Controller) tick(ctx context.Context, now time.Time) {
	if !c.game.IsLeader() {
		c.wasLeader = false
		return
	}
	if !c.wasLeader {
		// Just took over leadership: OverloadTracker is non-replicated,
		// so start clean.
		c.tracker.reset()
		c.wasLeader = true
	}

	state := c.game.Snapshot()

	attackersByTarget := make(map[hex.Coord][]hex.Coord)
	for coord, node := range state.Nodes {
		if node.Target.Kind != event.TargetHex {
			continue
		}
		target := node.Target.Hex
		targetNode, ok := state.Nodes[target]
		if !ok || !targetNode.Ready {
			// Placeholders mid-provisioning cannot be captured; they
			// have no agent to lose packets.
			continue
		}
		if targetNode.OwnerID != 0 && targetNode.OwnerID == node.OwnerID {
			continue
		}
		attackersByTarget[target] = append(attackersByTarget[target], coord)
	}

	var mu sync.Mutex
	var decisions []captureDecision
	var wg sync.WaitGroup

	for target, attackers := range attackersByTarget {
		target, attackers := target, attackers
		wg.Add(1)
		err := c.pool.Submit(func() {
			defer wg.Done()
			if d, capture := c.evaluateTarget(state, target, attackers, now); capture {
				mu.Lock()
				decisions = append(decisions, d)
				mu.Unlock()
			}
		})
		if err != nil {
			wg.Done()
			if d, capture := c.evaluateTarget(state, target, attackers, now); capture {
				decisions = append(decisions, d)
			}
		}
	}
	wg.Wait()

	if len(decisions) == 0 {
		return
	}

	// Deterministic append order across a tick with multiple simultaneous
	// captures: lexicographic by target coordinate.
	sort.Slice(decisions, func(i, j int) bool {
		return hex.Less(decisions[i].target, decisions[j].target)
	})

	for _, d := range decisions {
		c.appendCapture(ctx, d)
	}
}

// evaluateTarget runs one target's capture decision: threshold
// comparison, timer bookkeeping, and (once the timer clears
// OverloadDuration) the tie-break selection of a winning attacker.
func (c *Controller) evaluateTarget(state event.State, target hex.Coord, attackers []hex.Coord, now time.Time) (captureDecision, bool) {
	metrics, ok := state.Metrics[target]
	if !ok {
		c.tracker.clearOverload(target)
		return captureDecision{}, false
	}

	if !c.predicate.Overloaded(metrics.PacketLoss, OverloadThreshold) {
		c.tracker.clearOverload(target)
		return captureDecision{}, false
	}

	elapsed := c.tracker.markOverloaded(target, now)
	if elapsed < OverloadDuration {
		return captureDecision{}, false
	}

	winner, ok := c.pickWinner(attackers)
	if !ok {
		return captureDecision{}, false
	}
	attackerNode := state.Nodes[winner]

	episodeID := uuid.New().String()
	c.log.Info("capture decided", "target", target.String(), "attacker", winner.String(), "episode", episodeID)

	c.tracker.clearOverload(target)
	return captureDecision{target: target, attacker: winner, ownerID: attackerNode.OwnerID}, true
}

// pickWinner selects the earliest SetNodeTarget timestamp for the
// current episode, ties broken by smallest coordinate.
func (c *Controller) pickWinner(attackers []hex.Coord) (hex.Coord, bool) {
	if len(attackers) == 0 {
		return hex.Coord{}, false
	}
	best := attackers[0]
	bestStart := c.tracker.episodeStart(best)
	for _, a := range attackers[1:] {
		start := c.tracker.episodeStart(a)
		switch {
		case start.Before(bestStart):
			best, bestStart = a, start
		case start.Equal(bestStart) && hex.Less(a, best):
			best = a
		}
	}
	return best, true
}

func (c *Controller) appendCapture(ctx context.Context, d captureDecision) {
	appendCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	ev := event.NodeCaptured(d.target, d.ownerID, time.Now().UnixMicro())
	if _, err := c.game.Append(appendCtx, ev); err != nil {
		c.log.Warn("failed to append NodeCaptured", "target", d.target.String(), "error", err)
		return
	}

	c.maybeDeclareGameOver(ctx)
}

// maybeDeclareGameOver checks alive-player count after a capture and, if
// at most one player remains, appends GameOver.
func (c *Controller) maybeDeclareGameOver(ctx context.Context) {
	state := c.game.Snapshot()
	if state.GameOver {
		return
	}
	alive := state.AlivePlayerCount()
	if alive > 1 {
		return
	}

	var winner *uint64
	for _, p := range state.Players {
		if p.Alive {
			id := p.PlayerID
			winner = &id
			break
		}
	}

	appendCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	ev := event.GameOver(winner, time.Now().UnixMicro())
	if _, err := c.game.Append(appendCtx, ev); err != nil {
		c.log.Warn("failed to append GameOver", "error", err)
	}
}
