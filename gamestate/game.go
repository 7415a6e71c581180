// Package gamestate is the coordinator every other package talks to: it
// wraps a raft.Node, folds committed commands through event.Apply under a
// single writer lock, and indexes the result in go-memdb tables for
// O(log n) reads instead of the event package's plain map scans. Apply
// still replaces Players/Nodes/Metrics as one atomic memdb transaction per
// committed entry, so two agents replaying the same committed prefix
// still index identical state.
package gamestate

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/hashicorp/go-memdb"
	"github.com/kartikbazzad/hexwar/event"
	"github.com/kartikbazzad/hexwar/hex"
	"github.com/kartikbazzad/hexwar/pkg/apperr"
	"github.com/kartikbazzad/hexwar/pkg/logger"
	"github.com/kartikbazzad/hexwar/raft"
	"github.com/kartikbazzad/hexwar/wire"
)

// AppliedEvent pairs one committed event with its log index.
type AppliedEvent struct {
	Index uint64
	Event event.Event
}

// Game is the coordinator wrapping one raft.Node for one running game.
type Game struct {
	node *raft.Node
	rpc  raft.RPCClient
	db   *memdb.MemDB

	mu    sync.RWMutex
	state event.State

	log *slog.Logger
}

// fsm adapts Game to raft.StateMachine: every committed, non-membership
// log entry is an event.Event to fold and index.
type fsm struct{ g *Game }

func (f fsm) Apply(cmd []byte) {
	if len(cmd) == 0 {
		return
	}
	ev, err := event.Unmarshal(cmd)
	if err != nil {
		apperr.DeterminismViolation("unparseable committed entry", err)
	}
	f.g.applyLocked(ev)
}

// NewGame constructs a Game and its backing raft.Node. cfg and rpc are
// passed straight to raft.NewNode; the returned Game owns the node's
// entire lifecycle (Start/Stop).
func NewGame(cfg *raft.Config, rpc raft.RPCClient) *Game {
	g := &Game{
		rpc:   rpc,
		db:    newMemDB(),
		state: event.NewState(),
		log:   logger.Named("gamestate"),
	}
	g.node = raft.NewNode(cfg, rpc, fsm{g: g})
	return g
}

func (g *Game) Start() { g.node.Start() }
func (g *Game) Stop()  { g.node.Stop() }

// Node exposes the underlying raft.Node, e.g. so cmd/hexwar-agent can
// register it with the RPC transport listener.
func (g *Game) Node() *raft.Node { return g.node }

func (g *Game) IsLeader() bool             { return g.node.IsLeader() }
func (g *Game) LeaderHint() (string, bool) { return g.node.LeaderHint() }
func (g *Game) CurrentTerm() uint64        { return g.node.CurrentTerm() }
func (g *Game) AppliedIndex() uint64       { return g.node.AppliedIndex() }
func (g *Game) CommitIndex() uint64        { return g.node.CommitIndex() }

// AddLearner and PromoteToVoter pass through to the underlying raft.Node's
// membership handshake; see provision.JoinCluster for the full
// admit-a-spawned-agent sequence that calls these.
func (g *Game) AddLearner(ctx context.Context, addr string) error {
	return g.node.AddLearner(ctx, addr)
}

func (g *Game) PromoteToVoter(ctx context.Context, addr string) error {
	return g.node.PromoteToVoter(ctx, addr)
}

// MatchIndex reports how far addr has replicated, per raft.Node.MatchIndex.
func (g *Game) MatchIndex(addr string) (uint64, bool) {
	return g.node.MatchIndex(addr)
}

// Append submits ev to the replicated log and blocks until it commits.
func (g *Game) Append(ctx context.Context, ev event.Event) (uint64, error) {
	cmd, err := ev.Marshal()
	if err != nil {
		return 0, err
	}
	return g.node.Append(ctx, cmd)
}

// AppendForward submits ev to the replicated log from any agent: a leader
// appends locally, a follower forwards the command to its current leader
// hint over the raft transport, chasing at most a few stale hints before
// giving up. This is the submission path for events that originate on
// every node regardless of role (MetricsReport above all); the HTTP
// command surface deliberately does NOT use it, so non-leader commands
// keep failing fast with a hint and the caller redirects.
func (g *Game) AppendForward(ctx context.Context, ev event.Event) (uint64, error) {
	cmd, err := ev.Marshal()
	if err != nil {
		return 0, err
	}

	const maxHops = 3
	var lastErr error
	for hop := 0; hop < maxHops; hop++ {
		if err := ctx.Err(); err != nil {
			return 0, err
		}

		idx, err := g.node.Append(ctx, cmd)
		if err == nil {
			return idx, nil
		}
		if err != raft.ErrNotLeader {
			return 0, err
		}

		hint, ok := g.node.LeaderHint()
		if !ok || hint == g.node.ID() {
			return 0, raft.ErrNotLeader
		}
		reply, err := g.rpc.SendProposal(hint, wire.ProposalRequest{Command: cmd})
		if err != nil {
			lastErr = err
			continue
		}
		switch {
		case reply.Error != "":
			lastErr = errors.New(reply.Error)
		case reply.NotLeader:
			// Stale hint; the next hop re-reads whatever hint the
			// reply (via heartbeats) has refreshed by then.
			lastErr = raft.ErrNotLeader
		default:
			return reply.Index, nil
		}
	}
	if lastErr == nil {
		lastErr = raft.ErrNotLeader
	}
	return 0, lastErr
}

// SubscribeApplied returns a channel of every committed application event
// (membership entries are filtered out; they never reach the state
// machine and have no event.Event form) from the point of subscription
// forward, in commit order, exactly once per subscriber.
func (g *Game) SubscribeApplied() (<-chan AppliedEvent, func()) {
	raw := g.node.Subscribe()
	out := make(chan AppliedEvent, 64)

	go func() {
		defer close(out)
		for v := range raw {
			applied, ok := v.(raft.Applied)
			if !ok || len(applied.Command) == 0 {
				continue
			}
			ev, err := event.Unmarshal(applied.Command)
			if err != nil {
				continue
			}
			select {
			case out <- AppliedEvent{Index: applied.Index, Event: ev}:
			case <-time.After(time.Second):
				// Slow subscriber; drop rather than block commit fan-out.
			}
		}
	}()

	cancel := func() { g.node.Unsubscribe(raw) }
	return out, cancel
}

func (g *Game) applyLocked(ev event.Event) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.state = event.Apply(g.state, ev)
	g.reindexLocked()
}

// reindexLocked replaces every row of every memdb table with the current
// g.state's contents in a single transaction, matching event.Apply's own
// whole-state-replacement semantics at the indexed-read layer.
func (g *Game) reindexLocked() {
	txn := g.db.Txn(true)

	for _, table := range []string{"players", "nodes", "metrics"} {
		if _, err := txn.DeleteAll(table, "id"); err != nil {
			txn.Abort()
			g.log.Error("reindex: delete failed", "table", table, "error", err)
			return
		}
	}

	for id, p := range g.state.Players {
		if err := txn.Insert("players", playerRow{ID: playerKey(id), Player: p}); err != nil {
			txn.Abort()
			return
		}
	}
	for coord, n := range g.state.Nodes {
		if err := txn.Insert("nodes", nodeRow{Coord: coordKey(coord), Node: n}); err != nil {
			txn.Abort()
			return
		}
	}
	for coord, m := range g.state.Metrics {
		if err := txn.Insert("metrics", metricsRow{Coord: coordKey(coord), Metrics: m}); err != nil {
			txn.Abort()
			return
		}
	}

	txn.Commit()
}

// Snapshot returns a read-only copy of the current folded state, good for
// one consistent read per tick: a reader never observes a partially
// applied event. It does not go through memdb; callers needing indexed
// point lookups should use GetNode/GetPlayer instead.
func (g *Game) Snapshot() event.State {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.state
}

// GetNode looks up one node by coordinate via the memdb index.
func (g *Game) GetNode(coord hex.Coord) (event.Node, bool) {
	txn := g.db.Txn(false)
	defer txn.Abort()
	raw, err := txn.First("nodes", "id", coordKey(coord))
	if err != nil || raw == nil {
		return event.Node{}, false
	}
	return raw.(nodeRow).Node, true
}

// GetPlayer looks up one player by ID via the memdb index.
func (g *Game) GetPlayer(id uint64) (event.Player, bool) {
	txn := g.db.Txn(false)
	defer txn.Abort()
	raw, err := txn.First("players", "id", playerKey(id))
	if err != nil || raw == nil {
		return event.Player{}, false
	}
	return raw.(playerRow).Player, true
}

// GetMetrics looks up the latest MetricsReport for coord via the memdb index.
func (g *Game) GetMetrics(coord hex.Coord) (event.Metrics, bool) {
	txn := g.db.Txn(false)
	defer txn.Abort()
	raw, err := txn.First("metrics", "id", coordKey(coord))
	if err != nil || raw == nil {
		return event.Metrics{}, false
	}
	return raw.(metricsRow).Metrics, true
}

// ListNodes returns every known node via a full memdb table scan.
func (g *Game) ListNodes() []event.Node {
	txn := g.db.Txn(false)
	defer txn.Abort()
	it, err := txn.Get("nodes", "id")
	if err != nil {
		return nil
	}
	var out []event.Node
	for raw := it.Next(); raw != nil; raw = it.Next() {
		out = append(out, raw.(nodeRow).Node)
	}
	return out
}

// ListPlayers returns every known player via a full memdb table scan.
func (g *Game) ListPlayers() []event.Player {
	txn := g.db.Txn(false)
	defer txn.Abort()
	it, err := txn.Get("players", "id")
	if err != nil {
		return nil
	}
	var out []event.Player
	for raw := it.Next(); raw != nil; raw = it.Next() {
		out = append(out, raw.(playerRow).Player)
	}
	return out
}
