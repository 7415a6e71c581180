package provision

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/kartikbazzad/hexwar/event"
	"github.com/kartikbazzad/hexwar/gamestate"
	"github.com/kartikbazzad/hexwar/hex"
	"github.com/kartikbazzad/hexwar/raft"
	"github.com/kartikbazzad/hexwar/wire"
)

type loopbackRPC struct {
	mu    sync.Mutex
	nodes map[string]*raft.Node
}

func newLoopbackRPC() *loopbackRPC { return &loopbackRPC{nodes: make(map[string]*raft.Node)} }

func (r *loopbackRPC) register(id string, n *raft.Node) {
	r.mu.Lock()
	r.nodes[id] = n
	r.mu.Unlock()
}

func (r *loopbackRPC) SendRequestVote(peer string, args wire.RequestVoteRequest) (wire.RequestVoteReply, error) {
	r.mu.Lock()
	n := r.nodes[peer]
	r.mu.Unlock()
	return n.HandleRequestVote(args), nil
}

func (r *loopbackRPC) SendAppendEntries(peer string, args wire.AppendEntriesRequest) (wire.AppendEntriesReply, error) {
	r.mu.Lock()
	n := r.nodes[peer]
	r.mu.Unlock()
	return n.HandleAppendEntries(args), nil
}

func (r *loopbackRPC) SendProposal(peer string, args wire.ProposalRequest) (wire.ProposalReply, error) {
	r.mu.Lock()
	n := r.nodes[peer]
	r.mu.Unlock()
	return n.HandleProposal(args), nil
}

func newSoloGame(t *testing.T) *gamestate.Game {
	t.Helper()
	rpc := newLoopbackRPC()
	cfg := raft.DefaultConfig("solo", []string{"solo"})
	cfg.ElectionMinMs, cfg.ElectionMaxMs, cfg.HeartbeatMs = 30, 60, 10
	g := gamestate.NewGame(cfg, rpc)
	rpc.register("solo", g.Node())
	g.Start()
	t.Cleanup(g.Stop)

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) && !g.IsLeader() {
		time.Sleep(5 * time.Millisecond)
	}
	if !g.IsLeader() {
		t.Fatal("single-node cluster failed to elect itself leader")
	}
	return g
}

func appendEv(t *testing.T, g *gamestate.Game, ev event.Event) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if _, err := g.Append(ctx, ev); err != nil {
		t.Fatalf("append %v: %v", ev.Kind, err)
	}
}

// fakeSpawner answers Spawn from a canned response without starting any
// process. An empty raft address skips the learner handshake, which has
// no second node to converse with in a solo-game test.
type fakeSpawner struct {
	mu     sync.Mutex
	calls  int
	fail   bool
	coords []CoordHint
}

func (f *fakeSpawner) Spawn(ctx context.Context, kind Kind, gameID string, ownerID uint64, coord *CoordHint) (string, string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if coord != nil {
		f.coords = append(f.coords, *coord)
	}
	if f.fail {
		return "", "", errors.New("spawner says no")
	}
	return "10.0.0.9:9000", "", nil
}

func (f *fakeSpawner) StopAll(ctx context.Context, gameID string) error { return nil }

func (f *fakeSpawner) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// TestBridgeProvisionsEmptyHex walks the happy path: a SetNodeTarget at
// an empty hex produces NodeInitStarted, one Spawn call, and a
// NodeInitComplete carrying the spawned endpoint.
func TestBridgeProvisionsEmptyHex(t *testing.T) {
	g := newSoloGame(t)
	spawner := &fakeSpawner{}
	bridge := NewBridge(g, spawner, "game-1")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go bridge.Run(ctx)

	capital := hex.Coord{Q: 0, R: 0}
	empty := hex.Coord{Q: 1, R: 0}
	appendEv(t, g, event.PlayerJoin(1, "alice", capital, "alice-control", true, 1))
	appendEv(t, g, event.SetNodeTarget(capital, event.Target{Kind: event.TargetHex, Hex: empty}, 2))

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if node, ok := g.GetNode(empty); ok && node.Ready {
			if node.Endpoint != "10.0.0.9:9000" {
				t.Fatalf("provisioned endpoint = %q, want the spawner's", node.Endpoint)
			}
			if node.OwnerID != 0 {
				t.Fatalf("freshly provisioned hex must start unowned, got owner %d", node.OwnerID)
			}
			if spawner.callCount() != 1 {
				t.Fatalf("spawn calls = %d, want exactly 1", spawner.callCount())
			}
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("empty hex was never provisioned to ready")
}

// TestBridgeCompensatesOnSpawnFailure checks the failure leg: after the
// bounded retries are exhausted the attacker's target is reset to None
// by a compensating SetNodeTarget.
func TestBridgeCompensatesOnSpawnFailure(t *testing.T) {
	g := newSoloGame(t)
	spawner := &fakeSpawner{fail: true}
	bridge := NewBridge(g, spawner, "game-1")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go bridge.Run(ctx)

	capital := hex.Coord{Q: 0, R: 0}
	empty := hex.Coord{Q: 1, R: 0}
	appendEv(t, g, event.PlayerJoin(1, "alice", capital, "alice-control", true, 1))
	appendEv(t, g, event.SetNodeTarget(capital, event.Target{Kind: event.TargetHex, Hex: empty}, 2))

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		node, ok := g.GetNode(capital)
		if ok && node.Target.Kind == event.TargetNone && spawner.callCount() >= 3 {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatal("attacker's target was never compensated back to None")
}
