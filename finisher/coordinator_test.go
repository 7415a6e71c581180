package finisher

import (
	"context"
	"net/http"
	"net/http/httptest"
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

// TestFinishingAttackFiresOnceOnCapitalLoss builds a two-player game,
// captures the victim's capital, and checks that the coordinator running
// as the attacker's node records the victim as triggered and that a second
// identical capture event for the same victim leaves that record as it is.
// The record is set before the ownership check, so the test does not
// observe whether a stream was opened.
func TestFinishingAttackFiresOnceOnCapitalLoss(t *testing.T) {
	g := newSoloGame(t)

	sink := NewSink()
	srv := httptest.NewServer(http.HandlerFunc(sink.ServeHTTP))
	defer srv.Close()

	attackerCapital := hex.Coord{Q: 0, R: 0}
	victimCapital := hex.Coord{Q: 5, R: 0}

	appendEv(t, g, event.PlayerJoin(1, "attacker", attackerCapital, "attacker-control-ep", true, 1))
	appendEv(t, g, event.PlayerJoin(2, "victim", victimCapital, srv.URL, true, 2))
	appendEv(t, g, event.NodeInitComplete(attackerCapital, "attacker-ep", 2))

	c, err := NewCoordinator(g, "attacker-ep", 4)
	if err != nil {
		t.Fatalf("new coordinator: %v", err)
	}
	defer c.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	go c.Run(ctx)

	// Let discovery observe the initial snapshot (the coordinator also
	// discovers lazily on each applied event, so the capture below is
	// enough on its own, but giving it one tick keeps the test honest
	// about the async Run loop).
	time.Sleep(50 * time.Millisecond)

	appendEv(t, g, event.NodeCaptured(victimCapital, 1, 3))

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		c.mu.Lock()
		fired := c.triggered[2]
		c.mu.Unlock()
		if fired {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	c.mu.Lock()
	fired := c.triggered[2]
	c.mu.Unlock()
	if !fired {
		t.Fatal("expected finishing attack to be marked triggered for victim 2")
	}

	// A later NodeCaptured referencing the same already-demoted capital
	// must not re-trigger (state.Players[2].Alive is already false, so
	// no true->false transition is observed).
	appendEv(t, g, event.NodeCaptured(victimCapital, 1, 4))
	time.Sleep(50 * time.Millisecond)

	c.mu.Lock()
	stillOnlyOnce := c.triggered[2]
	c.mu.Unlock()
	if !stillOnlyOnce {
		t.Fatal("expected trigger flag to remain set")
	}
}
