package agentapi

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

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

func doJSON(t *testing.T, handler http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal request body: %v", err)
		}
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

// TestJoinAttackStopAttackFlow walks the full command surface without a
// spawner: join a no-spawner agent, attack an adjacent hex, then stop.
func TestJoinAttackStopAttackFlow(t *testing.T) {
	g := newSoloGame(t)
	srv := NewServer(g, nil, "game-1")
	srv.SetControlEndpoint("self-control-ep")
	mux := srv.Mux()

	rec := doJSON(t, mux, http.MethodPost, "/join", joinRequest{Name: "alice", GameID: "game-1"})
	if rec.Code != http.StatusOK {
		t.Fatalf("join: expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, mux, http.MethodPost, "/attack", attackRequest{To: coordJSON{Q: 1, R: 0}})
	if rec.Code != http.StatusOK {
		t.Fatalf("attack: expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	node, ok := g.GetNode(hex.Coord{Q: 0, R: 0})
	if !ok || node.Target.Kind == 0 {
		t.Fatalf("expected capital's target to be set, got %+v (ok=%v)", node, ok)
	}

	rec = doJSON(t, mux, http.MethodPost, "/stop-attack", stopAttackRequest{From: coordJSON{Q: 0, R: 0}})
	if rec.Code != http.StatusOK {
		t.Fatalf("stop-attack: expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, mux, http.MethodGet, "/state", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("state: expected 200, got %d", rec.Code)
	}
	var snap struct {
		Players []playerView `json:"players"`
		Nodes   []nodeView   `json:"nodes"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &snap); err != nil {
		t.Fatalf("decode state snapshot: %v", err)
	}
	if len(snap.Players) != 1 || len(snap.Nodes) != 1 {
		t.Fatalf("expected 1 player and 1 node in snapshot, got %d/%d", len(snap.Players), len(snap.Nodes))
	}
	if snap.Nodes[0].Kind != "capital" {
		t.Fatalf("expected the only node to be a capital, got %q", snap.Nodes[0].Kind)
	}

	rec = doJSON(t, mux, http.MethodGet, "/status", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status: expected 200, got %d", rec.Code)
	}
	var status struct {
		IsLeader bool `json:"is_leader"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &status); err != nil {
		t.Fatalf("decode status: %v", err)
	}
	if !status.IsLeader {
		t.Fatal("expected single-node cluster to report itself as leader")
	}
}

func TestAttackRejectsNonAdjacentHex(t *testing.T) {
	g := newSoloGame(t)
	srv := NewServer(g, nil, "game-1")
	mux := srv.Mux()

	doJSON(t, mux, http.MethodPost, "/join", joinRequest{Name: "alice", GameID: "game-1"})

	rec := doJSON(t, mux, http.MethodPost, "/attack", attackRequest{To: coordJSON{Q: 5, R: 5}})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for non-adjacent target, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestJoinRejectsMalformedBody(t *testing.T) {
	g := newSoloGame(t)
	srv := NewServer(g, nil, "game-1")
	mux := srv.Mux()

	req := httptest.NewRequest(http.MethodPost, "/join", bytes.NewReader([]byte(`{"name":""}`)))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for schema violation, got %d: %s", rec.Code, rec.Body.String())
	}
}
