package raft

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/kartikbazzad/hexwar/wire"
)

// mockCluster wires a handful of Nodes together in-process, routing RPCs
// directly to each other's Handle* methods instead of over TCP.
type mockCluster struct {
	mu    sync.Mutex
	nodes map[string]*Node
}

func newMockCluster() *mockCluster {
	return &mockCluster{nodes: make(map[string]*Node)}
}

func (c *mockCluster) register(n *Node) { c.mu.Lock(); c.nodes[n.ID()] = n; c.mu.Unlock() }

func (c *mockCluster) SendRequestVote(peer string, args wire.RequestVoteRequest) (wire.RequestVoteReply, error) {
	c.mu.Lock()
	target := c.nodes[peer]
	c.mu.Unlock()
	if target == nil {
		return wire.RequestVoteReply{}, errPeerUnknown
	}
	return target.HandleRequestVote(args), nil
}

func (c *mockCluster) SendAppendEntries(peer string, args wire.AppendEntriesRequest) (wire.AppendEntriesReply, error) {
	c.mu.Lock()
	target := c.nodes[peer]
	c.mu.Unlock()
	if target == nil {
		return wire.AppendEntriesReply{}, errPeerUnknown
	}
	return target.HandleAppendEntries(args), nil
}

func (c *mockCluster) SendProposal(peer string, args wire.ProposalRequest) (wire.ProposalReply, error) {
	c.mu.Lock()
	target := c.nodes[peer]
	c.mu.Unlock()
	if target == nil {
		return wire.ProposalReply{}, errPeerUnknown
	}
	return target.HandleProposal(args), nil
}

type errString string

func (e errString) Error() string { return string(e) }

const errPeerUnknown = errString("mock: unknown peer")

// mockFSM records every command it is asked to apply, in order.
type mockFSM struct {
	mu      sync.Mutex
	applied [][]byte
}

func (f *mockFSM) Apply(cmd []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.applied = append(f.applied, cmd)
}

func (f *mockFSM) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.applied)
}

func newTestCluster(t *testing.T, ids []string) (*mockCluster, map[string]*Node, map[string]*mockFSM) {
	t.Helper()
	cluster := newMockCluster()
	nodes := make(map[string]*Node, len(ids))
	fsms := make(map[string]*mockFSM, len(ids))
	for _, id := range ids {
		fsm := &mockFSM{}
		cfg := DefaultConfig(id, ids)
		cfg.ElectionMinMs, cfg.ElectionMaxMs, cfg.HeartbeatMs = 40, 80, 10
		n := NewNode(cfg, cluster, fsm)
		cluster.register(n)
		nodes[id] = n
		fsms[id] = fsm
	}
	return cluster, nodes, fsms
}

func waitForLeader(t *testing.T, nodes map[string]*Node, timeout time.Duration) *Node {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		for _, n := range nodes {
			if n.IsLeader() {
				return n
			}
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("no leader elected within timeout")
	return nil
}

func TestElectsASingleLeader(t *testing.T) {
	_, nodes, _ := newTestCluster(t, []string{"a", "b", "c"})
	for _, n := range nodes {
		n.Start()
		defer n.Stop()
	}

	leader := waitForLeader(t, nodes, 2*time.Second)

	leaders := 0
	for _, n := range nodes {
		if n.IsLeader() {
			leaders++
		}
	}
	if leaders != 1 {
		t.Fatalf("expected exactly one leader, found %d", leaders)
	}
	if leader == nil {
		t.Fatal("expected a leader")
	}
}

func TestAppendCommitsToAllNodes(t *testing.T) {
	_, nodes, fsms := newTestCluster(t, []string{"a", "b", "c"})
	for _, n := range nodes {
		n.Start()
		defer n.Stop()
	}

	leader := waitForLeader(t, nodes, 2*time.Second)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	idx, err := leader.Append(ctx, []byte(`{"type":"test"}`))
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	if idx != 1 {
		t.Fatalf("expected index 1, got %d", idx)
	}

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		allApplied := true
		for _, f := range fsms {
			if f.count() != 1 {
				allApplied = false
			}
		}
		if allApplied {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("entry did not replicate to all state machines in time")
}

func TestNonLeaderAppendReturnsErrNotLeader(t *testing.T) {
	_, nodes, _ := newTestCluster(t, []string{"a", "b", "c"})
	for _, n := range nodes {
		n.Start()
		defer n.Stop()
	}
	waitForLeader(t, nodes, 2*time.Second)

	for _, n := range nodes {
		if n.IsLeader() {
			continue
		}
		ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
		_, err := n.Append(ctx, []byte("x"))
		cancel()
		if err != ErrNotLeader {
			t.Fatalf("expected ErrNotLeader from a follower, got %v", err)
		}
		return
	}
}

func TestLearnerDoesNotCountTowardQuorumOrVote(t *testing.T) {
	_, nodes, _ := newTestCluster(t, []string{"a", "b", "c"})
	for _, n := range nodes {
		n.Start()
		defer n.Stop()
	}
	leader := waitForLeader(t, nodes, 2*time.Second)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := leader.AddLearner(ctx, "d"); err != nil {
		t.Fatalf("add learner: %v", err)
	}

	if leader.IsVoter("d") {
		t.Fatal("learner must not be counted as a voter")
	}
	if !leader.IsLearner("d") {
		t.Fatal("expected d to be tracked as a learner")
	}
}
