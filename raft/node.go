// Package raft implements a leader-based replicated log (Raft-class
// consensus protocol): leader election, log replication, and a
// learner-then-voter membership handshake, over hexwar's own wire
// protocol. The application event log and state machine (package event)
// sit on top of it as the StateMachine this package replicates for.
package raft

import (
	"context"
	"errors"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"github.com/kartikbazzad/hexwar/pkg/logger"
	"github.com/kartikbazzad/hexwar/wire"
	"github.com/moby/pubsub"
)

// State is the role of a Raft node.
type State int

const (
	Follower State = iota
	Candidate
	Leader
)

func (s State) String() string {
	switch s {
	case Follower:
		return "Follower"
	case Candidate:
		return "Candidate"
	case Leader:
		return "Leader"
	}
	return "Unknown"
}

// ErrNotLeader is returned by Append when this node is not the leader.
var ErrNotLeader = errors.New("raft: not the leader")

// ErrCommitTimeout is returned when Append's caller-supplied context
// expires before the entry commits; this is an indeterminate outcome,
// not a failure — the entry may still commit.
var ErrCommitTimeout = errors.New("raft: commit wait timed out")

// ErrEntryOverwritten is returned by Append when a newer leader's log
// overwrote the proposed entry before it could commit. Unlike
// ErrCommitTimeout this outcome is definite: the entry is gone.
var ErrEntryOverwritten = errors.New("raft: entry overwritten by newer leader")

// Config configures a Node.
type Config struct {
	ID            string   // this node's address, also its identity
	Peers         []string // initial voting peer addresses (including ID)
	ElectionMinMs int
	ElectionMaxMs int
	HeartbeatMs   int
}

func DefaultConfig(id string, peers []string) *Config {
	return &Config{
		ID:            id,
		Peers:         peers,
		ElectionMinMs: 150,
		ElectionMaxMs: 300,
		HeartbeatMs:   50,
	}
}

// RPCClient is how a Node talks to its peers.
type RPCClient interface {
	SendRequestVote(peer string, args wire.RequestVoteRequest) (wire.RequestVoteReply, error)
	SendAppendEntries(peer string, args wire.AppendEntriesRequest) (wire.AppendEntriesReply, error)
	SendProposal(peer string, args wire.ProposalRequest) (wire.ProposalReply, error)
}

// StateMachine receives committed, non-membership log entries in order.
type StateMachine interface {
	Apply(cmd []byte)
}

// Applied is published on the node's pubsub topic for every committed log
// entry (membership or application), in commit order, exactly once.
type Applied struct {
	Index   uint64
	Term    uint64
	Command []byte // empty for membership-only entries
}

type waiter struct {
	index uint64
	ch    chan error
}

// Node is one participant in the replicated log.
type Node struct {
	mu sync.Mutex

	currentTerm uint64
	votedFor    string
	log         []wire.LogEntry

	commitIndex uint64
	lastApplied uint64
	state       State
	leaderID    string

	nextIndex  map[string]uint64
	matchIndex map[string]uint64

	voters   map[string]bool
	learners map[string]bool

	id     string
	config *Config

	rpc RPCClient
	fsm StateMachine

	pub *pubsub.Publisher

	electionTimer  *time.Timer
	heartbeatTimer *time.Ticker

	waiters []waiter

	stopCh  chan struct{}
	stopped bool
}

// NewNode constructs a Node. fsm receives committed application commands;
// membership-change entries are handled internally and never reach fsm.
func NewNode(cfg *Config, rpc RPCClient, fsm StateMachine) *Node {
	voters := make(map[string]bool, len(cfg.Peers))
	for _, p := range cfg.Peers {
		voters[p] = true
	}

	return &Node{
		id:         cfg.ID,
		config:     cfg,
		rpc:        rpc,
		fsm:        fsm,
		state:      Follower,
		log:        make([]wire.LogEntry, 0, 64),
		nextIndex:  make(map[string]uint64),
		matchIndex: make(map[string]uint64),
		voters:     voters,
		learners:   make(map[string]bool),
		pub:        pubsub.NewPublisher(100*time.Millisecond, 64),
		stopCh:     make(chan struct{}),
	}
}

// Start begins the node's election timer.
func (n *Node) Start() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.resetElectionTimerLocked()
}

// Stop halts all timers and closes the pubsub feed.
func (n *Node) Stop() {
	n.mu.Lock()
	if n.stopped {
		n.mu.Unlock()
		return
	}
	n.stopped = true
	if n.electionTimer != nil {
		n.electionTimer.Stop()
	}
	if n.heartbeatTimer != nil {
		n.heartbeatTimer.Stop()
	}
	close(n.stopCh)
	n.mu.Unlock()
	n.pub.Close()
}

// ID returns this node's address/identity.
func (n *Node) ID() string { return n.id }

// IsLeader reports whether this node currently believes itself the leader.
func (n *Node) IsLeader() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.state == Leader
}

// LeaderHint returns the last known leader ID, if any.
func (n *Node) LeaderHint() (string, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.leaderID, n.leaderID != ""
}

// CurrentTerm returns the node's current term.
func (n *Node) CurrentTerm() uint64 {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.currentTerm
}

// AppliedIndex returns the highest log index applied to the state machine.
func (n *Node) AppliedIndex() uint64 {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.lastApplied
}

// CommitIndex returns the highest log index known to be committed.
func (n *Node) CommitIndex() uint64 {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.commitIndex
}

// Subscribe returns a channel of Applied values delivered in commit order.
// Each subscriber receives every committed entry exactly once.
func (n *Node) Subscribe() chan interface{} {
	return n.pub.Subscribe()
}

// Unsubscribe detaches a previously subscribed channel.
func (n *Node) Unsubscribe(ch chan interface{}) {
	n.pub.Evict(ch)
}

// Append submits cmd to the log. It blocks until the entry commits (is
// acknowledged by a majority of voters) or ctx is done. On success it
// returns the entry's log index. Non-leaders return ErrNotLeader
// immediately; use LeaderHint to redirect the caller.
func (n *Node) Append(ctx context.Context, cmd []byte) (uint64, error) {
	return n.propose(ctx, cmd, nil)
}

func (n *Node) propose(ctx context.Context, cmd []byte, membership *wire.MembershipChange) (uint64, error) {
	n.mu.Lock()
	if n.state != Leader {
		n.mu.Unlock()
		return 0, ErrNotLeader
	}

	lastIdx, _ := n.getLastLogInfoLocked()
	index := lastIdx + 1
	entry := wire.LogEntry{Term: n.currentTerm, Index: index, Command: cmd, Membership: membership}
	n.log = append(n.log, entry)

	ch := make(chan error, 1)
	n.waiters = append(n.waiters, waiter{index: index, ch: ch})
	term := n.currentTerm
	// The leader's own copy counts toward the majority; with a single
	// voter that alone commits the entry, since there is no peer to ack.
	n.advanceCommitIndexLocked()
	n.mu.Unlock()

	n.broadcastAppendEntries(term)

	select {
	case err := <-ch:
		if err != nil {
			return 0, err
		}
		return index, nil
	case <-ctx.Done():
		return 0, ErrCommitTimeout
	}
}

func (n *Node) resetElectionTimerLocked() {
	if n.electionTimer != nil {
		n.electionTimer.Stop()
	}
	spread := n.config.ElectionMaxMs - n.config.ElectionMinMs
	if spread <= 0 {
		spread = 1
	}
	duration := time.Duration(n.config.ElectionMinMs+rand.Intn(spread)) * time.Millisecond
	n.electionTimer = time.AfterFunc(duration, n.startElection)
}

func (n *Node) startElection() {
	n.mu.Lock()
	if n.state == Leader || n.stopped {
		n.mu.Unlock()
		return
	}
	if !n.voters[n.id] {
		// Learners never start elections: not required for quorum, and
		// likewise must not seek to lead it.
		n.resetElectionTimerLocked()
		n.mu.Unlock()
		return
	}

	n.state = Candidate
	n.currentTerm++
	n.votedFor = n.id
	n.resetElectionTimerLocked()
	n.mu.Unlock()

	go n.runElection()
}

func (n *Node) getLastLogInfoLocked() (uint64, uint64) {
	if len(n.log) == 0 {
		return 0, 0
	}
	last := n.log[len(n.log)-1]
	return last.Index, last.Term
}

func (n *Node) getLogEntryLocked(index uint64) (wire.LogEntry, bool) {
	for _, entry := range n.log {
		if entry.Index == index {
			return entry, true
		}
	}
	return wire.LogEntry{}, false
}

func (n *Node) truncateLogLocked(fromIndex uint64) {
	var kept []wire.LogEntry
	for _, entry := range n.log {
		if entry.Index < fromIndex {
			kept = append(kept, entry)
		}
	}
	n.log = kept

	// Entries at or past fromIndex were overwritten by a newer leader;
	// any Append caller still waiting on one will never see it commit.
	for i := len(n.waiters) - 1; i >= 0; i-- {
		if n.waiters[i].index >= fromIndex {
			n.waiters[i].ch <- ErrEntryOverwritten
			n.waiters = append(n.waiters[:i], n.waiters[i+1:]...)
		}
	}
}

// voterCountLocked returns the number of voting members, used for quorum
// math. Always at least 1 (this node), so a single-node cluster can
// self-elect.
func (n *Node) voterCountLocked() int {
	if len(n.voters) == 0 {
		return 1
	}
	return len(n.voters)
}

func (n *Node) logger() *slog.Logger {
	return logger.Named("raft", "node", n.id)
}

func msDuration(ms int) time.Duration { return time.Duration(ms) * time.Millisecond }

func newTicker(d time.Duration) *time.Ticker { return time.NewTicker(d) }
