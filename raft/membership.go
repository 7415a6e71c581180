package raft

import (
	"context"

	"github.com/kartikbazzad/hexwar/wire"
)

// AddLearner admits addr as a non-voting member: it receives replication
// from the current commit point forward but never counts toward quorum
// and never votes, so a node mid-provisioning cannot stall the cluster.
// Leader-only.
func (n *Node) AddLearner(ctx context.Context, addr string) error {
	_, err := n.propose(ctx, nil, &wire.MembershipChange{NodeAddr: addr, Voter: false})
	return err
}

// PromoteToVoter admits addr to full voting membership. It is idempotent:
// promoting an address that is already a voter is a no-op once committed.
// Leader-only.
func (n *Node) PromoteToVoter(ctx context.Context, addr string) error {
	_, err := n.propose(ctx, nil, &wire.MembershipChange{NodeAddr: addr, Voter: true})
	return err
}

// IsVoter reports whether addr currently counts toward quorum.
func (n *Node) IsVoter(addr string) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.voters[addr]
}

// IsLearner reports whether addr is a known non-voting member.
func (n *Node) IsLearner(addr string) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.learners[addr]
}

// MatchIndex returns the highest log index this leader has confirmed addr
// has replicated, and whether addr is tracked at all (registered via
// AddLearner/PromoteToVoter and committed). Meaningful only while this node
// is Leader; used by provision to decide when a learner has caught up
// enough to promote.
func (n *Node) MatchIndex(addr string) (uint64, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	idx, ok := n.matchIndex[addr]
	return idx, ok
}

// applyMembershipLocked folds a committed membership change into this
// node's local voter/learner tables. Every node in the cluster applies
// the same committed sequence, so the tables converge identically
// everywhere without a separate gossip channel. Caller holds n.mu.
func (n *Node) applyMembershipLocked(change wire.MembershipChange) {
	if change.Voter {
		delete(n.learners, change.NodeAddr)
		n.voters[change.NodeAddr] = true
	} else if !n.voters[change.NodeAddr] {
		n.learners[change.NodeAddr] = true
	}

	if n.state == Leader {
		if _, ok := n.nextIndex[change.NodeAddr]; !ok {
			n.nextIndex[change.NodeAddr] = n.lastApplied + 1
			n.matchIndex[change.NodeAddr] = 0
		}
	}
}
