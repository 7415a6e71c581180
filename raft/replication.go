package raft

import (
	"context"
	"errors"
	"time"

	"github.com/kartikbazzad/hexwar/wire"
)

// heartbeatLoop periodically replicates to every peer until the node steps
// down from leadership or this term ends.
func (n *Node) heartbeatLoop(term uint64, ticker *time.Ticker) {
	for {
		select {
		case <-n.stopCh:
			return
		case <-ticker.C:
			n.mu.Lock()
			if n.state != Leader || n.currentTerm != term {
				n.mu.Unlock()
				return
			}
			n.mu.Unlock()
			n.broadcastAppendEntries(term)
		}
	}
}

// broadcastAppendEntries sends one replication round to every peer
// (voter and learner) known to this leader.
func (n *Node) broadcastAppendEntries(term uint64) {
	n.mu.Lock()
	if n.state != Leader || n.currentTerm != term {
		n.mu.Unlock()
		return
	}
	peers := make([]string, 0, len(n.voters)+len(n.learners))
	for p := range n.voters {
		if p != n.id {
			peers = append(peers, p)
		}
	}
	for p := range n.learners {
		peers = append(peers, p)
	}
	n.mu.Unlock()

	for _, peer := range peers {
		go n.replicateTo(peer, term)
	}
}

// replicateTo sends one AppendEntries RPC to peer, retreating nextIndex on
// log mismatch and advancing matchIndex/commitIndex on success.
func (n *Node) replicateTo(peer string, term uint64) {
	n.mu.Lock()
	if n.state != Leader || n.currentTerm != term {
		n.mu.Unlock()
		return
	}
	next := n.nextIndex[peer]
	if next == 0 {
		next = 1
	}
	prevIdx := next - 1
	var prevTerm uint64
	if prevIdx > 0 {
		if e, ok := n.getLogEntryLocked(prevIdx); ok {
			prevTerm = e.Term
		}
	}
	var entries []wire.LogEntry
	for _, e := range n.log {
		if e.Index >= next {
			entries = append(entries, e)
		}
	}
	req := wire.AppendEntriesRequest{
		Term:         term,
		LeaderID:     n.id,
		PrevLogIndex: prevIdx,
		PrevLogTerm:  prevTerm,
		Entries:      entries,
		LeaderCommit: n.commitIndex,
	}
	n.mu.Unlock()

	reply, err := n.rpc.SendAppendEntries(peer, req)
	if err != nil {
		return
	}

	n.mu.Lock()
	defer n.mu.Unlock()

	if reply.Term > n.currentTerm {
		n.stepDownLocked(reply.Term)
		return
	}
	if n.state != Leader || n.currentTerm != term {
		return
	}

	if reply.Success {
		if len(entries) > 0 {
			n.matchIndex[peer] = entries[len(entries)-1].Index
			n.nextIndex[peer] = n.matchIndex[peer] + 1
		} else {
			n.matchIndex[peer] = prevIdx
		}
		n.advanceCommitIndexLocked()
		return
	}

	if n.nextIndex[peer] > 1 {
		n.nextIndex[peer]--
	}
}

// advanceCommitIndexLocked moves commitIndex forward to the highest index
// acknowledged by a majority of voters whose term matches the current
// term (the Raft safety rule against committing entries from past terms
// by counting alone). Caller holds n.mu.
func (n *Node) advanceCommitIndexLocked() {
	for _, entry := range n.log {
		if entry.Index <= n.commitIndex || entry.Term != n.currentTerm {
			continue
		}
		count := 0
		for v := range n.voters {
			if v == n.id || n.matchIndex[v] >= entry.Index {
				count++
			}
		}
		if count*2 > n.voterCountLocked() {
			n.commitIndex = entry.Index
		}
	}
	n.applyCommittedLocked()
}

// applyCommittedLocked folds every newly committed entry into the state
// machine (or the membership table, for config entries), publishes it,
// and wakes any Append caller waiting on it. Caller holds n.mu.
func (n *Node) applyCommittedLocked() {
	for n.lastApplied < n.commitIndex {
		idx := n.lastApplied + 1
		entry, ok := n.getLogEntryLocked(idx)
		if !ok {
			break
		}

		if entry.Membership != nil {
			n.applyMembershipLocked(*entry.Membership)
		} else if n.fsm != nil {
			n.fsm.Apply(entry.Command)
		}

		n.lastApplied = idx
		n.pub.Publish(Applied{Index: entry.Index, Term: entry.Term, Command: entry.Command})

		for i := len(n.waiters) - 1; i >= 0; i-- {
			if n.waiters[i].index == idx {
				n.waiters[i].ch <- nil
				n.waiters = append(n.waiters[:i], n.waiters[i+1:]...)
			}
		}
	}
}

// HandleProposal appends a command forwarded from a follower, blocking
// until it commits or the timeout lapses. Only the leader accepts; a
// non-leader answers with its current hint so the forwarder can redirect.
func (n *Node) HandleProposal(req wire.ProposalRequest) wire.ProposalReply {
	ctx, cancel := context.WithTimeout(context.Background(), msDuration(n.config.ElectionMaxMs)*4)
	defer cancel()

	idx, err := n.Append(ctx, req.Command)
	switch {
	case err == nil:
		return wire.ProposalReply{Index: idx}
	case errors.Is(err, ErrNotLeader):
		hint, _ := n.LeaderHint()
		return wire.ProposalReply{NotLeader: true, LeaderHint: hint}
	default:
		return wire.ProposalReply{Error: err.Error()}
	}
}

// HandleAppendEntries answers an incoming AppendEntries RPC.
func (n *Node) HandleAppendEntries(req wire.AppendEntriesRequest) wire.AppendEntriesReply {
	n.mu.Lock()
	defer n.mu.Unlock()

	if req.Term < n.currentTerm {
		return wire.AppendEntriesReply{Term: n.currentTerm, Success: false}
	}
	if req.Term > n.currentTerm || n.state == Candidate {
		n.stepDownLocked(req.Term)
	}
	n.leaderID = req.LeaderID
	n.resetElectionTimerLocked()

	if req.PrevLogIndex > 0 {
		entry, ok := n.getLogEntryLocked(req.PrevLogIndex)
		if !ok || entry.Term != req.PrevLogTerm {
			return wire.AppendEntriesReply{Term: n.currentTerm, Success: false}
		}
	}

	for _, e := range req.Entries {
		existing, ok := n.getLogEntryLocked(e.Index)
		if ok && existing.Term != e.Term {
			n.truncateLogLocked(e.Index)
			ok = false
		}
		if !ok {
			n.log = append(n.log, e)
		}
	}

	if req.LeaderCommit > n.commitIndex {
		lastIdx, _ := n.getLastLogInfoLocked()
		if req.LeaderCommit < lastIdx {
			n.commitIndex = req.LeaderCommit
		} else {
			n.commitIndex = lastIdx
		}
		n.applyCommittedLocked()
	}

	return wire.AppendEntriesReply{Term: n.currentTerm, Success: true}
}
