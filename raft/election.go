package raft

import "github.com/kartikbazzad/hexwar/wire"

// runElection solicits votes from every voting peer and, on a majority,
// transitions to Leader.
func (n *Node) runElection() {
	n.mu.Lock()
	term := n.currentTerm
	lastIdx, lastTerm := n.getLastLogInfoLocked()
	peers := make([]string, 0, len(n.voters))
	for p := range n.voters {
		if p != n.id {
			peers = append(peers, p)
		}
	}
	selfVoter := n.voters[n.id]
	n.mu.Unlock()

	votes := 1 // vote for self
	if !selfVoter {
		votes = 0
	}
	votesCh := make(chan bool, len(peers))

	for _, peer := range peers {
		peer := peer
		go func() {
			reply, err := n.rpc.SendRequestVote(peer, wire.RequestVoteRequest{
				Term:         term,
				CandidateID:  n.id,
				LastLogIndex: lastIdx,
				LastLogTerm:  lastTerm,
			})
			if err != nil {
				votesCh <- false
				return
			}
			n.mu.Lock()
			if reply.Term > n.currentTerm {
				n.stepDownLocked(reply.Term)
			}
			n.mu.Unlock()
			votesCh <- reply.VoteGranted
		}()
	}

	for range peers {
		if <-votesCh {
			votes++
		}
	}

	n.mu.Lock()
	defer n.mu.Unlock()
	if n.state != Candidate || n.currentTerm != term {
		return
	}
	if votes*2 > n.voterCountLocked() {
		n.becomeLeaderLocked()
	}
}

// stepDownLocked reverts to Follower upon observing a higher term. Caller
// holds n.mu.
func (n *Node) stepDownLocked(term uint64) {
	n.currentTerm = term
	n.votedFor = ""
	if n.state == Leader {
		if n.heartbeatTimer != nil {
			n.heartbeatTimer.Stop()
		}
	}
	n.state = Follower
	n.resetElectionTimerLocked()
}

// becomeLeaderLocked promotes this node and starts the heartbeat loop.
// Caller holds n.mu.
func (n *Node) becomeLeaderLocked() {
	n.state = Leader
	n.leaderID = n.id
	lastIdx, _ := n.getLastLogInfoLocked()
	for p := range n.voters {
		n.nextIndex[p] = lastIdx + 1
		n.matchIndex[p] = 0
	}
	for p := range n.learners {
		n.nextIndex[p] = lastIdx + 1
		n.matchIndex[p] = 0
	}
	if n.electionTimer != nil {
		n.electionTimer.Stop()
	}
	if n.heartbeatTimer != nil {
		n.heartbeatTimer.Stop()
	}
	n.logger().Info("became leader", "term", n.currentTerm)

	interval := msDuration(n.config.HeartbeatMs)
	n.heartbeatTimer = newTicker(interval)
	go n.heartbeatLoop(n.currentTerm, n.heartbeatTimer)
	// Announce leadership at once so followers learn the leader hint
	// without waiting a full heartbeat interval.
	go n.broadcastAppendEntries(n.currentTerm)
}

// HandleRequestVote answers an incoming RequestVote RPC.
func (n *Node) HandleRequestVote(req wire.RequestVoteRequest) wire.RequestVoteReply {
	n.mu.Lock()
	defer n.mu.Unlock()

	if req.Term > n.currentTerm {
		n.stepDownLocked(req.Term)
	}
	if req.Term < n.currentTerm {
		return wire.RequestVoteReply{Term: n.currentTerm, VoteGranted: false}
	}

	lastIdx, lastTerm := n.getLastLogInfoLocked()
	logOK := req.LastLogTerm > lastTerm ||
		(req.LastLogTerm == lastTerm && req.LastLogIndex >= lastIdx)

	grant := (n.votedFor == "" || n.votedFor == req.CandidateID) && logOK
	if grant {
		n.votedFor = req.CandidateID
		n.resetElectionTimerLocked()
	}
	return wire.RequestVoteReply{Term: n.currentTerm, VoteGranted: grant}
}
