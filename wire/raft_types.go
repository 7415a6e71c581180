package wire

// LogEntry is a single replicated command in the Raft log. Command is the
// JSON encoding of one event.Event (see package event); the Raft layer
// never interprets it, only replicates and orders it. Membership is set
// instead of Command for entries produced by the learner-then-voter
// handshake; those are applied internally by the raft package and never
// reach the state machine.
type LogEntry struct {
	Term       uint64            `json:"term"`
	Index      uint64            `json:"idx"`
	Command    []byte            `json:"cmd,omitempty"`
	Membership *MembershipChange `json:"membership,omitempty"`
}

// MembershipChange admits or promotes one node's address in the voting
// set. Voter=false adds NodeAddr as a non-voting learner that still
// receives replication; Voter=true promotes an existing learner (or adds
// a new member directly) to full voting membership.
type MembershipChange struct {
	NodeAddr string `json:"node_addr"`
	Voter    bool   `json:"voter"`
}

// RequestVoteRequest is sent by a candidate to gather votes.
type RequestVoteRequest struct {
	Term         uint64 `json:"term"`
	CandidateID  string `json:"cand_id"`
	LastLogIndex uint64 `json:"last_log_idx"`
	LastLogTerm  uint64 `json:"last_log_term"`
}

// RequestVoteReply answers a RequestVoteRequest.
type RequestVoteReply struct {
	Term        uint64 `json:"term"`
	VoteGranted bool   `json:"vote"`
}

// AppendEntriesRequest replicates log entries from the leader, or serves as
// a heartbeat when Entries is empty.
type AppendEntriesRequest struct {
	Term         uint64     `json:"term"`
	LeaderID     string     `json:"leader_id"`
	PrevLogIndex uint64     `json:"prev_log_idx"`
	PrevLogTerm  uint64     `json:"prev_log_term"`
	Entries      []LogEntry `json:"entries"`
	LeaderCommit uint64     `json:"commit_idx"`
}

// AppendEntriesReply answers an AppendEntriesRequest.
type AppendEntriesReply struct {
	Term    uint64 `json:"term"`
	Success bool   `json:"success"`
}

// ProposalRequest forwards one application command from a follower to the
// node it believes is leader, which appends it to the replicated log on
// the follower's behalf. This is how per-node background tasks (the 5s
// metrics reporter, most of all) submit events without every agent having
// to be leader.
type ProposalRequest struct {
	Command []byte `json:"cmd"`
}

// ProposalReply answers a ProposalRequest. NotLeader with a LeaderHint
// means the receiver has itself lost leadership; the caller redirects.
type ProposalReply struct {
	Index      uint64 `json:"idx,omitempty"`
	NotLeader  bool   `json:"not_leader,omitempty"`
	LeaderHint string `json:"leader_hint,omitempty"`
	Error      string `json:"error,omitempty"`
}
