package raft

// MessageKind distinguishes the peer-to-peer RPCs the replication and
// election modules exchange (§4.5, §4.6, §4.7). These are internal to the
// cluster and are unrelated to the client-facing wire.Type.
type MessageKind uint8

const (
	MsgRequestVote MessageKind = iota
	MsgRequestVoteResult
	MsgAppendEntries
	MsgAppendEntriesResult
	MsgInstallSnapshot
	MsgInstallSnapshotResult
	MsgTimeoutNow
)

// Message is the tagged envelope exchanged over the transport (§4.9); only
// the field matching Kind is populated.
type Message struct {
	Kind MessageKind

	RequestVote       *RequestVoteRequest
	RequestVoteResult *RequestVoteResponse
	AppendEntries     *AppendEntriesRequest
	AppendResult      *AppendEntriesResponse
	InstallSnapshot   *InstallSnapshotRequest
	InstallResult     *InstallSnapshotResponse
	TimeoutNow        *TimeoutNowRequest
}

// RequestVoteRequest is §4.5's RequestVote message.
type RequestVoteRequest struct {
	Term          uint64
	CandidateID   uint64
	LastLogIndex  uint64
	LastLogTerm   uint64
	DisruptLeader bool
	PreVote       bool
}

// RequestVoteResponse carries the request's term when PreVote is true, not
// the responder's current term (§4.5 "pre-vote quirk").
type RequestVoteResponse struct {
	Term        uint64
	VoteGranted bool
	PreVote     bool
}

// AppendEntriesRequest is the replication heartbeat/log-push message (§4.6).
type AppendEntriesRequest struct {
	Term         uint64
	LeaderID     uint64
	PrevLogIndex uint64
	PrevLogTerm  uint64
	Entries      []*Entry
	LeaderCommit uint64
}

// AppendEntriesResponse is the follower's reply (§4.6).
type AppendEntriesResponse struct {
	Term          uint64
	Rejected      uint64 // 0 = accepted, else the rejected prevLogIndex
	LastLogIndex  uint64
}

// InstallSnapshotRequest transfers a full snapshot (§4.6, single-buffer —
// the FSM's entire state travels as one blob rather than split buffers).
type InstallSnapshotRequest struct {
	Term     uint64
	LeaderID uint64
	Snapshot Snapshot
}

type InstallSnapshotResponse struct {
	Term     uint64
	Rejected bool
}

// TimeoutNowRequest asks the recipient to start an election immediately
// (§4.7 leadership transfer).
type TimeoutNowRequest struct {
	Term     uint64
	LeaderID uint64
}
