package raft

import "time"

// State is the coarse Raft role (§3.3).
type State uint8

const (
	StateUnavailable State = iota
	StateFollower
	StateCandidate
	StateLeader
)

func (s State) String() string {
	switch s {
	case StateUnavailable:
		return "unavailable"
	case StateFollower:
		return "follower"
	case StateCandidate:
		return "candidate"
	case StateLeader:
		return "leader"
	default:
		return "invalid"
	}
}

// stateAllowedMoves enforces the convert-transition table of §4.4: any
// other transition is a bug.
var stateAllowedMoves = map[State]map[State]bool{
	StateUnavailable: {StateFollower: true},
	StateFollower:    {StateCandidate: true, StateUnavailable: true},
	StateCandidate:   {StateFollower: true, StateLeader: true, StateUnavailable: true},
	StateLeader:      {StateFollower: true, StateUnavailable: true},
}

// FollowerState holds the fields a follower keeps (§3.3).
type FollowerState struct {
	CurrentLeaderID      uint64
	CurrentLeaderAddress string
	ElectionTimerStart   time.Time
	RandomizedTimeout    time.Duration
	AppendInFlight       int
}

// CandidateState holds the fields a candidate keeps (§3.3).
type CandidateState struct {
	Votes          []bool // indexed by voter position within the configuration
	PreVote        bool
	DisruptLeader  bool
	ElectionTimerStart time.Time
	RandomizedTimeout  time.Duration
}

// PendingRequest is a caller-visible handle to an in-flight apply/barrier/
// change request queued on the leader (§3.3, §4.8).
type PendingRequest struct {
	Index int // position of the originating log entry once appended
	Term  uint64
	kind  requestKind
	done  chan requestResult
}

type requestResult struct {
	Result interface{}
	Err    error
}

type requestKind uint8

const (
	requestApply requestKind = iota
	requestBarrier
	requestChange
)

// PromotionRound tracks the catch-up bookkeeping for one server being
// promoted to voter (§4.7).
type PromotionRound struct {
	PromoteeID  uint64
	Number      int
	Index       uint64 // round_index: last_log_index when this round started
	StartedAt   time.Time
	RoundStart  time.Time
}

// TransferRequest tracks an in-flight leadership transfer (§4.7).
type TransferRequest struct {
	TargetID  uint64
	StartedAt time.Time
	Done      chan error
}

// LeaderState holds the fields the leader keeps (§3.3).
type LeaderState struct {
	Progress       map[uint64]*Progress
	Pending        []*PendingRequest
	PendingChange  *PendingRequest
	ChangeIndex    uint64
	Transfer       *TransferRequest
	Promotion      *PromotionRound
	VoterContacts  int
}
