package raft

import (
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/cuemby/nestd/pkg/log"
)

// Config bundles the tunables a Node is constructed with, following the
// teacher's pkg/manager.Config pattern of a small, validated options struct.
type Config struct {
	ID                      uint64
	Address                 string
	ElectionTimeout         time.Duration
	HeartbeatTimeout        time.Duration
	InstallSnapshotTimeout  time.Duration
	SnapshotThreshold       uint64
	SnapshotTrailing        uint64
	MaxCatchUpRounds        int
	MaxCatchUpRoundDuration time.Duration
	PreVote                 bool
}

// DefaultConfig mirrors the defaults called out across §4.6 (threshold
// 1024, trailing 2048) and typical LAN election/heartbeat timings.
func DefaultConfig(id uint64, address string) Config {
	return Config{
		ID:                      id,
		Address:                 address,
		ElectionTimeout:         1 * time.Second,
		HeartbeatTimeout:        100 * time.Millisecond,
		InstallSnapshotTimeout:  30 * time.Second,
		SnapshotThreshold:       1024,
		SnapshotTrailing:        2048,
		MaxCatchUpRounds:        10,
		MaxCatchUpRoundDuration: 5 * time.Second,
		PreVote:                 true,
	}
}

// Validate rejects an obviously-broken config before a Node is built.
func (c Config) Validate() error {
	if c.ID == 0 {
		return newErr(CodeInvalid, "raft: server id must be nonzero")
	}
	if c.Address == "" {
		return newErr(CodeInvalid, "raft: address must not be empty")
	}
	if c.HeartbeatTimeout*2 > c.ElectionTimeout {
		return newErr(CodeInvalid, "raft: heartbeat timeout must be well under election timeout")
	}
	return nil
}

// Node is the Raft core (§4.4): state, tick driver, RPC dispatch, snapshot
// creation. One Node corresponds to one server in the Configuration.
type Node struct {
	mu sync.Mutex

	id      uint64
	address string
	cfg     Config

	logg    zerolog.Logger
	metrics *Metrics

	io  PersistentIO
	fsm FSM
	log *Log

	config Configuration

	state       State
	currentTerm uint64
	votedFor    uint64
	commitIndex uint64
	lastApplied uint64
	lastStored  uint64

	follower  *FollowerState
	candidate *CandidateState
	leader    *LeaderState

	snapshotTaking     bool
	snapshotInstalling bool

	barrierFired bool

	onStateChange    []func(old, new State)
	onInitialBarrier []func()

	closed bool
}

// NewNode constructs a Node in the Unavailable state; call Bootstrap or
// Start (after Load) to join an existing cluster.
func NewNode(cfg Config, io PersistentIO, fsm FSM) (*Node, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	n := &Node{
		id:      cfg.ID,
		address: cfg.Address,
		cfg:     cfg,
		logg:    log.WithComponent("raft").With().Uint64("node_id", cfg.ID).Logger(),
		io:      io,
		fsm:     fsm,
		log:     NewLog(),
		state:   StateUnavailable,
	}
	return n, nil
}

// SetMetrics wires in the process-wide metrics registry (§4.0 ambient
// stack); optional, nil-safe at every call site.
func (n *Node) SetMetrics(m *Metrics) { n.metrics = m }

// OnStateChange registers an observer fired after every successful convert
// (§4.4 "Callback registration").
func (n *Node) OnStateChange(fn func(old, new State)) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.onStateChange = append(n.onStateChange, fn)
}

// OnInitialBarrier registers an observer fired once the new leader's no-op
// barrier entry (or the single-voter bootstrap fast path) commits.
func (n *Node) OnInitialBarrier(fn func()) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.onInitialBarrier = append(n.onInitialBarrier, fn)
}

// Bootstrap initializes a brand new cluster with the given configuration,
// persisting it and entering the follower state so the usual election path
// takes over (including the single-voter fast path of §8 scenario 1).
func (n *Node) Bootstrap(config Configuration) error {
	if err := config.Validate(); err != nil {
		return err
	}
	n.mu.Lock()

	if err := n.io.Bootstrap(config); err != nil {
		n.mu.Unlock()
		return wrapErr(CodeIO, "raft: bootstrap failed", err)
	}
	n.config = config.Clone()
	old := n.convertToLocked(StateFollower)
	n.follower = &FollowerState{}
	n.resetElectionTimerLocked()
	n.mu.Unlock()

	n.fireStateChange(old, StateFollower)
	return nil
}

// Start loads durable state from the I/O layer and resumes as a follower.
func (n *Node) Start() error {
	n.mu.Lock()

	term, votedFor, snap, entries, err := n.io.Load()
	if err != nil {
		n.mu.Unlock()
		return wrapErr(CodeIO, "raft: load failed", err)
	}
	n.currentTerm = term
	n.votedFor = votedFor
	if snap != nil {
		n.log.ReplaceWithSnapshot(snap.Index, snap.Term, snap.Config)
		n.config = snap.Config.Clone()
		n.commitIndex = snap.Index
		n.lastApplied = snap.Index
		n.lastStored = snap.Index
	}
	if len(entries) > 0 {
		if err := n.log.Append(entries); err != nil {
			n.mu.Unlock()
			return err
		}
		n.lastStored = n.log.LastIndex()
		for _, e := range entries {
			if e.Type == EntryChange {
				if conf, derr := Decode(e.Data); derr == nil {
					n.config = conf
				}
			}
		}
	}
	old := n.convertToLocked(StateFollower)
	n.follower = &FollowerState{}
	n.resetElectionTimerLocked()
	n.mu.Unlock()

	n.fireStateChange(old, StateFollower)
	return nil
}

// ID and Address are the node's own identity.
func (n *Node) ID() uint64      { return n.id }
func (n *Node) Address() string { return n.address }

// State returns the current coarse state.
func (n *Node) State() State {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.state
}

// CurrentTerm returns the durable term.
func (n *Node) CurrentTerm() uint64 {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.currentTerm
}

// CommitIndex and LastApplied expose the apply-loop cursors for tests and
// metrics.
func (n *Node) CommitIndex() uint64 {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.commitIndex
}

func (n *Node) LastApplied() uint64 {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.lastApplied
}

// Leader returns (id, address) of the currently known leader, or (0, "") if
// none is known (gateway's "leader" operation, §4.3).
func (n *Node) Leader() (uint64, string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	switch n.state {
	case StateLeader:
		return n.id, n.address
	case StateFollower:
		if n.follower != nil && n.follower.CurrentLeaderID != 0 {
			return n.follower.CurrentLeaderID, n.follower.CurrentLeaderAddress
		}
	}
	return 0, ""
}

// Configuration returns a copy of the current membership.
func (n *Node) Configuration() Configuration {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.config.Clone()
}

// fireStateChange invokes every registered observer. Must be called
// without n.mu held: observers are free to call back into the Node.
func (n *Node) fireStateChange(old, nw State) {
	if old == nw {
		return
	}
	n.mu.Lock()
	observers := make([]func(State, State), len(n.onStateChange))
	copy(observers, n.onStateChange)
	n.mu.Unlock()

	for _, fn := range observers {
		fn(old, nw)
	}
	if n.metrics != nil {
		n.metrics.SetRaftState(n.id, nw)
	}
}

func (n *Node) fireInitialBarrier() {
	n.mu.Lock()
	if n.barrierFired {
		n.mu.Unlock()
		return
	}
	n.barrierFired = true
	observers := make([]func(), len(n.onInitialBarrier))
	copy(observers, n.onInitialBarrier)
	n.mu.Unlock()

	for _, fn := range observers {
		fn()
	}
}

// convertToLocked validates against stateAllowedMoves (§4.4) and swaps
// n.state, returning the prior state. Caller holds n.mu and must unlock
// before calling fireStateChange with the returned value.
func (n *Node) convertToLocked(nw State) State {
	old := n.state
	if old != nw && !stateAllowedMoves[old][nw] {
		panic(newErr(CodeShutdown, "illegal raft state transition"))
	}
	n.state = nw
	return old
}

// convertToFollowerLocked demotes the node (§4.4), updating term/vote if
// the caller observed a higher term, and clearing leader/candidate state.
func (n *Node) convertToFollowerLocked(term uint64, leaderID uint64, leaderAddr string) State {
	if term > n.currentTerm {
		n.currentTerm = term
		n.votedFor = 0
		n.io.SetTerm(term)
	}
	old := n.convertToLocked(StateFollower)
	if n.leader != nil {
		for _, pr := range n.leader.Pending {
			select {
			case pr.done <- requestResult{Err: ErrLeadershipLost}:
			default:
			}
		}
		if n.leader.Transfer != nil && n.leader.Transfer.Done != nil {
			select {
			case n.leader.Transfer.Done <- ErrLeadershipLost:
			default:
			}
		}
	}
	n.candidate = nil
	n.leader = nil
	n.follower = &FollowerState{CurrentLeaderID: leaderID, CurrentLeaderAddress: leaderAddr}
	n.barrierFired = false
	n.resetElectionTimerLocked()
	return old
}

func (n *Node) convertToUnavailableLocked() State {
	old := n.convertToLocked(StateUnavailable)
	n.follower = nil
	n.candidate = nil
	n.leader = nil
	return old
}

func (n *Node) resetElectionTimerLocked() {
	if n.follower != nil {
		n.follower.ElectionTimerStart = n.io.Time()
		n.follower.RandomizedTimeout = n.cfg.ElectionTimeout + n.io.Random(0, n.cfg.ElectionTimeout)
	}
	if n.candidate != nil {
		n.candidate.ElectionTimerStart = n.io.Time()
		n.candidate.RandomizedTimeout = n.cfg.ElectionTimeout + n.io.Random(0, n.cfg.ElectionTimeout)
	}
}

// Tick drives every time-based transition: election timeouts (§4.5), leader
// heartbeats and snapshot timeouts (§4.6), promotion/transfer timeouts
// (§4.7). Callers invoke it on a steady interval from a reconcile loop;
// Tick is safe to call concurrently with Handle.
func (n *Node) Tick(now time.Time) {
	n.mu.Lock()
	switch n.state {
	case StateFollower:
		if n.follower != nil && now.Sub(n.follower.ElectionTimerStart) >= n.follower.RandomizedTimeout {
			n.mu.Unlock()
			n.startElection(false)
			return
		}
	case StateCandidate:
		if n.candidate != nil && now.Sub(n.candidate.ElectionTimerStart) >= n.candidate.RandomizedTimeout {
			n.mu.Unlock()
			n.startElection(n.candidate.PreVote)
			return
		}
	case StateLeader:
		n.mu.Unlock()
		n.leaderTick(now)
		return
	}
	n.mu.Unlock()
}

// Handle dispatches one inbound peer RPC (§4.5-§4.7) and returns the
// envelope to send back. It is the single entry point transport.go's
// listener calls for every decoded Message.
func (n *Node) Handle(msg Message) Message {
	switch msg.Kind {
	case MsgRequestVote:
		return Message{Kind: MsgRequestVoteResult, RequestVoteResult: n.handleRequestVote(msg.RequestVote)}
	case MsgAppendEntries:
		return Message{Kind: MsgAppendEntriesResult, AppendResult: n.handleAppendEntries(msg.AppendEntries)}
	case MsgInstallSnapshot:
		return Message{Kind: MsgInstallSnapshotResult, InstallResult: n.handleInstallSnapshot(msg.InstallSnapshot)}
	case MsgTimeoutNow:
		n.handleTimeoutNow(msg.TimeoutNow)
		return Message{}
	default:
		return Message{}
	}
}

// Close transitions the node to Unavailable and releases the I/O layer
// (§5 graceful shutdown). Safe to call once; a second call is a no-op.
func (n *Node) Close() error {
	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		return nil
	}
	n.closed = true
	old := n.convertToUnavailableLocked()
	n.mu.Unlock()

	n.fireStateChange(old, StateUnavailable)
	return n.io.Close()
}
