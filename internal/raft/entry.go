package raft

// EntryType distinguishes what a log entry carries.
type EntryType uint8

const (
	EntryCommand EntryType = iota
	EntryBarrier
	EntryChange
)

// EntryState is the small per-entry sub-state machine colocated with the
// entry (§9): created -> committed -> applied, or a terminal state reached
// from any point.
type EntryState uint8

const (
	EntryCreated EntryState = iota
	EntryCommitted
	EntryApplied
	EntryTruncated
	EntryReplaced
	EntrySnapshotted
)

// entryAllowedMoves is the debug-only invariant table from §9: a small enum
// colocated with the entry, transitions gated by an allowed-moves check.
var entryAllowedMoves = map[EntryState]map[EntryState]bool{
	EntryCreated: {
		EntryCommitted:   true,
		EntryTruncated:   true,
		EntryReplaced:    true,
		EntrySnapshotted: true,
	},
	EntryCommitted: {
		EntryApplied:     true,
		EntrySnapshotted: true,
	},
	EntryApplied: {
		EntrySnapshotted: true,
	},
}

// checkTransition panics in debug builds (debugInvariants) when an entry's
// sub-state machine is driven through a move that isn't in the allowed
// table; in non-debug builds it is a silent no-op (nothing is logged) so a
// bug here does not crash a release binary.
func checkTransition(from, to EntryState) {
	if !debugInvariants {
		return
	}
	if from == to {
		return
	}
	if !entryAllowedMoves[from][to] {
		panic(newErr(CodeShutdown, "illegal entry state transition"))
	}
}

// Entry is one record in the replicated log.
type Entry struct {
	Term  uint64
	Type  EntryType
	Data  []byte
	Local []byte // bounded local bookkeeping data, never replicated
	// IsLocal distinguishes entries originated on this node from ones
	// received as a replica; only local entries carry a pending Request.
	IsLocal bool

	state EntryState
	batch *batch
}

// State returns the entry's current sub-state.
func (e *Entry) State() EntryState { return e.state }

// SetState drives the entry's sub-state machine, applying the debug-only
// invariant check from §9.
func (e *Entry) SetState(s EntryState) {
	checkTransition(e.state, s)
	e.state = s
}

// batch is the shared handle to a single allocation backing one or more
// entries' payloads (§9's ownership split between unique-owned entries and
// shared, refcounted "views"). An entry's payload is released only when its
// own refcount drops to zero AND no sibling entry still points at the batch.
type batch struct {
	data     []byte
	refcount int
}

func newBatch(data []byte) *batch { return &batch{data: data, refcount: 0} }

func (b *batch) acquire() { b.refcount++ }

// release drops the refcount and reports whether this was the last
// reference, at which point the caller may free b.data.
func (b *batch) release() bool {
	b.refcount--
	if b.refcount < 0 {
		panic(newErr(CodeShutdown, "batch refcount underflow"))
	}
	return b.refcount == 0
}
