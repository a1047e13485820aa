package raft

import "time"

// FSM is the user state machine a Node replicates commands to (§2 "apply
// loop"). Implementations must be deterministic given the same sequence of
// Apply calls across every replica.
type FSM interface {
	Apply(entry *Entry) (interface{}, error)
	Snapshot() ([]byte, error)
	Restore(data []byte) error
}

// PersistentIO is the collaborator described in §6.2: everything the core
// needs from durable storage and the network, expressed as an interface so
// it is mockable in tests. internal/raft/diskio.go and
// internal/raft/transport.go provide the concrete BoltDB/TCP implementations
// (§4.9, §4.10); tests substitute an in-memory fake.
type PersistentIO interface {
	Init(id uint64, address string) error

	// Load returns the durable term/vote, an optional snapshot, and the
	// entries retained after it.
	Load() (term uint64, votedFor uint64, snap *SnapshotMetadata, entries []*Entry, err error)

	Bootstrap(config Configuration) error

	SetTerm(term uint64) error
	SetVote(id uint64) error

	// Append persists entries in submission order; cb fires once durable.
	// Per §6.2, append callbacks fire in submission order per node.
	Append(entries []*Entry, cb func(error))

	// Truncate takes effect before any subsequent Append's callback fires.
	Truncate(index uint64, cb func(error))

	SnapshotPut(trailing uint64, snap Snapshot, cb func(error))
	SnapshotGet(cb func(*Snapshot, error))

	// AsyncWork runs job on a worker, invoking cb with its result on the
	// node's loop.
	AsyncWork(job func() error, cb func(error))

	// Send transmits message to the addressed server; cb fires with the
	// decoded response or an error (including CodeNoConnection, which is
	// not fatal).
	Send(address string, message Message, cb func(Message, error))

	Time() time.Time
	Random(min, max time.Duration) time.Duration

	Close() error
}

// SnapshotMetadata describes a persisted snapshot without its payload.
type SnapshotMetadata struct {
	Index  uint64
	Term   uint64
	Config Configuration
}

// Snapshot is a full snapshot: metadata plus the FSM's serialized buffers.
// §9's Open Question on multi-buffer snapshots is resolved here as a single
// buffer, matching the `n_bufs == 1` assumption observed in the original.
type Snapshot struct {
	Metadata SnapshotMetadata
	Data     []byte
}
