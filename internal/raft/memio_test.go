package raft

import (
	"sync"
	"time"
)

// memIO is an in-memory PersistentIO (§6.2) for driving Node-level tests
// without a BoltDB file or a real socket: Append/Truncate/SnapshotPut
// mirror BoltIO's behavior against a slice instead of a bucket, and Send
// routes through a shared memRouter synchronously so a test can drive an
// entire cluster from one goroutine with a virtual clock.
type memIO struct {
	mu sync.Mutex

	id      uint64
	address string

	term     uint64
	votedFor uint64
	config   Configuration
	entries  []*Entry
	snap     *Snapshot

	clock  time.Time
	jitter time.Duration

	router *memRouter
}

func newMemIO(id uint64, address string, router *memRouter) *memIO {
	return &memIO{
		id:      id,
		address: address,
		clock:   time.Unix(0, 0),
		jitter:  time.Duration(id) * 5 * time.Millisecond,
		router:  router,
	}
}

func (m *memIO) Init(id uint64, address string) error { return nil }

func (m *memIO) Bootstrap(config Configuration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.config = config.Clone()
	m.term = 0
	m.votedFor = 0
	return nil
}

func (m *memIO) Load() (uint64, uint64, *SnapshotMetadata, []*Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var meta *SnapshotMetadata
	if m.snap != nil {
		meta = &m.snap.Metadata
	}
	entries := append([]*Entry(nil), m.entries...)
	return m.term, m.votedFor, meta, entries, nil
}

func (m *memIO) SetTerm(term uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.term = term
	return nil
}

func (m *memIO) SetVote(id uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.votedFor = id
	return nil
}

func (m *memIO) Append(entries []*Entry, cb func(error)) {
	m.mu.Lock()
	m.entries = append(m.entries, entries...)
	m.mu.Unlock()
	if cb != nil {
		cb(nil)
	}
}

func (m *memIO) Truncate(index uint64, cb func(error)) {
	m.mu.Lock()
	kept := m.entries[:0]
	for i, e := range m.entries {
		if uint64(i)+1 >= index {
			break
		}
		kept = append(kept, e)
	}
	m.entries = kept
	m.mu.Unlock()
	if cb != nil {
		cb(nil)
	}
}

func (m *memIO) SnapshotPut(trailing uint64, snap Snapshot, cb func(error)) {
	m.mu.Lock()
	s := snap
	m.snap = &s
	m.mu.Unlock()
	if cb != nil {
		cb(nil)
	}
}

func (m *memIO) SnapshotGet(cb func(*Snapshot, error)) {
	m.mu.Lock()
	s := m.snap
	m.mu.Unlock()
	cb(s, nil)
}

func (m *memIO) AsyncWork(job func() error, cb func(error)) {
	err := job()
	if cb != nil {
		cb(err)
	}
}

func (m *memIO) Send(address string, message Message, cb func(Message, error)) {
	target := m.router.lookup(address)
	if target == nil {
		cb(Message{}, ErrNoConnection)
		return
	}
	resp := target.Handle(message)
	cb(resp, nil)
}

func (m *memIO) Time() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.clock
}

// Random returns a per-node-deterministic jitter instead of a real random
// draw, so tests get a reproducible election winner (the lowest id) rather
// than flaking on a coin flip.
func (m *memIO) Random(min, max time.Duration) time.Duration {
	if max <= min {
		return min
	}
	j := m.jitter
	if j > max-min {
		j = max - min
	}
	return min + j
}

func (m *memIO) Close() error { return nil }

func (m *memIO) setClock(t time.Time) {
	m.mu.Lock()
	m.clock = t
	m.mu.Unlock()
}

// memRouter maps a server address to the Node listening on it, letting
// memIO.Send dispatch synchronously within the calling test goroutine.
type memRouter struct {
	mu    sync.Mutex
	nodes map[string]*Node
}

func newMemRouter() *memRouter {
	return &memRouter{nodes: make(map[string]*Node)}
}

func (r *memRouter) register(address string, n *Node) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nodes[address] = n
}

func (r *memRouter) lookup(address string) *Node {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.nodes[address]
}

// fsmRecorder is a minimal FSM that records every applied entry's data,
// snapshots as a single byte holding the number of applied entries, and
// only counts Restore calls, enough to exercise the Node <-> FSM contract
// without a real SQLite engine behind it.
type fsmRecorder struct {
	mu      sync.Mutex
	applied [][]byte
	snaps   int
	restore int
}

func (f *fsmRecorder) Apply(entry *Entry) (interface{}, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.applied = append(f.applied, entry.Data)
	return len(f.applied), nil
}

func (f *fsmRecorder) Snapshot() ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.snaps++
	return []byte{byte(len(f.applied))}, nil
}

func (f *fsmRecorder) Restore(data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.restore++
	return nil
}

func (f *fsmRecorder) appliedCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.applied)
}
