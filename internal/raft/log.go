package raft

import "sync"

// Log is the ring-buffered, in-memory cache of persisted entries described
// by §3.2: a monotonically-indexed sequence (first real index = 1), a
// companion refcount per live entry, and a per-entry sub-state machine.
//
// The ring-buffer nature is modeled with a plain slice plus a base offset;
// Go's slice growth already gives amortized O(1) append, and the bounded
// memory that matters here (prefix trims on snapshot, suffix trims on
// truncate) is preserved by Compact/Truncate.
type Log struct {
	mu          sync.Mutex
	entries     []*Entry
	base        uint64 // raft-index of entries[0]; 0 when the log is empty
	snapIndex   uint64
	snapTerm    uint64
	snapConfig  Configuration
	lifecycle   lifecycleCounters
}

// NewLog returns an empty log with no snapshot.
func NewLog() *Log { return &Log{} }

// FirstIndex is the lowest index still retained (may be past a snapshot).
func (l *Log) FirstIndex() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.firstIndexLocked()
}

func (l *Log) firstIndexLocked() uint64 {
	if len(l.entries) == 0 {
		return l.snapIndex + 1
	}
	return l.base
}

// LastIndex is the highest index present in the log (0 if empty and no
// snapshot).
func (l *Log) LastIndex() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.lastIndexLocked()
}

func (l *Log) lastIndexLocked() uint64 {
	if len(l.entries) == 0 {
		return l.snapIndex
	}
	return l.base + uint64(len(l.entries)) - 1
}

// TermOf returns the term of the entry at index, or 0 if unknown (before the
// first retained entry and not the snapshot boundary).
func (l *Log) TermOf(index uint64) uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.termOfLocked(index)
}

func (l *Log) termOfLocked(index uint64) uint64 {
	if index == 0 {
		return 0
	}
	if index == l.snapIndex {
		return l.snapTerm
	}
	if len(l.entries) == 0 || index < l.base || index > l.lastIndexLocked() {
		return 0
	}
	return l.entries[index-l.base].Term
}

// Get returns the entry at index without acquiring it (no refcount change);
// used by read-mostly callers like the replication sender that only inspect
// term/type.
func (l *Log) Get(index uint64) (*Entry, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.entries) == 0 || index < l.base || index > l.lastIndexLocked() {
		return nil, false
	}
	return l.entries[index-l.base], true
}

// Slice returns entries in [from, to) without acquiring them.
func (l *Log) Slice(from, to uint64) []*Entry {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.entries) == 0 || from < l.base {
		return nil
	}
	last := l.lastIndexLocked()
	if to > last+1 {
		to = last + 1
	}
	if from >= to {
		return nil
	}
	out := make([]*Entry, to-from)
	copy(out, l.entries[from-l.base:to-l.base])
	return out
}

// Append adds entries to the tail. Leader append-only: it is a programming
// error to call Append when the new entries would not extend the log
// contiguously, so callers (election/replication) resolve conflicts via
// Truncate first.
func (l *Log) Append(entries []*Entry) error {
	if len(entries) == 0 {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	next := l.lastIndexLocked() + 1
	if len(l.entries) == 0 && l.base == 0 {
		l.base = next
	}
	for _, e := range entries {
		e.state = EntryCreated
		l.lifecycle.created()
		l.entries = append(l.entries, e)
	}
	return nil
}

// Truncate drops every entry at index and after (suffix conflict
// resolution). Returns ErrShutdown if any of the discarded entries was
// already committed, since the leader append-only invariant guarantees a
// correct leader never asks a follower to do this.
func (l *Log) Truncate(index uint64) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.entries) == 0 || index < l.base {
		return nil
	}
	last := l.lastIndexLocked()
	if index > last {
		return nil
	}
	for i := index; i <= last; i++ {
		e := l.entries[i-l.base]
		if e.state == EntryCommitted || e.state == EntryApplied {
			return ErrShutdown
		}
	}
	for i := index; i <= last; i++ {
		e := l.entries[i-l.base]
		e.SetState(EntryTruncated)
		l.freeEntryLocked(e)
	}
	l.entries = l.entries[:index-l.base]
	return nil
}

// Compact discards entries up to and including newSnapIndex, recording the
// new snapshot boundary. trailing entries at the tail of the compacted
// range are retained so followers slightly behind can still be caught up
// without a snapshot.
func (l *Log) Compact(newSnapIndex, newSnapTerm uint64, config Configuration, trailing uint64) {
	l.mu.Lock()
	defer l.mu.Unlock()

	keepFrom := newSnapIndex + 1
	if trailing > 0 && newSnapIndex > trailing {
		keepFrom = newSnapIndex - trailing + 1
	}

	if len(l.entries) > 0 {
		for i := l.base; i < keepFrom && i <= l.lastIndexLocked(); i++ {
			e := l.entries[i-l.base]
			if e.state != EntryTruncated && e.state != EntryReplaced {
				e.SetState(EntrySnapshotted)
			}
			l.freeEntryLocked(e)
		}
		if keepFrom > l.base {
			trimAt := keepFrom - l.base
			if trimAt > uint64(len(l.entries)) {
				trimAt = uint64(len(l.entries))
			}
			l.entries = append([]*Entry{}, l.entries[trimAt:]...)
			l.base = keepFrom
			if len(l.entries) == 0 {
				l.base = 0
			}
		}
	}

	l.snapIndex = newSnapIndex
	l.snapTerm = newSnapTerm
	l.snapConfig = config.Clone()
}

// ReplaceWithSnapshot discards the entire log and installs a fresh
// snapshot boundary, used when InstallSnapshot replaces local state wholesale.
func (l *Log) ReplaceWithSnapshot(index, term uint64, config Configuration) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, e := range l.entries {
		e.SetState(EntryReplaced)
		l.freeEntryLocked(e)
	}
	l.entries = nil
	l.base = 0
	l.snapIndex = index
	l.snapTerm = term
	l.snapConfig = config.Clone()
}

// SnapshotIndex/SnapshotTerm/SnapshotConfig expose the current snapshot
// boundary metadata.
func (l *Log) SnapshotIndex() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.snapIndex
}

func (l *Log) SnapshotTerm() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.snapTerm
}

func (l *Log) SnapshotConfig() Configuration {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.snapConfig.Clone()
}

// Acquire increments an entry's refcount, returning it for the duration of
// an in-flight I/O request (§5 "resource acquisition").
func (l *Log) Acquire(index uint64) (*Entry, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.entries) == 0 || index < l.base || index > l.lastIndexLocked() {
		return nil, false
	}
	e := l.entries[index-l.base]
	if e.batch != nil {
		e.batch.acquire()
	}
	return e, true
}

// Release balances a prior Acquire; when the batch backing e's payload
// drops to zero references AND e is no longer live in the log, the payload
// is considered freed (observable via LifecycleCounters for tests).
func (l *Log) Release(e *Entry) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if e.batch == nil {
		return
	}
	if e.batch.release() && e.state != EntryCreated && e.state != EntryCommitted && e.state != EntryApplied {
		l.lifecycle.freed()
	}
}

func (l *Log) freeEntryLocked(e *Entry) {
	if e.batch == nil {
		l.lifecycle.freed()
		return
	}
	if e.batch.refcount == 0 {
		l.lifecycle.freed()
	}
}

// LifecycleCounters exposes the per-node created/freed entry counts (§9).
func (l *Log) LifecycleCounters() (created, freed int64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.lifecycle.snapshot()
}
