package raft

import "sync/atomic"

// debugInvariants gates the entry sub-state-machine transition check (§9's
// "debug-only invariant check, allowed moves table"). Off by default so a
// release binary lets an illegal move through unchecked instead of
// panicking; tests flip it on via EnableDebugInvariants.
var debugInvariants = false

// EnableDebugInvariants turns on the allowed-moves assertion for the
// lifetime of the process; intended for tests only.
func EnableDebugInvariants(on bool) { debugInvariants = on }

// lifecycleCounters is the single accessor for the global mutable lifecycle
// counters §9 asks for: a per-node count of entries created/freed, exposed
// through Log.LifecycleCounters, which only tests read.
type lifecycleCounters struct {
	entriesCreated int64
	entriesFreed   int64
}

func (c *lifecycleCounters) created() { atomic.AddInt64(&c.entriesCreated, 1) }
func (c *lifecycleCounters) freed()   { atomic.AddInt64(&c.entriesFreed, 1) }

func (c *lifecycleCounters) snapshot() (created, freed int64) {
	return atomic.LoadInt64(&c.entriesCreated), atomic.LoadInt64(&c.entriesFreed)
}
