package raft

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEntryStateTransitions(t *testing.T) {
	e := &Entry{}
	assert.Equal(t, EntryCreated, e.State())

	e.SetState(EntryCommitted)
	assert.Equal(t, EntryCommitted, e.State())

	e.SetState(EntryApplied)
	assert.Equal(t, EntryApplied, e.State())
}

func TestEntryIllegalTransitionPanicsUnderDebugInvariants(t *testing.T) {
	EnableDebugInvariants(true)
	defer EnableDebugInvariants(false)

	e := &Entry{}
	e.SetState(EntryCommitted)
	e.SetState(EntryApplied)

	assert.Panics(t, func() {
		e.SetState(EntryCreated)
	})
}

func TestEntryIllegalTransitionIsNoopWithoutDebugInvariants(t *testing.T) {
	EnableDebugInvariants(false)

	e := &Entry{}
	e.SetState(EntryApplied)

	assert.NotPanics(t, func() {
		e.SetState(EntryCreated)
	})
}

func TestBatchAcquireRelease(t *testing.T) {
	b := newBatch([]byte("payload"))
	assert.Equal(t, 0, b.refcount)

	b.acquire()
	b.acquire()
	assert.Equal(t, 2, b.refcount)

	assert.False(t, b.release())
	assert.True(t, b.release())
}

func TestBatchReleaseUnderflowPanics(t *testing.T) {
	b := newBatch(nil)
	assert.Panics(t, func() {
		b.release()
	})
}
