package raft

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func entries(n int, term uint64) []*Entry {
	out := make([]*Entry, n)
	for i := range out {
		out[i] = &Entry{Term: term, Type: EntryCommand, Data: []byte("x")}
	}
	return out
}

func TestLogEmptyBounds(t *testing.T) {
	l := NewLog()
	assert.Equal(t, uint64(1), l.FirstIndex())
	assert.Equal(t, uint64(0), l.LastIndex())
	assert.Equal(t, uint64(0), l.TermOf(1))
}

func TestLogAppendAndGet(t *testing.T) {
	l := NewLog()
	require.NoError(t, l.Append(entries(3, 1)))

	assert.Equal(t, uint64(1), l.FirstIndex())
	assert.Equal(t, uint64(3), l.LastIndex())
	assert.Equal(t, uint64(1), l.TermOf(2))

	e, ok := l.Get(2)
	require.True(t, ok)
	assert.Equal(t, EntryCreated, e.State())

	_, ok = l.Get(4)
	assert.False(t, ok)
}

func TestLogSlice(t *testing.T) {
	l := NewLog()
	require.NoError(t, l.Append(entries(5, 1)))

	s := l.Slice(2, 4)
	assert.Len(t, s, 2)

	s = l.Slice(4, 100)
	assert.Len(t, s, 2, "slice should clamp to last index")

	s = l.Slice(10, 20)
	assert.Empty(t, s)
}

func TestLogTruncateDropsUncommittedSuffix(t *testing.T) {
	l := NewLog()
	require.NoError(t, l.Append(entries(5, 1)))

	require.NoError(t, l.Truncate(3))
	assert.Equal(t, uint64(2), l.LastIndex())
}

func TestLogTruncateRejectsCommittedEntries(t *testing.T) {
	l := NewLog()
	require.NoError(t, l.Append(entries(3, 1)))

	e, ok := l.Get(2)
	require.True(t, ok)
	e.SetState(EntryCommitted)

	err := l.Truncate(2)
	assert.ErrorIs(t, err, ErrShutdown)
}

func TestLogCompactRetainsTrailingEntries(t *testing.T) {
	l := NewLog()
	require.NoError(t, l.Append(entries(10, 1)))

	l.Compact(5, 1, Configuration{}, 2)

	assert.Equal(t, uint64(5), l.SnapshotIndex())
	assert.Equal(t, uint64(4), l.FirstIndex(), "the two trailing entries up to index 5 should survive")
	assert.Equal(t, uint64(10), l.LastIndex())
}

func TestLogCompactWithoutTrailingDropsEverythingUpToIndex(t *testing.T) {
	l := NewLog()
	require.NoError(t, l.Append(entries(10, 1)))

	l.Compact(5, 1, Configuration{}, 0)

	assert.Equal(t, uint64(6), l.FirstIndex())
}

func TestLogReplaceWithSnapshotResetsLog(t *testing.T) {
	l := NewLog()
	require.NoError(t, l.Append(entries(5, 1)))

	cfg := threeVoterConfig()
	l.ReplaceWithSnapshot(10, 2, cfg)

	assert.Equal(t, uint64(10), l.LastIndex())
	assert.Equal(t, uint64(10), l.SnapshotIndex())
	assert.Equal(t, uint64(2), l.SnapshotTerm())
	assert.Equal(t, cfg, l.SnapshotConfig())
}

func TestLogAcquireReleaseLifecycle(t *testing.T) {
	l := NewLog()
	e := &Entry{Term: 1, batch: newBatch([]byte("data"))}
	require.NoError(t, l.Append([]*Entry{e}))

	acquired, ok := l.Acquire(1)
	require.True(t, ok)
	assert.Equal(t, 1, acquired.batch.refcount)

	l.Release(acquired)
	assert.Equal(t, 0, acquired.batch.refcount)
}

func TestLogLifecycleCountersTrackCreatedAndFreed(t *testing.T) {
	l := NewLog()
	require.NoError(t, l.Append(entries(3, 1)))

	created, freed := l.LifecycleCounters()
	assert.Equal(t, int64(3), created)
	assert.Equal(t, int64(0), freed)

	require.NoError(t, l.Truncate(1))
	created, freed = l.LifecycleCounters()
	assert.Equal(t, int64(3), created)
	assert.Equal(t, int64(3), freed)
}
