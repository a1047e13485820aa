package vfs

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStoreOpenCreatesAndReuses(t *testing.T) {
	s := NewStore()

	f1 := s.Open("main.db")
	f2 := s.Open("main.db")
	assert.Same(t, f1, f2, "Open must return the same *File for the same name")

	assert.ElementsMatch(t, []string{"main.db"}, s.Names())
}

func TestStoreDelete(t *testing.T) {
	s := NewStore()
	s.Open("main.db")
	s.Open("main.db-wal")

	s.Delete("main.db-wal")
	assert.ElementsMatch(t, []string{"main.db"}, s.Names())
}

func TestFileWriteReadRoundTrip(t *testing.T) {
	f := &File{}
	payload := []byte("hello, sqlite")

	f.WriteAt(payload, 100)

	out := make([]byte, len(payload))
	f.ReadAt(out, 100)
	assert.Equal(t, payload, out)
}

func TestFileReadPastEOFReturnsZeros(t *testing.T) {
	f := &File{}
	f.WriteAt([]byte("x"), 0)

	out := make([]byte, 16)
	f.ReadAt(out, 10000)
	for _, b := range out {
		assert.Equal(t, byte(0), b)
	}
}

func TestFileWriteGrowsPages(t *testing.T) {
	f := &File{}
	f.WriteAt([]byte("x"), pageSize*2+10)
	assert.Equal(t, int64((pageSize*2+10+pageSize)/pageSize*pageSize), f.Size())
}

func TestFileTruncateShrinksAndGrows(t *testing.T) {
	f := &File{}
	f.WriteAt([]byte("data"), pageSize*3)
	require.Equal(t, int64(pageSize*4), f.Size())

	f.Truncate(pageSize)
	assert.Equal(t, int64(pageSize), f.Size())

	f.Truncate(pageSize * 2)
	assert.Equal(t, int64(pageSize*2), f.Size())
}

func TestFileSnapshotRestoreRoundTrip(t *testing.T) {
	f := &File{}
	f.WriteAt([]byte("snapshot me"), 42)

	snap := f.Snapshot()

	restored := &File{}
	restored.Restore(snap)

	out := make([]byte, len("snapshot me"))
	restored.ReadAt(out, 42)
	assert.Equal(t, []byte("snapshot me"), out)
}

func TestStoreSnapshotRestoreRoundTrip(t *testing.T) {
	s := NewStore()
	s.Open("main.db").WriteAt([]byte("db-bytes"), 0)
	s.Open("main.db-wal").WriteAt([]byte("wal-bytes"), pageSize)

	snap := s.Snapshot()

	restored := NewStore()
	require.NoError(t, restored.Restore(snap))

	assert.ElementsMatch(t, s.Names(), restored.Names())

	out := make([]byte, len("db-bytes"))
	restored.Open("main.db").ReadAt(out, 0)
	assert.Equal(t, []byte("db-bytes"), out)

	out = make([]byte, len("wal-bytes"))
	restored.Open("main.db-wal").ReadAt(out, pageSize)
	assert.Equal(t, []byte("wal-bytes"), out)
}

func TestStoreRestoreRejectsTruncatedHeader(t *testing.T) {
	s := NewStore()
	err := s.Restore([]byte{1, 2, 3})
	assert.Error(t, err)
}

func TestStoreRestoreRejectsTruncatedPayload(t *testing.T) {
	s := NewStore()
	full := NewStore()
	full.Open("x").WriteAt([]byte("data"), 0)
	snap := full.Snapshot()

	err := s.Restore(snap[:len(snap)-4])
	assert.Error(t, err)
}
