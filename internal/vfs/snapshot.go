package vfs

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// Snapshot serializes every file in the store: a count, then per file a
// length-prefixed name and a length-prefixed page payload. Mirrors
// internal/raft/configuration.go's manual length-prefixed encoding rather
// than reaching for a general serializer, since the shape (a small,
// fixed, self-contained record) doesn't benefit from one.
func (s *Store) Snapshot() []byte {
	names := s.Names()
	var buf bytes.Buffer
	var countBuf [8]byte
	binary.LittleEndian.PutUint64(countBuf[:], uint64(len(names)))
	buf.Write(countBuf[:])

	for _, name := range names {
		f := s.Open(name)
		data := f.Snapshot()

		var nameLen [8]byte
		binary.LittleEndian.PutUint64(nameLen[:], uint64(len(name)))
		buf.Write(nameLen[:])
		buf.WriteString(name)

		var dataLen [8]byte
		binary.LittleEndian.PutUint64(dataLen[:], uint64(len(data)))
		buf.Write(dataLen[:])
		buf.Write(data)
	}
	return buf.Bytes()
}

// Restore replaces the store's contents wholesale from a prior Snapshot.
func (s *Store) Restore(data []byte) error {
	if len(data) < 8 {
		return fmt.Errorf("vfs: truncated snapshot header")
	}
	count := binary.LittleEndian.Uint64(data[:8])
	off := 8

	s.mu.Lock()
	s.files = make(map[string]*File, count)
	s.mu.Unlock()

	for i := uint64(0); i < count; i++ {
		if off+8 > len(data) {
			return fmt.Errorf("vfs: truncated name length")
		}
		nameLen := binary.LittleEndian.Uint64(data[off : off+8])
		off += 8
		if uint64(off)+nameLen > uint64(len(data)) {
			return fmt.Errorf("vfs: truncated name")
		}
		name := string(data[off : off+int(nameLen)])
		off += int(nameLen)

		if off+8 > len(data) {
			return fmt.Errorf("vfs: truncated data length")
		}
		dataLen := binary.LittleEndian.Uint64(data[off : off+8])
		off += 8
		if uint64(off)+dataLen > uint64(len(data)) {
			return fmt.Errorf("vfs: truncated file data")
		}
		payload := data[off : off+int(dataLen)]
		off += int(dataLen)

		s.Open(name).Restore(payload)
	}
	return nil
}
