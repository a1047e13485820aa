// Package vfs models the in-memory page store each open database is backed
// by: a byte-addressable set of fixed-size pages per named file (the main
// database file and its WAL), snapshot-able as a whole. It is explicitly not
// a full SQLite VFS shim and nothing else in the repository uses it:
// internal/gateway talks to the real engine through mattn/go-sqlite3, no WAL
// frames are captured here, and the Raft FSM (gateway.StateMachine) does not
// snapshot or restore this store.
package vfs

import "sync"

const pageSize = 4096

// File is one named, page-addressable byte region (a database file or its
// WAL), sized in whole pages.
type File struct {
	mu    sync.RWMutex
	pages [][pageSize]byte
}

// Store is the named collection of Files bound to one "vfs name" the
// gateway passes to SQLite's open call (§4.3's `open(name, flags, vfs)`).
type Store struct {
	mu    sync.Mutex
	files map[string]*File
}

// NewStore returns an empty, ready-to-use page store.
func NewStore() *Store {
	return &Store{files: make(map[string]*File)}
}

// Open returns the named file, creating it if absent.
func (s *Store) Open(name string) *File {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, ok := s.files[name]
	if !ok {
		f = &File{}
		s.files[name] = f
	}
	return f
}

// Delete drops a named file entirely (SQLite's unlink on journal/WAL
// removal).
func (s *Store) Delete(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.files, name)
}

// Size returns the file's length in bytes (whole pages only).
func (f *File) Size() int64 {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return int64(len(f.pages)) * pageSize
}

// ReadAt copies the byte range [off, off+len(p)) into p, zero-filling any
// portion past the current end of file (SQLite's xRead short-read
// contract for reads past EOF within an allocated region is not modeled;
// out-of-range reads here just return zeros).
func (f *File) ReadAt(p []byte, off int64) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	for i := range p {
		pos := off + int64(i)
		page := int(pos / pageSize)
		if page < 0 || page >= len(f.pages) {
			p[i] = 0
			continue
		}
		p[i] = f.pages[page][pos%pageSize]
	}
}

// WriteAt writes p at byte offset off, growing the file with zero pages as
// needed.
func (f *File) WriteAt(p []byte, off int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	last := off + int64(len(p))
	lastPage := int(last / pageSize)
	if last%pageSize != 0 {
		lastPage++
	}
	for len(f.pages) < lastPage {
		f.pages = append(f.pages, [pageSize]byte{})
	}
	for i, b := range p {
		pos := off + int64(i)
		f.pages[pos/pageSize][pos%pageSize] = b
	}
}

// Truncate resizes the file to exactly size bytes, dropping or zero-filling
// pages as needed (SQLite's xTruncate).
func (f *File) Truncate(size int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	pages := int(size / pageSize)
	if size%pageSize != 0 {
		pages++
	}
	if pages <= len(f.pages) {
		f.pages = f.pages[:pages]
		return
	}
	for len(f.pages) < pages {
		f.pages = append(f.pages, [pageSize]byte{})
	}
}

// Snapshot copies the file's full contents out for persistence (used by
// Store.Snapshot).
func (f *File) Snapshot() []byte {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := make([]byte, len(f.pages)*pageSize)
	for i, p := range f.pages {
		copy(out[i*pageSize:], p[:])
	}
	return out
}

// Restore replaces the file's contents wholesale from a prior Snapshot.
func (f *File) Restore(data []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := (len(data) + pageSize - 1) / pageSize
	pages := make([][pageSize]byte, n)
	for i := range pages {
		start := i * pageSize
		end := start + pageSize
		if end > len(data) {
			end = len(data)
		}
		copy(pages[i][:], data[start:end])
	}
	f.pages = pages
}

// Names lists every file currently held, used by Store.Snapshot/Restore.
func (s *Store) Names() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make([]string, 0, len(s.files))
	for name := range s.files {
		names = append(names, name)
	}
	return names
}
