package raft

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math/rand"
	"path/filepath"
	"sync"
	"time"

	"github.com/hashicorp/go-msgpack/v2/codec"
	bolt "go.etcd.io/bbolt"
)

// Bucket names, following a bucket-per-entity layout.
var (
	bucketMeta     = []byte("meta")
	bucketEntries  = []byte("entries")
	bucketSnapshot = []byte("snapshot")
)

var (
	keyTerm     = []byte("term")
	keyVotedFor = []byte("voted_for")
	keyConfig   = []byte("config")

	keySnapIndex  = []byte("index")
	keySnapTerm   = []byte("term")
	keySnapConfig = []byte("config")
	keySnapData   = []byte("data")
)

// BoltIO is the concrete PersistentIO (§4.10, §6.2) backing a Node with a
// BoltDB file: one file, one bucket per entity, msgpack-encoded log entries
// (term, vote and snapshot index/term as little-endian uint64s,
// configurations via Encode), synchronous Update/View calls wrapped so they present the async
// callback-style interface the core expects.
type BoltIO struct {
	mu      sync.Mutex
	db      *bolt.DB
	workers chan func()

	rnd *rand.Rand

	transport *Transport
}

// NewBoltIO opens (creating if absent) a BoltDB file under dataDir named
// after the server id, mirroring NewBoltStore's dbPath construction.
func NewBoltIO(dataDir string, id uint64, transport *Transport) (*BoltIO, error) {
	path := filepath.Join(dataDir, fmt.Sprintf("raft-%d.db", id))
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, wrapErr(CodeIO, "raft: failed to open database", err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		for _, b := range [][]byte{bucketMeta, bucketEntries, bucketSnapshot} {
			if _, err := tx.CreateBucketIfNotExists(b); err != nil {
				return fmt.Errorf("failed to create bucket %s: %w", b, err)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, wrapErr(CodeIO, "raft: failed to initialize buckets", err)
	}
	io := &BoltIO{
		db:        db,
		workers:   make(chan func(), 64),
		rnd:       rand.New(rand.NewSource(time.Now().UnixNano() + int64(id))),
		transport: transport,
	}
	go io.workerLoop()
	return io, nil
}

func (b *BoltIO) workerLoop() {
	for job := range b.workers {
		job()
	}
}

func (b *BoltIO) Init(id uint64, address string) error { return nil }

func (b *BoltIO) Bootstrap(config Configuration) error {
	return b.db.Update(func(tx *bolt.Tx) error {
		meta := tx.Bucket(bucketMeta)
		if err := meta.Put(keyConfig, Encode(config)); err != nil {
			return err
		}
		var zero [8]byte
		if err := meta.Put(keyTerm, zero[:]); err != nil {
			return err
		}
		return meta.Put(keyVotedFor, zero[:])
	})
}

// Load reconstructs term, vote, snapshot metadata and the retained entries
// from the buckets (§6.2 "Load").
func (b *BoltIO) Load() (uint64, uint64, *SnapshotMetadata, []*Entry, error) {
	var term, votedFor uint64
	var snap *SnapshotMetadata
	var entries []*Entry

	err := b.db.View(func(tx *bolt.Tx) error {
		meta := tx.Bucket(bucketMeta)
		if v := meta.Get(keyTerm); len(v) == 8 {
			term = binary.LittleEndian.Uint64(v)
		}
		if v := meta.Get(keyVotedFor); len(v) == 8 {
			votedFor = binary.LittleEndian.Uint64(v)
		}

		snapBucket := tx.Bucket(bucketSnapshot)
		if idxRaw := snapBucket.Get(keySnapIndex); idxRaw != nil {
			cfgRaw := snapBucket.Get(keySnapConfig)
			cfg, err := Decode(cfgRaw)
			if err != nil {
				return err
			}
			snap = &SnapshotMetadata{
				Index:  binary.LittleEndian.Uint64(idxRaw),
				Term:   binary.LittleEndian.Uint64(snapBucket.Get(keySnapTerm)),
				Config: cfg,
			}
		}

		eb := tx.Bucket(bucketEntries)
		return eb.ForEach(func(k, v []byte) error {
			e, err := decodeEntry(v)
			if err != nil {
				return err
			}
			entries = append(entries, e)
			return nil
		})
	})
	if err != nil {
		return 0, 0, nil, nil, wrapErr(CodeIO, "raft: load failed", err)
	}
	return term, votedFor, snap, entries, nil
}

func (b *BoltIO) SetTerm(term uint64) error {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], term)
	return b.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketMeta).Put(keyTerm, buf[:])
	})
}

func (b *BoltIO) SetVote(id uint64) error {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], id)
	return b.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketMeta).Put(keyVotedFor, buf[:])
	})
}

// Append persists entries keyed by big-endian index so BoltDB's sorted
// iteration reconstructs them in log order (§6.2). Indices are assigned
// sequentially starting right after the bucket's current highest key,
// matching the in-memory Log's tail-append invariant.
func (b *BoltIO) Append(entries []*Entry, cb func(error)) {
	b.async(func() error {
		return b.db.Update(func(tx *bolt.Tx) error {
			eb := tx.Bucket(bucketEntries)
			next := uint64(1)
			if k, _ := eb.Cursor().Last(); k != nil {
				next = binary.BigEndian.Uint64(k) + 1
			}
			for i, e := range entries {
				data, err := encodeEntry(e)
				if err != nil {
					return err
				}
				if err := eb.Put(indexKey(next+uint64(i)), data); err != nil {
					return err
				}
			}
			return nil
		})
	}, cb)
}

func indexKey(index uint64) []byte {
	var key [8]byte
	binary.BigEndian.PutUint64(key[:], index)
	return key[:]
}

func (b *BoltIO) Truncate(index uint64, cb func(error)) {
	b.async(func() error {
		return b.db.Update(func(tx *bolt.Tx) error {
			eb := tx.Bucket(bucketEntries)
			c := eb.Cursor()
			start := indexKey(index)
			for k, _ := c.Seek(start); k != nil; k, _ = c.Next() {
				if err := eb.Delete(k); err != nil {
					return err
				}
			}
			return nil
		})
	}, cb)
}

func (b *BoltIO) SnapshotPut(trailing uint64, snap Snapshot, cb func(error)) {
	b.async(func() error {
		return b.db.Update(func(tx *bolt.Tx) error {
			sb := tx.Bucket(bucketSnapshot)
			var idxBuf, termBuf [8]byte
			binary.LittleEndian.PutUint64(idxBuf[:], snap.Metadata.Index)
			binary.LittleEndian.PutUint64(termBuf[:], snap.Metadata.Term)
			if err := sb.Put(keySnapIndex, idxBuf[:]); err != nil {
				return err
			}
			if err := sb.Put(keySnapTerm, termBuf[:]); err != nil {
				return err
			}
			if err := sb.Put(keySnapConfig, Encode(snap.Metadata.Config)); err != nil {
				return err
			}
			if err := sb.Put(keySnapData, snap.Data); err != nil {
				return err
			}

			eb := tx.Bucket(bucketEntries)
			c := eb.Cursor()
			cutoff := snap.Metadata.Index
			if trailing > 0 && cutoff > trailing {
				cutoff -= trailing
			} else {
				cutoff = 0
			}
			end := indexKey(cutoff + 1)
			for k, _ := c.First(); k != nil && bytes.Compare(k, end) < 0; k, _ = c.Next() {
				if err := eb.Delete(k); err != nil {
					return err
				}
			}
			return nil
		})
	}, cb)
}

func (b *BoltIO) SnapshotGet(cb func(*Snapshot, error)) {
	b.workers <- func() {
		var snap *Snapshot
		err := b.db.View(func(tx *bolt.Tx) error {
			sb := tx.Bucket(bucketSnapshot)
			idxRaw := sb.Get(keySnapIndex)
			if idxRaw == nil {
				return nil
			}
			cfg, err := Decode(sb.Get(keySnapConfig))
			if err != nil {
				return err
			}
			data := append([]byte(nil), sb.Get(keySnapData)...)
			snap = &Snapshot{
				Metadata: SnapshotMetadata{
					Index:  binary.LittleEndian.Uint64(idxRaw),
					Term:   binary.LittleEndian.Uint64(sb.Get(keySnapTerm)),
					Config: cfg,
				},
				Data: data,
			}
			return nil
		})
		cb(snap, err)
	}
}

func (b *BoltIO) AsyncWork(job func() error, cb func(error)) {
	b.async(job, cb)
}

func (b *BoltIO) async(job func() error, cb func(error)) {
	b.workers <- func() {
		err := job()
		if cb != nil {
			cb(err)
		}
	}
}

func (b *BoltIO) Send(address string, message Message, cb func(Message, error)) {
	if b.transport == nil {
		cb(Message{}, ErrNoConnection)
		return
	}
	b.transport.Send(address, message, cb)
}

func (b *BoltIO) Time() time.Time { return time.Now() }

func (b *BoltIO) Random(min, max time.Duration) time.Duration {
	if max <= min {
		return min
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return min + time.Duration(b.rnd.Int63n(int64(max-min)))
}

func (b *BoltIO) Close() error {
	close(b.workers)
	return b.db.Close()
}

var mpHandle codec.MsgpackHandle

func encodeEntry(e *Entry) ([]byte, error) {
	var buf bytes.Buffer
	enc := codec.NewEncoder(&buf, &mpHandle)
	wire := wireEntry{Term: e.Term, Type: e.Type, Data: e.Data}
	if err := enc.Encode(&wire); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decodeEntry(data []byte) (*Entry, error) {
	var wire wireEntry
	dec := codec.NewDecoder(bytes.NewReader(data), &mpHandle)
	if err := dec.Decode(&wire); err != nil {
		return nil, err
	}
	return &Entry{Term: wire.Term, Type: wire.Type, Data: wire.Data, state: EntryCommitted}, nil
}

// wireEntry is the on-disk/on-wire projection of Entry: the in-memory
// lifecycle fields (state, batch) never leave the process.
type wireEntry struct {
	Term uint64
	Type EntryType
	Data []byte
}
