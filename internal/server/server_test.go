package server

import (
	"database/sql"
	"encoding/binary"
	"net"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/nestd/internal/connfsm"
	"github.com/cuemby/nestd/internal/raft"
	"github.com/cuemby/nestd/internal/wire"
)

// fakePersistentIO is a single-node, synchronous raft.PersistentIO good
// enough to drive a *raft.Node to StateLeader without a BoltDB file or a
// real peer: there is nothing to replicate to, so Send is never expected
// to be called by a lone voter's fast-path election.
type fakePersistentIO struct{}

func (fakePersistentIO) Init(id uint64, address string) error { return nil }
func (fakePersistentIO) Bootstrap(config raft.Configuration) error { return nil }
func (fakePersistentIO) Load() (uint64, uint64, *raft.SnapshotMetadata, []*raft.Entry, error) {
	return 0, 0, nil, nil, nil
}
func (fakePersistentIO) SetTerm(term uint64) error { return nil }
func (fakePersistentIO) SetVote(id uint64) error   { return nil }
func (fakePersistentIO) Append(entries []*raft.Entry, cb func(error)) {
	if cb != nil {
		cb(nil)
	}
}
func (fakePersistentIO) Truncate(index uint64, cb func(error)) {
	if cb != nil {
		cb(nil)
	}
}
func (fakePersistentIO) SnapshotPut(trailing uint64, snap raft.Snapshot, cb func(error)) {
	if cb != nil {
		cb(nil)
	}
}
func (fakePersistentIO) SnapshotGet(cb func(*raft.Snapshot, error)) { cb(nil, nil) }
func (fakePersistentIO) AsyncWork(job func() error, cb func(error)) {
	err := job()
	if cb != nil {
		cb(err)
	}
}
func (fakePersistentIO) Send(address string, message raft.Message, cb func(raft.Message, error)) {
	cb(raft.Message{}, raft.ErrNoConnection)
}
func (fakePersistentIO) Time() time.Time { return time.Now() }
func (fakePersistentIO) Random(min, max time.Duration) time.Duration { return min }
func (fakePersistentIO) Close() error { return nil }

type noopFSM struct{}

func (noopFSM) Apply(entry *raft.Entry) (interface{}, error) { return nil, nil }
func (noopFSM) Snapshot() ([]byte, error)                    { return nil, nil }
func (noopFSM) Restore(data []byte) error                    { return nil }

type memEngine struct{}

func (memEngine) Open(name, vfsName string, pageSize int) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	return db, db.Ping()
}

func newLeaderNode(t *testing.T, address string) *raft.Node {
	t.Helper()
	cfg := raft.DefaultConfig(1, address)
	cfg.ElectionTimeout = 20 * time.Millisecond
	cfg.HeartbeatTimeout = 2 * time.Millisecond
	n, err := raft.NewNode(cfg, fakePersistentIO{}, noopFSM{})
	require.NoError(t, err)

	config := raft.Configuration{Servers: []raft.Server{{ID: 1, Address: address, Role: raft.RoleVoter}}}
	require.NoError(t, n.Bootstrap(config))

	n.Tick(time.Now().Add(time.Second))
	require.Equal(t, raft.StateLeader, n.State())
	return n
}

func freeAddress(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())
	return addr
}

func writeHandshake(t *testing.T, conn net.Conn, version uint64) {
	t.Helper()
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], version)
	_, err := conn.Write(buf[:])
	require.NoError(t, err)
}

func readFull(t *testing.T, conn net.Conn, buf []byte) {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	total := 0
	for total < len(buf) {
		n, err := conn.Read(buf[total:])
		total += n
		require.NoError(t, err)
	}
}

func TestServerAcceptsConnectionAndAnswersLeaderRequest(t *testing.T) {
	addr := freeAddress(t)
	node := newLeaderNode(t, addr)

	srv := New(Config{
		BindAddress: addr,
		Node:        node,
		Engine:      memEngine{},
	})

	runDone := make(chan error, 1)
	go func() { runDone <- srv.Run() }()
	t.Cleanup(func() {
		srv.Stop()
		<-runDone
	})

	var conn net.Conn
	var err error
	for i := 0; i < 50; i++ {
		conn, err = net.Dial("tcp", addr)
		if err == nil {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	require.NoError(t, err)
	defer conn.Close()

	writeHandshake(t, conn, connfsm.ProtocolVersion)

	req := wire.EncodeRequest(wire.Request{Type: wire.TypeLeader})
	_, err = conn.Write(req)
	require.NoError(t, err)

	var hdrBuf [wire.HeaderSize]byte
	readFull(t, conn, hdrBuf[:])
	hdr := wire.DecodeHeader(hdrBuf[:])
	assert.Equal(t, wire.TypeServer, hdr.Type)
}

func TestServerStopClosesListener(t *testing.T) {
	addr := freeAddress(t)
	node := newLeaderNode(t, addr)

	srv := New(Config{
		BindAddress: addr,
		Node:        node,
		Engine:      memEngine{},
	})

	runDone := make(chan error, 1)
	go func() { runDone <- srv.Run() }()

	var conn net.Conn
	var err error
	for i := 0; i < 50; i++ {
		conn, err = net.Dial("tcp", addr)
		if err == nil {
			conn.Close()
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	require.NoError(t, err)

	require.NoError(t, srv.Stop())
	<-runDone

	_, err = net.Dial("tcp", addr)
	assert.Error(t, err)
}

func TestServerStopIsIdempotent(t *testing.T) {
	addr := freeAddress(t)
	node := newLeaderNode(t, addr)

	srv := New(Config{
		BindAddress: addr,
		Node:        node,
		Engine:      memEngine{},
	})

	runDone := make(chan error, 1)
	go func() { runDone <- srv.Run() }()
	time.Sleep(20 * time.Millisecond)

	require.NoError(t, srv.Stop())
	<-runDone
	require.NoError(t, srv.Stop())
}
