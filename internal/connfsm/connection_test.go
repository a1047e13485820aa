package connfsm

import (
	"context"
	"database/sql"
	"encoding/binary"
	"net"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/nestd/internal/gateway"
	"github.com/cuemby/nestd/internal/raft"
	"github.com/cuemby/nestd/internal/wire"
)

type memEngine struct{}

func (memEngine) Open(name, vfsName string, pageSize int) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	return db, db.Ping()
}

type fakeCluster struct{}

func (fakeCluster) Leader() (uint64, string)          { return 1, "127.0.0.1:9001" }
func (fakeCluster) Configuration() raft.Configuration { return raft.Configuration{} }
func (fakeCluster) Apply(context.Context, []byte) (interface{}, error) {
	return nil, raft.ErrNotLeader
}

func newTestConnection(serverConn net.Conn) *Connection {
	gw := gateway.New(memEngine{}, fakeCluster{})
	return New(serverConn, gw)
}

func writeHandshake(t *testing.T, conn net.Conn, version uint64) {
	t.Helper()
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], version)
	_, err := conn.Write(buf[:])
	require.NoError(t, err)
}

func TestConnectionHandshakeAccepted(t *testing.T) {
	server, client := net.Pipe()
	defer client.Close()
	c := newTestConnection(server)

	done := make(chan error, 1)
	go func() { done <- c.handshake() }()

	writeHandshake(t, client, ProtocolVersion)
	require.NoError(t, <-done)
}

func TestConnectionHandshakeRejectsMismatch(t *testing.T) {
	server, client := net.Pipe()
	defer client.Close()
	c := newTestConnection(server)

	done := make(chan error, 1)
	go func() { done <- c.handshake() }()

	writeHandshake(t, client, 99)
	err := <-done
	assert.ErrorIs(t, err, ErrProtocolMismatch)
}

func TestConnectionCycleLeaderRoundTrip(t *testing.T) {
	server, client := net.Pipe()
	defer client.Close()
	c := newTestConnection(server)

	done := make(chan error, 1)
	go func() { done <- c.cycle() }()

	_, err := client.Write(wire.EncodeRequest(wire.Request{Type: wire.TypeLeader}))
	require.NoError(t, err)

	require.NoError(t, <-done)

	var hdrBuf [wire.HeaderSize]byte
	_, err = readFullFrom(client, hdrBuf[:])
	require.NoError(t, err)
	hdr := wire.DecodeHeader(hdrBuf[:])
	assert.Equal(t, wire.TypeServer, hdr.Type)
}

func TestConnectionCycleUnknownStmtReturnsFailureNotAbort(t *testing.T) {
	server, client := net.Pipe()
	defer client.Close()
	c := newTestConnection(server)

	done := make(chan error, 1)
	go func() { done <- c.cycle() }()

	req := wire.Request{Type: wire.TypeFinalize, StmtID: 999}
	_, err := client.Write(wire.EncodeRequest(req))
	require.NoError(t, err)

	require.NoError(t, <-done, "a dispatch error must produce a failure response, not abort the cycle")

	var hdrBuf [wire.HeaderSize]byte
	_, err = readFullFrom(client, hdrBuf[:])
	require.NoError(t, err)
	hdr := wire.DecodeHeader(hdrBuf[:])
	assert.Equal(t, wire.TypeFailure, hdr.Type)
}

func TestConnectionAbortIsIdempotent(t *testing.T) {
	server, client := net.Pipe()
	defer client.Close()
	c := newTestConnection(server)

	err1 := c.abort(assert.AnError)
	err2 := c.abort(assert.AnError)
	assert.Equal(t, err1, err2)
	assert.True(t, c.aborted)
}

func TestConnectionAbortClassifiesProtocolMismatch(t *testing.T) {
	server, client := net.Pipe()
	defer client.Close()
	c := newTestConnection(server)

	err := c.abort(ErrProtocolMismatch)
	assert.ErrorIs(t, err, ErrProtocolMismatch)
}

func readFullFrom(conn net.Conn, buf []byte) (int, error) {
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	total := 0
	for total < len(buf) {
		n, err := conn.Read(buf[total:])
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}
