package gateway

import (
	"context"
	"database/sql"
	"testing"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/nestd/internal/raft"
	"github.com/cuemby/nestd/internal/wire"
)

// memEngine opens a private in-memory sqlite3 database per call, decoupled
// from the real VFS-registration path so gateway dispatch logic can be
// exercised without a live custom VFS.
type memEngine struct{}

func (memEngine) Open(name string, vfsName string, pageSize int) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", "file::memory:?cache=shared")
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	return db, db.Ping()
}

// fakeCluster is a minimal raft.Node stand-in for gateway tests: rather than
// running a real Raft node, it applies commands straight to a local
// StateMachine, as if they had already committed unopposed.
type fakeCluster struct {
	leaderID   uint64
	leaderAddr string
	config     raft.Configuration
	sm         *StateMachine
}

func (f fakeCluster) Leader() (uint64, string)          { return f.leaderID, f.leaderAddr }
func (f fakeCluster) Configuration() raft.Configuration { return f.config }

func (f fakeCluster) Apply(_ context.Context, data []byte) (interface{}, error) {
	return f.sm.Apply(&raft.Entry{Type: raft.EntryCommand, Data: data})
}

func newTestGateway() *Gateway {
	cluster := fakeCluster{
		leaderID:   1,
		leaderAddr: "127.0.0.1:9001",
		config: raft.Configuration{Servers: []raft.Server{
			{ID: 1, Address: "127.0.0.1:9001", Role: raft.RoleVoter},
			{ID: 2, Address: "127.0.0.1:9002", Role: raft.RoleVoter},
		}},
		sm: NewStateMachine(memEngine{}),
	}
	return New(memEngine{}, cluster)
}

func TestGatewayHandleLeader(t *testing.T) {
	g := newTestGateway()

	resp, err := g.Handle(wire.Request{Type: wire.TypeLeader})
	require.NoError(t, err)
	assert.Equal(t, wire.TypeServer, resp.Type)
	assert.Equal(t, "127.0.0.1:9001", resp.Address)
}

func TestGatewayHandleClientAndHeartbeat(t *testing.T) {
	g := newTestGateway()

	resp, err := g.Handle(wire.Request{Type: wire.TypeClient, ClientID: 42})
	require.NoError(t, err)
	assert.Equal(t, wire.TypeWelcome, resp.Type)
	assert.Equal(t, uint64(15000), resp.HeartbeatTimeout)

	before := g.LastHeartbeat()
	resp, err = g.Handle(wire.Request{Type: wire.TypeHeartbeat, Timestamp: 1})
	require.NoError(t, err)
	assert.Equal(t, wire.TypeServers, resp.Type)
	assert.ElementsMatch(t, []string{"127.0.0.1:9001", "127.0.0.1:9002"}, resp.Addresses)
	assert.True(t, g.LastHeartbeat().After(before) || g.LastHeartbeat().Equal(before))
}

func TestGatewayOpenPrepareExecQueryFinalize(t *testing.T) {
	g := newTestGateway()

	openResp, err := g.Handle(wire.Request{Type: wire.TypeOpen, Name: "test.db", VFS: "test.db"})
	require.NoError(t, err)
	assert.Equal(t, wire.TypeDb, openResp.Type)
	assert.Equal(t, 1, g.OpenDBCount())

	createResp, err := g.Handle(wire.Request{
		Type: wire.TypeExecSQL,
		DBID: openResp.DBID,
		SQL:  "CREATE TABLE widgets (id INTEGER PRIMARY KEY, name TEXT)",
	})
	require.NoError(t, err)
	assert.Equal(t, wire.TypeResult, createResp.Type)

	prepResp, err := g.Handle(wire.Request{
		Type: wire.TypePrepare,
		DBID: openResp.DBID,
		SQL:  "INSERT INTO widgets (name) VALUES (?)",
	})
	require.NoError(t, err)
	assert.Equal(t, wire.TypeStmt, prepResp.Type)
	assert.Equal(t, 1, g.OpenStmtCount())

	execResp, err := g.Handle(wire.Request{
		Type:   wire.TypeExec,
		DBID:   openResp.DBID,
		StmtID: prepResp.StmtID,
		Params: []wire.Param{{Kind: wire.ParamText, Text: "sprocket"}},
	})
	require.NoError(t, err)
	assert.Equal(t, wire.TypeResult, execResp.Type)
	assert.Equal(t, uint64(1), execResp.RowsAffected)

	queryResp, err := g.Handle(wire.Request{
		Type: wire.TypeQuerySQL,
		DBID: openResp.DBID,
		SQL:  "SELECT id, name FROM widgets",
	})
	require.NoError(t, err)
	assert.Equal(t, wire.TypeRows, queryResp.Type)
	require.Len(t, queryResp.Rows, 1)
	assert.Equal(t, "sprocket", queryResp.Rows[0].Values[1].Text)

	finalizeResp, err := g.Handle(wire.Request{Type: wire.TypeFinalize, DBID: openResp.DBID, StmtID: prepResp.StmtID})
	require.NoError(t, err)
	assert.Equal(t, wire.TypeEmpty, finalizeResp.Type)
	assert.Equal(t, 0, g.OpenStmtCount())
}

func TestGatewayUnknownDBAndStmtHandles(t *testing.T) {
	g := newTestGateway()

	_, err := g.Handle(wire.Request{Type: wire.TypePrepare, DBID: 999, SQL: "SELECT 1"})
	assert.Error(t, err)

	_, err = g.Handle(wire.Request{Type: wire.TypeExec, StmtID: 999})
	assert.Error(t, err)

	_, err = g.Handle(wire.Request{Type: wire.TypeFinalize, StmtID: 999})
	assert.Error(t, err)
}

func TestGatewayCloseReleasesHandles(t *testing.T) {
	g := newTestGateway()

	openResp, err := g.Handle(wire.Request{Type: wire.TypeOpen, Name: "closeme.db", VFS: "closeme.db"})
	require.NoError(t, err)
	_, err = g.Handle(wire.Request{Type: wire.TypePrepare, DBID: openResp.DBID, SQL: "SELECT 1"})
	require.NoError(t, err)

	require.NoError(t, g.Close())
	assert.Equal(t, 0, g.OpenDBCount())
	assert.Equal(t, 0, g.OpenStmtCount())
}

func TestGatewayRejectsWhenOutstandingLimitReached(t *testing.T) {
	g := newTestGateway()
	g.mu.Lock()
	g.outstanding = maxOutstanding
	g.mu.Unlock()

	_, err := g.Handle(wire.Request{Type: wire.TypeLeader})
	assert.ErrorIs(t, err, ErrTooManyReqs)
}

func TestOpName(t *testing.T) {
	cases := map[wire.Type]string{
		wire.TypeLeader:   "leader",
		wire.TypeClient:   "client",
		wire.TypeOpen:     "open",
		wire.TypePrepare:  "prepare",
		wire.TypeExec:     "exec",
		wire.TypeQuery:    "query",
		wire.TypeFinalize: "finalize",
		wire.TypeExecSQL:  "exec_sql",
		wire.TypeQuerySQL: "query_sql",
		wire.Type(250):    "unknown",
	}
	for typ, want := range cases {
		assert.Equal(t, want, opName(typ))
	}
}
