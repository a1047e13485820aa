package gateway

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/cuemby/nestd/internal/raft"
	"github.com/cuemby/nestd/internal/wire"
	"github.com/cuemby/nestd/pkg/log"
	"github.com/cuemby/nestd/pkg/metrics"
)

// Cluster is the subset of internal/raft.Node the gateway needs: leader and
// membership lookups for §4.3's housekeeping RPCs, plus Apply to submit a
// write for replication before it is considered done (§4.8).
type Cluster interface {
	Leader() (uint64, string)
	Configuration() raft.Configuration
	Apply(ctx context.Context, data []byte) (interface{}, error)
}

const maxOutstanding = 64

// applyTimeout bounds how long a write waits for its command to commit and
// apply through Raft before the client sees an error.
const applyTimeout = 5 * time.Second

// Gateway is the per-connection translator from §4.3: one instance per
// client session, holding that session's open dbs/statements.
type Gateway struct {
	logg    zerolog.Logger
	engine  Engine
	cluster Cluster

	mu               sync.Mutex
	clientID         uint64
	heartbeatTimeout uint64
	lastHeartbeat    time.Time
	dbs              map[uint32]*openDB
	stmts            map[uint32]*openStmt
	outstanding      int
}

// New constructs a Gateway bound to the given Engine/cluster collaborators
// and a default heartbeat timeout (§4.2's default 15s).
func New(engine Engine, cluster Cluster) *Gateway {
	return &Gateway{
		logg:             log.WithComponent("gateway").Logger(),
		engine:           engine,
		cluster:          cluster,
		heartbeatTimeout: 15000,
		dbs:              make(map[uint32]*openDB),
		stmts:            make(map[uint32]*openStmt),
	}
}

// Handle dispatches one decoded wire.Request and returns the response to
// serialize, or an error that the connection turns into a failure response
// (§4.2 dispatch contract).
func (g *Gateway) Handle(req wire.Request) (wire.Response, error) {
	g.mu.Lock()
	if g.outstanding >= maxOutstanding {
		g.mu.Unlock()
		metrics.GatewayRequestsTotal.WithLabelValues(opName(req.Type), "rejected").Inc()
		return wire.Response{}, ErrTooManyReqs
	}
	g.outstanding++
	g.mu.Unlock()

	timer := metrics.NewTimer()
	resp, err := g.dispatch(req)
	timer.ObserveDurationVec(metrics.GatewayRequestDuration, opName(req.Type))

	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	metrics.GatewayRequestsTotal.WithLabelValues(opName(req.Type), outcome).Inc()

	g.mu.Lock()
	g.outstanding--
	g.mu.Unlock()

	return resp, err
}

// opName gives each request type a short label for metrics, avoiding the
// high-cardinality trap of labeling by db/stmt id.
func opName(t wire.Type) string {
	switch t {
	case wire.TypeLeader:
		return "leader"
	case wire.TypeClient:
		return "client"
	case wire.TypeHeartbeat:
		return "heartbeat"
	case wire.TypeOpen:
		return "open"
	case wire.TypePrepare:
		return "prepare"
	case wire.TypeExec:
		return "exec"
	case wire.TypeQuery:
		return "query"
	case wire.TypeFinalize:
		return "finalize"
	case wire.TypeExecSQL:
		return "exec_sql"
	case wire.TypeQuerySQL:
		return "query_sql"
	default:
		return "unknown"
	}
}

func (g *Gateway) dispatch(req wire.Request) (wire.Response, error) {
	switch req.Type {
	case wire.TypeLeader:
		return g.handleLeader()
	case wire.TypeClient:
		return g.handleClient(req)
	case wire.TypeHeartbeat:
		return g.handleHeartbeat(req)
	case wire.TypeOpen:
		return g.handleOpen(req)
	case wire.TypePrepare:
		return g.handlePrepare(req)
	case wire.TypeExec:
		return g.handleExec(req)
	case wire.TypeQuery:
		return g.handleQuery(req)
	case wire.TypeFinalize:
		return g.handleFinalize(req)
	case wire.TypeExecSQL:
		return g.handleExecSQL(req)
	case wire.TypeQuerySQL:
		return g.handleQuerySQL(req)
	default:
		return wire.Response{}, newErr(CodeProtocol, "gateway: unhandled request type")
	}
}

func (g *Gateway) handleLeader() (wire.Response, error) {
	_, addr := g.cluster.Leader()
	return wire.Response{Type: wire.TypeServer, Address: addr}, nil
}

func (g *Gateway) handleClient(req wire.Request) (wire.Response, error) {
	g.mu.Lock()
	g.clientID = req.ClientID
	g.lastHeartbeat = time.Now()
	timeout := g.heartbeatTimeout
	g.mu.Unlock()
	return wire.Response{Type: wire.TypeWelcome, HeartbeatTimeout: timeout}, nil
}

func (g *Gateway) handleHeartbeat(req wire.Request) (wire.Response, error) {
	g.mu.Lock()
	g.lastHeartbeat = time.Now()
	g.mu.Unlock()

	cfg := g.cluster.Configuration()
	addrs := make([]string, len(cfg.Servers))
	for i, s := range cfg.Servers {
		addrs[i] = s.Address
	}
	return wire.Response{Type: wire.TypeServers, Addresses: addrs}, nil
}

// LastHeartbeat reports when this session last sent a heartbeat or client
// request. connfsm does not read it: its idle timeout is a read deadline
// refreshed before every read.
func (g *Gateway) LastHeartbeat() time.Time {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.lastHeartbeat
}

func (g *Gateway) handleOpen(req wire.Request) (wire.Response, error) {
	conn, err := g.engine.Open(req.Name, req.VFS, 4096)
	if err != nil {
		return wire.Response{}, err
	}
	db := &openDB{id: nextID(), name: req.Name, conn: conn}

	g.mu.Lock()
	g.dbs[db.id] = db
	g.mu.Unlock()

	return wire.Response{Type: wire.TypeDb, DBID: db.id}, nil
}

func (g *Gateway) lookupDB(id uint32) (*openDB, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	db, ok := g.dbs[id]
	if !ok {
		return nil, newErr(CodeNotFound, "gateway: unknown db handle")
	}
	return db, nil
}

func (g *Gateway) lookupStmt(id uint32) (*openStmt, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	s, ok := g.stmts[id]
	if !ok {
		return nil, newErr(CodeNotFound, "gateway: unknown statement handle")
	}
	return s, nil
}

func (g *Gateway) handlePrepare(req wire.Request) (wire.Response, error) {
	db, err := g.lookupDB(req.DBID)
	if err != nil {
		return wire.Response{}, err
	}
	stmt, err := db.conn.Prepare(req.SQL)
	if err != nil {
		return wire.Response{}, wrapErr(CodeEngine, "gateway: prepare failed", err)
	}
	s := &openStmt{id: nextID(), db: db, sql: req.SQL, stmt: stmt}

	g.mu.Lock()
	g.stmts[s.id] = s
	g.mu.Unlock()

	return wire.Response{Type: wire.TypeStmt, DBID: db.id, StmtID: s.id}, nil
}

func (g *Gateway) handleExec(req wire.Request) (wire.Response, error) {
	s, err := g.lookupStmt(req.StmtID)
	if err != nil {
		return wire.Response{}, err
	}
	return g.applyCommand(s.db.name, s.sql, req.Params)
}

func (g *Gateway) handleQuery(req wire.Request) (wire.Response, error) {
	s, err := g.lookupStmt(req.StmtID)
	if err != nil {
		return wire.Response{}, err
	}
	return queryStmt(s.stmt, req.Params)
}

func (g *Gateway) handleFinalize(req wire.Request) (wire.Response, error) {
	g.mu.Lock()
	s, ok := g.stmts[req.StmtID]
	if ok {
		delete(g.stmts, req.StmtID)
	}
	g.mu.Unlock()
	if !ok {
		return wire.Response{}, newErr(CodeNotFound, "gateway: unknown statement handle")
	}
	s.stmt.Close()
	return wire.Response{Type: wire.TypeEmpty}, nil
}

func (g *Gateway) handleExecSQL(req wire.Request) (wire.Response, error) {
	db, err := g.lookupDB(req.DBID)
	if err != nil {
		return wire.Response{}, err
	}
	return g.applyCommand(db.name, req.SQL, req.Params)
}

// applyCommand submits a write as a replicated command (§4.8) rather than
// executing it against this node's local SQLite connection directly, so
// every voter's FSM applies the same statement once it commits.
func (g *Gateway) applyCommand(dbName, sql string, params []wire.Param) (wire.Response, error) {
	data, err := encodeCommand(command{DB: dbName, SQL: sql, Params: params})
	if err != nil {
		return wire.Response{}, wrapErr(CodeParse, "gateway: failed to encode command", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), applyTimeout)
	defer cancel()

	result, err := g.cluster.Apply(ctx, data)
	if err != nil {
		return wire.Response{}, wrapErr(CodeEngine, "gateway: exec failed", err)
	}
	resp, ok := result.(wire.Response)
	if !ok {
		return wire.Response{}, newErr(CodeEngine, "gateway: unexpected apply result")
	}
	return resp, nil
}

func (g *Gateway) handleQuerySQL(req wire.Request) (wire.Response, error) {
	db, err := g.lookupDB(req.DBID)
	if err != nil {
		return wire.Response{}, err
	}
	stmt, err := db.conn.Prepare(req.SQL)
	if err != nil {
		return wire.Response{}, wrapErr(CodeEngine, "gateway: prepare failed", err)
	}
	defer stmt.Close()
	return queryStmt(stmt, req.Params)
}

// OpenDBCount reports how many database handles this session currently
// holds open, for the periodic metrics collector in internal/server.
func (g *Gateway) OpenDBCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.dbs)
}

// OpenStmtCount reports how many prepared statements this session currently
// holds open, for the periodic metrics collector in internal/server.
func (g *Gateway) OpenStmtCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.stmts)
}

// Close releases every open statement and database handle for this
// session (§4.2 abort semantics: the connection releases its gateway
// resources on abort).
func (g *Gateway) Close() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	for id, s := range g.stmts {
		s.stmt.Close()
		delete(g.stmts, id)
	}
	var firstErr error
	for id, db := range g.dbs {
		if err := db.conn.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		delete(g.dbs, id)
	}
	return firstErr
}
