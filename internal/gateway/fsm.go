package gateway

import (
	"bytes"
	"database/sql"
	"sync"

	"github.com/hashicorp/go-msgpack/v2/codec"

	"github.com/cuemby/nestd/internal/raft"
	"github.com/cuemby/nestd/internal/wire"
)

// command is the replicated unit a write-path request is turned into before
// it reaches raft.Node.Apply: a statement and its bound parameters against a
// named database, applied identically by every replica's own local engine.
type command struct {
	DB     string
	SQL    string
	Params []wire.Param
}

var fsmMPHandle codec.MsgpackHandle

func encodeCommand(c command) ([]byte, error) {
	var buf bytes.Buffer
	enc := codec.NewEncoder(&buf, &fsmMPHandle)
	if err := enc.Encode(&c); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decodeCommand(data []byte) (command, error) {
	var c command
	dec := codec.NewDecoder(bytes.NewReader(data), &fsmMPHandle)
	if err := dec.Decode(&c); err != nil {
		return command{}, err
	}
	return c, nil
}

// StateMachine is the raft.FSM every node runs: it replays committed
// commands against its own local SQLite databases, keyed by name rather
// than by the per-session handle ids the gateway hands out to clients,
// since those ids are never consistent across replicas.
type StateMachine struct {
	engine Engine

	mu  sync.Mutex
	dbs map[string]*sql.DB
}

// NewStateMachine builds a StateMachine that opens databases through engine
// as commands reference them for the first time.
func NewStateMachine(engine Engine) *StateMachine {
	return &StateMachine{engine: engine, dbs: make(map[string]*sql.DB)}
}

func (s *StateMachine) open(name string) (*sql.DB, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if db, ok := s.dbs[name]; ok {
		return db, nil
	}
	db, err := s.engine.Open(name, "", 4096)
	if err != nil {
		return nil, err
	}
	s.dbs[name] = db
	return db, nil
}

// Apply replays one committed command entry against this replica's local
// database, returning the same wire.Response shape execStmt would hand back
// to a directly-connected client.
func (s *StateMachine) Apply(entry *raft.Entry) (interface{}, error) {
	c, err := decodeCommand(entry.Data)
	if err != nil {
		return nil, wrapErr(CodeParse, "gateway: malformed replicated command", err)
	}
	db, err := s.open(c.DB)
	if err != nil {
		return nil, err
	}
	stmt, err := db.Prepare(c.SQL)
	if err != nil {
		return nil, wrapErr(CodeEngine, "gateway: prepare failed", err)
	}
	defer stmt.Close()

	resp, err := execStmt(stmt, c.Params)
	if err != nil {
		return nil, err
	}
	return resp, nil
}

// Snapshot has no state of its own to capture: the durable state is the
// SQLite files themselves, outside the Raft log/snapshot store.
func (s *StateMachine) Snapshot() ([]byte, error) {
	return nil, nil
}

// Restore is a no-op counterpart to Snapshot; a follower that falls far
// enough behind to need a snapshot transfer still replays from its own
// SQLite files rather than from FSM-carried bytes.
func (s *StateMachine) Restore(data []byte) error {
	return nil
}
