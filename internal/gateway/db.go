package gateway

import (
	"database/sql"
	"sync/atomic"
)

// openDB is one allocated database handle (§4.3's db{id}).
type openDB struct {
	id   uint32
	name string
	conn *sql.DB
}

// openStmt is one prepared statement scoped to a db handle.
type openStmt struct {
	id   uint32
	db   *openDB
	sql  string
	stmt *sql.Stmt
}

var idCounter uint64

func nextID() uint32 {
	return uint32(atomic.AddUint64(&idCounter, 1))
}
