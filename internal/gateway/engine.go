package gateway

import "database/sql"

// Engine is the SQLite collaborator interface (§1 Non-goals: "the SQLite
// engine itself ... modeled by internal/gateway.Engine"). Open returns a
// ready-to-use *sql.DB bound to the named database, optionally through a
// registered VFS name; the concrete implementation is sqlite_engine.go,
// backed by mattn/go-sqlite3.
type Engine interface {
	Open(name string, vfsName string, pageSize int) (*sql.DB, error)
}
