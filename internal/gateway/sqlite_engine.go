package gateway

import (
	"database/sql"
	"fmt"

	// Registers the "sqlite3" database/sql driver; the real SQLite engine
	// lives out-of-process from this package's perspective (§4.11).
	_ "github.com/mattn/go-sqlite3"
)

// SQLiteEngine opens databases against the real, CGo-backed SQLite engine
// via database/sql. Each Open call builds a DSN that disables fsync (the
// Raft log is the durability boundary, not the local WAL) and requests WAL
// journal mode, page_size 4096, matching §4.3's "open" contract.
type SQLiteEngine struct{}

// NewSQLiteEngine returns a ready-to-use Engine.
func NewSQLiteEngine() *SQLiteEngine { return &SQLiteEngine{} }

func (e *SQLiteEngine) Open(name string, vfsName string, pageSize int) (*sql.DB, error) {
	if pageSize <= 0 {
		pageSize = 4096
	}
	dsn := fmt.Sprintf(
		"file:%s?_journal_mode=WAL&_synchronous=OFF&_page_size=%d&cache=private",
		name, pageSize,
	)
	if vfsName != "" {
		dsn += "&vfs=" + vfsName
	}
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, wrapErr(CodeEngine, "gateway: failed to open database", err)
	}
	db.SetMaxOpenConns(1)
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, wrapErr(CodeEngine, "gateway: failed to open database", err)
	}
	return db, nil
}
