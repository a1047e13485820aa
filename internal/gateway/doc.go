// Package gateway translates typed wire requests into SQLite calls for one
// client session (§4.3): open/prepare/exec/query/finalize against a
// table of db and statement handles, with at most 64 requests in flight
// per session (the "context ring" bound), and with
// SQLite itself reached through the Engine collaborator
// (internal/gateway/sqlite_engine.go, backed by mattn/go-sqlite3).
package gateway
