// Package server hosts the per-node event loop (§5): it ticks the Raft
// core, accepts client sockets on a background goroutine, and
// hands each accepted connection to internal/connfsm on its own goroutine.
package server
