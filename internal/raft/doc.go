// Package raft implements the replicated log: leader election with
// pre-vote, log replication in probe/pipeline/snapshot modes, single-entry
// membership changes with staged promotion, and leadership transfer.
//
// Node is the package's core type; PersistentIO and FSM are the two
// collaborator interfaces a caller supplies, with BoltIO and Transport
// providing the concrete BoltDB- and TCP-backed implementations used in
// production (cmd/nestd wires them together).
package raft
