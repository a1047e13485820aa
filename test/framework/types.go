package framework

import (
	"context"
	"time"
)

// ClusterConfig defines the configuration for a test nestd cluster.
type ClusterConfig struct {
	// NumNodes is the number of Raft voters to start (should be odd).
	NumNodes int
	// DataDir is the base directory for cluster data.
	DataDir string
	// Binary is the path to the nestd binary.
	Binary string
	// KeepOnFailure keeps the data directory around after Cleanup (for debugging).
	KeepOnFailure bool
	// LogLevel sets the logging level for nestd processes.
	LogLevel string
}

// Cluster represents a local, process-per-node nestd test cluster.
type Cluster struct {
	Config *ClusterConfig
	Nodes  []*Node

	ctx    context.Context
	cancel context.CancelFunc
}

// Node represents one nestd server process in the test cluster.
type Node struct {
	ID             uint64
	BindAddr       string
	RaftAddr       string
	MetricsAddr    string
	DataDir        string
	Process        *Process
	Client         *Client
	IsLeaderOfLast bool
}

// Process is defined in process.go (to avoid duplication).

// TestingT is an interface matching testing.T.
type TestingT interface {
	Logf(format string, args ...interface{})
	Errorf(format string, args ...interface{})
	Fatalf(format string, args ...interface{})
	FailNow()
	Failed() bool
	Name() string
	Helper()
}

// TestContext provides utilities for test execution.
type TestContext struct {
	T       TestingT
	Ctx     context.Context
	Cancel  context.CancelFunc
	Timeout time.Duration

	cleanup []func()
}
