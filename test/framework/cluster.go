package framework

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// DefaultClusterConfig returns a default cluster configuration sourced from
// the NESTD_BINARY/NESTD_TEST_DATA_DIR environment variables.
func DefaultClusterConfig() *ClusterConfig {
	binary := os.Getenv("NESTD_BINARY")
	if binary == "" {
		binary = "bin/nestd"
	}

	dataDir := os.Getenv("NESTD_TEST_DATA_DIR")
	if dataDir == "" {
		dataDir = "/tmp/nestd-test"
	}

	return &ClusterConfig{
		NumNodes:      3,
		DataDir:       dataDir,
		Binary:        binary,
		KeepOnFailure: false,
		LogLevel:      "info",
	}
}

// NewCluster creates a new test cluster with the given configuration.
func NewCluster(config *ClusterConfig) (*Cluster, error) {
	if config == nil {
		config = DefaultClusterConfig()
	}
	if err := validateConfig(config); err != nil {
		return nil, fmt.Errorf("invalid cluster config: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Cluster{
		Config: config,
		Nodes:  make([]*Node, 0, config.NumNodes),
		ctx:    ctx,
		cancel: cancel,
	}, nil
}

// Start bootstraps every node with the same static membership list (the
// classic Raft bootstrap pattern: every voter starts knowing the full
// configuration up front, there is no separate join RPC) and waits for
// quorum to be established.
func (c *Cluster) Start() error {
	plan := make([]*Node, c.Config.NumNodes)
	for i := range plan {
		plan[i] = &Node{
			ID:          uint64(i + 1),
			BindAddr:    fmt.Sprintf("127.0.0.1:%d", 14000+i),
			RaftAddr:    fmt.Sprintf("127.0.0.1:%d", 15000+i),
			MetricsAddr: fmt.Sprintf("127.0.0.1:%d", 16000+i),
			DataDir:     filepath.Join(c.Config.DataDir, fmt.Sprintf("node-%d", i+1)),
		}
	}

	for i, node := range plan {
		if err := c.startNode(node, plan); err != nil {
			return fmt.Errorf("failed to start node-%d: %w", i+1, err)
		}
		c.Nodes = append(c.Nodes, node)
	}
	return c.WaitForQuorum()
}

// Stop stops every node process gracefully.
func (c *Cluster) Stop() error {
	for _, node := range c.Nodes {
		if err := c.stopNode(node); err != nil {
			return fmt.Errorf("failed to stop node %d: %w", node.ID, err)
		}
	}
	return nil
}

// Cleanup stops the cluster and removes its data directory unless
// KeepOnFailure is set.
func (c *Cluster) Cleanup() error {
	if err := c.Stop(); err != nil {
		fmt.Printf("Warning: error during stop: %v\n", err)
	}
	if c.cancel != nil {
		c.cancel()
	}
	if !c.Config.KeepOnFailure {
		if err := os.RemoveAll(c.Config.DataDir); err != nil {
			return fmt.Errorf("failed to remove data dir: %w", err)
		}
	}
	return nil
}

// GetLeader asks every node who the Raft leader is and returns the node
// whose Raft address matches the reported leader address.
func (c *Cluster) GetLeader() (*Node, error) {
	for _, node := range c.Nodes {
		if node.Client == nil {
			continue
		}
		addr, err := node.Client.Leader()
		if err != nil || addr == "" {
			continue
		}
		for _, n := range c.Nodes {
			if n.RaftAddr == addr {
				return n, nil
			}
		}
	}
	return nil, fmt.Errorf("no leader found in cluster")
}

// WaitForQuorum waits for Raft quorum (a stable leader) to be established.
func (c *Cluster) WaitForQuorum() error {
	ctx, cancel := context.WithTimeout(c.ctx, 30*time.Second)
	defer cancel()

	ticker := time.NewTicker(1 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return fmt.Errorf("timeout waiting for quorum: %w", ctx.Err())
		case <-ticker.C:
			if c.hasQuorum() {
				return nil
			}
		}
	}
}

// KillNode kills a specific node's process (simulates a crash).
func (c *Cluster) KillNode(id uint64) error {
	for _, node := range c.Nodes {
		if node.ID == id {
			if node.Process == nil {
				return fmt.Errorf("node %d has no process", id)
			}
			return node.Process.Kill()
		}
	}
	return fmt.Errorf("node %d not found", id)
}

// RestartNode stops and restarts a specific node in place.
func (c *Cluster) RestartNode(id uint64) error {
	index := -1
	for i, node := range c.Nodes {
		if node.ID == id {
			index = i
			break
		}
	}
	if index == -1 {
		return fmt.Errorf("node %d not found", id)
	}

	node := c.Nodes[index]
	// A node already killed by KillNode has exited; only a live one must stop cleanly.
	if err := c.stopNode(node); err != nil && node.Process != nil && node.Process.IsRunning() {
		return fmt.Errorf("failed to stop node: %w", err)
	}
	time.Sleep(2 * time.Second)

	node.Process = nil
	node.Client = nil
	// Rejoin, don't re-bootstrap: the node's BoltDB data dir already holds
	// its persisted configuration and log, so serve.go should Start() from
	// disk rather than initialize a fresh cluster.
	return c.startNode(node, nil)
}

// startNode launches node. When plan is non-nil, node bootstraps a brand
// new cluster, passing every other member of plan as a --peer flag so its
// Bootstrap configuration matches every other node's exactly. When plan is
// nil, node rejoins by resuming from its own persisted data directory.
func (c *Cluster) startNode(node *Node, plan []*Node) error {
	if err := os.MkdirAll(node.DataDir, 0o755); err != nil {
		return fmt.Errorf("failed to create data dir: %w", err)
	}

	process := NewProcess(c.Config.Binary)
	args := []string{
		"serve",
		fmt.Sprintf("--node-id=%d", node.ID),
		"--bind-addr=" + node.BindAddr,
		"--raft-addr=" + node.RaftAddr,
		"--data-dir=" + node.DataDir,
		"--metrics-addr=" + node.MetricsAddr,
		"--log-level=" + c.Config.LogLevel,
	}
	if plan != nil {
		args = append(args, "--bootstrap")
		for _, peer := range plan {
			if peer.ID == node.ID {
				continue
			}
			args = append(args, fmt.Sprintf("--peer=%d=%s", peer.ID, peer.RaftAddr))
		}
	}
	process.Args = args

	if err := process.Start(); err != nil {
		return fmt.Errorf("failed to start process: %w", err)
	}
	node.Process = process

	cli, err := c.waitForClient(node.BindAddr, 30*time.Second)
	if err != nil {
		return fmt.Errorf("client not ready: %w", err)
	}
	node.Client = cli
	return nil
}

func (c *Cluster) stopNode(node *Node) error {
	if node.Client != nil {
		node.Client.Close()
	}
	if node.Process != nil {
		return node.Process.Stop()
	}
	return nil
}

func (c *Cluster) hasQuorum() bool {
	leader, err := c.GetLeader()
	if err != nil {
		return false
	}
	return leader != nil
}

func (c *Cluster) waitForClient(addr string, timeout time.Duration) (*Client, error) {
	ctx, cancel := context.WithTimeout(c.ctx, timeout)
	defer cancel()

	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("timeout waiting for %s: %w", addr, ctx.Err())
		case <-ticker.C:
			cli, err := NewClient(c.ctx, addr)
			if err != nil {
				continue
			}
			return cli, nil
		}
	}
}

func validateConfig(config *ClusterConfig) error {
	if config.NumNodes < 1 {
		return fmt.Errorf("NumNodes must be >= 1, got %d", config.NumNodes)
	}
	if config.NumNodes%2 == 0 {
		return fmt.Errorf("NumNodes should be odd for Raft quorum, got %d", config.NumNodes)
	}
	if config.Binary == "" {
		return fmt.Errorf("Binary cannot be empty")
	}
	if config.DataDir == "" {
		return fmt.Errorf("DataDir cannot be empty")
	}
	return nil
}
