package main

import (
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/cuemby/nestd/internal/gateway"
	"github.com/cuemby/nestd/internal/raft"
	"github.com/cuemby/nestd/internal/server"
	"github.com/cuemby/nestd/pkg/log"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run one nestd server node",
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().Uint64("node-id", 0, "this node's Raft server id (required)")
	serveCmd.Flags().String("bind-addr", "127.0.0.1:4001", "client wire protocol listen address")
	serveCmd.Flags().String("raft-addr", "127.0.0.1:4002", "Raft peer RPC listen address")
	serveCmd.Flags().String("data-dir", "./data", "directory for the BoltDB log/snapshot store")
	serveCmd.Flags().String("metrics-addr", "127.0.0.1:9090", "Prometheus /metrics HTTP listen address")
	serveCmd.Flags().StringSlice("peer", nil, "other cluster members as id=address (repeatable)")
	serveCmd.Flags().Bool("bootstrap", false, "bootstrap a brand-new single/multi-node cluster")
	serveCmd.MarkFlagRequired("node-id")
}

func runServe(cmd *cobra.Command, args []string) error {
	nodeID, _ := cmd.Flags().GetUint64("node-id")
	bindAddr, _ := cmd.Flags().GetString("bind-addr")
	raftAddr, _ := cmd.Flags().GetString("raft-addr")
	dataDir, _ := cmd.Flags().GetString("data-dir")
	metricsAddr, _ := cmd.Flags().GetString("metrics-addr")
	peerFlags, _ := cmd.Flags().GetStringSlice("peer")
	bootstrap, _ := cmd.Flags().GetBool("bootstrap")

	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return fmt.Errorf("failed to create data dir: %w", err)
	}

	transport := raft.NewTransport()
	io, err := raft.NewBoltIO(dataDir, nodeID, transport)
	if err != nil {
		return fmt.Errorf("failed to open persistent store: %w", err)
	}

	engine := gateway.NewSQLiteEngine()
	fsm := gateway.NewStateMachine(engine)

	cfg := raft.DefaultConfig(nodeID, raftAddr)
	node, err := raft.NewNode(cfg, io, fsm)
	if err != nil {
		return fmt.Errorf("failed to create node: %w", err)
	}
	transport.SetNode(node)
	node.SetMetrics(raft.NewMetrics(prometheus.DefaultRegisterer))

	if bootstrap {
		members, err := parsePeers(peerFlags, nodeID, raftAddr)
		if err != nil {
			return err
		}
		if err := node.Bootstrap(members); err != nil {
			return fmt.Errorf("failed to bootstrap cluster: %w", err)
		}
	} else if err := node.Start(); err != nil {
		return fmt.Errorf("failed to start node: %w", err)
	}

	if err := transport.Listen(raftAddr); err != nil {
		return fmt.Errorf("failed to listen for raft peers: %w", err)
	}

	srv := server.New(server.Config{
		BindAddress: bindAddr,
		Node:        node,
		Engine:      engine,
	})

	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		if err := http.ListenAndServe(metricsAddr, mux); err != nil {
			log.Logger.Error().Err(err).Msg("metrics server error")
		}
	}()
	log.Logger.Info().Str("address", metricsAddr).Msg("metrics endpoint started")

	errCh := make(chan error, 1)
	go func() {
		if err := srv.Run(); err != nil {
			errCh <- fmt.Errorf("server error: %w", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case <-sigCh:
		log.Logger.Info().Msg("shutting down")
	case err := <-errCh:
		log.Logger.Error().Err(err).Msg("fatal error")
	}

	srv.Stop()
	transport.Close()
	if err := node.Close(); err != nil {
		return fmt.Errorf("failed to shut down node cleanly: %w", err)
	}
	return nil
}

// parsePeers turns --peer id=address flags (plus this node) into a bootstrap
// Configuration with every member as a voter.
func parsePeers(peerFlags []string, selfID uint64, selfAddr string) (raft.Configuration, error) {
	servers := []raft.Server{{ID: selfID, Address: selfAddr, Role: raft.RoleVoter}}
	for _, p := range peerFlags {
		parts := strings.SplitN(p, "=", 2)
		if len(parts) != 2 {
			return raft.Configuration{}, fmt.Errorf("invalid --peer %q, want id=address", p)
		}
		id, err := strconv.ParseUint(parts[0], 10, 64)
		if err != nil {
			return raft.Configuration{}, fmt.Errorf("invalid --peer id %q: %w", parts[0], err)
		}
		servers = append(servers, raft.Server{ID: id, Address: parts[1], Role: raft.RoleVoter})
	}
	cfg := raft.Configuration{Servers: servers}
	if err := cfg.Validate(); err != nil {
		return raft.Configuration{}, err
	}
	return cfg, nil
}
