package server

import (
	"errors"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/cuemby/nestd/internal/connfsm"
	"github.com/cuemby/nestd/internal/gateway"
	"github.com/cuemby/nestd/internal/raft"
	"github.com/cuemby/nestd/pkg/log"
	"github.com/cuemby/nestd/pkg/metrics"
)

// metricsCollectInterval mirrors pkg/manager/metrics_collector.go's 15s
// periodic-gauge-collection cadence.
const metricsCollectInterval = 15 * time.Second

const (
	stateStopped int32 = iota
	stateRunning
	stateStopping
)

// tickInterval is how often the loop drives raft.Node.Tick; this stands in
// for the original's single-threaded event loop's timer wheel.
const tickInterval = 20 * time.Millisecond

// Config holds the listener/node wiring for one server instance, mirroring
// pkg/manager.Config's plain-struct-of-dependencies shape.
type Config struct {
	BindAddress string
	Node        *raft.Node
	Engine      gateway.Engine
}

// Server is the event loop host (§5): it owns the raft.Node's tick clock and
// the accept loop, and spawns one goroutine per accepted connection. Unlike
// the original's single OS thread draining a mutex-protected queue, Go's
// scheduler plays that role directly — accept() hands connections off
// through a buffered channel (the "thread-safe incoming-connection queue")
// which the loop goroutine drains ("asynchronous wakeup").
type Server struct {
	logg     zerolog.Logger
	cfg      Config
	listener net.Listener

	state    int32
	stopCh   chan struct{}
	incoming chan net.Conn

	sessionsMu sync.Mutex
	sessions   map[*gateway.Gateway]struct{}
}

// New constructs a Server bound to cfg; it does not start listening.
func New(cfg Config) *Server {
	return &Server{
		logg:     log.WithComponent("server").With().Uint64("node_id", cfg.Node.ID()).Logger(),
		cfg:      cfg,
		stopCh:   make(chan struct{}),
		incoming: make(chan net.Conn, 64),
		sessions: make(map[*gateway.Gateway]struct{}),
	}
}

// Run starts the accept goroutine and blocks running the event loop until
// Stop is called or the listener fails.
func (s *Server) Run() error {
	if !atomic.CompareAndSwapInt32(&s.state, stateStopped, stateRunning) {
		return errors.New("server: already running")
	}

	ln, err := net.Listen("tcp", s.cfg.BindAddress)
	if err != nil {
		atomic.StoreInt32(&s.state, stateStopped)
		return err
	}
	s.listener = ln
	s.logg.Info().Str("address", s.cfg.BindAddress).Msg("server listening")

	go s.acceptLoop()
	s.loop()
	return nil
}

// acceptLoop is the "accept thread" of §5: it only ever pushes accepted
// connections onto the incoming queue, never touches raft.Node state.
func (s *Server) acceptLoop() {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if atomic.LoadInt32(&s.state) != stateRunning {
				return
			}
			s.logg.Warn().Err(err).Msg("accept failed")
			continue
		}
		select {
		case s.incoming <- conn:
		case <-s.stopCh:
			conn.Close()
			return
		default:
			s.logg.Warn().Msg("incoming queue full, dropping connection")
			conn.Close()
		}
	}
}

// loop is the single cooperative event loop: it ticks the raft core and
// drains newly accepted connections, handing each off to its own goroutine
// once accepted (blocking socket I/O cannot live on the loop goroutine
// itself without starving raft ticks).
func (s *Server) loop() {
	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()
	metricsTicker := time.NewTicker(metricsCollectInterval)
	defer metricsTicker.Stop()

	for {
		select {
		case <-s.stopCh:
			return
		case now := <-ticker.C:
			s.cfg.Node.Tick(now)
		case <-metricsTicker.C:
			s.collectMetrics()
		case conn := <-s.incoming:
			s.handleConn(conn)
		}
	}
}

func (s *Server) handleConn(conn net.Conn) {
	gw := gateway.New(s.cfg.Engine, s.cfg.Node)

	s.sessionsMu.Lock()
	s.sessions[gw] = struct{}{}
	s.sessionsMu.Unlock()

	c := connfsm.New(conn, gw)
	go func() {
		defer func() {
			s.sessionsMu.Lock()
			delete(s.sessions, gw)
			s.sessionsMu.Unlock()
		}()
		if err := c.Serve(); err != nil {
			s.logg.Debug().Err(err).Msg("connection ended")
		}
	}()
}

// collectMetrics sums per-session gauges across every live connection, the
// Go-native analogue of pkg/manager/metrics_collector.go's periodic
// ListNodes/ListServices sweep: each session owns its own open db/stmt
// counts, so there is no single authoritative store to query directly.
func (s *Server) collectMetrics() {
	s.sessionsMu.Lock()
	active := len(s.sessions)
	var openDBs, openStmts int
	for gw := range s.sessions {
		openDBs += gw.OpenDBCount()
		openStmts += gw.OpenStmtCount()
	}
	s.sessionsMu.Unlock()

	metrics.ConnFSMActiveConnections.Set(float64(active))
	metrics.GatewayOpenDBs.Set(float64(openDBs))
	metrics.GatewayOpenStmts.Set(float64(openStmts))
}

// Stop requests a graceful shutdown: the accept loop stops taking new
// connections and the event loop exits on its next iteration. In-flight
// connection goroutines finish independently. Idempotent.
func (s *Server) Stop() error {
	if !atomic.CompareAndSwapInt32(&s.state, stateRunning, stateStopping) {
		return nil
	}
	close(s.stopCh)
	if s.listener != nil {
		s.listener.Close()
	}
	return nil
}
