package connfsm

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/rs/zerolog"

	"github.com/cuemby/nestd/internal/gateway"
	"github.com/cuemby/nestd/internal/wire"
	"github.com/cuemby/nestd/pkg/log"
	"github.com/cuemby/nestd/pkg/metrics"
)

// DefaultHeartbeatTimeout is the server-to-client negotiated idle timeout
// sent in the welcome response (§4.2).
const DefaultHeartbeatTimeout = 15 * time.Second

// ErrProtocolMismatch is returned when the client's handshake word does not
// match ProtocolVersion.
var ErrProtocolMismatch = errors.New("connfsm: protocol version mismatch")

// ProtocolVersion is the 8-byte little-endian handshake word the server
// advertises; clients must send exactly this value as their first 8 bytes.
const ProtocolVersion uint64 = 1

// Connection owns one client socket and drives it through the handshake →
// preamble → header → body → dispatch → write cycle of §4.2. Unlike the
// original's alloc/read event pair, each state here is a blocking read —
// Go's natural idiom for per-connection I/O is one goroutine per
// connection rather than callback-driven buffer allocation.
type Connection struct {
	conn             net.Conn
	logg             zerolog.Logger
	gw               *gateway.Gateway
	heartbeatTimeout time.Duration

	aborted  bool
	lastErr  error
}

// New wraps conn in a Connection bound to the given gateway session.
func New(conn net.Conn, gw *gateway.Gateway) *Connection {
	return &Connection{
		conn:             conn,
		logg:             log.WithComponent("connfsm").With().Str("remote", conn.RemoteAddr().String()).Logger(),
		gw:               gw,
		heartbeatTimeout: DefaultHeartbeatTimeout,
	}
}

// Serve runs the connection until it aborts, returning the abort cause (nil
// for a clean client-initiated close).
func (c *Connection) Serve() error {
	if err := c.handshake(); err != nil {
		return c.abort(err)
	}
	for {
		if err := c.cycle(); err != nil {
			return c.abort(err)
		}
	}
}

// handshake implements the handshake state: the first 8 bytes must equal
// ProtocolVersion, or the connection aborts without a reply.
func (c *Connection) handshake() error {
	var buf [8]byte
	if err := c.readFull(buf[:]); err != nil {
		return err
	}
	got := binary.LittleEndian.Uint64(buf[:])
	if got != ProtocolVersion {
		return fmt.Errorf("%w: got %d, want %d", ErrProtocolMismatch, got, ProtocolVersion)
	}
	return nil
}

// cycle implements one pass through preamble → header → body → dispatch →
// write, returning to preamble on success.
func (c *Connection) cycle() error {
	var hdrBuf [wire.HeaderSize]byte
	if err := c.readFull(hdrBuf[:]); err != nil {
		return err
	}
	hdr := wire.DecodeHeader(hdrBuf[:])
	if err := wire.ValidateBodyLen(hdr.Words); err != nil {
		return err
	}

	body := make([]byte, hdr.BodyLen())
	if err := c.readFull(body); err != nil {
		return err
	}

	req, err := wire.DecodeRequest(hdr, body)
	if err != nil {
		return c.writeFailure(err)
	}

	resp, err := c.gw.Handle(req)
	if err != nil {
		return c.writeFailure(err)
	}
	return c.write(resp)
}

// writeFailure synthesizes a failure response per the dispatch contract:
// parse/handle errors never abort the connection on their own, they become
// a failure response queued for write.
func (c *Connection) writeFailure(err error) error {
	code, desc := translateErr(err)
	return c.write(wire.Response{Type: wire.TypeFailure, Code: code, Description: desc})
}

func (c *Connection) write(resp wire.Response) error {
	out := wire.Encode(resp)
	if c.aborted {
		return nil
	}
	_, err := c.conn.Write(out)
	return err
}

// readFull sets the heartbeat deadline before blocking on the next read;
// idle beyond heartbeatTimeout aborts with a timeout error (§4.2's "no
// heartbeat since …").
func (c *Connection) readFull(buf []byte) error {
	if err := c.conn.SetReadDeadline(time.Now().Add(c.heartbeatTimeout)); err != nil {
		return err
	}
	_, err := io.ReadFull(c.conn, buf)
	return err
}

// abort is idempotent: the first call logs (debug for a clean EOF/reset,
// error otherwise), closes the socket, and releases the gateway session;
// later calls are no-ops so a write racing a read-side abort never panics.
func (c *Connection) abort(cause error) error {
	if c.aborted {
		return c.lastErr
	}
	c.aborted = true
	c.lastErr = cause

	switch {
	case cause == nil || errors.Is(cause, io.EOF):
		c.logg.Debug().Err(cause).Msg("connection closed")
		metrics.ConnFSMAborts.WithLabelValues("eof").Inc()
	case isResetOrTimeout(cause):
		c.logg.Debug().Err(cause).Msg("connection closed")
		metrics.ConnFSMAborts.WithLabelValues("reset_or_timeout").Inc()
	case errors.Is(cause, ErrProtocolMismatch):
		c.logg.Error().Err(cause).Msg("connection aborted")
		metrics.ConnFSMAborts.WithLabelValues("protocol").Inc()
	default:
		c.logg.Error().Err(cause).Msg("connection aborted")
		metrics.ConnFSMAborts.WithLabelValues("other").Inc()
	}

	c.gw.Close()
	c.conn.Close()
	return cause
}

func isResetOrTimeout(err error) bool {
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return true
	}
	return errors.Is(err, net.ErrClosed)
}
