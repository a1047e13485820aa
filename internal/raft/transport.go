package raft

import (
	"bytes"
	"encoding/binary"
	"io"
	"net"
	"sync"
	"time"

	"github.com/hashicorp/go-msgpack/v2/codec"
	"github.com/rs/zerolog"

	"github.com/cuemby/nestd/pkg/log"
)

// Transport is the concrete, connection-pooled TCP implementation of the
// PersistentIO.Send half of §4.9: every peer RPC (Message) is msgpack
// encoded and framed with a 4-byte big-endian length prefix, then written
// to a cached connection that is redialed on failure.
type Transport struct {
	logg zerolog.Logger

	mu    sync.Mutex
	conns map[string]net.Conn

	dialTimeout time.Duration

	node *Node

	listener net.Listener
	closed   bool
}

// NewTransport constructs a Transport with no bound Node yet; call SetNode
// once the Node exists so incoming RPCs can be dispatched (the two are
// constructed together in cmd/nestd's server wiring, each needing the
// other).
func NewTransport() *Transport {
	return &Transport{
		logg:        log.WithComponent("raft-transport").Logger(),
		conns:       make(map[string]net.Conn),
		dialTimeout: 2 * time.Second,
	}
}

// SetNode binds the Node whose Handle method services inbound RPCs.
func (t *Transport) SetNode(n *Node) { t.node = n }

// Listen starts accepting peer connections on address; each accepted
// connection is served by its own goroutine reading a stream of
// length-prefixed Messages (§4.9).
func (t *Transport) Listen(address string) error {
	ln, err := net.Listen("tcp", address)
	if err != nil {
		return wrapErr(CodeIO, "raft: transport listen failed", err)
	}
	t.listener = ln
	go t.acceptLoop(ln)
	return nil
}

func (t *Transport) acceptLoop(ln net.Listener) {
	for {
		conn, err := ln.Accept()
		if err != nil {
			t.mu.Lock()
			closed := t.closed
			t.mu.Unlock()
			if closed {
				return
			}
			t.logg.Warn().Err(err).Msg("accept failed")
			continue
		}
		go t.serve(conn)
	}
}

func (t *Transport) serve(conn net.Conn) {
	defer conn.Close()
	for {
		msg, err := readMessage(conn)
		if err != nil {
			if err != io.EOF {
				t.logg.Debug().Err(err).Msg("peer connection closed")
			}
			return
		}
		if t.node == nil {
			continue
		}
		resp := t.node.Handle(msg)
		if err := writeMessage(conn, resp); err != nil {
			t.logg.Warn().Err(err).Msg("failed writing RPC response")
			return
		}
	}
}

// Send implements PersistentIO.Send: dial (or reuse) a connection to
// address, write message, and read back exactly one response.
func (t *Transport) Send(address string, message Message, cb func(Message, error)) {
	go func() {
		conn, err := t.dial(address)
		if err != nil {
			cb(Message{}, wrapErr(CodeNoConnection, "raft: dial failed", err))
			return
		}
		if err := writeMessage(conn, message); err != nil {
			t.drop(address)
			cb(Message{}, wrapErr(CodeNoConnection, "raft: write failed", err))
			return
		}
		conn.SetReadDeadline(time.Now().Add(5 * time.Second))
		resp, err := readMessage(conn)
		if err != nil {
			t.drop(address)
			cb(Message{}, wrapErr(CodeNoConnection, "raft: read failed", err))
			return
		}
		cb(resp, nil)
	}()
}

func (t *Transport) dial(address string) (net.Conn, error) {
	t.mu.Lock()
	if c, ok := t.conns[address]; ok {
		t.mu.Unlock()
		return c, nil
	}
	t.mu.Unlock()

	conn, err := net.DialTimeout("tcp", address, t.dialTimeout)
	if err != nil {
		return nil, err
	}
	t.mu.Lock()
	t.conns[address] = conn
	t.mu.Unlock()
	return conn, nil
}

func (t *Transport) drop(address string) {
	t.mu.Lock()
	if c, ok := t.conns[address]; ok {
		c.Close()
		delete(t.conns, address)
	}
	t.mu.Unlock()
}

// Close stops accepting connections and drops every pooled peer
// connection.
func (t *Transport) Close() error {
	t.mu.Lock()
	t.closed = true
	for addr, c := range t.conns {
		c.Close()
		delete(t.conns, addr)
	}
	t.mu.Unlock()
	if t.listener != nil {
		return t.listener.Close()
	}
	return nil
}

var transportHandle codec.MsgpackHandle

func writeMessage(w io.Writer, msg Message) error {
	var buf bytes.Buffer
	enc := codec.NewEncoder(&buf, &transportHandle)
	if err := enc.Encode(&msg); err != nil {
		return err
	}
	var prefix [4]byte
	binary.BigEndian.PutUint32(prefix[:], uint32(buf.Len()))
	if _, err := w.Write(prefix[:]); err != nil {
		return err
	}
	_, err := w.Write(buf.Bytes())
	return err
}

func readMessage(r io.Reader) (Message, error) {
	var prefix [4]byte
	if _, err := io.ReadFull(r, prefix[:]); err != nil {
		return Message{}, err
	}
	n := binary.BigEndian.Uint32(prefix[:])
	const maxMessageBytes = 64 << 20
	if n == 0 || uint64(n) > maxMessageBytes {
		return Message{}, newErr(CodeProtocol, "raft: transport message size out of range")
	}
	body := make([]byte, n)
	if _, err := io.ReadFull(r, body); err != nil {
		return Message{}, err
	}
	var msg Message
	dec := codec.NewDecoder(bytes.NewReader(body), &transportHandle)
	if err := dec.Decode(&msg); err != nil {
		return Message{}, wrapErr(CodeParse, "raft: transport message decode failed", err)
	}
	return msg, nil
}
