// Package dqclient is a minimal Go client for the wire protocol implemented
// by internal/connfsm and internal/gateway, used by integration tests to
// drive a running nestd server end to end.
package dqclient

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/cuemby/nestd/internal/connfsm"
	"github.com/cuemby/nestd/internal/wire"
)

// Client wraps one TCP connection to a nestd server, driving the §6.1
// handshake followed by a sequence of request/response round trips.
type Client struct {
	conn net.Conn
}

// Dial connects to addr and performs the protocol handshake.
func Dial(ctx context.Context, addr string) (*Client, error) {
	d := net.Dialer{}
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("dqclient: dial failed: %w", err)
	}
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], connfsm.ProtocolVersion)
	if _, err := conn.Write(buf[:]); err != nil {
		conn.Close()
		return nil, fmt.Errorf("dqclient: handshake write failed: %w", err)
	}
	return &Client{conn: conn}, nil
}

// Close closes the underlying connection.
func (c *Client) Close() error { return c.conn.Close() }

// call sends req and returns the decoded response, translating a TypeFailure
// response into a Go error.
func (c *Client) call(timeout time.Duration, req wire.Request) (wire.Response, error) {
	if err := c.conn.SetDeadline(time.Now().Add(timeout)); err != nil {
		return wire.Response{}, err
	}
	if _, err := c.conn.Write(wire.EncodeRequest(req)); err != nil {
		return wire.Response{}, fmt.Errorf("dqclient: write failed: %w", err)
	}

	var hdrBuf [wire.HeaderSize]byte
	if _, err := io.ReadFull(c.conn, hdrBuf[:]); err != nil {
		return wire.Response{}, fmt.Errorf("dqclient: header read failed: %w", err)
	}
	hdr := wire.DecodeHeader(hdrBuf[:])
	body := make([]byte, hdr.BodyLen())
	if _, err := io.ReadFull(c.conn, body); err != nil {
		return wire.Response{}, fmt.Errorf("dqclient: body read failed: %w", err)
	}

	resp, err := wire.DecodeResponse(hdr, body)
	if err != nil {
		return wire.Response{}, fmt.Errorf("dqclient: decode failed: %w", err)
	}
	if resp.Type == wire.TypeFailure {
		return resp, fmt.Errorf("dqclient: server error %d: %s", resp.Code, resp.Description)
	}
	return resp, nil
}

const defaultTimeout = 10 * time.Second

// Leader asks the server who the current cluster leader is.
func (c *Client) Leader() (string, error) {
	resp, err := c.call(defaultTimeout, wire.Request{Type: wire.TypeLeader})
	if err != nil {
		return "", err
	}
	return resp.Address, nil
}

// Hello registers a client id and returns the negotiated heartbeat timeout.
func (c *Client) Hello(clientID uint64) (time.Duration, error) {
	resp, err := c.call(defaultTimeout, wire.Request{Type: wire.TypeClient, ClientID: clientID})
	if err != nil {
		return 0, err
	}
	return time.Duration(resp.HeartbeatTimeout) * time.Millisecond, nil
}

// Heartbeat refreshes the session's idle timer and returns the cluster's
// current server list.
func (c *Client) Heartbeat(timestamp uint64) ([]string, error) {
	resp, err := c.call(defaultTimeout, wire.Request{Type: wire.TypeHeartbeat, Timestamp: timestamp})
	if err != nil {
		return nil, err
	}
	return resp.Addresses, nil
}

// Open allocates a database handle for name.
func (c *Client) Open(name string, flags uint64, vfsName string) (uint32, error) {
	resp, err := c.call(defaultTimeout, wire.Request{Type: wire.TypeOpen, Name: name, Flags: flags, VFS: vfsName})
	if err != nil {
		return 0, err
	}
	return resp.DBID, nil
}

// Prepare compiles sql against dbID and returns the statement handle.
func (c *Client) Prepare(dbID uint32, sql string) (uint32, error) {
	resp, err := c.call(defaultTimeout, wire.Request{Type: wire.TypePrepare, DBID: dbID, SQL: sql})
	if err != nil {
		return 0, err
	}
	return resp.StmtID, nil
}

// Exec runs a prepared mutation, returning the insert id and rows affected.
func (c *Client) Exec(dbID, stmtID uint32, params []wire.Param) (lastInsertID, rowsAffected uint64, err error) {
	resp, err := c.call(defaultTimeout, wire.Request{Type: wire.TypeExec, DBID: dbID, StmtID: stmtID, Params: params})
	if err != nil {
		return 0, 0, err
	}
	return resp.LastInsertID, resp.RowsAffected, nil
}

// Query runs a prepared query, returning columns and rows.
func (c *Client) Query(dbID, stmtID uint32, params []wire.Param) ([]string, []wire.Row, error) {
	resp, err := c.call(defaultTimeout, wire.Request{Type: wire.TypeQuery, DBID: dbID, StmtID: stmtID, Params: params})
	if err != nil {
		return nil, nil, err
	}
	return resp.Columns, resp.Rows, nil
}

// Finalize releases a prepared statement.
func (c *Client) Finalize(dbID, stmtID uint32) error {
	_, err := c.call(defaultTimeout, wire.Request{Type: wire.TypeFinalize, DBID: dbID, StmtID: stmtID})
	return err
}

// ExecSQL compiles and runs sql in one round trip.
func (c *Client) ExecSQL(dbID uint32, sql string, params []wire.Param) (lastInsertID, rowsAffected uint64, err error) {
	resp, err := c.call(defaultTimeout, wire.Request{Type: wire.TypeExecSQL, DBID: dbID, SQL: sql, Params: params})
	if err != nil {
		return 0, 0, err
	}
	return resp.LastInsertID, resp.RowsAffected, nil
}

// QuerySQL compiles and runs a query in one round trip.
func (c *Client) QuerySQL(dbID uint32, sql string, params []wire.Param) ([]string, []wire.Row, error) {
	resp, err := c.call(defaultTimeout, wire.Request{Type: wire.TypeQuerySQL, DBID: dbID, SQL: sql, Params: params})
	if err != nil {
		return nil, nil, err
	}
	return resp.Columns, resp.Rows, nil
}
