package framework

import (
	"context"

	"github.com/cuemby/nestd/internal/wire"
	"github.com/cuemby/nestd/pkg/dqclient"
)

// Client wraps dqclient.Client with test-friendly convenience methods.
type Client struct {
	*dqclient.Client
}

// NewClient dials addr and returns a test client wrapper.
func NewClient(ctx context.Context, addr string) (*Client, error) {
	c, err := dqclient.Dial(ctx, addr)
	if err != nil {
		return nil, err
	}
	return &Client{Client: c}, nil
}

// ExecSQLSimple runs a single no-params statement against an already-open db.
func (c *Client) ExecSQLSimple(dbID uint32, sql string) (uint64, uint64, error) {
	return c.ExecSQL(dbID, sql, nil)
}

// QuerySQLSimple runs a single no-params query against an already-open db.
func (c *Client) QuerySQLSimple(dbID uint32, sql string) ([]string, []wire.Row, error) {
	return c.QuerySQL(dbID, sql, nil)
}

// TableExists reports whether name appears in sqlite_master.
func (c *Client) TableExists(dbID uint32, name string) (bool, error) {
	_, rows, err := c.QuerySQL(dbID, "SELECT name FROM sqlite_master WHERE type='table' AND name=?", []wire.Param{
		{Kind: wire.ParamText, Text: name},
	})
	if err != nil {
		return false, err
	}
	return len(rows) > 0, nil
}

// RowCount returns the number of rows in table.
func (c *Client) RowCount(dbID uint32, table string) (int64, error) {
	_, rows, err := c.QuerySQLSimple(dbID, "SELECT COUNT(*) FROM "+table)
	if err != nil {
		return 0, err
	}
	if len(rows) == 0 || len(rows[0].Values) == 0 {
		return 0, nil
	}
	return int64(rows[0].Values[0].Int), nil
}
