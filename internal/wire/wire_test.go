package wire

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHeaderRoundTrip(t *testing.T) {
	h := Header{Words: 12, Type: TypeOpen, Flags: FlagNone, Extra: 7}
	raw := EncodeHeader(h)
	got := DecodeHeader(raw[:])
	assert.Equal(t, h, got)
}

func TestRequestRoundTrip(t *testing.T) {
	cases := []Request{
		{Type: TypeLeader},
		{Type: TypeClient, ClientID: 42},
		{Type: TypeHeartbeat, Timestamp: 1234567},
		{Type: TypeOpen, Name: "test.db", Flags: 0, VFS: "test"},
		{Type: TypePrepare, DBID: 1, SQL: "CREATE TABLE t(n INT)"},
		{
			Type: TypeExec, DBID: 1, StmtID: 2,
			Params: []Param{{Kind: ParamInt, Int: 123}, {Kind: ParamText, Text: "hi"}},
		},
		{Type: TypeFinalize, DBID: 1, StmtID: 2},
		{Type: TypeQuerySQL, DBID: 1, SQL: "SELECT 1", Params: nil},
	}

	for _, want := range cases {
		raw := EncodeRequest(want)
		require.GreaterOrEqual(t, len(raw), HeaderSize)
		h := DecodeHeader(raw[:HeaderSize])
		require.NoError(t, ValidateBodyLen(h.Words))
		got, err := DecodeRequest(h, raw[HeaderSize:HeaderSize+h.BodyLen()])
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
}

func TestResponseRoundTrip(t *testing.T) {
	cases := []Response{
		{Type: TypeFailure, Code: 7, Description: "not found"},
		{Type: TypeServer, Address: "127.0.0.1:9001"},
		{Type: TypeWelcome, HeartbeatTimeout: 15000},
		{Type: TypeServers, Addresses: []string{"a:1", "b:2"}},
		{Type: TypeDb, DBID: 3},
		{Type: TypeStmt, DBID: 3, StmtID: 9},
		{Type: TypeResult, LastInsertID: 5, RowsAffected: 1},
		{Type: TypeEmpty},
		{
			Type:    TypeRows,
			Columns: []string{"n"},
			Rows: []Row{
				{Kinds: []ParamKind{ParamInt}, Values: []Param{{Kind: ParamInt, Int: 123}}},
				{Kinds: []ParamKind{ParamNull}, Values: []Param{{Kind: ParamNull}}},
			},
		},
	}

	for _, want := range cases {
		raw := Encode(want)
		h := DecodeHeader(raw[:HeaderSize])
		got, err := DecodeResponse(h, raw[HeaderSize:HeaderSize+h.BodyLen()])
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
}

func TestEmptyBodyIsProtocolError(t *testing.T) {
	require.ErrorIs(t, ValidateBodyLen(0), ErrEmptyBody)
}

func TestBodyTooLargeIsProtocolError(t *testing.T) {
	require.ErrorIs(t, ValidateBodyLen(1<<30), ErrBodyTooLarge)
}

func TestTextNotTerminatedIsParseError(t *testing.T) {
	b := &Buffer{heap: []byte("no-terminator-here")}
	_, err := b.GetText(len(b.heap))
	require.ErrorIs(t, err, ErrNoStringFound)
}

func TestReadPastBodyEndIsError(t *testing.T) {
	body := make([]byte, 8)
	b := &Buffer{heap: body}
	_, err := b.GetUint64(len(body))
	require.NoError(t, err)
	_, err = b.GetUint64(len(body))
	require.ErrorIs(t, err, ErrTruncatedRead)
}

func TestUnknownTypeIsProtocolError(t *testing.T) {
	h := Header{Words: 1, Type: Type(200)}
	_, err := DecodeRequest(h, make([]byte, 8))
	require.ErrorIs(t, err, ErrUnknownType)
}
