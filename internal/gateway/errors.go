package gateway

import "fmt"

// Code is the gateway error taxonomy leaked to the connection (§4.3).
type Code uint8

const (
	CodeProtocol Code = iota
	CodeParse
	CodeEngine
	CodeNotFound
	CodeNoMem
)

// Error wraps a taxonomy Code, a human description, and (for engine errors)
// the SQLite primary/extended result codes, wrapped with fmt.Errorf("...: %w", err)
// at every layer.
type Error struct {
	Code      Code
	Msg       string
	SQLiteErr int
	Extended  int
	Err       error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Msg, e.Err)
	}
	return e.Msg
}

func (e *Error) Unwrap() error { return e.Err }

func newErr(code Code, msg string) *Error { return &Error{Code: code, Msg: msg} }

func wrapErr(code Code, msg string, err error) *Error { return &Error{Code: code, Msg: msg, Err: err} }

var (
	ErrNotFound    = newErr(CodeNotFound, "gateway: unknown handle")
	ErrTooManyReqs = newErr(CodeProtocol, "gateway: context ring exhausted")
)
