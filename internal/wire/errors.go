package wire

import "errors"

// Sentinel framing errors, returned verbatim by Buffer, ValidateBodyLen and
// the request/response decoders so that
// callers (internal/connfsm) can map them to the protocol error code without
// string matching.
var (
	ErrEmptyBody      = errors.New("empty message body")
	ErrBodyTooLarge   = errors.New("message body too large")
	ErrTruncatedRead  = errors.New("read past end of message body")
	ErrNoStringFound  = errors.New("no string found")
	ErrUnknownType    = errors.New("unknown message type")
	ErrBufferOverflow = errors.New("write exceeds allocated buffer")
)
