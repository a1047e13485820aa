package wire

import "encoding/binary"

const (
	wordSize = 8

	// HeaderSize is the fixed 8-byte header: words(4) + type(1) + flags(1) + extra(2).
	HeaderSize = 8

	// InlineBodySize is the largest body served from the inline buffer before a
	// connection spills into a heap allocation (§4.1 buffer policy).
	InlineBodySize = 4096

	// maxBodyBytes bounds a single message body; a value in the gigaword range
	// is always invalid per the framing invariants.
	maxBodyBytes = 8 << 20
)

// Type identifies the semantic meaning of a message body.
type Type uint8

// Request types.
const (
	TypeLeader Type = iota + 1
	TypeClient
	TypeHeartbeat
	TypeOpen
	TypePrepare
	TypeExec
	TypeQuery
	TypeFinalize
	TypeExecSQL
	TypeQuerySQL
)

// Response types, deliberately numbered past the request range so a stray
// mismatch between request/response handling surfaces as an unknown type
// rather than silently parsing the wrong schema.
const (
	TypeFailure Type = iota + 64
	TypeServer
	TypeWelcome
	TypeServers
	TypeDb
	TypeStmt
	TypeResult
	TypeRows
	TypeEmpty
)

// Flags bits carried in the header's single flags byte. None are defined by
// the base protocol; reserved for future streamed-response support (a
// "continue response" flag for multi-message row sets).
const (
	FlagNone uint8 = 0
)

// Header is the fixed-size preamble of every message.
type Header struct {
	Words uint32
	Type  Type
	Flags uint8
	Extra uint16
}

// BodyLen returns the number of bytes the body occupies on the wire.
func (h Header) BodyLen() int { return int(h.Words) * wordSize }

// EncodeHeader serializes h into an 8-byte little-endian buffer.
func EncodeHeader(h Header) [HeaderSize]byte {
	var b [HeaderSize]byte
	binary.LittleEndian.PutUint32(b[0:4], h.Words)
	b[4] = byte(h.Type)
	b[5] = h.Flags
	binary.LittleEndian.PutUint16(b[6:8], h.Extra)
	return b
}

// DecodeHeader parses an 8-byte little-endian header. It never fails on
// shape alone; the caller (connfsm) validates the resulting Words against
// ErrEmptyBody / ErrBodyTooLarge.
func DecodeHeader(b []byte) Header {
	_ = b[7] // bounds check hint
	return Header{
		Words: binary.LittleEndian.Uint32(b[0:4]),
		Type:  Type(b[4]),
		Flags: b[5],
		Extra: binary.LittleEndian.Uint16(b[6:8]),
	}
}

// ValidateBodyLen applies the framing invariants for a just-parsed header:
// an empty body and a body past the implementation cap are both protocol
// errors, never silently accepted.
func ValidateBodyLen(words uint32) error {
	if words == 0 {
		return ErrEmptyBody
	}
	if int64(words)*wordSize > maxBodyBytes {
		return ErrBodyTooLarge
	}
	return nil
}
