package connfsm

import (
	"errors"

	"github.com/cuemby/nestd/internal/gateway"
)

// translateErr maps an error from request decoding or gateway dispatch onto
// the wire failure response's (code, description) pair (§7). A *gateway.Error
// carries its own taxonomy code; anything else (framing errors from
// internal/wire) is reported as a protocol error.
func translateErr(err error) (uint64, string) {
	var gwErr *gateway.Error
	if errors.As(err, &gwErr) {
		return uint64(gwErr.Code), gwErr.Error()
	}
	return uint64(gateway.CodeProtocol), err.Error()
}
