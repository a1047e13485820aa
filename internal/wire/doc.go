/*
Package wire implements the client wire protocol's message framing contract.

A message is an 8-byte header followed by a body of `words*8` bytes:

	words:u32_le  type:u8  flags:u8  extra:u16_le
	<words*8 bytes of typed fields>

Bodies of up to InlineBodySize live in an inline (stack-sized) buffer; larger
bodies spill into a heap allocation sized exactly to the declared word count.
Which buffer is active is disambiguated by whether the heap slice is non-nil,
mirroring the C implementation's pointer-based switchover.

This package owns the framing and typed-field contract (§4.1 of the design)
and the request/response schemas (Request, Response) with their encoders and
decoders; internal/gateway and internal/connfsm build on top of it.
*/
package wire
