package wire

import (
	"encoding/binary"
	"math"
)

// Field encoders are "byte-order neutralized" in the sense that every value
// is written little-endian and naturally aligned within its owning word,
// regardless of host endianness — there is no runtime word-swap because Go
// targets only little/big-endian hosts uniformly through encoding/binary.

// PutUint8 writes a single byte at the cursor. Callers that pack several
// uint8 fields into one word (e.g. type tags) are responsible for padding
// themselves; PutUint8 never advances past a single byte.
func (b *Buffer) PutUint8(v uint8) error {
	if err := b.ensure(1); err != nil {
		return err
	}
	b.Bytes()[b.offset] = v
	b.offset++
	return nil
}

func (b *Buffer) GetUint8(bodyLen int) (uint8, error) {
	if err := b.ensureRead(1, bodyLen); err != nil {
		return 0, err
	}
	v := b.Bytes()[b.offset]
	b.offset++
	return v, nil
}

// PutUint32 writes a naturally-aligned 4-byte field, then pads to the next
// word boundary so the next field starts word-aligned.
func (b *Buffer) PutUint32(v uint32) error {
	if err := b.ensure(4); err != nil {
		return err
	}
	binary.LittleEndian.PutUint32(b.Bytes()[b.offset:], v)
	b.offset += 4
	b.pad()
	return nil
}

func (b *Buffer) GetUint32(bodyLen int) (uint32, error) {
	if err := b.ensureRead(4, bodyLen); err != nil {
		return 0, err
	}
	v := binary.LittleEndian.Uint32(b.Bytes()[b.offset:])
	b.offset += 4
	b.pad()
	return v, nil
}

func (b *Buffer) PutUint64(v uint64) error {
	if err := b.ensure(8); err != nil {
		return err
	}
	binary.LittleEndian.PutUint64(b.Bytes()[b.offset:], v)
	b.offset += 8
	return nil
}

func (b *Buffer) GetUint64(bodyLen int) (uint64, error) {
	if err := b.ensureRead(8, bodyLen); err != nil {
		return 0, err
	}
	v := binary.LittleEndian.Uint64(b.Bytes()[b.offset:])
	b.offset += 8
	return v, nil
}

func (b *Buffer) PutInt64(v int64) error {
	return b.PutUint64(uint64(v))
}

func (b *Buffer) GetInt64(bodyLen int) (int64, error) {
	v, err := b.GetUint64(bodyLen)
	return int64(v), err
}

func (b *Buffer) PutDouble(v float64) error {
	return b.PutUint64(math.Float64bits(v))
}

func (b *Buffer) GetDouble(bodyLen int) (float64, error) {
	v, err := b.GetUint64(bodyLen)
	return math.Float64frombits(v), err
}

// PutText writes a NUL-terminated string, padded forward to the next 8-byte
// boundary.
func (b *Buffer) PutText(s string) error {
	n := len(s) + 1
	if err := b.ensure(n); err != nil {
		return err
	}
	buf := b.Bytes()
	copy(buf[b.offset:], s)
	buf[b.offset+len(s)] = 0
	b.offset += n
	b.pad()
	return nil
}

// GetText reads a NUL-terminated string from the body, failing with
// ErrNoStringFound if no terminator appears before bodyLen.
func (b *Buffer) GetText(bodyLen int) (string, error) {
	buf := b.Bytes()
	start := b.offset
	for i := start; i < bodyLen; i++ {
		if buf[i] == 0 {
			s := string(buf[start:i])
			b.offset = i + 1
			b.pad()
			return s, nil
		}
	}
	return "", ErrNoStringFound
}

// PutTextList writes a sequence of NUL-terminated strings terminated by an
// extra NUL marking the end of the list, padded forward.
func (b *Buffer) PutTextList(items []string) error {
	for _, s := range items {
		n := len(s) + 1
		if err := b.ensure(n); err != nil {
			return err
		}
		buf := b.Bytes()
		copy(buf[b.offset:], s)
		buf[b.offset+len(s)] = 0
		b.offset += n
	}
	if err := b.ensure(1); err != nil {
		return err
	}
	b.Bytes()[b.offset] = 0
	b.offset++
	b.pad()
	return nil
}

// GetTextList reads strings until an empty (zero-length) entry is hit.
func (b *Buffer) GetTextList(bodyLen int) ([]string, error) {
	var items []string
	buf := b.Bytes()
	for {
		start := b.offset
		end := -1
		for i := start; i < bodyLen; i++ {
			if buf[i] == 0 {
				end = i
				break
			}
		}
		if end == -1 {
			return nil, ErrNoStringFound
		}
		if end == start {
			b.offset = end + 1
			b.pad()
			return items, nil
		}
		items = append(items, string(buf[start:end]))
		b.offset = end + 1
	}
}
