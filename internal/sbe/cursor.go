package sbe

import (
	"encoding/binary"
	"fmt"
	"unicode/utf8"
)

// ErrorKind classifies a frame decode failure.
type ErrorKind int

const (
	// ShortFrame: the frame ended before a declared field or group.
	ShortFrame ErrorKind = iota
	// BadGroup: a repeating-group header declares an unusable layout.
	BadGroup
	// BadUtf8: a variable-length string field is not valid UTF-8.
	BadUtf8
	// Unknown: the header names a template this decoder does not know.
	Unknown
)

func (k ErrorKind) String() string {
	switch k {
	case ShortFrame:
		return "short frame"
	case BadGroup:
		return "bad group"
	case BadUtf8:
		return "bad utf-8"
	case Unknown:
		return "unknown template"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// DecodeError reports a truncated or malformed frame. Needed and Have are
// byte counts for ShortFrame and BadGroup; TemplateID is set for Unknown.
type DecodeError struct {
	Kind       ErrorKind
	Needed     int
	Have       int
	TemplateID uint16
}

func (e *DecodeError) Error() string {
	switch e.Kind {
	case Unknown:
		return fmt.Sprintf("sbe: unknown template id %d", e.TemplateID)
	case BadUtf8:
		return "sbe: invalid utf-8 in string field"
	default:
		return fmt.Sprintf("sbe: %s: need %d bytes, have %d", e.Kind, e.Needed, e.Have)
	}
}

// cursor walks a message body. All reads are little-endian and bounds-checked;
// a failed read returns a ShortFrame error with the needed/have byte counts.
type cursor struct {
	data []byte
	pos  int
}

func newCursor(data []byte) *cursor { return &cursor{data: data} }

func (c *cursor) remaining() int { return len(c.data) - c.pos }

func (c *cursor) need(n int) error {
	if c.remaining() < n {
		return &DecodeError{Kind: ShortFrame, Needed: c.pos + n, Have: len(c.data)}
	}
	return nil
}

func (c *cursor) u8() (uint8, error) {
	if err := c.need(1); err != nil {
		return 0, err
	}
	v := c.data[c.pos]
	c.pos++
	return v, nil
}

func (c *cursor) i8() (int8, error) {
	v, err := c.u8()
	return int8(v), err
}

func (c *cursor) u16() (uint16, error) {
	if err := c.need(2); err != nil {
		return 0, err
	}
	v := binary.LittleEndian.Uint16(c.data[c.pos:])
	c.pos += 2
	return v, nil
}

func (c *cursor) u32() (uint32, error) {
	if err := c.need(4); err != nil {
		return 0, err
	}
	v := binary.LittleEndian.Uint32(c.data[c.pos:])
	c.pos += 4
	return v, nil
}

func (c *cursor) i64() (int64, error) {
	if err := c.need(8); err != nil {
		return 0, err
	}
	v := binary.LittleEndian.Uint64(c.data[c.pos:])
	c.pos += 8
	return int64(v), nil
}

func (c *cursor) skip(n int) error {
	if err := c.need(n); err != nil {
		return err
	}
	c.pos += n
	return nil
}

// bytes returns a view of the next n bytes without copying.
func (c *cursor) bytes(n int) ([]byte, error) {
	if err := c.need(n); err != nil {
		return nil, err
	}
	v := c.data[c.pos : c.pos+n]
	c.pos += n
	return v, nil
}

// groupSize reads a groupSizeEncoding header: blockLength u16, numInGroup u32.
func (c *cursor) groupSize() (blockLength uint16, count uint32, err error) {
	if c.remaining() < 6 {
		return 0, 0, &DecodeError{Kind: BadGroup, Needed: c.pos + 6, Have: len(c.data)}
	}
	blockLength, _ = c.u16()
	count, _ = c.u32()
	return blockLength, count, nil
}

// groupSize16 reads a groupSize16Encoding header: blockLength u16, numInGroup u16.
func (c *cursor) groupSize16() (blockLength uint16, count uint16, err error) {
	if c.remaining() < 4 {
		return 0, 0, &DecodeError{Kind: BadGroup, Needed: c.pos + 4, Have: len(c.data)}
	}
	blockLength, _ = c.u16()
	count, _ = c.u16()
	return blockLength, count, nil
}

// varString8 reads a u8 length prefix followed by that many UTF-8 bytes.
// A zero length decodes to the empty string.
func (c *cursor) varString8() (string, error) {
	length, err := c.u8()
	if err != nil {
		return "", err
	}
	raw, err := c.bytes(int(length))
	if err != nil {
		return "", err
	}
	if !utf8.Valid(raw) {
		return "", &DecodeError{Kind: BadUtf8}
	}
	return string(raw), nil
}
