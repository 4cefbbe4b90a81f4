// Package adv parses raw BLE advertising payloads into their length-prefixed
// AD structures.
package adv

import "errors"

// ErrUnderflow is returned when a read would run past the end of the buffer.
// The record being read is malformed or truncated and should be abandoned.
var ErrUnderflow = errors.New("adv: read past end of buffer")

// Cursor is an advancing reader over a byte buffer. Failed reads leave the
// position unchanged.
type Cursor struct {
	buf []byte
	pos int
}

// NewCursor returns a Cursor positioned at the start of buf.
func NewCursor(buf []byte) *Cursor {
	return &Cursor{buf: buf}
}

// Remaining returns the number of unread bytes.
func (c *Cursor) Remaining() int {
	return len(c.buf) - c.pos
}

// Pos returns the current offset into the buffer.
func (c *Cursor) Pos() int {
	return c.pos
}

// ReadU8 reads one byte.
func (c *Cursor) ReadU8() (uint8, error) {
	if c.Remaining() < 1 {
		return 0, ErrUnderflow
	}
	b := c.buf[c.pos]
	c.pos++
	return b, nil
}

// ReadU16LE reads a little-endian uint16.
func (c *Cursor) ReadU16LE() (uint16, error) {
	if c.Remaining() < 2 {
		return 0, ErrUnderflow
	}
	v := uint16(c.buf[c.pos]) | uint16(c.buf[c.pos+1])<<8
	c.pos += 2
	return v, nil
}

// ReadSlice returns the next n bytes as a view into the underlying buffer.
// The slice is capped so appending to it cannot overwrite the buffer.
func (c *Cursor) ReadSlice(n int) ([]byte, error) {
	if n < 0 || c.Remaining() < n {
		return nil, ErrUnderflow
	}
	s := c.buf[c.pos : c.pos+n : c.pos+n]
	c.pos += n
	return s, nil
}

// Skip advances past n bytes.
func (c *Cursor) Skip(n int) error {
	if n < 0 || c.Remaining() < n {
		return ErrUnderflow
	}
	c.pos += n
	return nil
}
