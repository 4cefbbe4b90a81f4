package adv

import (
	"errors"
	"iter"
)

// MinPayloadLen is the shortest advertising payload worth parsing. Anything
// shorter cannot carry a vendor service-data record.
const MinPayloadLen = 15

// ErrTooShort is returned by Parse for payloads shorter than MinPayloadLen.
var ErrTooShort = errors.New("adv: payload too short")

// Advertising data types used by the decoders.
const (
	TypeFlags            = 0x01 // Flags
	TypeAllUUID16        = 0x03 // Complete List of 16-bit Service Class UUIDs
	TypeShortName        = 0x08 // Shortened Local Name
	TypeCompleteName     = 0x09 // Complete Local Name
	TypeTxPower          = 0x0A // Tx Power Level
	TypeServiceData16    = 0x16 // Service Data - 16-bit UUID
	TypeManufacturerData = 0xFF // Manufacturer Specific Data
)

// Structure is one length-prefixed AD structure. Payload is a view into the
// advertising payload it was parsed from and must not be retained past the
// parse.
type Structure struct {
	Type    byte
	Payload []byte
}

// Parser yields the AD structures of a single advertising payload. It is
// finite and cannot be restarted.
type Parser struct {
	cur       *Cursor
	done      bool
	truncated bool
}

// Parse prepares a Parser over payload. Payloads shorter than MinPayloadLen
// return ErrTooShort together with a Parser that yields nothing.
func Parse(payload []byte) (*Parser, error) {
	if len(payload) < MinPayloadLen {
		return &Parser{cur: NewCursor(nil), done: true}, ErrTooShort
	}
	return &Parser{cur: NewCursor(payload)}, nil
}

// Next returns the next structure. It returns false at a zero length byte, at
// the end of the buffer, or when a structure claims more bytes than remain.
func (p *Parser) Next() (Structure, bool) {
	if p.done {
		return Structure{}, false
	}
	l, err := p.cur.ReadU8()
	if err != nil || l == 0 {
		p.done = true
		return Structure{}, false
	}
	if p.cur.Remaining() < int(l) {
		p.done = true
		p.truncated = true
		return Structure{}, false
	}
	typ, _ := p.cur.ReadU8()
	payload, _ := p.cur.ReadSlice(int(l) - 1)
	return Structure{Type: typ, Payload: payload}, true
}

// All returns an iterator over the remaining structures.
func (p *Parser) All() iter.Seq[Structure] {
	return func(yield func(Structure) bool) {
		for {
			s, ok := p.Next()
			if !ok || !yield(s) {
				return
			}
		}
	}
}

// Truncated reports whether iteration stopped because a structure ran past
// the end of the payload.
func (p *Parser) Truncated() bool {
	return p.truncated
}

// Exhausted reports whether iteration ended normally, at a zero length byte
// or at the end of the payload.
func (p *Parser) Exhausted() bool {
	return p.done && !p.truncated
}

// Structures collects every structure of payload.
func Structures(payload []byte) ([]Structure, error) {
	p, err := Parse(payload)
	if err != nil {
		return nil, err
	}
	var out []Structure
	for s := range p.All() {
		out = append(out, s)
	}
	return out, nil
}

// ServiceData collects the 16-bit UUID service-data structures of payload.
func ServiceData(payload []byte) ([]Structure, error) {
	all, err := Structures(payload)
	if err != nil {
		return nil, err
	}
	var out []Structure
	for _, s := range all {
		if s.Type == TypeServiceData16 {
			out = append(out, s)
		}
	}
	return out, nil
}

// Build assembles an advertising payload from structures. Structures whose
// payload does not fit a one-byte length are skipped.
func Build(structs ...Structure) []byte {
	var buf []byte
	for _, s := range structs {
		if len(s.Payload) > 254 {
			continue
		}
		buf = append(buf, byte(len(s.Payload)+1), s.Type)
		buf = append(buf, s.Payload...)
	}
	return buf
}
