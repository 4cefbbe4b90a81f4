package decode

import (
	"errors"
	"fmt"

	"github.com/chaz8081/beaconbridge/internal/adv"
	"github.com/chaz8081/beaconbridge/internal/ble/crypto"
)

var (
	// ErrUnsupportedFrame is returned for records whose UUID or frame type
	// has no registered decoder. It is not a fault and callers skip it
	// silently.
	ErrUnsupportedFrame = errors.New("decode: unsupported frame")

	// ErrDecrypt is returned when an encrypted frame cannot be authenticated
	// or no key is configured for its sender.
	ErrDecrypt = fmt.Errorf("decode: %w", crypto.ErrDecrypt)
)

// Record is a 16-bit UUID service-data structure split by its vendor layout.
type Record struct {
	UUID16       uint16
	FrameControl byte
	FrameType    byte
	Frame        []byte // service data after the UUID
	Body         []byte // Frame after the header
}

// Layout describes where a vendor keeps its header bytes, as offsets into
// the service data that follows the UUID.
type Layout struct {
	Name         string
	MinFrame     int // shortest acceptable Frame
	FrameControl int // -1 when the vendor has no frame control byte
	FrameType    int
	Body         int
}

// Func decodes one record for the device that sent it.
type Func func(rec Record, mac MAC, keys Keyring) (Reading, error)

type dispatchKey struct {
	uuid      uint16
	frameType byte
}

// Registry dispatches service-data records to decoders by (UUID, frame type).
// It is read-only after construction and safe for concurrent use.
type Registry struct {
	layouts  map[uint16]Layout
	decoders map[dispatchKey]Func
}

// NewRegistry returns a registry with the BTHome v2 and Xiaomi MiBeacon
// decoders installed.
func NewRegistry() *Registry {
	r := &Registry{
		layouts:  make(map[uint16]Layout),
		decoders: make(map[dispatchKey]Func),
	}
	registerBTHome(r)
	registerMiBeacon(r)
	return r
}

// RegisterVendor sets the header layout used for records carrying uuid16.
func (r *Registry) RegisterVendor(uuid16 uint16, l Layout) {
	r.layouts[uuid16] = l
}

// Register installs fn for (uuid16, frameType). The vendor layout must be
// registered first.
func (r *Registry) Register(uuid16 uint16, frameType byte, fn Func) {
	if _, ok := r.layouts[uuid16]; !ok {
		panic(fmt.Sprintf("decode: no layout registered for UUID 0x%04X", uuid16))
	}
	r.decoders[dispatchKey{uuid16, frameType}] = fn
}

// Split reads the UUID and header bytes of a service-data payload (the AD
// payload after the 0x16 type byte).
func (r *Registry) Split(payload []byte) (Record, error) {
	cur := adv.NewCursor(payload)
	uuid, err := cur.ReadU16LE()
	if err != nil {
		return Record{}, fmt.Errorf("decode: service data UUID: %w", err)
	}
	l, ok := r.layouts[uuid]
	if !ok {
		return Record{UUID16: uuid}, ErrUnsupportedFrame
	}
	frame, _ := cur.ReadSlice(cur.Remaining())
	rec := Record{UUID16: uuid, Frame: frame}
	if len(frame) < l.MinFrame || len(frame) <= l.FrameType || len(frame) < l.Body {
		return rec, fmt.Errorf("decode: %s record of %d bytes: %w", l.Name, len(frame), adv.ErrUnderflow)
	}
	if l.FrameControl >= 0 {
		rec.FrameControl = frame[l.FrameControl]
	}
	rec.FrameType = frame[l.FrameType]
	rec.Body = frame[l.Body:]
	return rec, nil
}

// DecodeServiceData decodes one service-data payload sent by mac.
func (r *Registry) DecodeServiceData(mac MAC, payload []byte, keys Keyring) (Reading, error) {
	rec, err := r.Split(payload)
	if err != nil {
		return Reading{}, err
	}
	fn, ok := r.decoders[dispatchKey{rec.UUID16, rec.FrameType}]
	if !ok {
		return Reading{}, ErrUnsupportedFrame
	}
	reading, err := fn(rec, mac, keys)
	if err != nil {
		return Reading{}, err
	}
	reading.MAC = mac
	reading.Format = r.layouts[rec.UUID16].Name
	return reading, nil
}

// Outcome is the result of decoding one service-data structure.
type Outcome struct {
	Reading Reading
	Err     error
}

// Decoder decodes whole advertising payloads against a fixed keyring.
type Decoder struct {
	reg  *Registry
	keys Keyring
}

// NewDecoder returns a Decoder using reg and keys. A nil reg selects
// NewRegistry().
func NewDecoder(reg *Registry, keys Keyring) *Decoder {
	if reg == nil {
		reg = NewRegistry()
	}
	if keys == nil {
		keys = Keyring{}
	}
	return &Decoder{reg: reg, keys: keys}
}

// DecodePayload parses an advertising payload and decodes every service-data
// structure in it. The error is non-nil only when the payload as a whole is
// rejected (adv.ErrTooShort); per-structure failures are reported in the
// outcomes.
func (d *Decoder) DecodePayload(mac MAC, payload []byte) ([]Outcome, error) {
	p, err := adv.Parse(payload)
	if err != nil {
		return nil, err
	}
	var out []Outcome
	for s := range p.All() {
		if s.Type != adv.TypeServiceData16 {
			continue
		}
		reading, err := d.reg.DecodeServiceData(mac, s.Payload, d.keys)
		out = append(out, Outcome{Reading: reading, Err: err})
	}
	return out, nil
}
