// Package bridge turns advertisements and GATT values into published
// readings.
package bridge

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	mapset "github.com/deckarep/golang-set"

	"github.com/chaz8081/beaconbridge/internal/adv"
	"github.com/chaz8081/beaconbridge/internal/ble"
	"github.com/chaz8081/beaconbridge/internal/ble/protocol"
	"github.com/chaz8081/beaconbridge/internal/decode"
	"github.com/chaz8081/beaconbridge/internal/gatt"
	"github.com/chaz8081/beaconbridge/internal/publish"
)

// FormatGATT is the Reading.Format of values read over a connection.
const FormatGATT = "gatt"

// Options configures a Handler.
type Options struct {
	// AllowList holds the decode.MAC values to accept. Nil or empty
	// accepts every advertiser.
	AllowList mapset.Set
	// DedupWindow drops a payload identical to the previous one from the
	// same MAC within the window. Zero disables deduplication.
	DedupWindow time.Duration
	Logger      *slog.Logger
}

// Stats counts what the handler did with its input.
type Stats struct {
	Received  uint64
	Filtered  uint64
	Duplicate uint64
	Decoded   uint64
	Failed    uint64
	Published uint64
}

type lastSeen struct {
	payload string
	at      time.Time
}

// Handler decodes advertisements and publishes readings. It is safe for
// concurrent use.
type Handler struct {
	decoder *decode.Decoder
	pub     publish.Publisher
	allow   mapset.Set
	window  time.Duration
	logger  *slog.Logger
	now     func() time.Time

	dedupMu sync.Mutex
	seen    map[decode.MAC]lastSeen
	sweepAt int

	received, filtered, duplicate atomic.Uint64
	decoded, failed, published    atomic.Uint64
}

// NewHandler creates a handler. It panics on a nil decoder or publisher.
func NewHandler(decoder *decode.Decoder, pub publish.Publisher, opts Options) *Handler {
	if decoder == nil || pub == nil {
		panic("bridge: NewHandler called with nil decoder or publisher")
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.AllowList == nil {
		opts.AllowList = mapset.NewSet()
	}
	return &Handler{
		decoder: decoder,
		pub:     pub,
		allow:   opts.AllowList,
		window:  opts.DedupWindow,
		logger:  opts.Logger,
		now:     time.Now,
		seen:    make(map[decode.MAC]lastSeen),
		sweepAt: dedupSweepMin,
	}
}

// HandleAdvertisement decodes one scan event and publishes every reading in
// it. Decode failures are logged and dropped.
func (h *Handler) HandleAdvertisement(ctx context.Context, a ble.Advertisement) {
	h.received.Add(1)
	if h.allow.Cardinality() > 0 && !h.allow.Contains(a.MAC) {
		h.filtered.Add(1)
		return
	}

	h.logger.Debug("[BLE] advertisement",
		"mac", a.MAC,
		"name", a.Name,
		"rssi", a.RSSI,
		"len", len(a.Payload),
		"data", protocol.Hex(a.Payload),
	)

	if h.isDuplicate(a) {
		h.duplicate.Add(1)
		return
	}

	outcomes, err := h.decoder.DecodePayload(a.MAC, a.Payload)
	if err != nil {
		h.logger.Debug("[BLE] payload rejected", "mac", a.MAC, "len", len(a.Payload), "error", err)
		return
	}

	for _, o := range outcomes {
		if o.Err != nil {
			h.logDecodeError(a.MAC, o.Err)
			continue
		}
		r := o.Reading
		r.RSSI = a.RSSI
		r.SeenAt = a.SeenAt
		if r.SeenAt.IsZero() {
			r.SeenAt = h.now()
		}
		h.decoded.Add(1)
		if r.Empty() {
			h.logger.Debug("[BLE] frame without measurements", "mac", a.MAC, "format", r.Format)
			continue
		}
		h.publish(ctx, r)
	}
}

// GATTValueHandler returns a ble.ValueHandler that decodes well-known
// characteristic values and publishes them. Values of unknown
// characteristics are logged as hex.
func (h *Handler) GATTValueHandler(ctx context.Context) ble.ValueHandler {
	return func(mac decode.MAC, ref gatt.CharacteristicRef, value []byte) {
		h.logger.Info("[GATT] value",
			"mac", mac,
			"service", ref.ServiceUUID,
			"char", ref.CharacteristicUUID,
			"data", protocol.Hex(value),
		)

		if !protocol.IsKnown(ref.CharacteristicUUID) {
			return
		}
		r := decode.Reading{MAC: mac, Format: FormatGATT, SeenAt: h.now()}
		if _, err := protocol.ParseValue(ref.CharacteristicUUID, value, &r); err != nil {
			h.failed.Add(1)
			h.logger.Warn("[GATT] bad characteristic value", "mac", mac, "char", ref.CharacteristicUUID, "error", err)
			return
		}
		if r.Empty() {
			return
		}
		h.decoded.Add(1)
		h.publish(ctx, r)
	}
}

// Stats returns a snapshot of the counters.
func (h *Handler) Stats() Stats {
	return Stats{
		Received:  h.received.Load(),
		Filtered:  h.filtered.Load(),
		Duplicate: h.duplicate.Load(),
		Decoded:   h.decoded.Load(),
		Failed:    h.failed.Load(),
		Published: h.published.Load(),
	}
}

// dedupSweepMin is the dedup table size that triggers the first sweep of
// expired entries. Private addresses rotate, so MACs stop recurring.
const dedupSweepMin = 1024

func (h *Handler) isDuplicate(a ble.Advertisement) bool {
	if h.window <= 0 {
		return false
	}
	now := a.SeenAt
	if now.IsZero() {
		now = h.now()
	}

	h.dedupMu.Lock()
	defer h.dedupMu.Unlock()
	prev, ok := h.seen[a.MAC]
	if ok && prev.payload == string(a.Payload) && now.Sub(prev.at) < h.window {
		return true
	}
	h.seen[a.MAC] = lastSeen{payload: string(a.Payload), at: now}
	if len(h.seen) >= h.sweepAt {
		h.sweep(now)
	}
	return false
}

// sweep drops entries older than the window. The next sweep waits until the
// table doubles so a busy window does not sweep on every insert. Caller
// holds dedupMu.
func (h *Handler) sweep(now time.Time) {
	before := len(h.seen)
	for mac, e := range h.seen {
		if now.Sub(e.at) >= h.window {
			delete(h.seen, mac)
		}
	}
	h.sweepAt = max(dedupSweepMin, 2*len(h.seen))
	h.logger.Debug("[BLE] dedup sweep", "before", before, "after", len(h.seen))
}

func (h *Handler) logDecodeError(mac decode.MAC, err error) {
	switch {
	case errors.Is(err, decode.ErrUnsupportedFrame):
		// Other vendors' service data; not ours to report.
	case errors.Is(err, decode.ErrDecrypt):
		h.failed.Add(1)
		h.logger.Warn("[BLE] decrypt failed", "mac", mac, "error", err)
	case errors.Is(err, adv.ErrUnderflow):
		h.failed.Add(1)
		h.logger.Debug("[BLE] truncated frame", "mac", mac, "error", err)
	default:
		h.failed.Add(1)
		h.logger.Debug("[BLE] decode failed", "mac", mac, "error", err)
	}
}

func (h *Handler) publish(ctx context.Context, r decode.Reading) {
	if err := h.pub.Publish(ctx, r); err != nil {
		h.logger.Warn("failed to publish reading", "mac", r.MAC, "format", r.Format, "error", err)
		return
	}
	h.published.Add(1)
	h.logger.Info("reading published",
		"mac", r.MAC,
		"format", r.Format,
		"rssi", r.RSSI,
		"temperature", deref(r.Temperature),
		"humidity", deref(r.Humidity),
	)
}

func deref(v *float32) any {
	if v == nil {
		return nil
	}
	return *v
}
