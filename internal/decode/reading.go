// Package decode turns vendor service-data records into sensor readings.
package decode

import (
	"encoding/hex"
	"fmt"
	"strings"
	"time"
)

// MAC is a 6-byte BLE device address in display order (AA:BB:CC:DD:EE:FF).
type MAC [6]byte

// ParseMAC accepts "AA:BB:CC:DD:EE:FF", dash separated, or bare hex.
func ParseMAC(s string) (MAC, error) {
	var m MAC
	clean := strings.NewReplacer(":", "", "-", "").Replace(strings.TrimSpace(s))
	b, err := hex.DecodeString(clean)
	if err != nil {
		return m, fmt.Errorf("decode: parse MAC %q: %w", s, err)
	}
	if len(b) != len(m) {
		return m, fmt.Errorf("decode: parse MAC %q: want 6 bytes, got %d", s, len(b))
	}
	copy(m[:], b)
	return m, nil
}

// String formats the address as upper-case colon separated hex.
func (m MAC) String() string {
	return fmt.Sprintf("%02X:%02X:%02X:%02X:%02X:%02X", m[0], m[1], m[2], m[3], m[4], m[5])
}

// MarshalText implements encoding.TextMarshaler.
func (m MAC) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (m *MAC) UnmarshalText(b []byte) error {
	v, err := ParseMAC(string(b))
	if err != nil {
		return err
	}
	*m = v
	return nil
}

// Compact formats the address without separators, as used in MQTT topics.
func (m MAC) Compact() string {
	return strings.ReplaceAll(m.String(), ":", "")
}

// BatteryUnit tells how Battery.Value is to be read.
type BatteryUnit string

const (
	BatteryPercent    BatteryUnit = "percent"
	BatteryMillivolts BatteryUnit = "millivolts"
	BatteryRaw        BatteryUnit = "raw"
)

// Battery is a battery field together with its unit.
type Battery struct {
	Value uint16
	Unit  BatteryUnit
}

// Reading is one decoded telemetry record. Fields the frame did not carry
// are nil.
type Reading struct {
	MAC         MAC
	Format      string
	Temperature *float32 // °C
	Humidity    *float32 // %
	Battery     *Battery
	Voltage     *float32 // V

	// Set by the bridge, not by decoders.
	RSSI   int16
	SeenAt time.Time
}

// Empty reports whether the reading carries no measurement at all.
func (r Reading) Empty() bool {
	return r.Temperature == nil && r.Humidity == nil && r.Battery == nil && r.Voltage == nil
}

func f32(v float32) *float32 { return &v }
