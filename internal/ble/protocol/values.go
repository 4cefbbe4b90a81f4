// Package protocol decodes the values of well-known sensor characteristics
// received over GATT, by read or notification.
package protocol

import (
	"encoding/binary"
	"fmt"
	"strings"

	"github.com/chaz8081/beaconbridge/internal/decode"
)

// Characteristic UUIDs in normalized form (see NormalizeUUID).
const (
	CharBatteryLevel = "2a19"
	CharTemperature  = "2a6e"
	CharHumidity     = "2a6f"
	// LYWSD03MMC temperature/humidity/voltage notification.
	CharLYWSDTempHumi = "ebe0ccc17a0a4b0c8a1a6ff2997da3a6"
)

// bluetoothBase is the Bluetooth base UUID tail shared by every 16-bit UUID.
const bluetoothBase = "00001000800000805f9b34fb"

// NormalizeUUID lower-cases u, drops dashes and shortens UUIDs built on the
// Bluetooth base UUID to their 16-bit form.
func NormalizeUUID(u string) string {
	n := strings.ToLower(strings.ReplaceAll(u, "-", ""))
	if len(n) == 32 && strings.HasPrefix(n, "0000") && strings.HasSuffix(n, bluetoothBase) {
		return n[4:8]
	}
	return n
}

// ValueParser folds one characteristic value into r.
type ValueParser func(value []byte, r *decode.Reading) error

var valueParsers = map[string]ValueParser{
	CharBatteryLevel:  parseBatteryLevel,
	CharTemperature:   parseTemperature,
	CharHumidity:      parseHumidity,
	CharLYWSDTempHumi: parseLYWSDTempHumi,
}

// IsKnown reports whether ParseValue understands uuid.
func IsKnown(uuid string) bool {
	_, ok := valueParsers[NormalizeUUID(uuid)]
	return ok
}

// ParseValue decodes value according to uuid into r. It returns false, and
// leaves r untouched, for characteristics it does not know.
func ParseValue(uuid string, value []byte, r *decode.Reading) (bool, error) {
	parse, ok := valueParsers[NormalizeUUID(uuid)]
	if !ok {
		return false, nil
	}
	if err := parse(value, r); err != nil {
		return true, fmt.Errorf("protocol: characteristic %s: %w", uuid, err)
	}
	return true, nil
}

func need(value []byte, n int) error {
	if len(value) < n {
		return fmt.Errorf("value is %d bytes, need %d", len(value), n)
	}
	return nil
}

// parseBatteryLevel: uint8 percent.
func parseBatteryLevel(value []byte, r *decode.Reading) error {
	if err := need(value, 1); err != nil {
		return err
	}
	r.Battery = &decode.Battery{Value: uint16(value[0]), Unit: decode.BatteryPercent}
	return nil
}

// parseTemperature: sint16, 0.01 °C.
func parseTemperature(value []byte, r *decode.Reading) error {
	if err := need(value, 2); err != nil {
		return err
	}
	t := float32(int16(binary.LittleEndian.Uint16(value))) / 100
	r.Temperature = &t
	return nil
}

// parseHumidity: uint16, 0.01 %.
func parseHumidity(value []byte, r *decode.Reading) error {
	if err := need(value, 2); err != nil {
		return err
	}
	h := float32(binary.LittleEndian.Uint16(value)) / 100
	r.Humidity = &h
	return nil
}

// parseLYWSDTempHumi: sint16 0.01 °C, uint8 %, uint16 mV.
func parseLYWSDTempHumi(value []byte, r *decode.Reading) error {
	if err := need(value, 5); err != nil {
		return err
	}
	t := float32(int16(binary.LittleEndian.Uint16(value[0:2]))) / 100
	h := float32(value[2])
	v := float32(binary.LittleEndian.Uint16(value[3:5])) / 1000
	r.Temperature = &t
	r.Humidity = &h
	r.Voltage = &v
	return nil
}
