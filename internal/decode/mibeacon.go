package decode

import (
	"fmt"

	"github.com/chaz8081/beaconbridge/internal/adv"
	"github.com/chaz8081/beaconbridge/internal/ble/crypto"
)

// UUIDMiBeacon is the 16-bit service UUID used by Xiaomi MiBeacon.
const UUIDMiBeacon = 0xFE95

// MiBeacon frame types.
const (
	MiBeaconPlain     = 0x20
	MiBeaconEncrypted = 0x5B
)

// Encrypted frame layout: 5 nonce prefix bytes, 5 ciphertext bytes, 4 tag bytes.
const (
	miCipherStart    = crypto.FramePrefixSize
	miPlaintextSize  = 5
	miEncryptedFrame = crypto.FramePrefixSize + miPlaintextSize + crypto.TagSize
)

func registerMiBeacon(r *Registry) {
	r.RegisterVendor(UUIDMiBeacon, Layout{
		Name:         "mibeacon",
		MinFrame:     10,
		FrameControl: 0,
		FrameType:    1,
		Body:         2,
	})
	r.Register(UUIDMiBeacon, MiBeaconPlain, decodeMiBeaconPlain)
	r.Register(UUIDMiBeacon, MiBeaconEncrypted, decodeMiBeaconEncrypted)
}

func decodeMiBeaconPlain(rec Record, _ MAC, _ Keyring) (Reading, error) {
	cur := adv.NewCursor(rec.Body)
	temp, err := cur.ReadU16LE()
	if err != nil {
		return Reading{}, fmt.Errorf("decode: mibeacon temperature: %w", err)
	}
	hum, err := cur.ReadU8()
	if err != nil {
		return Reading{}, fmt.Errorf("decode: mibeacon humidity: %w", err)
	}
	return Reading{
		Temperature: f32(float32(temp) / 10),
		Humidity:    f32(float32(hum)),
	}, nil
}

// decodeMiBeaconEncrypted authenticates and decrypts the 5-byte measurement
// block: humidity, temperature (LE, 0.1 °C) and battery (LE, unit from the
// device profile).
func decodeMiBeaconEncrypted(rec Record, mac MAC, keys Keyring) (Reading, error) {
	if len(rec.Frame) < miEncryptedFrame {
		return Reading{}, fmt.Errorf("decode: mibeacon encrypted frame of %d bytes: %w", len(rec.Frame), adv.ErrUnderflow)
	}
	dev, ok := keys.Lookup(mac)
	if !ok || len(dev.Key) == 0 {
		return Reading{}, fmt.Errorf("%w: no token configured for %s", ErrDecrypt, mac)
	}
	nonce, err := crypto.Nonce(rec.Frame, mac)
	if err != nil {
		return Reading{}, fmt.Errorf("%w: %w", ErrDecrypt, err)
	}
	plain, err := crypto.Decrypt(dev.Key, nonce, rec.Frame[miCipherStart:miEncryptedFrame])
	if err != nil {
		return Reading{}, fmt.Errorf("%w: %s: %w", ErrDecrypt, mac, err)
	}

	cur := adv.NewCursor(plain)
	hum, err := cur.ReadU8()
	if err != nil {
		return Reading{}, fmt.Errorf("decode: mibeacon humidity: %w", err)
	}
	temp, err := cur.ReadU16LE()
	if err != nil {
		return Reading{}, fmt.Errorf("decode: mibeacon temperature: %w", err)
	}
	batt, err := cur.ReadU16LE()
	if err != nil {
		return Reading{}, fmt.Errorf("decode: mibeacon battery: %w", err)
	}
	unit := dev.BatteryUnit
	if unit == "" {
		unit = BatteryRaw
	}
	return Reading{
		Temperature: f32(float32(int16(temp)) / 10),
		Humidity:    f32(float32(hum)),
		Battery:     &Battery{Value: batt, Unit: unit},
	}, nil
}
