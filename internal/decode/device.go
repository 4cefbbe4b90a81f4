package decode

import (
	"fmt"
)

// Profile names a device model whose frames need model-specific handling.
type Profile string

const (
	ProfileLYWSD03MMC Profile = "lywsd03mmc"
	ProfileMJWSD05MMC Profile = "mjwsd05mmc"
	ProfileGeneric    Profile = "generic"
)

// BatteryUnitFor returns the unit of the encrypted MiBeacon battery field for
// a profile. A non-empty override wins.
func BatteryUnitFor(p Profile, override BatteryUnit) (BatteryUnit, error) {
	switch override {
	case "":
	case BatteryMillivolts, BatteryRaw:
		return override, nil
	default:
		return "", fmt.Errorf("decode: unknown battery unit %q", override)
	}
	switch p {
	case ProfileLYWSD03MMC:
		return BatteryMillivolts, nil
	case ProfileMJWSD05MMC, ProfileGeneric, "":
		return BatteryRaw, nil
	default:
		return "", fmt.Errorf("decode: unknown device profile %q", p)
	}
}

// Device holds the per-device settings decoders need.
type Device struct {
	MAC         MAC
	Name        string
	Key         []byte // 16-byte bind token, nil for plaintext-only devices
	BatteryUnit BatteryUnit
}

// Keyring maps device addresses to their settings. The zero value is an
// empty keyring.
type Keyring map[MAC]Device

// Lookup returns the settings for mac.
func (k Keyring) Lookup(mac MAC) (Device, bool) {
	d, ok := k[mac]
	return d, ok
}

// Add registers d, replacing any previous entry for the same address.
func (k Keyring) Add(d Device) {
	k[d.MAC] = d
}
