package decode

import (
	"fmt"

	"github.com/chaz8081/beaconbridge/internal/adv"
)

// UUIDBTHome is the 16-bit service UUID assigned to BTHome.
const UUIDBTHome = 0xFCD2

// BTHome v2 device information bytes for unencrypted frames, regular and
// trigger based.
const (
	bthomeV2Plain   = 0x40
	bthomeV2Trigger = 0x44
)

// BTHome object ids understood by decodeBTHome.
const (
	bthomeBattery     = 0x01
	bthomeTemperature = 0x02
	bthomeHumidity    = 0x03
	bthomeVoltage     = 0x0C
)

func registerBTHome(r *Registry) {
	r.RegisterVendor(UUIDBTHome, Layout{
		Name:         "bthome_v2",
		MinFrame:     1,
		FrameControl: -1,
		FrameType:    0,
		Body:         1,
	})
	r.Register(UUIDBTHome, bthomeV2Plain, decodeBTHome)
	r.Register(UUIDBTHome, bthomeV2Trigger, decodeBTHome)
}

// decodeBTHome walks the object list of a BTHome v2 frame. Unknown object
// ids are assumed to carry a single value byte.
func decodeBTHome(rec Record, _ MAC, _ Keyring) (Reading, error) {
	var r Reading
	cur := adv.NewCursor(rec.Body)
	for cur.Remaining() >= 2 {
		id, _ := cur.ReadU8()
		switch id {
		case bthomeBattery:
			v, err := cur.ReadU8()
			if err != nil {
				return Reading{}, fmt.Errorf("decode: bthome battery: %w", err)
			}
			r.Battery = &Battery{Value: uint16(v), Unit: BatteryPercent}
		case bthomeTemperature:
			v, err := cur.ReadU16LE()
			if err != nil {
				return Reading{}, fmt.Errorf("decode: bthome temperature: %w", err)
			}
			r.Temperature = f32(float32(int16(v)) / 100)
		case bthomeHumidity:
			v, err := cur.ReadU16LE()
			if err != nil {
				return Reading{}, fmt.Errorf("decode: bthome humidity: %w", err)
			}
			r.Humidity = f32(float32(v) / 100)
		case bthomeVoltage:
			v, err := cur.ReadU16LE()
			if err != nil {
				return Reading{}, fmt.Errorf("decode: bthome voltage: %w", err)
			}
			r.Voltage = f32(float32(v) / 1000)
		default:
			_ = cur.Skip(1)
		}
	}
	return r, nil
}
