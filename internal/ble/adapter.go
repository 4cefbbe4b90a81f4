// Package ble connects the advertisement decoders and the GATT walker to
// Bluetooth hardware: a BlueZ scanner built on tinygo bluetooth, and a raw
// HCI central built on currantlabs/ble that can both scan and connect.
package ble

import (
	"context"
	"encoding/binary"
	"time"

	"github.com/chaz8081/beaconbridge/internal/adv"
	"github.com/chaz8081/beaconbridge/internal/decode"
	"github.com/chaz8081/beaconbridge/internal/gatt"
)

// Advertisement is one scan event.
type Advertisement struct {
	MAC     decode.MAC
	Name    string
	RSSI    int16
	Payload []byte // AD structures
	SeenAt  time.Time
}

// Scanner reports advertisements.
type Scanner interface {
	// Enable powers on the BLE adapter.
	Enable() error
	// Scan calls onAdv for every advertisement until ctx is cancelled.
	// onAdv runs on the scanner's goroutine.
	Scan(ctx context.Context, onAdv func(Advertisement)) error
}

// Connection is an established GATT link. Requests issued through the
// embedded gatt.Transport complete asynchronously on Events.
type Connection interface {
	gatt.Transport
	// DiscoverServices returns the whole service tree in the order the
	// peripheral reports it.
	DiscoverServices() ([]gatt.Service, error)
	// Disconnect terminates the connection.
	Disconnect() error
}

// Adapter abstracts the BLE adapter for testing.
type Adapter interface {
	// Enable powers on the BLE adapter.
	Enable() error
	// Connect establishes a connection to the device with the given address.
	Connect(ctx context.Context, mac decode.MAC) (Connection, error)
}

// flagsGeneralDiscoverable is LE General Discoverable | BR/EDR Not Supported.
const flagsGeneralDiscoverable = 0x06

// serviceData is one 16-bit UUID service-data element as reported by a stack
// that parses advertisements itself.
type serviceData struct {
	uuid uint16
	data []byte
}

// assemblePayload rebuilds AD structures from fields a host stack has
// already parsed, so that the decoders always see raw advertising data.
// The flags structure is stripped by those stacks and is restored here.
func assemblePayload(name string, sds []serviceData, manufacturer []byte) []byte {
	structs := []adv.Structure{{Type: adv.TypeFlags, Payload: []byte{flagsGeneralDiscoverable}}}
	if name != "" {
		structs = append(structs, adv.Structure{Type: adv.TypeCompleteName, Payload: []byte(name)})
	}
	for _, sd := range sds {
		p := binary.LittleEndian.AppendUint16(nil, sd.uuid)
		p = append(p, sd.data...)
		structs = append(structs, adv.Structure{Type: adv.TypeServiceData16, Payload: p})
	}
	if len(manufacturer) > 0 {
		structs = append(structs, adv.Structure{Type: adv.TypeManufacturerData, Payload: manufacturer})
	}
	return adv.Build(structs...)
}
