package ble

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	cble "github.com/currantlabs/ble"
	"github.com/currantlabs/ble/linux"

	"github.com/chaz8081/beaconbridge/internal/decode"
	"github.com/chaz8081/beaconbridge/internal/gatt"
)

// HCIAdapter drives the controller directly over an HCI socket. It takes the
// controller away from BlueZ, so it serves both scanning and GATT.
type HCIAdapter struct {
	opts ScanOptions

	enableOnce sync.Once
	enableErr  error
}

// NewHCIAdapter creates an adapter on the default HCI device.
func NewHCIAdapter(opts ScanOptions) *HCIAdapter {
	return &HCIAdapter{opts: opts}
}

func (a *HCIAdapter) Enable() error {
	a.enableOnce.Do(func() {
		d, err := linux.NewDevice()
		if err != nil {
			a.enableErr = fmt.Errorf("ble: open HCI device: %w", err)
			return
		}
		cble.SetDefaultDevice(d)
		slog.Info("[BLE] HCI device ready")
	})
	return a.enableErr
}

func (a *HCIAdapter) Scan(ctx context.Context, onAdv func(Advertisement)) error {
	if err := a.Enable(); err != nil {
		return err
	}
	slog.Info("[BLE] scanning started", "backend", "hci", "window", a.opts.Window, "pause", a.opts.Pause)
	return dutyCycle(ctx, a.opts, func(wctx context.Context) error {
		err := cble.Scan(wctx, true, func(ad cble.Advertisement) {
			if got, ok := fromHCIAdvertisement(ad); ok {
				onAdv(got)
			}
		}, nil)
		if err != nil && wctx.Err() == nil {
			return fmt.Errorf("ble: scan: %w", err)
		}
		return nil
	})
}

func fromHCIAdvertisement(ad cble.Advertisement) (Advertisement, bool) {
	mac, err := decode.ParseMAC(ad.Address().String())
	if err != nil {
		return Advertisement{}, false
	}
	var sds []serviceData
	for _, sd := range ad.ServiceData() {
		if len(sd.UUID) != 2 {
			continue
		}
		// ble.UUID is stored little endian.
		sds = append(sds, serviceData{uuid: uint16(sd.UUID[0]) | uint16(sd.UUID[1])<<8, data: append([]byte(nil), sd.Data...)})
	}
	return Advertisement{
		MAC:     mac,
		Name:    ad.LocalName(),
		RSSI:    int16(ad.RSSI()),
		Payload: assemblePayload(ad.LocalName(), sds, ad.ManufacturerData()),
		SeenAt:  time.Now(),
	}, true
}

func (a *HCIAdapter) Connect(ctx context.Context, mac decode.MAC) (Connection, error) {
	if err := a.Enable(); err != nil {
		return nil, err
	}
	cln, err := cble.Dial(ctx, cble.NewAddr(strings.ToLower(mac.String())))
	if err != nil {
		return nil, fmt.Errorf("ble: connect to %s: %w", mac, err)
	}
	c := &hciConnection{
		cln:    cln,
		events: make(chan gatt.Event, 16),
		closed: make(chan struct{}),
	}
	go func() {
		select {
		case <-cln.Disconnected():
			c.emit(gatt.Disconnected{})
		case <-c.closed:
		}
	}()
	return c, nil
}

var (
	_ Scanner = (*HCIAdapter)(nil)
	_ Adapter = (*HCIAdapter)(nil)
)

var errNoCCCD = errors.New("ble: characteristic has no client configuration descriptor")

type hciConnection struct {
	cln    cble.Client
	chars  []*cble.Characteristic // indexed by walk ordinal
	events chan gatt.Event

	closeOnce sync.Once
	closed    chan struct{}
}

// DiscoverServices discovers the full profile, descriptors included, and
// remembers the characteristics in walk order.
func (c *hciConnection) DiscoverServices() ([]gatt.Service, error) {
	p, err := c.cln.DiscoverProfile(true)
	if err != nil {
		return nil, fmt.Errorf("ble: discover profile: %w", err)
	}
	var services []gatt.Service
	c.chars = c.chars[:0]
	for _, s := range p.Services {
		svc := gatt.Service{UUID: s.UUID.String()}
		for _, ch := range s.Characteristics {
			svc.Characteristics = append(svc.Characteristics, gatt.Characteristic{
				UUID:       ch.UUID.String(),
				Properties: gatt.Property(ch.Property),
			})
			c.chars = append(c.chars, ch)
		}
		services = append(services, svc)
	}
	return services, nil
}

func (c *hciConnection) lookup(ref gatt.CharacteristicRef) (*cble.Characteristic, error) {
	if ref.Ordinal < 0 || ref.Ordinal >= len(c.chars) {
		return nil, fmt.Errorf("ble: no characteristic #%d", ref.Ordinal)
	}
	return c.chars[ref.Ordinal], nil
}

func (c *hciConnection) EnableNotification(ref gatt.CharacteristicRef, indicate bool) error {
	ch, err := c.lookup(ref)
	if err != nil {
		return err
	}
	if ch.CCCD == nil {
		return errNoCCCD
	}
	go func() {
		err := c.cln.Subscribe(ch, indicate, func(b []byte) {
			c.emit(gatt.Notification{Ref: ref, Value: append([]byte(nil), b...)})
		})
		c.emit(gatt.Completion{Kind: gatt.OpEnableNotify, Ref: ref, Err: err})
	}()
	return nil
}

func (c *hciConnection) ReadCharacteristic(ref gatt.CharacteristicRef) error {
	ch, err := c.lookup(ref)
	if err != nil {
		return err
	}
	go func() {
		v, err := c.cln.ReadCharacteristic(ch)
		c.emit(gatt.Completion{Kind: gatt.OpRead, Ref: ref, Value: v, Err: err})
	}()
	return nil
}

func (c *hciConnection) Events() <-chan gatt.Event {
	return c.events
}

// emit delivers ev unless the connection has been torn down.
func (c *hciConnection) emit(ev gatt.Event) {
	select {
	case c.events <- ev:
	case <-c.closed:
	}
}

func (c *hciConnection) Disconnect() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.closed)
		_ = c.cln.ClearSubscriptions()
		err = c.cln.CancelConnection()
	})
	return err
}
