package ble

import (
	"context"
	"encoding/binary"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"tinygo.org/x/bluetooth"

	"github.com/chaz8081/beaconbridge/internal/decode"
)

// ScanOptions configures the scan duty cycle.
type ScanOptions struct {
	Adapter string        // host adapter id, "hci0" by default
	Window  time.Duration // scan for Window, zero scans continuously
	Pause   time.Duration // then stay idle for Pause
}

// dutyCycle runs scanOnce for successive windows separated by pauses until
// ctx is cancelled. scanOnce must return when its context ends.
func dutyCycle(ctx context.Context, opts ScanOptions, scanOnce func(ctx context.Context) error) error {
	for {
		wctx, cancel := ctx, context.CancelFunc(func() {})
		if opts.Window > 0 {
			wctx, cancel = context.WithTimeout(ctx, opts.Window)
		}
		err := scanOnce(wctx)
		cancel()
		if err != nil {
			return err
		}
		if ctx.Err() != nil {
			return nil
		}
		if opts.Window <= 0 {
			// scanOnce returned on its own while scanning continuously.
			return nil
		}
		if opts.Pause > 0 {
			slog.Debug("[BLE] scan paused", "pause", opts.Pause)
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(opts.Pause):
			}
		}
	}
}

// BlueZScanner scans through the host Bluetooth stack with tinygo bluetooth.
type BlueZScanner struct {
	adapter *bluetooth.Adapter
	opts    ScanOptions

	enableOnce sync.Once
	enableErr  error
}

// NewBlueZScanner creates a scanner on the configured host adapter.
func NewBlueZScanner(opts ScanOptions) *BlueZScanner {
	if opts.Adapter == "" {
		opts.Adapter = "hci0"
	}
	return &BlueZScanner{
		adapter: hostAdapter(opts.Adapter),
		opts:    opts,
	}
}

func (s *BlueZScanner) Enable() error {
	s.enableOnce.Do(func() {
		slog.Info("[BLE] enabling adapter", "adapter", s.opts.Adapter)
		if err := s.adapter.Enable(); err != nil {
			s.enableErr = fmt.Errorf("ble: enable %s: %w", s.opts.Adapter, err)
		}
	})
	return s.enableErr
}

func (s *BlueZScanner) Scan(ctx context.Context, onAdv func(Advertisement)) error {
	if err := s.Enable(); err != nil {
		return err
	}
	slog.Info("[BLE] scanning started", "adapter", s.opts.Adapter, "window", s.opts.Window, "pause", s.opts.Pause)
	err := dutyCycle(ctx, s.opts, func(wctx context.Context) error {
		return s.scanWindow(wctx, onAdv)
	})
	slog.Info("[BLE] scanning stopped")
	return err
}

// scanWindow blocks in adapter.Scan until ctx ends.
func (s *BlueZScanner) scanWindow(ctx context.Context, onAdv func(Advertisement)) error {
	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			_ = s.adapter.StopScan()
		case <-done:
		}
	}()

	err := s.adapter.Scan(func(_ *bluetooth.Adapter, r bluetooth.ScanResult) {
		a, ok := fromScanResult(r)
		if !ok {
			return
		}
		onAdv(a)
	})
	close(done)

	if err != nil && ctx.Err() == nil {
		return fmt.Errorf("ble: scan: %w", err)
	}
	return nil
}

// fromScanResult converts a tinygo scan result. Results whose address is not
// a MAC (CoreBluetooth hands out UUIDs) are dropped.
func fromScanResult(r bluetooth.ScanResult) (Advertisement, bool) {
	mac, err := decode.ParseMAC(r.Address.String())
	if err != nil {
		slog.Debug("[BLE] skipping advertiser without MAC", "address", r.Address.String())
		return Advertisement{}, false
	}

	var sds []serviceData
	for _, sd := range r.ServiceData() {
		if !sd.UUID.Is16Bit() {
			continue
		}
		sds = append(sds, serviceData{uuid: sd.UUID.Get16Bit(), data: append([]byte(nil), sd.Data...)})
	}
	var mfg []byte
	if mds := r.ManufacturerData(); len(mds) > 0 {
		mfg = binary.LittleEndian.AppendUint16(nil, mds[0].CompanyID)
		mfg = append(mfg, mds[0].Data...)
	}

	return Advertisement{
		MAC:     mac,
		Name:    r.LocalName(),
		RSSI:    r.RSSI,
		Payload: assemblePayload(r.LocalName(), sds, mfg),
		SeenAt:  time.Now(),
	}, true
}

// Compile-time check that BlueZScanner implements Scanner.
var _ Scanner = (*BlueZScanner)(nil)
