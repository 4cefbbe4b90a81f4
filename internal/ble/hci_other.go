//go:build !linux

package ble

import (
	"context"
	"errors"

	"github.com/chaz8081/beaconbridge/internal/decode"
)

var errHCIUnsupported = errors.New("ble: HCI backend is only available on linux")

// HCIAdapter is unavailable on this platform; every method fails.
type HCIAdapter struct{}

// NewHCIAdapter returns an adapter whose methods report errHCIUnsupported.
func NewHCIAdapter(ScanOptions) *HCIAdapter {
	return &HCIAdapter{}
}

func (a *HCIAdapter) Enable() error { return errHCIUnsupported }

func (a *HCIAdapter) Scan(context.Context, func(Advertisement)) error {
	return errHCIUnsupported
}

func (a *HCIAdapter) Connect(context.Context, decode.MAC) (Connection, error) {
	return nil, errHCIUnsupported
}
