//go:build !linux

package ble

import "tinygo.org/x/bluetooth"

// hostAdapter returns the only adapter the platform offers.
func hostAdapter(string) *bluetooth.Adapter {
	return bluetooth.DefaultAdapter
}
