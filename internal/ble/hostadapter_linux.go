package ble

import "tinygo.org/x/bluetooth"

// hostAdapter selects a BlueZ adapter by id, e.g. "hci1".
func hostAdapter(id string) *bluetooth.Adapter {
	return bluetooth.NewAdapter(id)
}
