//go:build !linux

package ble

import "tinygo.org/x/bluetooth"

// tinygo only exposes adapter selection on Linux.
func resolveAdapter(_ string) *bluetooth.Adapter {
	return bluetooth.DefaultAdapter
}
