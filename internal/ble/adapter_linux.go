//go:build linux

package ble

import (
	"strings"

	"tinygo.org/x/bluetooth"
)

func resolveAdapter(adapterID string) *bluetooth.Adapter {
	id := strings.TrimSpace(adapterID)
	if id == "" {
		return bluetooth.DefaultAdapter
	}
	return bluetooth.NewAdapter(id)
}
