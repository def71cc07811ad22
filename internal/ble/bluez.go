package ble

import (
	"errors"
	"strings"

	"github.com/godbus/dbus/v5"
	"tinygo.org/x/bluetooth"
)

// isDBusError reports whether err is a BlueZ D-Bus error called name.
func isDBusError(err error, name string) bool {
	var ptr *dbus.Error
	if errors.As(err, &ptr) && ptr != nil && ptr.Name == name {
		return true
	}
	var val dbus.Error
	return errors.As(err, &val) && val.Name == name
}

// isBenignStopScanError reports errors that only mean no scan was running.
func isBenignStopScanError(err error) bool {
	if err == nil {
		return true
	}
	if isDBusError(err, "org.bluez.Error.NotReady") {
		return true
	}
	if isDBusError(err, "org.bluez.Error.Failed") && strings.Contains(strings.ToLower(err.Error()), "no discovery started") {
		return true
	}

	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "cancel") ||
		strings.Contains(msg, "stopped") ||
		strings.Contains(msg, "not scanning") ||
		strings.Contains(msg, "no scan in progress")
}

func isScanInProgressError(err error) bool {
	if err == nil {
		return false
	}
	if isDBusError(err, "org.bluez.Error.InProgress") {
		return true
	}
	return strings.Contains(strings.ToLower(err.Error()), "already in progress")
}

func stopScan(adapter *bluetooth.Adapter) error {
	if err := adapter.StopScan(); err != nil && !isBenignStopScanError(err) {
		return err
	}
	return nil
}

func normalizeScanError(err error) error {
	if isBenignStopScanError(err) {
		return nil
	}
	return err
}
