package ble

import "errors"

// Errors returned by the session. Callers match them with errors.Is; the
// returned errors usually wrap one of these with the failing stage.
var (
	ErrDeviceNotFound         = errors.New("ble: device not found")
	ErrServiceNotFound        = errors.New("ble: service not found")
	ErrCharacteristicNotFound = errors.New("ble: characteristic not found")
	ErrNotConnected           = errors.New("ble: not connected")
	ErrLinkLost               = errors.New("ble: link lost")
	ErrWriteFailed            = errors.New("ble: write failed")
	ErrTimeout                = errors.New("ble: timed out")
	ErrBusy                   = errors.New("ble: connection attempt in progress")
)
