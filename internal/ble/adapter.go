// Package ble drives the BLE link to a kv4p HT radio: scanning for the
// Nordic UART service, connecting, discovering the write and notify
// characteristics, subscribing to notifications and writing command frames
// in MTU-sized chunks.
package ble

import "context"

// Nordic UART Service UUIDs exposed by the kv4p HT firmware.
const (
	ServiceUUID    = "6e400001-b5a3-f393-e0a9-e50e24dcca9e"
	WriteCharUUID  = "6e400002-b5a3-f393-e0a9-e50e24dcca9e"
	NotifyCharUUID = "6e400003-b5a3-f393-e0a9-e50e24dcca9e"
)

// DefaultDeviceName is the advertised name of the radio.
const DefaultDeviceName = "kv4p HT"

// Characteristic represents a BLE GATT characteristic.
type Characteristic interface {
	// Write sends data without waiting for a per-write acknowledgment.
	Write(data []byte) error
	// Subscribe registers a callback for notifications on this characteristic.
	Subscribe(callback func(data []byte)) error
	// Unsubscribe stops notifications.
	Unsubscribe() error
	// MTU reports the negotiated ATT MTU of the link.
	MTU() (int, error)
}

// Device represents a discovered BLE peripheral.
type Device struct {
	Name    string
	Address string
	RSSI    int
}

// Connection represents an active BLE connection to a peripheral.
type Connection interface {
	// DiscoverCharacteristic finds a characteristic by UUID within a service.
	// Implementations wrap ErrServiceNotFound or ErrCharacteristicNotFound
	// when either is missing.
	DiscoverCharacteristic(serviceUUID, charUUID string) (Characteristic, error)
	// Disconnect terminates the connection.
	Disconnect() error
	// OnDisconnect registers a callback invoked when the connection drops.
	OnDisconnect(callback func())
}

// Adapter abstracts the BLE hardware adapter for testing.
type Adapter interface {
	// Enable powers on the BLE adapter.
	Enable() error
	// Scan reports peripherals advertising serviceUUID to onDevice until
	// onDevice returns false or ctx is done. Each address is reported once.
	Scan(ctx context.Context, serviceUUID string, onDevice func(Device) bool) error
	// Connect establishes a connection to the device at address.
	Connect(ctx context.Context, address string) (Connection, error)
}
