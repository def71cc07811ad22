package ble

import (
	"context"
	"fmt"
	"runtime"
	"strings"
	"sync"

	"tinygo.org/x/bluetooth"
)

// TinyGoAdapter implements Adapter on top of tinygo.org/x/bluetooth
// (BlueZ on Linux, CoreBluetooth on macOS, WinRT on Windows).
// On macOS peripheral addresses are CoreBluetooth UUIDs rather than MACs;
// Device.Address carries whichever form the platform reports.
type TinyGoAdapter struct {
	adapter *bluetooth.Adapter

	// mu protects connections and addresses.
	mu          sync.Mutex
	connections map[string]*tinygoConnection // keyed by address string
	addresses   map[string]bluetooth.Address // scan results, keyed by address string
}

// NewTinyGoAdapter creates an adapter. adapterID selects a controller such
// as "hci1" on Linux; it is ignored elsewhere.
func NewTinyGoAdapter(adapterID string) *TinyGoAdapter {
	return &TinyGoAdapter{
		adapter:     resolveAdapter(adapterID),
		connections: make(map[string]*tinygoConnection),
		addresses:   make(map[string]bluetooth.Address),
	}
}

func (a *TinyGoAdapter) Enable() error {
	if err := a.adapter.Enable(); err != nil && !isBenignEnableError(err) {
		return err
	}

	// The adapter-level handler is the only disconnect signal tinygo offers;
	// route it to the matching connection.
	a.adapter.SetConnectHandler(func(device bluetooth.Device, connected bool) {
		if connected {
			return
		}
		id := device.Address.String()
		a.mu.Lock()
		conn, ok := a.connections[id]
		delete(a.connections, id)
		a.mu.Unlock()
		if ok {
			conn.fireDisconnect()
		}
	})

	return nil
}

func (a *TinyGoAdapter) Scan(ctx context.Context, serviceUUID string, onDevice func(Device) bool) error {
	uuid, err := bluetooth.ParseUUID(serviceUUID)
	if err != nil {
		return fmt.Errorf("ble: parse service UUID: %w", err)
	}

	var stopOnce sync.Once
	stop := func() {
		stopOnce.Do(func() {
			if err := stopScan(a.adapter); err != nil {
				bleLogger().Warn("[BLE] stop scan failed", "error", err)
			}
		})
	}

	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			stop()
		case <-done:
		}
	}()
	defer close(done)

	seen := make(map[string]bool)
	callback := func(_ *bluetooth.Adapter, result bluetooth.ScanResult) {
		if !result.HasServiceUUID(uuid) {
			return
		}
		addr := result.Address.String()
		a.mu.Lock()
		if seen[addr] {
			a.mu.Unlock()
			return
		}
		seen[addr] = true
		a.addresses[addr] = result.Address
		a.mu.Unlock()

		if !onDevice(Device{Name: result.LocalName(), Address: addr, RSSI: int(result.RSSI)}) {
			stop()
		}
	}

	err = a.adapter.Scan(callback)
	if isScanInProgressError(err) {
		// A scan left over from an earlier run; reset it and try once more.
		if stopErr := stopScan(a.adapter); stopErr != nil {
			return fmt.Errorf("ble: reset scan state: %w", stopErr)
		}
		err = a.adapter.Scan(callback)
	}
	if err = normalizeScanError(err); err != nil && ctx.Err() == nil {
		return fmt.Errorf("ble: scan: %w", err)
	}
	return nil
}

func (a *TinyGoAdapter) Connect(ctx context.Context, address string) (Connection, error) {
	a.mu.Lock()
	addr, ok := a.addresses[address]
	a.mu.Unlock()
	if !ok {
		addr.Set(address)
	}

	// tinygo's Connect blocks with its own timeout and cannot be cancelled.
	// Wrap it so ctx still bounds the wait.
	type connectResult struct {
		device bluetooth.Device
		err    error
	}
	ch := make(chan connectResult, 1)
	go func() {
		device, err := a.adapter.Connect(addr, bluetooth.ConnectionParams{})
		ch <- connectResult{device, err}
	}()

	select {
	case <-ctx.Done():
		go func() {
			// Drop a connection that completes after we gave up on it.
			if r := <-ch; r.err == nil {
				_ = r.device.Disconnect()
			}
		}()
		return nil, fmt.Errorf("ble: connect to %s: %w", address, ctx.Err())
	case result := <-ch:
		if result.err != nil {
			return nil, fmt.Errorf("ble: connect to %s: %w", address, result.err)
		}
		conn := &tinygoConnection{
			device:   result.device,
			services: make(map[string]bluetooth.DeviceService),
		}

		a.mu.Lock()
		a.connections[result.device.Address.String()] = conn
		a.mu.Unlock()

		return conn, nil
	}
}

// Compile-time check that TinyGoAdapter implements Adapter.
var _ Adapter = (*TinyGoAdapter)(nil)

type tinygoConnection struct {
	device bluetooth.Device

	mu           sync.Mutex
	services     map[string]bluetooth.DeviceService
	disconnectCb func()
}

func (c *tinygoConnection) DiscoverCharacteristic(serviceUUID, charUUID string) (Characteristic, error) {
	svc, err := c.service(serviceUUID)
	if err != nil {
		return nil, err
	}

	charUUIDParsed, err := bluetooth.ParseUUID(charUUID)
	if err != nil {
		return nil, fmt.Errorf("ble: parse characteristic UUID: %w", err)
	}
	chars, err := svc.DiscoverCharacteristics([]bluetooth.UUID{charUUIDParsed})
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrCharacteristicNotFound, charUUID, err)
	}
	if len(chars) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrCharacteristicNotFound, charUUID)
	}
	return &tinygoCharacteristic{char: chars[0]}, nil
}

// service discovers serviceUUID once per connection.
func (c *tinygoConnection) service(serviceUUID string) (bluetooth.DeviceService, error) {
	key := strings.ToLower(serviceUUID)
	c.mu.Lock()
	defer c.mu.Unlock()
	if svc, ok := c.services[key]; ok {
		return svc, nil
	}

	svcUUID, err := bluetooth.ParseUUID(serviceUUID)
	if err != nil {
		return bluetooth.DeviceService{}, fmt.Errorf("ble: parse service UUID: %w", err)
	}
	svcs, err := c.device.DiscoverServices([]bluetooth.UUID{svcUUID})
	if err != nil {
		return bluetooth.DeviceService{}, fmt.Errorf("%w: %s: %w", ErrServiceNotFound, serviceUUID, err)
	}
	if len(svcs) == 0 {
		return bluetooth.DeviceService{}, fmt.Errorf("%w: %s", ErrServiceNotFound, serviceUUID)
	}
	c.services[key] = svcs[0]
	return svcs[0], nil
}

func (c *tinygoConnection) Disconnect() error {
	return c.device.Disconnect()
}

func (c *tinygoConnection) OnDisconnect(cb func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.disconnectCb = cb
}

func (c *tinygoConnection) fireDisconnect() {
	c.mu.Lock()
	cb := c.disconnectCb
	c.mu.Unlock()
	if cb != nil {
		cb()
	}
}

type tinygoCharacteristic struct {
	char bluetooth.DeviceCharacteristic
}

func (c *tinygoCharacteristic) Write(data []byte) error {
	n, err := c.char.WriteWithoutResponse(data)
	if err != nil {
		return err
	}
	if n != len(data) {
		return fmt.Errorf("short write: %d of %d bytes", n, len(data))
	}
	return nil
}

func (c *tinygoCharacteristic) Subscribe(cb func([]byte)) error {
	return c.char.EnableNotifications(cb)
}

func (c *tinygoCharacteristic) Unsubscribe() error {
	return c.char.EnableNotifications(nil)
}

func (c *tinygoCharacteristic) MTU() (int, error) {
	mtu, err := c.char.GetMTU()
	if err != nil {
		return 0, err
	}
	return int(mtu), nil
}

// isBenignEnableError reports errors that mean the adapter is already usable.
// tinygo on Windows surfaces RoInitialize(S_FALSE) as "Incorrect function."
// when COM was initialized earlier in the process.
func isBenignEnableError(err error) bool {
	if err == nil || runtime.GOOS != "windows" {
		return false
	}
	msg := strings.TrimSpace(strings.ToLower(err.Error()))
	return msg == "incorrect function" || msg == "incorrect function."
}
