package ble

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// ScanForDevices scans for peripherals advertising the Nordic UART service
// and returns everything seen within timeout, strongest signal first.
func ScanForDevices(ctx context.Context, adapter Adapter, timeout time.Duration) ([]Device, error) {
	if err := adapter.Enable(); err != nil {
		return nil, fmt.Errorf("ble: enable adapter: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var (
		mu      sync.Mutex
		devices []Device
	)
	err := adapter.Scan(ctx, ServiceUUID, func(d Device) bool {
		mu.Lock()
		defer mu.Unlock()
		devices = append(devices, d)
		return true
	})
	if err != nil {
		return nil, fmt.Errorf("ble: scan: %w", err)
	}

	mu.Lock()
	defer mu.Unlock()
	sort.SliceStable(devices, func(i, j int) bool { return devices[i].RSSI > devices[j].RSSI })
	return devices, nil
}
