package radio

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chaz8081/kv4p-ht/internal/ble"
)

func TestBackoffDelay(t *testing.T) {
	delays := []time.Duration{
		1 * time.Second,
		2 * time.Second,
		4 * time.Second,
		8 * time.Second,
		16 * time.Second,
		30 * time.Second, // capped
		30 * time.Second, // still capped
	}
	for i, want := range delays {
		assert.Equal(t, want, backoffDelay(i, 30), "attempt %d", i)
	}
}

func TestBackoffDelayOverflowProtection(t *testing.T) {
	assert.Equal(t, 30*time.Second, backoffDelay(100, 30))
	assert.Equal(t, 60*time.Second, backoffDelay(31, 60))
	assert.Equal(t, 60*time.Second, backoffDelay(63, 60))
}

func TestReconnectAfterLinkLoss(t *testing.T) {
	ctrl, tr := connected(t)
	r := NewReconnector(ctrl, 1)
	defer r.Close()

	tr.dropLink()

	require.Eventually(t, func() bool { return tr.connectCount() == 2 }, time.Second, time.Millisecond)
	assert.Equal(t, ble.StateConnected, ctrl.State())
}

func TestReconnectIgnoresCallerDisconnect(t *testing.T) {
	ctrl, tr := connected(t)
	r := NewReconnector(ctrl, 1)
	defer r.Close()

	require.NoError(t, ctrl.Disconnect(context.Background()))
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 1, tr.connectCount())
	assert.Equal(t, ble.StateDisconnected, ctrl.State())
}

func TestCloseStopsReconnectLoop(t *testing.T) {
	ctrl, tr := connected(t)
	r := NewReconnector(ctrl, 30)

	tr.mu.Lock()
	tr.connectErr = ble.ErrDeviceNotFound
	tr.mu.Unlock()
	tr.dropLink()

	// First attempt is immediate, then the loop sleeps on backoff.
	require.Eventually(t, func() bool { return tr.connectCount() == 2 }, time.Second, time.Millisecond)

	done := make(chan struct{})
	go func() {
		r.Close()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Close() did not stop the reconnect loop")
	}
	assert.Equal(t, 2, tr.connectCount())
}
