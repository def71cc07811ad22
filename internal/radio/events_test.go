package radio

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chaz8081/kv4p-ht/internal/ble"
)

func receive(t *testing.T, sub *Subscription) Event {
	t.Helper()
	select {
	case ev, ok := <-sub.C:
		require.True(t, ok, "subscription closed")
		return ev
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
		return Event{}
	}
}

func TestNotificationsArriveInOrder(t *testing.T) {
	ctrl, tr := connected(t)
	sub := ctrl.Subscribe(EventNotification)
	defer sub.Close()

	const n = 200 // more than the subscriber buffer
	for i := 0; i < n; i++ {
		tr.notify([]byte(fmt.Sprintf("msg %d", i)))
	}
	for i := 0; i < n; i++ {
		ev := receive(t, sub)
		assert.Equal(t, EventNotification, ev.Kind)
		assert.Equal(t, fmt.Sprintf("msg %d", i), ev.Response.Text())
		assert.Equal(t, uint64(i+1), ev.Seq)
		assert.Equal(t, "test-session", ev.SessionID)
	}
}

func TestNotificationPathNeverBlocks(t *testing.T) {
	ctrl, tr := connected(t)
	sub := ctrl.Subscribe(EventNotification)
	defer sub.Close()

	// Nobody reads sub.C; the callback path must still return promptly.
	done := make(chan struct{})
	go func() {
		for i := 0; i < 1000; i++ {
			tr.notify([]byte{byte(i)})
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("notification callbacks blocked on a slow subscriber")
	}
}

func TestLinkLostDeliveredOnce(t *testing.T) {
	ctrl, tr := connected(t)
	lost := ctrl.Subscribe(EventLinkLost)
	defer lost.Close()
	states := ctrl.Subscribe(EventStateChanged)
	defer states.Close()

	tr.dropLink()

	ev := receive(t, lost)
	require.ErrorIs(t, ev.Err, ble.ErrLinkLost)
	// The Connected transition may still be in flight ahead of it.
	for receive(t, states).State != ble.StateDisconnected {
	}

	select {
	case ev := <-lost.C:
		t.Fatalf("unexpected second event: %+v", ev)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestSubscribeAllKinds(t *testing.T) {
	ctrl, tr := newTestController(t, Options{})
	sub := ctrl.Subscribe()
	defer sub.Close()

	_, err := ctrl.Connect(context.Background())
	require.NoError(t, err)
	tr.notify([]byte("hi"))
	tr.dropLink()

	kinds := []EventKind{EventStateChanged, EventNotification, EventStateChanged, EventLinkLost}
	for _, want := range kinds {
		assert.Equal(t, want, receive(t, sub).Kind)
	}
}

func TestSubscriptionClose(t *testing.T) {
	ctrl, tr := connected(t)
	sub := ctrl.Subscribe(EventNotification)
	other := ctrl.Subscribe(EventNotification)
	defer other.Close()

	sub.Close()
	sub.Close()
	tr.notify([]byte("after close"))

	// Closing one subscriber leaves the rest working.
	assert.Equal(t, "after close", receive(t, other).Response.Text())
	require.Eventually(t, func() bool {
		select {
		case _, ok := <-sub.C:
			return !ok
		default:
			return false
		}
	}, time.Second, time.Millisecond)
}

func TestEventKindString(t *testing.T) {
	assert.Equal(t, "notification", EventNotification.String())
	assert.Equal(t, "state", EventStateChanged.String())
	assert.Equal(t, "link_lost", EventLinkLost.String())
	assert.Equal(t, "unknown", EventKind(0).String())
}
