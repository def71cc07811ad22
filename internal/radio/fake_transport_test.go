package radio

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/chaz8081/kv4p-ht/internal/ble"
)

// fakeTransport stands in for *ble.Session.
type fakeTransport struct {
	mu         sync.Mutex
	state      ble.State
	obs        ble.Observer
	connects   int
	connectErr error
	onConnect  func() // runs before Connect decides its outcome

	writes     [][]byte
	writeErr   error
	writeBlock chan struct{} // stalls Write until closed or ctx is done
	onWrite    func(frame []byte)

	inFlight    atomic.Int32
	maxInFlight atomic.Int32
	seq         atomic.Uint64
}

func (f *fakeTransport) Connect(_ context.Context, obs ble.Observer) error {
	if f.onConnect != nil {
		f.onConnect()
	}
	f.mu.Lock()
	f.connects++
	if f.connectErr != nil {
		err := f.connectErr
		f.mu.Unlock()
		return err
	}
	f.state = ble.StateConnected
	f.obs = obs
	f.mu.Unlock()
	obs.StateChanged(ble.StateConnected)
	return nil
}

func (f *fakeTransport) Disconnect(context.Context) error {
	f.mu.Lock()
	if f.state == ble.StateDisconnected {
		f.mu.Unlock()
		return nil
	}
	f.state = ble.StateDisconnected
	obs := f.obs
	f.mu.Unlock()
	if obs != nil {
		obs.StateChanged(ble.StateDisconnected)
	}
	return nil
}

func (f *fakeTransport) Write(ctx context.Context, frame []byte) error {
	n := f.inFlight.Add(1)
	defer f.inFlight.Add(-1)
	for {
		cur := f.maxInFlight.Load()
		if n <= cur || f.maxInFlight.CompareAndSwap(cur, n) {
			break
		}
	}

	f.mu.Lock()
	block := f.writeBlock
	f.mu.Unlock()
	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	f.mu.Lock()
	if f.writeErr != nil {
		err := f.writeErr
		f.mu.Unlock()
		return err
	}
	f.writes = append(f.writes, append([]byte(nil), frame...))
	hook := f.onWrite
	f.mu.Unlock()
	if hook != nil {
		hook(frame)
	}
	return nil
}

func (f *fakeTransport) State() ble.State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

func (f *fakeTransport) ChunkSize() int { return 20 }

// setState moves the fake to st and reports it like the session would.
func (f *fakeTransport) setState(st ble.State) {
	f.mu.Lock()
	f.state = st
	obs := f.obs
	f.mu.Unlock()
	if obs != nil {
		obs.StateChanged(st)
	}
}

func (f *fakeTransport) writeLog() [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([][]byte(nil), f.writes...)
}

func (f *fakeTransport) connectCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connects
}

func (f *fakeTransport) notify(data []byte) {
	f.mu.Lock()
	obs := f.obs
	f.mu.Unlock()
	obs.Notification(ble.Notification{Data: data, Seq: f.seq.Add(1), SessionID: "test-session"})
}

// dropLink simulates the radio going away.
func (f *fakeTransport) dropLink() {
	f.mu.Lock()
	f.state = ble.StateDisconnected
	obs := f.obs
	f.mu.Unlock()
	obs.StateChanged(ble.StateDisconnected)
	obs.LinkLost(ble.ErrLinkLost)
}
