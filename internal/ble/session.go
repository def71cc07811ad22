package ble

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/oklog/ulid/v2"
	"golang.org/x/time/rate"

	"github.com/chaz8081/kv4p-ht/internal/ble/protocol"
)

// attHeaderSize is subtracted from the ATT MTU to get the largest
// write-without-response payload.
const attHeaderSize = 3

// State is the connection state of a Session.
type State int32

const (
	StateDisconnected State = iota
	StateScanning
	StateConnecting
	StateConnected
	StateDisconnecting
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateScanning:
		return "scanning"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateDisconnecting:
		return "disconnecting"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

// Notification is one notify event from the radio, copied out of the BLE
// stack's buffer and stamped on arrival.
type Notification struct {
	Data       []byte
	ReceivedAt time.Time
	Seq        uint64 // 1-based, per connection
	SessionID  string
}

// Observer receives session events. Methods are called from the BLE stack's
// callback context, in arrival order, and must not block.
type Observer interface {
	Notification(n Notification)
	StateChanged(s State)
	LinkLost(err error)
}

type nopObserver struct{}

func (nopObserver) Notification(Notification) {}
func (nopObserver) StateChanged(State)        {}
func (nopObserver) LinkLost(error)            {}

// SessionOptions configures the Session. Zero durations fall back to the
// defaults from DefaultSessionOptions.
type SessionOptions struct {
	DeviceName    string // match the advertised name; empty matches any
	DeviceAddress string // match the peripheral address; empty matches any

	ScanTimeout      time.Duration
	ConnectTimeout   time.Duration
	DiscoverTimeout  time.Duration
	SubscribeTimeout time.Duration
	WriteTimeout     time.Duration

	MaxChunkSize    int           // 0 derives the size from the link MTU
	InterChunkDelay time.Duration // minimum spacing between chunk writes
}

// DefaultSessionOptions returns sensible defaults.
func DefaultSessionOptions() SessionOptions {
	return SessionOptions{
		DeviceName:       DefaultDeviceName,
		ScanTimeout:      10 * time.Second,
		ConnectTimeout:   10 * time.Second,
		DiscoverTimeout:  8 * time.Second,
		SubscribeTimeout: 8 * time.Second,
		WriteTimeout:     2 * time.Second,
		InterChunkDelay:  20 * time.Millisecond,
	}
}

// Session owns the BLE link to one radio. All handles live here; callers see
// the link only through State, Write and Observer callbacks.
type Session struct {
	adapter Adapter
	opts    SessionOptions
	limiter *rate.Limiter

	mu          sync.Mutex
	state       State
	link        *link // set only while Connected
	setupCancel context.CancelFunc
	setupDone   chan struct{}

	// writer admits one Write at a time. It stays held after a chunk write
	// times out until the stack returns from that write.
	writer chan struct{}
}

// link is the state of one established connection. done is closed exactly
// once, when the link ends for any reason; reason is readable after that.
type link struct {
	id         string
	conn       Connection
	writeChar  Characteristic
	notifyChar Characteristic
	chunkSize  int
	obs        Observer
	seq        atomic.Uint64

	once   sync.Once
	done   chan struct{}
	reason error
}

// NewSession creates a disconnected session using adapter.
func NewSession(adapter Adapter, opts SessionOptions) *Session {
	def := DefaultSessionOptions()
	if opts.ScanTimeout <= 0 {
		opts.ScanTimeout = def.ScanTimeout
	}
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = def.ConnectTimeout
	}
	if opts.DiscoverTimeout <= 0 {
		opts.DiscoverTimeout = def.DiscoverTimeout
	}
	if opts.SubscribeTimeout <= 0 {
		opts.SubscribeTimeout = def.SubscribeTimeout
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = def.WriteTimeout
	}

	limit := rate.Inf
	if opts.InterChunkDelay > 0 {
		limit = rate.Every(opts.InterChunkDelay)
	}
	return &Session{
		adapter: adapter,
		opts:    opts,
		limiter: rate.NewLimiter(limit, 1),
		writer:  make(chan struct{}, 1),
	}
}

// State returns the current connection state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// ChunkSize returns the write chunk size of the current link, or 0 when not
// connected.
func (s *Session) ChunkSize() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.link == nil {
		return 0
	}
	return s.link.chunkSize
}

// SessionID returns the identifier of the current link, or "" when not
// connected.
func (s *Session) SessionID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.link == nil {
		return ""
	}
	return s.link.id
}

// Connect scans for the radio, connects, discovers the UART characteristics
// and subscribes to notifications. Each stage is bounded by its timeout and
// any failure leaves the session Disconnected. obs receives notifications
// and state changes for this connection.
//
// Connect returns nil immediately when already connected and ErrBusy while
// another attempt or a disconnect is in progress.
func (s *Session) Connect(ctx context.Context, obs Observer) error {
	if obs == nil {
		obs = nopObserver{}
	}

	s.mu.Lock()
	switch s.state {
	case StateConnected:
		s.mu.Unlock()
		return nil
	case StateDisconnected:
	default:
		state := s.state
		s.mu.Unlock()
		return fmt.Errorf("%w (state %s)", ErrBusy, state)
	}
	setupCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	s.setupCancel, s.setupDone = cancel, done
	s.state = StateScanning
	s.mu.Unlock()
	obs.StateChanged(StateScanning)

	l, err := s.establish(setupCtx, obs)
	cancel()

	s.mu.Lock()
	s.setupCancel, s.setupDone = nil, nil
	if err == nil && l.closed() {
		err = fmt.Errorf("ble: connect: %w", l.reason)
	}
	if err != nil {
		s.state = StateDisconnected
		s.mu.Unlock()
		if l != nil {
			_ = l.conn.Disconnect()
		}
		close(done)
		obs.StateChanged(StateDisconnected)
		bleLogger().Warn("[BLE] connect failed", "error", err)
		return err
	}
	s.link = l
	s.state = StateConnected
	s.mu.Unlock()
	close(done)
	obs.StateChanged(StateConnected)
	bleLogger("session", l.id).Info("[BLE] connected", "chunk_size", l.chunkSize)
	return nil
}

// establish runs the connection pipeline. On error nothing is left open,
// except a link that was lost after setup, which the caller closes.
func (s *Session) establish(ctx context.Context, obs Observer) (*link, error) {
	logger := bleLogger()

	if err := s.adapter.Enable(); err != nil {
		return nil, fmt.Errorf("ble: enable adapter: %w", err)
	}

	dev, err := s.scan(ctx)
	if err != nil {
		return nil, err
	}
	logger.Debug("[BLE] device found", "name", dev.Name, "address", dev.Address, "rssi", dev.RSSI)

	s.setState(StateConnecting, obs)

	var conn Connection
	err = runWithTimeout(ctx, s.opts.ConnectTimeout, "connect", func(ctx context.Context) error {
		var err error
		conn, err = s.adapter.Connect(ctx, dev.Address)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("ble: connect to %s: %w", dev.Address, err)
	}

	l := &link{
		id:   newSessionID(),
		conn: conn,
		obs:  obs,
		done: make(chan struct{}),
	}
	conn.OnDisconnect(func() { s.handleDisconnect(l) })

	if err := s.setupLink(ctx, l); err != nil {
		l.close(err)
		_ = conn.Disconnect()
		return nil, err
	}
	return l, nil
}

func (s *Session) scan(ctx context.Context) (Device, error) {
	scanCtx, cancel := context.WithTimeout(ctx, s.opts.ScanTimeout)
	defer cancel()

	var (
		mu    sync.Mutex
		found *Device
	)
	err := s.adapter.Scan(scanCtx, ServiceUUID, func(d Device) bool {
		if !s.matches(d) {
			return true
		}
		mu.Lock()
		defer mu.Unlock()
		if found == nil {
			found = &d
		}
		return false
	})

	mu.Lock()
	defer mu.Unlock()
	if found != nil {
		return *found, nil
	}
	if ctx.Err() != nil {
		return Device{}, fmt.Errorf("ble: scan: %w", ctx.Err())
	}
	if err != nil {
		return Device{}, fmt.Errorf("ble: scan: %w", err)
	}
	return Device{}, fmt.Errorf("%w: nothing advertising %s within %s", ErrDeviceNotFound, ServiceUUID, s.opts.ScanTimeout)
}

func (s *Session) matches(d Device) bool {
	if s.opts.DeviceAddress != "" && !strings.EqualFold(s.opts.DeviceAddress, d.Address) {
		return false
	}
	if s.opts.DeviceName != "" && s.opts.DeviceName != d.Name {
		return false
	}
	return true
}

// setupLink resolves the characteristics, sizes chunks and subscribes.
func (s *Session) setupLink(ctx context.Context, l *link) error {
	err := runWithTimeout(ctx, s.opts.DiscoverTimeout, "discover", func(context.Context) error {
		var err error
		if l.writeChar, err = l.conn.DiscoverCharacteristic(ServiceUUID, WriteCharUUID); err != nil {
			return fmt.Errorf("ble: discover write characteristic: %w", err)
		}
		if l.notifyChar, err = l.conn.DiscoverCharacteristic(ServiceUUID, NotifyCharUUID); err != nil {
			return fmt.Errorf("ble: discover notify characteristic: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	l.chunkSize = s.chunkSize(l.writeChar)

	err = runWithTimeout(ctx, s.opts.SubscribeTimeout, "subscribe", func(context.Context) error {
		return l.notifyChar.Subscribe(func(data []byte) { s.deliver(l, data) })
	})
	if err != nil {
		return fmt.Errorf("ble: subscribe to notifications: %w", err)
	}
	return nil
}

func (s *Session) chunkSize(c Characteristic) int {
	if s.opts.MaxChunkSize > 0 {
		return s.opts.MaxChunkSize
	}
	mtu, err := c.MTU()
	if err != nil {
		bleLogger().Debug("[BLE] MTU unavailable, using default chunk size", "error", err)
		return protocol.DefaultChunkSize
	}
	if mtu-attHeaderSize < 1 {
		return protocol.DefaultChunkSize
	}
	return mtu - attHeaderSize
}

func (s *Session) deliver(l *link, data []byte) {
	if l.closed() {
		return
	}
	l.obs.Notification(Notification{
		Data:       append([]byte(nil), data...),
		ReceivedAt: time.Now(),
		Seq:        l.seq.Add(1),
		SessionID:  l.id,
	})
}

// handleDisconnect runs when the peripheral drops the link. Disconnects
// started by Disconnect close the link first, so they end up as no-ops here.
func (s *Session) handleDisconnect(l *link) {
	if !l.close(ErrLinkLost) {
		return
	}

	s.mu.Lock()
	current := s.link == l
	if current {
		s.link = nil
		s.state = StateDisconnected
	}
	s.mu.Unlock()

	if !current {
		return
	}
	bleLogger("session", l.id).Warn("[BLE] link lost")
	l.obs.StateChanged(StateDisconnected)
	l.obs.LinkLost(fmt.Errorf("%w (session %s)", ErrLinkLost, l.id))
}

// Disconnect tears the link down from any state. A setup in progress is
// cancelled and awaited; an in-flight write is aborted. Calling it while
// disconnected is a no-op.
func (s *Session) Disconnect(ctx context.Context) error {
	s.mu.Lock()
	switch s.state {
	case StateScanning, StateConnecting:
		cancel, done := s.setupCancel, s.setupDone
		s.mu.Unlock()
		cancel()
		select {
		case <-done:
		case <-ctx.Done():
			return ctx.Err()
		}
		// The attempt may have finished just before it was cancelled.
		if s.State() == StateConnected {
			return s.Disconnect(ctx)
		}
		return nil
	case StateConnected:
	default:
		s.mu.Unlock()
		return nil
	}

	l := s.link
	s.link = nil
	s.state = StateDisconnecting
	s.mu.Unlock()

	logger := bleLogger("session", l.id)
	l.close(fmt.Errorf("%w: disconnected by caller", ErrNotConnected))
	l.obs.StateChanged(StateDisconnecting)

	var errs error
	if err := l.notifyChar.Unsubscribe(); err != nil {
		errs = errors.Join(errs, fmt.Errorf("ble: unsubscribe: %w", err))
	}
	if err := l.conn.Disconnect(); err != nil {
		errs = errors.Join(errs, fmt.Errorf("ble: disconnect: %w", err))
	}

	s.mu.Lock()
	s.state = StateDisconnected
	s.mu.Unlock()
	l.obs.StateChanged(StateDisconnected)

	if errs != nil {
		logger.Warn("[BLE] disconnect finished with errors", "error", errs)
		return errs
	}
	logger.Info("[BLE] disconnected")
	return nil
}

// Write sends frame to the write characteristic in chunks no larger than the
// link's chunk size. Writes are serialized: one frame's chunks are never
// interleaved with another's. If the link drops mid-frame the remaining
// chunks are abandoned and the error wraps ErrLinkLost. A chunk that times
// out keeps the writer busy until the stack finishes it, so the next frame
// waits, bounded by its own ctx.
func (s *Session) Write(ctx context.Context, frame []byte) error {
	select {
	case s.writer <- struct{}{}:
	case <-ctx.Done():
		return fmt.Errorf("ble: write: %w", ctx.Err())
	}
	var stale <-chan error
	defer func() { s.releaseWriter(stale) }()

	s.mu.Lock()
	l := s.link
	s.mu.Unlock()
	if l == nil {
		return ErrNotConnected
	}
	if len(frame) == 0 {
		return nil
	}

	wctx, cancel := l.context(ctx)
	defer cancel()

	total := protocol.ChunkCount(len(frame), l.chunkSize)
	sent := 0
	for chunk := range protocol.Split(frame, l.chunkSize) {
		if l.closed() {
			return l.writeErr(ErrLinkLost, sent, total)
		}
		if err := s.limiter.Wait(wctx); err != nil {
			return l.writeErr(err, sent, total)
		}
		var err error
		stale, err = s.writeChunk(wctx, l, chunk)
		if err != nil {
			if l.closed() || errors.Is(err, ErrTimeout) || ctx.Err() != nil {
				return l.writeErr(err, sent, total)
			}
			return fmt.Errorf("%w: chunk %d of %d: %w", ErrWriteFailed, sent+1, total, err)
		}
		sent++
	}
	bleLogger("session", l.id).Debug("[BLE] frame written", "bytes", len(frame), "chunks", total)
	return nil
}

// writeChunk writes one chunk bounded by WriteTimeout. When it gives up
// before the stack returns, pending delivers the abandoned write's result.
func (s *Session) writeChunk(ctx context.Context, l *link, chunk []byte) (pending <-chan error, err error) {
	done := make(chan error, 1)
	go func() { done <- l.writeChar.Write(chunk) }()

	tctx, cancel := context.WithTimeout(ctx, s.opts.WriteTimeout)
	defer cancel()
	select {
	case err := <-done:
		return nil, err
	case <-tctx.Done():
		if err := ctx.Err(); err != nil {
			return done, fmt.Errorf("ble: write: %w", err)
		}
		return done, fmt.Errorf("ble: write: %w after %s", ErrTimeout, s.opts.WriteTimeout)
	}
}

// releaseWriter frees the writer, or hands that to a goroutine when a chunk
// write is still outstanding.
func (s *Session) releaseWriter(pending <-chan error) {
	if pending == nil {
		<-s.writer
		return
	}
	go func() {
		err := <-pending
		bleLogger().Debug("[BLE] abandoned chunk write returned", "error", err)
		<-s.writer
	}()
}

func (l *link) close(reason error) bool {
	closed := false
	l.once.Do(func() {
		l.reason = reason
		close(l.done)
		closed = true
	})
	return closed
}

func (l *link) closed() bool {
	select {
	case <-l.done:
		return true
	default:
		return false
	}
}

// context returns a child of parent that is cancelled when the link ends.
func (l *link) context(parent context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)
	go func() {
		select {
		case <-l.done:
			cancel()
		case <-ctx.Done():
		}
	}()
	return ctx, cancel
}

// writeErr prefers the link's end reason over the context error it caused.
func (l *link) writeErr(err error, sent, total int) error {
	if l.closed() {
		return fmt.Errorf("%w: %d of %d chunks written", l.reason, sent, total)
	}
	return err
}

func (s *Session) setState(state State, obs Observer) {
	s.mu.Lock()
	s.state = state
	s.mu.Unlock()
	obs.StateChanged(state)
}

// runWithTimeout runs fn and returns its result, or an ErrTimeout error
// naming stage if it takes longer than d. fn keeps running in the
// background after a timeout; its result is then discarded.
func runWithTimeout(parent context.Context, d time.Duration, stage string, fn func(context.Context) error) error {
	ctx, cancel := context.WithTimeout(parent, d)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- fn(ctx) }()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		if err := parent.Err(); err != nil {
			return fmt.Errorf("ble: %s: %w", stage, err)
		}
		return fmt.Errorf("ble: %s: %w after %s", stage, ErrTimeout, d)
	}
}

func newSessionID() string {
	return ulid.Make().String()
}

func bleLogger(attrs ...any) *slog.Logger {
	logger := slog.With("component", "ble")
	if len(attrs) == 0 {
		return logger
	}
	return logger.With(attrs...)
}
