// Package radio is the command surface for a kv4p HT radio. A Controller
// encodes commands, hands them one at a time to the BLE transport and
// publishes what the radio sends back as an event stream.
package radio

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/chaz8081/kv4p-ht/internal/ble"
	"github.com/chaz8081/kv4p-ht/internal/ble/protocol"
)

var (
	// ErrNotConnected is returned for commands issued while the link is not
	// Connected. No bytes are written in that case.
	ErrNotConnected = ble.ErrNotConnected
	// ErrClosed is returned once the controller has been closed.
	ErrClosed = errors.New("radio: controller closed")
)

// Transport is the link the controller writes frames to. *ble.Session
// implements it.
type Transport interface {
	Connect(ctx context.Context, obs ble.Observer) error
	Disconnect(ctx context.Context) error
	Write(ctx context.Context, frame []byte) error
	State() ble.State
	ChunkSize() int
}

// Options configures a Controller.
type Options struct {
	QueueSize      int           // outbound commands waiting for the writer
	CommandTimeout time.Duration // bound on queueing plus writing one command
	EventBuffer    int           // per-subscriber event channel capacity
}

// DefaultOptions returns sensible defaults for production use.
func DefaultOptions() Options {
	return Options{
		QueueSize:      16,
		CommandTimeout: 5 * time.Second,
		EventBuffer:    64,
	}
}

// Controller serializes commands to one radio. Frames are written by a
// single goroutine in FIFO order, so two commands never interleave chunks.
type Controller struct {
	transport Transport
	opts      Options
	events    *eventStream
	logger    *slog.Logger

	queue     chan *writeRequest
	closed    chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

type writeRequest struct {
	ctx    context.Context
	name   string
	frame  []byte
	result chan error
}

// New creates a controller for transport and starts its writer.
func New(transport Transport, opts Options) *Controller {
	def := DefaultOptions()
	if opts.QueueSize <= 0 {
		opts.QueueSize = def.QueueSize
	}
	if opts.CommandTimeout <= 0 {
		opts.CommandTimeout = def.CommandTimeout
	}
	if opts.EventBuffer <= 0 {
		opts.EventBuffer = def.EventBuffer
	}

	logger := slog.With("component", "radio")
	c := &Controller{
		transport: transport,
		opts:      opts,
		events:    newEventStream(opts.EventBuffer, logger),
		logger:    logger,
		queue:     make(chan *writeRequest, opts.QueueSize),
		closed:    make(chan struct{}),
	}
	c.wg.Add(1)
	go c.writeLoop()
	return c
}

// Connect brings the link up. It is a no-op returning the current state
// while a connection exists or is being established. A link that is being
// torn down is waited for, bounded by CommandTimeout, and then reconnected.
func (c *Controller) Connect(ctx context.Context) (ble.State, error) {
	if c.isClosed() {
		return c.transport.State(), ErrClosed
	}
	for {
		switch st := c.transport.State(); st {
		case ble.StateScanning, ble.StateConnecting, ble.StateConnected:
			return st, nil
		case ble.StateDisconnecting:
			if err := c.awaitDisconnected(ctx); err != nil {
				return c.transport.State(), err
			}
			continue
		}

		err := c.transport.Connect(ctx, observer{c.events})
		if !errors.Is(err, ble.ErrBusy) {
			return c.transport.State(), err
		}
		// Lost a race with another Connect or a Disconnect.
		switch st := c.transport.State(); st {
		case ble.StateScanning, ble.StateConnecting, ble.StateConnected:
			return st, nil
		case ble.StateDisconnecting:
			continue
		default:
			return st, err
		}
	}
}

// awaitDisconnected blocks while the transport is Disconnecting.
func (c *Controller) awaitDisconnected(ctx context.Context) error {
	sub := c.Subscribe(EventStateChanged)
	defer sub.Close()

	ctx, cancel := context.WithTimeout(ctx, c.opts.CommandTimeout)
	defer cancel()
	for c.transport.State() == ble.StateDisconnecting {
		select {
		case _, ok := <-sub.C:
			if !ok {
				return ErrClosed
			}
		case <-ctx.Done():
			return fmt.Errorf("radio: waiting for disconnect: %w", ctx.Err())
		}
	}
	return nil
}

// Disconnect tears the link down. Calling it while disconnected is a no-op.
func (c *Controller) Disconnect(ctx context.Context) error {
	return c.transport.Disconnect(ctx)
}

// State returns the link state.
func (c *Controller) State() ble.State {
	return c.transport.State()
}

// PttDown keys the transmitter.
func (c *Controller) PttDown(ctx context.Context) error {
	return c.Send(ctx, protocol.PttDown{})
}

// PttUp unkeys the transmitter.
func (c *Controller) PttUp(ctx context.Context) error {
	return c.Send(ctx, protocol.PttUp{})
}

// TuneTo sets frequencies, tone, squelch and bandwidth.
func (c *Controller) TuneTo(ctx context.Context, cmd protocol.TuneTo) error {
	return c.Send(ctx, cmd)
}

// SetFilters toggles the audio filters.
func (c *Controller) SetFilters(ctx context.Context, cmd protocol.SetFilters) error {
	return c.Send(ctx, cmd)
}

// Stop stops the current radio activity.
func (c *Controller) Stop(ctx context.Context) error {
	return c.Send(ctx, protocol.Stop{})
}

// GetFirmwareVersion asks the radio for its firmware version. The reply
// arrives as an EventNotification.
func (c *Controller) GetFirmwareVersion(ctx context.Context, band protocol.Band) error {
	return c.Send(ctx, protocol.GetFirmwareVersion{Band: band})
}

// FirmwareVersion requests the firmware version and waits for the first
// non-blank notification that follows, returning its text. Replies carry no
// opcode or correlation ID, so any other notification the radio sends in
// that window is indistinguishable from the version and will be returned
// instead. Callers that need certainty should compare against a known
// pattern.
func (c *Controller) FirmwareVersion(ctx context.Context, band protocol.Band) (string, error) {
	sub := c.Subscribe(EventNotification, EventLinkLost)
	defer sub.Close()

	if err := c.GetFirmwareVersion(ctx, band); err != nil {
		return "", err
	}

	ctx, cancel := context.WithTimeout(ctx, c.opts.CommandTimeout)
	defer cancel()
	for {
		select {
		case ev, ok := <-sub.C:
			if !ok {
				return "", ErrClosed
			}
			if ev.Kind == EventLinkLost {
				return "", ev.Err
			}
			text := ev.Response.Text()
			if strings.TrimSpace(text) == "" {
				continue
			}
			return text, nil
		case <-ctx.Done():
			return "", fmt.Errorf("radio: waiting for firmware version: %w", ctx.Err())
		}
	}
}

// Send validates and encodes cmd, queues it behind any earlier commands and
// waits until it has been written. Invalid commands and commands issued
// while not Connected fail before anything is queued.
func (c *Controller) Send(ctx context.Context, cmd protocol.Command) error {
	frame, err := protocol.Encode(cmd)
	if err != nil {
		return err
	}
	name := protocol.Name(cmd)
	if c.isClosed() {
		return ErrClosed
	}
	if st := c.transport.State(); st != ble.StateConnected {
		return fmt.Errorf("radio: %s: %w (state %s)", name, ErrNotConnected, st)
	}

	ctx, cancel := context.WithTimeout(ctx, c.opts.CommandTimeout)
	defer cancel()

	req := &writeRequest{ctx: ctx, name: name, frame: frame, result: make(chan error, 1)}
	select {
	case c.queue <- req:
	case <-ctx.Done():
		return fmt.Errorf("radio: %s: queue: %w", name, ctx.Err())
	case <-c.closed:
		return ErrClosed
	}

	select {
	case err := <-req.result:
		if err != nil {
			return fmt.Errorf("radio: %s: %w", name, err)
		}
		return nil
	case <-ctx.Done():
		return fmt.Errorf("radio: %s: %w", name, ctx.Err())
	case <-c.closed:
		return ErrClosed
	}
}

// QueueLen returns the number of commands waiting for the writer.
func (c *Controller) QueueLen() int {
	return len(c.queue)
}

func (c *Controller) writeLoop() {
	defer c.wg.Done()
	for {
		select {
		case <-c.closed:
			return
		case req := <-c.queue:
			req.result <- c.write(req)
		}
	}
}

func (c *Controller) write(req *writeRequest) error {
	if err := req.ctx.Err(); err != nil {
		// The caller gave up while the request was queued.
		return err
	}
	start := time.Now()
	err := c.transport.Write(req.ctx, req.frame)
	if err != nil {
		c.logger.Warn("command failed", "command", req.name, "error", err)
		return err
	}
	c.logger.Debug("command sent", "command", req.name, "bytes", len(req.frame),
		"chunk_size", c.transport.ChunkSize(), "elapsed", time.Since(start))
	return nil
}

// Close disconnects, stops the writer and ends every subscription. Commands
// still queued fail with ErrClosed.
func (c *Controller) Close(ctx context.Context) error {
	var err error
	c.closeOnce.Do(func() {
		err = c.transport.Disconnect(ctx)
		close(c.closed)
		c.wg.Wait()
		c.events.close()
	})
	return err
}

func (c *Controller) isClosed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}
