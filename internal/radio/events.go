package radio

import (
	"log/slog"
	"sync"
	"time"

	"github.com/cskr/pubsub"

	"github.com/chaz8081/kv4p-ht/internal/ble"
	"github.com/chaz8081/kv4p-ht/internal/ble/protocol"
)

// EventKind identifies what an Event reports.
type EventKind int

const (
	EventNotification EventKind = iota + 1
	EventStateChanged
	EventLinkLost
)

var allKinds = []EventKind{EventNotification, EventStateChanged, EventLinkLost}

func (k EventKind) String() string {
	switch k {
	case EventNotification:
		return "notification"
	case EventStateChanged:
		return "state"
	case EventLinkLost:
		return "link_lost"
	default:
		return "unknown"
	}
}

// Event is one item on the controller's event stream. Which fields are set
// depends on Kind.
type Event struct {
	Kind EventKind
	Time time.Time

	// EventNotification
	Response  protocol.Response
	Seq       uint64
	SessionID string

	// EventStateChanged
	State ble.State

	// EventLinkLost
	Err error
}

// Subscription receives events of the kinds it was created for, in arrival
// order. C is closed after Close or when the controller closes.
type Subscription struct {
	C <-chan Event

	stream *eventStream
	raw    chan interface{}
	done   chan struct{}
	once   sync.Once
}

// Close stops delivery and closes C. Events not yet received are dropped.
func (s *Subscription) Close() {
	s.once.Do(func() { close(s.done) })
	s.stream.unsubscribe(s)
}

// Subscribe returns a subscription to the given kinds, or to every kind when
// none are given.
func (c *Controller) Subscribe(kinds ...EventKind) *Subscription {
	return c.events.subscribe(kinds...)
}

// eventStream decouples the BLE callback path from subscribers. Observer
// callbacks append to an unbounded mailbox; one dispatcher goroutine drains
// it and publishes through pubsub, preserving arrival order.
type eventStream struct {
	ps     *pubsub.PubSub
	buffer int
	logger *slog.Logger

	mu      sync.Mutex
	pending []Event
	subs    map[*Subscription]struct{}
	closed  bool
	unsubs  sync.WaitGroup

	wake chan struct{}
	stop chan struct{}
	done chan struct{}
}

func newEventStream(buffer int, logger *slog.Logger) *eventStream {
	s := &eventStream{
		ps:     pubsub.New(buffer),
		buffer: buffer,
		logger: logger,
		subs:   make(map[*Subscription]struct{}),
		wake:   make(chan struct{}, 1),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	go s.dispatch()
	return s
}

// push never blocks.
func (s *eventStream) push(ev Event) {
	if ev.Time.IsZero() {
		ev.Time = time.Now()
	}
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.pending = append(s.pending, ev)
	s.mu.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *eventStream) dispatch() {
	defer close(s.done)
	for {
		select {
		case <-s.wake:
		case <-s.stop:
			s.flush()
			return
		}
		s.flush()
	}
}

func (s *eventStream) flush() {
	for {
		s.mu.Lock()
		batch := s.pending
		s.pending = nil
		s.mu.Unlock()
		if len(batch) == 0 {
			return
		}
		for _, ev := range batch {
			s.ps.Pub(ev, ev.Kind.String())
		}
	}
}

func (s *eventStream) subscribe(kinds ...EventKind) *Subscription {
	if len(kinds) == 0 {
		kinds = allKinds
	}
	topics := make([]string, len(kinds))
	for i, k := range kinds {
		topics[i] = k.String()
	}

	out := make(chan Event, s.buffer)
	sub := &Subscription{C: out, stream: s, done: make(chan struct{})}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		close(out)
		return sub
	}
	sub.raw = s.ps.Sub(topics...)
	s.subs[sub] = struct{}{}
	s.mu.Unlock()

	go sub.forward(out)
	return sub
}

// forward converts pubsub's untyped channel. After Close it keeps draining
// raw so the publisher never blocks on an abandoned subscriber.
func (s *Subscription) forward(out chan<- Event) {
	defer close(out)
	for v := range s.raw {
		ev, ok := v.(Event)
		if !ok {
			continue
		}
		select {
		case out <- ev:
		case <-s.done:
		}
	}
}

func (s *eventStream) unsubscribe(sub *Subscription) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.subs[sub]; !ok {
		return
	}
	delete(s.subs, sub)
	if !s.closed {
		// Unsub must not run on the subscriber's goroutine; forward keeps
		// draining until pubsub closes raw.
		s.unsubs.Add(1)
		go func() {
			defer s.unsubs.Done()
			s.ps.Unsub(sub.raw)
		}()
	}
}

// close publishes what is already queued, then shuts pubsub down, which
// closes every subscriber channel. Subscribers that are not reading may miss
// the final events.
func (s *eventStream) close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	for sub := range s.subs {
		sub.once.Do(func() { close(sub.done) })
	}
	s.mu.Unlock()

	close(s.stop)
	<-s.done
	s.unsubs.Wait()
	s.ps.Shutdown()
}

// observer adapts the event stream to ble.Observer.
type observer struct {
	events *eventStream
}

func (o observer) Notification(n ble.Notification) {
	o.events.push(Event{
		Kind:      EventNotification,
		Time:      n.ReceivedAt,
		Response:  protocol.Decode(n.Data),
		Seq:       n.Seq,
		SessionID: n.SessionID,
	})
}

func (o observer) StateChanged(st ble.State) {
	o.events.push(Event{Kind: EventStateChanged, State: st})
}

func (o observer) LinkLost(err error) {
	o.events.logger.Warn("link lost", "error", err)
	o.events.push(Event{Kind: EventLinkLost, Err: err})
}
