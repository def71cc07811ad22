// Package hotkey provides a global push-to-talk hotkey using gohook.
// It supports "hold" mode (press to key, release to unkey) and
// "toggle" mode (press to key, press again to unkey).
package hotkey

import (
	"fmt"
	"sync"

	hook "github.com/robotn/gohook"
)

// EventType indicates whether the transmitter should be keyed.
type EventType int

const (
	// EventKey signals that the hotkey was activated (key the transmitter).
	EventKey EventType = iota
	// EventUnkey signals that the hotkey was deactivated (unkey it).
	EventUnkey
)

func (t EventType) String() string {
	if t == EventKey {
		return "key"
	}
	return "unkey"
}

// Event is emitted on the channel returned by Events.
type Event struct {
	Type EventType
}

// Mode selects how key presses map to events.
type Mode string

const (
	ModeHold   Mode = "hold"
	ModeToggle Mode = "toggle"
)

// ParseMode accepts "hold" and "toggle".
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case ModeHold, ModeToggle:
		return Mode(s), nil
	default:
		return "", fmt.Errorf("hotkey: mode must be %q or %q, got %q", ModeHold, ModeToggle, s)
	}
}

// keyer turns raw key presses into key/unkey transitions. Auto-repeat
// presses produce nothing, so the radio sees one PttDown per transmission.
type keyer struct {
	mu      sync.Mutex
	mode    Mode
	keyed   bool
	pressed bool // toggle mode: combo is held down
}

func (k *keyer) down() (Event, bool) {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.mode == ModeToggle {
		if k.pressed {
			return Event{}, false
		}
		k.pressed = true
		k.keyed = !k.keyed
		if k.keyed {
			return Event{Type: EventKey}, true
		}
		return Event{Type: EventUnkey}, true
	}
	if k.keyed {
		return Event{}, false
	}
	k.keyed = true
	return Event{Type: EventKey}, true
}

func (k *keyer) up() (Event, bool) {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.mode == ModeToggle {
		k.pressed = false
		return Event{}, false
	}
	if !k.keyed {
		return Event{}, false
	}
	k.keyed = false
	return Event{Type: EventUnkey}, true
}

// Listener manages a global hotkey and emits key/unkey events.
type Listener struct {
	keys  []string
	keyer keyer
	ch    chan Event
	done  chan struct{}
	once  sync.Once
}

// NewListener creates a Listener for the given key combo and mode.
// keys should be lowercase key names (e.g., ["ctrl", "shift", "t"]).
func NewListener(keys []string, mode Mode) *Listener {
	return &Listener{
		keys:  keys,
		keyer: keyer{mode: mode},
		ch:    make(chan Event, 16),
		done:  make(chan struct{}),
	}
}

// Events returns the channel that receives hotkey events.
// The channel is closed when Stop is called.
func (l *Listener) Events() <-chan Event {
	return l.ch
}

// Start begins listening for the global hotkey.
// This function blocks until Stop is called. Run it in a goroutine.
func (l *Listener) Start() {
	hook.Register(hook.KeyDown, l.keys, func(hook.Event) {
		if ev, ok := l.keyer.down(); ok {
			l.emit(ev)
		}
	})
	hook.Register(hook.KeyUp, l.keys, func(hook.Event) {
		if ev, ok := l.keyer.up(); ok {
			l.emit(ev)
		}
	})

	evChan := hook.Start()
	go func() {
		<-l.done
		hook.End()
	}()
	<-hook.Process(evChan)
	close(l.ch)
}

func (l *Listener) emit(ev Event) {
	select {
	case l.ch <- ev:
	default: // don't block the hook goroutine if nobody is reading
	}
}

// Stop terminates the hotkey listener.
// It is safe to call multiple times.
func (l *Listener) Stop() {
	l.once.Do(func() {
		close(l.done)
	})
}
