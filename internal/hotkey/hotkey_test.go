package hotkey

import "testing"

func TestParseMode(t *testing.T) {
	for _, s := range []string{"hold", "toggle"} {
		if _, err := ParseMode(s); err != nil {
			t.Errorf("ParseMode(%q) error = %v", s, err)
		}
	}
	if _, err := ParseMode("press"); err == nil {
		t.Error("ParseMode(\"press\") should fail")
	}
}

type step struct {
	down   bool
	want   EventType
	wantOK bool
}

func run(t *testing.T, mode Mode, steps []step) {
	t.Helper()
	k := keyer{mode: mode}
	for i, s := range steps {
		var (
			ev Event
			ok bool
		)
		if s.down {
			ev, ok = k.down()
		} else {
			ev, ok = k.up()
		}
		if ok != s.wantOK {
			t.Fatalf("step %d: emitted = %v, want %v", i, ok, s.wantOK)
		}
		if ok && ev.Type != s.want {
			t.Fatalf("step %d: event = %v, want %v", i, ev.Type, s.want)
		}
	}
}

func TestHoldMode(t *testing.T) {
	run(t, ModeHold, []step{
		{down: true, want: EventKey, wantOK: true},
		{down: true, wantOK: false}, // auto-repeat
		{down: true, wantOK: false},
		{down: false, want: EventUnkey, wantOK: true},
		{down: false, wantOK: false}, // stray release
		{down: true, want: EventKey, wantOK: true},
	})
}

func TestToggleMode(t *testing.T) {
	run(t, ModeToggle, []step{
		{down: true, want: EventKey, wantOK: true},
		{down: true, wantOK: false}, // auto-repeat
		{down: false, wantOK: false},
		{down: true, want: EventUnkey, wantOK: true},
		{down: false, wantOK: false},
		{down: true, want: EventKey, wantOK: true},
	})
}

func TestStopIsIdempotent(t *testing.T) {
	l := NewListener([]string{"ctrl", "t"}, ModeHold)
	l.Stop()
	l.Stop()
}
