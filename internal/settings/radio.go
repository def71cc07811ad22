package settings

import (
	"context"
	"fmt"
	"math"
	"strconv"

	"github.com/chaz8081/kv4p-ht/internal/ble/protocol"
)

// Prefix namespaces the radio state keys.
const Prefix = "kv4p-app-state."

// Keys for the Radio fields.
const (
	KeyRxFreq         = Prefix + "rx_freq"
	KeyTxFreq         = Prefix + "tx_freq"
	KeySplit          = Prefix + "rx_tx_split"
	KeyTone           = Prefix + "ctcss_tone"
	KeySquelch        = Prefix + "squelch"
	KeyBandwidth      = Prefix + "bandwidth"
	KeyFilterPre      = Prefix + "filters_pre"
	KeyFilterHighpass = Prefix + "filters_high"
	KeyFilterLowpass  = Prefix + "filters_low"
)

// FrequencyStep is the tuning increment in MHz.
const FrequencyStep = 0.0010

// Filters mirrors protocol.SetFilters.
type Filters struct {
	Deemphasis bool
	Highpass   bool
	Lowpass    bool
}

// Radio is the persisted radio state.
type Radio struct {
	RxFreq    float64 // MHz
	TxFreq    float64 // MHz, used only when Split is set
	Split     bool
	Tone      int // CTCSS table index, 0 = none
	Squelch   int
	Bandwidth protocol.Bandwidth
	Filters   Filters
}

// Default returns the state of a radio that has never been configured.
func Default() Radio {
	return Radio{
		RxFreq:    143.0000,
		TxFreq:    143.0000,
		Tone:      0,
		Squelch:   4,
		Bandwidth: protocol.Narrow,
	}
}

// Load reads the radio state from store. Missing keys keep their defaults;
// a value that does not parse is an error naming its key.
func Load(ctx context.Context, store Store) (Radio, error) {
	r := Default()
	l := loader{ctx: ctx, store: store}

	l.readFloat(KeyRxFreq, &r.RxFreq)
	l.readFloat(KeyTxFreq, &r.TxFreq)
	l.readBool(KeySplit, &r.Split)
	l.readInt(KeyTone, &r.Tone)
	l.readInt(KeySquelch, &r.Squelch)
	l.readBandwidth(KeyBandwidth, &r.Bandwidth)
	l.readBool(KeyFilterPre, &r.Filters.Deemphasis)
	l.readBool(KeyFilterHighpass, &r.Filters.Highpass)
	l.readBool(KeyFilterLowpass, &r.Filters.Lowpass)

	if l.err != nil {
		return Default(), l.err
	}
	return r, nil
}

// Save validates r and writes every field to store.
func Save(ctx context.Context, store Store, r Radio) error {
	if err := protocol.Validate(r.TuneCommand()); err != nil {
		return err
	}

	values := []struct{ key, value string }{
		{KeyRxFreq, formatFreq(r.RxFreq)},
		{KeyTxFreq, formatFreq(r.TxFreq)},
		{KeySplit, strconv.FormatBool(r.Split)},
		{KeyTone, strconv.Itoa(r.Tone)},
		{KeySquelch, strconv.Itoa(r.Squelch)},
		{KeyBandwidth, string(rune(r.Bandwidth))},
		{KeyFilterPre, strconv.FormatBool(r.Filters.Deemphasis)},
		{KeyFilterHighpass, strconv.FormatBool(r.Filters.Highpass)},
		{KeyFilterLowpass, strconv.FormatBool(r.Filters.Lowpass)},
	}
	for _, kv := range values {
		if err := store.Set(ctx, kv.key, kv.value); err != nil {
			return fmt.Errorf("settings: save %s: %w", kv.key, err)
		}
	}
	return nil
}

// TuneCommand builds the tune command for r. Without split the radio
// transmits on the receive frequency.
func (r Radio) TuneCommand() protocol.TuneTo {
	tx := r.RxFreq
	if r.Split {
		tx = r.TxFreq
	}
	return protocol.TuneTo{
		TxFreq:    tx,
		RxFreq:    r.RxFreq,
		Tone:      r.Tone,
		Squelch:   r.Squelch,
		Bandwidth: r.Bandwidth,
	}
}

// FiltersCommand builds the filter command for r.
func (r Radio) FiltersCommand() protocol.SetFilters {
	return protocol.SetFilters{
		Deemphasis: r.Filters.Deemphasis,
		Highpass:   r.Filters.Highpass,
		Lowpass:    r.Filters.Lowpass,
	}
}

// Step returns f moved by n tuning steps, rounded to the 4 decimal places the
// radio accepts.
func Step(f float64, n int) float64 {
	return math.Round((f+float64(n)*FrequencyStep)*1e4) / 1e4
}

func formatFreq(f float64) string {
	return strconv.FormatFloat(f, 'f', 4, 64)
}

// loader records the first error and skips the remaining keys.
type loader struct {
	ctx   context.Context
	store Store
	err   error
}

func (l *loader) raw(key string) (string, bool) {
	if l.err != nil {
		return "", false
	}
	v, ok, err := l.store.Get(l.ctx, key)
	if err != nil {
		l.err = fmt.Errorf("settings: load %s: %w", key, err)
		return "", false
	}
	return v, ok
}

func (l *loader) fail(key, value string, err error) {
	l.err = fmt.Errorf("settings: parse %s=%q: %w", key, value, err)
}

func (l *loader) readFloat(key string, dst *float64) {
	if v, ok := l.raw(key); ok {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			l.fail(key, v, err)
			return
		}
		*dst = f
	}
}

func (l *loader) readInt(key string, dst *int) {
	if v, ok := l.raw(key); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			l.fail(key, v, err)
			return
		}
		*dst = n
	}
}

func (l *loader) readBool(key string, dst *bool) {
	if v, ok := l.raw(key); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			l.fail(key, v, err)
			return
		}
		*dst = b
	}
}

func (l *loader) readBandwidth(key string, dst *protocol.Bandwidth) {
	if v, ok := l.raw(key); ok {
		bw, err := protocol.ParseBandwidth(v)
		if err != nil {
			l.fail(key, v, err)
			return
		}
		*dst = bw
	}
}
