package protocol

import (
	"errors"
	"fmt"
)

// ErrValidation is matched by every *ValidationError via errors.Is.
var ErrValidation = errors.New("protocol: invalid command")

// Parameter limits.
const (
	MinTone    = 0
	MaxTone    = 22
	MinSquelch = 1
	MaxSquelch = 8
)

// ValidationError reports a command parameter the firmware would not accept.
// Commands that fail validation are never put on the wire.
type ValidationError struct {
	Field  string
	Value  any
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Value == nil {
		return fmt.Sprintf("protocol: invalid %s: %s", e.Field, e.Reason)
	}
	return fmt.Sprintf("protocol: invalid %s %v: %s", e.Field, e.Value, e.Reason)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// Validate checks the parameters of cmd.
func Validate(cmd Command) error {
	switch c := cmd.(type) {
	case PttDown, PttUp, Stop, SetFilters:
		return nil
	case TuneTo:
		return validateTuneTo(c)
	case GetFirmwareVersion:
		if c.Band != BandVHF && c.Band != BandUHF {
			return &ValidationError{Field: "band", Value: c.Band, Reason: "must be u or v"}
		}
		return nil
	default:
		return &ValidationError{Field: "command", Value: fmt.Sprintf("%T", cmd), Reason: "unsupported command type"}
	}
}

// validateTuneTo checks frequencies as they will appear on the wire, rounded
// to 4 decimals.
func validateTuneTo(c TuneTo) error {
	if _, ok := BandOf(roundFreq(c.TxFreq)); !ok {
		return &ValidationError{Field: "tx_freq", Value: c.TxFreq, Reason: "outside VHF and UHF bands"}
	}
	if _, ok := BandOf(roundFreq(c.RxFreq)); !ok {
		return &ValidationError{Field: "rx_freq", Value: c.RxFreq, Reason: "outside VHF and UHF bands"}
	}
	if c.Tone < MinTone || c.Tone > MaxTone {
		return &ValidationError{Field: "tone", Value: c.Tone, Reason: fmt.Sprintf("must be in [%d, %d]", MinTone, MaxTone)}
	}
	if c.Squelch < MinSquelch || c.Squelch > MaxSquelch {
		return &ValidationError{Field: "squelch", Value: c.Squelch, Reason: fmt.Sprintf("must be in [%d, %d]", MinSquelch, MaxSquelch)}
	}
	if c.Bandwidth != Narrow && c.Bandwidth != Wide {
		return &ValidationError{Field: "bandwidth", Value: c.Bandwidth, Reason: "must be narrow or wide"}
	}
	return nil
}
