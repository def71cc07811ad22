// Package protocol implements the kv4p HT command framing: a fixed 8-byte
// header, a one-byte opcode and an ASCII payload whose layout is fixed per
// command. Everything here is pure; no I/O happens in this package.
package protocol

import (
	"fmt"
	"strconv"
	"strings"
)

// HeaderSize is the length of the constant frame header.
const HeaderSize = 8

// Header prefixes every command frame.
var Header = [HeaderSize]byte{0xFF, 0x00, 0xFF, 0x00, 0xFF, 0x00, 0xFF, 0x00}

// Opcodes, one per command.
const (
	OpPttDown            byte = 0x01
	OpPttUp              byte = 0x02
	OpTuneTo             byte = 0x03
	OpSetFilters         byte = 0x04
	OpStop               byte = 0x05
	OpGetFirmwareVersion byte = 0x06
)

// Payload field widths for OpTuneTo.
const (
	freqFieldLen     = 8
	tuneToPayloadLen = 2*freqFieldLen + 2 + 1 + 1
)

// Command is one of the commands understood by the radio firmware.
// The set is closed: PttDown, PttUp, TuneTo, SetFilters, Stop and
// GetFirmwareVersion.
type Command interface {
	opcode() byte
	name() string
}

// PttDown keys the transmitter.
type PttDown struct{}

// PttUp unkeys the transmitter.
type PttUp struct{}

// TuneTo sets the transmit and receive frequencies (MHz), the CTCSS tone
// index, the squelch level and the channel bandwidth.
type TuneTo struct {
	TxFreq    float64
	RxFreq    float64
	Tone      int
	Squelch   int
	Bandwidth Bandwidth
}

// SetFilters toggles the audio filters.
type SetFilters struct {
	Deemphasis bool
	Highpass   bool
	Lowpass    bool
}

// Stop stops the current radio activity.
type Stop struct{}

// GetFirmwareVersion asks the firmware for its version string.
type GetFirmwareVersion struct {
	Band Band
}

func (PttDown) opcode() byte            { return OpPttDown }
func (PttUp) opcode() byte              { return OpPttUp }
func (TuneTo) opcode() byte             { return OpTuneTo }
func (SetFilters) opcode() byte         { return OpSetFilters }
func (Stop) opcode() byte               { return OpStop }
func (GetFirmwareVersion) opcode() byte { return OpGetFirmwareVersion }

func (PttDown) name() string            { return "ptt_down" }
func (PttUp) name() string              { return "ptt_up" }
func (TuneTo) name() string             { return "tune_to" }
func (SetFilters) name() string         { return "filters" }
func (Stop) name() string               { return "stop" }
func (GetFirmwareVersion) name() string { return "get_firmware_ver" }

// Opcode returns the wire opcode for cmd.
func Opcode(cmd Command) byte { return cmd.opcode() }

// Name returns a short stable name for cmd, suitable for logs.
func Name(cmd Command) string { return cmd.name() }

// Encode validates cmd and serializes it into a frame. A command that fails
// validation yields a *ValidationError and no frame.
func Encode(cmd Command) ([]byte, error) {
	if cmd == nil {
		return nil, &ValidationError{Field: "command", Reason: "must not be nil"}
	}
	if err := Validate(cmd); err != nil {
		return nil, err
	}

	buf := make([]byte, 0, HeaderSize+1+tuneToPayloadLen)
	buf = append(buf, Header[:]...)
	buf = append(buf, cmd.opcode())

	switch c := cmd.(type) {
	case TuneTo:
		buf = appendFrequency(buf, c.TxFreq)
		buf = appendFrequency(buf, c.RxFreq)
		buf = fmt.Appendf(buf, "%02d", c.Tone)
		buf = strconv.AppendInt(buf, int64(c.Squelch), 10)
		buf = append(buf, byte(c.Bandwidth))
	case SetFilters:
		buf = append(buf, flagByte(c.Deemphasis), flagByte(c.Highpass), flagByte(c.Lowpass))
	case GetFirmwareVersion:
		buf = append(buf, c.Band.Tag())
	}
	return buf, nil
}

// appendFrequency writes f as a fixed-width 8 character decimal with four
// fractional digits, left-padded with spaces.
func appendFrequency(buf []byte, f float64) []byte {
	return fmt.Appendf(buf, "%*.4f", freqFieldLen, f)
}

func flagByte(on bool) byte {
	if on {
		return '1'
	}
	return '0'
}

// ParseFrequency parses an 8-byte frequency field as written by Encode.
func ParseFrequency(field []byte) (float64, error) {
	if len(field) != freqFieldLen {
		return 0, fmt.Errorf("protocol: frequency field must be %d bytes, got %d", freqFieldLen, len(field))
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(string(field)), 64)
	if err != nil {
		return 0, fmt.Errorf("protocol: parse frequency %q: %w", field, err)
	}
	return roundFreq(f), nil
}

// roundFreq rounds f to the 4 decimal places carried on the wire.
func roundFreq(f float64) float64 {
	v, _ := strconv.ParseFloat(strconv.FormatFloat(f, 'f', 4, 64), 64)
	return v
}
