package protocol

import "fmt"

// Band is the frequency band of a tuning request.
type Band int

const (
	BandVHF Band = iota + 1
	BandUHF
)

// Band edges in MHz, inclusive.
const (
	VHFMin = 134.0
	VHFMax = 174.0
	UHFMin = 400.0
	UHFMax = 480.0
)

// BandOf classifies freq (MHz). ok is false when freq is in neither band.
func BandOf(freq float64) (b Band, ok bool) {
	switch {
	case freq >= VHFMin && freq <= VHFMax:
		return BandVHF, true
	case freq >= UHFMin && freq <= UHFMax:
		return BandUHF, true
	default:
		return 0, false
	}
}

// Tag returns the single-byte wire tag for b: 'v' or 'u'. Unknown bands
// return 0.
func (b Band) Tag() byte {
	switch b {
	case BandVHF:
		return 'v'
	case BandUHF:
		return 'u'
	default:
		return 0
	}
}

func (b Band) String() string {
	switch b {
	case BandVHF:
		return "VHF"
	case BandUHF:
		return "UHF"
	default:
		return fmt.Sprintf("Band(%d)", int(b))
	}
}

// ParseBand accepts the wire tags "v"/"u" as well as "vhf"/"uhf" in any case.
func ParseBand(s string) (Band, error) {
	switch s {
	case "v", "V", "vhf", "VHF":
		return BandVHF, nil
	case "u", "U", "uhf", "UHF":
		return BandUHF, nil
	default:
		return 0, &ValidationError{Field: "band", Value: s, Reason: "must be u or v"}
	}
}

// Bandwidth is the channel bandwidth, encoded as a single ASCII byte.
type Bandwidth byte

const (
	Narrow Bandwidth = 'N'
	Wide   Bandwidth = 'W'
)

func (bw Bandwidth) String() string {
	switch bw {
	case Narrow:
		return "narrow"
	case Wide:
		return "wide"
	default:
		return fmt.Sprintf("Bandwidth(%q)", byte(bw))
	}
}

// ParseBandwidth accepts "n"/"w" and "narrow"/"wide" in lower or upper case.
func ParseBandwidth(s string) (Bandwidth, error) {
	switch s {
	case "n", "N", "narrow", "NARROW":
		return Narrow, nil
	case "w", "W", "wide", "WIDE":
		return Wide, nil
	default:
		return 0, &ValidationError{Field: "bandwidth", Value: s, Reason: "must be narrow or wide"}
	}
}
