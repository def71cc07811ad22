package protocol

// CTCSSTones lists the sub-audible tones (Hz) offered by the radio. A tone
// index on the wire is 1-based into this table, with 0 meaning no tone. The
// two-digit tone field only reaches the first MaxTone entries.
var CTCSSTones = [...]float64{
	67.0, 71.9, 74.4, 77.0, 79.7, 82.5, 85.4, 88.5, 91.5, 94.8,
	97.4, 100.0, 103.5, 107.2, 110.9, 114.8, 118.8, 123.0, 127.3, 131.8,
	136.5, 141.3, 146.2, 151.4, 156.7, 162.2, 167.9, 173.8, 179.9, 186.2,
	192.8, 203.5, 210.7, 218.1, 225.7, 233.6, 241.8, 250.3,
}

// ToneFrequency returns the CTCSS frequency for a wire tone index. Index 0
// disables the tone and returns (0, true); indices the protocol cannot carry
// return false.
func ToneFrequency(index int) (float64, bool) {
	if index == 0 {
		return 0, true
	}
	if index < 1 || index > MaxTone {
		return 0, false
	}
	return CTCSSTones[index-1], true
}

// ToneIndex finds the wire index for hz. ok is false when hz is not in the
// reachable part of the table.
func ToneIndex(hz float64) (index int, ok bool) {
	if hz == 0 {
		return 0, true
	}
	for i := 0; i < MaxTone; i++ {
		if CTCSSTones[i] == hz {
			return i + 1, true
		}
	}
	return 0, false
}
