package protocol

import "testing"

func TestBandOf(t *testing.T) {
	tests := []struct {
		freq   float64
		want   Band
		wantOK bool
	}{
		{134.0, BandVHF, true},
		{146.52, BandVHF, true},
		{174.0, BandVHF, true},
		{174.0001, 0, false},
		{133.9999, 0, false},
		{400.0, BandUHF, true},
		{446.0, BandUHF, true},
		{480.0, BandUHF, true},
		{480.0001, 0, false},
		{300, 0, false},
	}
	for _, tt := range tests {
		got, ok := BandOf(tt.freq)
		if got != tt.want || ok != tt.wantOK {
			t.Errorf("BandOf(%v) = (%v, %v), want (%v, %v)", tt.freq, got, ok, tt.want, tt.wantOK)
		}
	}
}

func TestParseBand(t *testing.T) {
	for _, s := range []string{"v", "V", "vhf"} {
		if b, err := ParseBand(s); err != nil || b != BandVHF {
			t.Errorf("ParseBand(%q) = (%v, %v), want VHF", s, b, err)
		}
	}
	for _, s := range []string{"u", "UHF"} {
		if b, err := ParseBand(s); err != nil || b != BandUHF {
			t.Errorf("ParseBand(%q) = (%v, %v), want UHF", s, b, err)
		}
	}
	for _, s := range []string{"", "x", "uv"} {
		if _, err := ParseBand(s); err == nil {
			t.Errorf("ParseBand(%q) should fail", s)
		}
	}
}

func TestParseBandwidth(t *testing.T) {
	if bw, err := ParseBandwidth("wide"); err != nil || bw != Wide {
		t.Errorf("ParseBandwidth(wide) = (%v, %v)", bw, err)
	}
	if bw, err := ParseBandwidth("n"); err != nil || bw != Narrow {
		t.Errorf("ParseBandwidth(n) = (%v, %v)", bw, err)
	}
	if _, err := ParseBandwidth("medium"); err == nil {
		t.Error("ParseBandwidth(medium) should fail")
	}
}

func TestToneFrequency(t *testing.T) {
	if hz, ok := ToneFrequency(0); !ok || hz != 0 {
		t.Errorf("ToneFrequency(0) = (%v, %v), want (0, true)", hz, ok)
	}
	if hz, ok := ToneFrequency(1); !ok || hz != 67.0 {
		t.Errorf("ToneFrequency(1) = (%v, %v), want (67.0, true)", hz, ok)
	}
	if hz, ok := ToneFrequency(22); !ok || hz != 141.3 {
		t.Errorf("ToneFrequency(22) = (%v, %v), want (141.3, true)", hz, ok)
	}
	if _, ok := ToneFrequency(23); ok {
		t.Error("ToneFrequency(23) is beyond the protocol ceiling")
	}
	if len(CTCSSTones) != 38 {
		t.Errorf("len(CTCSSTones) = %d, want 38", len(CTCSSTones))
	}
}

func TestToneIndex(t *testing.T) {
	if i, ok := ToneIndex(100.0); !ok || i != 12 {
		t.Errorf("ToneIndex(100.0) = (%d, %v), want (12, true)", i, ok)
	}
	if _, ok := ToneIndex(250.3); ok {
		t.Error("ToneIndex(250.3) should be unreachable on the wire")
	}
}
