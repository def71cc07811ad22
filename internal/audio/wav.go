package audio

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sync"
	"time"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

const (
	wavBitDepth  = 16
	wavFormatPCM = 1
)

// WAVWriter streams float32 samples into a 16-bit PCM WAV file.
type WAVWriter struct {
	mu     sync.Mutex
	file   *os.File
	enc    *wav.Encoder
	format *goaudio.Format
	closed bool
}

// CreateWAV creates path (and its directory) and writes the WAV header.
func CreateWAV(path string, sampleRate, channels int) (*WAVWriter, error) {
	if sampleRate <= 0 || channels <= 0 {
		return nil, fmt.Errorf("audio: invalid WAV format %d Hz x %d", sampleRate, channels)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("creating recording dir: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("creating WAV file: %w", err)
	}
	return &WAVWriter{
		file:   f,
		enc:    wav.NewEncoder(f, sampleRate, wavBitDepth, channels, wavFormatPCM),
		format: &goaudio.Format{NumChannels: channels, SampleRate: sampleRate},
	}, nil
}

// WriteSamples appends interleaved samples in [-1, 1]; values outside are
// clipped.
func (w *WAVWriter) WriteSamples(samples []float32) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return os.ErrClosed
	}
	if len(samples) == 0 {
		return nil
	}

	buf := &goaudio.IntBuffer{
		Format:         w.format,
		Data:           make([]int, len(samples)),
		SourceBitDepth: wavBitDepth,
	}
	for i, s := range samples {
		buf.Data[i] = toPCM16(s)
	}
	if err := w.enc.Write(buf); err != nil {
		return fmt.Errorf("writing WAV samples: %w", err)
	}
	return nil
}

// Close finalizes the header and closes the file.
func (w *WAVWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil
	}
	w.closed = true

	encErr := w.enc.Close()
	fileErr := w.file.Close()
	if encErr != nil {
		return fmt.Errorf("finalizing WAV file: %w", encErr)
	}
	return fileErr
}

// WriteWAV writes samples to a new WAV file at path.
func WriteWAV(path string, samples []float32, sampleRate, channels int) error {
	w, err := CreateWAV(path, sampleRate, channels)
	if err != nil {
		return err
	}
	if err := w.WriteSamples(samples); err != nil {
		_ = w.Close()
		return err
	}
	return w.Close()
}

// RecordingPath names a capture started at t inside dir.
func RecordingPath(dir string, t time.Time) string {
	return filepath.Join(dir, "ptt-"+t.Format("20060102-150405.000")+".wav")
}

func toPCM16(s float32) int {
	if s > 1 {
		s = 1
	} else if s < -1 {
		s = -1
	}
	return int(math.Round(float64(s) * math.MaxInt16))
}
