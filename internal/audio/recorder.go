// Package audio captures microphone audio while the transmitter is keyed
// and writes it to WAV files.
package audio

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/gen2brain/malgo"
)

// DefaultMaxDuration bounds one capture, like a transmit time-out timer.
const DefaultMaxDuration = 3 * time.Minute

// ErrAlreadyRecording is returned by Start while a transmission is being
// captured.
var ErrAlreadyRecording = errors.New("audio: already capturing a transmission")

// Recorder captures the operator's microphone for the length of one
// transmission, from key to unkey. Samples are float32, interleaved when
// there is more than one channel. A transmission longer than the maximum
// duration is truncated and the excess counted by Dropped.
type Recorder struct {
	ctx        *malgo.AllocatedContext
	device     *malgo.Device
	sampleRate uint32
	channels   uint32
	maxSamples int

	mu        sync.Mutex
	buf       []float32
	dropped   int
	recording bool
}

// NewRecorder opens the audio backend for transmit capture at sampleRate
// and channels. The microphone is only opened by Start. Call Close when done.
func NewRecorder(sampleRate, channels uint32) (*Recorder, error) {
	ctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return nil, fmt.Errorf("audio: open backend: %w", err)
	}

	r := &Recorder{
		ctx:        ctx,
		sampleRate: sampleRate,
		channels:   channels,
	}
	r.SetMaxDuration(DefaultMaxDuration)

	return r, nil
}

// SetMaxDuration changes the per-transmission limit. It applies from the
// next Start.
func (r *Recorder) SetMaxDuration(d time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.maxSamples = int(d.Seconds() * float64(r.sampleRate) * float64(r.channels))
}

// Start opens the default microphone when the transmitter is keyed. The
// previous transmission's samples are discarded.
func (r *Recorder) Start() error {
	r.mu.Lock()
	if r.recording {
		r.mu.Unlock()
		return ErrAlreadyRecording
	}
	r.buf = r.buf[:0]
	r.dropped = 0
	r.recording = true
	r.mu.Unlock()

	deviceCfg := malgo.DefaultDeviceConfig(malgo.Capture)
	deviceCfg.Capture.Format = malgo.FormatF32
	deviceCfg.Capture.Channels = r.channels
	deviceCfg.SampleRate = r.sampleRate

	callbacks := malgo.DeviceCallbacks{
		Data: r.onData,
	}

	device, err := malgo.InitDevice(r.ctx.Context, deviceCfg, callbacks)
	if err != nil {
		return r.abortStart(fmt.Errorf("audio: open microphone: %w", err))
	}
	if err := device.Start(); err != nil {
		device.Uninit()
		return r.abortStart(fmt.Errorf("audio: start microphone: %w", err))
	}

	r.mu.Lock()
	r.device = device
	r.mu.Unlock()

	return nil
}

func (r *Recorder) abortStart(err error) error {
	r.mu.Lock()
	r.recording = false
	r.mu.Unlock()
	return err
}

// Stop closes the microphone when the transmitter is unkeyed and returns the
// transmission's samples. It returns nil when nothing was being captured.
func (r *Recorder) Stop() []float32 {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.recording {
		return nil
	}

	if r.device != nil {
		r.device.Uninit()
		r.device = nil
	}
	r.recording = false

	return append([]float32(nil), r.buf...)
}

// Dropped returns how many samples of the last transmission were past the
// maximum duration and not kept.
func (r *Recorder) Dropped() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.dropped
}

// SampleRate returns the capture rate in Hz.
func (r *Recorder) SampleRate() uint32 { return r.sampleRate }

// Channels returns the number of captured channels.
func (r *Recorder) Channels() uint32 { return r.channels }

// IsRecording reports whether a transmission is being captured.
func (r *Recorder) IsRecording() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.recording
}

// Close closes the microphone if still open and releases the backend.
func (r *Recorder) Close() error {
	r.mu.Lock()
	if r.device != nil {
		r.device.Uninit()
		r.device = nil
	}
	r.recording = false
	r.mu.Unlock()

	if r.ctx != nil {
		if err := r.ctx.Uninit(); err != nil {
			return fmt.Errorf("audio: release backend: %w", err)
		}
		r.ctx.Free()
	}

	return nil
}

// onData receives little-endian float32 frames from malgo.
func (r *Recorder) onData(_, pSample []byte, frameCount uint32) {
	sampleCount := frameCount * r.channels
	samples := bytesToFloat32(pSample, sampleCount)

	r.mu.Lock()
	r.appendLocked(samples)
	r.mu.Unlock()
}

func (r *Recorder) appendLocked(samples []float32) {
	room := r.maxSamples - len(r.buf)
	if room < 0 {
		room = 0
	}
	if len(samples) > room {
		r.dropped += len(samples) - room
		samples = samples[:room]
	}
	r.buf = append(r.buf, samples...)
}

// bytesToFloat32 decodes up to sampleCount samples; a short buffer yields
// fewer.
func bytesToFloat32(data []byte, sampleCount uint32) []float32 {
	n := min(int(sampleCount), len(data)/4)
	samples := make([]float32, n)
	for i := range samples {
		samples[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[i*4:]))
	}
	return samples
}
