package radio

import (
	"context"
	"errors"
)

// ErrAudioUnsupported is returned by the audio hooks. The firmware protocol
// has no framing for audio over BLE yet; commands that would need it fail
// without touching the link.
var ErrAudioUnsupported = errors.New("radio: audio over BLE is not supported")

// AudioSource supplies microphone samples captured while keyed.
type AudioSource interface {
	Start() error
	Stop() []float32
}

// AudioSink accepts received audio samples.
type AudioSink interface {
	WriteSamples(samples []float32) error
}

// TransmitAudio would send samples to the radio while keyed.
func (c *Controller) TransmitAudio(_ context.Context, _ []float32) error {
	return ErrAudioUnsupported
}

// SetAudioSink would route received audio to sink.
func (c *Controller) SetAudioSink(_ AudioSink) error {
	return ErrAudioUnsupported
}
