package audio

import "context"

// Platform creates the underlying audio objects. The platform exposes one output context and
// one microphone, which is why [Manager] hands them to a single owner at a time.
type Platform interface {
	NewContext() (Context, error)
	OpenMicrophone(ctx context.Context, opts CaptureOptions) (Stream, error)
}

// Context is the shared audio output context.
type Context interface {
	NewOscillator(frequency float64) (Oscillator, error)
	Close() error
}

// Oscillator is a transient synthesis node.
type Oscillator interface {
	Start() error
	Stop() error
}

// Stream is a live microphone capture.
type Stream interface {
	// Stop ends every track of the capture.
	Stop() error
}

// CaptureOptions configures microphone capture.
type CaptureOptions struct {
	SampleRate       int
	Channels         int
	EchoCancellation bool
	NoiseSuppression bool
}

// DefaultCaptureOptions suits practice recordings: mono, 44.1kHz, no processing.
func DefaultCaptureOptions() CaptureOptions {
	return CaptureOptions{SampleRate: 44100, Channels: 1}
}
