package audio

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"
)

// Owner names of the built-in features.
const (
	OwnerRecorder   = "recorder"
	OwnerTonePlayer = "tone-player"
)

// Recorder times a practice recording while holding the microphone.
type Recorder struct {
	manager *Manager
	opts    CaptureOptions
	now     func() time.Time

	mu      sync.Mutex
	started time.Time
	stream  Stream
}

// NewRecorder creates a recorder. A nil clock uses [time.Now].
func NewRecorder(manager *Manager, opts CaptureOptions, now func() time.Time) *Recorder {
	if now == nil {
		now = time.Now
	}
	return &Recorder{manager: manager, opts: opts, now: now}
}

// Start acquires the microphone and starts the clock.
func (r *Recorder) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	stream, err := r.manager.AcquireMicrophone(ctx, OwnerRecorder, r.opts)
	if err != nil {
		return err
	}
	r.stream = stream
	r.started = r.now()
	return nil
}

// Recording reports whether Start has been called without a matching Stop.
func (r *Recorder) Recording() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stream != nil
}

// Stop releases the microphone and returns the practice minutes recorded, rounded to the
// nearest minute with a floor of one.
func (r *Recorder) Stop() (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.stream == nil {
		return 0, ErrNotRecording
	}
	elapsed := r.now().Sub(r.started)
	r.manager.ReleaseMicrophone(OwnerRecorder)
	r.stream = nil

	return max(1, int(math.Round(elapsed.Minutes()))), nil
}

// TonePlayer plays reference tones for the tuner and ear-training features.
type TonePlayer struct {
	manager *Manager
}

// NewTonePlayer creates a tone player.
func NewTonePlayer(manager *Manager) *TonePlayer {
	return &TonePlayer{manager: manager}
}

// Play starts a tone at frequency Hz. The returned oscillator keeps sounding until passed to
// StopTone or the player is closed.
func (p *TonePlayer) Play(frequency float64) (Oscillator, error) {
	if frequency <= 0 {
		return nil, fmt.Errorf("invalid frequency %.2f", frequency)
	}

	ac, err := p.manager.AcquireAudioContext(OwnerTonePlayer)
	if err != nil {
		return nil, err
	}

	osc, err := ac.NewOscillator(frequency)
	if err != nil {
		return nil, fmt.Errorf("failed to create oscillator: %w", err)
	}
	if err := p.manager.RegisterOscillator(OwnerTonePlayer, osc); err != nil {
		return nil, err
	}
	if err := osc.Start(); err != nil {
		p.manager.UnregisterOscillator(OwnerTonePlayer, osc)
		return nil, fmt.Errorf("failed to start oscillator: %w", err)
	}
	return osc, nil
}

// PlayNote plays the equal-tempered pitch of a MIDI note number.
func (p *TonePlayer) PlayNote(midi int) (Oscillator, error) {
	return p.Play(NoteFrequency(midi))
}

// StopTone stops a single tone.
func (p *TonePlayer) StopTone(osc Oscillator) error {
	p.manager.UnregisterOscillator(OwnerTonePlayer, osc)
	return osc.Stop()
}

// Close stops every tone and gives the audio context back.
func (p *TonePlayer) Close() {
	p.manager.ReleaseAudioContext(OwnerTonePlayer)
}

// NoteFrequency returns the frequency of a MIDI note with A4 (69) at 440Hz.
func NoteFrequency(midi int) float64 {
	return 440 * math.Pow(2, float64(midi-69)/12)
}

// IsConflict reports whether err is an ownership conflict.
func IsConflict(err error) bool {
	return errors.Is(err, ErrConflict)
}
