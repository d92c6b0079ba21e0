package testing

import (
	"context"
	"sync"

	"github.com/desertthunder/cadenza/internal/audio"
)

// FakePlatform is an [audio.Platform] that counts what it creates.
type FakePlatform struct {
	mu sync.Mutex

	ContextErr    error
	MicrophoneErr error

	Contexts []*FakeContext
	Streams  []*FakeStream
}

func (p *FakePlatform) NewContext() (audio.Context, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ContextErr != nil {
		return nil, p.ContextErr
	}
	c := &FakeContext{}
	p.Contexts = append(p.Contexts, c)
	return c, nil
}

func (p *FakePlatform) OpenMicrophone(_ context.Context, opts audio.CaptureOptions) (audio.Stream, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.MicrophoneErr != nil {
		return nil, p.MicrophoneErr
	}
	s := &FakeStream{Options: opts}
	p.Streams = append(p.Streams, s)
	return s, nil
}

// FakeContext records closes and the oscillators it made.
type FakeContext struct {
	Closed      bool
	Oscillators []*FakeOscillator
}

func (c *FakeContext) NewOscillator(frequency float64) (audio.Oscillator, error) {
	o := &FakeOscillator{Frequency: frequency}
	c.Oscillators = append(c.Oscillators, o)
	return o, nil
}

func (c *FakeContext) Close() error {
	c.Closed = true
	return nil
}

// FakeOscillator records start and stop calls.
type FakeOscillator struct {
	Frequency float64
	Started   bool
	Stopped   bool
}

func (o *FakeOscillator) Start() error {
	o.Started = true
	return nil
}

func (o *FakeOscillator) Stop() error {
	o.Stopped = true
	return nil
}

// FakeStream records whether its tracks were stopped.
type FakeStream struct {
	Options audio.CaptureOptions
	Stopped bool
}

func (s *FakeStream) Stop() error {
	s.Stopped = true
	return nil
}
