// Package audio hands the shared audio output context and the microphone to one feature at a
// time.
//
// A [Manager] is created once by the application and injected into every feature that plays or
// records audio. The first owner to acquire a resource keeps it until it releases it. Other
// owners get a [*ConflictError] instead of waiting.
package audio

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/charmbracelet/log"

	"github.com/desertthunder/cadenza/internal/shared"
)

// Manager arbitrates the audio context and microphone. It is safe for concurrent use.
type Manager struct {
	platform Platform
	logger   *log.Logger

	mu          sync.Mutex
	ctxLease    Lease
	audioCtx    Context
	micLease    Lease
	mic         Stream
	oscillators map[string][]Oscillator
}

// Status is a point-in-time view of the manager.
type Status struct {
	AudioContext Lease
	Microphone   Lease
	Oscillators  map[string]int
}

// NewManager creates a manager over platform.
func NewManager(platform Platform, logger *log.Logger) *Manager {
	return &Manager{
		platform:    platform,
		logger:      shared.WithLogger(logger, "component", "audio"),
		oscillators: make(map[string][]Oscillator),
	}
}

// AcquireAudioContext returns the audio context for owner, creating it on first use.
//
// An owner that already holds the context gets the same handle back.
func (m *Manager) AcquireAudioContext(owner string) (Context, error) {
	if owner == "" {
		return nil, ErrInvalidOwner
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.ctxLease.Holds(owner) {
		return m.audioCtx, nil
	}
	if holder, held := m.ctxLease.Owner(); held {
		m.logger.Warn("audio context conflict", "holder", holder, "requester", owner)
		return nil, &ConflictError{Resource: ResourceAudioContext, Holder: holder, Requester: owner}
	}

	if m.audioCtx == nil {
		ac, err := m.platform.NewContext()
		if err != nil {
			if de := classify(err); de != nil {
				return nil, de
			}
			return nil, fmt.Errorf("failed to create audio context: %w", err)
		}
		m.audioCtx = ac
	}

	m.ctxLease = HeldBy(owner)
	m.logger.Debug("audio context acquired", "owner", owner)
	return m.audioCtx, nil
}

// AcquireMicrophone opens the microphone for owner.
//
// Platform failures are reported as a [*DeviceError] whose Kind is [ErrPermissionDenied],
// [ErrNoDevice] or [ErrUnsupported].
func (m *Manager) AcquireMicrophone(ctx context.Context, owner string, opts CaptureOptions) (Stream, error) {
	if owner == "" {
		return nil, ErrInvalidOwner
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.micLease.Holds(owner) {
		return m.mic, nil
	}
	if holder, held := m.micLease.Owner(); held {
		m.logger.Warn("microphone conflict", "holder", holder, "requester", owner)
		return nil, &ConflictError{Resource: ResourceMicrophone, Holder: holder, Requester: owner}
	}

	stream, err := m.platform.OpenMicrophone(ctx, opts)
	if err != nil {
		if de := classify(err); de != nil {
			m.logger.Warn("microphone unavailable", "owner", owner, "cause", de.Kind)
			return nil, de
		}
		return nil, fmt.Errorf("failed to open microphone: %w", err)
	}

	m.mic = stream
	m.micLease = HeldBy(owner)
	m.logger.Debug("microphone acquired", "owner", owner)
	return stream, nil
}

// RegisterOscillator tracks osc so it is stopped when owner releases the audio context.
func (m *Manager) RegisterOscillator(owner string, osc Oscillator) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.ctxLease.Holds(owner) {
		holder, _ := m.ctxLease.Owner()
		return &ConflictError{Resource: ResourceAudioContext, Holder: holder, Requester: owner}
	}
	m.oscillators[owner] = append(m.oscillators[owner], osc)
	return nil
}

// UnregisterOscillator stops tracking osc. Unknown oscillators are ignored.
func (m *Manager) UnregisterOscillator(owner string, osc Oscillator) {
	m.mu.Lock()
	defer m.mu.Unlock()

	list := m.oscillators[owner]
	if i := slices.Index(list, osc); i >= 0 {
		list = slices.Delete(list, i, i+1)
	}
	if len(list) == 0 {
		delete(m.oscillators, owner)
		return
	}
	m.oscillators[owner] = list
}

// ReleaseAudioContext stops owner's oscillators and closes the context. It does nothing when
// owner is not the holder.
func (m *Manager) ReleaseAudioContext(owner string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.ctxLease.Holds(owner) {
		m.logger.Debug("ignoring audio context release by non-holder", "owner", owner, "lease", m.ctxLease)
		return
	}
	m.stopOscillators(owner)
	m.closeContext()
	m.logger.Debug("audio context released", "owner", owner)
}

// ReleaseMicrophone stops the capture. It does nothing when owner is not the holder.
func (m *Manager) ReleaseMicrophone(owner string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.micLease.Holds(owner) {
		m.logger.Debug("ignoring microphone release by non-holder", "owner", owner, "lease", m.micLease)
		return
	}
	m.stopMicrophone()
	m.logger.Debug("microphone released", "owner", owner)
}

// ForceReleaseAll tears down every resource regardless of owner.
func (m *Manager) ForceReleaseAll() {
	m.mu.Lock()
	defer m.mu.Unlock()

	for owner := range m.oscillators {
		m.stopOscillators(owner)
	}
	m.stopMicrophone()
	m.closeContext()
	m.logger.Info("all audio resources force released")
}

// Status returns a snapshot of the current holders.
func (m *Manager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()

	counts := make(map[string]int, len(m.oscillators))
	for owner, list := range m.oscillators {
		counts[owner] = len(list)
	}
	return Status{AudioContext: m.ctxLease, Microphone: m.micLease, Oscillators: counts}
}

func (m *Manager) stopOscillators(owner string) {
	for _, osc := range m.oscillators[owner] {
		if err := osc.Stop(); err != nil {
			m.logger.Warn("failed to stop oscillator", "owner", owner, "error", err)
		}
	}
	delete(m.oscillators, owner)
}

func (m *Manager) stopMicrophone() {
	if m.mic != nil {
		if err := m.mic.Stop(); err != nil {
			m.logger.Warn("failed to stop microphone tracks", "error", err)
		}
	}
	m.mic = nil
	m.micLease = Free()
}

func (m *Manager) closeContext() {
	if m.audioCtx != nil {
		if err := m.audioCtx.Close(); err != nil {
			m.logger.Warn("failed to close audio context", "error", err)
		}
	}
	m.audioCtx = nil
	m.ctxLease = Free()
}
