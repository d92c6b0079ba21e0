package models

import (
	"fmt"
	"strings"
	"time"

	"github.com/desertthunder/cadenza/internal/shared"
)

// InputMethod records how a practice session was captured.
type InputMethod string

const (
	InputManual    InputMethod = "manual"
	InputTimer     InputMethod = "timer"
	InputRecording InputMethod = "recording"
	InputVideo     InputMethod = "video"
)

// ParseInputMethod validates s, treating the empty string as [InputManual].
func ParseInputMethod(s string) (InputMethod, error) {
	switch m := InputMethod(strings.ToLower(strings.TrimSpace(s))); m {
	case "":
		return InputManual, nil
	case InputManual, InputTimer, InputRecording, InputVideo:
		return m, nil
	default:
		return "", fmt.Errorf("%w: unknown input method %q", shared.ErrInvalidInput, s)
	}
}

// PracticeRecord is the canonical practice row for a user, local date and instrument.
type PracticeRecord struct {
	ID              string      `json:"id" yaml:"id"`
	UserID          string      `json:"user_id" yaml:"user_id"`
	PracticeDate    string      `json:"practice_date" yaml:"practice_date"`
	DurationMinutes int         `json:"duration_minutes" yaml:"duration_minutes"`
	Content         string      `json:"content,omitempty" yaml:"content,omitempty"`
	MediaURL        *string     `json:"media_url,omitempty" yaml:"media_url,omitempty"`
	InputMethod     InputMethod `json:"input_method" yaml:"input_method"`
	InstrumentID    *string     `json:"instrument_id,omitempty" yaml:"instrument_id,omitempty"`
	CreatedAt       time.Time   `json:"created_at" yaml:"created_at"`
}

func (r *PracticeRecord) Identifier() string { return r.ID }

// Validate checks the fields every stored record must satisfy.
func (r *PracticeRecord) Validate() error {
	if r.UserID == "" {
		return fmt.Errorf("%w: user id is required", shared.ErrInvalidInput)
	}
	if _, err := shared.ParseLocalDate(r.PracticeDate); err != nil {
		return err
	}
	if r.DurationMinutes < 0 {
		return fmt.Errorf("%w: duration must not be negative", shared.ErrInvalidInput)
	}
	if _, err := ParseInputMethod(string(r.InputMethod)); err != nil {
		return err
	}
	return nil
}

// Instrument returns the instrument id, or "" for the no-instrument bucket.
func (r *PracticeRecord) Instrument() string {
	if r.InstrumentID == nil {
		return ""
	}
	return *r.InstrumentID
}

// MergeKey identifies the bucket a record is merged into.
type MergeKey struct {
	UserID       string
	PracticeDate string
	InstrumentID string
}

func (k MergeKey) String() string {
	inst := k.InstrumentID
	if inst == "" {
		inst = "-"
	}
	return k.UserID + "/" + k.PracticeDate + "/" + inst
}

// Key returns the merge bucket of r.
func (r *PracticeRecord) Key() MergeKey {
	return MergeKey{UserID: r.UserID, PracticeDate: r.PracticeDate, InstrumentID: r.Instrument()}
}

// PendingPractice is a save that failed to reach the backend and waits in the offline queue.
type PendingPractice struct {
	ID           string      `json:"id"`
	UserID       string      `json:"user_id"`
	PracticeDate string      `json:"practice_date"`
	InstrumentID *string     `json:"instrument_id,omitempty"`
	Minutes      int         `json:"minutes"`
	Content      string      `json:"content,omitempty"`
	InputMethod  InputMethod `json:"input_method"`
	MediaURL     *string     `json:"media_url,omitempty"`
	Attempts     int         `json:"attempts"`
	LastError    string      `json:"last_error,omitempty"`
	CreatedAt    time.Time   `json:"created_at"`
}

func (p *PendingPractice) Identifier() string { return p.ID }

func (p *PendingPractice) Validate() error {
	if p.UserID == "" {
		return fmt.Errorf("%w: user id is required", shared.ErrInvalidInput)
	}
	if p.Minutes <= 0 {
		return fmt.Errorf("%w: minutes must be positive", shared.ErrInvalidInput)
	}
	if _, err := shared.ParseLocalDate(p.PracticeDate); err != nil {
		return err
	}
	return nil
}

// Key returns the merge bucket the pending save belongs to.
func (p *PendingPractice) Key() MergeKey {
	inst := ""
	if p.InstrumentID != nil {
		inst = *p.InstrumentID
	}
	return MergeKey{UserID: p.UserID, PracticeDate: p.PracticeDate, InstrumentID: inst}
}
