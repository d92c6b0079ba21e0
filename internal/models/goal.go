package models

import (
	"fmt"
	"strings"
	"time"

	"github.com/desertthunder/cadenza/internal/shared"
)

// CompleteProgress is the progress value that marks a goal done when the backend has no
// is_completed column.
const CompleteProgress = 100

// Goal is a practice goal.
//
// ShowOnCalendar, InstrumentID and IsCompleted map to columns older backend schemas lack. When a
// column is missing the repository derives the field instead.
type Goal struct {
	ID             string    `json:"id" yaml:"id"`
	UserID         string    `json:"user_id" yaml:"user_id"`
	Title          string    `json:"title" yaml:"title"`
	Description    string    `json:"description,omitempty" yaml:"description,omitempty"`
	TargetDate     *string   `json:"target_date,omitempty" yaml:"target_date,omitempty"`
	Progress       int       `json:"progress" yaml:"progress"`
	ShowOnCalendar bool      `json:"show_on_calendar" yaml:"show_on_calendar"`
	InstrumentID   *string   `json:"instrument_id,omitempty" yaml:"instrument_id,omitempty"`
	IsCompleted    bool      `json:"is_completed" yaml:"is_completed"`
	CreatedAt      time.Time `json:"created_at" yaml:"created_at"`
	UpdatedAt      time.Time `json:"updated_at" yaml:"updated_at"`
}

func (g *Goal) Identifier() string { return g.ID }

// Validate checks title, progress range and target date format.
func (g *Goal) Validate() error {
	if g.UserID == "" {
		return fmt.Errorf("%w: user id is required", shared.ErrInvalidInput)
	}
	if strings.TrimSpace(g.Title) == "" {
		return fmt.Errorf("%w: goal title is required", shared.ErrInvalidInput)
	}
	if g.Progress < 0 || g.Progress > 100 {
		return fmt.Errorf("%w: progress must be between 0 and 100", shared.ErrInvalidInput)
	}
	if g.TargetDate != nil && *g.TargetDate != "" {
		if _, err := shared.ParseLocalDate(*g.TargetDate); err != nil {
			return err
		}
	}
	return nil
}

// Done reports whether the goal counts as completed under either representation.
func (g *Goal) Done() bool {
	return g.IsCompleted || g.Progress >= CompleteProgress
}

// GoalFilter narrows ListByUser results. Zero values do not filter.
type GoalFilter struct {
	InstrumentID     string
	IncludeCompleted bool
	CalendarOnly     bool
}
