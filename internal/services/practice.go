package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/charmbracelet/log"

	"github.com/desertthunder/cadenza/internal/backend"
	"github.com/desertthunder/cadenza/internal/models"
	"github.com/desertthunder/cadenza/internal/repositories"
	"github.com/desertthunder/cadenza/internal/shared"
)

// SaveRequest is a practice save as submitted by a client.
type SaveRequest struct {
	UserID       string  `json:"user_id"`
	Minutes      int     `json:"minutes"`
	Date         string  `json:"date,omitempty"`
	InstrumentID *string `json:"instrument_id,omitempty"`
	Content      string  `json:"content,omitempty"`
	InputMethod  string  `json:"input_method,omitempty"`
	MediaURL     *string `json:"media_url,omitempty"`
}

// CalendarMonth holds per-day practice totals for one month.
type CalendarMonth struct {
	Month        string         `json:"month"`
	From         string         `json:"from"`
	To           string         `json:"to"`
	Days         map[string]int `json:"days"`
	TotalMinutes int            `json:"total_minutes"`
	ActiveDays   int            `json:"active_days"`
	Goals        []*models.Goal `json:"goals,omitempty"`
}

// PracticeService wraps the practice repository for the CLI and HTTP layers.
//
// Saves that fail with a transient backend error are parked in the offline queue when one is
// configured.
type PracticeService struct {
	repo    *repositories.PracticeRepository
	pending *repositories.PendingRepository
	logger  *log.Logger
	now     func() time.Time
}

// NewPracticeService creates a practice service. pending may be nil to disable offline queueing.
func NewPracticeService(repo *repositories.PracticeRepository, pending *repositories.PendingRepository, logger *log.Logger) *PracticeService {
	return &PracticeService{
		repo:    repo,
		pending: pending,
		logger:  shared.WithLogger(logger, "component", "practice-service"),
		now:     time.Now,
	}
}

// SetClock replaces the clock used to date offline saves.
func (s *PracticeService) SetClock(now func() time.Time) { s.now = now }

// Save records minutes of practice, merging into the day's record.
func (s *PracticeService) Save(ctx context.Context, req SaveRequest) Result[*repositories.IntegrationResult] {
	method, err := models.ParseInputMethod(req.InputMethod)
	if err != nil {
		return Fail[*repositories.IntegrationResult](s.logger, "save practice", err)
	}

	date := req.Date
	if date == "" {
		date = shared.LocalDate(s.now())
	}

	opts := repositories.SaveOptions{
		InstrumentID: req.InstrumentID,
		Content:      req.Content,
		PracticeDate: date,
		MediaURL:     req.MediaURL,
	}
	if req.InputMethod != "" {
		opts.InputMethod = method
	}

	res, err := s.repo.SaveWithIntegration(ctx, req.UserID, req.Minutes, opts)
	if err != nil {
		if s.shouldQueue(err) {
			return s.enqueue(ctx, req, date, method, err)
		}
		return Fail[*repositories.IntegrationResult](s.logger, "save practice", err)
	}

	out := Ok(res)
	if res.Warning != nil {
		out.Warning = res.Warning.Error()
	}
	return out
}

// List returns the user's records between from and to.
func (s *PracticeService) List(ctx context.Context, userID, from, to string) Result[[]*models.PracticeRecord] {
	records, err := s.repo.ListByUser(ctx, userID, from, to)
	if err != nil {
		return Fail[[]*models.PracticeRecord](s.logger, "list practice", err)
	}
	return Ok(records)
}

// Calendar returns per-day totals for month (YYYY-MM).
func (s *PracticeService) Calendar(ctx context.Context, userID, month string) Result[*CalendarMonth] {
	from, to, err := shared.MonthRange(month)
	if err != nil {
		return Fail[*CalendarMonth](s.logger, "load calendar", err)
	}

	totals, err := s.repo.DailyTotals(ctx, userID, from, to)
	if err != nil {
		return Fail[*CalendarMonth](s.logger, "load calendar", err)
	}

	cal := &CalendarMonth{Month: month, From: from, To: to, Days: totals}
	for _, m := range totals {
		cal.TotalMinutes += m
		if m > 0 {
			cal.ActiveDays++
		}
	}
	return Ok(cal)
}

func (s *PracticeService) shouldQueue(err error) bool {
	if s.pending == nil {
		return false
	}
	if errors.Is(err, shared.ErrInvalidInput) || errors.Is(err, context.Canceled) {
		return false
	}
	return backend.IsTransient(err)
}

func (s *PracticeService) enqueue(ctx context.Context, req SaveRequest, date string, method models.InputMethod, cause error) Result[*repositories.IntegrationResult] {
	p := &models.PendingPractice{
		UserID:       req.UserID,
		PracticeDate: date,
		InstrumentID: req.InstrumentID,
		Minutes:      req.Minutes,
		Content:      req.Content,
		InputMethod:  method,
		MediaURL:     req.MediaURL,
	}

	if err := s.pending.Create(ctx, p); err != nil {
		return Fail[*repositories.IntegrationResult](s.logger, "queue practice", fmt.Errorf("%w (queueing also failed: %v)", cause, err))
	}

	s.logger.Warn("backend unavailable, practice save queued", "pending_id", p.ID, "error", cause)
	return Result[*repositories.IntegrationResult]{
		Success: true,
		Code:    shared.CodeQueuedOffline,
		Warning: cause.Error(),
	}
}
