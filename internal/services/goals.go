package services

import (
	"context"
	"errors"

	"github.com/charmbracelet/log"

	"github.com/desertthunder/cadenza/internal/models"
	"github.com/desertthunder/cadenza/internal/repositories"
	"github.com/desertthunder/cadenza/internal/shared"
)

// GoalService wraps the goal repository. A backend without a goals table reports an empty,
// successful result with code feature_unavailable.
type GoalService struct {
	repo   *repositories.GoalRepository
	logger *log.Logger
}

// NewGoalService creates a goal service.
func NewGoalService(repo *repositories.GoalRepository, logger *log.Logger) *GoalService {
	return &GoalService{repo: repo, logger: shared.WithLogger(logger, "component", "goal-service")}
}

// List returns the user's goals.
func (s *GoalService) List(ctx context.Context, userID string, filter models.GoalFilter) Result[[]*models.Goal] {
	goals, err := s.repo.ListByUser(ctx, userID, filter)
	if err != nil {
		return s.absentOrFail("list goals", err)
	}
	return Ok(goals)
}

// Create stores a new goal.
func (s *GoalService) Create(ctx context.Context, g *models.Goal) Result[*models.Goal] {
	if err := s.repo.Create(ctx, g); err != nil {
		return Fail[*models.Goal](s.logger, "create goal", err)
	}
	return Ok(g)
}

// Complete marks a goal done or reopens it.
func (s *GoalService) Complete(ctx context.Context, id string, done bool) Result[*models.Goal] {
	g, err := s.repo.SetCompleted(ctx, id, done)
	if err != nil {
		return Fail[*models.Goal](s.logger, "complete goal", err)
	}
	return Ok(g)
}

// CalendarGoals returns the user's calendar goals due in month (YYYY-MM).
func (s *GoalService) CalendarGoals(ctx context.Context, userID, month string) Result[[]*models.Goal] {
	from, to, err := shared.MonthRange(month)
	if err != nil {
		return Fail[[]*models.Goal](s.logger, "load calendar goals", err)
	}

	goals, err := s.repo.CalendarGoals(ctx, userID, from, to)
	if err != nil {
		return s.absentOrFail("load calendar goals", err)
	}
	return Ok(goals)
}

// Capabilities probes the optional goal columns.
func (s *GoalService) Capabilities(ctx context.Context) Result[map[string]string] {
	out := make(map[string]string)
	for column, state := range s.repo.Capabilities(ctx) {
		out[column] = state.String()
	}
	return Ok(out)
}

// ResetCapability forgets what is known about column so the next request probes it again.
func (s *GoalService) ResetCapability(ctx context.Context, column string) Result[string] {
	if err := s.repo.Prober().Reset(ctx, column); err != nil {
		return Fail[string](s.logger, "reset capability", err)
	}
	return Ok(column)
}

func (s *GoalService) absentOrFail(op string, err error) Result[[]*models.Goal] {
	if errors.Is(err, shared.ErrFeatureUnavailable) {
		s.logger.Info("goals table unavailable, treating as empty", "op", op)
		return Result[[]*models.Goal]{Success: true, Data: []*models.Goal{}, Code: shared.CodeFeatureUnavailable}
	}
	return Fail[[]*models.Goal](s.logger, op, err)
}
