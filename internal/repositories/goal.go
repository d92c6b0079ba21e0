package repositories

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/charmbracelet/log"

	"github.com/desertthunder/cadenza/internal/backend"
	"github.com/desertthunder/cadenza/internal/capability"
	"github.com/desertthunder/cadenza/internal/models"
	"github.com/desertthunder/cadenza/internal/shared"
)

const GoalsTable = "goals"

// Optional goal columns. Older backend schemas lack them.
const (
	ColShowOnCalendar = "show_on_calendar"
	ColInstrumentID   = "instrument_id"
	ColIsCompleted    = "is_completed"
)

var (
	baseGoalColumns     = []string{"id", "user_id", "title", "description", "target_date", "progress", "created_at", "updated_at"}
	OptionalGoalColumns = []string{ColShowOnCalendar, ColInstrumentID, ColIsCompleted}
)

// GoalRepository implements [models.Repository] for [models.Goal].
//
// Every request names only the optional columns the [capability.Prober] confirms, so a column
// disabled by a persisted marker never reaches the backend. When the backend rejects one anyway,
// the column is downgraded and the request is retried without it.
type GoalRepository struct {
	client backend.Client
	prober *capability.Prober
	logger *log.Logger
	now    func() time.Time
}

// NewGoalRepository creates a new [GoalRepository]. The prober must cover [GoalsTable].
func NewGoalRepository(client backend.Client, prober *capability.Prober, logger *log.Logger) *GoalRepository {
	return &GoalRepository{
		client: client,
		prober: prober,
		logger: shared.WithLogger(logger, "component", "goals"),
		now:    time.Now,
	}
}

// SetClock replaces the clock used for timestamps.
func (r *GoalRepository) SetClock(now func() time.Time) { r.now = now }

// Create inserts g with a generated ID.
func (r *GoalRepository) Create(ctx context.Context, g *models.Goal) error {
	if err := g.Validate(); err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}

	now := r.now().UTC()
	g.ID = shared.GenerateID()
	g.CreatedAt = now
	g.UpdatedAt = now

	row := r.goalRow(ctx, g)
	row["id"] = g.ID
	row["user_id"] = g.UserID
	row["created_at"] = now

	stored, err := r.write(ctx, row, func(row backend.Row) (backend.Row, error) {
		return r.client.Insert(ctx, GoalsTable, row)
	})
	if err != nil {
		return fmt.Errorf("failed to insert goal: %w", err)
	}

	*g = *r.fromRow(stored)
	return nil
}

// Get retrieves a goal by ID.
func (r *GoalRepository) Get(ctx context.Context, id string) (*models.Goal, error) {
	if id == "" {
		return nil, fmt.Errorf("%w: goal %s", shared.ErrInvalidInput, errEmptyID)
	}

	goals, err := r.query(ctx, func() *backend.Query {
		return backend.From(GoalsTable).Where(backend.Eq("id", id)).Take(1)
	})
	if err != nil {
		return nil, err
	}
	if len(goals) == 0 {
		return nil, fmt.Errorf("%w: goal %s", shared.ErrNotFound, id)
	}
	return goals[0], nil
}

// Update writes every mutable field of g.
func (r *GoalRepository) Update(ctx context.Context, g *models.Goal) error {
	if err := g.Validate(); err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}

	g.UpdatedAt = r.now().UTC()
	if err := r.update(ctx, g.ID, r.goalRow(ctx, g)); err != nil {
		return err
	}

	if !r.usable(ctx, ColIsCompleted) {
		g.IsCompleted = g.Progress >= models.CompleteProgress
	}
	return nil
}

// Delete removes a goal by ID.
func (r *GoalRepository) Delete(ctx context.Context, id string) error {
	n, err := r.client.Delete(ctx, GoalsTable, backend.Eq("id", id))
	if err != nil {
		return fmt.Errorf("failed to delete goal: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: goal %s", shared.ErrNotFound, id)
	}
	return nil
}

// List retrieves goals whose columns equal the given criteria. Criteria on optional columns the
// backend lacks are ignored.
func (r *GoalRepository) List(ctx context.Context, criteria map[string]any) ([]*models.Goal, error) {
	for column := range criteria {
		if !slices.Contains(baseGoalColumns, column) && !slices.Contains(OptionalGoalColumns, column) {
			return nil, fmt.Errorf("%w: unknown goal column %q", shared.ErrInvalidArgument, column)
		}
	}

	return r.query(ctx, func() *backend.Query {
		q := backend.From(GoalsTable).OrderBy("created_at", false)
		for _, column := range sortedCriteria(criteria) {
			if !r.usable(ctx, column) {
				r.logger.Debug("ignoring filter on unsupported column", "column", column)
				continue
			}
			q.Where(backend.Eq(column, criteria[column]))
		}
		return q
	})
}

// ListByUser returns the goals of userID narrowed by filter.
func (r *GoalRepository) ListByUser(ctx context.Context, userID string, filter models.GoalFilter) ([]*models.Goal, error) {
	goals, err := r.query(ctx, func() *backend.Query {
		q := backend.From(GoalsTable).Where(backend.Eq("user_id", userID)).OrderBy("created_at", false)
		if filter.InstrumentID != "" {
			if r.usable(ctx, ColInstrumentID) {
				q.Where(backend.Eq(ColInstrumentID, filter.InstrumentID))
			} else {
				r.logger.Debug("instrument filter ignored, column unsupported", "instrument", filter.InstrumentID)
			}
		}
		return q
	})
	if err != nil {
		return nil, err
	}

	return slices.DeleteFunc(goals, func(g *models.Goal) bool {
		return (!filter.IncludeCompleted && g.Done()) || (filter.CalendarOnly && !g.ShowOnCalendar)
	}), nil
}

// SetCompleted marks a goal done or not done.
//
// Without an is_completed column, completion is stored as progress 100 and reopening a goal caps
// its progress at 99.
func (r *GoalRepository) SetCompleted(ctx context.Context, id string, done bool) (*models.Goal, error) {
	g, err := r.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	g.IsCompleted = done
	if !r.usable(ctx, ColIsCompleted) {
		if done {
			g.Progress = models.CompleteProgress
		} else {
			g.Progress = min(g.Progress, models.CompleteProgress-1)
		}
	}

	if err := r.Update(ctx, g); err != nil {
		return nil, err
	}
	return g, nil
}

// CalendarGoals returns the goals of userID with a target date in [from, to].
//
// Without a show_on_calendar column every goal with a target date is a calendar goal.
func (r *GoalRepository) CalendarGoals(ctx context.Context, userID, from, to string) ([]*models.Goal, error) {
	if _, err := shared.ParseLocalDate(from); err != nil {
		return nil, err
	}
	if _, err := shared.ParseLocalDate(to); err != nil {
		return nil, err
	}

	goals, err := r.query(ctx, func() *backend.Query {
		q := backend.From(GoalsTable).
			Where(backend.Eq("user_id", userID), backend.Gte("target_date", from), backend.Lte("target_date", to)).
			OrderBy("target_date", false)
		if r.usable(ctx, ColShowOnCalendar) {
			q.Where(backend.Eq(ColShowOnCalendar, true))
		}
		return q
	})
	if err != nil {
		return nil, err
	}

	return slices.DeleteFunc(goals, func(g *models.Goal) bool { return !g.ShowOnCalendar }), nil
}

// Capabilities probes every optional column and reports the result.
func (r *GoalRepository) Capabilities(ctx context.Context) map[string]capability.State {
	out := make(map[string]capability.State, len(OptionalGoalColumns))
	for _, column := range OptionalGoalColumns {
		r.prober.Check(ctx, column)
		out[column] = r.prober.State(column)
	}
	return out
}

// Prober exposes the capability prober, for resetting columns.
func (r *GoalRepository) Prober() *capability.Prober { return r.prober }

// usable resolves column through the prober, reading its persisted marker or probing on first
// use. Base columns are always usable.
func (r *GoalRepository) usable(ctx context.Context, column string) bool {
	if !slices.Contains(OptionalGoalColumns, column) {
		return true
	}
	return r.prober.Check(ctx, column)
}

func (r *GoalRepository) columns(ctx context.Context) []string {
	cols := slices.Clone(baseGoalColumns)
	for _, c := range OptionalGoalColumns {
		if r.usable(ctx, c) {
			cols = append(cols, c)
		}
	}
	return cols
}

// query runs the select built by build, dropping optional columns the backend rejects. build is
// called again after every downgrade so filters on dropped columns disappear too.
func (r *GoalRepository) query(ctx context.Context, build func() *backend.Query) ([]*models.Goal, error) {
	for attempt := 0; ; attempt++ {
		q := build()
		q.Columns = r.columns(ctx)

		rows, err := r.client.Select(ctx, q)
		if err == nil {
			goals := make([]*models.Goal, len(rows))
			for i, row := range rows {
				goals[i] = r.fromRow(row)
			}
			return goals, nil
		}

		if attempt < len(OptionalGoalColumns) && r.downgrade(ctx, err, queryColumns(q)) {
			continue
		}
		return nil, fmt.Errorf("failed to query goals: %w", err)
	}
}

func (r *GoalRepository) update(ctx context.Context, id string, values backend.Row) error {
	var affected int
	_, err := r.write(ctx, values, func(values backend.Row) (backend.Row, error) {
		n, err := r.client.Update(ctx, GoalsTable, values, backend.Eq("id", id))
		affected = n
		return values, err
	})
	if err != nil {
		return fmt.Errorf("failed to update goal: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("%w: goal %s", shared.ErrNotFound, id)
	}
	return nil
}

// write runs op with row, removing optional columns the backend rejects and retrying.
func (r *GoalRepository) write(ctx context.Context, row backend.Row, op func(backend.Row) (backend.Row, error)) (backend.Row, error) {
	for attempt := 0; ; attempt++ {
		stored, err := op(row)
		if err == nil {
			return stored, nil
		}
		if attempt >= len(OptionalGoalColumns) || !backend.IsUnknownColumn(err) {
			return nil, err
		}

		var present []string
		for _, c := range OptionalGoalColumns {
			if row.Has(c) {
				present = append(present, c)
			}
		}
		if !r.downgrade(ctx, err, present) {
			return nil, err
		}

		for _, c := range present {
			if !r.prober.Usable(c) {
				r.dropColumn(row, c)
			}
		}
	}
}

// downgrade marks the column named by an unknown-column error unsupported. When the error does
// not name a column, every optional candidate is downgraded. It reports whether anything changed.
func (r *GoalRepository) downgrade(ctx context.Context, err error, candidates []string) bool {
	if !backend.IsUnknownColumn(err) {
		return false
	}

	var optional []string
	for _, c := range candidates {
		if slices.Contains(OptionalGoalColumns, c) && r.prober.Usable(c) {
			optional = append(optional, c)
		}
	}

	if name := backend.UnknownColumnName(err); name != "" {
		if !slices.Contains(optional, name) {
			return false
		}
		optional = []string{name}
	}

	for _, c := range optional {
		r.prober.MarkUnsupported(ctx, c)
	}
	return len(optional) > 0
}

func (r *GoalRepository) dropColumn(row backend.Row, column string) {
	if column == ColIsCompleted && row.Bool(ColIsCompleted) {
		row["progress"] = models.CompleteProgress
	}
	delete(row, column)
}

// goalRow renders the mutable fields of g, omitting optional columns known to be missing.
func (r *GoalRepository) goalRow(ctx context.Context, g *models.Goal) backend.Row {
	row := backend.Row{
		"title":       g.Title,
		"description": g.Description,
		"target_date": g.TargetDate,
		"progress":    g.Progress,
		"updated_at":  g.UpdatedAt,
	}

	if r.usable(ctx, ColShowOnCalendar) {
		row[ColShowOnCalendar] = g.ShowOnCalendar
	}
	if r.usable(ctx, ColInstrumentID) {
		row[ColInstrumentID] = g.InstrumentID
	}
	if r.usable(ctx, ColIsCompleted) {
		row[ColIsCompleted] = g.IsCompleted
	} else if g.IsCompleted {
		row["progress"] = models.CompleteProgress
	}
	return row
}

// fromRow decodes a goal, deriving the fields of columns the row lacks.
func (r *GoalRepository) fromRow(row backend.Row) *models.Goal {
	g := &models.Goal{
		ID:           row.Text("id"),
		UserID:       row.Text("user_id"),
		Title:        row.Text("title"),
		Description:  row.Text("description"),
		TargetDate:   row.NullString("target_date"),
		Progress:     row.Int("progress"),
		InstrumentID: row.NullString(ColInstrumentID),
		CreatedAt:    row.Time("created_at"),
		UpdatedAt:    row.Time("updated_at"),
	}

	if row.Has(ColShowOnCalendar) {
		g.ShowOnCalendar = row.Bool(ColShowOnCalendar)
	} else {
		g.ShowOnCalendar = g.TargetDate != nil
	}

	if row.Has(ColIsCompleted) {
		g.IsCompleted = row.Bool(ColIsCompleted)
	} else {
		g.IsCompleted = g.Progress >= models.CompleteProgress
	}
	return g
}

func queryColumns(q *backend.Query) []string {
	cols := slices.Clone(q.Columns)
	for _, f := range q.Filters {
		cols = append(cols, f.Column)
	}
	return cols
}

func sortedCriteria(criteria map[string]any) []string {
	keys := make([]string, 0, len(criteria))
	for k := range criteria {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
