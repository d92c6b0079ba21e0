package repositories

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/charmbracelet/log"

	"github.com/desertthunder/cadenza/internal/backend"
	"github.com/desertthunder/cadenza/internal/models"
	"github.com/desertthunder/cadenza/internal/retry"
	"github.com/desertthunder/cadenza/internal/shared"
)

const PracticeTable = "practice_sessions"

var practiceColumns = []string{
	"id", "user_id", "practice_date", "duration_minutes", "content",
	"media_url", "input_method", "instrument_id", "created_at",
}

// SaveOptions describes a practice save. Zero values fall back to defaults: today, no
// instrument, manual input.
type SaveOptions struct {
	InstrumentID *string
	Content      string
	InputMethod  models.InputMethod
	PracticeDate string
	MediaURL     *string
}

// IntegrationResult reports what [PracticeRepository.SaveWithIntegration] did.
type IntegrationResult struct {
	Record *models.PracticeRecord `json:"record"`

	// Merged is true when the minutes were added to an existing record.
	Merged bool `json:"merged"`

	// MergedCount is the number of stored records folded into Record.
	MergedCount int `json:"merged_count"`

	DeletedIDs []string `json:"deleted_ids,omitempty"`
	RetryCount int      `json:"retry_count"`

	// Warning is set when duplicate cleanup failed. The save itself still succeeded.
	Warning error `json:"-"`
}

// PracticeRepository implements [models.Repository] for [models.PracticeRecord] and keeps one
// canonical record per user, local date and instrument.
type PracticeRepository struct {
	client backend.Client
	logger *log.Logger
	policy retry.Policy
	now    func() time.Time
}

// NewPracticeRepository creates a new [PracticeRepository]. Duplicate deletion uses
// [retry.Default] until SetRetryPolicy says otherwise.
func NewPracticeRepository(client backend.Client, logger *log.Logger) *PracticeRepository {
	policy := retry.Default()
	policy.Retryable = retryDelete

	return &PracticeRepository{
		client: client,
		logger: shared.WithLogger(logger, "component", "practice"),
		policy: policy,
		now:    time.Now,
	}
}

// SetClock replaces the clock used for default dates and timestamps.
func (r *PracticeRepository) SetClock(now func() time.Time) { r.now = now }

// SetRetryPolicy replaces the duplicate deletion policy. A nil Retryable retries everything except
// [backend.IsNonRetryable] errors.
func (r *PracticeRepository) SetRetryPolicy(p retry.Policy) {
	if p.Retryable == nil {
		p.Retryable = retryDelete
	}
	r.policy = p
}

// retryDelete stops duplicate deletion only on errors a retry cannot fix.
func retryDelete(err error) bool {
	return !backend.IsNonRetryable(err)
}

// SaveWithIntegration adds minutes of practice for userID, merging them into the earliest record
// of the same local date and instrument.
//
// Any other records of that key are folded into the canonical one and deleted under the retry
// policy. A failed deletion does not fail the save; it is reported in the result's Warning.
func (r *PracticeRepository) SaveWithIntegration(ctx context.Context, userID string, minutes int, opts SaveOptions) (*IntegrationResult, error) {
	if userID == "" {
		return nil, fmt.Errorf("%w: user id is required", shared.ErrInvalidInput)
	}
	if minutes <= 0 {
		return nil, fmt.Errorf("%w: minutes must be positive, got %d", shared.ErrInvalidInput, minutes)
	}

	date := opts.PracticeDate
	if date == "" {
		date = shared.LocalDate(r.now())
	} else if _, err := shared.ParseLocalDate(date); err != nil {
		return nil, err
	}

	method, err := models.ParseInputMethod(string(opts.InputMethod))
	if err != nil {
		return nil, err
	}

	instrument := opts.InstrumentID
	if instrument != nil && *instrument == "" {
		instrument = nil
	}

	rows, err := r.client.Select(ctx, backend.From(PracticeTable).
		Select(practiceColumns...).
		Where(backend.Eq("user_id", userID), backend.Eq("practice_date", date), backend.EqOrNull("instrument_id", instrument)).
		OrderBy("created_at", false).
		OrderBy("id", false))
	if err != nil {
		return nil, fmt.Errorf("failed to load practice sessions: %w", err)
	}

	logger := r.logger.With("user", userID, "date", date)

	if len(rows) == 0 {
		rec := &models.PracticeRecord{
			UserID:          userID,
			PracticeDate:    date,
			DurationMinutes: minutes,
			Content:         strings.TrimSpace(opts.Content),
			MediaURL:        opts.MediaURL,
			InputMethod:     method,
			InstrumentID:    instrument,
		}
		if err := r.Create(ctx, rec); err != nil {
			return nil, err
		}
		logger.Debug("practice session created", "id", rec.ID, "minutes", minutes)
		return &IntegrationResult{Record: rec}, nil
	}

	records := make([]*models.PracticeRecord, len(rows))
	for i, row := range rows {
		records[i] = practiceFromRow(row)
	}
	canonical, duplicates := records[0], records[1:]

	total := minutes
	contents := make([]string, 0, len(records)+1)
	for _, rec := range records {
		total += rec.DurationMinutes
		contents = append(contents, rec.Content)
	}
	contents = append(contents, opts.Content)

	values := backend.Row{
		"duration_minutes": total,
		"content":          mergeContent(contents),
	}
	if opts.InputMethod != "" {
		values["input_method"] = string(method)
	}
	if opts.MediaURL != nil && *opts.MediaURL != "" {
		values["media_url"] = *opts.MediaURL
	}

	n, err := r.client.Update(ctx, PracticeTable, values, backend.Eq("id", canonical.ID))
	if err != nil {
		return nil, fmt.Errorf("failed to update canonical practice session: %w", err)
	}
	if n == 0 {
		return nil, fmt.Errorf("%w: canonical practice session %s vanished during merge", shared.ErrNotFound, canonical.ID)
	}

	canonical.DurationMinutes = total
	canonical.Content = values.Text("content")
	if values.Has("input_method") {
		canonical.InputMethod = method
	}
	if values.Has("media_url") {
		canonical.MediaURL = opts.MediaURL
	}

	result := &IntegrationResult{Record: canonical, Merged: true, MergedCount: len(records)}
	if len(duplicates) == 0 {
		logger.Debug("practice session merged", "id", canonical.ID, "total", total)
		return result, nil
	}

	ids := make([]any, len(duplicates))
	names := make([]string, len(duplicates))
	for i, d := range duplicates {
		ids[i] = d.ID
		names[i] = d.ID
	}

	outcome, err := r.policy.Do(ctx, func(ctx context.Context) error {
		_, err := r.client.Delete(ctx, PracticeTable, backend.In("id", ids...))
		return err
	})
	result.RetryCount = outcome.RetryCount

	if err != nil {
		result.Warning = fmt.Errorf("failed to delete duplicate practice sessions: %w", err)
		logger.Warn("duplicate cleanup failed, canonical record is correct",
			"id", canonical.ID, "duplicates", names, "retries", outcome.RetryCount, "error", err)
		return result, nil
	}

	result.DeletedIDs = names
	logger.Info("practice sessions integrated",
		"id", canonical.ID, "total", total, "deleted", len(names), "retries", outcome.RetryCount)
	return result, nil
}

// Create inserts rec as-is, without merging.
func (r *PracticeRepository) Create(ctx context.Context, rec *models.PracticeRecord) error {
	if rec.InputMethod == "" {
		rec.InputMethod = models.InputManual
	}
	if err := rec.Validate(); err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}

	rec.ID = shared.GenerateID()
	rec.CreatedAt = r.now().UTC()

	row := practiceRow(rec)
	row["id"] = rec.ID
	row["user_id"] = rec.UserID
	row["created_at"] = rec.CreatedAt

	stored, err := r.client.Insert(ctx, PracticeTable, row)
	if err != nil {
		return fmt.Errorf("failed to insert practice session: %w", err)
	}

	*rec = *practiceFromRow(stored)
	return nil
}

// Get retrieves a record by ID.
func (r *PracticeRepository) Get(ctx context.Context, id string) (*models.PracticeRecord, error) {
	if id == "" {
		return nil, fmt.Errorf("%w: practice session %s", shared.ErrInvalidInput, errEmptyID)
	}

	records, err := r.list(ctx, backend.From(PracticeTable).Where(backend.Eq("id", id)).Take(1))
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("%w: practice session %s", shared.ErrNotFound, id)
	}
	return records[0], nil
}

// Update overwrites the editable fields of rec. It does not merge.
func (r *PracticeRepository) Update(ctx context.Context, rec *models.PracticeRecord) error {
	if err := rec.Validate(); err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}

	n, err := r.client.Update(ctx, PracticeTable, practiceRow(rec), backend.Eq("id", rec.ID))
	if err != nil {
		return fmt.Errorf("failed to update practice session: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: practice session %s", shared.ErrNotFound, rec.ID)
	}
	return nil
}

// Delete removes a record by ID.
func (r *PracticeRepository) Delete(ctx context.Context, id string) error {
	n, err := r.client.Delete(ctx, PracticeTable, backend.Eq("id", id))
	if err != nil {
		return fmt.Errorf("failed to delete practice session: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: practice session %s", shared.ErrNotFound, id)
	}
	return nil
}

// List retrieves records whose columns equal the given criteria.
func (r *PracticeRepository) List(ctx context.Context, criteria map[string]any) ([]*models.PracticeRecord, error) {
	q := backend.From(PracticeTable).OrderBy("practice_date", false).OrderBy("created_at", false)
	for _, column := range sortedCriteria(criteria) {
		if !slices.Contains(practiceColumns, column) {
			return nil, fmt.Errorf("%w: unknown practice column %q", shared.ErrInvalidArgument, column)
		}
		q.Where(backend.Eq(column, criteria[column]))
	}
	return r.list(ctx, q)
}

// ListByUser returns the records of userID between from and to inclusive. Empty bounds are open.
func (r *PracticeRepository) ListByUser(ctx context.Context, userID, from, to string) ([]*models.PracticeRecord, error) {
	q, err := rangeQuery(userID, from, to)
	if err != nil {
		return nil, err
	}
	return r.list(ctx, q.OrderBy("practice_date", false).OrderBy("created_at", false))
}

// DailyTotals sums practice minutes per local date for userID between from and to inclusive.
func (r *PracticeRepository) DailyTotals(ctx context.Context, userID, from, to string) (map[string]int, error) {
	q, err := rangeQuery(userID, from, to)
	if err != nil {
		return nil, err
	}

	rows, err := r.client.Select(ctx, q.Select("practice_date", "duration_minutes"))
	if err != nil {
		return nil, fmt.Errorf("failed to query practice totals: %w", err)
	}

	totals := make(map[string]int)
	for _, row := range rows {
		totals[row.Text("practice_date")] += row.Int("duration_minutes")
	}
	return totals, nil
}

func (r *PracticeRepository) list(ctx context.Context, q *backend.Query) ([]*models.PracticeRecord, error) {
	rows, err := r.client.Select(ctx, q.Select(practiceColumns...))
	if err != nil {
		return nil, fmt.Errorf("failed to query practice sessions: %w", err)
	}

	out := make([]*models.PracticeRecord, len(rows))
	for i, row := range rows {
		out[i] = practiceFromRow(row)
	}
	return out, nil
}

func rangeQuery(userID, from, to string) (*backend.Query, error) {
	if userID == "" {
		return nil, fmt.Errorf("%w: user id is required", shared.ErrInvalidInput)
	}

	q := backend.From(PracticeTable).Where(backend.Eq("user_id", userID))
	if from != "" {
		if _, err := shared.ParseLocalDate(from); err != nil {
			return nil, err
		}
		q.Where(backend.Gte("practice_date", from))
	}
	if to != "" {
		if _, err := shared.ParseLocalDate(to); err != nil {
			return nil, err
		}
		q.Where(backend.Lte("practice_date", to))
	}
	return q, nil
}

// mergeContent joins the distinct non-empty note lines in order of first appearance.
func mergeContent(parts []string) string {
	var out []string
	for _, part := range parts {
		for _, line := range strings.Split(part, "\n") {
			line = strings.TrimSpace(line)
			if line != "" && !slices.Contains(out, line) {
				out = append(out, line)
			}
		}
	}
	return strings.Join(out, "\n")
}

func practiceRow(rec *models.PracticeRecord) backend.Row {
	return backend.Row{
		"practice_date":    rec.PracticeDate,
		"duration_minutes": rec.DurationMinutes,
		"content":          rec.Content,
		"media_url":        rec.MediaURL,
		"input_method":     string(rec.InputMethod),
		"instrument_id":    rec.InstrumentID,
	}
}

func practiceFromRow(row backend.Row) *models.PracticeRecord {
	method := models.InputMethod(row.Text("input_method"))
	if method == "" {
		method = models.InputManual
	}

	return &models.PracticeRecord{
		ID:              row.Text("id"),
		UserID:          row.Text("user_id"),
		PracticeDate:    row.Text("practice_date"),
		DurationMinutes: row.Int("duration_minutes"),
		Content:         row.Text("content"),
		MediaURL:        row.NullString("media_url"),
		InputMethod:     method,
		InstrumentID:    row.NullString("instrument_id"),
		CreatedAt:       row.Time("created_at"),
	}
}
