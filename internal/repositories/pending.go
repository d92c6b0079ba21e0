package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/desertthunder/cadenza/internal/models"
	"github.com/desertthunder/cadenza/internal/shared"
)

// PendingRepository stores practice saves that could not reach the backend.
type PendingRepository struct {
	db  *sql.DB
	now func() time.Time
}

// NewPendingRepository creates a new [PendingRepository] with the given database connection
func NewPendingRepository(db *sql.DB) *PendingRepository {
	return &PendingRepository{db: db, now: time.Now}
}

// Create enqueues p, assigning its ID and creation time.
func (r *PendingRepository) Create(ctx context.Context, p *models.PendingPractice) error {
	if err := p.Validate(); err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}

	p.ID = shared.GenerateID()
	p.CreatedAt = r.now().UTC()
	if p.InputMethod == "" {
		p.InputMethod = models.InputManual
	}

	query := `
		INSERT INTO pending_practice (id, user_id, practice_date, instrument_id, minutes, content, input_method, media_url, attempts, last_error, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, 0, NULL, ?)
	`

	_, err := r.db.ExecContext(ctx, query,
		p.ID, p.UserID, p.PracticeDate, nullable(p.InstrumentID), p.Minutes, p.Content,
		string(p.InputMethod), nullable(p.MediaURL), shared.FormatTimestamp(p.CreatedAt))
	if err != nil {
		return fmt.Errorf("failed to enqueue practice save: %w", err)
	}
	return nil
}

// Get retrieves a pending save by ID.
func (r *PendingRepository) Get(ctx context.Context, id string) (*models.PendingPractice, error) {
	rows, err := r.db.QueryContext(ctx, pendingSelect+` WHERE id = ?`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to query pending save: %w", err)
	}

	list, err := scanPending(rows)
	if err != nil {
		return nil, err
	}
	if len(list) == 0 {
		return nil, fmt.Errorf("%w: pending save %s", shared.ErrNotFound, id)
	}
	return list[0], nil
}

// List returns every pending save, oldest first.
func (r *PendingRepository) List(ctx context.Context) ([]*models.PendingPractice, error) {
	rows, err := r.db.QueryContext(ctx, pendingSelect+` ORDER BY created_at ASC, id ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to query pending saves: %w", err)
	}
	return scanPending(rows)
}

// Count returns the queue length.
func (r *PendingRepository) Count(ctx context.Context) (int, error) {
	var n int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM pending_practice`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count pending saves: %w", err)
	}
	return n, nil
}

// Delete removes a pending save once it has been written to the backend.
func (r *PendingRepository) Delete(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM pending_practice WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete pending save: %w", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: pending save %s", shared.ErrNotFound, id)
	}
	return nil
}

// RecordFailure bumps the attempt counter and stores the last error.
func (r *PendingRepository) RecordFailure(ctx context.Context, id string, cause error) error {
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}

	_, err := r.db.ExecContext(ctx, `UPDATE pending_practice SET attempts = attempts + 1, last_error = ? WHERE id = ?`, msg, id)
	if err != nil {
		return fmt.Errorf("failed to record sync failure: %w", err)
	}
	return nil
}

const pendingSelect = `
	SELECT id, user_id, practice_date, instrument_id, minutes, content, input_method, media_url, attempts, last_error, created_at
	FROM pending_practice`

func scanPending(rows *sql.Rows) ([]*models.PendingPractice, error) {
	defer rows.Close()

	var out []*models.PendingPractice
	for rows.Next() {
		var (
			p          models.PendingPractice
			instrument sql.NullString
			mediaURL   sql.NullString
			lastError  sql.NullString
			method     string
			createdAt  string
		)

		err := rows.Scan(&p.ID, &p.UserID, &p.PracticeDate, &instrument, &p.Minutes, &p.Content,
			&method, &mediaURL, &p.Attempts, &lastError, &createdAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan pending save: %w", err)
		}

		p.InstrumentID = fromNull(instrument)
		p.MediaURL = fromNull(mediaURL)
		p.LastError = lastError.String
		p.InputMethod = models.InputMethod(method)
		if p.CreatedAt, err = shared.ParseTimestamp(createdAt); err != nil {
			return nil, err
		}
		out = append(out, &p)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating pending saves: %w", err)
	}
	return out, nil
}

func nullable(s *string) any {
	if s == nil || *s == "" {
		return nil
	}
	return *s
}

func fromNull(ns sql.NullString) *string {
	if !ns.Valid || ns.String == "" {
		return nil
	}
	s := ns.String
	return &s
}

var errEmptyID = errors.New("id is required")
