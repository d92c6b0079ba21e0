package backend

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/mattn/go-sqlite3"

	"github.com/desertthunder/cadenza/internal/shared"
)

var identifier = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// SQLite implements [Client] over a local SQLite database.
//
// It backs the "sqlite" backend mode and the repository tests. SQLite failures are translated
// into the hosted backend's error codes so repositories see one error vocabulary.
type SQLite struct {
	db *sql.DB
}

// NewSQLite wraps an open database. Tables are expected to exist already (see shared.RunMigrations).
func NewSQLite(db *sql.DB) *SQLite {
	return &SQLite{db: db}
}

// Select runs q and returns every matching row.
func (s *SQLite) Select(ctx context.Context, q *Query) ([]Row, error) {
	if err := checkIdent(q.Table); err != nil {
		return nil, err
	}

	cols := "*"
	if len(q.Columns) > 0 {
		quoted, err := quoteAll(q.Columns)
		if err != nil {
			return nil, err
		}
		cols = strings.Join(quoted, ", ")
	}

	where, args, err := buildWhere(q.Filters)
	if err != nil {
		return nil, err
	}

	var b strings.Builder
	fmt.Fprintf(&b, "SELECT %s FROM %s%s", cols, quote(q.Table), where)

	if len(q.Order) > 0 {
		parts := make([]string, len(q.Order))
		for i, o := range q.Order {
			if err := checkIdent(o.Column); err != nil {
				return nil, err
			}
			dir := "ASC"
			if o.Descending {
				dir = "DESC"
			}
			parts[i] = quote(o.Column) + " " + dir
		}
		b.WriteString(" ORDER BY " + strings.Join(parts, ", "))
	}

	if q.Limit > 0 {
		fmt.Fprintf(&b, " LIMIT %d", q.Limit)
	}

	rows, err := s.db.QueryContext(ctx, b.String(), args...)
	if err != nil {
		return nil, translate(err)
	}
	return collect(rows)
}

// Insert adds row to table and returns the stored row.
func (s *SQLite) Insert(ctx context.Context, table string, row Row) (Row, error) {
	cols, placeholders, args, err := insertParts(table, row)
	if err != nil {
		return nil, err
	}

	query := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s) RETURNING *", quote(table), cols, placeholders)
	return s.returningOne(ctx, query, args)
}

// Upsert inserts row, or updates the non-conflict columns of the row matching onConflict.
func (s *SQLite) Upsert(ctx context.Context, table string, row Row, onConflict []string) (Row, error) {
	if len(onConflict) == 0 {
		return nil, fmt.Errorf("%w: upsert needs conflict columns", shared.ErrInvalidInput)
	}

	cols, placeholders, args, err := insertParts(table, row)
	if err != nil {
		return nil, err
	}

	conflict, err := quoteAll(onConflict)
	if err != nil {
		return nil, err
	}

	isKey := make(map[string]bool, len(onConflict))
	for _, c := range onConflict {
		isKey[c] = true
	}

	var sets []string
	for _, c := range sortedKeys(row) {
		if !isKey[c] {
			sets = append(sets, fmt.Sprintf("%s = excluded.%s", quote(c), quote(c)))
		}
	}

	action := "DO NOTHING"
	if len(sets) > 0 {
		action = "DO UPDATE SET " + strings.Join(sets, ", ")
	}

	query := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s) ON CONFLICT (%s) %s RETURNING *",
		quote(table), cols, placeholders, strings.Join(conflict, ", "), action)
	return s.returningOne(ctx, query, args)
}

// Update sets values on every row matching filters and returns the affected count.
func (s *SQLite) Update(ctx context.Context, table string, values Row, filters ...Filter) (int, error) {
	if err := checkIdent(table); err != nil {
		return 0, err
	}
	if len(values) == 0 {
		return 0, fmt.Errorf("%w: update without values", shared.ErrInvalidInput)
	}
	if len(filters) == 0 {
		return 0, fmt.Errorf("%w: update without filters", shared.ErrInvalidInput)
	}

	var sets []string
	var args []any
	for _, c := range sortedKeys(values) {
		if err := checkIdent(c); err != nil {
			return 0, err
		}
		sets = append(sets, quote(c)+" = ?")
		args = append(args, bindValue(values[c]))
	}

	where, whereArgs, err := buildWhere(filters)
	if err != nil {
		return 0, err
	}

	query := fmt.Sprintf("UPDATE %s SET %s%s", quote(table), strings.Join(sets, ", "), where)
	return s.exec(ctx, query, append(args, whereArgs...))
}

// Delete removes every row matching filters and returns the affected count.
func (s *SQLite) Delete(ctx context.Context, table string, filters ...Filter) (int, error) {
	if err := checkIdent(table); err != nil {
		return 0, err
	}
	if len(filters) == 0 {
		return 0, fmt.Errorf("%w: delete without filters", shared.ErrInvalidInput)
	}

	where, args, err := buildWhere(filters)
	if err != nil {
		return 0, err
	}

	return s.exec(ctx, fmt.Sprintf("DELETE FROM %s%s", quote(table), where), args)
}

func (s *SQLite) exec(ctx context.Context, query string, args []any) (int, error) {
	result, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, translate(err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get affected rows: %w", err)
	}
	return int(n), nil
}

func (s *SQLite) returningOne(ctx context.Context, query string, args []any) (Row, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, translate(err)
	}

	out, err := collect(rows)
	if err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, &Error{Code: CodeNoRows, Message: "statement returned no rows"}
	}
	return out[0], nil
}

func collect(rows *sql.Rows) ([]Row, error) {
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("failed to read columns: %w", err)
	}

	var out []Row
	for rows.Next() {
		values := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}

		row := make(Row, len(cols))
		for i, c := range cols {
			if b, ok := values[i].([]byte); ok {
				row[c] = string(b)
			} else {
				row[c] = values[i]
			}
		}
		out = append(out, row)
	}

	if err := rows.Err(); err != nil {
		return nil, translate(err)
	}
	return out, nil
}

func insertParts(table string, row Row) (string, string, []any, error) {
	if err := checkIdent(table); err != nil {
		return "", "", nil, err
	}
	if len(row) == 0 {
		return "", "", nil, fmt.Errorf("%w: empty row", shared.ErrInvalidInput)
	}

	keys := sortedKeys(row)
	quoted, err := quoteAll(keys)
	if err != nil {
		return "", "", nil, err
	}

	args := make([]any, len(keys))
	for i, k := range keys {
		args[i] = bindValue(row[k])
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(keys)), ", ")
	return strings.Join(quoted, ", "), placeholders, args, nil
}

func buildWhere(filters []Filter) (string, []any, error) {
	if len(filters) == 0 {
		return "", nil, nil
	}

	var clauses []string
	var args []any
	for _, f := range filters {
		if err := checkIdent(f.Column); err != nil {
			return "", nil, err
		}

		switch f.Op {
		case OpEq:
			clauses = append(clauses, quote(f.Column)+" = ?")
			args = append(args, bindValue(f.Value))
		case OpNeq:
			clauses = append(clauses, quote(f.Column)+" <> ?")
			args = append(args, bindValue(f.Value))
		case OpGte:
			clauses = append(clauses, quote(f.Column)+" >= ?")
			args = append(args, bindValue(f.Value))
		case OpLte:
			clauses = append(clauses, quote(f.Column)+" <= ?")
			args = append(args, bindValue(f.Value))
		case OpIsNull:
			clauses = append(clauses, quote(f.Column)+" IS NULL")
		case OpIn:
			values, _ := f.Value.([]any)
			if len(values) == 0 {
				clauses = append(clauses, "0")
				continue
			}
			clauses = append(clauses, fmt.Sprintf("%s IN (%s)", quote(f.Column),
				strings.TrimSuffix(strings.Repeat("?, ", len(values)), ", ")))
			for _, v := range values {
				args = append(args, bindValue(v))
			}
		default:
			return "", nil, fmt.Errorf("%w: unsupported filter operator %q", shared.ErrInvalidInput, f.Op)
		}
	}

	return " WHERE " + strings.Join(clauses, " AND "), args, nil
}

func bindValue(v any) any {
	switch t := v.(type) {
	case time.Time:
		return shared.FormatTimestamp(t)
	case *string:
		if t == nil {
			return nil
		}
		return *t
	}
	return v
}

func checkIdent(name string) error {
	if !identifier.MatchString(name) {
		return fmt.Errorf("%w: invalid identifier %q", shared.ErrInvalidInput, name)
	}
	return nil
}

func quoteAll(names []string) ([]string, error) {
	out := make([]string, len(names))
	for i, n := range names {
		if err := checkIdent(n); err != nil {
			return nil, err
		}
		out[i] = quote(n)
	}
	return out, nil
}

// quote renders a validated identifier. Backticks, unlike double quotes, never fall back to a
// string literal when the column does not exist.
func quote(name string) string {
	return "`" + name + "`"
}

func sortedKeys(row Row) []string {
	keys := make([]string, 0, len(row))
	for k := range row {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// translate maps SQLite failures onto backend error codes.
func translate(err error) error {
	msg := err.Error()

	var se sqlite3.Error
	if errors.As(err, &se) {
		switch se.ExtendedCode {
		case sqlite3.ErrConstraintUnique, sqlite3.ErrConstraintPrimaryKey:
			return &Error{Code: CodeUniqueViolation, Message: msg}
		case sqlite3.ErrConstraintForeignKey:
			return &Error{Code: CodeForeignKey, Message: msg}
		case sqlite3.ErrConstraintCheck, sqlite3.ErrConstraintNotNull:
			return &Error{Code: CodeCheckViolation, Message: msg}
		}
	}

	switch {
	case strings.Contains(msg, "UNIQUE constraint failed"):
		return &Error{Code: CodeUniqueViolation, Message: msg}
	case strings.Contains(msg, "FOREIGN KEY constraint failed"):
		return &Error{Code: CodeForeignKey, Message: msg}
	case strings.Contains(msg, "CHECK constraint failed"), strings.Contains(msg, "NOT NULL constraint failed"):
		return &Error{Code: CodeCheckViolation, Message: msg}
	case strings.Contains(msg, "no such column"), strings.Contains(msg, "has no column named"):
		return &Error{Code: CodeUndefinedColumn, Message: msg}
	case strings.Contains(msg, "no such table"):
		return &Error{Code: CodeUndefinedTable, Message: msg}
	}

	return fmt.Errorf("%w: %v", shared.ErrBackendUnavailable, err)
}
