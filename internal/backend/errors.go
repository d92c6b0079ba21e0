package backend

import (
	"context"
	"errors"
	"fmt"
	"regexp"

	"github.com/desertthunder/cadenza/internal/shared"
)

// Error codes reported by the hosted backend (PostgREST and Postgres SQLSTATE values).
const (
	CodeUndefinedColumn   = "42703"
	CodeSchemaCacheColumn = "PGRST204"
	CodeUndefinedTable    = "42P01"
	CodeSchemaCacheTable  = "PGRST205"
	CodeNoRows            = "PGRST116"
	CodeForeignKey        = "23503"
	CodeUniqueViolation   = "23505"
	CodeCheckViolation    = "23514"
	CodeInsufficientPriv  = "42501"
)

// Error is a failure reported by the backend.
type Error struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
	Hint    string `json:"hint,omitempty"`
	Status  int    `json:"-"`
}

func (e *Error) Error() string {
	if e.Code == "" {
		return e.Message
	}
	return fmt.Sprintf("%s (%s)", e.Message, e.Code)
}

// Is maps backend codes onto the shared error taxonomy.
func (e *Error) Is(target error) bool {
	switch target {
	case shared.ErrSchemaMismatch:
		return e.unknownColumn()
	case shared.ErrFeatureUnavailable:
		return e.unknownTable()
	case shared.ErrNotFound:
		return e.Code == CodeNoRows
	case shared.ErrNonRetryable:
		return e.nonRetryable()
	case shared.ErrTransient:
		return !e.unknownColumn() && !e.nonRetryable()
	}
	return false
}

func (e *Error) unknownColumn() bool {
	return e.Code == CodeUndefinedColumn || e.Code == CodeSchemaCacheColumn
}

func (e *Error) unknownTable() bool {
	return e.Code == CodeUndefinedTable || e.Code == CodeSchemaCacheTable
}

func (e *Error) nonRetryable() bool {
	switch e.Code {
	case CodeNoRows, CodeForeignKey, CodeUniqueViolation, CodeCheckViolation, CodeUndefinedTable, CodeSchemaCacheTable:
		return true
	}
	return false
}

// IsUnknownColumn reports whether err says a referenced column does not exist.
func IsUnknownColumn(err error) bool {
	var be *Error
	return errors.As(err, &be) && be.unknownColumn()
}

// IsUnknownTable reports whether err says the table does not exist.
func IsUnknownTable(err error) bool {
	var be *Error
	return errors.As(err, &be) && be.unknownTable()
}

// IsNotFound reports whether err says no row matched.
func IsNotFound(err error) bool {
	var be *Error
	return errors.As(err, &be) && be.Code == CodeNoRows
}

// IsNonRetryable reports whether retrying the request cannot succeed: missing rows, constraint
// violations and missing tables.
func IsNonRetryable(err error) bool {
	var be *Error
	return errors.As(err, &be) && be.nonRetryable()
}

// IsTransient reports whether err is worth retrying. Errors that did not come from the backend
// (network failures, timeouts) count as transient; schema errors do not.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	var be *Error
	if errors.As(err, &be) {
		return !be.unknownColumn() && !be.nonRetryable()
	}
	switch {
	case errors.Is(err, shared.ErrInvalidInput), errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return false
	}
	return true
}

var columnPatterns = []*regexp.Regexp{
	regexp.MustCompile(`Could not find the '([A-Za-z0-9_]+)' column`),
	regexp.MustCompile(`column "?(?:[A-Za-z0-9_]+\.)?([A-Za-z0-9_]+)"?(?: of relation "[^"]+")? does not exist`),
	regexp.MustCompile(`no such column: (?:[A-Za-z0-9_]+\.)?([A-Za-z0-9_]+)`),
	regexp.MustCompile(`has no column named ([A-Za-z0-9_]+)`),
}

// UnknownColumnName extracts the missing column from an unknown-column error, or "" when the
// message does not name one.
func UnknownColumnName(err error) string {
	var be *Error
	if !errors.As(err, &be) || !be.unknownColumn() {
		return ""
	}
	for _, text := range []string{be.Message, be.Details, be.Hint} {
		for _, re := range columnPatterns {
			if m := re.FindStringSubmatch(text); m != nil {
				return m[1]
			}
		}
	}
	return ""
}
