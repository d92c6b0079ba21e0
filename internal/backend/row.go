package backend

import (
	"fmt"
	"strconv"
	"time"

	"github.com/desertthunder/cadenza/internal/shared"
)

// Column values arrive as whatever the transport produced: SQLite yields int64 and []byte, JSON
// yields float64 and bool. The accessors below normalise them.

// Text returns the column as a string, or "" when absent or NULL.
func (r Row) Text(column string) string {
	switch v := r[column].(type) {
	case nil:
		return ""
	case string:
		return v
	case []byte:
		return string(v)
	default:
		return fmt.Sprint(v)
	}
}

// NullString returns nil for absent, NULL or empty values.
func (r Row) NullString(column string) *string {
	s := r.Text(column)
	if s == "" {
		return nil
	}
	return &s
}

// Int returns the column as an int, or 0.
func (r Row) Int(column string) int {
	switch v := r[column].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	case string:
		n, _ := strconv.Atoi(v)
		return n
	case []byte:
		n, _ := strconv.Atoi(string(v))
		return n
	case bool:
		if v {
			return 1
		}
	}
	return 0
}

// Bool returns the column as a bool. Integers are true when non-zero.
func (r Row) Bool(column string) bool {
	switch v := r[column].(type) {
	case bool:
		return v
	case string:
		b, _ := strconv.ParseBool(v)
		return b
	case []byte:
		b, _ := strconv.ParseBool(string(v))
		return b
	}
	return r.Int(column) != 0
}

// Time parses the column as a timestamp, returning the zero time when absent or malformed.
func (r Row) Time(column string) time.Time {
	switch v := r[column].(type) {
	case time.Time:
		return v
	case string, []byte:
		t, err := shared.ParseTimestamp(r.Text(column))
		if err == nil {
			return t
		}
	}
	return time.Time{}
}

// Has reports whether the row carries column at all, NULL included.
func (r Row) Has(column string) bool {
	_, ok := r[column]
	return ok
}
