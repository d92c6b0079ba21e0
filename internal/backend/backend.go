// Package backend defines the table-oriented interface every repository uses to reach the hosted
// backend, together with the error classes the repositories branch on.
//
// Two implementations exist: [SQLite] keeps the tables in a local database, and
// services.RESTClient speaks the hosted backend's REST dialect.
package backend

import (
	"context"
)

// Row is a single table row keyed by column name.
type Row map[string]any

// Op is a filter operator.
type Op string

const (
	OpEq     Op = "eq"
	OpNeq    Op = "neq"
	OpGte    Op = "gte"
	OpLte    Op = "lte"
	OpIsNull Op = "is"
	OpIn     Op = "in"
)

// Filter is a single column predicate. Filters in a query are combined with AND.
type Filter struct {
	Column string
	Op     Op
	Value  any
}

func Eq(column string, value any) Filter  { return Filter{Column: column, Op: OpEq, Value: value} }
func Neq(column string, value any) Filter { return Filter{Column: column, Op: OpNeq, Value: value} }
func Gte(column string, value any) Filter { return Filter{Column: column, Op: OpGte, Value: value} }
func Lte(column string, value any) Filter { return Filter{Column: column, Op: OpLte, Value: value} }
func IsNull(column string) Filter         { return Filter{Column: column, Op: OpIsNull} }

// In matches rows whose column equals any of values.
func In(column string, values ...any) Filter {
	return Filter{Column: column, Op: OpIn, Value: values}
}

// EqOrNull matches column = value, or column IS NULL when value is nil or an empty string.
func EqOrNull(column string, value *string) Filter {
	if value == nil || *value == "" {
		return IsNull(column)
	}
	return Eq(column, *value)
}

// Order sorts query results by a column.
type Order struct {
	Column     string
	Descending bool
}

// Query describes a select.
type Query struct {
	Table   string
	Columns []string // empty selects every column
	Filters []Filter
	Order   []Order
	Limit   int // zero means no limit
}

// From starts a query against table.
func From(table string) *Query {
	return &Query{Table: table}
}

// Select sets the column list.
func (q *Query) Select(columns ...string) *Query {
	q.Columns = columns
	return q
}

// Where appends filters.
func (q *Query) Where(filters ...Filter) *Query {
	q.Filters = append(q.Filters, filters...)
	return q
}

// OrderBy appends an ascending or descending sort key.
func (q *Query) OrderBy(column string, descending bool) *Query {
	q.Order = append(q.Order, Order{Column: column, Descending: descending})
	return q
}

// Take sets the row limit.
func (q *Query) Take(n int) *Query {
	q.Limit = n
	return q
}

// Client is the generic table interface of the hosted backend.
//
// Every method returns a [*Error] for failures the backend itself reports, so callers can classify
// them with [IsUnknownColumn], [IsUnknownTable], [IsNonRetryable] and friends.
type Client interface {
	Select(ctx context.Context, q *Query) ([]Row, error)
	Insert(ctx context.Context, table string, row Row) (Row, error)
	Update(ctx context.Context, table string, values Row, filters ...Filter) (int, error)
	Upsert(ctx context.Context, table string, row Row, onConflict []string) (Row, error)
	Delete(ctx context.Context, table string, filters ...Filter) (int, error)
}
