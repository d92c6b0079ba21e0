package testing

import (
	"context"
	"slices"
	"sort"
	"sync"

	"github.com/desertthunder/cadenza/internal/backend"
)

// Call is one request seen by [RecordingClient].
type Call struct {
	Method  string
	Table   string
	Columns []string // selected columns, or the keys written
	Filters []backend.Filter
}

// Mentions reports whether the call names column in its column list or filters.
func (c Call) Mentions(column string) bool {
	if slices.Contains(c.Columns, column) {
		return true
	}
	for _, f := range c.Filters {
		if f.Column == column {
			return true
		}
	}
	return false
}

// RecordingClient wraps a [backend.Client], recording every call and failing calls on demand.
type RecordingClient struct {
	Inner backend.Client

	mu       sync.Mutex
	calls    []Call
	failures map[string][]error
	hook     func(Call) error
}

// NewRecordingClient wraps inner.
func NewRecordingClient(inner backend.Client) *RecordingClient {
	return &RecordingClient{Inner: inner, failures: make(map[string][]error)}
}

// FailNext makes the next len(errs) calls of method return errs in order. A nil entry lets that
// call through.
func (c *RecordingClient) FailNext(method string, errs ...error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failures[method] = append(c.failures[method], errs...)
}

// OnCall installs a hook that may fail any call by returning an error.
func (c *RecordingClient) OnCall(hook func(Call) error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.hook = hook
}

// Calls returns every call recorded so far.
func (c *RecordingClient) Calls() []Call {
	c.mu.Lock()
	defer c.mu.Unlock()
	return slices.Clone(c.calls)
}

// CallsTo returns the recorded calls of method.
func (c *RecordingClient) CallsTo(method string) []Call {
	var out []Call
	for _, call := range c.Calls() {
		if call.Method == method {
			out = append(out, call)
		}
	}
	return out
}

// Reset forgets recorded calls and pending failures.
func (c *RecordingClient) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = nil
	c.failures = make(map[string][]error)
	c.hook = nil
}

func (c *RecordingClient) record(call Call) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.calls = append(c.calls, call)
	if queue := c.failures[call.Method]; len(queue) > 0 {
		c.failures[call.Method] = queue[1:]
		if queue[0] != nil {
			return queue[0]
		}
	}
	if c.hook != nil {
		return c.hook(call)
	}
	return nil
}

func (c *RecordingClient) Select(ctx context.Context, q *backend.Query) ([]backend.Row, error) {
	if err := c.record(Call{Method: "select", Table: q.Table, Columns: slices.Clone(q.Columns), Filters: slices.Clone(q.Filters)}); err != nil {
		return nil, err
	}
	return c.Inner.Select(ctx, q)
}

func (c *RecordingClient) Insert(ctx context.Context, table string, row backend.Row) (backend.Row, error) {
	if err := c.record(Call{Method: "insert", Table: table, Columns: keys(row)}); err != nil {
		return nil, err
	}
	return c.Inner.Insert(ctx, table, row)
}

func (c *RecordingClient) Update(ctx context.Context, table string, values backend.Row, filters ...backend.Filter) (int, error) {
	if err := c.record(Call{Method: "update", Table: table, Columns: keys(values), Filters: slices.Clone(filters)}); err != nil {
		return 0, err
	}
	return c.Inner.Update(ctx, table, values, filters...)
}

func (c *RecordingClient) Upsert(ctx context.Context, table string, row backend.Row, onConflict []string) (backend.Row, error) {
	if err := c.record(Call{Method: "upsert", Table: table, Columns: keys(row)}); err != nil {
		return nil, err
	}
	return c.Inner.Upsert(ctx, table, row, onConflict)
}

func (c *RecordingClient) Delete(ctx context.Context, table string, filters ...backend.Filter) (int, error) {
	if err := c.record(Call{Method: "delete", Table: table, Filters: slices.Clone(filters)}); err != nil {
		return 0, err
	}
	return c.Inner.Delete(ctx, table, filters...)
}

func keys(row backend.Row) []string {
	out := make([]string, 0, len(row))
	for k := range row {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// MemoryStore is an in-memory key/value store.
type MemoryStore struct {
	mu     sync.Mutex
	values map[string]string
	Err    error // returned by every method when set
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{values: make(map[string]string)}
}

func (s *MemoryStore) Get(_ context.Context, key string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return "", false, s.Err
	}
	v, ok := s.values[key]
	return v, ok, nil
}

func (s *MemoryStore) Set(_ context.Context, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return s.Err
	}
	s.values[key] = value
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return s.Err
	}
	delete(s.values, key)
	return nil
}

// Keys lists the stored keys in order.
func (s *MemoryStore) Keys() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.values))
	for k := range s.values {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
