// Package capability detects which optional columns the hosted backend's schema supports.
//
// Older deployments of the backend lack some columns. A [Prober] probes each column lazily,
// remembers the answer for the life of the process, and persists negative answers so later runs
// skip the network entirely. Probe failures that are not schema errors never disable a column.
package capability

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/charmbracelet/log"
	"golang.org/x/sync/singleflight"

	"github.com/desertthunder/cadenza/internal/backend"
	"github.com/desertthunder/cadenza/internal/shared"
)

// Store persists string flags across runs.
type Store interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, key string) error
}

// MarkerKey is the persisted flag recording that column is missing from table.
func MarkerKey(table, column string) string {
	return fmt.Sprintf("capability.%s.%s.disabled", table, column)
}

// Prober tracks optional column support for one table.
type Prober struct {
	client backend.Client
	store  Store
	table  string
	logger *log.Logger

	mu     sync.Mutex
	states map[string]State
	group  singleflight.Group
}

// NewProber creates a prober for table. A nil store keeps results in memory only.
func NewProber(client backend.Client, store Store, table string, logger *log.Logger) *Prober {
	return &Prober{
		client: client,
		store:  store,
		table:  table,
		logger: shared.WithLogger(logger, "component", "capability", "table", table),
		states: make(map[string]State),
	}
}

// Table returns the table this prober covers.
func (p *Prober) Table() string { return p.table }

// Check reports whether column can be used, probing the backend at most once per column.
//
// Network or permission failures resolve optimistically to true and leave the column Unknown,
// so the next call probes again.
func (p *Prober) Check(ctx context.Context, column string) bool {
	if s := p.State(column); s.Resolved() {
		return s == Supported
	}

	if p.markerSet(ctx, column) {
		p.set(column, Unsupported)
		p.logger.Debug("column disabled by persisted marker", "column", column)
		return false
	}

	v, _, _ := p.group.Do(column, func() (any, error) {
		if s := p.State(column); s.Resolved() {
			return s == Supported, nil
		}
		return p.probe(ctx, column), nil
	})
	return v.(bool)
}

func (p *Prober) probe(ctx context.Context, column string) bool {
	_, err := p.client.Select(ctx, backend.From(p.table).Select(column).Take(1))
	switch {
	case err == nil:
		p.set(column, Supported)
		p.clearMarker(ctx, column)
		p.logger.Debug("column supported", "column", column)
		return true
	case backend.IsUnknownColumn(err):
		p.set(column, Unsupported)
		p.persistMarker(ctx, column)
		p.logger.Info("column unsupported by backend schema", "column", column)
		return false
	default:
		p.logger.Warn("capability probe failed, assuming supported", "column", column, "error", err)
		return true
	}
}

// MarkUnsupported latches column as unsupported after a write was rejected for it.
func (p *Prober) MarkUnsupported(ctx context.Context, column string) {
	p.set(column, Unsupported)
	p.persistMarker(ctx, column)
	p.logger.Info("column downgraded after rejected request", "column", column)
}

// Reset forgets everything known about column, including its persisted marker.
func (p *Prober) Reset(ctx context.Context, column string) error {
	p.mu.Lock()
	delete(p.states, column)
	p.mu.Unlock()

	if p.store == nil {
		return nil
	}
	if err := p.store.Delete(ctx, MarkerKey(p.table, column)); err != nil {
		return fmt.Errorf("failed to clear capability marker: %w", err)
	}
	return nil
}

// Usable reports whether column may appear in a request. Unknown columns are usable.
func (p *Prober) Usable(column string) bool {
	return p.State(column) != Unsupported
}

// State returns the in-memory state of column without probing.
func (p *Prober) State(column string) State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.states[column]
}

// Snapshot copies the in-memory state of every column seen so far.
func (p *Prober) Snapshot() map[string]State {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make(map[string]State, len(p.states))
	for k, v := range p.states {
		out[k] = v
	}
	return out
}

// Columns lists the columns seen so far in name order.
func (p *Prober) Columns() []string {
	snap := p.Snapshot()
	cols := make([]string, 0, len(snap))
	for c := range snap {
		cols = append(cols, c)
	}
	sort.Strings(cols)
	return cols
}

func (p *Prober) set(column string, next State) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.states[column] = transition(p.states[column], next)
}

func (p *Prober) markerSet(ctx context.Context, column string) bool {
	if p.store == nil {
		return false
	}
	_, ok, err := p.store.Get(ctx, MarkerKey(p.table, column))
	if err != nil {
		p.logger.Warn("failed to read capability marker", "column", column, "error", err)
		return false
	}
	return ok
}

func (p *Prober) persistMarker(ctx context.Context, column string) {
	if p.store == nil {
		return
	}
	if err := p.store.Set(ctx, MarkerKey(p.table, column), "true"); err != nil {
		p.logger.Warn("failed to persist capability marker", "column", column, "error", err)
	}
}

func (p *Prober) clearMarker(ctx context.Context, column string) {
	if p.store == nil {
		return
	}
	if err := p.store.Delete(ctx, MarkerKey(p.table, column)); err != nil {
		p.logger.Warn("failed to clear capability marker", "column", column, "error", err)
	}
}
