package tasks

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"golang.org/x/time/rate"

	"github.com/desertthunder/cadenza/internal/models"
	"github.com/desertthunder/cadenza/internal/repositories"
	"github.com/desertthunder/cadenza/internal/shared"
)

const (
	defaultWorkers = 4
	maxWorkers     = 10
)

// SyncOpts contains configuration for queue replay.
type SyncOpts struct {
	Workers   int     // Concurrent buckets (default: 4, max: 10)
	RateLimit float64 // Saves per second across all workers; zero disables throttling
}

// PracticeSync implements [SyncEngine] over the practice repository and the offline queue.
type PracticeSync struct {
	saver  Saver
	queue  Queue
	marker Marker
	opts   SyncOpts
	logger *log.Logger
	now    func() time.Time
}

// NewPracticeSync creates a [PracticeSync]. marker may be nil.
func NewPracticeSync(saver Saver, queue Queue, marker Marker, opts SyncOpts, logger *log.Logger) *PracticeSync {
	if opts.Workers <= 0 {
		opts.Workers = defaultWorkers
	}
	if opts.Workers > maxWorkers {
		opts.Workers = maxWorkers
	}
	return &PracticeSync{
		saver:  saver,
		queue:  queue,
		marker: marker,
		opts:   opts,
		logger: shared.WithLogger(logger, "component", "sync"),
		now:    time.Now,
	}
}

// SetClock replaces the clock used for the last-synced marker.
func (e *PracticeSync) SetClock(now func() time.Time) { e.now = now }

// sendProgress sends a progress update through the channel without blocking.
func (e *PracticeSync) sendProgress(progress chan<- ProgressUpdate, update ProgressUpdate) {
	if progress == nil {
		return
	}
	select {
	case progress <- update:
	default:
	}
}

// Flush replays the offline queue.
//
// Saves are grouped by merge bucket. Buckets are replayed concurrently, but the saves inside a
// bucket run one at a time, oldest first, since they all fold into the same record. The first
// failure in a bucket leaves the rest of that bucket queued for the next flush.
func (e *PracticeSync) Flush(ctx context.Context, progress chan<- ProgressUpdate) (*FlushResult, error) {
	if e.saver == nil || e.queue == nil {
		return nil, fmt.Errorf("%w: sync engine not initialized", shared.ErrInvalidInput)
	}

	e.sendProgress(progress, loadQueueUpdate(0, 1))

	pending, err := e.queue.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load offline queue: %w", err)
	}

	groups := groupByKey(pending)
	result := &FlushResult{Total: len(pending), Groups: len(groups), Entries: make([]EntryResult, 0, len(pending))}
	e.sendProgress(progress, queueLoadedUpdate(1, 1, len(pending), len(groups)))

	limit := rate.Inf
	if e.opts.RateLimit > 0 {
		limit = rate.Limit(e.opts.RateLimit)
	}
	limiter := rate.NewLimiter(limit, 1)

	jobs := make(chan []*models.PendingPractice, len(groups))
	results := make(chan EntryResult, len(pending))

	var wg sync.WaitGroup
	for i := 0; i < e.opts.Workers; i++ {
		wg.Add(1)
		go e.replayWorker(ctx, &wg, limiter, jobs, results)
	}

	for _, g := range groups {
		jobs <- g
	}
	close(jobs)

	go func() {
		wg.Wait()
		close(results)
	}()

	completed := 0
	for res := range results {
		completed++
		result.Entries = append(result.Entries, res)

		switch {
		case res.Synced:
			result.Synced++
			result.RetryCount += res.RetryCount
			if res.Warning != nil {
				result.Warnings++
			}
		case res.Dropped:
			result.Dropped++
		case res.Skipped:
			result.Skipped++
		default:
			result.Failed++
		}
		e.sendProgress(progress, replayUpdate(completed, len(pending), res))
	}

	if err := ctx.Err(); err != nil {
		return result, fmt.Errorf("sync interrupted: %w", err)
	}

	if result.Remaining() == 0 {
		result.SyncedAt = e.now()
		if e.marker != nil {
			if err := e.marker.SetTime(ctx, LastSyncedKey, result.SyncedAt); err != nil {
				e.logger.Warn("failed to record sync time", "error", err)
			}
		}
	}

	e.logger.Info("offline queue flushed",
		"total", result.Total, "synced", result.Synced, "failed", result.Failed,
		"dropped", result.Dropped, "skipped", result.Skipped)
	e.sendProgress(progress, completeUpdate(result))
	return result, nil
}

// replayWorker replays buckets from the jobs channel.
func (e *PracticeSync) replayWorker(
	ctx context.Context,
	wg *sync.WaitGroup,
	limiter *rate.Limiter,
	jobs <-chan []*models.PendingPractice,
	results chan<- EntryResult,
) {
	defer wg.Done()

	for group := range jobs {
		e.replayGroup(ctx, limiter, group, results)
	}
}

func (e *PracticeSync) replayGroup(ctx context.Context, limiter *rate.Limiter, group []*models.PendingPractice, results chan<- EntryResult) {
	for i, p := range group {
		if err := limiter.Wait(ctx); err != nil {
			for _, rest := range group[i:] {
				results <- EntryResult{Pending: rest, Skipped: true, Error: err}
			}
			return
		}

		res := e.replayOne(ctx, p)
		results <- res

		if !res.Synced && !res.Dropped {
			for _, rest := range group[i+1:] {
				results <- EntryResult{Pending: rest, Skipped: true}
			}
			return
		}
	}
}

func (e *PracticeSync) replayOne(ctx context.Context, p *models.PendingPractice) EntryResult {
	res := EntryResult{Pending: p}

	opts := repositories.SaveOptions{
		InstrumentID: p.InstrumentID,
		Content:      p.Content,
		InputMethod:  p.InputMethod,
		PracticeDate: p.PracticeDate,
		MediaURL:     p.MediaURL,
	}

	saved, err := e.saver.SaveWithIntegration(ctx, p.UserID, p.Minutes, opts)
	if err != nil {
		res.Error = err
		if errors.Is(err, shared.ErrInvalidInput) {
			e.logger.Warn("dropping queued save that can never succeed", "pending_id", p.ID, "error", err)
			if derr := e.queue.Delete(ctx, p.ID); derr != nil {
				e.logger.Error("failed to drop queued save", "pending_id", p.ID, "error", derr)
			}
			res.Dropped = true
			return res
		}

		if ferr := e.queue.RecordFailure(ctx, p.ID, err); ferr != nil {
			e.logger.Error("failed to record sync failure", "pending_id", p.ID, "error", ferr)
		}
		return res
	}

	res.Synced = true
	res.Record = saved.Record
	res.Warning = saved.Warning
	res.RetryCount = saved.RetryCount

	if err := e.queue.Delete(ctx, p.ID); err != nil {
		e.logger.Error("synced save could not be removed from the queue, it will be merged again", "pending_id", p.ID, "error", err)
	}
	return res
}

// groupByKey buckets pending saves by merge key, keeping queue order within and across buckets.
func groupByKey(pending []*models.PendingPractice) [][]*models.PendingPractice {
	index := make(map[models.MergeKey]int)
	var groups [][]*models.PendingPractice
	for _, p := range pending {
		k := p.Key()
		i, ok := index[k]
		if !ok {
			i = len(groups)
			index[k] = i
			groups = append(groups, nil)
		}
		groups[i] = append(groups[i], p)
	}
	return groups
}
