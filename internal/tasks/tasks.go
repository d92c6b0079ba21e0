// package tasks implements background replay of practice saves that failed to reach the backend.
//
// The core abstraction is SyncEngine, which drains the offline queue into the practice table.
// Operations emit progress updates via channels for non-blocking status reporting to CLI/server layers.
package tasks

import (
	"context"
	"time"

	"github.com/desertthunder/cadenza/internal/models"
	"github.com/desertthunder/cadenza/internal/repositories"
)

// LastSyncedKey is the settings key holding the time of the last complete flush.
const LastSyncedKey = "sync.practice.last_synced_at"

// SyncEngine defines operations for replaying queued practice saves.
type SyncEngine interface {
	// Flush replays every queued save, merging each into its day's record.
	Flush(ctx context.Context, progress chan<- ProgressUpdate) (*FlushResult, error)
}

// Saver persists one practice save with merge semantics (repositories.PracticeRepository).
type Saver interface {
	SaveWithIntegration(ctx context.Context, userID string, minutes int, opts repositories.SaveOptions) (*repositories.IntegrationResult, error)
}

// Queue is the offline queue (repositories.PendingRepository).
type Queue interface {
	List(ctx context.Context) ([]*models.PendingPractice, error)
	Delete(ctx context.Context, id string) error
	RecordFailure(ctx context.Context, id string, cause error) error
}

// Marker records sync timestamps (repositories.SettingsRepository).
type Marker interface {
	SetTime(ctx context.Context, key string, t time.Time) error
}

// EntryResult is the outcome of replaying a single queued save.
type EntryResult struct {
	Pending    *models.PendingPractice
	Record     *models.PracticeRecord // merged record, nil unless Synced
	Synced     bool
	Dropped    bool // the save can never succeed and was removed from the queue
	Skipped    bool // an earlier save in the same bucket failed, so this one was not attempted
	Warning    error
	Error      error
	RetryCount int
}

// FlushResult summarises a flush.
type FlushResult struct {
	Total      int
	Groups     int
	Synced     int
	Failed     int
	Dropped    int
	Skipped    int
	RetryCount int // duplicate-cleanup retries across every save
	Warnings   int
	Entries    []EntryResult
	SyncedAt   time.Time // zero unless the queue was fully drained
}

// Remaining reports how many saves are still queued after the flush.
func (r *FlushResult) Remaining() int {
	return r.Failed + r.Skipped
}
