// Package tasks replays practice saves parked in the offline queue, with real-time progress reporting.
//
// # Core Operations
//
// The [SyncEngine] interface defines one operation:
//
//  1. [SyncEngine.Flush] : Drain the offline queue
//     - Loads queued saves oldest first
//     - Groups them by merge bucket (user, date, instrument)
//     - Replays each bucket in order through the practice merge
//     - Deletes synced saves, records the error on failed ones
//
// # Progress Reporting
//
// Operations use non-blocking channels for progress updates.
//
// The [ProgressUpdate] struct contains phase, step counters, messages, and optional data.
// Updates use select with default to prevent blocking.
//
// # Implementation
//
// [PracticeSync] implements [SyncEngine] with dependencies on:
//   - [Saver] : the practice repository
//   - [Queue] : the offline queue (repositories.PendingRepository)
//   - [Marker] : optional settings store for the last-synced timestamp
//
// Buckets are distributed over a small worker pool and throttled with a shared [rate.Limiter].
package tasks
