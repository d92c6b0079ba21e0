// Package repositories implements persistence for the practice tracker's entities.
//
// Two kinds of storage sit behind it. The hosted backend, reached through a backend.Client, holds
// practice sessions and goals. The local SQLite database holds device-local state: settings and
// the offline save queue.
//
// Key Implementations:
//   - [PracticeRepository] : practice sessions, merged to one canonical record per user, date and instrument
//   - [GoalRepository] : goals, degrading gracefully when optional columns are missing from the backend
//   - [SettingsRepository] : string key/value flags such as capability markers and sync timestamps
//   - [PendingRepository] : practice saves waiting for the backend to come back
package repositories
