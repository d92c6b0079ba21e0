package tasks

import (
	"fmt"
)

// ProgressUpdate represents a progress event during a long-running operation.
//
// Used to send real-time updates to the CLI or server layer for display.
type ProgressUpdate struct {
	Phase   Phase  // Operation phase
	Step    int    // Current step number within phase
	Total   int    // Total steps in this phase
	Message string // Human-readable message for display
	Data    any    // Optional phase-specific data
}

// Operation phase enumeration
type Phase int

const (
	LoadQueue Phase = iota
	ReplayPractice
	Complete
)

func (p Phase) String() string {
	switch p {
	case LoadQueue:
		return "load_queue"
	case ReplayPractice:
		return "replay_practice"
	case Complete:
		return "complete"
	default:
		return ""
	}
}

func loadQueueUpdate(step, total int) ProgressUpdate {
	return ProgressUpdate{
		Phase:   LoadQueue,
		Step:    step,
		Total:   total,
		Message: "Loading offline queue...",
	}
}

func queueLoadedUpdate(step, total, saves, groups int) ProgressUpdate {
	return ProgressUpdate{
		Phase:   LoadQueue,
		Step:    step,
		Total:   total,
		Message: fmt.Sprintf("Found %d queued saves in %d buckets", saves, groups),
	}
}

func replayUpdate(step, total int, res EntryResult) ProgressUpdate {
	p := res.Pending
	label := fmt.Sprintf("%s %s (%d min)", p.Key(), p.InputMethod, p.Minutes)

	var msg string
	switch {
	case res.Synced && res.Warning != nil:
		msg = fmt.Sprintf("[%d/%d] ✓ %s (cleanup pending: %v)", step, total, label, res.Warning)
	case res.Synced:
		msg = fmt.Sprintf("[%d/%d] ✓ %s", step, total, label)
	case res.Dropped:
		msg = fmt.Sprintf("[%d/%d] ✗ %s dropped: %v", step, total, label, res.Error)
	case res.Skipped:
		msg = fmt.Sprintf("[%d/%d] - %s deferred", step, total, label)
	default:
		msg = fmt.Sprintf("[%d/%d] ✗ %s: %v", step, total, label, res.Error)
	}

	return ProgressUpdate{
		Phase:   ReplayPractice,
		Step:    step,
		Total:   total,
		Message: msg,
		Data:    res,
	}
}

func completeUpdate(res *FlushResult) ProgressUpdate {
	return ProgressUpdate{
		Phase:   Complete,
		Step:    1,
		Total:   1,
		Message: fmt.Sprintf("Synced %d of %d queued saves (%d remaining)", res.Synced, res.Total, res.Remaining()),
		Data:    res,
	}
}
