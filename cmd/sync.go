package main

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/desertthunder/cadenza/internal/tasks"
	"github.com/desertthunder/cadenza/internal/ui"
)

// syncStatus is what `sync --status` reports.
type syncStatus struct {
	Queued       int    `json:"queued"`
	LastSyncedAt string `json:"last_synced_at,omitempty"`
}

// Sync replays the offline practice queue against the backend.
func (r *Runner) Sync(ctx context.Context, cmd *cli.Command) error {
	d, err := r.open()
	if err != nil {
		return err
	}

	if cmd.Bool("status") {
		return r.syncStatus(ctx, cmd, d)
	}

	opts := tasks.SyncOpts{Workers: r.config.Sync.Workers, RateLimit: r.config.Sync.RateLimit}
	if cmd.IsSet("workers") {
		opts.Workers = cmd.Int("workers")
	}
	if cmd.IsSet("rate-limit") {
		opts.RateLimit = cmd.Float("rate-limit")
	}

	engine := tasks.NewPracticeSync(d.repo, d.pending, d.settings, opts, r.logger)
	jsonOut := cmd.Bool("json")

	progress := make(chan tasks.ProgressUpdate, 16)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for update := range progress {
			if jsonOut {
				continue
			}
			r.printProgress(update)
		}
	}()

	res, err := engine.Flush(ctx, progress)
	close(progress)
	wg.Wait()

	if err != nil {
		return fmt.Errorf("failed to sync practice queue: %w", err)
	}

	if jsonOut {
		return r.writeJSON(summarize(res), cmd.Bool("pretty"))
	}

	if res.Total == 0 {
		return r.writePlain("%s\n", ui.Styles.Help("nothing queued"))
	}

	r.writePlainln("%s", ui.Styles.Title("Sync summary"))
	r.writePlain("%s", ui.Styles.Table([][]string{
		{"synced", "failed", "deferred", "dropped", "retries"},
		{fmt.Sprint(res.Synced), fmt.Sprint(res.Failed), fmt.Sprint(res.Skipped), fmt.Sprint(res.Dropped), fmt.Sprint(res.RetryCount)},
	}))
	if res.Warnings > 0 {
		r.writePlain("%s\n", ui.Styles.Warn("%d merged records still have duplicates to clean up", res.Warnings))
	}

	if res.Remaining() > 0 {
		return r.writePlain("%s\n", ui.Styles.Warn("%d saves remain queued, run sync again later", res.Remaining()))
	}
	return r.writePlain("%s\n", ui.Styles.OK("queue drained"))
}

func (r *Runner) syncStatus(ctx context.Context, cmd *cli.Command, d *deps) error {
	count, err := d.pending.Count(ctx)
	if err != nil {
		return err
	}

	status := syncStatus{Queued: count}
	last, err := d.settings.GetTime(ctx, tasks.LastSyncedKey)
	if err != nil {
		return err
	}
	if !last.IsZero() {
		status.LastSyncedAt = last.Local().Format("2006-01-02 15:04")
	}

	if cmd.Bool("json") {
		return r.writeJSON(status, cmd.Bool("pretty"))
	}

	never := status.LastSyncedAt
	if never == "" {
		never = "never"
	}
	return r.writePlain("%d saves queued, last synced %s\n", status.Queued, never)
}

func (r *Runner) printProgress(update tasks.ProgressUpdate) {
	if update.Phase != tasks.ReplayPractice {
		r.logger.Info(update.Message, "phase", update.Phase)
		return
	}

	res, _ := update.Data.(tasks.EntryResult)
	switch {
	case res.Synced:
		r.writePlain("%s\n", ui.Styles.State("synced")+" "+update.Message)
	case res.Skipped:
		r.writePlain("%s\n", ui.Styles.Help("%s", update.Message))
	default:
		r.writePlain("%s\n", ui.Styles.Err("%s", update.Message))
	}
}

// flushSummary is the JSON form of a [tasks.FlushResult].
type flushSummary struct {
	Total      int      `json:"total"`
	Synced     int      `json:"synced"`
	Failed     int      `json:"failed"`
	Deferred   int      `json:"deferred"`
	Dropped    int      `json:"dropped"`
	RetryCount int      `json:"retry_count"`
	Remaining  int      `json:"remaining"`
	Errors     []string `json:"errors,omitempty"`
	SyncedAt   string   `json:"synced_at,omitempty"`
}

func summarize(res *tasks.FlushResult) flushSummary {
	out := flushSummary{
		Total:      res.Total,
		Synced:     res.Synced,
		Failed:     res.Failed,
		Deferred:   res.Skipped,
		Dropped:    res.Dropped,
		RetryCount: res.RetryCount,
		Remaining:  res.Remaining(),
	}
	for _, e := range res.Entries {
		if e.Error != nil {
			out.Errors = append(out.Errors, fmt.Sprintf("%s: %v", e.Pending.ID, e.Error))
		}
	}
	if !res.SyncedAt.IsZero() {
		out.SyncedAt = res.SyncedAt.Format(time.RFC3339)
	}
	return out
}
