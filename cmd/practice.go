package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/desertthunder/cadenza/internal/audio"
	"github.com/desertthunder/cadenza/internal/formatter"
	"github.com/desertthunder/cadenza/internal/models"
	"github.com/desertthunder/cadenza/internal/services"
	"github.com/desertthunder/cadenza/internal/shared"
	"github.com/desertthunder/cadenza/internal/ui"
)

// PracticeSave adds minutes to the day's practice record for the user and instrument.
func (r *Runner) PracticeSave(ctx context.Context, cmd *cli.Command) error {
	d, err := r.open()
	if err != nil {
		return err
	}

	userID, err := r.userID(ctx, cmd, d)
	if err != nil {
		return err
	}

	req := services.SaveRequest{
		UserID:      userID,
		Minutes:     cmd.Int("minutes"),
		Date:        cmd.String("date"),
		Content:     cmd.String("content"),
		InputMethod: cmd.String("method"),
	}
	if v := cmd.String("instrument"); v != "" {
		req.InstrumentID = &v
	}
	if v := cmd.String("media-url"); v != "" {
		req.MediaURL = &v
	}

	return r.save(ctx, cmd, d, req)
}

// PracticeRecord holds the microphone and times a session until --for elapses or the command is
// interrupted, then saves the minutes as a recording.
func (r *Runner) PracticeRecord(ctx context.Context, cmd *cli.Command) error {
	manager, err := r.audioManager()
	if err != nil {
		return fmt.Errorf("failed to start recording: %w", err)
	}

	d, err := r.open()
	if err != nil {
		return err
	}

	userID, err := r.userID(ctx, cmd, d)
	if err != nil {
		return err
	}

	recorder := audio.NewRecorder(manager, audio.DefaultCaptureOptions(), nil)
	if err := recorder.Start(ctx); err != nil {
		return fmt.Errorf("failed to start recording: %w", err)
	}

	wait, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	if limit := cmd.Duration("for"); limit > 0 {
		var cancel context.CancelFunc
		wait, cancel = context.WithTimeout(wait, limit)
		defer cancel()
	}

	if !cmd.Bool("json") {
		r.writePlain("%s\n", ui.Styles.OK("recording, press ctrl+c to stop"))
	}
	<-wait.Done()

	minutes, err := recorder.Stop()
	if err != nil {
		return fmt.Errorf("failed to stop recording: %w", err)
	}

	req := services.SaveRequest{
		UserID:      userID,
		Minutes:     minutes,
		Date:        cmd.String("date"),
		Content:     cmd.String("content"),
		InputMethod: string(models.InputRecording),
	}
	if v := cmd.String("instrument"); v != "" {
		req.InstrumentID = &v
	}
	return r.save(context.WithoutCancel(ctx), cmd, d, req)
}

// save stores req and reports the merge.
func (r *Runner) save(ctx context.Context, cmd *cli.Command, d *deps, req services.SaveRequest) error {
	res := d.practice.Save(ctx, req)
	if cmd.Bool("json") {
		if err := r.writeJSON(res, cmd.Bool("pretty")); err != nil {
			return err
		}
		return res.Err()
	}

	if !res.Success {
		return fmt.Errorf("failed to save practice: %w", res.Err())
	}

	if res.Code == shared.CodeQueuedOffline {
		r.writePlain("%s\n", ui.Styles.Warn("backend unavailable, %d min queued for the next sync", req.Minutes))
		return r.writePlain("%s\n", ui.Styles.Help("%s", res.Warning))
	}

	rec := res.Data.Record
	r.writePlain("%s\n", ui.Styles.OK("%s on %s, %s total", formatter.FormatMinutes(req.Minutes), rec.PracticeDate,
		formatter.FormatMinutes(rec.DurationMinutes)))
	if res.Data.MergedCount > 1 {
		r.writePlain("%s\n", ui.Styles.Help("merged %d records into %s", res.Data.MergedCount, rec.ID))
	}
	if res.Warning != "" {
		r.writePlain("%s\n", ui.Styles.Warn("duplicate cleanup failed: %s", res.Warning))
	}
	return nil
}

// PracticeList prints the user's records in a date range.
func (r *Runner) PracticeList(ctx context.Context, cmd *cli.Command) error {
	d, err := r.open()
	if err != nil {
		return err
	}

	userID, err := r.userID(ctx, cmd, d)
	if err != nil {
		return err
	}

	res := d.practice.List(ctx, userID, cmd.String("from"), cmd.String("to"))
	if !res.Success {
		return fmt.Errorf("failed to list practice: %w", res.Err())
	}

	if cmd.Bool("json") {
		return r.writeJSON(res.Data, cmd.Bool("pretty"))
	}

	log := &formatter.PracticeLog{UserID: userID, From: cmd.String("from"), To: cmd.String("to"), Records: res.Data}
	r.writePlainHeader(fmt.Sprintf("Practice for %s (%s)", userID, log.Range()))

	if len(res.Data) == 0 {
		return r.writePlain("%s\n", ui.Styles.Help("no practice recorded"))
	}

	rows := [][]string{{"date", "time", "instrument", "method", "notes"}}
	for _, rec := range res.Data {
		instrument := rec.Instrument()
		if instrument == "" {
			instrument = "-"
		}
		notes, _, _ := strings.Cut(rec.Content, "\n")
		rows = append(rows, []string{rec.PracticeDate, formatter.FormatMinutes(rec.DurationMinutes), instrument,
			string(rec.InputMethod), notes})
	}

	r.writePlain("%s", ui.Styles.Table(rows))
	return r.writePlainln("%d sessions, %s total", len(res.Data), formatter.FormatMinutes(log.TotalMinutes()))
}

// PracticeExport writes the user's records to a file in the chosen format.
func (r *Runner) PracticeExport(ctx context.Context, cmd *cli.Command) error {
	d, err := r.open()
	if err != nil {
		return err
	}

	userID, err := r.userID(ctx, cmd, d)
	if err != nil {
		return err
	}

	res := d.practice.List(ctx, userID, cmd.String("from"), cmd.String("to"))
	if !res.Success {
		return fmt.Errorf("failed to list practice: %w", res.Err())
	}

	log := &formatter.PracticeLog{UserID: userID, From: cmd.String("from"), To: cmd.String("to"), Records: res.Data}
	format := cmd.String("format")

	files, err := formatter.WriteExport(log, format, cmd.String("output"))
	if err != nil {
		return fmt.Errorf("failed to export practice: %w", err)
	}

	r.logger.Info("practice exported", "format", format, "sessions", len(res.Data), "files", len(files))
	for _, f := range files {
		r.writePlain("%s\n", ui.Styles.OK("wrote %s", f))
	}
	return nil
}

// PracticeCalendar prints a month of per-day totals followed by the month's calendar goals.
func (r *Runner) PracticeCalendar(ctx context.Context, cmd *cli.Command) error {
	d, err := r.open()
	if err != nil {
		return err
	}

	userID, err := r.userID(ctx, cmd, d)
	if err != nil {
		return err
	}

	month := cmd.String("month")
	if month == "" {
		month = time.Now().Format("2006-01")
	}

	res := d.practice.Calendar(ctx, userID, month)
	if !res.Success {
		return fmt.Errorf("failed to load calendar: %w", res.Err())
	}

	goals := d.goals.CalendarGoals(ctx, userID, month)
	if goals.Success {
		res.Data.Goals = goals.Data
	} else {
		res.Warning = goals.Error
	}

	if cmd.Bool("json") {
		return r.writeJSON(res, cmd.Bool("pretty"))
	}

	grid, err := formatter.ExportMonthSummary(month, res.Data.Days)
	if err != nil {
		return err
	}

	r.writePlainHeader("Practice calendar " + month)
	r.writePlain("%s", grid)

	if res.Warning != "" {
		return r.writePlainln("%s", ui.Styles.Warn("goals unavailable: %s", res.Warning))
	}
	if len(res.Data.Goals) == 0 {
		return nil
	}

	r.writePlainln("%s", ui.Styles.Title("Goals due"))
	for _, g := range res.Data.Goals {
		due := "-"
		if g.TargetDate != nil {
			due = *g.TargetDate
		}
		mark := " "
		if g.Done() {
			mark = "✓"
		}
		r.writePlain("[%s] %s  %s (%d%%)\n", mark, due, g.Title, g.Progress)
	}
	return nil
}
