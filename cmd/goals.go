package main

import (
	"context"
	"fmt"
	"maps"
	"slices"

	"github.com/urfave/cli/v3"

	"github.com/desertthunder/cadenza/internal/models"
	"github.com/desertthunder/cadenza/internal/repositories"
	"github.com/desertthunder/cadenza/internal/shared"
	"github.com/desertthunder/cadenza/internal/ui"
)

// GoalsList prints the user's goals.
func (r *Runner) GoalsList(ctx context.Context, cmd *cli.Command) error {
	d, err := r.open()
	if err != nil {
		return err
	}

	userID, err := r.userID(ctx, cmd, d)
	if err != nil {
		return err
	}

	res := d.goals.List(ctx, userID, models.GoalFilter{
		InstrumentID:     cmd.String("instrument"),
		IncludeCompleted: cmd.Bool("all"),
		CalendarOnly:     cmd.Bool("calendar"),
	})
	if !res.Success {
		return fmt.Errorf("failed to list goals: %w", res.Err())
	}

	if cmd.Bool("json") {
		return r.writeJSON(res, cmd.Bool("pretty"))
	}

	r.writePlainHeader("Goals for " + userID)
	if res.Code == shared.CodeFeatureUnavailable {
		return r.writePlain("%s\n", ui.Styles.Warn("this backend has no goals table"))
	}
	if len(res.Data) == 0 {
		return r.writePlain("%s\n", ui.Styles.Help("no goals"))
	}

	rows := [][]string{{"id", "title", "target", "progress", "done"}}
	for _, g := range res.Data {
		target := "-"
		if g.TargetDate != nil {
			target = *g.TargetDate
		}
		done := ""
		if g.Done() {
			done = "✓"
		}
		rows = append(rows, []string{g.ID, g.Title, target, fmt.Sprintf("%d%%", g.Progress), done})
	}
	return r.writePlain("%s", ui.Styles.Table(rows))
}

// GoalsAdd creates a goal. Optional columns the backend lacks are dropped by the repository.
func (r *Runner) GoalsAdd(ctx context.Context, cmd *cli.Command) error {
	d, err := r.open()
	if err != nil {
		return err
	}

	userID, err := r.userID(ctx, cmd, d)
	if err != nil {
		return err
	}

	g := &models.Goal{
		UserID:         userID,
		Title:          cmd.String("title"),
		Description:    cmd.String("description"),
		Progress:       cmd.Int("progress"),
		ShowOnCalendar: cmd.Bool("calendar"),
	}
	if v := cmd.String("target-date"); v != "" {
		g.TargetDate = &v
	}
	if v := cmd.String("instrument"); v != "" {
		g.InstrumentID = &v
	}

	res := d.goals.Create(ctx, g)
	if !res.Success {
		return fmt.Errorf("failed to create goal: %w", res.Err())
	}

	if cmd.Bool("json") {
		return r.writeJSON(res, cmd.Bool("pretty"))
	}
	return r.writePlain("%s\n", ui.Styles.OK("created goal %s (%s)", res.Data.Title, res.Data.ID))
}

// GoalsComplete marks a goal completed, or reopens it with --reopen.
func (r *Runner) GoalsComplete(ctx context.Context, cmd *cli.Command) error {
	id := cmd.Args().First()
	if id == "" {
		return fmt.Errorf("%w: goal id", shared.ErrMissingArgument)
	}

	d, err := r.open()
	if err != nil {
		return err
	}

	done := !cmd.Bool("reopen")
	res := d.goals.Complete(ctx, id, done)
	if !res.Success {
		return fmt.Errorf("failed to update goal: %w", res.Err())
	}

	if cmd.Bool("json") {
		return r.writeJSON(res, cmd.Bool("pretty"))
	}
	if done {
		return r.writePlain("%s\n", ui.Styles.OK("completed %s", res.Data.Title))
	}
	return r.writePlain("%s\n", ui.Styles.OK("reopened %s", res.Data.Title))
}

// GoalsProbe reports, and caches, which optional goal columns the backend has.
func (r *Runner) GoalsProbe(ctx context.Context, cmd *cli.Command) error {
	d, err := r.open()
	if err != nil {
		return err
	}

	res := d.goals.Capabilities(ctx)
	if cmd.Bool("json") {
		return r.writeJSON(res.Data, cmd.Bool("pretty"))
	}

	rows := [][]string{{"column", "state"}}
	for _, column := range slices.Sorted(maps.Keys(res.Data)) {
		rows = append(rows, []string{column, ui.Styles.State(res.Data[column])})
	}

	r.writePlainHeader("Goal column capabilities")
	return r.writePlain("%s", ui.Styles.Table(rows))
}

// GoalsReset clears the cached capability of one column, or of every optional column with "all".
func (r *Runner) GoalsReset(ctx context.Context, cmd *cli.Command) error {
	column := cmd.Args().First()
	if column == "" {
		return fmt.Errorf("%w: column name or \"all\"", shared.ErrMissingArgument)
	}

	d, err := r.open()
	if err != nil {
		return err
	}

	columns := []string{column}
	if column == "all" {
		columns = repositories.OptionalGoalColumns
	} else if !slices.Contains(repositories.OptionalGoalColumns, column) {
		return fmt.Errorf("%w: %q is not an optional goal column", shared.ErrInvalidArgument, column)
	}

	for _, c := range columns {
		res := d.goals.ResetCapability(ctx, c)
		if !res.Success {
			return fmt.Errorf("failed to reset %s: %w", c, res.Err())
		}
		r.writePlain("%s\n", ui.Styles.OK("%s will be probed again", c))
	}
	return nil
}
