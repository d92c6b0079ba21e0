// submodule cmd contains command definitions
package main

import (
	"github.com/urfave/cli/v3"
)

func userFlag() cli.Flag {
	return &cli.StringFlag{
		Name:    "user",
		Aliases: []string{"u"},
		Usage:   "User to act as (defaults to the session user or auth.user_id)",
	}
}

func outputFlags() []cli.Flag {
	return []cli.Flag{
		&cli.BoolFlag{
			Name:  "json",
			Usage: "Output raw JSON",
		},
		&cli.BoolFlag{
			Name:  "pretty",
			Usage: "Pretty-print JSON output",
		},
	}
}

func withOutput(flags ...cli.Flag) []cli.Flag {
	return append(flags, outputFlags()...)
}

func setupCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:   "setup",
		Usage:  "Initialize database and run migrations",
		Action: r.SetupDatabase,
		Commands: []*cli.Command{
			{
				Name:   "status",
				Usage:  "Show applied and pending migrations",
				Action: r.MigrationStatus,
			},
			{
				Name:   "rollback",
				Usage:  "Roll back the most recent migration",
				Action: r.Rollback,
			},
		},
	}
}

// practiceCommand handles practice session operations
func practiceCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:    "practice",
		Aliases: []string{"p"},
		Usage:   "Record and review practice sessions",
		Commands: []*cli.Command{
			{
				Name:  "save",
				Usage: "Add minutes of practice to a day's record",
				Flags: withOutput(
					userFlag(),
					&cli.IntFlag{
						Name:     "minutes",
						Aliases:  []string{"m"},
						Usage:    "Minutes practiced",
						Required: true,
					},
					&cli.StringFlag{
						Name:    "date",
						Aliases: []string{"d"},
						Usage:   "Practice date (YYYY-MM-DD), defaults to today",
					},
					&cli.StringFlag{
						Name:    "instrument",
						Aliases: []string{"i"},
						Usage:   "Instrument id",
					},
					&cli.StringFlag{
						Name:  "content",
						Usage: "Notes on what was practiced",
					},
					&cli.StringFlag{
						Name:  "method",
						Usage: "Input method: manual, timer, recording or video",
						Value: "manual",
					},
					&cli.StringFlag{
						Name:  "media-url",
						Usage: "Link to a recording of the session",
					},
				),
				Action: r.PracticeSave,
			},
			{
				Name:  "record",
				Usage: "Time a session on the microphone and save it as a recording",
				Flags: withOutput(
					userFlag(),
					&cli.DurationFlag{
						Name:  "for",
						Usage: "Stop after this long instead of waiting for ctrl+c",
					},
					&cli.StringFlag{
						Name:    "date",
						Aliases: []string{"d"},
						Usage:   "Practice date (YYYY-MM-DD), defaults to today",
					},
					&cli.StringFlag{
						Name:    "instrument",
						Aliases: []string{"i"},
						Usage:   "Instrument id",
					},
					&cli.StringFlag{
						Name:  "content",
						Usage: "Notes on what was practiced",
					},
				),
				Action: r.PracticeRecord,
			},
			{
				Name:  "list",
				Usage: "List practice records",
				Flags: withOutput(
					userFlag(),
					&cli.StringFlag{
						Name:  "from",
						Usage: "First date to include (YYYY-MM-DD)",
					},
					&cli.StringFlag{
						Name:  "to",
						Usage: "Last date to include (YYYY-MM-DD)",
					},
				),
				Action: r.PracticeList,
			},
			{
				Name:  "export",
				Usage: "Export practice records to a file",
				Flags: []cli.Flag{
					userFlag(),
					&cli.StringFlag{
						Name:  "from",
						Usage: "First date to include (YYYY-MM-DD)",
					},
					&cli.StringFlag{
						Name:  "to",
						Usage: "Last date to include (YYYY-MM-DD)",
					},
					&cli.StringFlag{
						Name:    "format",
						Aliases: []string{"f"},
						Usage:   "Export format: json, yaml, csv, markdown or txt",
						Value:   "markdown",
					},
					&cli.StringFlag{
						Name:    "output",
						Aliases: []string{"o"},
						Usage:   "Output file path (CSV uses it as the base name)",
					},
				},
				Action: r.PracticeExport,
			},
			{
				Name:  "calendar",
				Usage: "Show per-day totals and calendar goals for a month",
				Flags: withOutput(
					userFlag(),
					&cli.StringFlag{
						Name:  "month",
						Usage: "Month to show (YYYY-MM), defaults to the current month",
					},
				),
				Action: r.PracticeCalendar,
			},
		},
	}
}

// goalsCommand handles goal operations and the optional column capabilities
func goalsCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:    "goals",
		Aliases: []string{"g"},
		Usage:   "Manage practice goals",
		Commands: []*cli.Command{
			{
				Name:  "list",
				Usage: "List goals",
				Flags: withOutput(
					userFlag(),
					&cli.BoolFlag{
						Name:    "all",
						Aliases: []string{"a"},
						Usage:   "Include completed goals",
					},
					&cli.BoolFlag{
						Name:  "calendar",
						Usage: "Only goals shown on the calendar",
					},
					&cli.StringFlag{
						Name:    "instrument",
						Aliases: []string{"i"},
						Usage:   "Only goals for this instrument",
					},
				),
				Action: r.GoalsList,
			},
			{
				Name:  "add",
				Usage: "Create a goal",
				Flags: withOutput(
					userFlag(),
					&cli.StringFlag{
						Name:     "title",
						Aliases:  []string{"t"},
						Usage:    "Goal title",
						Required: true,
					},
					&cli.StringFlag{
						Name:  "description",
						Usage: "Goal description",
					},
					&cli.StringFlag{
						Name:  "target-date",
						Usage: "Target date (YYYY-MM-DD)",
					},
					&cli.IntFlag{
						Name:  "progress",
						Usage: "Initial progress (0-100)",
					},
					&cli.BoolFlag{
						Name:  "calendar",
						Usage: "Show the goal on the practice calendar",
					},
					&cli.StringFlag{
						Name:    "instrument",
						Aliases: []string{"i"},
						Usage:   "Instrument id",
					},
				),
				Action: r.GoalsAdd,
			},
			{
				Name:      "complete",
				Usage:     "Mark a goal completed",
				ArgsUsage: "<goal-id>",
				Flags: withOutput(
					&cli.BoolFlag{
						Name:  "reopen",
						Usage: "Mark the goal not completed instead",
					},
				),
				Action: r.GoalsComplete,
			},
			{
				Name:   "probe",
				Usage:  "Show which optional goal columns the backend supports",
				Flags:  outputFlags(),
				Action: r.GoalsProbe,
			},
			{
				Name:      "reset",
				Usage:     "Forget a column's capability so it is probed again",
				ArgsUsage: "<column|all>",
				Action:    r.GoalsReset,
			},
		},
	}
}

// syncCommand replays the offline practice queue
func syncCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "sync",
		Usage: "Replay practice saves queued while the backend was unavailable",
		Flags: withOutput(
			&cli.IntFlag{
				Name:    "workers",
				Aliases: []string{"w"},
				Usage:   "Concurrent replay workers (defaults to sync.workers)",
			},
			&cli.FloatFlag{
				Name:  "rate-limit",
				Usage: "Replays per second, 0 for unlimited (defaults to sync.rate_limit)",
			},
			&cli.BoolFlag{
				Name:  "status",
				Usage: "Only report the queue size and last sync time",
			},
		),
		Action: r.Sync,
	}
}

// serveCommand runs the HTTP API
func serveCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Serve the practice and goal API over HTTP",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "host",
				Usage: "Address to bind (defaults to server.host)",
			},
			&cli.IntFlag{
				Name:    "port",
				Aliases: []string{"p"},
				Usage:   "Port to listen on (defaults to server.port)",
			},
		},
		Action: r.Serve,
	}
}
