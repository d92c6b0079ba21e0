package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"

	"github.com/charmbracelet/log"
	"github.com/urfave/cli/v3"

	"github.com/desertthunder/cadenza/internal/audio"
	"github.com/desertthunder/cadenza/internal/backend"
	"github.com/desertthunder/cadenza/internal/capability"
	"github.com/desertthunder/cadenza/internal/repositories"
	"github.com/desertthunder/cadenza/internal/retry"
	"github.com/desertthunder/cadenza/internal/services"
	"github.com/desertthunder/cadenza/internal/shared"
	"github.com/desertthunder/cadenza/internal/ui"
)

// Runner holds all dependencies for CLI commands and provides methods for each command action.
//
// Storage and services are opened lazily on first use so that commands such as setup can run
// before a database exists.
type Runner struct {
	config     *shared.Config
	configPath string
	httpClient *http.Client
	logger     *log.Logger
	output     io.Writer
	platform   audio.Platform
	sound      *audio.Manager
	deps       *deps
}

// RunnerOpts contains configuration options for creating a Runner.
type RunnerOpts struct {
	Config     *shared.Config
	ConfigPath string
	HTTPClient *http.Client
	Logger     *log.Logger
	Output     io.Writer

	// Audio provides the microphone for `practice record`. Without one, recording is unavailable.
	Audio audio.Platform
}

// deps is the wired service graph shared by every command in one invocation.
type deps struct {
	db       *sql.DB
	client   backend.Client
	settings *repositories.SettingsRepository
	pending  *repositories.PendingRepository
	practice *services.PracticeService
	goals    *services.GoalService
	repo     *repositories.PracticeRepository
	auth     *services.AuthService
}

// NewRunner creates a new Runner with the provided configuration
func NewRunner(opts RunnerOpts) *Runner {
	if opts.Config == nil {
		opts.Config = shared.DefaultConfig()
	}
	if opts.Logger == nil {
		opts.Logger = shared.NewLogger(nil)
	}
	if opts.Output == nil {
		opts.Output = os.Stdout
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = http.DefaultClient
	}

	return &Runner{
		config:     opts.Config,
		configPath: opts.ConfigPath,
		httpClient: opts.HTTPClient,
		logger:     opts.Logger,
		output:     opts.Output,
		platform:   opts.Audio,
	}
}

func (r *Runner) register() []*cli.Command {
	commands := []*cli.Command{}
	for _, fn := range [](func(*Runner) *cli.Command){
		setupCommand, practiceCommand, goalsCommand, syncCommand, serveCommand,
	} {
		commands = append(commands, fn(r))
	}

	return commands
}

// loadConfig replaces the runner's config with the file named by --config when it exists.
func (r *Runner) loadConfig(ctx context.Context, cmd *cli.Command) (context.Context, error) {
	if cmd.Bool("verbose") {
		shared.SetLogLevel(r.logger, log.DebugLevel)
	}

	path := cmd.String("config")
	if path == "" {
		return ctx, nil
	}

	if _, err := os.Stat(path); err != nil {
		r.logger.Debug("config file not found, using defaults", "path", path)
		return ctx, nil
	}

	config, err := shared.LoadConfig(path)
	if err != nil {
		return ctx, err
	}

	r.config = config
	r.configPath = path
	return ctx, nil
}

// open wires the database, backend client, repositories and services described by the config.
func (r *Runner) open() (*deps, error) {
	if r.deps != nil {
		return r.deps, nil
	}

	db, err := shared.NewDatabase(r.config.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	shared.ConfigureDatabase(db, r.config.Database.MaxOpenConns, r.config.Database.MaxIdleConns)

	if err := r.migrateFresh(db); err != nil {
		db.Close()
		return nil, err
	}

	d := &deps{
		db:       db,
		settings: repositories.NewSettingsRepository(db),
		pending:  repositories.NewPendingRepository(db),
	}

	switch r.config.Backend.Mode {
	case "rest":
		d.client = services.NewRESTClient(r.config.Backend.URL, r.config.Backend.Key, services.RESTOptions{
			HTTPClient:  r.httpClient,
			AccessToken: r.config.Auth.AccessToken,
			RateLimit:   r.config.Backend.RateLimit,
			Timeout:     r.config.Backend.Timeout.Duration,
			Logger:      r.logger,
		})
		d.auth = services.NewAuthService(r.config.Backend.URL, r.config.Backend.Key, r.httpClient,
			r.config.Auth.SessionTimeout.Duration, r.logger)
	default:
		d.client = backend.NewSQLite(db)
	}

	d.repo = repositories.NewPracticeRepository(d.client, r.logger)
	d.repo.SetRetryPolicy(retry.Policy{
		MaxAttempts: r.config.Retry.MaxAttempts,
		BaseDelay:   r.config.Retry.BaseDelay.Duration,
		Multiplier:  r.config.Retry.Multiplier,
	})

	prober := capability.NewProber(d.client, d.settings, repositories.GoalsTable, r.logger)
	d.practice = services.NewPracticeService(d.repo, d.pending, r.logger)
	d.goals = services.NewGoalService(repositories.NewGoalRepository(d.client, prober, r.logger), r.logger)

	r.logger.Debug("backend ready", "mode", r.config.Backend.Mode, "database", r.config.Database.Path)
	r.deps = d
	return d, nil
}

// migrateFresh runs migrations on a database that has none applied. Databases that were set up
// (or rolled back) deliberately are left alone.
func (r *Runner) migrateFresh(db *sql.DB) error {
	statuses, err := shared.MigrationStatuses(db)
	if err != nil {
		return fmt.Errorf("failed to read migrations: %w", err)
	}
	for _, s := range statuses {
		if s.Applied {
			return nil
		}
	}

	r.logger.Info("new database, running migrations", "path", r.config.Database.Path)
	if err := shared.RunMigrations(db); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	return nil
}

// audioManager returns the manager guarding the audio platform, creating it on first use.
func (r *Runner) audioManager() (*audio.Manager, error) {
	if r.platform == nil {
		return nil, audio.ErrUnsupported
	}
	if r.sound == nil {
		r.sound = audio.NewManager(r.platform, r.logger)
	}
	return r.sound, nil
}

// close releases the audio devices and the database opened by [Runner.open].
func (r *Runner) close() {
	if r.sound != nil {
		r.sound.ForceReleaseAll()
	}
	if r.deps == nil {
		return
	}
	if err := r.deps.db.Close(); err != nil {
		r.logger.Warn("failed to close database", "error", err)
	}
	r.deps = nil
}

// userID resolves who the command acts as: --user, then the session behind the configured access
// token, then auth.user_id.
func (r *Runner) userID(ctx context.Context, cmd *cli.Command, d *deps) (string, error) {
	if u := cmd.String("user"); u != "" {
		return u, nil
	}

	if d.auth != nil && r.config.Auth.AccessToken != "" {
		return d.auth.ResolveUser(ctx, r.config.Auth.AccessToken, r.config.Auth.UserID)
	}

	if r.config.Auth.UserID == "" {
		return "", fmt.Errorf("%w: set auth.user_id or pass --user", shared.ErrNotAuthenticated)
	}
	return r.config.Auth.UserID, nil
}

func (r *Runner) writeJSON(data any, pretty bool) error {
	var output []byte
	var err error

	if pretty {
		output, err = json.MarshalIndent(data, "", "  ")
	} else {
		output, err = json.Marshal(data)
	}

	if err != nil {
		return fmt.Errorf("failed to marshal JSON: %w", err)
	}

	if _, err := r.output.Write(output); err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}

	if _, err := r.output.Write([]byte("\n")); err != nil {
		return fmt.Errorf("failed to write newline: %w", err)
	}

	return nil
}

func (r *Runner) writePlain(format string, args ...any) error {
	text := fmt.Sprintf(format, args...)
	if _, err := r.output.Write([]byte(text)); err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}
	return nil
}

func (r *Runner) writePlainln(format string, args ...any) error {
	text := "\n" + fmt.Sprintf(format, args...) + "\n"
	if _, err := r.output.Write([]byte(text)); err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}
	return nil
}

func (r *Runner) writePlainHeader(title string) {
	r.writePlain("%s\n", ui.Styles.Title(title))
}
