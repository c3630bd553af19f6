package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/urfave/cli/v2"
	"go.uber.org/multierr"

	"github.com/clean-dependency-project/appfactory/internal/assignment"
	"github.com/clean-dependency-project/appfactory/internal/config"
	"github.com/clean-dependency-project/appfactory/internal/manifest"
	"github.com/clean-dependency-project/appfactory/internal/pipeline"
	"github.com/clean-dependency-project/appfactory/internal/report"
	"github.com/clean-dependency-project/appfactory/internal/storage"
)

var (
	// ErrValidationFailed is returned by the validate command when at least
	// one application is invalid.
	ErrValidationFailed = errors.New("validation failed")
	ErrConfigExists     = errors.New("configuration file already exists")
)

// RunOutput is printed by the run command.
type RunOutput struct {
	RunID      string                 `json:"run_id"`
	Status     string                 `json:"status"`
	Published  int                    `json:"published"`
	DurationMs int64                  `json:"duration_ms"`
	Stages     []storage.StageSummary `json:"stages"`
	Failures   []storage.FailedApp    `json:"failures,omitempty"`
	Assigned   []AssignedApp          `json:"assigned,omitempty"`
}

// AssignedApp is one application that reached the end of the pipeline.
type AssignedApp struct {
	App               string   `json:"app"`
	DisplayName       string   `json:"display_name"`
	CatalogAppID      string   `json:"catalog_app_id"`
	AssignmentIDs     []string `json:"assignment_ids,omitempty"`
	AssignmentsFailed int      `json:"assignments_failed,omitempty"`
}

// ValidationResult is printed by the validate command for every application.
type ValidationResult struct {
	App   string `json:"app"`
	Valid bool   `json:"valid"`
	Error string `json:"error,omitempty"`
}

func newRunOutput(r *pipeline.Report) RunOutput {
	summary := r.Summary()
	out := RunOutput{
		RunID:      r.RunID,
		Status:     r.Status,
		Published:  r.Published(),
		DurationMs: r.Duration.Milliseconds(),
		Stages:     summary.Stages,
		Failures:   summary.Failures,
	}
	if out.Stages == nil {
		out.Stages = []storage.StageSummary{}
	}
	for _, a := range r.Assigned {
		out.Assigned = append(out.Assigned, AssignedApp{
			App:               a.IntuneAppName,
			DisplayName:       a.DisplayName,
			CatalogAppID:      a.CatalogAppID,
			AssignmentIDs:     a.AssignmentIDs,
			AssignmentsFailed: a.AssignmentsFailed,
		})
	}
	return out
}

type commands struct {
	factory PipelineFactory
}

// loadConfig loads the configuration and applies command flag overrides.
func loadConfig(c *cli.Context) (*config.Config, error) {
	cfg, err := config.LoadConfig(c.String("config"))
	if err != nil {
		return nil, err
	}
	if c.IsSet("lists-dir") {
		cfg.Workspace.ListsDir = c.String("lists-dir")
	}
	if c.IsSet("concurrency") {
		if c.Int("concurrency") < 1 {
			return nil, config.ErrInvalidConcurrency
		}
		cfg.Pipeline.Concurrency = c.Int("concurrency")
	}
	return cfg, nil
}

func pipelineOptions(cfg *config.Config) pipeline.Options {
	return pipeline.Options{
		Concurrency: cfg.Pipeline.GetConcurrency(),
		CallTimeout: cfg.Pipeline.GetCallTimeout(),
	}
}

func writeJSON(w io.Writer, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal JSON: %w", err)
	}
	_, err = fmt.Fprintln(w, string(data))
	return err
}

// initConfig implements the init command.
func (a *commands) initConfig(c *cli.Context) error {
	logger, err := newLogger(c)
	if err != nil {
		return err
	}
	path := c.String("config")
	if _, err := os.Stat(path); err == nil && !c.Bool("force") {
		return fmt.Errorf("%w: %s", ErrConfigExists, path)
	}
	if err := config.SaveConfig(config.DefaultConfig(), path); err != nil {
		return err
	}
	logger.Info("configuration written", "path", path)
	return nil
}

// setup loads what the pipeline commands share.
func (a *commands) setup(c *cli.Context) (*slog.Logger, *config.Config, *manifest.AppList, *storage.DB, error) {
	logger, err := newLogger(c)
	if err != nil {
		return nil, nil, nil, nil, err
	}
	cfg, err := loadConfig(c)
	if err != nil {
		logger.Error("failed to load config", "error", err)
		return nil, nil, nil, nil, fmt.Errorf("failed to load config: %w", err)
	}
	list, err := manifest.LoadAppList(cfg.Workspace.AppList)
	if err != nil {
		logger.Error("failed to load app list", "path", cfg.Workspace.AppList, "error", err)
		return nil, nil, nil, nil, err
	}
	db, err := initDB(cfg.Storage.DatabasePath)
	if err != nil {
		logger.Error("failed to initialize database", "error", err)
		return nil, nil, nil, nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	return logger, cfg, list, db, nil
}

func closeDB(db *storage.DB, logger *slog.Logger) {
	if err := db.Close(); err != nil {
		logger.Warn("failed to close database", "error", err)
	}
}

// run implements the run command. Per-application failures are part of the
// printed report; only failures that stop the whole run are returned.
func (a *commands) run(c *cli.Context) error {
	logger, cfg, list, db, err := a.setup(c)
	if err != nil {
		return err
	}
	defer closeDB(db, logger)

	p, err := a.factory(c.Context, cfg, pipelineOptions(cfg), db, logger)
	if err != nil {
		logger.Error("failed to initialize pipeline", "error", err)
		return fmt.Errorf("failed to initialize pipeline: %w", err)
	}

	rep, runErr := p.Run(c.Context, list)
	if rep != nil {
		if err := writeJSON(c.App.Writer, newRunOutput(rep)); err != nil {
			return err
		}
	}
	if runErr != nil && !errors.Is(runErr, pipeline.ErrPipelineEmpty) {
		return fmt.Errorf("pipeline run failed: %w", runErr)
	}
	return nil
}

// check implements the check command. It prints the applications that
// would be downloaded.
func (a *commands) check(c *cli.Context) error {
	logger, cfg, list, db, err := a.setup(c)
	if err != nil {
		return err
	}
	defer closeDB(db, logger)

	p, err := a.factory(c.Context, cfg, pipelineOptions(cfg), db, logger)
	if err != nil {
		logger.Error("failed to initialize pipeline", "error", err)
		return fmt.Errorf("failed to initialize pipeline: %w", err)
	}

	res, err := p.Check(c.Context, list)
	if err != nil && !errors.Is(err, pipeline.ErrPipelineEmpty) {
		return fmt.Errorf("check failed: %w", err)
	}
	records := res.Records
	if records == nil {
		records = []pipeline.DownloadRecord{}
	}
	logger.Info("check finished", "updates", len(records), "skipped", res.Skipped, "failed", len(res.Failures))
	return writeJSON(c.App.Writer, records)
}

// anyFilter accepts every filter name so that validation needs no catalog
// access.
type anyFilter struct{}

func (anyFilter) ResolveFilter(_ context.Context, name string) (string, error) {
	return name, nil
}

// validate implements the validate command.
func (a *commands) validate(c *cli.Context) error {
	logger, err := newLogger(c)
	if err != nil {
		return err
	}
	cfg, err := loadConfig(c)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	list, err := manifest.LoadAppList(cfg.Workspace.AppList)
	if err != nil {
		return err
	}
	if err := pipeline.CheckNames(list); err != nil {
		return err
	}

	resolver := assignment.NewResolver(anyFilter{})
	results := make([]ValidationResult, 0, len(list.Apps))
	var errs error
	for _, app := range list.Apps {
		res := ValidationResult{App: app.IntuneAppName, Valid: true}
		if err := pipeline.ValidateApp(c.Context, cfg.Workspace.AppsDir, app, resolver); err != nil {
			logger.Error("application is invalid", "app", app.IntuneAppName, "error", err)
			res.Valid, res.Error = false, err.Error()
			errs = multierr.Append(errs, err)
		}
		results = append(results, res)
	}
	if err := writeJSON(c.App.Writer, results); err != nil {
		return err
	}
	if errs != nil {
		return fmt.Errorf("%w: %d of %d applications", ErrValidationFailed, len(multierr.Errors(errs)), len(list.Apps))
	}
	logger.Info("all applications are valid", "apps", len(list.Apps))
	return nil
}

// history implements the history command.
func (a *commands) history(c *cli.Context) error {
	logger, err := newLogger(c)
	if err != nil {
		return err
	}
	cfg, err := loadConfig(c)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	db, err := initDB(cfg.Storage.DatabasePath)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer closeDB(db, logger)

	data, err := db.ExportHistoryJSON(c.String("app"), c.Int("limit"))
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(c.App.Writer, string(data))
	return err
}

// report implements the report command.
func (a *commands) report(c *cli.Context) error {
	logger, err := newLogger(c)
	if err != nil {
		return err
	}

	dbPath := c.String("db")
	if dbPath == "" {
		cfg, err := config.LoadConfig(c.String("config"))
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		dbPath = cfg.Storage.DatabasePath
	}
	db, err := initDB(dbPath)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer closeDB(db, logger)

	res, err := report.NewGenerator(db, logger).Generate(c.Context, report.GenerateOptions{
		OutputDir: c.String("out"),
		DryRun:    c.Bool("dry-run"),
		RunLimit:  c.Int("runs"),
	})
	if err != nil {
		return fmt.Errorf("report generation failed: %w", err)
	}
	logger.Info("report generated", "files", res.Files, "written", res.Written)
	return nil
}
