// Package cli provides the command-line interface of the application
// factory. It loads the YAML configuration, wires the version sources, the
// catalog client and the ledger into the pipeline and prints command output
// as JSON on stdout while logs go to stderr.
package cli

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/clean-dependency-project/appfactory/internal/assignment"
	"github.com/clean-dependency-project/appfactory/internal/catalog"
	"github.com/clean-dependency-project/appfactory/internal/clamav"
	"github.com/clean-dependency-project/appfactory/internal/command"
	"github.com/clean-dependency-project/appfactory/internal/config"
	"github.com/clean-dependency-project/appfactory/internal/detect"
	"github.com/clean-dependency-project/appfactory/internal/download"
	"github.com/clean-dependency-project/appfactory/internal/evergreen"
	gh "github.com/clean-dependency-project/appfactory/internal/github"
	"github.com/clean-dependency-project/appfactory/internal/gpg"
	"github.com/clean-dependency-project/appfactory/internal/packaging"
	"github.com/clean-dependency-project/appfactory/internal/pipeline"
	"github.com/clean-dependency-project/appfactory/internal/report"
	"github.com/clean-dependency-project/appfactory/internal/resolver"
	"github.com/clean-dependency-project/appfactory/internal/storage"
	"github.com/clean-dependency-project/appfactory/internal/winget"
)

// NewApp creates and configures the main CLI application.
func NewApp() *cli.App {
	return NewAppWithFactory(BuildPipeline)
}

// NewAppWithFactory creates the CLI application with a custom pipeline
// factory.
func NewAppWithFactory(factory PipelineFactory) *cli.App {
	cmds := &commands{factory: factory}
	return &cli.App{
		Name:     "appfactory",
		Usage:    "Publish new versions of Win32 applications to the device-management catalog",
		Version:  "1.0.0",
		Compiled: time.Now(),
		Authors: []*cli.Author{
			{
				Name:  "Clean Dependency Project",
				Email: "info@example.com",
			},
		},
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Value:   "appfactory.yaml",
				Usage:   "path to configuration file",
				EnvVars: []string{"APPFACTORY_CONFIG"},
			},
			&cli.StringFlag{
				Name:    "log-level",
				Value:   "info",
				Usage:   "log level (debug, info, warn, error)",
				EnvVars: []string{"APPFACTORY_LOG_LEVEL"},
			},
			&cli.StringFlag{
				Name:    "log-format",
				Value:   "json",
				Usage:   "log format (json, text)",
				EnvVars: []string{"APPFACTORY_LOG_FORMAT"},
			},
		},
		Commands: []*cli.Command{
			{
				Name:  "init",
				Usage: "Write a default configuration file to the --config path",
				Flags: []cli.Flag{
					&cli.BoolFlag{
						Name:  "force",
						Usage: "overwrite an existing configuration file",
					},
				},
				Action: cmds.initConfig,
			},
			{
				Name:  "run",
				Usage: "Take every application through process, download, prepare, publish and assign",
				Flags: []cli.Flag{
					&cli.IntFlag{
						Name:  "concurrency",
						Usage: "number of applications processed at once within a stage (overrides pipeline.concurrency)",
					},
					&cli.StringFlag{
						Name:  "lists-dir",
						Usage: "directory for the stage hand-off lists (overrides workspace.lists_dir)",
					},
				},
				Action: cmds.run,
			},
			{
				Name:  "check",
				Usage: "Report which applications have a new version without publishing anything",
				Flags: []cli.Flag{
					&cli.IntFlag{
						Name:  "concurrency",
						Usage: "number of applications checked at once (overrides pipeline.concurrency)",
					},
				},
				Action: cmds.check,
			},
			{
				Name:   "validate",
				Usage:  "Validate the application list and every App.json offline",
				Action: cmds.validate,
			},
			{
				Name:  "history",
				Usage: "Print recent runs and publications from the ledger as JSON",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "app",
						Usage: "only publications of this application",
					},
					&cli.IntFlag{
						Name:  "limit",
						Value: 20,
						Usage: "number of runs to include (0 for all)",
					},
				},
				Action: cmds.history,
			},
			{
				Name:  "report",
				Usage: "Generate a static HTML report from the ledger",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:    "db",
						Usage:   "path to SQLite database file (defaults to storage.database_path)",
						EnvVars: []string{"APPFACTORY_REPORT_DB"},
					},
					&cli.StringFlag{
						Name:     "out",
						Usage:    "output directory for generated HTML files",
						Required: true,
						EnvVars:  []string{"APPFACTORY_REPORT_OUT"},
					},
					&cli.BoolFlag{
						Name:  "dry-run",
						Usage: "render without writing files",
					},
					&cli.IntFlag{
						Name:  "runs",
						Value: report.DefaultRunLimit,
						Usage: "number of runs shown on the run history page",
					},
				},
				Action: cmds.report,
			},
		},
	}
}

// initDB opens the ledger named by the configuration.
func initDB(path string) (*storage.DB, error) {
	return storage.InitDB(storage.Config{
		DatabasePath: path,
		LogLevel:     "silent",
	})
}

// BuildPipeline wires the production collaborators: the catalog client
// authenticated with client credentials, the three version lookups, the
// HTTP fetcher with optional signature and malware checks and the packaging
// tool.
func BuildPipeline(ctx context.Context, cfg *config.Config, opts pipeline.Options, ledger *storage.DB, logger *slog.Logger) (Pipeline, error) {
	if err := cfg.Catalog.Validate(); err != nil {
		return nil, err
	}
	graph := catalog.NewGraphClient(catalog.Config{
		BaseURL:      cfg.Catalog.BaseURL,
		TenantID:     cfg.Catalog.TenantID,
		ClientID:     cfg.Catalog.ClientID,
		ClientSecret: cfg.Catalog.ClientSecret,
		Timeout:      cfg.Pipeline.GetCallTimeout(),
		Logger:       logger,
	})
	if err := graph.Authenticate(ctx); err != nil {
		return nil, fmt.Errorf("failed to authenticate to catalog: %w", err)
	}

	runner := command.NewExecRunner()
	egConfig := evergreen.DefaultConfig()
	if cfg.Lookup.EvergreenBaseURL != "" {
		egConfig.BaseURL = cfg.Lookup.EvergreenBaseURL
	}
	table, err := resolver.NewDefaultTable(
		evergreen.NewClient(egConfig),
		winget.NewClient(runner, cfg.Lookup.WingetPath),
		gh.NewClient(cfg.GitHub.Token),
		logger,
	)
	if err != nil {
		return nil, err
	}

	var fetchOpts []download.Option
	if cfg.Verification.GPG.Enabled {
		keys, err := gpg.LoadKeyRing(cfg.Verification.GPG.KeysPath)
		if err != nil {
			return nil, fmt.Errorf("failed to load signing keys: %w", err)
		}
		logger.Info("signature verification enabled", "keys", keys.Len())
		fetchOpts = append(fetchOpts, download.WithSignatureVerifier(keys))
	}
	if cfg.Verification.ClamAV.Enabled {
		logger.Info("malware scanning enabled", "image", cfg.Verification.ClamAV.Image)
		fetchOpts = append(fetchOpts, download.WithScanner(clamav.NewDockerScanner(runner, cfg.Verification.ClamAV.Image, logger)))
	}

	holds, err := config.LoadHolds(cfg.Workspace.HoldsFile)
	if err != nil {
		return nil, err
	}
	work, err := storage.NewWorkDir(cfg.Workspace.DownloadsDir, cfg.Workspace.PackagesDir)
	if err != nil {
		return nil, err
	}
	handoff, err := pipeline.NewHandoff(cfg.Workspace.ListsDir)
	if err != nil {
		return nil, err
	}

	stages := pipeline.NewStages(pipeline.Deps{
		Resolver:    table,
		Detector:    detect.NewDetector(graph, logger),
		Fetcher:     download.NewFetcher(logger, fetchOpts...),
		Packager:    packaging.NewPackager(runner, cfg.Packaging.ToolPath, logger),
		Catalog:     graph,
		Assignments: assignment.NewResolver(assignment.NewCatalogFilters(graph)),
		Ledger:      ledger,
		Holds:       holds,
		WorkDir:     work,
		AppsDir:     cfg.Workspace.AppsDir,
	}, opts, logger)
	return pipeline.NewRunner(stages, handoff, ledger), nil
}
