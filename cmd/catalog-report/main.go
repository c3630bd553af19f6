// Package main provides a standalone command that renders the publish ledger
// as a static HTML site.
package main

import (
	"context"
	"log"
	"os"

	"github.com/urfave/cli/v2"

	applog "github.com/clean-dependency-project/appfactory/internal/logger"
	"github.com/clean-dependency-project/appfactory/internal/report"
	"github.com/clean-dependency-project/appfactory/internal/storage"
)

func main() {
	app := &cli.App{
		Name:  "catalog-report",
		Usage: "Generate a static HTML report from the publish ledger",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "db",
				Usage:    "path to SQLite database file",
				Required: true,
				EnvVars:  []string{"APPFACTORY_REPORT_DB"},
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
			&cli.StringFlag{
				Name:    "log-level",
				Value:   "info",
				Usage:   "log level (debug, info, warn, error)",
				EnvVars: []string{"APPFACTORY_LOG_LEVEL"},
			},
		},
		Action: runReport,
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

// runReport opens the ledger and renders the site.
func runReport(c *cli.Context) error {
	logger, err := applog.New(c.String("log-level"), "json", os.Stderr)
	if err != nil {
		return err
	}

	db, err := storage.InitDB(storage.Config{
		DatabasePath: c.String("db"),
		LogLevel:     "silent",
	})
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := db.Close(); closeErr != nil {
			logger.Error("failed to close database", "error", closeErr)
		}
	}()

	res, err := report.NewGenerator(db, logger).Generate(context.Background(), report.GenerateOptions{
		OutputDir: c.String("out"),
		DryRun:    c.Bool("dry-run"),
	})
	if err != nil {
		return err
	}

	logger.Info("report generated", "files", res.Files, "written", res.Written)
	return nil
}
