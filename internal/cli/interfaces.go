package cli

import (
	"context"
	"log/slog"

	"github.com/clean-dependency-project/appfactory/internal/config"
	"github.com/clean-dependency-project/appfactory/internal/manifest"
	"github.com/clean-dependency-project/appfactory/internal/pipeline"
	"github.com/clean-dependency-project/appfactory/internal/storage"
)

// Pipeline abstracts the runner so commands can be tested without a catalog.
// *pipeline.Runner implements it.
type Pipeline interface {
	// Run takes every application through all stages.
	Run(ctx context.Context, list *manifest.AppList) (*pipeline.Report, error)

	// Check runs change detection only.
	Check(ctx context.Context, list *manifest.AppList) (pipeline.StageResult[pipeline.DownloadRecord], error)
}

// PipelineFactory builds the pipeline of one command invocation from the
// loaded configuration. ledger records publications and runs.
type PipelineFactory func(ctx context.Context, cfg *config.Config, opts pipeline.Options, ledger *storage.DB, logger *slog.Logger) (Pipeline, error)

var _ Pipeline = (*pipeline.Runner)(nil)
