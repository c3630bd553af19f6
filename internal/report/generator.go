package report

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
)

// DefaultRunLimit is the number of runs shown on the run history page.
const DefaultRunLimit = 50

// ErrOutputDirRequired is returned when GenerateOptions has no output dir.
var ErrOutputDirRequired = errors.New("output directory is required")

// Generator orchestrates loading the ledger and rendering the site.
type Generator struct {
	reader LedgerReader
	logger *slog.Logger
}

// NewGenerator creates a new Generator reading from reader.
func NewGenerator(reader LedgerReader, logger *slog.Logger) *Generator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Generator{
		reader: reader,
		logger: logger,
	}
}

// GenerateOptions contains options for site generation.
type GenerateOptions struct {
	OutputDir string
	DryRun    bool
	RunLimit  int
}

// Result reports what Generate produced.
type Result struct {
	Files   int
	Written int
}

// Generate renders the site. In dry-run mode every page is still rendered,
// so template or data problems surface, but nothing is written.
func (g *Generator) Generate(ctx context.Context, opts GenerateOptions) (Result, error) {
	if opts.OutputDir == "" {
		return Result{}, ErrOutputDirRequired
	}
	if opts.RunLimit == 0 {
		opts.RunLimit = DefaultRunLimit
	}
	g.logger.Info("starting report generation", "output_dir", opts.OutputDir, "dry_run", opts.DryRun)

	pubs, err := g.reader.ListPublications()
	if err != nil {
		return Result{}, fmt.Errorf("failed to load publications: %w", err)
	}
	runs, err := g.reader.ListRuns(opts.RunLimit)
	if err != nil {
		return Result{}, fmt.Errorf("failed to load runs: %w", err)
	}
	stats, err := g.reader.GetStats()
	if err != nil {
		return Result{}, fmt.Errorf("failed to load stats: %w", err)
	}
	if len(pubs) == 0 {
		g.logger.Warn("no publications found in ledger")
	}

	model := BuildModel(pubs, runs, stats)
	g.logger.Info("built report model", "apps", len(model.Apps), "runs", len(model.Runs))

	files, err := renderSite(model)
	if err != nil {
		return Result{}, err
	}
	res := Result{Files: len(files)}
	if opts.DryRun {
		g.logger.Info("dry-run mode: skipping file writes", "files", res.Files)
		return res, nil
	}

	if err := os.MkdirAll(opts.OutputDir, 0o755); err != nil {
		return Result{}, fmt.Errorf("failed to create output directory: %w", err)
	}
	paths := make([]string, 0, len(files))
	for p := range files {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	for _, p := range paths {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		written, err := writeFileIfChanged(filepath.Join(opts.OutputDir, filepath.FromSlash(p)), files[p], g.logger)
		if err != nil {
			return res, fmt.Errorf("%s: %w", p, err)
		}
		if written {
			res.Written++
		}
	}

	g.logger.Info("report generation completed", "files", res.Files, "written", res.Written)
	return res, nil
}
