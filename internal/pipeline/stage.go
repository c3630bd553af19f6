package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/clean-dependency-project/appfactory/internal/assignment"
	"github.com/clean-dependency-project/appfactory/internal/catalog"
	"github.com/clean-dependency-project/appfactory/internal/config"
	"github.com/clean-dependency-project/appfactory/internal/detect"
	"github.com/clean-dependency-project/appfactory/internal/download"
	"github.com/clean-dependency-project/appfactory/internal/manifest"
	"github.com/clean-dependency-project/appfactory/internal/packaging"
	"github.com/clean-dependency-project/appfactory/internal/resolver"
	"github.com/clean-dependency-project/appfactory/internal/storage"
)

// Stage names used in logs, failure reports and the run summary.
const (
	StageProcess  = "process"
	StageDownload = "download"
	StagePrepare  = "prepare"
	StagePublish  = "publish"
	StageAssign   = "assign"
)

// VersionResolver resolves the latest version of an application.
type VersionResolver interface {
	Resolve(ctx context.Context, app manifest.AppDescriptor) (resolver.ResolvedVersion, error)
}

// ChangeDetector decides whether a resolved version must be published.
type ChangeDetector interface {
	NeedsUpdate(ctx context.Context, resolved resolver.ResolvedVersion, prefix string) (detect.Decision, error)
}

// Fetcher downloads and verifies installers.
type Fetcher interface {
	Fetch(ctx context.Context, req download.Request) (download.Result, error)
}

// Packager builds a package from a source folder.
type Packager interface {
	Package(ctx context.Context, req packaging.Request) (packaging.Result, error)
}

// Ledger records what was published.
type Ledger interface {
	RecordPublication(p *storage.Publication) error
	UpdateAssignments(catalogAppID string, submitted, failed int) error
	IsPublished(app, version string) (bool, error)
	HasIncomplete(catalogAppIDs []string) (bool, error)
}

var (
	_ Ledger      = (*storage.DB)(nil)
	_ RunRecorder = (*storage.DB)(nil)
)

// Deps are the collaborators of the stages. Ledger may be nil, in which case
// nothing is recorded.
type Deps struct {
	Resolver    VersionResolver
	Detector    ChangeDetector
	Fetcher     Fetcher
	Packager    Packager
	Catalog     catalog.Client
	Assignments *assignment.Resolver
	Ledger      Ledger
	Holds       config.Holds
	WorkDir     *storage.WorkDir
	AppsDir     string
}

// Options tune stage execution.
type Options struct {
	Concurrency int
	CallTimeout time.Duration
	RunID       string
}

// Stages holds the stage functions. Each stage consumes one record list and
// returns the next; records of failed or skipped applications are dropped
// and failures are returned separately.
type Stages struct {
	deps   Deps
	opts   Options
	logger *slog.Logger
}

// NewStages creates the stage functions. A run id is generated when opts
// carries none.
func NewStages(deps Deps, opts Options, logger *slog.Logger) *Stages {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.Concurrency < 1 {
		opts.Concurrency = config.DefaultConcurrency
	}
	if opts.CallTimeout <= 0 {
		opts.CallTimeout = config.DefaultCallTimeout
	}
	if opts.RunID == "" {
		opts.RunID = uuid.New().String()
	}
	if deps.Assignments == nil {
		deps.Assignments = assignment.NewResolver(nil)
	}
	return &Stages{deps: deps, opts: opts, logger: logger.With("run_id", opts.RunID)}
}

// call bounds a single external call.
func (s *Stages) call(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.opts.CallTimeout)
}

// StageResult is the outcome of one stage.
type StageResult[Out any] struct {
	Records  []Out
	Failures []*StageError
	Skipped  int
}

// Summary condenses the result for the run ledger.
func (r StageResult[Out]) Summary(stage string, in int) storage.StageSummary {
	return storage.StageSummary{Stage: stage, In: in, Out: len(r.Records), Failed: len(r.Failures)}
}

type named interface {
	Name() string
}

// runStage applies fn to every input with at most opts.Concurrency
// applications in flight. Results land in per-input slots, so output order
// follows input order. Once ctx is done no further application is started;
// those not started are reported as failed with the context error.
func runStage[In named, Out any](ctx context.Context, s *Stages, stage string, in []In,
	fn func(ctx context.Context, logger *slog.Logger, rec In) (Out, error),
) StageResult[Out] {
	type slot struct {
		out     Out
		err     error
		started bool
	}
	slots := make([]slot, len(in))

	var g errgroup.Group
	g.SetLimit(s.opts.Concurrency)
	for i := range in {
		if ctx.Err() != nil {
			break
		}
		slots[i].started = true
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				slots[i].err = err
				return nil
			}
			logger := s.logger.With("app", in[i].Name(), "stage", stage)
			slots[i].out, slots[i].err = fn(ctx, logger, in[i])
			return nil
		})
	}
	_ = g.Wait()

	var res StageResult[Out]
	for i, sl := range slots {
		name := in[i].Name()
		err := sl.err
		if !sl.started {
			err = ctx.Err()
		}

		var skipped *skip
		var partial *partialError
		switch {
		case err == nil:
			res.Records = append(res.Records, sl.out)
		case errors.As(err, &skipped):
			res.Skipped++
		case errors.As(err, &partial):
			res.Records = append(res.Records, sl.out)
			res.Failures = append(res.Failures, &StageError{App: name, Stage: stage, Err: partial.err})
		default:
			if sl.started {
				s.logger.Error("application failed", "app", name, "stage", stage, "error", err)
			}
			res.Failures = append(res.Failures, &StageError{App: name, Stage: stage, Err: err})
		}
	}
	return res
}
