package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/clean-dependency-project/appfactory/internal/manifest"
	"github.com/clean-dependency-project/appfactory/internal/naming"
	"github.com/clean-dependency-project/appfactory/internal/storage"
)

// RunRecorder stores the outcome of each run.
type RunRecorder interface {
	StartRun(runID string, apps int) (*storage.Run, error)
	FinishRun(runID string, summary storage.RunSummary) error
}

// Report is the outcome of one run.
type Report struct {
	RunID    string
	Status   string
	Stages   []storage.StageSummary
	Failures []*StageError
	Assigned []AssignedRecord
	Duration time.Duration
}

// Published returns the number of applications created in the catalog.
func (r *Report) Published() int {
	for _, st := range r.Stages {
		if st.Stage == StagePublish {
			return st.Out
		}
	}
	return 0
}

// Summary converts the report for the run ledger.
func (r *Report) Summary() storage.RunSummary {
	s := storage.RunSummary{Status: r.Status, Stages: r.Stages}
	for _, f := range r.Failures {
		s.Failures = append(s.Failures, storage.FailedApp{App: f.App, Stage: f.Stage, Error: f.Err.Error()})
	}
	return s
}

func (r *Report) add(summary storage.StageSummary, failures []*StageError) {
	r.Stages = append(r.Stages, summary)
	r.Failures = append(r.Failures, failures...)
}

// Runner drives the stages in order and writes the hand-off lists. Runs may
// be nil, in which case runs are not recorded.
type Runner struct {
	stages  *Stages
	handoff *Handoff
	runs    RunRecorder
	logger  *slog.Logger
}

// NewRunner creates a runner.
func NewRunner(stages *Stages, handoff *Handoff, runs RunRecorder) *Runner {
	return &Runner{stages: stages, handoff: handoff, runs: runs, logger: stages.logger}
}

// RunID returns the id attached to logs and ledger rows of this run.
func (r *Runner) RunID() string {
	return r.stages.opts.RunID
}

// CheckNames rejects application lists whose search prefixes would match
// each other's catalog entries.
func CheckNames(list *manifest.AppList) error {
	prefixes, err := list.SearchPrefixes()
	if err != nil {
		return err
	}
	if err := naming.ValidateDistinct(prefixes); err != nil {
		return fmt.Errorf("%w: %w", ErrDisplayNameCollide, err)
	}
	return nil
}

// Run takes every application in list through the pipeline. It returns
// ErrPipelineEmpty when a stage leaves nothing for the next one, in which
// case no list after that stage is written. Per-application failures are
// part of the report and do not make Run fail.
func (r *Runner) Run(ctx context.Context, list *manifest.AppList) (*Report, error) {
	if err := CheckNames(list); err != nil {
		return nil, err
	}
	if err := r.handoff.Clear(); err != nil {
		return nil, err
	}

	start := time.Now()
	report := &Report{RunID: r.RunID()}
	if r.runs != nil {
		if _, err := r.runs.StartRun(report.RunID, len(list.Apps)); err != nil {
			return nil, fmt.Errorf("failed to record run start: %w", err)
		}
	}
	r.logger.Info("pipeline started", "apps", len(list.Apps))

	err := r.run(ctx, list, report)
	report.Status = runStatus(report, err)
	report.Duration = time.Since(start)

	if r.runs != nil {
		if ferr := r.runs.FinishRun(report.RunID, report.Summary()); ferr != nil {
			r.logger.Warn("failed to record run result", "error", ferr)
		}
	}

	attrs := []any{
		"status", report.Status,
		"published", report.Published(),
		"failures", len(report.Failures),
		"duration_ms", report.Duration.Milliseconds(),
	}
	switch {
	case report.Status == storage.RunStatusNothing:
		r.logger.Info("no applications to process", attrs...)
	case errors.Is(err, ErrPipelineEmpty):
		r.logger.Warn("pipeline halted after failures", attrs...)
	default:
		r.logger.Info("pipeline finished", attrs...)
	}
	return report, err
}

func (r *Runner) run(ctx context.Context, list *manifest.AppList, report *Report) error {
	process := NewProcessList(list)
	if err := WriteList(r.handoff, ProcessList, process); err != nil {
		return err
	}
	if len(process) == 0 {
		return ErrPipelineEmpty
	}

	downloads := r.stages.Process(ctx, process)
	if err := advance(ctx, r, report, StageProcess, len(process), downloads, DownloadList); err != nil {
		return err
	}
	prepares := r.stages.Download(ctx, downloads.Records)
	if err := advance(ctx, r, report, StageDownload, len(downloads.Records), prepares, PrepareList); err != nil {
		return err
	}
	publishes := r.stages.Prepare(ctx, prepares.Records)
	if err := advance(ctx, r, report, StagePrepare, len(prepares.Records), publishes, PublishList); err != nil {
		return err
	}
	assigns := r.stages.Publish(ctx, publishes.Records)
	if err := advance(ctx, r, report, StagePublish, len(publishes.Records), assigns, AssignList); err != nil {
		return err
	}
	assigned := r.stages.Assign(ctx, assigns.Records)
	report.add(assigned.Summary(StageAssign, len(assigns.Records)), assigned.Failures)
	report.Assigned = assigned.Records
	return ctx.Err()
}

// advance records a finished stage and writes its output list. Records
// produced before a cancellation are still written.
func advance[Out any](ctx context.Context, r *Runner, report *Report, stage string, in int, res StageResult[Out], list string) error {
	report.add(res.Summary(stage, in), res.Failures)
	if err := WriteList(r.handoff, list, res.Records); err != nil {
		return err
	}
	r.logger.Info("stage finished",
		"stage", stage,
		"in", in,
		"out", len(res.Records),
		"skipped", res.Skipped,
		"failed", len(res.Failures))
	if err := ctx.Err(); err != nil {
		return err
	}
	if len(res.Records) == 0 {
		return ErrPipelineEmpty
	}
	return nil
}

func runStatus(report *Report, err error) string {
	switch {
	case err != nil && !errors.Is(err, ErrPipelineEmpty):
		return storage.RunStatusFailed
	case len(report.Failures) == 0 && errors.Is(err, ErrPipelineEmpty):
		return storage.RunStatusNothing
	case len(report.Failures) == 0:
		return storage.RunStatusSucceeded
	case report.Published() > 0:
		return storage.RunStatusPartial
	default:
		return storage.RunStatusFailed
	}
}

// Check runs change detection only and returns the applications that need a
// new version. Nothing is written.
func (r *Runner) Check(ctx context.Context, list *manifest.AppList) (StageResult[DownloadRecord], error) {
	if err := CheckNames(list); err != nil {
		return StageResult[DownloadRecord]{}, err
	}
	res := r.stages.Process(ctx, NewProcessList(list))
	if err := ctx.Err(); err != nil {
		return res, err
	}
	if len(res.Records) == 0 {
		return res, ErrPipelineEmpty
	}
	return res, nil
}
