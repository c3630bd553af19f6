package pipeline

import (
	"context"
	"log/slog"

	"github.com/clean-dependency-project/appfactory/internal/manifest"
)

// Assign submits the assignments declared in App.json for every catalog
// entry. An application whose assignments partly fail is still returned and
// is also reported as a failure.
func (s *Stages) Assign(ctx context.Context, in []AssignRecord) StageResult[AssignedRecord] {
	return runStage(ctx, s, StageAssign, in, s.assign)
}

func (s *Stages) assign(ctx context.Context, logger *slog.Logger, rec AssignRecord) (AssignedRecord, error) {
	m, err := manifest.LoadManifest(s.appDir(rec.AppFolderName), rec.vars())
	if err != nil {
		return AssignedRecord{}, err
	}
	out := AssignedRecord{AssignRecord: rec}
	if len(m.Assignment) == 0 {
		logger.Info("no assignments declared", "app_id", rec.CatalogAppID)
		return out, nil
	}

	res, applyErr := s.deps.Assignments.Apply(ctx, &boundedSubmitter{s: s}, rec.CatalogAppID, m.Assignment, logger)
	out.AssignmentIDs = res.Submitted
	out.AssignmentsFailed = res.Failed

	if s.deps.Ledger != nil {
		if err := s.deps.Ledger.UpdateAssignments(rec.CatalogAppID, len(res.Submitted), res.Failed); err != nil {
			logger.Warn("failed to record assignments", "error", err)
		}
	}
	if applyErr != nil {
		return out, &partialError{err: applyErr}
	}
	return out, nil
}

// boundedSubmitter applies the per-call timeout to each assignment request.
type boundedSubmitter struct {
	s *Stages
}

func (b *boundedSubmitter) CreateAssignment(ctx context.Context, appID string, assignment any) (string, error) {
	callCtx, cancel := b.s.call(ctx)
	defer cancel()
	return b.s.deps.Catalog.CreateAssignment(callCtx, appID, assignment)
}
