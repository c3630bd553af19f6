package pipeline

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/clean-dependency-project/appfactory/internal/detect"
	"github.com/clean-dependency-project/appfactory/internal/resolver"
	"github.com/clean-dependency-project/appfactory/internal/version"
)

// Process resolves the latest version of every application and keeps those
// whose version is newer than anything already in the catalog.
func (s *Stages) Process(ctx context.Context, in []ProcessRecord) StageResult[DownloadRecord] {
	return runStage(ctx, s, StageProcess, in, s.process)
}

func (s *Stages) process(ctx context.Context, logger *slog.Logger, rec ProcessRecord) (DownloadRecord, error) {
	callCtx, cancel := s.call(ctx)
	resolved, err := s.deps.Resolver.Resolve(callCtx, rec.AppDescriptor)
	cancel()
	if err != nil {
		return DownloadRecord{}, err
	}
	logger = logger.With("version", resolved.Version)

	if s.held(rec.IntuneAppName, resolved) {
		logger.Info("version is on hold, skipping")
		return DownloadRecord{}, &skip{reason: "version on hold"}
	}

	prefix, err := rec.SearchPrefix()
	if err != nil {
		return DownloadRecord{}, fmt.Errorf("failed to build search prefix: %w", err)
	}
	displayName, err := rec.AppDescriptor.DisplayName(resolved.Version)
	if err != nil {
		return DownloadRecord{}, fmt.Errorf("failed to build display name: %w", err)
	}

	callCtx, cancel = s.call(ctx)
	decision, err := s.deps.Detector.NeedsUpdate(callCtx, resolved, prefix)
	cancel()
	if err != nil {
		return DownloadRecord{}, err
	}
	if !decision.NeedsUpdate {
		retry, err := s.incomplete(rec.IntuneAppName, resolved, decision)
		if err != nil {
			logger.Warn("failed to check ledger for incomplete publications", "error", err)
		}
		if retry {
			logger.Warn("published version has no content, publishing again",
				"published", decision.Published,
				"stale_app_ids", decision.PublishedIDs)
			decision.NeedsUpdate = true
		}
	}
	if !decision.NeedsUpdate {
		logger.Info("application is up to date",
			"published", decision.Published,
			"matches", decision.Matches)
		return DownloadRecord{}, &skip{reason: "up to date"}
	}

	logger.Info("new version found",
		"published", decision.Published,
		"candidate", decision.Candidate,
		"display_name", displayName)
	return DownloadRecord{
		ProcessRecord:    rec,
		Resolved:         resolved,
		DisplayName:      displayName,
		PublishedVersion: decision.Published,
	}, nil
}

// held checks the verbatim and the normalized version against the holds, so
// a pattern like "1.6" also holds the release tag "tool-v1.6.0".
func (s *Stages) held(app string, resolved resolver.ResolvedVersion) bool {
	if s.deps.Holds.IsHeld(app, resolved.Version) {
		return true
	}
	return resolved.NormalizedVersion != "" && s.deps.Holds.IsHeld(app, resolved.NormalizedVersion)
}

// incomplete reports whether the catalog entries at the resolved version are
// left over from a publish that failed after the entry was created. Without
// a ledger every entry counts as complete.
func (s *Stages) incomplete(app string, resolved resolver.ResolvedVersion, decision detect.Decision) (bool, error) {
	if s.deps.Ledger == nil || len(decision.PublishedIDs) == 0 {
		return false, nil
	}
	if c, err := version.Compare(decision.Candidate, decision.Published); err != nil || c != 0 {
		return false, nil
	}
	stale, err := s.deps.Ledger.HasIncomplete(decision.PublishedIDs)
	if err != nil || !stale {
		return false, err
	}
	published, err := s.deps.Ledger.IsPublished(app, resolved.Version)
	if err != nil {
		return false, err
	}
	return !published, nil
}
