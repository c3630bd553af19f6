package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/clean-dependency-project/appfactory/internal/catalog"
	"github.com/clean-dependency-project/appfactory/internal/manifest"
	"github.com/clean-dependency-project/appfactory/internal/storage"
)

// Publish creates a catalog entry for every packaged application together
// with its content version and file placeholder.
func (s *Stages) Publish(ctx context.Context, in []PublishRecord) StageResult[AssignRecord] {
	return runStage(ctx, s, StagePublish, in, s.publish)
}

func (s *Stages) publish(ctx context.Context, logger *slog.Logger, rec PublishRecord) (AssignRecord, error) {
	m, err := manifest.LoadManifest(s.appDir(rec.AppFolderName), rec.vars())
	if err != nil {
		return AssignRecord{}, err
	}
	body, err := BuildWin32App(rec, m)
	if err != nil {
		return AssignRecord{}, err
	}

	callCtx, cancel := s.call(ctx)
	appID, err := s.deps.Catalog.CreateWin32App(callCtx, body)
	cancel()
	if err != nil {
		return AssignRecord{}, fmt.Errorf("failed to create catalog app: %w", err)
	}
	logger = logger.With("app_id", appID)
	logger.Info("catalog app created", "display_name", body.DisplayName, "display_version", body.DisplayVersion)

	callCtx, cancel = s.call(ctx)
	versionID, err := s.deps.Catalog.CreateContentVersion(callCtx, appID)
	cancel()
	if err != nil {
		s.record(logger, AssignRecord{PublishRecord: rec, CatalogAppID: appID}, storage.PublicationIncomplete)
		return AssignRecord{}, fmt.Errorf("failed to create content version for %s: %w", appID, err)
	}

	callCtx, cancel = s.call(ctx)
	fileID, err := s.deps.Catalog.CreateContentFile(callCtx, appID, versionID, catalog.ContentFile{
		Name:          rec.ContentName,
		Size:          rec.ContentSize,
		SizeEncrypted: rec.EncryptedSize,
	})
	cancel()
	if err != nil {
		s.record(logger, AssignRecord{PublishRecord: rec, CatalogAppID: appID, ContentVersionID: versionID}, storage.PublicationIncomplete)
		return AssignRecord{}, fmt.Errorf("failed to create content file for %s: %w", appID, err)
	}
	logger.Info("content placeholder created", "content_version", versionID, "content_file", fileID)

	out := AssignRecord{PublishRecord: rec, CatalogAppID: appID, ContentVersionID: versionID}
	s.record(logger, out, storage.PublicationComplete)
	return out, nil
}

// record stores the publication in the ledger. The catalog entry already
// exists at this point, so a ledger failure is logged and not returned. An
// incomplete entry makes the next run publish the version again.
func (s *Stages) record(logger *slog.Logger, rec AssignRecord, status string) {
	if s.deps.Ledger == nil {
		return
	}
	err := s.deps.Ledger.RecordPublication(&storage.Publication{
		RunID:              s.opts.RunID,
		App:                rec.IntuneAppName,
		Version:            rec.Resolved.Version,
		NormalizedVersion:  rec.Resolved.NormalizedVersion,
		DisplayName:        rec.DisplayName,
		Publisher:          rec.AppPublisher,
		Source:             string(rec.AppSource),
		SourceURI:          rec.Resolved.URI,
		CatalogAppID:       rec.CatalogAppID,
		Status:             status,
		InstallerSHA256:    rec.InstallerSHA256,
		Verification:       rec.Verification,
		PackageFileName:    filepath.Base(rec.PackagePath),
		PackageSize:        rec.PackageSize,
		PackageFingerprint: rec.PackageFingerprint,
	})
	if err != nil {
		logger.Warn("failed to record publication", "error", err)
	}
}
