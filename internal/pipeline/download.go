package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/clean-dependency-project/appfactory/internal/download"
)

// Download fetches and verifies the installer of every application and
// expands archives.
func (s *Stages) Download(ctx context.Context, in []DownloadRecord) StageResult[PrepareRecord] {
	return runStage(ctx, s, StageDownload, in, s.download)
}

func (s *Stages) download(ctx context.Context, logger *slog.Logger, rec DownloadRecord) (PrepareRecord, error) {
	work := s.deps.WorkDir
	if err := work.Reset(rec.AppFolderName); err != nil {
		return PrepareRecord{}, err
	}

	res, err := s.deps.Fetcher.Fetch(ctx, download.Request{
		App:          rec.IntuneAppName,
		URI:          rec.Resolved.URI,
		Dir:          work.Downloads(rec.AppFolderName),
		SHA256:       rec.SHA256,
		SignatureURI: rec.SignatureURI,
	})
	if err != nil {
		return PrepareRecord{}, err
	}

	installer := res.Path
	sourceDir := filepath.Dir(res.Path)
	if download.IsArchive(res.Path) {
		sourceDir = work.Expanded(rec.AppFolderName)
		installer, err = download.Expand(res.Path, sourceDir)
		if err != nil {
			return PrepareRecord{}, fmt.Errorf("failed to expand %s: %w", filepath.Base(res.Path), err)
		}
		logger.Info("archive expanded", "installer", filepath.Base(installer))
	}
	download.CheckProductVersion(installer, rec.Resolved.Version, logger)

	return PrepareRecord{
		DownloadRecord:  rec,
		InstallerPath:   installer,
		SourceDir:       sourceDir,
		InstallerSHA256: res.SHA256,
		Verification:    res.Verified(),
	}, nil
}
