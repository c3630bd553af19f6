package pipeline

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/clean-dependency-project/appfactory/internal/manifest"
	"github.com/clean-dependency-project/appfactory/internal/packaging"
)

// Prepare builds the package of every application from its installer and
// the support files named by App.json.
func (s *Stages) Prepare(ctx context.Context, in []PrepareRecord) StageResult[PublishRecord] {
	return runStage(ctx, s, StagePrepare, in, s.prepare)
}

func (s *Stages) appDir(folder string) string {
	return appDir(s.deps.AppsDir, folder)
}

func appDir(appsDir, folder string) string {
	return filepath.Join(appsDir, folder)
}

func (s *Stages) prepare(ctx context.Context, logger *slog.Logger, rec PrepareRecord) (PublishRecord, error) {
	setupFile, err := filepath.Rel(rec.SourceDir, rec.InstallerPath)
	if err != nil {
		return PublishRecord{}, fmt.Errorf("installer is outside the source folder: %w", err)
	}

	appDir := s.appDir(rec.AppFolderName)
	m, err := manifest.LoadManifest(appDir, rec.vars(setupFile))
	if err != nil {
		return PublishRecord{}, err
	}
	if m.PackageInformation.SetupFile != "" {
		setupFile = m.PackageInformation.SetupFile
	}
	if folder := m.PackageInformation.SourceFolder; folder != "" {
		n, err := copyTree(filepath.Join(appDir, folder), rec.SourceDir)
		if err != nil {
			return PublishRecord{}, fmt.Errorf("failed to copy support files: %w", err)
		}
		logger.Debug("support files copied", "source_folder", folder, "files", n)
	}

	res, err := s.deps.Packager.Package(ctx, packaging.Request{
		App:       rec.IntuneAppName,
		SourceDir: rec.SourceDir,
		SetupFile: setupFile,
		OutputDir: s.deps.WorkDir.Packages(rec.AppFolderName),
	})
	if err != nil {
		return PublishRecord{}, err
	}

	return PublishRecord{
		PrepareRecord:      rec,
		SetupFile:          setupFile,
		PackagePath:        res.Path,
		PackageSize:        res.Size,
		PackageFingerprint: res.Fingerprint,
		ContentName:        res.Metadata.Name,
		ContentSize:        res.Metadata.UnencryptedContentSize,
		EncryptedSize:      res.Metadata.EncryptedContentSize,
		Msi:                res.Metadata.MsiInfo,
	}, nil
}

// copyTree copies the regular files below src into dst, keeping their
// relative paths. A missing src is not an error.
func copyTree(src, dst string) (int, error) {
	if _, err := os.Stat(src); os.IsNotExist(err) {
		return 0, nil
	}
	var copied int
	err := filepath.WalkDir(src, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)
		if d.IsDir() {
			return os.MkdirAll(target, 0o755)
		}
		if !d.Type().IsRegular() {
			return nil
		}
		if err := copyFile(path, target); err != nil {
			return err
		}
		copied++
		return nil
	})
	return copied, err
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		return err
	}
	return out.Close()
}
