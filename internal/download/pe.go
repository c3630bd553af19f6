package download

import (
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/saferwall/pe"

	"github.com/clean-dependency-project/appfactory/internal/version"
)

var ErrNoVersionResource = errors.New("no version resource")

// ProductVersion reads the ProductVersion of a PE installer, falling back to
// FileVersion.
func ProductVersion(path string) (string, error) {
	f, err := pe.New(path, &pe.Options{})
	if err != nil {
		return "", fmt.Errorf("failed to open PE file: %w", err)
	}
	defer f.Close()

	if err := f.Parse(); err != nil {
		return "", fmt.Errorf("failed to parse PE file: %w", err)
	}
	info, err := f.ParseVersionResources()
	if err != nil {
		return "", fmt.Errorf("failed to parse version resources: %w", err)
	}
	for _, key := range []string{"ProductVersion", "FileVersion"} {
		if v := strings.TrimSpace(info[key]); v != "" {
			return strings.ReplaceAll(v, ",", "."), nil
		}
	}
	return "", ErrNoVersionResource
}

// CheckProductVersion compares the PE version of an .exe installer with the
// resolved version and logs a warning when they differ. It never fails the
// download; non-PE installers are skipped.
func CheckProductVersion(path, resolved string, logger *slog.Logger) {
	if !strings.EqualFold(filepath.Ext(path), ".exe") {
		return
	}
	found, err := ProductVersion(path)
	if err != nil {
		logger.Debug("installer version not readable", "file", path, "error", err)
		return
	}
	cmp, err := version.Compare(found, resolved)
	if err != nil || cmp != 0 {
		logger.Warn("installer version differs from resolved version",
			"file", path,
			"installer_version", found,
			"resolved_version", resolved)
	}
}
