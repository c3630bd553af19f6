package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// WorkDir lays out the per-application folders used while downloading and
// packaging:
//
//	{downloads}/{app}/            downloaded installer
//	{downloads}/{app}/expanded/   archive contents
//	{packages}/{app}/             packaging tool output
type WorkDir struct {
	downloads string
	packages  string
}

// NewWorkDir creates the download and package roots.
func NewWorkDir(downloads, packages string) (*WorkDir, error) {
	if downloads == "" || packages == "" {
		return nil, fmt.Errorf("downloads and packages directories are required")
	}
	for _, dir := range []string{downloads, packages} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create work directory %s: %w", dir, err)
		}
	}
	return &WorkDir{downloads: downloads, packages: packages}, nil
}

func safeName(app string) string {
	r := strings.NewReplacer("/", "_", `\`, "_", "..", "_", ":", "_")
	return r.Replace(strings.TrimSpace(app))
}

// Downloads returns the download folder of app.
func (w *WorkDir) Downloads(app string) string {
	return filepath.Join(w.downloads, safeName(app))
}

// Expanded returns the folder archives of app are expanded into.
func (w *WorkDir) Expanded(app string) string {
	return filepath.Join(w.Downloads(app), "expanded")
}

// Packages returns the packaging output folder of app.
func (w *WorkDir) Packages(app string) string {
	return filepath.Join(w.packages, safeName(app))
}

// Reset removes the download folder of app so a run never reuses a previous
// installer. It does not fail if the folder does not exist.
func (w *WorkDir) Reset(app string) error {
	dir := w.Downloads(app)
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("failed to reset %s: %w", dir, err)
	}
	return nil
}

// ListFiles returns the regular files directly under dir.
func ListFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var files []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		files = append(files, filepath.Join(dir, entry.Name()))
	}
	return files, nil
}
