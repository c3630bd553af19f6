package report

import (
	"bytes"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
)

// writeFileIfChanged writes content to path unless the file already holds
// exactly that content, so regenerating from an unchanged ledger leaves the
// output tree untouched.
func writeFileIfChanged(path string, content []byte, logger *slog.Logger) (bool, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return false, fmt.Errorf("failed to create directory: %w", err)
	}
	if existing, err := os.ReadFile(path); err == nil && bytes.Equal(existing, content) {
		logger.Debug("file unchanged, skipping", "path", path)
		return false, nil
	}
	if err := os.WriteFile(path, content, 0o644); err != nil {
		return false, fmt.Errorf("failed to write file: %w", err)
	}
	logger.Debug("file written", "path", path)
	return true, nil
}
