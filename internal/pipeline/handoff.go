package pipeline

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// Hand-off list file names, in stage order.
const (
	ProcessList  = "ProcessList.json"
	DownloadList = "DownloadList.json"
	PrepareList  = "PrepareList.json"
	PublishList  = "PublishList.json"
	AssignList   = "AssignList.json"
)

// ListFiles returns every hand-off file name in stage order.
func ListFiles() []string {
	return []string{ProcessList, DownloadList, PrepareList, PublishList, AssignList}
}

// Handoff persists stage lists as JSON arrays in one folder.
type Handoff struct {
	dir string
}

// NewHandoff creates dir if needed.
func NewHandoff(dir string) (*Handoff, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create lists directory %s: %w", dir, err)
	}
	return &Handoff{dir: dir}, nil
}

// Path returns the location of the named list.
func (h *Handoff) Path(name string) string {
	return filepath.Join(h.dir, name)
}

// Clear removes the lists of a previous run so a halted run leaves no stale
// downstream list behind.
func (h *Handoff) Clear() error {
	for _, name := range ListFiles() {
		if err := os.Remove(h.Path(name)); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("failed to remove %s: %w", name, err)
		}
	}
	return nil
}

// WriteList writes records as an indented JSON array. A nil slice is
// written as an empty array.
func WriteList[T any](h *Handoff, name string, records []T) error {
	if records == nil {
		records = []T{}
	}
	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", name, err)
	}
	if err := os.WriteFile(h.Path(name), append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", name, err)
	}
	return nil
}

// ReadList reads a list written by WriteList.
func ReadList[T any](h *Handoff, name string) ([]T, error) {
	data, err := os.ReadFile(h.Path(name))
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", name, err)
	}
	var records []T
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", name, err)
	}
	return records, nil
}
