// Package resolver determines the latest available version and download URL
// of an application from the source named in its descriptor.
package resolver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"path"
	"strings"

	"github.com/clean-dependency-project/appfactory/internal/manifest"
	"github.com/clean-dependency-project/appfactory/internal/version"
)

var (
	// ErrResolution is matched by every ResolutionError.
	ErrResolution = errors.New("version resolution failed")

	// ErrNotFound indicates the source has no matching package or release.
	ErrNotFound = errors.New("no matching version found")

	// ErrStrategyMissing indicates a source kind without a registered strategy.
	ErrStrategyMissing = errors.New("no strategy registered for source")
)

// ResolutionError reports a failed resolution for one application.
type ResolutionError struct {
	App    string
	Source manifest.SourceKind
	Err    error
}

func (e *ResolutionError) Error() string {
	return fmt.Sprintf("failed to resolve %s via %s: %v", e.App, e.Source, e.Err)
}

func (e *ResolutionError) Unwrap() error {
	return e.Err
}

func (e *ResolutionError) Is(target error) bool {
	return target == ErrResolution
}

// ResolvedVersion is the outcome of a successful resolution. It is recomputed
// on every run.
type ResolvedVersion struct {
	Version           string `json:"Version"`
	NormalizedVersion string `json:"NormalizedVersion"`
	URI               string `json:"URI"`
	InstallerType     string `json:"InstallerType"`
	FileExtension     string `json:"FileExtension"`
}

// Strategy resolves descriptors of one source kind. Implementations fill
// Version and URI and may fill InstallerType.
type Strategy interface {
	Resolve(ctx context.Context, app manifest.AppDescriptor) (ResolvedVersion, error)
}

// StrategyFunc adapts a function to Strategy.
type StrategyFunc func(ctx context.Context, app manifest.AppDescriptor) (ResolvedVersion, error)

func (f StrategyFunc) Resolve(ctx context.Context, app manifest.AppDescriptor) (ResolvedVersion, error) {
	return f(ctx, app)
}

// Table dispatches descriptors to the strategy of their source kind.
type Table struct {
	strategies map[manifest.SourceKind]Strategy
	logger     *slog.Logger
}

// NewTable builds a dispatch table. Every known source kind must have a
// strategy.
func NewTable(strategies map[manifest.SourceKind]Strategy, logger *slog.Logger) (*Table, error) {
	if logger == nil {
		logger = slog.Default()
	}
	for _, kind := range manifest.SourceKinds() {
		if strategies[kind] == nil {
			return nil, fmt.Errorf("%w: %s", ErrStrategyMissing, kind)
		}
	}
	copied := make(map[manifest.SourceKind]Strategy, len(strategies))
	for k, v := range strategies {
		copied[k] = v
	}
	return &Table{strategies: copied, logger: logger}, nil
}

// Resolve runs the descriptor's strategy and completes the result with the
// comparable version, installer type and file extension.
func (t *Table) Resolve(ctx context.Context, app manifest.AppDescriptor) (ResolvedVersion, error) {
	wrap := func(err error) error {
		return &ResolutionError{App: app.IntuneAppName, Source: app.AppSource, Err: err}
	}

	strategy, ok := t.strategies[app.AppSource]
	if !ok {
		return ResolvedVersion{}, wrap(fmt.Errorf("%w: %s", ErrStrategyMissing, app.AppSource))
	}

	resolved, err := strategy.Resolve(ctx, app)
	if err != nil {
		return ResolvedVersion{}, wrap(err)
	}
	if resolved.Version == "" {
		return ResolvedVersion{}, wrap(fmt.Errorf("%w: source returned an empty version", ErrNotFound))
	}
	if resolved.URI == "" {
		return ResolvedVersion{}, wrap(fmt.Errorf("%w: source returned no download URL", ErrNotFound))
	}

	normalized, err := version.Comparable(resolved.Version)
	if err != nil {
		return ResolvedVersion{}, wrap(err)
	}
	resolved.NormalizedVersion = normalized
	resolved.FileExtension = FileExtension(resolved.URI)
	if resolved.InstallerType == "" {
		resolved.InstallerType = strings.TrimPrefix(resolved.FileExtension, ".")
	}
	resolved.InstallerType = strings.ToLower(resolved.InstallerType)

	t.logger.Debug("resolved version",
		"app", app.IntuneAppName,
		"source", string(app.AppSource),
		"version", resolved.Version,
		"normalized", resolved.NormalizedVersion,
		"uri", resolved.URI)
	return resolved, nil
}

// FileExtension returns the lower-cased extension of the last path segment of
// uri, including the dot. Query strings are ignored.
func FileExtension(uri string) string {
	p := uri
	if u, err := url.Parse(uri); err == nil && u.Path != "" {
		p = u.Path
	}
	return strings.ToLower(path.Ext(p))
}
