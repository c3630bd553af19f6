package resolver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/clean-dependency-project/appfactory/internal/evergreen"
	"github.com/clean-dependency-project/appfactory/internal/manifest"
	"github.com/clean-dependency-project/appfactory/internal/version"
	"github.com/clean-dependency-project/appfactory/internal/winget"
)

// CatalogLookup resolves applications through the Evergreen API. Every
// populated filter field must match a candidate, case-insensitively.
type CatalogLookup struct {
	client evergreen.Client
	logger *slog.Logger
}

func NewCatalogLookup(client evergreen.Client, logger *slog.Logger) *CatalogLookup {
	if logger == nil {
		logger = slog.Default()
	}
	return &CatalogLookup{client: client, logger: logger}
}

func (s *CatalogLookup) Resolve(ctx context.Context, app manifest.AppDescriptor) (ResolvedVersion, error) {
	releases, err := s.client.GetApp(ctx, app.AppID)
	if err != nil {
		if errors.Is(err, evergreen.ErrAppNotFound) {
			return ResolvedVersion{}, fmt.Errorf("%w: %w", ErrNotFound, err)
		}
		return ResolvedVersion{}, err
	}

	predicates := mergePredicates(app.FilterOptions)
	var matches []evergreen.Release
	for _, r := range releases {
		if matchesAll(r, predicates) {
			matches = append(matches, r)
		}
	}
	if len(matches) == 0 {
		return ResolvedVersion{}, fmt.Errorf("%w: %d candidates for %s, none match filter %v",
			ErrNotFound, len(releases), app.AppID, predicates)
	}
	if len(matches) > 1 {
		s.logger.Warn("ambiguous catalog lookup, using first match",
			"app", app.IntuneAppName,
			"app_id", app.AppID,
			"matches", len(matches))
	}

	first := matches[0]
	installerType := first.InstallerType
	if installerType == "" {
		installerType = first.Type
	}
	return ResolvedVersion{
		Version:       first.Version,
		URI:           first.URI,
		InstallerType: installerType,
	}, nil
}

func mergePredicates(filters []manifest.Filter) map[string]string {
	out := make(map[string]string)
	for _, f := range filters {
		for k, v := range f.Predicates() {
			out[k] = v
		}
	}
	return out
}

func matchesAll(r evergreen.Release, predicates map[string]string) bool {
	for field, want := range predicates {
		if !strings.EqualFold(r.Field(field), want) {
			return false
		}
	}
	return true
}

// PackageShower looks up a package by exact id.
type PackageShower interface {
	Show(ctx context.Context, id string) (*winget.Package, error)
}

// PackageManager resolves applications through the package manager.
type PackageManager struct {
	client PackageShower
}

func NewPackageManager(client PackageShower) *PackageManager {
	return &PackageManager{client: client}
}

func (s *PackageManager) Resolve(ctx context.Context, app manifest.AppDescriptor) (ResolvedVersion, error) {
	pkg, err := s.client.Show(ctx, app.AppID)
	if err != nil {
		if errors.Is(err, winget.ErrPackageNotFound) {
			return ResolvedVersion{}, fmt.Errorf("%w: %w", ErrNotFound, err)
		}
		return ResolvedVersion{}, err
	}
	return ResolvedVersion{
		Version:       pkg.Version,
		URI:           pkg.InstallerURL,
		InstallerType: pkg.InstallerType,
	}, nil
}

// ReleaseLookup is the subset of the GitHub client used for release assets.
type ReleaseLookup interface {
	LatestReleaseTag(ctx context.Context, repository string) (string, error)
	ReleaseTags(ctx context.Context, repository string) ([]string, error)
	AssetURL(repository, tag, fileName string) (string, error)
}

// ReleaseAsset resolves applications published as release assets. An
// explicit tag is used verbatim without an API call; "latest" or an empty tag
// asks for the newest release, and a tag constraint picks the newest tag
// satisfying it.
type ReleaseAsset struct {
	releases ReleaseLookup
}

func NewReleaseAsset(releases ReleaseLookup) *ReleaseAsset {
	return &ReleaseAsset{releases: releases}
}

func (s *ReleaseAsset) Resolve(ctx context.Context, app manifest.AppDescriptor) (ResolvedVersion, error) {
	tag, err := s.tag(ctx, app)
	if err != nil {
		return ResolvedVersion{}, err
	}
	fileName := strings.ReplaceAll(app.FileName, "{tag}", tag)
	uri, err := s.releases.AssetURL(app.Repository, tag, fileName)
	if err != nil {
		return ResolvedVersion{}, err
	}
	return ResolvedVersion{Version: tag, URI: uri}, nil
}

func (s *ReleaseAsset) tag(ctx context.Context, app manifest.AppDescriptor) (string, error) {
	switch {
	case app.TagConstraint != "":
		tags, err := s.releases.ReleaseTags(ctx, app.Repository)
		if err != nil {
			return "", err
		}
		tag, err := version.LatestMatching(tags, app.TagConstraint)
		if err != nil {
			return "", fmt.Errorf("%w: %w", ErrNotFound, err)
		}
		return tag, nil
	case app.Tag == "" || strings.EqualFold(app.Tag, manifest.LatestTag):
		return s.releases.LatestReleaseTag(ctx, app.Repository)
	default:
		return app.Tag, nil
	}
}

// DirectURL takes version and URL verbatim from the descriptor.
type DirectURL struct{}

func (DirectURL) Resolve(_ context.Context, app manifest.AppDescriptor) (ResolvedVersion, error) {
	return ResolvedVersion{Version: app.Version, URI: app.URI}, nil
}

// NewDefaultTable wires the four built-in strategies.
func NewDefaultTable(catalog evergreen.Client, packages PackageShower, releases ReleaseLookup, logger *slog.Logger) (*Table, error) {
	return NewTable(map[manifest.SourceKind]Strategy{
		manifest.SourceCatalogLookup:  NewCatalogLookup(catalog, logger),
		manifest.SourcePackageManager: NewPackageManager(packages),
		manifest.SourceReleaseAsset:   NewReleaseAsset(releases),
		manifest.SourceDirectURL:      DirectURL{},
	}, logger)
}
