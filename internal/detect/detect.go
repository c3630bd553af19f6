// Package detect decides whether a resolved version is newer than anything
// already published in the catalog.
package detect

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/sahilm/fuzzy"

	"github.com/clean-dependency-project/appfactory/internal/catalog"
	"github.com/clean-dependency-project/appfactory/internal/naming"
	"github.com/clean-dependency-project/appfactory/internal/resolver"
	"github.com/clean-dependency-project/appfactory/internal/version"
)

// maxHints bounds the number of near-miss names logged when nothing matches.
const maxHints = 3

// Lister lists the published Win32 apps.
type Lister interface {
	ListWin32Apps(ctx context.Context) ([]catalog.App, error)
}

// Decision is the outcome of a change check.
type Decision struct {
	NeedsUpdate bool
	// Published is the highest comparable published version, empty when no
	// entry matched or none was comparable.
	Published string
	// PublishedIDs are the catalog ids of the entries at Published.
	PublishedIDs []string
	// Candidate is the comparable form of the resolved version.
	Candidate string
	Matches   int
}

// Detector compares resolved versions with catalog entries.
type Detector struct {
	lister Lister
	logger *slog.Logger
}

func NewDetector(lister Lister, logger *slog.Logger) *Detector {
	if logger == nil {
		logger = slog.Default()
	}
	return &Detector{lister: lister, logger: logger}
}

// NeedsUpdate lists the catalog, keeps entries whose display name starts with
// prefix and reports whether resolved is newer than the highest of them.
// Entries with a free-form displayVersion take no part in the comparison.
// Catalog failures wrap catalog.ErrCatalogQuery and an unusable resolved
// version wraps version.ErrComparisonAmbiguity.
func (d *Detector) NeedsUpdate(ctx context.Context, resolved resolver.ResolvedVersion, prefix string) (Decision, error) {
	candidate := resolved.NormalizedVersion
	if candidate == "" {
		c, err := version.Comparable(resolved.Version)
		if err != nil {
			return Decision{}, err
		}
		candidate = c
	}

	apps, err := d.lister.ListWin32Apps(ctx)
	if err != nil {
		return Decision{}, fmt.Errorf("%w: %w", catalog.ErrCatalogQuery, err)
	}

	var matched []catalog.App
	var published []string
	for _, app := range apps {
		if naming.HasPrefix(app.DisplayName, prefix) {
			matched = append(matched, app)
			published = append(published, app.DisplayVersion)
		}
	}

	decision := Decision{Candidate: candidate, Matches: len(published)}
	if len(published) == 0 {
		d.logHints(prefix, apps)
		decision.NeedsUpdate = true
		return decision, nil
	}

	highest, err := version.Max(published)
	if err != nil {
		d.logger.Warn("no comparable published version", "prefix", prefix, "matches", len(published))
		decision.NeedsUpdate = true
		return decision, nil
	}
	decision.Published = highest
	for _, app := range matched {
		v := strings.TrimSpace(app.DisplayVersion)
		if !version.IsComparable(v) {
			continue
		}
		if c, err := version.Compare(v, highest); err == nil && c == 0 {
			decision.PublishedIDs = append(decision.PublishedIDs, app.ID)
		}
	}

	cmp, err := version.Compare(candidate, highest)
	if err != nil {
		return Decision{}, err
	}
	decision.NeedsUpdate = cmp > 0
	return decision, nil
}

func (d *Detector) logHints(prefix string, apps []catalog.App) {
	names := make([]string, len(apps))
	for i, app := range apps {
		names[i] = app.DisplayName
	}
	matches := fuzzy.Find(prefix, names)
	if len(matches) == 0 {
		d.logger.Info("no catalog entry matches prefix", "prefix", prefix)
		return
	}
	hints := make([]string, 0, maxHints)
	for _, m := range matches {
		if len(hints) == maxHints {
			break
		}
		hints = append(hints, m.Str)
	}
	d.logger.Info("no catalog entry matches prefix", "prefix", prefix, "closest", hints)
}
