package report

import (
	"fmt"
	"sort"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/clean-dependency-project/appfactory/internal/storage"
	"github.com/clean-dependency-project/appfactory/internal/version"
)

var statusCaser = cases.Title(language.English)

// BuildModel groups publications by application and converts runs for the
// templates. Applications are sorted by name, publications by version with
// the newest first and runs keep the order they were given in. Incomplete
// publications are left out.
func BuildModel(pubs []*storage.Publication, runs []*storage.Run, stats storage.Stats) *SiteModel {
	byApp := make(map[string]*AppModel)
	for _, p := range pubs {
		if p.Status == storage.PublicationIncomplete {
			continue
		}
		app, ok := byApp[p.App]
		if !ok {
			app = &AppModel{Name: p.App, Publisher: p.Publisher, Source: p.Source}
			byApp[p.App] = app
		}
		app.Publications = append(app.Publications, publicationModel(p))
	}

	names := make([]string, 0, len(byApp))
	for name := range byApp {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool {
		a, b := strings.ToLower(names[i]), strings.ToLower(names[j])
		if a == b {
			return names[i] < names[j]
		}
		return a < b
	})

	model := &SiteModel{
		Stats: StatsModel{
			Apps:         len(names),
			Publications: stats.TotalPublications,
			Runs:         stats.TotalRuns,
			FailedRuns:   stats.FailedRuns,
		},
		Apps: make([]AppModel, 0, len(names)),
		Runs: make([]RunModel, 0, len(runs)),
	}

	slugs := make(map[string]int)
	for _, name := range names {
		app := byApp[name]
		sortPublications(app.Publications)
		app.Slug = uniqueSlug(slugs, name)
		model.Apps = append(model.Apps, *app)
	}
	for _, r := range runs {
		model.Runs = append(model.Runs, runModel(r))
	}
	return model
}

func publicationModel(p *storage.Publication) PublicationModel {
	v := p.NormalizedVersion
	if v == "" {
		v = p.Version
	}
	return PublicationModel{
		Version:              v,
		DisplayName:          p.DisplayName,
		CatalogAppID:         p.CatalogAppID,
		SourceURI:            p.SourceURI,
		InstallerSHA256:      p.InstallerSHA256,
		Verification:         p.Verification,
		PackageFileName:      p.PackageFileName,
		PackageSize:          p.PackageSize,
		PackageFingerprint:   p.PackageFingerprint,
		AssignmentsSubmitted: p.AssignmentsSubmitted,
		AssignmentsFailed:    p.AssignmentsFailed,
		RunID:                p.RunID,
		PublishedAt:          p.PublishedAt,
	}
}

// sortPublications orders by version, newest first. Versions that cannot be
// compared fall back to publication time.
func sortPublications(pubs []PublicationModel) {
	sort.SliceStable(pubs, func(i, j int) bool {
		if c, err := version.Compare(pubs[i].Version, pubs[j].Version); err == nil && c != 0 {
			return c > 0
		}
		return pubs[i].PublishedAt.After(pubs[j].PublishedAt)
	})
}

func uniqueSlug(seen map[string]int, name string) string {
	slug := Slug(name)
	if slug == "" {
		slug = "app"
	}
	seen[slug]++
	if n := seen[slug]; n > 1 {
		return fmt.Sprintf("%s-%d", slug, n)
	}
	return slug
}

func runModel(r *storage.Run) RunModel {
	m := RunModel{
		RunID:       r.RunID,
		Status:      r.Status,
		StatusLabel: statusCaser.String(strings.ReplaceAll(r.Status, "_", " ")),
		Apps:        r.Apps,
		Published:   r.Published,
		Failures:    r.Failures,
		StartedAt:   r.StartedAt,
	}
	if !r.FinishedAt.IsZero() {
		m.Duration = r.FinishedAt.Sub(r.StartedAt)
	}
	// A summary that cannot be decoded still leaves the counters.
	if summary, err := r.DecodeSummary(); err == nil {
		for _, st := range summary.Stages {
			m.Stages = append(m.Stages, StageModel{Name: st.Stage, In: st.In, Out: st.Out, Failed: st.Failed})
		}
		for _, f := range summary.Failures {
			m.FailedApps = append(m.FailedApps, FailedAppModel{App: f.App, Stage: f.Stage, Error: f.Error})
		}
	}
	return m
}

// Feed lists the latest publication of every application.
func Feed(model *SiteModel) []FeedEntry {
	out := make([]FeedEntry, 0, len(model.Apps))
	for _, app := range model.Apps {
		latest := app.Latest()
		out = append(out, FeedEntry{
			App:          app.Name,
			Version:      latest.Version,
			DisplayName:  latest.DisplayName,
			CatalogAppID: latest.CatalogAppID,
			PackageHash:  latest.PackageFingerprint,
			PublishedAt:  latest.PublishedAt,
		})
	}
	return out
}
