package report

import "time"

// SiteModel is everything the templates render.
type SiteModel struct {
	Stats StatsModel
	Apps  []AppModel
	Runs  []RunModel
}

// StatsModel holds the ledger totals shown on the index page.
type StatsModel struct {
	Apps         int
	Publications int64
	Runs         int64
	FailedRuns   int64
}

// AppModel is one application and its publications, newest version first.
type AppModel struct {
	Name         string
	Slug         string
	Publisher    string
	Source       string
	Publications []PublicationModel
}

// Latest returns the newest publication of the application.
func (a AppModel) Latest() PublicationModel {
	return a.Publications[0]
}

// PublicationModel is one published version.
type PublicationModel struct {
	Version              string
	DisplayName          string
	CatalogAppID         string
	SourceURI            string
	InstallerSHA256      string
	Verification         string
	PackageFileName      string
	PackageSize          int64
	PackageFingerprint   string
	AssignmentsSubmitted int
	AssignmentsFailed    int
	RunID                string
	PublishedAt          time.Time
}

// RunModel is one pipeline run.
type RunModel struct {
	RunID       string
	Status      string
	StatusLabel string
	Apps        int
	Published   int
	Failures    int
	StartedAt   time.Time
	Duration    time.Duration
	Stages      []StageModel
	FailedApps  []FailedAppModel
}

// StageModel counts the records of one stage in a run.
type StageModel struct {
	Name   string
	In     int
	Out    int
	Failed int
}

// FailedAppModel is one per-application failure of a run.
type FailedAppModel struct {
	App   string
	Stage string
	Error string
}

// FeedEntry is one element of the JSON feed.
type FeedEntry struct {
	App          string    `json:"app"`
	Version      string    `json:"version"`
	DisplayName  string    `json:"display_name"`
	CatalogAppID string    `json:"catalog_app_id"`
	PackageHash  string    `json:"package_blake3,omitempty"`
	PublishedAt  time.Time `json:"published_at"`
}
