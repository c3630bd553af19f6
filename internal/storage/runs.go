package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
)

// Run statuses.
const (
	RunStatusRunning   = "running"
	RunStatusSucceeded = "succeeded"
	RunStatusPartial   = "partial"
	RunStatusNothing   = "nothing_to_do"
	RunStatusFailed    = "failed"
)

var (
	ErrEmptyRunID  = errors.New("run id cannot be empty")
	ErrRunNotFound = errors.New("run not found")
)

// Run is one pipeline execution.
type Run struct {
	ID         uint      `gorm:"primaryKey" json:"id"`
	RunID      string    `gorm:"not null;uniqueIndex" json:"run_id"`
	Status     string    `gorm:"not null;index" json:"status"`
	Apps       int       `gorm:"not null" json:"apps"`
	Published  int       `gorm:"not null;default:0" json:"published"`
	Failures   int       `gorm:"not null;default:0" json:"failures"`
	Summary    string    `gorm:"type:json" json:"summary"` // JSON blob of RunSummary
	StartedAt  time.Time `gorm:"not null" json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
}

// TableName overrides the table name for GORM.
func (Run) TableName() string {
	return "runs"
}

// RunSummary is stored as JSON in Run.Summary.
type RunSummary struct {
	Status   string         `json:"status"`
	Stages   []StageSummary `json:"stages"`
	Failures []FailedApp    `json:"failures,omitempty"`
}

// StageSummary counts the records a stage received and produced.
type StageSummary struct {
	Stage  string `json:"stage"`
	In     int    `json:"in"`
	Out    int    `json:"out"`
	Failed int    `json:"failed"`
}

// FailedApp is one per-app failure.
type FailedApp struct {
	App   string `json:"app"`
	Stage string `json:"stage"`
	Error string `json:"error"`
}

// DecodeSummary parses the stored summary. An empty summary decodes to the
// zero value.
func (r *Run) DecodeSummary() (RunSummary, error) {
	var s RunSummary
	if r.Summary == "" {
		return s, nil
	}
	if err := json.Unmarshal([]byte(r.Summary), &s); err != nil {
		return RunSummary{}, fmt.Errorf("failed to decode run summary: %w", err)
	}
	return s, nil
}

// StartRun records the start of a run.
func (d *DB) StartRun(runID string, apps int) (*Run, error) {
	if runID == "" {
		return nil, ErrEmptyRunID
	}
	r := &Run{RunID: runID, Status: RunStatusRunning, Apps: apps, StartedAt: time.Now().UTC()}
	if err := d.db.Create(r).Error; err != nil {
		return nil, fmt.Errorf("failed to start run: %w", err)
	}
	return r, nil
}

// FinishRun stores the outcome of a run.
func (d *DB) FinishRun(runID string, summary RunSummary) error {
	data, err := json.Marshal(summary)
	if err != nil {
		return fmt.Errorf("failed to marshal run summary: %w", err)
	}
	published := 0
	for _, s := range summary.Stages {
		if s.Stage == "publish" {
			published = s.Out
		}
	}
	res := d.db.Model(&Run{}).Where("run_id = ?", runID).Updates(map[string]interface{}{
		"status":      summary.Status,
		"published":   published,
		"failures":    len(summary.Failures),
		"summary":     string(data),
		"finished_at": time.Now().UTC(),
	})
	if res.Error != nil {
		return fmt.Errorf("failed to finish run %s: %w", runID, res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	return nil
}

// GetRun retrieves a run by its id.
func (d *DB) GetRun(runID string) (*Run, error) {
	var r Run
	if err := d.db.Where("run_id = ?", runID).First(&r).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrRunNotFound
		}
		return nil, fmt.Errorf("failed to get run: %w", err)
	}
	return &r, nil
}

// ListRuns returns the most recent runs first. A non-positive limit returns
// all runs.
func (d *DB) ListRuns(limit int) ([]*Run, error) {
	q := d.db.Order("started_at DESC, id DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	var runs []*Run
	if err := q.Find(&runs).Error; err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	return runs, nil
}

// History is the ledger export used by the history command.
type History struct {
	Runs         []*Run         `json:"runs"`
	Publications []*Publication `json:"publications"`
}

// ExportHistoryJSON exports recent runs and publications of app (all apps
// when empty) as indented JSON.
func (d *DB) ExportHistoryJSON(app string, runLimit int) ([]byte, error) {
	runs, err := d.ListRuns(runLimit)
	if err != nil {
		return nil, err
	}
	var pubs []*Publication
	if app == "" {
		pubs, err = d.ListPublications()
	} else {
		pubs, err = d.ListByApp(app)
	}
	if err != nil {
		return nil, err
	}
	if runs == nil {
		runs = []*Run{}
	}
	if pubs == nil {
		pubs = []*Publication{}
	}
	data, err := json.MarshalIndent(History{Runs: runs, Publications: pubs}, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal history to JSON: %w", err)
	}
	return data, nil
}
