package storage

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

// newTestDB creates an in-memory SQLite database for testing
func newTestDB(t *testing.T) *DB {
	t.Helper()

	db, err := InitDB(Config{
		DatabasePath: ":memory:",
		LogLevel:     "silent",
	})
	if err != nil {
		t.Fatalf("failed to create test database: %v", err)
	}

	t.Cleanup(func() {
		if err := db.Close(); err != nil {
			t.Errorf("failed to close test database: %v", err)
		}
	})

	return db
}

// createTestPublication creates a Publication with default test values
func createTestPublication(app, version, catalogID string, at time.Time) *Publication {
	return &Publication{
		RunID:              "run-1",
		App:                app,
		Version:            version,
		NormalizedVersion:  version,
		DisplayName:        "Igor Pavlov 7-Zip " + version,
		Publisher:          "Igor Pavlov",
		Source:             "CatalogLookup",
		SourceURI:          "https://www.7-zip.org/a/7z2408-x64.msi",
		CatalogAppID:       catalogID,
		InstallerSHA256:    "abc123",
		Verification:       "sha256",
		PackageFileName:    "7z2408-x64.intunewin",
		PackageSize:        1500000,
		PackageFingerprint: "b3",
		PublishedAt:        at,
	}
}

func TestInitDB(t *testing.T) {
	db := newTestDB(t)
	for _, model := range []interface{}{&Publication{}, &Run{}} {
		if !db.db.Migrator().HasTable(model) {
			t.Errorf("table for %T was not migrated", model)
		}
	}
}

func TestRecordPublication(t *testing.T) {
	tests := []struct {
		name    string
		pub     *Publication
		wantErr error
	}{
		{name: "valid", pub: createTestPublication("7-Zip", "24.08", "app-1", time.Now())},
		{name: "nil", pub: nil, wantErr: ErrNilPublication},
		{name: "empty app", pub: createTestPublication(" ", "24.08", "app-2", time.Now()), wantErr: ErrEmptyApp},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db := newTestDB(t)
			err := db.RecordPublication(tt.pub)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("RecordPublication() error = %v, want %v", err, tt.wantErr)
			}
			if tt.wantErr == nil && tt.pub.ID == 0 {
				t.Error("RecordPublication() did not assign an ID")
			}
		})
	}
}

func TestRecordPublicationDefaultsTimestamp(t *testing.T) {
	db := newTestDB(t)
	p := createTestPublication("7-Zip", "24.08", "app-1", time.Time{})
	if err := db.RecordPublication(p); err != nil {
		t.Fatal(err)
	}
	if p.PublishedAt.IsZero() {
		t.Error("PublishedAt was not defaulted")
	}
}

func TestRecordPublicationDuplicate(t *testing.T) {
	db := newTestDB(t)
	if err := db.RecordPublication(createTestPublication("7-Zip", "24.08", "app-1", time.Now())); err != nil {
		t.Fatal(err)
	}
	if err := db.RecordPublication(createTestPublication("7-Zip", "24.08", "app-1", time.Now())); err == nil {
		t.Error("duplicate publication should be rejected")
	}
}

func TestListPublications(t *testing.T) {
	db := newTestDB(t)
	now := time.Now().UTC()
	for _, p := range []*Publication{
		createTestPublication("7-Zip", "23.01", "app-1", now.Add(-48*time.Hour)),
		createTestPublication("7-Zip", "24.08", "app-2", now),
		createTestPublication("Notepad++", "8.6.9", "app-3", now.Add(time.Hour)),
	} {
		if err := db.RecordPublication(p); err != nil {
			t.Fatal(err)
		}
	}

	all, err := db.ListPublications()
	if err != nil {
		t.Fatal(err)
	}
	var order []string
	for _, p := range all {
		order = append(order, p.Version)
	}
	if diff := cmp.Diff([]string{"8.6.9", "24.08", "23.01"}, order); diff != "" {
		t.Errorf("ListPublications() order mismatch (-want +got):\n%s", diff)
	}

	byApp, err := db.ListByApp("7-Zip")
	if err != nil || len(byApp) != 2 {
		t.Errorf("ListByApp() = %d entries, %v", len(byApp), err)
	}
}

func TestPublicationStatus(t *testing.T) {
	db := newTestDB(t)
	now := time.Now()

	done := createTestPublication("7-Zip", "23.01", "app-1", now)
	if err := db.RecordPublication(done); err != nil {
		t.Fatal(err)
	}
	if done.Status != PublicationComplete {
		t.Errorf("Status = %q, want default %q", done.Status, PublicationComplete)
	}
	broken := createTestPublication("7-Zip", "24.08", "app-2", now)
	broken.Status = PublicationIncomplete
	if err := db.RecordPublication(broken); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		version string
		want    bool
	}{
		{version: "23.01", want: true},
		{version: "24.08", want: false},
		{version: "25.00", want: false},
	}
	for _, tt := range tests {
		got, err := db.IsPublished("7-Zip", tt.version)
		if err != nil || got != tt.want {
			t.Errorf("IsPublished(7-Zip, %s) = %v, %v, want %v", tt.version, got, err, tt.want)
		}
	}

	incompleteTests := []struct {
		ids  []string
		want bool
	}{
		{ids: nil, want: false},
		{ids: []string{"app-1"}, want: false},
		{ids: []string{"app-2"}, want: true},
		{ids: []string{"app-1", "app-2"}, want: true},
		{ids: []string{"unknown"}, want: false},
	}
	for _, tt := range incompleteTests {
		got, err := db.HasIncomplete(tt.ids)
		if err != nil || got != tt.want {
			t.Errorf("HasIncomplete(%v) = %v, %v, want %v", tt.ids, got, err, tt.want)
		}
	}
}

func TestUpdateAssignments(t *testing.T) {
	db := newTestDB(t)
	if err := db.RecordPublication(createTestPublication("7-Zip", "24.08", "app-1", time.Now())); err != nil {
		t.Fatal(err)
	}
	if err := db.UpdateAssignments("app-1", 2, 1); err != nil {
		t.Fatalf("UpdateAssignments() unexpected error: %v", err)
	}
	pubs, err := db.ListByApp("7-Zip")
	if err != nil || len(pubs) != 1 {
		t.Fatalf("ListByApp() = %v, %v", pubs, err)
	}
	if p := pubs[0]; p.AssignmentsSubmitted != 2 || p.AssignmentsFailed != 1 {
		t.Errorf("assignments = %d/%d, want 2/1", p.AssignmentsSubmitted, p.AssignmentsFailed)
	}
	if err := db.UpdateAssignments("missing", 1, 0); !errors.Is(err, ErrNotFound) {
		t.Errorf("UpdateAssignments(missing) error = %v, want ErrNotFound", err)
	}
}

func TestRuns(t *testing.T) {
	db := newTestDB(t)

	if _, err := db.StartRun("", 1); !errors.Is(err, ErrEmptyRunID) {
		t.Errorf("StartRun(\"\") error = %v, want ErrEmptyRunID", err)
	}
	run, err := db.StartRun("run-1", 3)
	if err != nil {
		t.Fatalf("StartRun() unexpected error: %v", err)
	}
	if run.Status != RunStatusRunning {
		t.Errorf("Status = %q, want %q", run.Status, RunStatusRunning)
	}

	summary := RunSummary{
		Status: RunStatusPartial,
		Stages: []StageSummary{
			{Stage: "process", In: 3, Out: 2, Failed: 1},
			{Stage: "publish", In: 2, Out: 2},
		},
		Failures: []FailedApp{{App: "VLC", Stage: "process", Error: "not found"}},
	}
	if err := db.FinishRun("run-1", summary); err != nil {
		t.Fatalf("FinishRun() unexpected error: %v", err)
	}
	if err := db.FinishRun("run-x", summary); !errors.Is(err, ErrRunNotFound) {
		t.Errorf("FinishRun(run-x) error = %v, want ErrRunNotFound", err)
	}

	got, err := db.GetRun("run-1")
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != RunStatusPartial || got.Published != 2 || got.Failures != 1 || got.FinishedAt.IsZero() {
		t.Errorf("GetRun() = %+v", got)
	}
	decoded, err := got.DecodeSummary()
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(summary, decoded); diff != "" {
		t.Errorf("summary mismatch (-want +got):\n%s", diff)
	}

	if _, err := db.GetRun("missing"); !errors.Is(err, ErrRunNotFound) {
		t.Errorf("GetRun(missing) error = %v, want ErrRunNotFound", err)
	}

	if _, err := db.StartRun("run-2", 0); err != nil {
		t.Fatal(err)
	}
	runs, err := db.ListRuns(1)
	if err != nil || len(runs) != 1 {
		t.Fatalf("ListRuns(1) = %d runs, %v", len(runs), err)
	}
	if runs[0].RunID != "run-2" {
		t.Errorf("ListRuns(1)[0] = %s, want run-2", runs[0].RunID)
	}
}

func TestGetStats(t *testing.T) {
	db := newTestDB(t)
	now := time.Now()
	_ = db.RecordPublication(createTestPublication("7-Zip", "23.01", "app-1", now))
	_ = db.RecordPublication(createTestPublication("7-Zip", "24.08", "app-2", now))
	_ = db.RecordPublication(createTestPublication("Notepad++", "8.6.9", "app-3", now))
	broken := createTestPublication("Notepad++", "8.7.0", "app-4", now)
	broken.Status = PublicationIncomplete
	_ = db.RecordPublication(broken)
	_, _ = db.StartRun("run-1", 2)
	_, _ = db.StartRun("run-2", 2)
	_ = db.FinishRun("run-2", RunSummary{Status: RunStatusFailed})

	stats, err := db.GetStats()
	if err != nil {
		t.Fatalf("GetStats() unexpected error: %v", err)
	}
	want := Stats{
		TotalPublications:      3,
		IncompletePublications: 1,
		TotalRuns:              2,
		FailedRuns:             1,
		ByApp:                  []AppCount{{App: "7-Zip", Count: 2}, {App: "Notepad++", Count: 1}},
	}
	if diff := cmp.Diff(want, stats); diff != "" {
		t.Errorf("GetStats() mismatch (-want +got):\n%s", diff)
	}
}

func TestExportHistoryJSON(t *testing.T) {
	db := newTestDB(t)

	data, err := db.ExportHistoryJSON("", 10)
	if err != nil {
		t.Fatal(err)
	}
	var empty map[string][]json.RawMessage
	if err := json.Unmarshal(data, &empty); err != nil {
		t.Fatal(err)
	}
	if empty["runs"] == nil || empty["publications"] == nil {
		t.Errorf("empty history should have empty arrays, got %s", data)
	}

	_ = db.RecordPublication(createTestPublication("7-Zip", "24.08", "app-1", time.Now()))
	_ = db.RecordPublication(createTestPublication("Notepad++", "8.6.9", "app-2", time.Now()))
	data, err = db.ExportHistoryJSON("Notepad++", 10)
	if err != nil {
		t.Fatal(err)
	}
	var h History
	if err := json.Unmarshal(data, &h); err != nil {
		t.Fatal(err)
	}
	if len(h.Publications) != 1 || h.Publications[0].App != "Notepad++" {
		t.Errorf("history publications = %+v", h.Publications)
	}
}
