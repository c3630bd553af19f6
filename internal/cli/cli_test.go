package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/clean-dependency-project/appfactory/internal/config"
	"github.com/clean-dependency-project/appfactory/internal/manifest"
	"github.com/clean-dependency-project/appfactory/internal/pipeline"
	"github.com/clean-dependency-project/appfactory/internal/storage"
)

const testConfig = `
version: "1.0"
workspace:
  app_list: appList.json
  apps_dir: Apps
pipeline:
  concurrency: 2
  call_timeout: 30s
storage:
  database_path: appfactory.db
`

const testAppList = `{
  "Apps": [
    {
      "IntuneAppName": "7-Zip",
      "IntuneAppNamingConvention": "PublisherAppNameAppVersion",
      "AppPublisher": "Igor Pavlov",
      "AppSource": "CatalogLookup",
      "AppId": "7zip",
      "AppFolderName": "7zip"
    }
  ]
}`

const testManifest = `{
  "PackageInformation": {"SetupType": "MSI", "SetupFile": "###SETUPFILENAME###"},
  "Program": {
    "InstallCommand": "msiexec.exe /i \"###SETUPFILENAME###\" /qn",
    "UninstallCommand": "msiexec.exe /x \"###PRODUCTCODE###\" /qn"
  },
  "DetectionRule": [{"Type": "MSI", "ProductCode": "###PRODUCTCODE###"}],
  "Assignment": [
    {"Type": "VirtualGroup", "GroupName": "AllDevices", "Intent": "required", "FilterName": "Corporate devices"}
  ]
}`

// writeWorkspace creates a configuration, an app list and one App.json and
// returns the configuration path.
func writeWorkspace(t *testing.T, manifestContent string) string {
	t.Helper()
	root := t.TempDir()
	files := map[string]string{
		"appfactory.yaml":    testConfig,
		"appList.json":       testAppList,
		"Apps/7zip/App.json": manifestContent,
	}
	for name, content := range files {
		path := filepath.Join(root, filepath.FromSlash(name))
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	return filepath.Join(root, "appfactory.yaml")
}

type fakePipeline struct {
	report   *pipeline.Report
	runErr   error
	check    pipeline.StageResult[pipeline.DownloadRecord]
	checkErr error
	apps     int
}

func (f *fakePipeline) Run(_ context.Context, list *manifest.AppList) (*pipeline.Report, error) {
	f.apps = len(list.Apps)
	return f.report, f.runErr
}

func (f *fakePipeline) Check(_ context.Context, list *manifest.AppList) (pipeline.StageResult[pipeline.DownloadRecord], error) {
	f.apps = len(list.Apps)
	return f.check, f.checkErr
}

type factoryCall struct {
	cfg  *config.Config
	opts pipeline.Options
}

func fakeFactory(p *fakePipeline, calls *[]factoryCall) PipelineFactory {
	return func(_ context.Context, cfg *config.Config, opts pipeline.Options, ledger *storage.DB, _ *slog.Logger) (Pipeline, error) {
		if ledger == nil {
			return nil, errors.New("ledger not opened")
		}
		*calls = append(*calls, factoryCall{cfg: cfg, opts: opts})
		return p, nil
	}
}

// runApp runs the CLI and returns what it printed on stdout.
func runApp(t *testing.T, factory PipelineFactory, args ...string) (string, error) {
	t.Helper()
	app := NewAppWithFactory(factory)
	var stdout bytes.Buffer
	app.Writer = &stdout
	app.ErrWriter = io.Discard
	err := app.Run(append([]string{"appfactory"}, args...))
	return stdout.String(), err
}

func TestRunCommandPrintsReport(t *testing.T) {
	cfgPath := writeWorkspace(t, testManifest)
	rec := pipeline.AssignedRecord{AssignmentIDs: []string{"a-1"}}
	rec.IntuneAppName = "7-Zip"
	rec.DisplayName = "Igor Pavlov 7-Zip 23.01"
	rec.CatalogAppID = "app-0001"
	p := &fakePipeline{report: &pipeline.Report{
		RunID:    "run-1",
		Status:   storage.RunStatusSucceeded,
		Stages:   []storage.StageSummary{{Stage: pipeline.StagePublish, In: 1, Out: 1}},
		Assigned: []pipeline.AssignedRecord{rec},
		Duration: 1500 * time.Millisecond,
	}}
	var calls []factoryCall

	out, err := runApp(t, fakeFactory(p, &calls), "--config", cfgPath, "--log-level", "error", "run")
	if err != nil {
		t.Fatalf("run error = %v", err)
	}
	if p.apps != 1 {
		t.Errorf("pipeline saw %d apps, want 1", p.apps)
	}
	if len(calls) != 1 || calls[0].opts.Concurrency != 2 || calls[0].opts.CallTimeout != 30*time.Second {
		t.Errorf("factory calls = %+v", calls)
	}

	var got RunOutput
	if err := json.Unmarshal([]byte(out), &got); err != nil {
		t.Fatalf("output is not JSON: %v\n%s", err, out)
	}
	want := RunOutput{
		RunID:      "run-1",
		Status:     storage.RunStatusSucceeded,
		Published:  1,
		DurationMs: 1500,
		Stages:     []storage.StageSummary{{Stage: pipeline.StagePublish, In: 1, Out: 1}},
		Assigned: []AssignedApp{{
			App:           "7-Zip",
			DisplayName:   "Igor Pavlov 7-Zip 23.01",
			CatalogAppID:  "app-0001",
			AssignmentIDs: []string{"a-1"},
		}},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("output mismatch (-want +got):\n%s", diff)
	}
}

func TestRunCommandOverrides(t *testing.T) {
	cfgPath := writeWorkspace(t, testManifest)
	lists := filepath.Join(t.TempDir(), "lists")
	p := &fakePipeline{report: &pipeline.Report{RunID: "run-1"}}
	var calls []factoryCall

	_, err := runApp(t, fakeFactory(p, &calls), "--config", cfgPath, "run", "--concurrency", "4", "--lists-dir", lists)
	if err != nil {
		t.Fatalf("run error = %v", err)
	}
	if calls[0].opts.Concurrency != 4 || calls[0].cfg.Workspace.ListsDir != lists {
		t.Errorf("overrides not applied: %+v / %q", calls[0].opts, calls[0].cfg.Workspace.ListsDir)
	}

	_, err = runApp(t, fakeFactory(p, &calls), "--config", cfgPath, "run", "--concurrency", "0")
	if !errors.Is(err, config.ErrInvalidConcurrency) {
		t.Errorf("run error = %v, want ErrInvalidConcurrency", err)
	}
}

func TestRunCommandExitStatus(t *testing.T) {
	tests := []struct {
		name    string
		report  *pipeline.Report
		runErr  error
		wantErr bool
	}{
		{
			name:   "nothing to process",
			report: &pipeline.Report{RunID: "run-1", Status: storage.RunStatusNothing},
			runErr: pipeline.ErrPipelineEmpty,
		},
		{
			name: "partial failure",
			report: &pipeline.Report{
				RunID:    "run-1",
				Status:   storage.RunStatusPartial,
				Failures: []*pipeline.StageError{{App: "7-Zip", Stage: pipeline.StageAssign, Err: errors.New("denied")}},
			},
		},
		{
			name:    "fatal",
			runErr:  pipeline.ErrDisplayNameCollide,
			wantErr: true,
		},
		{
			name:    "cancelled",
			report:  &pipeline.Report{RunID: "run-1", Status: storage.RunStatusFailed},
			runErr:  context.Canceled,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfgPath := writeWorkspace(t, testManifest)
			var calls []factoryCall
			out, err := runApp(t, fakeFactory(&fakePipeline{report: tt.report, runErr: tt.runErr}, &calls), "--config", cfgPath, "run")
			if (err != nil) != tt.wantErr {
				t.Fatalf("run error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.report != nil && !strings.Contains(out, `"status": "`+tt.report.Status+`"`) {
				t.Errorf("output lacks status %q:\n%s", tt.report.Status, out)
			}
		})
	}
}

func TestRunCommandFactoryError(t *testing.T) {
	cfgPath := writeWorkspace(t, testManifest)
	factory := func(context.Context, *config.Config, pipeline.Options, *storage.DB, *slog.Logger) (Pipeline, error) {
		return nil, config.ErrClientSecretRequired
	}
	if _, err := runApp(t, factory, "--config", cfgPath, "run"); !errors.Is(err, config.ErrClientSecretRequired) {
		t.Errorf("run error = %v, want ErrClientSecretRequired", err)
	}
}

func TestCheckCommand(t *testing.T) {
	cfgPath := writeWorkspace(t, testManifest)
	var rec pipeline.DownloadRecord
	rec.IntuneAppName = "7-Zip"
	rec.DisplayName = "Igor Pavlov 7-Zip 23.01"
	rec.AppSource = manifest.SourceCatalogLookup
	rec.IntuneAppNamingConvention = "PublisherAppNameAppVersion"
	var calls []factoryCall

	p := &fakePipeline{check: pipeline.StageResult[pipeline.DownloadRecord]{Records: []pipeline.DownloadRecord{rec}}}
	out, err := runApp(t, fakeFactory(p, &calls), "--config", cfgPath, "check")
	if err != nil {
		t.Fatalf("check error = %v", err)
	}
	var got []pipeline.DownloadRecord
	if err := json.Unmarshal([]byte(out), &got); err != nil {
		t.Fatalf("output is not JSON: %v\n%s", err, out)
	}
	if len(got) != 1 || got[0].DisplayName != rec.DisplayName {
		t.Errorf("check output = %+v", got)
	}

	empty := &fakePipeline{checkErr: pipeline.ErrPipelineEmpty}
	out, err = runApp(t, fakeFactory(empty, &calls), "--config", cfgPath, "check")
	if err != nil {
		t.Fatalf("check error = %v", err)
	}
	if strings.TrimSpace(out) != "[]" {
		t.Errorf("check output = %q, want []", out)
	}
}

func TestValidateCommand(t *testing.T) {
	cfgPath := writeWorkspace(t, testManifest)
	out, err := runApp(t, nil, "--config", cfgPath, "validate")
	if err != nil {
		t.Fatalf("validate error = %v", err)
	}
	var got []ValidationResult
	if err := json.Unmarshal([]byte(out), &got); err != nil {
		t.Fatalf("output is not JSON: %v\n%s", err, out)
	}
	if diff := cmp.Diff([]ValidationResult{{App: "7-Zip", Valid: true}}, got); diff != "" {
		t.Errorf("validate output (-want +got):\n%s", diff)
	}

	broken := strings.Replace(testManifest, `"Program": {`, `"Program": {"DeviceRestartBehavior": "sometimes",`, 1)
	cfgPath = writeWorkspace(t, broken)
	out, err = runApp(t, nil, "--config", cfgPath, "validate")
	if !errors.Is(err, ErrValidationFailed) {
		t.Fatalf("validate error = %v, want ErrValidationFailed", err)
	}
	if !strings.Contains(out, `"valid": false`) {
		t.Errorf("validate output = %s", out)
	}
}

func TestHistoryCommand(t *testing.T) {
	cfgPath := writeWorkspace(t, testManifest)
	db, err := initDB(filepath.Join(filepath.Dir(cfgPath), "appfactory.db"))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.StartRun("run-1", 1); err != nil {
		t.Fatal(err)
	}
	err = db.RecordPublication(&storage.Publication{
		RunID:        "run-1",
		App:          "7-Zip",
		Version:      "23.01",
		DisplayName:  "Igor Pavlov 7-Zip 23.01",
		SourceURI:    "https://example.com/7z.msi",
		CatalogAppID: "app-0001",
	})
	if err != nil {
		t.Fatal(err)
	}
	if err := db.Close(); err != nil {
		t.Fatal(err)
	}

	out, err := runApp(t, nil, "--config", cfgPath, "history", "--app", "7-Zip")
	if err != nil {
		t.Fatalf("history error = %v", err)
	}
	var got storage.History
	if err := json.Unmarshal([]byte(out), &got); err != nil {
		t.Fatalf("output is not JSON: %v\n%s", err, out)
	}
	if len(got.Runs) != 1 || len(got.Publications) != 1 || got.Publications[0].CatalogAppID != "app-0001" {
		t.Errorf("history = %+v", got)
	}
}

func TestReportCommand(t *testing.T) {
	cfgPath := writeWorkspace(t, testManifest)
	out := filepath.Join(t.TempDir(), "site")

	if _, err := runApp(t, nil, "--config", cfgPath, "report", "--out", out); err != nil {
		t.Fatalf("report error = %v", err)
	}
	if _, err := os.Stat(filepath.Join(out, "index.html")); err != nil {
		t.Errorf("index.html missing: %v", err)
	}

	dry := filepath.Join(t.TempDir(), "dry")
	if _, err := runApp(t, nil, "--config", cfgPath, "report", "--out", dry, "--dry-run"); err != nil {
		t.Fatalf("report error = %v", err)
	}
	if _, err := os.Stat(dry); !os.IsNotExist(err) {
		t.Error("dry run should not write")
	}
}

func TestParseLogLevelOrDefault(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"error", slog.LevelError},
		{"", slog.LevelInfo},
		{"loud", slog.LevelInfo},
	}
	for _, tt := range tests {
		if got := ParseLogLevelOrDefault(tt.in); got != tt.want {
			t.Errorf("ParseLogLevelOrDefault(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestInvalidLogFormat(t *testing.T) {
	cfgPath := writeWorkspace(t, testManifest)
	if _, err := runApp(t, nil, "--config", cfgPath, "--log-format", "xml", "validate"); err == nil {
		t.Error("expected error for invalid log format")
	}
}

func TestInitCommand(t *testing.T) {
	cfgPath := filepath.Join(t.TempDir(), "appfactory.yaml")

	if _, err := runApp(t, nil, "--config", cfgPath, "--log-level", "error", "init"); err != nil {
		t.Fatalf("init error = %v", err)
	}
	data, err := os.ReadFile(cfgPath)
	if err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{"app_list: appList.json", "apps_dir: Apps"} {
		if !strings.Contains(string(data), want) {
			t.Errorf("written config missing %q:\n%s", want, data)
		}
	}

	if _, err := runApp(t, nil, "--config", cfgPath, "--log-level", "error", "init"); !errors.Is(err, ErrConfigExists) {
		t.Errorf("second init error = %v, want ErrConfigExists", err)
	}
	if _, err := runApp(t, nil, "--config", cfgPath, "--log-level", "error", "init", "--force"); err != nil {
		t.Errorf("init --force error = %v", err)
	}
}
