package assignment

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"go.uber.org/multierr"

	"github.com/clean-dependency-project/appfactory/internal/catalog"
	"github.com/clean-dependency-project/appfactory/internal/manifest"
)

func TestExclusionGroupIgnoresIntent(t *testing.T) {
	r := NewResolver(nil)
	for _, intent := range []string{"required", "available", "uninstall"} {
		t.Run(intent, func(t *testing.T) {
			req, err := r.Translate(context.Background(), manifest.AssignmentDeclaration{
				Type:      manifest.TargetGroup,
				GroupID:   "g1",
				GroupMode: "exclude",
				Intent:    intent,
			})
			if err != nil {
				t.Fatalf("Translate() unexpected error: %v", err)
			}
			want := Target{ODataType: TargetExclusionGroup, GroupID: "g1"}
			if diff := cmp.Diff(want, req.Target); diff != "" {
				t.Errorf("Target mismatch (-want +got):\n%s", diff)
			}
			if req.Intent != intent {
				t.Errorf("Intent = %q, want %q", req.Intent, intent)
			}
		})
	}
}

func TestTranslateTargets(t *testing.T) {
	tests := []struct {
		name string
		decl manifest.AssignmentDeclaration
		want Target
	}{
		{
			name: "all devices",
			decl: manifest.AssignmentDeclaration{Type: manifest.TargetVirtualGroup, GroupName: "AllDevices", Intent: "required", GroupID: "ignored"},
			want: Target{ODataType: TargetAllDevices},
		},
		{
			name: "all users",
			decl: manifest.AssignmentDeclaration{Type: manifest.TargetVirtualGroup, GroupName: "AllUsers", Intent: "available"},
			want: Target{ODataType: TargetAllUsers},
		},
		{
			name: "group include",
			decl: manifest.AssignmentDeclaration{Type: manifest.TargetGroup, GroupID: "g2", GroupMode: "Include", Intent: "Required"},
			want: Target{ODataType: TargetGroup, GroupID: "g2"},
		},
	}
	r := NewResolver(nil)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, err := r.Translate(context.Background(), tt.decl)
			if err != nil {
				t.Fatalf("Translate() unexpected error: %v", err)
			}
			if diff := cmp.Diff(tt.want, req.Target); diff != "" {
				t.Errorf("Target mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestTranslateSettings(t *testing.T) {
	r := NewResolver(nil)
	ctx := context.Background()

	t.Run("defaults", func(t *testing.T) {
		req, err := r.Translate(ctx, manifest.AssignmentDeclaration{Type: manifest.TargetVirtualGroup, GroupName: "AllDevices", Intent: "required"})
		if err != nil {
			t.Fatal(err)
		}
		want := Settings{
			ODataType:                    settingsType,
			Notifications:                "showAll",
			DeliveryOptimizationPriority: "notConfigured",
		}
		if diff := cmp.Diff(want, req.Settings); diff != "" {
			t.Errorf("Settings mismatch (-want +got):\n%s", diff)
		}
	})

	t.Run("restart defaults fill omitted fields", func(t *testing.T) {
		req, err := r.Translate(ctx, manifest.AssignmentDeclaration{
			Type: manifest.TargetVirtualGroup, GroupName: "AllDevices", Intent: "required",
			EnableRestartGracePeriod: true,
			RestartCountDownDisplay:  30,
		})
		if err != nil {
			t.Fatal(err)
		}
		want := &RestartSettings{
			ODataType:                                  restartType,
			GracePeriodInMinutes:                       1440,
			CountdownDisplayBeforeRestartInMinutes:     30,
			RestartNotificationSnoozeDurationInMinutes: 240,
		}
		if diff := cmp.Diff(want, req.Settings.RestartSettings); diff != "" {
			t.Errorf("RestartSettings mismatch (-want +got):\n%s", diff)
		}
	})

	t.Run("restart values ignored when disabled", func(t *testing.T) {
		req, err := r.Translate(ctx, manifest.AssignmentDeclaration{
			Type: manifest.TargetVirtualGroup, GroupName: "AllDevices", Intent: "required",
			RestartGracePeriod: 60,
		})
		if err != nil {
			t.Fatal(err)
		}
		if req.Settings.RestartSettings != nil {
			t.Errorf("RestartSettings = %+v, want nil", req.Settings.RestartSettings)
		}
	})

	t.Run("install time window", func(t *testing.T) {
		req, err := r.Translate(ctx, manifest.AssignmentDeclaration{
			Type: manifest.TargetVirtualGroup, GroupName: "AllUsers", Intent: "required",
			UseLocalTime:                 true,
			DeadlineTime:                 "2024-07-01T18:00:00",
			Notification:                 "hideall",
			DeliveryOptimizationPriority: "Foreground",
		})
		if err != nil {
			t.Fatal(err)
		}
		want := &InstallTimeSettings{ODataType: installTimeType, UseLocalTime: true, DeadlineDateTime: "2024-07-01T18:00:00"}
		if diff := cmp.Diff(want, req.Settings.InstallTimeSettings); diff != "" {
			t.Errorf("InstallTimeSettings mismatch (-want +got):\n%s", diff)
		}
		if req.Settings.Notifications != "hideAll" || req.Settings.DeliveryOptimizationPriority != "foreground" {
			t.Errorf("Settings = %+v", req.Settings)
		}
	})

	t.Run("invalid settings", func(t *testing.T) {
		for _, d := range []manifest.AssignmentDeclaration{
			{Type: manifest.TargetVirtualGroup, GroupName: "AllUsers", Intent: "required", Notification: "loud"},
			{Type: manifest.TargetVirtualGroup, GroupName: "AllUsers", Intent: "required", DeliveryOptimizationPriority: "background"},
			{Type: manifest.TargetVirtualGroup, GroupName: "AllUsers", Intent: "required", AvailableTime: "tomorrow"},
		} {
			if _, err := r.Translate(ctx, d); !errors.Is(err, ErrInvalidSetting) {
				t.Errorf("Translate(%+v) error = %v, want ErrInvalidSetting", d, err)
			}
		}
	})
}

type staticFilters map[string]string

func (s staticFilters) ResolveFilter(_ context.Context, name string) (string, error) {
	id, ok := s[name]
	if !ok {
		return "", ErrFilterNotFound
	}
	return id, nil
}

func TestFilters(t *testing.T) {
	ctx := context.Background()
	filtered := manifest.AssignmentDeclaration{
		Type: manifest.TargetVirtualGroup, GroupName: "AllDevices", Intent: "required",
		FilterName: "Corporate Laptops",
	}

	t.Run("no resolver", func(t *testing.T) {
		if _, err := NewResolver(nil).Translate(ctx, filtered); !errors.Is(err, ErrFilterUnsupported) {
			t.Errorf("error = %v, want ErrFilterUnsupported", err)
		}
	})

	t.Run("resolved", func(t *testing.T) {
		req, err := NewResolver(staticFilters{"Corporate Laptops": "f-1"}).Translate(ctx, filtered)
		if err != nil {
			t.Fatal(err)
		}
		want := Target{ODataType: TargetAllDevices, FilterID: "f-1", FilterType: "include"}
		if diff := cmp.Diff(want, req.Target); diff != "" {
			t.Errorf("Target mismatch (-want +got):\n%s", diff)
		}
	})

	t.Run("exclude mode", func(t *testing.T) {
		d := filtered
		d.FilterMode = "Exclude"
		req, err := NewResolver(staticFilters{"Corporate Laptops": "f-1"}).Translate(ctx, d)
		if err != nil {
			t.Fatal(err)
		}
		if req.Target.FilterType != "exclude" {
			t.Errorf("FilterType = %q", req.Target.FilterType)
		}
	})

	t.Run("unknown filter", func(t *testing.T) {
		if _, err := NewResolver(staticFilters{}).Translate(ctx, filtered); !errors.Is(err, ErrFilterNotFound) {
			t.Errorf("error = %v, want ErrFilterNotFound", err)
		}
	})

	t.Run("exclusion group", func(t *testing.T) {
		d := manifest.AssignmentDeclaration{Type: manifest.TargetGroup, GroupID: "g1", GroupMode: "exclude", Intent: "required", FilterName: "Corporate Laptops"}
		if _, err := NewResolver(staticFilters{"Corporate Laptops": "f-1"}).Translate(ctx, d); !errors.Is(err, ErrFilterOnExclusion) {
			t.Errorf("error = %v, want ErrFilterOnExclusion", err)
		}
	})

	t.Run("bad mode", func(t *testing.T) {
		d := filtered
		d.FilterMode = "sometimes"
		if _, err := NewResolver(staticFilters{"Corporate Laptops": "f-1"}).Translate(ctx, d); !errors.Is(err, ErrInvalidFilterMode) {
			t.Errorf("error = %v, want ErrInvalidFilterMode", err)
		}
	})
}

func TestCatalogFilters(t *testing.T) {
	mock := &catalog.MockClient{Filters: []catalog.AssignmentFilter{{ID: "f-1", DisplayName: "Corporate Laptops"}}}
	c := NewCatalogFilters(mock)

	id, err := c.ResolveFilter(context.Background(), "corporate laptops")
	if err != nil || id != "f-1" {
		t.Errorf("ResolveFilter() = %q, %v", id, err)
	}
	if _, err := c.ResolveFilter(context.Background(), "Kiosks"); !errors.Is(err, ErrFilterNotFound) {
		t.Errorf("error = %v, want ErrFilterNotFound", err)
	}

	failing := NewCatalogFilters(&catalog.MockClient{ListErr: catalog.ErrCatalogQuery})
	if _, err := failing.ResolveFilter(context.Background(), "x"); !errors.Is(err, catalog.ErrCatalogQuery) {
		t.Errorf("error = %v, want ErrCatalogQuery", err)
	}
}

func TestTranslateAssignmentsIsolatesFailures(t *testing.T) {
	decls := []manifest.AssignmentDeclaration{
		{Type: manifest.TargetVirtualGroup, GroupName: "AllDevices", Intent: "required"},
		{Type: manifest.TargetGroup, GroupMode: "include", Intent: "required"},
		{Type: manifest.TargetGroup, GroupID: "g1", GroupMode: "exclude", Intent: "available"},
		{Type: manifest.TargetVirtualGroup, GroupName: "AllDevices", Intent: "required", FilterName: "x"},
	}
	reqs, err := NewResolver(nil).TranslateAssignments(context.Background(), decls)
	if len(reqs) != 2 {
		t.Fatalf("got %d requests, want 2", len(reqs))
	}
	if reqs[0].Target.ODataType != TargetAllDevices || reqs[1].Target.ODataType != TargetExclusionGroup {
		t.Errorf("requests out of order: %+v", reqs)
	}
	errs := multierr.Errors(err)
	if len(errs) != 2 {
		t.Fatalf("got %d errors, want 2: %v", len(errs), err)
	}
	if !errors.Is(errs[0], manifest.ErrGroupIDRequired) || !errors.Is(errs[1], ErrFilterUnsupported) {
		t.Errorf("errors = %v", errs)
	}
}

func TestApply(t *testing.T) {
	var logs bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&logs, nil))
	mock := &catalog.MockClient{}
	decls := []manifest.AssignmentDeclaration{
		{Type: manifest.TargetVirtualGroup, GroupName: "AllDevices", Intent: "required"},
		{Type: manifest.TargetVirtualGroup, GroupName: "Everyone", Intent: "required"},
		{Type: manifest.TargetGroup, GroupID: "g1", GroupMode: "exclude", Intent: "required"},
	}

	res, err := NewResolver(nil).Apply(context.Background(), mock, "app-1", decls, logger)
	if err == nil || !errors.Is(err, manifest.ErrUnknownTarget) {
		t.Errorf("Apply() error = %v, want ErrUnknownTarget", err)
	}
	if len(res.Submitted) != 2 || res.Failed != 1 {
		t.Errorf("Apply() = %+v", res)
	}

	submitted := mock.Assignments("app-1")
	if len(submitted) != 2 {
		t.Fatalf("submitted %d, want 2", len(submitted))
	}
	var body map[string]any
	if err := json.Unmarshal(submitted[1], &body); err != nil {
		t.Fatal(err)
	}
	target := body["target"].(map[string]any)
	if target["@odata.type"] != TargetExclusionGroup || target["groupId"] != "g1" {
		t.Errorf("target = %v", target)
	}
	if !strings.Contains(logs.String(), "assignment failed") {
		t.Errorf("expected failure log, got %s", logs.String())
	}

	mock.AssignErr = errors.New("throttled")
	_, err = NewResolver(nil).Apply(context.Background(), mock, "app-1", decls[:1], logger)
	if !errors.Is(err, ErrAssignmentSubmission) {
		t.Errorf("Apply() error = %v, want ErrAssignmentSubmission", err)
	}
}
