// Package assignment translates the assignment declarations of App.json into
// catalog assignment requests and submits them.
package assignment

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"go.uber.org/multierr"

	"github.com/clean-dependency-project/appfactory/internal/manifest"
)

// Defaults applied to omitted settings.
const (
	DefaultNotification          = "showAll"
	DefaultDeliveryOptimization  = "notConfigured"
	DefaultGracePeriodMinutes    = 1440
	DefaultCountdownMinutes      = 15
	DefaultSnoozeDurationMinutes = 240
)

// Target tags.
const (
	TargetAllDevices     = "#microsoft.graph.allDevicesAssignmentTarget"
	TargetAllUsers       = "#microsoft.graph.allLicensedUsersAssignmentTarget"
	TargetGroup          = "#microsoft.graph.groupAssignmentTarget"
	TargetExclusionGroup = "#microsoft.graph.exclusionGroupAssignmentTarget"
)

const (
	assignmentType  = "#microsoft.graph.mobileAppAssignment"
	settingsType    = "#microsoft.graph.win32LobAppAssignmentSettings"
	restartType     = "#microsoft.graph.win32LobAppRestartSettings"
	installTimeType = "#microsoft.graph.mobileAppInstallTimeSettings"
)

var (
	ErrUnknownTarget        = errors.New("unknown assignment target")
	ErrInvalidSetting       = errors.New("invalid assignment setting")
	ErrFilterUnsupported    = errors.New("assignment filters are not supported without a filter lookup")
	ErrFilterNotFound       = errors.New("assignment filter not found")
	ErrFilterOnExclusion    = errors.New("assignment filters cannot be applied to exclusion groups")
	ErrInvalidFilterMode    = errors.New("invalid filter mode")
	ErrAssignmentSubmission = errors.New("assignment submission failed")
)

// Target is the audience of an assignment.
type Target struct {
	ODataType  string `json:"@odata.type"`
	GroupID    string `json:"groupId,omitempty"`
	FilterID   string `json:"deviceAndAppManagementAssignmentFilterId,omitempty"`
	FilterType string `json:"deviceAndAppManagementAssignmentFilterType,omitempty"`
}

// RestartSettings controls the restart grace period.
type RestartSettings struct {
	ODataType                                  string `json:"@odata.type"`
	GracePeriodInMinutes                       int    `json:"gracePeriodInMinutes"`
	CountdownDisplayBeforeRestartInMinutes     int    `json:"countdownDisplayBeforeRestartInMinutes"`
	RestartNotificationSnoozeDurationInMinutes int    `json:"restartNotificationSnoozeDurationInMinutes"`
}

// InstallTimeSettings bounds when the app becomes available and when it must
// be installed.
type InstallTimeSettings struct {
	ODataType        string `json:"@odata.type"`
	UseLocalTime     bool   `json:"useLocalTime"`
	StartDateTime    string `json:"startDateTime,omitempty"`
	DeadlineDateTime string `json:"deadlineDateTime,omitempty"`
}

// Settings are the Win32 specific assignment settings.
type Settings struct {
	ODataType                    string               `json:"@odata.type"`
	Notifications                string               `json:"notifications"`
	DeliveryOptimizationPriority string               `json:"deliveryOptimizationPriority"`
	RestartSettings              *RestartSettings     `json:"restartSettings,omitempty"`
	InstallTimeSettings          *InstallTimeSettings `json:"installTimeSettings,omitempty"`
}

// Request is one assignment as submitted to the catalog.
type Request struct {
	ODataType string   `json:"@odata.type"`
	Intent    string   `json:"intent"`
	Target    Target   `json:"target"`
	Settings  Settings `json:"settings"`
}

// FilterResolver maps an assignment filter display name to its id.
type FilterResolver interface {
	ResolveFilter(ctx context.Context, name string) (string, error)
}

type targetFunc func(d manifest.AssignmentDeclaration) Target

// targets is keyed by declaration type and lower-cased group name or mode.
var targets = map[string]targetFunc{
	manifest.TargetVirtualGroup + "/alldevices": func(manifest.AssignmentDeclaration) Target {
		return Target{ODataType: TargetAllDevices}
	},
	manifest.TargetVirtualGroup + "/allusers": func(manifest.AssignmentDeclaration) Target {
		return Target{ODataType: TargetAllUsers}
	},
	manifest.TargetGroup + "/include": func(d manifest.AssignmentDeclaration) Target {
		return Target{ODataType: TargetGroup, GroupID: d.GroupID}
	},
	manifest.TargetGroup + "/exclude": func(d manifest.AssignmentDeclaration) Target {
		return Target{ODataType: TargetExclusionGroup, GroupID: d.GroupID}
	},
}

func targetKey(d manifest.AssignmentDeclaration) string {
	if d.Type == manifest.TargetGroup {
		return d.Type + "/" + strings.ToLower(d.GroupMode)
	}
	return d.Type + "/" + strings.ToLower(d.GroupName)
}

var notifications = map[string]string{
	"showall":    "showAll",
	"showreboot": "showReboot",
	"hideall":    "hideAll",
}

var deliveryPriorities = map[string]string{
	"notconfigured": "notConfigured",
	"foreground":    "foreground",
}

func choose(table map[string]string, declared, def, field string) (string, error) {
	if strings.TrimSpace(declared) == "" {
		return def, nil
	}
	v, ok := table[strings.ToLower(strings.TrimSpace(declared))]
	if !ok {
		return "", fmt.Errorf("%w: %s %q", ErrInvalidSetting, field, declared)
	}
	return v, nil
}

func orDefault(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

func checkTime(field, s string) error {
	if s == "" || manifest.IsDateTime(s) {
		return nil
	}
	return fmt.Errorf("%w: %s %q", ErrInvalidSetting, field, s)
}

func translateSettings(d manifest.AssignmentDeclaration) (Settings, error) {
	notification, err := choose(notifications, d.Notification, DefaultNotification, "Notification")
	if err != nil {
		return Settings{}, err
	}
	priority, err := choose(deliveryPriorities, d.DeliveryOptimizationPriority, DefaultDeliveryOptimization, "DeliveryOptimizationPriority")
	if err != nil {
		return Settings{}, err
	}

	s := Settings{
		ODataType:                    settingsType,
		Notifications:                notification,
		DeliveryOptimizationPriority: priority,
	}
	if d.EnableRestartGracePeriod {
		s.RestartSettings = &RestartSettings{
			ODataType:                                  restartType,
			GracePeriodInMinutes:                       orDefault(d.RestartGracePeriod, DefaultGracePeriodMinutes),
			CountdownDisplayBeforeRestartInMinutes:     orDefault(d.RestartCountDownDisplay, DefaultCountdownMinutes),
			RestartNotificationSnoozeDurationInMinutes: orDefault(d.RestartNotificationSnooze, DefaultSnoozeDurationMinutes),
		}
	}
	if d.AvailableTime != "" || d.DeadlineTime != "" {
		if err := checkTime("AvailableTime", d.AvailableTime); err != nil {
			return Settings{}, err
		}
		if err := checkTime("DeadlineTime", d.DeadlineTime); err != nil {
			return Settings{}, err
		}
		s.InstallTimeSettings = &InstallTimeSettings{
			ODataType:        installTimeType,
			UseLocalTime:     bool(d.UseLocalTime),
			StartDateTime:    d.AvailableTime,
			DeadlineDateTime: d.DeadlineTime,
		}
	}
	return s, nil
}

// Resolver translates declarations, completing filter names through an
// optional FilterResolver.
type Resolver struct {
	filters FilterResolver
}

// NewResolver creates a resolver. A nil filters makes every filtered
// declaration fail with ErrFilterUnsupported.
func NewResolver(filters FilterResolver) *Resolver {
	return &Resolver{filters: filters}
}

// Translate converts one declaration into a request.
func (r *Resolver) Translate(ctx context.Context, d manifest.AssignmentDeclaration) (Request, error) {
	if err := d.Validate(); err != nil {
		return Request{}, err
	}
	build, ok := targets[targetKey(d)]
	if !ok {
		return Request{}, fmt.Errorf("%w: %s", ErrUnknownTarget, targetKey(d))
	}
	target := build(d)

	if d.FilterName != "" {
		if err := r.applyFilter(ctx, d, &target); err != nil {
			return Request{}, err
		}
	}

	settings, err := translateSettings(d)
	if err != nil {
		return Request{}, err
	}
	return Request{
		ODataType: assignmentType,
		Intent:    strings.ToLower(d.Intent),
		Target:    target,
		Settings:  settings,
	}, nil
}

func (r *Resolver) applyFilter(ctx context.Context, d manifest.AssignmentDeclaration, target *Target) error {
	if target.ODataType == TargetExclusionGroup {
		return fmt.Errorf("%w: %q", ErrFilterOnExclusion, d.FilterName)
	}
	mode := strings.ToLower(strings.TrimSpace(d.FilterMode))
	if mode == "" {
		mode = "include"
	}
	if mode != "include" && mode != "exclude" {
		return fmt.Errorf("%w: %q", ErrInvalidFilterMode, d.FilterMode)
	}
	if r.filters == nil {
		return fmt.Errorf("%w: %q", ErrFilterUnsupported, d.FilterName)
	}
	id, err := r.filters.ResolveFilter(ctx, d.FilterName)
	if err != nil {
		return err
	}
	target.FilterID, target.FilterType = id, mode
	return nil
}

// TranslateAssignments translates every declaration independently. It
// returns the requests that could be built, in declaration order, together
// with the combined errors of the ones that could not.
func (r *Resolver) TranslateAssignments(ctx context.Context, decls []manifest.AssignmentDeclaration) ([]Request, error) {
	var (
		out  []Request
		errs error
	)
	for i, d := range decls {
		req, err := r.Translate(ctx, d)
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("Assignment[%d]: %w", i, err))
			continue
		}
		out = append(out, req)
	}
	return out, errs
}

// Submitter creates assignments in the catalog.
type Submitter interface {
	CreateAssignment(ctx context.Context, appID string, assignment any) (string, error)
}

// Result summarizes the assignments applied to one app.
type Result struct {
	Submitted []string
	Failed    int
}

// Apply translates and submits every declaration for appID. A failing
// declaration is logged and does not stop the others; all failures are
// returned combined.
func (r *Resolver) Apply(ctx context.Context, submitter Submitter, appID string, decls []manifest.AssignmentDeclaration, logger *slog.Logger) (Result, error) {
	if logger == nil {
		logger = slog.Default()
	}
	var (
		res  Result
		errs error
	)
	for i, d := range decls {
		req, err := r.Translate(ctx, d)
		if err == nil {
			var id string
			id, err = submitter.CreateAssignment(ctx, appID, req)
			if err != nil {
				err = fmt.Errorf("%w: %w", ErrAssignmentSubmission, err)
			} else {
				res.Submitted = append(res.Submitted, id)
				logger.Info("assignment created",
					"app_id", appID,
					"assignment_id", id,
					"intent", req.Intent,
					"target", req.Target.ODataType)
				continue
			}
		}
		res.Failed++
		logger.Error("assignment failed", "app_id", appID, "index", i, "error", err)
		errs = multierr.Append(errs, fmt.Errorf("Assignment[%d]: %w", i, err))
	}
	return res, errs
}
