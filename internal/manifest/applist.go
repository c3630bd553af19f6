// Package manifest loads the master application list and the per-application
// App.json manifests. Both files are JSON with comments and trailing commas
// allowed.
package manifest

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/tidwall/jsonc"
	"go.uber.org/multierr"

	"github.com/clean-dependency-project/appfactory/internal/naming"
)

// SourceKind identifies the strategy that resolves an application's latest
// version.
type SourceKind string

const (
	SourceCatalogLookup  SourceKind = "CatalogLookup"
	SourcePackageManager SourceKind = "PackageManager"
	SourceReleaseAsset   SourceKind = "ReleaseAsset"
	SourceDirectURL      SourceKind = "DirectUrl"
)

// sourceAliases maps the source names used by older app lists.
var sourceAliases = map[string]SourceKind{
	"cataloglookup":  SourceCatalogLookup,
	"evergreen":      SourceCatalogLookup,
	"packagemanager": SourcePackageManager,
	"winget":         SourcePackageManager,
	"releaseasset":   SourceReleaseAsset,
	"githubrelease":  SourceReleaseAsset,
	"storageaccount": SourceReleaseAsset,
	"directurl":      SourceDirectURL,
}

// SourceKinds lists every supported source kind.
func SourceKinds() []SourceKind {
	return []SourceKind{SourceCatalogLookup, SourcePackageManager, SourceReleaseAsset, SourceDirectURL}
}

// UnmarshalText resolves aliases and rejects unknown source kinds.
func (k *SourceKind) UnmarshalText(text []byte) error {
	v, ok := sourceAliases[strings.ToLower(strings.TrimSpace(string(text)))]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownSource, string(text))
	}
	*k = v
	return nil
}

// LatestTag asks the release-asset strategy to look up the newest release.
const LatestTag = "latest"

var (
	ErrUnknownSource      = errors.New("unknown app source")
	ErrAppNameRequired    = errors.New("IntuneAppName is required")
	ErrFolderRequired     = errors.New("AppFolderName is required")
	ErrAppIDRequired      = errors.New("AppId is required for this source")
	ErrRepositoryRequired = errors.New("Repository and FileName are required for ReleaseAsset")
	ErrDirectURLRequired  = errors.New("URI and Version are required for DirectUrl")
	ErrDuplicateApp       = errors.New("application listed more than once")
)

// Filter narrows catalog lookup results. Every non-empty field must equal the
// corresponding field of a candidate; empty fields are not part of the
// predicate.
type Filter struct {
	Architecture  string `json:"Architecture,omitempty"`
	Platform      string `json:"Platform,omitempty"`
	Channel       string `json:"Channel,omitempty"`
	Type          string `json:"Type,omitempty"`
	InstallerType string `json:"InstallerType,omitempty"`
	Language      string `json:"Language,omitempty"`
	Edition       string `json:"Edition,omitempty"`
	Ring          string `json:"Ring,omitempty"`
	Release       string `json:"Release,omitempty"`
	ImageType     string `json:"ImageType,omitempty"`
}

// Predicates returns the populated fields keyed by their catalog field name.
func (f Filter) Predicates() map[string]string {
	all := map[string]string{
		"Architecture":  f.Architecture,
		"Platform":      f.Platform,
		"Channel":       f.Channel,
		"Type":          f.Type,
		"InstallerType": f.InstallerType,
		"Language":      f.Language,
		"Edition":       f.Edition,
		"Ring":          f.Ring,
		"Release":       f.Release,
		"ImageType":     f.ImageType,
	}
	out := make(map[string]string, len(all))
	for k, v := range all {
		if v != "" {
			out[k] = v
		}
	}
	return out
}

// AppDescriptor is one tracked application from appList.json.
type AppDescriptor struct {
	IntuneAppName             string            `json:"IntuneAppName"`
	IntuneAppNamingConvention naming.Convention `json:"IntuneAppNamingConvention"`
	AppPublisher              string            `json:"AppPublisher"`
	AppSource                 SourceKind        `json:"AppSource"`
	AppFolderName             string            `json:"AppFolderName"`

	// CatalogLookup and PackageManager
	AppID         string   `json:"AppId,omitempty"`
	FilterOptions []Filter `json:"FilterOptions,omitempty"`

	// ReleaseAsset
	Repository    string `json:"Repository,omitempty"`
	Tag           string `json:"Tag,omitempty"`
	TagConstraint string `json:"TagConstraint,omitempty"`
	FileName      string `json:"FileName,omitempty"`

	// DirectUrl
	URI     string `json:"URI,omitempty"`
	Version string `json:"Version,omitempty"`

	// Optional download verification
	SHA256       string `json:"SHA256,omitempty"`
	SignatureURI string `json:"SignatureURI,omitempty"`
}

// requiredBySource holds the per-source identifier checks.
var requiredBySource = map[SourceKind]func(d AppDescriptor) error{
	SourceCatalogLookup: func(d AppDescriptor) error {
		if d.AppID == "" {
			return ErrAppIDRequired
		}
		return nil
	},
	SourcePackageManager: func(d AppDescriptor) error {
		if d.AppID == "" {
			return ErrAppIDRequired
		}
		return nil
	},
	SourceReleaseAsset: func(d AppDescriptor) error {
		if d.Repository == "" || d.FileName == "" {
			return ErrRepositoryRequired
		}
		return nil
	},
	SourceDirectURL: func(d AppDescriptor) error {
		if d.URI == "" || d.Version == "" {
			return ErrDirectURLRequired
		}
		return nil
	},
}

// Validate checks the fields required by the descriptor's source kind.
func (d AppDescriptor) Validate() error {
	if strings.TrimSpace(d.IntuneAppName) == "" {
		return ErrAppNameRequired
	}
	if strings.TrimSpace(d.AppFolderName) == "" {
		return fmt.Errorf("%s: %w", d.IntuneAppName, ErrFolderRequired)
	}
	if d.IntuneAppNamingConvention == "" {
		return fmt.Errorf("%s: %w: empty", d.IntuneAppName, naming.ErrUnknownConvention)
	}
	check, ok := requiredBySource[d.AppSource]
	if !ok {
		return fmt.Errorf("%s: %w: %q", d.IntuneAppName, ErrUnknownSource, d.AppSource)
	}
	if err := check(d); err != nil {
		return fmt.Errorf("%s: %w", d.IntuneAppName, err)
	}
	return nil
}

// SearchPrefix is the display name used to look up existing catalog entries.
func (d AppDescriptor) SearchPrefix() (string, error) {
	return naming.SearchPrefix(d.IntuneAppNamingConvention, d.AppPublisher, d.IntuneAppName)
}

// DisplayName is the label of the catalog entry published for version.
func (d AppDescriptor) DisplayName(version string) (string, error) {
	return naming.DisplayName(d.IntuneAppNamingConvention, d.AppPublisher, d.IntuneAppName, version)
}

// AppList is the master application list.
type AppList struct {
	Apps []AppDescriptor `json:"Apps"`
}

// Validate checks every descriptor and reports all problems at once.
func (l *AppList) Validate() error {
	var errs error
	seen := make(map[string]bool, len(l.Apps))
	for i, app := range l.Apps {
		if err := app.Validate(); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("apps[%d]: %w", i, err))
			continue
		}
		key := strings.ToLower(app.IntuneAppName)
		if seen[key] {
			errs = multierr.Append(errs, fmt.Errorf("apps[%d]: %s: %w", i, app.IntuneAppName, ErrDuplicateApp))
		}
		seen[key] = true
	}
	return errs
}

// SearchPrefixes returns the search prefix of each descriptor, in list order.
func (l *AppList) SearchPrefixes() ([]string, error) {
	out := make([]string, 0, len(l.Apps))
	for _, app := range l.Apps {
		p, err := app.SearchPrefix()
		if err != nil {
			return nil, fmt.Errorf("%s: %w", app.IntuneAppName, err)
		}
		out = append(out, p)
	}
	return out, nil
}

// LoadAppList reads and validates appList.json.
func LoadAppList(path string) (*AppList, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read app list: %w", err)
	}
	return ParseAppList(data)
}

// ParseAppList decodes and validates app list content.
func ParseAppList(data []byte) (*AppList, error) {
	var list AppList
	if err := json.Unmarshal(jsonc.ToJSON(data), &list); err != nil {
		return nil, fmt.Errorf("failed to parse app list: %w", err)
	}
	if err := list.Validate(); err != nil {
		return nil, fmt.Errorf("invalid app list: %w", err)
	}
	return &list, nil
}
