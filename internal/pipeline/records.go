// Package pipeline runs tracked applications through the fixed sequence of
// stages Process, Download, Prepare, Publish and Assign. Each stage is a
// transformation from one record list to the next; the Runner decides what
// is persisted between stages.
package pipeline

import (
	"github.com/clean-dependency-project/appfactory/internal/manifest"
	"github.com/clean-dependency-project/appfactory/internal/packaging"
	"github.com/clean-dependency-project/appfactory/internal/resolver"
)

// ProcessRecord is an application waiting for change detection.
type ProcessRecord struct {
	manifest.AppDescriptor
}

// Name identifies the record in logs and failure reports.
func (r ProcessRecord) Name() string {
	return r.IntuneAppName
}

// DownloadRecord is an application whose resolved version is not yet in the
// catalog.
type DownloadRecord struct {
	ProcessRecord
	Resolved resolver.ResolvedVersion `json:"Resolved"`
	// DisplayName is the catalog label for the resolved version.
	DisplayName string `json:"DisplayName"`
	// PublishedVersion is the highest version already in the catalog, empty
	// when nothing matched.
	PublishedVersion string `json:"PublishedVersion,omitempty"`
}

// PrepareRecord is an application whose installer is on disk.
type PrepareRecord struct {
	DownloadRecord
	InstallerPath   string `json:"InstallerPath"`
	SourceDir       string `json:"SourceDir"`
	InstallerSHA256 string `json:"InstallerSHA256"`
	Verification    string `json:"Verification"`
}

// PublishRecord is an application whose package has been built.
type PublishRecord struct {
	PrepareRecord
	SetupFile          string             `json:"SetupFile"`
	PackagePath        string             `json:"PackagePath"`
	PackageSize        int64              `json:"PackageSize"`
	PackageFingerprint string             `json:"PackageFingerprint"`
	ContentName        string             `json:"ContentName"`
	ContentSize        int64              `json:"ContentSize"`
	EncryptedSize      int64              `json:"EncryptedSize"`
	Msi                *packaging.MsiInfo `json:"Msi,omitempty"`
}

// ProductCode is the MSI product code of the package, empty for other
// installer types.
func (r PublishRecord) ProductCode() string {
	if r.Msi == nil {
		return ""
	}
	return r.Msi.ProductCode
}

// AssignRecord is an application created in the catalog.
type AssignRecord struct {
	PublishRecord
	CatalogAppID     string `json:"CatalogAppId"`
	ContentVersionID string `json:"ContentVersionId"`
}

// AssignedRecord is the final outcome for an application.
type AssignedRecord struct {
	AssignRecord
	AssignmentIDs     []string `json:"AssignmentIds,omitempty"`
	AssignmentsFailed int      `json:"AssignmentsFailed"`
}

// NewProcessList builds the first stage input from the application list.
func NewProcessList(list *manifest.AppList) []ProcessRecord {
	out := make([]ProcessRecord, 0, len(list.Apps))
	for _, app := range list.Apps {
		out = append(out, ProcessRecord{AppDescriptor: app})
	}
	return out
}

// vars returns the placeholder values known once the package is built.
func (r PublishRecord) vars() manifest.Vars {
	v := r.PrepareRecord.vars(r.SetupFile)
	if code := r.ProductCode(); code != "" {
		v[manifest.PlaceholderProductCode] = code
	}
	return v
}

// vars returns the placeholder values known before packaging.
func (r PrepareRecord) vars(setupFile string) manifest.Vars {
	return manifest.Vars{
		manifest.PlaceholderVersion:     r.Resolved.Version,
		manifest.PlaceholderDisplayName: r.DisplayName,
		manifest.PlaceholderSetupFile:   setupFile,
	}
}
