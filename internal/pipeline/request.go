package pipeline

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/clean-dependency-project/appfactory/internal/manifest"
	"github.com/clean-dependency-project/appfactory/internal/rules"
)

const odataWin32LobApp = "#microsoft.graph.win32LobApp"

var ErrInvalidProgram = errors.New("invalid program settings")

// Win32App is the catalog create request for a packaged application.
type Win32App struct {
	ODataType             string `json:"@odata.type"`
	DisplayName           string `json:"displayName"`
	DisplayVersion        string `json:"displayVersion"`
	Description           string `json:"description"`
	Publisher             string `json:"publisher"`
	Developer             string `json:"developer,omitempty"`
	Owner                 string `json:"owner,omitempty"`
	Notes                 string `json:"notes,omitempty"`
	InformationURL        string `json:"informationUrl,omitempty"`
	PrivacyInformationURL string `json:"privacyInformationUrl,omitempty"`
	IsFeatured            bool   `json:"isFeatured"`

	FileName             string `json:"fileName"`
	SetupFilePath        string `json:"setupFilePath"`
	InstallCommandLine   string `json:"installCommandLine"`
	UninstallCommandLine string `json:"uninstallCommandLine"`

	rules.BaseRequirement
	AllowAvailableUninstall bool              `json:"allowAvailableUninstall"`
	InstallExperience       InstallExperience `json:"installExperience"`
	DetectionRules          []rules.Rule      `json:"detectionRules"`
	RequirementRules        []rules.Rule      `json:"requirementRules"`
	ReturnCodes             []ReturnCode      `json:"returnCodes"`
	MsiInformation          *MsiInformation   `json:"msiInformation,omitempty"`
}

// InstallExperience selects the account and restart behavior of the install.
type InstallExperience struct {
	RunAsAccount          string `json:"runAsAccount"`
	DeviceRestartBehavior string `json:"deviceRestartBehavior"`
}

// ReturnCode maps an installer exit code to an outcome.
type ReturnCode struct {
	ReturnCode int    `json:"returnCode"`
	Type       string `json:"type"`
}

// MsiInformation describes an MSI setup file.
type MsiInformation struct {
	ProductCode    string `json:"productCode"`
	ProductVersion string `json:"productVersion,omitempty"`
	UpgradeCode    string `json:"upgradeCode,omitempty"`
	RequiresReboot bool   `json:"requiresReboot"`
	PackageType    string `json:"packageType"`
	ProductName    string `json:"productName"`
	Publisher      string `json:"publisher,omitempty"`
}

// DefaultReturnCodes are the Windows Installer exit codes every app accepts.
func DefaultReturnCodes() []ReturnCode {
	return []ReturnCode{
		{ReturnCode: 0, Type: "success"},
		{ReturnCode: 1707, Type: "success"},
		{ReturnCode: 3010, Type: "softReboot"},
		{ReturnCode: 1641, Type: "hardReboot"},
		{ReturnCode: 1618, Type: "retry"},
	}
}

var runAsAccounts = map[string]string{
	"":       "system",
	"system": "system",
	"user":   "user",
}

var restartBehaviors = map[string]string{
	"":                  "suppress",
	"suppress":          "suppress",
	"allow":             "allow",
	"force":             "force",
	"basedonreturncode": "basedOnReturnCode",
}

func installExperience(p manifest.Program) (InstallExperience, error) {
	account, ok := runAsAccounts[strings.ToLower(p.InstallExperience)]
	if !ok {
		return InstallExperience{}, fmt.Errorf("%w: InstallExperience %q", ErrInvalidProgram, p.InstallExperience)
	}
	restart, ok := restartBehaviors[strings.ToLower(p.DeviceRestartBehavior)]
	if !ok {
		return InstallExperience{}, fmt.Errorf("%w: DeviceRestartBehavior %q", ErrInvalidProgram, p.DeviceRestartBehavior)
	}
	return InstallExperience{RunAsAccount: account, DeviceRestartBehavior: restart}, nil
}

func msiInformation(rec PublishRecord, displayName string) *MsiInformation {
	if rec.Msi == nil {
		return nil
	}
	packageType := "perMachine"
	switch {
	case rec.Msi.IsMachineInstall && rec.Msi.IsUserInstall:
		packageType = "dualPurpose"
	case rec.Msi.IsUserInstall:
		packageType = "perUser"
	}
	return &MsiInformation{
		ProductCode:    rec.Msi.ProductCode,
		ProductVersion: rec.Msi.ProductVersion,
		UpgradeCode:    rec.Msi.UpgradeCode,
		RequiresReboot: rec.Msi.RequiresReboot,
		PackageType:    packageType,
		ProductName:    displayName,
		Publisher:      rec.Msi.Publisher,
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

// BuildWin32App assembles the create request from the record and its
// manifest. The display name always comes from the naming convention so the
// next change check finds the entry by its search prefix. Rule translation
// failures wrap rules.ErrTranslation.
func BuildWin32App(rec PublishRecord, m *manifest.AppManifest) (*Win32App, error) {
	detection, err := rules.TranslateDetectionRules(m.DetectionRule)
	if err != nil {
		return nil, err
	}
	requirements, err := rules.TranslateRequirementRules(m.CustomRequirementRule)
	if err != nil {
		return nil, err
	}
	if requirements == nil {
		requirements = []rules.Rule{}
	}
	base, err := rules.TranslateBaseRequirement(m.RequirementRule)
	if err != nil {
		return nil, err
	}
	experience, err := installExperience(m.Program)
	if err != nil {
		return nil, err
	}

	info := m.Information
	return &Win32App{
		ODataType:               odataWin32LobApp,
		DisplayName:             rec.DisplayName,
		DisplayVersion:          firstNonEmpty(rec.Resolved.NormalizedVersion, rec.Resolved.Version),
		Description:             firstNonEmpty(info.Description, rec.DisplayName),
		Publisher:               firstNonEmpty(info.Publisher, rec.AppPublisher, rec.IntuneAppName),
		Developer:               info.Developer,
		Owner:                   info.Owner,
		Notes:                   info.Notes,
		InformationURL:          info.InformationURL,
		PrivacyInformationURL:   info.PrivacyURL,
		FileName:                filepath.Base(rec.PackagePath),
		SetupFilePath:           firstNonEmpty(rec.ContentName, rec.SetupFile),
		InstallCommandLine:      m.Program.InstallCommand,
		UninstallCommandLine:    m.Program.UninstallCommand,
		BaseRequirement:         base,
		AllowAvailableUninstall: bool(m.Program.AllowAvailableUninstall),
		InstallExperience:       experience,
		DetectionRules:          detection,
		RequirementRules:        requirements,
		ReturnCodes:             DefaultReturnCodes(),
		MsiInformation:          msiInformation(rec, rec.DisplayName),
	}, nil
}
