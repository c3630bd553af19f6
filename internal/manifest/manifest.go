package manifest

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/tidwall/jsonc"
	"go.uber.org/multierr"
)

// FileName is the manifest file expected in every application folder.
const FileName = "App.json"

var (
	ErrNoDetectionRules  = errors.New("at least one DetectionRule is required")
	ErrUnknownRule       = errors.New("unrecognized rule")
	ErrGroupIDRequired   = errors.New("GroupID is required for Group assignments")
	ErrUnknownTarget     = errors.New("unknown assignment target")
	ErrUnknownIntent     = errors.New("unknown assignment intent")
	ErrSetupFileRequired = errors.New("PackageInformation.SetupFile is required")
)

// RuleType is the kind of a detection or requirement rule.
type RuleType string

const (
	RuleMSI      RuleType = "MSI"
	RuleFile     RuleType = "File"
	RuleRegistry RuleType = "Registry"
	RuleScript   RuleType = "Script"
)

// File detection methods.
const (
	MethodExistence    = "Existence"
	MethodVersion      = "Version"
	MethodSize         = "Size"
	MethodDateModified = "DateModified"
	MethodDateCreated  = "DateCreated"
)

// Registry detection methods.
const (
	MethodVersionComparison = "VersionComparison"
	MethodStringComparison  = "StringComparison"
	MethodIntegerComparison = "IntegerComparison"
)

// Script requirement output types. They take the DetectionMethod slot of a
// script requirement rule.
const (
	OutputString   = "String"
	OutputInteger  = "Integer"
	OutputBoolean  = "Boolean"
	OutputDateTime = "DateTime"
	OutputFloat    = "Float"
	OutputVersion  = "Version"
)

// RuleKey identifies one row of the rule translation tables.
type RuleKey struct {
	Type   RuleType
	Method string
}

func (k RuleKey) String() string {
	if k.Method == "" {
		return string(k.Type)
	}
	return string(k.Type) + "/" + k.Method
}

var detectionKeys = []RuleKey{
	{RuleMSI, ""},
	{RuleFile, MethodExistence},
	{RuleFile, MethodVersion},
	{RuleFile, MethodSize},
	{RuleFile, MethodDateModified},
	{RuleFile, MethodDateCreated},
	{RuleRegistry, MethodExistence},
	{RuleRegistry, MethodVersionComparison},
	{RuleRegistry, MethodStringComparison},
	{RuleRegistry, MethodIntegerComparison},
	{RuleScript, ""},
}

var requirementKeys = []RuleKey{
	{RuleFile, MethodExistence},
	{RuleFile, MethodVersion},
	{RuleFile, MethodSize},
	{RuleFile, MethodDateModified},
	{RuleFile, MethodDateCreated},
	{RuleRegistry, MethodExistence},
	{RuleRegistry, MethodVersionComparison},
	{RuleRegistry, MethodStringComparison},
	{RuleRegistry, MethodIntegerComparison},
	{RuleScript, OutputString},
	{RuleScript, OutputInteger},
	{RuleScript, OutputBoolean},
	{RuleScript, OutputDateTime},
	{RuleScript, OutputFloat},
	{RuleScript, OutputVersion},
}

// DetectionKeys lists every supported detection rule combination.
func DetectionKeys() []RuleKey { return append([]RuleKey(nil), detectionKeys...) }

// RequirementKeys lists every supported requirement rule combination.
func RequirementKeys() []RuleKey { return append([]RuleKey(nil), requirementKeys...) }

func containsKey(keys []RuleKey, k RuleKey) bool {
	for _, v := range keys {
		if v == k {
			return true
		}
	}
	return false
}

// RuleDeclaration is a detection or requirement rule as written in App.json.
// Type and DetectionMethod select which of the remaining fields apply.
type RuleDeclaration struct {
	Type            RuleType `json:"Type"`
	DetectionMethod string   `json:"DetectionMethod,omitempty"`

	// MSI
	ProductCode            string `json:"ProductCode,omitempty"`
	ProductVersionOperator string `json:"ProductVersionOperator,omitempty"`
	ProductVersion         string `json:"ProductVersion,omitempty"`

	// File and Registry
	Path                 string      `json:"Path,omitempty"`
	FileOrFolder         string      `json:"FileOrFolder,omitempty"`
	KeyPath              string      `json:"KeyPath,omitempty"`
	ValueName            string      `json:"ValueName,omitempty"`
	Check32BitOn64System Flag        `json:"Check32BitOn64System,omitempty"`
	DetectionType        string      `json:"DetectionType,omitempty"`
	Operator             string      `json:"Operator,omitempty"`
	VersionValue         string      `json:"VersionValue,omitempty"`
	SizeInMBValue        json.Number `json:"SizeInMBValue,omitempty"`
	DateTimeValue        string      `json:"DateTimeValue,omitempty"`
	Value                string      `json:"Value,omitempty"`

	// Script
	ScriptFile            string `json:"ScriptFile,omitempty"`
	ScriptContent         string `json:"ScriptContent,omitempty"`
	EnforceSignatureCheck Flag   `json:"EnforceSignatureCheck,omitempty"`
	RunAs32Bit            Flag   `json:"RunAs32Bit,omitempty"`
	RunAsAccount          string `json:"RunAsAccount,omitempty"`
	DisplayName           string `json:"DisplayName,omitempty"`
}

// Key returns the translation table key. MSI and detection scripts have no
// method.
func (r RuleDeclaration) Key() RuleKey {
	return RuleKey{Type: r.Type, Method: r.DetectionMethod}
}

// PackageInformation describes the package folder layout.
type PackageInformation struct {
	SetupType    string `json:"SetupType,omitempty"`
	SetupFile    string `json:"SetupFile"`
	SourceFolder string `json:"SourceFolder,omitempty"`
	OutputFolder string `json:"OutputFolder,omitempty"`
	IconFile     string `json:"IconFile,omitempty"`
}

// Information is the display metadata of the catalog entry.
type Information struct {
	DisplayName    string `json:"DisplayName,omitempty"`
	AppVersion     string `json:"AppVersion,omitempty"`
	Description    string `json:"Description,omitempty"`
	Publisher      string `json:"Publisher,omitempty"`
	Developer      string `json:"Developer,omitempty"`
	Owner          string `json:"Owner,omitempty"`
	Notes          string `json:"Notes,omitempty"`
	InformationURL string `json:"InformationURL,omitempty"`
	PrivacyURL     string `json:"PrivacyURL,omitempty"`
}

// Program holds the install and uninstall behavior.
type Program struct {
	InstallCommand          string `json:"InstallCommand"`
	UninstallCommand        string `json:"UninstallCommand"`
	InstallExperience       string `json:"InstallExperience,omitempty"`
	DeviceRestartBehavior   string `json:"DeviceRestartBehavior,omitempty"`
	AllowAvailableUninstall Flag   `json:"AllowAvailableUninstall,omitempty"`
}

// RequirementRule is the base requirement every device must meet.
type RequirementRule struct {
	MinimumRequiredOperatingSystem string `json:"MinimumRequiredOperatingSystem,omitempty"`
	Architecture                   string `json:"Architecture,omitempty"`
}

// Assignment target kinds.
const (
	TargetVirtualGroup = "VirtualGroup"
	TargetGroup        = "Group"
)

// AssignmentDeclaration is one assignment entry from App.json.
type AssignmentDeclaration struct {
	Type      string `json:"Type"`
	GroupName string `json:"GroupName,omitempty"`
	GroupID   string `json:"GroupID,omitempty"`
	GroupMode string `json:"GroupMode,omitempty"`
	Intent    string `json:"Intent"`

	Notification                 string `json:"Notification,omitempty"`
	DeliveryOptimizationPriority string `json:"DeliveryOptimizationPriority,omitempty"`

	UseLocalTime  Flag   `json:"UseLocalTime,omitempty"`
	AvailableTime string `json:"AvailableTime,omitempty"`
	DeadlineTime  string `json:"DeadlineTime,omitempty"`

	EnableRestartGracePeriod  Flag `json:"EnableRestartGracePeriod,omitempty"`
	RestartGracePeriod        int  `json:"RestartGracePeriod,omitempty"`
	RestartCountDownDisplay   int  `json:"RestartCountDownDisplay,omitempty"`
	RestartNotificationSnooze int  `json:"RestartNotificationSnooze,omitempty"`

	FilterName string `json:"FilterName,omitempty"`
	FilterMode string `json:"FilterMode,omitempty"`
}

var intents = map[string]bool{"available": true, "required": true, "uninstall": true}

// Validate checks target and intent. Virtual groups ignore GroupID.
func (a AssignmentDeclaration) Validate() error {
	switch a.Type {
	case TargetVirtualGroup:
		if a.GroupName != "AllDevices" && a.GroupName != "AllUsers" {
			return fmt.Errorf("%w: VirtualGroup %q", ErrUnknownTarget, a.GroupName)
		}
	case TargetGroup:
		if strings.TrimSpace(a.GroupID) == "" {
			return ErrGroupIDRequired
		}
		mode := strings.ToLower(a.GroupMode)
		if mode != "include" && mode != "exclude" {
			return fmt.Errorf("%w: GroupMode %q", ErrUnknownTarget, a.GroupMode)
		}
	default:
		return fmt.Errorf("%w: %q", ErrUnknownTarget, a.Type)
	}
	if !intents[strings.ToLower(a.Intent)] {
		return fmt.Errorf("%w: %q", ErrUnknownIntent, a.Intent)
	}
	return nil
}

// AppManifest is the per-application App.json.
type AppManifest struct {
	PackageInformation    PackageInformation      `json:"PackageInformation"`
	Information           Information             `json:"Information"`
	Program               Program                 `json:"Program"`
	RequirementRule       RequirementRule         `json:"RequirementRule"`
	CustomRequirementRule []RuleDeclaration       `json:"CustomRequirementRule,omitempty"`
	DetectionRule         []RuleDeclaration       `json:"DetectionRule"`
	Assignment            []AssignmentDeclaration `json:"Assignment,omitempty"`
}

// Validate rejects manifests that cannot be published safely: missing setup
// file, no detection rules, unknown rule combinations or malformed
// assignments.
func (m *AppManifest) Validate() error {
	var errs error
	if strings.TrimSpace(m.PackageInformation.SetupFile) == "" {
		errs = multierr.Append(errs, ErrSetupFileRequired)
	}
	if len(m.DetectionRule) == 0 {
		errs = multierr.Append(errs, ErrNoDetectionRules)
	}
	for i, r := range m.DetectionRule {
		if !containsKey(detectionKeys, r.Key()) {
			errs = multierr.Append(errs, fmt.Errorf("DetectionRule[%d]: %w: %s", i, ErrUnknownRule, r.Key()))
		}
	}
	for i, r := range m.CustomRequirementRule {
		if !containsKey(requirementKeys, r.Key()) {
			errs = multierr.Append(errs, fmt.Errorf("CustomRequirementRule[%d]: %w: %s", i, ErrUnknownRule, r.Key()))
		}
	}
	for i, a := range m.Assignment {
		if err := a.Validate(); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("Assignment[%d]: %w", i, err))
		}
	}
	return errs
}

// Placeholders that App.json may contain. They are substituted before the
// manifest is decoded.
const (
	PlaceholderVersion     = "###VERSION###"
	PlaceholderDisplayName = "###DISPLAYNAME###"
	PlaceholderSetupFile   = "###SETUPFILENAME###"
	PlaceholderProductCode = "###PRODUCTCODE###"
)

// Vars holds placeholder values keyed by placeholder token.
type Vars map[string]string

// Expand substitutes every known placeholder in data. Values are JSON-escaped
// so they can be placed inside string literals.
func (v Vars) Expand(data []byte) []byte {
	if len(v) == 0 {
		return data
	}
	tokens := make([]string, 0, len(v))
	for k := range v {
		tokens = append(tokens, k)
	}
	sort.Strings(tokens)

	pairs := make([]string, 0, len(v)*2)
	for _, k := range tokens {
		escaped, _ := json.Marshal(v[k])
		pairs = append(pairs, k, string(escaped[1:len(escaped)-1]))
	}
	return []byte(strings.NewReplacer(pairs...).Replace(string(data)))
}

// LoadManifest reads App.json from appDir, expands placeholders and
// validates the result. Script rules referencing ScriptFile are resolved
// relative to appDir.
func LoadManifest(appDir string, vars Vars) (*AppManifest, error) {
	data, err := os.ReadFile(filepath.Join(appDir, FileName))
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest: %w", err)
	}
	m, err := ParseManifest(vars.Expand(data))
	if err != nil {
		return nil, err
	}
	if err := m.resolveScripts(appDir); err != nil {
		return nil, err
	}
	return m, nil
}

// ParseManifest decodes and validates manifest content.
func ParseManifest(data []byte) (*AppManifest, error) {
	var m AppManifest
	if err := json.Unmarshal(jsonc.ToJSON(data), &m); err != nil {
		return nil, fmt.Errorf("failed to parse manifest: %w", err)
	}
	if err := m.Validate(); err != nil {
		return nil, fmt.Errorf("invalid manifest: %w", err)
	}
	return &m, nil
}

func (m *AppManifest) resolveScripts(appDir string) error {
	load := func(rules []RuleDeclaration, section string) error {
		for i := range rules {
			r := &rules[i]
			if r.Type != RuleScript || r.ScriptContent != "" || r.ScriptFile == "" {
				continue
			}
			body, err := os.ReadFile(filepath.Join(appDir, r.ScriptFile))
			if err != nil {
				return fmt.Errorf("%s[%d]: failed to read script: %w", section, i, err)
			}
			r.ScriptContent = string(body)
		}
		return nil
	}
	if err := load(m.DetectionRule, "DetectionRule"); err != nil {
		return err
	}
	return load(m.CustomRequirementRule, "CustomRequirementRule")
}
