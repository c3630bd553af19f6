// Package rules translates the detection and requirement rules declared in
// App.json into catalog rule objects. Translation is driven by tables keyed
// on rule type and detection method; any combination without a table entry
// is rejected.
package rules

import (
	"encoding/base64"
	"errors"
	"fmt"
	"math"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/clean-dependency-project/appfactory/internal/manifest"
	"github.com/clean-dependency-project/appfactory/internal/platform"
	"github.com/clean-dependency-project/appfactory/internal/version"
)

// bytesPerMB converts declared sizes. The catalog compares sizes in bytes.
const bytesPerMB = 1 << 20

var (
	// ErrTranslation is matched by every TranslationError.
	ErrTranslation = errors.New("rule translation failed")

	ErrUnsupportedRule  = errors.New("unsupported rule combination")
	ErrInvalidOperator  = errors.New("invalid operator")
	ErrInvalidValue     = errors.New("invalid comparison value")
	ErrMissingField     = errors.New("required field is empty")
	ErrEmptyScript      = errors.New("script content is empty")
	ErrInvalidRunAs     = errors.New("invalid run-as account")
	ErrInvalidExistence = errors.New("invalid existence detection type")
)

// TranslationError reports the rule that could not be translated.
type TranslationError struct {
	Section string
	Index   int
	Key     manifest.RuleKey
	Err     error
}

func (e *TranslationError) Error() string {
	return fmt.Sprintf("failed to translate %s[%d] (%s): %v", e.Section, e.Index, e.Key, e.Err)
}

func (e *TranslationError) Unwrap() error {
	return e.Err
}

func (e *TranslationError) Is(target error) bool {
	return target == ErrTranslation
}

type translateFunc func(r manifest.RuleDeclaration) (Rule, error)

var operators = map[string]string{
	"notconfigured":      "notConfigured",
	"equal":              "equal",
	"notequal":           "notEqual",
	"greaterthan":        "greaterThan",
	"greaterthanorequal": "greaterThanOrEqual",
	"lessthan":           "lessThan",
	"lessthanorequal":    "lessThanOrEqual",
}

// operator canonicalizes a declared operator, returning def when none is
// declared.
func operator(declared, def string) (string, error) {
	if strings.TrimSpace(declared) == "" {
		return def, nil
	}
	op, ok := operators[strings.ToLower(strings.TrimSpace(declared))]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrInvalidOperator, declared)
	}
	return op, nil
}

// comparingOperator is operator for comparison methods, where notConfigured
// would make the value meaningless.
func comparingOperator(declared string) (string, error) {
	op, err := operator(declared, operatorEqual)
	if err != nil {
		return "", err
	}
	if op == operatorNotConfigured {
		return "", fmt.Errorf("%w: %q requires a comparison", ErrInvalidOperator, declared)
	}
	return op, nil
}

func existence(declared string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(declared)) {
	case "", "exists":
		return detectionTypeExists, nil
	case "doesnotexist":
		return detectionTypeDoesNotExist, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidExistence, declared)
}

func versionValue(s string) (string, error) {
	s = strings.TrimSpace(s)
	if !version.IsComparable(s) {
		return "", fmt.Errorf("%w: version %q", ErrInvalidValue, s)
	}
	return s, nil
}

// sizeInBytes converts a size in megabytes to a decimal byte count.
func sizeInBytes(mb string) (string, error) {
	f, err := strconv.ParseFloat(strings.TrimSpace(mb), 64)
	if err != nil || f < 0 || math.IsInf(f, 0) || math.IsNaN(f) {
		return "", fmt.Errorf("%w: size %q", ErrInvalidValue, mb)
	}
	return strconv.FormatInt(int64(math.Round(f*bytesPerMB)), 10), nil
}

// dateTimeValue passes a date-time through verbatim once it matches one of
// manifest.DateTimeLayouts.
func dateTimeValue(s string) (string, error) {
	s = strings.TrimSpace(s)
	if !manifest.IsDateTime(s) {
		return "", fmt.Errorf("%w: date-time %q", ErrInvalidValue, s)
	}
	return s, nil
}

func integerValue(s string) (string, error) {
	n, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil {
		return "", fmt.Errorf("%w: integer %q", ErrInvalidValue, s)
	}
	return strconv.FormatInt(n, 10), nil
}

func floatValue(s string) (string, error) {
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return "", fmt.Errorf("%w: float %q", ErrInvalidValue, s)
	}
	return strconv.FormatFloat(f, 'f', -1, 64), nil
}

func booleanValue(s string) (string, error) {
	b, err := strconv.ParseBool(strings.TrimSpace(s))
	if err != nil {
		return "", fmt.Errorf("%w: boolean %q", ErrInvalidValue, s)
	}
	return strconv.FormatBool(b), nil
}

func literalValue(s string) (string, error) {
	return s, nil
}

func require(field, value string) error {
	if strings.TrimSpace(value) == "" {
		return fmt.Errorf("%w: %s", ErrMissingField, field)
	}
	return nil
}

func encodeScript(content string) (string, error) {
	if strings.TrimSpace(content) == "" {
		return "", ErrEmptyScript
	}
	return base64.StdEncoding.EncodeToString([]byte(content)), nil
}

func productCode(r manifest.RuleDeclaration) (Rule, error) {
	if err := require("ProductCode", r.ProductCode); err != nil {
		return nil, err
	}
	op, err := operator(r.ProductVersionOperator, operatorNotConfigured)
	if err != nil {
		return nil, err
	}
	out := ProductCodeDetection{
		ODataType:              TagProductCodeDetection,
		ProductCode:            r.ProductCode,
		ProductVersionOperator: op,
	}
	if op != operatorNotConfigured {
		if out.ProductVersion, err = versionValue(r.ProductVersion); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// fileRule builds the translator of one file method. value is nil for
// existence checks.
func fileRule(tag, detectionType string, value func(manifest.RuleDeclaration) (string, error)) translateFunc {
	return func(r manifest.RuleDeclaration) (Rule, error) {
		if err := require("Path", r.Path); err != nil {
			return nil, err
		}
		if err := require("FileOrFolder", r.FileOrFolder); err != nil {
			return nil, err
		}
		out := FileSystemRule{
			ODataType:            tag,
			Path:                 r.Path,
			FileOrFolderName:     r.FileOrFolder,
			Check32BitOn64System: bool(r.Check32BitOn64System),
		}
		if value == nil {
			dt, err := existence(r.DetectionType)
			if err != nil {
				return nil, err
			}
			out.DetectionType = dt
			out.Operator = operatorNotConfigured
			return out, nil
		}
		op, err := comparingOperator(r.Operator)
		if err != nil {
			return nil, err
		}
		v, err := value(r)
		if err != nil {
			return nil, err
		}
		out.DetectionType, out.Operator, out.DetectionValue = detectionType, op, v
		return out, nil
	}
}

func registryRule(tag, detectionType string, value func(manifest.RuleDeclaration) (string, error)) translateFunc {
	return func(r manifest.RuleDeclaration) (Rule, error) {
		if err := require("KeyPath", r.KeyPath); err != nil {
			return nil, err
		}
		out := RegistryRule{
			ODataType:            tag,
			Check32BitOn64System: bool(r.Check32BitOn64System),
			KeyPath:              r.KeyPath,
			ValueName:            r.ValueName,
		}
		if value == nil {
			dt, err := existence(r.DetectionType)
			if err != nil {
				return nil, err
			}
			out.DetectionType = dt
			out.Operator = operatorNotConfigured
			return out, nil
		}
		if err := require("ValueName", r.ValueName); err != nil {
			return nil, err
		}
		op, err := comparingOperator(r.Operator)
		if err != nil {
			return nil, err
		}
		v, err := value(r)
		if err != nil {
			return nil, err
		}
		out.DetectionType, out.Operator, out.DetectionValue = detectionType, op, v
		return out, nil
	}
}

func scriptDetection(r manifest.RuleDeclaration) (Rule, error) {
	content, err := encodeScript(r.ScriptContent)
	if err != nil {
		return nil, err
	}
	return ScriptDetection{
		ODataType:             TagScriptDetection,
		EnforceSignatureCheck: bool(r.EnforceSignatureCheck),
		RunAs32Bit:            bool(r.RunAs32Bit),
		ScriptContent:         content,
	}, nil
}

func runAsAccount(declared string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(declared)) {
	case "", "system":
		return "system", nil
	case "user":
		return "user", nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidRunAs, declared)
}

func scriptRequirement(detectionType string, coerce func(string) (string, error)) translateFunc {
	return func(r manifest.RuleDeclaration) (Rule, error) {
		content, err := encodeScript(r.ScriptContent)
		if err != nil {
			return nil, err
		}
		account, err := runAsAccount(r.RunAsAccount)
		if err != nil {
			return nil, err
		}
		op, err := comparingOperator(r.Operator)
		if err != nil {
			return nil, err
		}
		v, err := coerce(r.Value)
		if err != nil {
			return nil, err
		}
		name := r.DisplayName
		if name == "" && r.ScriptFile != "" {
			name = filepath.Base(r.ScriptFile)
		}
		if name == "" {
			name = "Requirement script"
		}
		return ScriptRequirement{
			ODataType:             TagScriptRequirement,
			DisplayName:           name,
			EnforceSignatureCheck: bool(r.EnforceSignatureCheck),
			RunAs32Bit:            bool(r.RunAs32Bit),
			RunAsAccount:          account,
			ScriptContent:         content,
			DetectionType:         detectionType,
			Operator:              op,
			DetectionValue:        v,
		}, nil
	}
}

func fromVersion(r manifest.RuleDeclaration) (string, error) { return versionValue(r.VersionValue) }
func fromSize(r manifest.RuleDeclaration) (string, error) { return sizeInBytes(r.SizeInMBValue.String()) }
func fromDateTime(r manifest.RuleDeclaration) (string, error) { return dateTimeValue(r.DateTimeValue) }
func fromString(r manifest.RuleDeclaration) (string, error) { return r.Value, nil }
func fromInteger(r manifest.RuleDeclaration) (string, error) { return integerValue(r.Value) }

// registryVersion accepts the comparison value in either VersionValue or
// Value.
func registryVersion(r manifest.RuleDeclaration) (string, error) {
	if r.VersionValue != "" {
		return versionValue(r.VersionValue)
	}
	return versionValue(r.Value)
}

func fileTable(tag string) map[manifest.RuleKey]translateFunc {
	return map[manifest.RuleKey]translateFunc{
		{Type: manifest.RuleFile, Method: manifest.MethodExistence}:    fileRule(tag, "", nil),
		{Type: manifest.RuleFile, Method: manifest.MethodVersion}:      fileRule(tag, "version", fromVersion),
		{Type: manifest.RuleFile, Method: manifest.MethodSize}:         fileRule(tag, "sizeInMB", fromSize),
		{Type: manifest.RuleFile, Method: manifest.MethodDateModified}: fileRule(tag, "modifiedDate", fromDateTime),
		{Type: manifest.RuleFile, Method: manifest.MethodDateCreated}:  fileRule(tag, "createdDate", fromDateTime),
	}
}

func registryTable(tag string) map[manifest.RuleKey]translateFunc {
	return map[manifest.RuleKey]translateFunc{
		{Type: manifest.RuleRegistry, Method: manifest.MethodExistence}:         registryRule(tag, "", nil),
		{Type: manifest.RuleRegistry, Method: manifest.MethodVersionComparison}: registryRule(tag, "version", registryVersion),
		{Type: manifest.RuleRegistry, Method: manifest.MethodStringComparison}:  registryRule(tag, "string", fromString),
		{Type: manifest.RuleRegistry, Method: manifest.MethodIntegerComparison}: registryRule(tag, "integer", fromInteger),
	}
}

func merge(tables ...map[manifest.RuleKey]translateFunc) map[manifest.RuleKey]translateFunc {
	out := make(map[manifest.RuleKey]translateFunc)
	for _, t := range tables {
		for k, v := range t {
			out[k] = v
		}
	}
	return out
}

var detectionTable = merge(
	map[manifest.RuleKey]translateFunc{
		{Type: manifest.RuleMSI}:    productCode,
		{Type: manifest.RuleScript}: scriptDetection,
	},
	fileTable(TagFileSystemDetection),
	registryTable(TagRegistryDetection),
)

var requirementTable = merge(
	map[manifest.RuleKey]translateFunc{
		{Type: manifest.RuleScript, Method: manifest.OutputString}:   scriptRequirement("string", literalValue),
		{Type: manifest.RuleScript, Method: manifest.OutputInteger}:  scriptRequirement("integer", integerValue),
		{Type: manifest.RuleScript, Method: manifest.OutputBoolean}:  scriptRequirement("boolean", booleanValue),
		{Type: manifest.RuleScript, Method: manifest.OutputDateTime}: scriptRequirement("dateTime", dateTimeValue),
		{Type: manifest.RuleScript, Method: manifest.OutputFloat}:    scriptRequirement("float", floatValue),
		{Type: manifest.RuleScript, Method: manifest.OutputVersion}:  scriptRequirement("version", versionValue),
	},
	fileTable(TagFileSystemRequirement),
	registryTable(TagRegistryRequirement),
)

func translate(section string, table map[manifest.RuleKey]translateFunc, decls []manifest.RuleDeclaration) ([]Rule, error) {
	out := make([]Rule, 0, len(decls))
	for i, d := range decls {
		fn, ok := table[d.Key()]
		if !ok {
			return nil, &TranslationError{Section: section, Index: i, Key: d.Key(), Err: ErrUnsupportedRule}
		}
		rule, err := fn(d)
		if err != nil {
			return nil, &TranslationError{Section: section, Index: i, Key: d.Key(), Err: err}
		}
		out = append(out, rule)
	}
	return out, nil
}

// TranslateDetectionRules translates every detection rule, failing on the
// first rule that cannot be translated.
func TranslateDetectionRules(decls []manifest.RuleDeclaration) ([]Rule, error) {
	return translate("DetectionRule", detectionTable, decls)
}

// TranslateRequirementRules translates custom requirement rules.
func TranslateRequirementRules(decls []manifest.RuleDeclaration) ([]Rule, error) {
	return translate("CustomRequirementRule", requirementTable, decls)
}

// Defaults of the base requirement when App.json leaves it out.
const (
	DefaultArchitecture     = "All"
	DefaultMinimumWindowsOS = "W10_1607"
)

// TranslateBaseRequirement maps the declared architecture and minimum
// operating system to catalog values.
func TranslateBaseRequirement(req manifest.RequirementRule) (BaseRequirement, error) {
	arch := req.Architecture
	if arch == "" {
		arch = DefaultArchitecture
	}
	minOS := req.MinimumRequiredOperatingSystem
	if minOS == "" {
		minOS = DefaultMinimumWindowsOS
	}

	archs, err := platform.ApplicableArchitectures(arch)
	if err != nil {
		return BaseRequirement{}, &TranslationError{Section: "RequirementRule", Key: manifest.RuleKey{Type: "Architecture"}, Err: err}
	}
	release, err := platform.MinimumRelease(minOS)
	if err != nil {
		return BaseRequirement{}, &TranslationError{Section: "RequirementRule", Key: manifest.RuleKey{Type: "MinimumRequiredOperatingSystem"}, Err: err}
	}
	return BaseRequirement{ApplicableArchitectures: archs, MinimumSupportedWindowsRelease: release}, nil
}
