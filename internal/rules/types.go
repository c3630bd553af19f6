package rules

// Rule is a translated detection or requirement rule, ready to be embedded in
// a publish request.
type Rule interface {
	// Tag returns the @odata.type of the rule.
	Tag() string
}

const odataPrefix = "#microsoft.graph.win32LobApp"

// Catalog type tags.
const (
	TagProductCodeDetection  = odataPrefix + "ProductCodeDetection"
	TagFileSystemDetection   = odataPrefix + "FileSystemDetection"
	TagFileSystemRequirement = odataPrefix + "FileSystemRequirement"
	TagRegistryDetection     = odataPrefix + "RegistryDetection"
	TagRegistryRequirement   = odataPrefix + "RegistryRequirement"
	TagScriptDetection       = odataPrefix + "PowerShellScriptDetection"
	TagScriptRequirement     = odataPrefix + "PowerShellScriptRequirement"
)

const (
	operatorNotConfigured     = "notConfigured"
	operatorEqual             = "equal"
	detectionTypeExists       = "exists"
	detectionTypeDoesNotExist = "doesNotExist"
)

type ProductCodeDetection struct {
	ODataType              string `json:"@odata.type"`
	ProductCode            string `json:"productCode"`
	ProductVersionOperator string `json:"productVersionOperator"`
	ProductVersion         string `json:"productVersion,omitempty"`
}

func (r ProductCodeDetection) Tag() string { return r.ODataType }

// FileSystemRule is shared by file detection and file requirement rules; only
// the tag differs.
type FileSystemRule struct {
	ODataType            string `json:"@odata.type"`
	Path                 string `json:"path"`
	FileOrFolderName     string `json:"fileOrFolderName"`
	Check32BitOn64System bool   `json:"check32BitOn64System"`
	DetectionType        string `json:"detectionType"`
	Operator             string `json:"operator"`
	DetectionValue       string `json:"detectionValue,omitempty"`
}

func (r FileSystemRule) Tag() string { return r.ODataType }

// RegistryRule is shared by registry detection and requirement rules.
type RegistryRule struct {
	ODataType            string `json:"@odata.type"`
	Check32BitOn64System bool   `json:"check32BitOn64System"`
	KeyPath              string `json:"keyPath"`
	ValueName            string `json:"valueName,omitempty"`
	DetectionType        string `json:"detectionType"`
	Operator             string `json:"operator"`
	DetectionValue       string `json:"detectionValue,omitempty"`
}

func (r RegistryRule) Tag() string { return r.ODataType }

// ScriptDetection runs a script whose output on stdout marks the app as
// installed. ScriptContent is base64 encoded.
type ScriptDetection struct {
	ODataType             string `json:"@odata.type"`
	EnforceSignatureCheck bool   `json:"enforceSignatureCheck"`
	RunAs32Bit            bool   `json:"runAs32Bit"`
	ScriptContent         string `json:"scriptContent"`
}

func (r ScriptDetection) Tag() string { return r.ODataType }

// ScriptRequirement compares the output of a script with DetectionValue.
// ScriptContent is base64 encoded.
type ScriptRequirement struct {
	ODataType             string `json:"@odata.type"`
	DisplayName           string `json:"displayName"`
	EnforceSignatureCheck bool   `json:"enforceSignatureCheck"`
	RunAs32Bit            bool   `json:"runAs32Bit"`
	RunAsAccount          string `json:"runAsAccount"`
	ScriptContent         string `json:"scriptContent"`
	DetectionType         string `json:"detectionType"`
	Operator              string `json:"operator"`
	DetectionValue        string `json:"detectionValue"`
}

func (r ScriptRequirement) Tag() string { return r.ODataType }

// BaseRequirement is the architecture and operating system floor of an app.
type BaseRequirement struct {
	ApplicableArchitectures        string `json:"applicableArchitectures"`
	MinimumSupportedWindowsRelease string `json:"minimumSupportedWindowsRelease"`
}
