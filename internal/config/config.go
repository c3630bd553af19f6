// Package config provides configuration management for the application
// factory. Configuration is read once from YAML at process start, overlaid
// with secrets from the environment and passed explicitly to each component.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Environment variables read by ApplyEnv.
const (
	EnvClientSecret = "APPFACTORY_CLIENT_SECRET"
	EnvTenantID     = "APPFACTORY_TENANT_ID"
	EnvClientID     = "APPFACTORY_CLIENT_ID"
	EnvGitHubToken  = "GITHUB_TOKEN"
)

const (
	DefaultCallTimeout   = 60 * time.Second
	DefaultConcurrency   = 1
	DefaultPackagingTool = "IntuneWinAppUtil.exe"
	DefaultWingetPath    = "winget"
)

// Sentinel errors for configuration validation
var (
	ErrVersionRequired       = errors.New("version is required")
	ErrAppListRequired       = errors.New("workspace.app_list is required")
	ErrAppsDirRequired       = errors.New("workspace.apps_dir is required")
	ErrTenantIDRequired      = errors.New("catalog.tenant_id is required")
	ErrClientIDRequired      = errors.New("catalog.client_id is required")
	ErrClientSecretRequired  = errors.New("catalog client secret is required (set " + EnvClientSecret + ")")
	ErrInvalidConcurrency    = errors.New("pipeline.concurrency must be at least 1")
	ErrInvalidTimeout        = errors.New("pipeline.call_timeout must be a positive duration")
	ErrKeysPathRequired      = errors.New("verification.gpg.keys_path is required when gpg is enabled")
	ErrDatabasePathRequired  = errors.New("storage.database_path is required")
	ErrPackagingToolRequired = errors.New("packaging.tool_path is required")
)

// Config represents the top-level configuration structure.
type Config struct {
	Version      string             `yaml:"version"`
	Workspace    WorkspaceConfig    `yaml:"workspace"`
	Catalog      CatalogConfig      `yaml:"catalog"`
	Lookup       LookupConfig       `yaml:"lookup"`
	GitHub       GitHubConfig       `yaml:"github"`
	Packaging    PackagingConfig    `yaml:"packaging"`
	Pipeline     PipelineConfig     `yaml:"pipeline"`
	Verification VerificationConfig `yaml:"verification"`
	Storage      StorageConfig      `yaml:"storage"`
}

// WorkspaceConfig locates the app list, per-app folders and stage output.
type WorkspaceConfig struct {
	AppList      string `yaml:"app_list"`
	AppsDir      string `yaml:"apps_dir"`
	ListsDir     string `yaml:"lists_dir"`
	DownloadsDir string `yaml:"downloads_dir"`
	PackagesDir  string `yaml:"packages_dir"`
	HoldsFile    string `yaml:"holds_file"`
}

// CatalogConfig configures the device-management catalog API.
type CatalogConfig struct {
	BaseURL      string `yaml:"base_url"`
	TenantID     string `yaml:"tenant_id"`
	ClientID     string `yaml:"client_id"`
	ClientSecret string `yaml:"-"`
}

// LookupConfig configures the version sources.
type LookupConfig struct {
	EvergreenBaseURL string `yaml:"evergreen_base_url"`
	WingetPath       string `yaml:"winget_path"`
}

// GitHubConfig configures release lookups. The token is optional for public
// repositories.
type GitHubConfig struct {
	Token string `yaml:"-"`
}

// PackagingConfig configures the packaging tool.
type PackagingConfig struct {
	ToolPath string `yaml:"tool_path"`
}

// PipelineConfig controls per-stage execution.
type PipelineConfig struct {
	Concurrency int    `yaml:"concurrency"`
	CallTimeout string `yaml:"call_timeout"`
}

// GetCallTimeout parses and returns the per-call timeout.
func (p *PipelineConfig) GetCallTimeout() time.Duration {
	if p.CallTimeout == "" {
		return DefaultCallTimeout
	}
	timeout, err := time.ParseDuration(p.CallTimeout)
	if err != nil || timeout <= 0 {
		return DefaultCallTimeout
	}
	return timeout
}

// GetConcurrency returns the number of applications processed at once.
func (p *PipelineConfig) GetConcurrency() int {
	if p.Concurrency < 1 {
		return DefaultConcurrency
	}
	return p.Concurrency
}

// VerificationConfig enables optional checks on downloaded installers.
type VerificationConfig struct {
	GPG    GPGVerification    `yaml:"gpg"`
	ClamAV ClamAVVerification `yaml:"clamav"`
}

// GPGVerification represents GPG verification configuration.
type GPGVerification struct {
	Enabled  bool   `yaml:"enabled"`
	KeysPath string `yaml:"keys_path"`
}

// ClamAVVerification represents ClamAV malware scanning configuration.
type ClamAVVerification struct {
	Enabled bool   `yaml:"enabled"`
	Image   string `yaml:"image"`
}

// StorageConfig represents the publish ledger location.
type StorageConfig struct {
	DatabasePath string `yaml:"database_path"`
}

// LoadConfig loads the YAML configuration, applies environment overrides and
// validates the result. Relative workspace paths are resolved against the
// directory of the configuration file.
func LoadConfig(filePath string) (*Config, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", filePath, err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", filePath, err)
	}
	cfg.applyDefaults()
	cfg.ApplyEnv(os.LookupEnv)
	cfg.resolvePaths(filepath.Dir(filePath))
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	ws := &c.Workspace
	if ws.ListsDir == "" {
		ws.ListsDir = "lists"
	}
	if ws.DownloadsDir == "" {
		ws.DownloadsDir = "downloads"
	}
	if ws.PackagesDir == "" {
		ws.PackagesDir = "packages"
	}
	if c.Lookup.WingetPath == "" {
		c.Lookup.WingetPath = DefaultWingetPath
	}
	if c.Packaging.ToolPath == "" {
		c.Packaging.ToolPath = DefaultPackagingTool
	}
}

// ApplyEnv overlays secrets and identifiers from the environment. lookup is
// os.LookupEnv outside of tests.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) {
	if v, ok := lookup(EnvClientSecret); ok {
		c.Catalog.ClientSecret = v
	}
	if v, ok := lookup(EnvTenantID); ok && v != "" {
		c.Catalog.TenantID = v
	}
	if v, ok := lookup(EnvClientID); ok && v != "" {
		c.Catalog.ClientID = v
	}
	if v, ok := lookup(EnvGitHubToken); ok {
		c.GitHub.Token = v
	}
}

func (c *Config) resolvePaths(base string) {
	for _, p := range []*string{
		&c.Workspace.AppList,
		&c.Workspace.AppsDir,
		&c.Workspace.ListsDir,
		&c.Workspace.DownloadsDir,
		&c.Workspace.PackagesDir,
		&c.Workspace.HoldsFile,
		&c.Verification.GPG.KeysPath,
		&c.Storage.DatabasePath,
	} {
		if *p != "" && !filepath.IsAbs(*p) && *p != ":memory:" {
			*p = filepath.Join(base, *p)
		}
	}
}

// Validate validates the configuration structure and required fields.
// Catalog credentials are checked separately by commands that talk to the
// catalog.
func (c *Config) Validate() error {
	if c.Version == "" {
		return ErrVersionRequired
	}
	if c.Workspace.AppList == "" {
		return ErrAppListRequired
	}
	if c.Workspace.AppsDir == "" {
		return ErrAppsDirRequired
	}
	if c.Pipeline.Concurrency < 0 {
		return ErrInvalidConcurrency
	}
	if c.Pipeline.CallTimeout != "" {
		d, err := time.ParseDuration(c.Pipeline.CallTimeout)
		if err != nil || d <= 0 {
			return fmt.Errorf("%w: %q", ErrInvalidTimeout, c.Pipeline.CallTimeout)
		}
	}
	if c.Packaging.ToolPath == "" {
		return ErrPackagingToolRequired
	}
	if c.Verification.GPG.Enabled && c.Verification.GPG.KeysPath == "" {
		return ErrKeysPathRequired
	}
	if c.Storage.DatabasePath == "" {
		return ErrDatabasePathRequired
	}
	return nil
}

// Validate checks the catalog credentials.
func (c *CatalogConfig) Validate() error {
	if c.TenantID == "" {
		return ErrTenantIDRequired
	}
	if c.ClientID == "" {
		return ErrClientIDRequired
	}
	if c.ClientSecret == "" {
		return ErrClientSecretRequired
	}
	return nil
}

// AppDir returns the folder holding App.json and sources for an application.
func (c *Config) AppDir(folderName string) string {
	return filepath.Join(c.Workspace.AppsDir, folderName)
}

// DefaultConfig returns a configuration with the conventional workspace layout.
func DefaultConfig() *Config {
	cfg := &Config{
		Version: "1.0",
		Workspace: WorkspaceConfig{
			AppList: "appList.json",
			AppsDir: "Apps",
		},
		Pipeline: PipelineConfig{
			Concurrency: DefaultConcurrency,
			CallTimeout: DefaultCallTimeout.String(),
		},
		Verification: VerificationConfig{
			ClamAV: ClamAVVerification{Image: "clamav/clamav-debian:latest"},
		},
		Storage: StorageConfig{DatabasePath: "appfactory.db"},
	}
	cfg.applyDefaults()
	return cfg
}

// SaveConfig saves the configuration to a YAML file. Secrets are never
// written.
func SaveConfig(config *Config, filePath string) error {
	data, err := yaml.Marshal(config)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(filePath, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config file %s: %w", filePath, err)
	}
	return nil
}
