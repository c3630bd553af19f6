// Package evergreen provides integration with the Evergreen API for
// retrieving the latest published versions and download URLs of Windows
// applications.
package evergreen

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/tidwall/gjson"
)

const (
	// DefaultBaseURL is the default Evergreen API base URL
	DefaultBaseURL = "https://evergreen-api.stealthpuppy.com"

	// DefaultTimeout is the default HTTP client timeout
	DefaultTimeout = 30 * time.Second

	// DefaultUserAgent is the default User-Agent header
	DefaultUserAgent = "appfactory/1.0"
)

var (
	// ErrAppNotFound indicates the requested application was not found or
	// has no releases
	ErrAppNotFound = fmt.Errorf("app not found")

	// ErrInvalidResponse indicates the API response was invalid
	ErrInvalidResponse = fmt.Errorf("invalid API response")

	// ErrNetworkError indicates a network-related error
	ErrNetworkError = fmt.Errorf("network error")
)

// ErrAPIError represents an API-specific error
type ErrAPIError struct {
	StatusCode int
	Message    string
	App        string
}

func (e ErrAPIError) Error() string {
	if e.App != "" {
		return fmt.Sprintf("API error for app %s: %d %s", e.App, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("API error: %d %s", e.StatusCode, e.Message)
}

func (e ErrAPIError) Is(target error) bool {
	switch target {
	case ErrAppNotFound:
		return e.StatusCode == http.StatusNotFound
	case ErrInvalidResponse:
		return e.StatusCode >= 400 && e.StatusCode < 500 && e.StatusCode != http.StatusNotFound
	case ErrNetworkError:
		return e.StatusCode == 0 || e.StatusCode >= 500
	}
	return false
}

// Release is one installer entry returned for an application. Fields absent
// from the response are left empty.
type Release struct {
	Version       string
	URI           string
	Architecture  string
	Platform      string
	Channel       string
	Type          string
	InstallerType string
	Language      string
	Edition       string
	Ring          string
	Release       string
	ImageType     string
}

// Field returns the value of a filterable field by its API name.
func (r Release) Field(name string) string {
	switch name {
	case "Architecture":
		return r.Architecture
	case "Platform":
		return r.Platform
	case "Channel":
		return r.Channel
	case "Type":
		return r.Type
	case "InstallerType":
		return r.InstallerType
	case "Language":
		return r.Language
	case "Edition":
		return r.Edition
	case "Ring":
		return r.Ring
	case "Release":
		return r.Release
	case "ImageType":
		return r.ImageType
	}
	return ""
}

// Client defines the interface for the Evergreen API client
type Client interface {
	// GetApp retrieves every release entry of an application
	GetApp(ctx context.Context, appID string) ([]Release, error)
}

// HTTPClient defines the interface for HTTP operations
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Config holds configuration for the Evergreen client
type Config struct {
	BaseURL    string
	UserAgent  string
	Timeout    time.Duration
	HTTPClient HTTPClient
}

// DefaultConfig returns a default configuration
func DefaultConfig() Config {
	return Config{
		BaseURL:   DefaultBaseURL,
		UserAgent: DefaultUserAgent,
		Timeout:   DefaultTimeout,
		HTTPClient: &http.Client{
			Timeout: DefaultTimeout,
		},
	}
}

type client struct {
	config Config
}

// NewClient creates a new Evergreen API client
func NewClient(config Config) Client {
	if config.BaseURL == "" {
		config.BaseURL = DefaultBaseURL
	}
	if config.UserAgent == "" {
		config.UserAgent = DefaultUserAgent
	}
	if config.Timeout == 0 {
		config.Timeout = DefaultTimeout
	}
	if config.HTTPClient == nil {
		config.HTTPClient = &http.Client{
			Timeout: config.Timeout,
		}
	}
	return &client{config: config}
}

// GetApp retrieves every release entry of an application. The API answers
// with either a single object or an array of objects.
func (c *client) GetApp(ctx context.Context, appID string) ([]Release, error) {
	if appID == "" {
		return nil, ErrAPIError{
			StatusCode: http.StatusBadRequest,
			Message:    "app id cannot be empty",
		}
	}

	apiURL, err := url.JoinPath(c.config.BaseURL, "app", appID)
	if err != nil {
		return nil, fmt.Errorf("failed to construct API URL: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, apiURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.config.UserAgent)

	resp, err := c.config.HTTPClient.Do(req)
	if err != nil {
		return nil, ErrAPIError{
			StatusCode: 0,
			Message:    err.Error(),
			App:        appID,
		}
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		return nil, ErrAPIError{
			StatusCode: resp.StatusCode,
			Message:    resp.Status,
			App:        appID,
		}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response for %s: %w", appID, err)
	}
	releases, err := ParseReleases(body)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", appID, err)
	}
	if len(releases) == 0 {
		return nil, fmt.Errorf("%s: %w", appID, ErrAppNotFound)
	}
	return releases, nil
}

// ParseReleases decodes an API response body into release entries.
func ParseReleases(body []byte) ([]Release, error) {
	if !gjson.ValidBytes(body) {
		return nil, ErrInvalidResponse
	}
	doc := gjson.ParseBytes(body)
	if !doc.IsArray() && !doc.IsObject() {
		return nil, ErrInvalidResponse
	}
	if doc.IsObject() {
		// Error payloads are objects carrying a message instead of a Version.
		if !doc.Get("Version").Exists() {
			return nil, fmt.Errorf("%w: %s", ErrAppNotFound, doc.Get("message").String())
		}
		return []Release{releaseFrom(doc)}, nil
	}

	var releases []Release
	doc.ForEach(func(_, value gjson.Result) bool {
		if value.IsObject() {
			releases = append(releases, releaseFrom(value))
		}
		return true
	})
	return releases, nil
}

func releaseFrom(v gjson.Result) Release {
	return Release{
		Version:       v.Get("Version").String(),
		URI:           v.Get("URI").String(),
		Architecture:  v.Get("Architecture").String(),
		Platform:      v.Get("Platform").String(),
		Channel:       v.Get("Channel").String(),
		Type:          v.Get("Type").String(),
		InstallerType: v.Get("InstallerType").String(),
		Language:      v.Get("Language").String(),
		Edition:       v.Get("Edition").String(),
		Ring:          v.Get("Ring").String(),
		Release:       v.Get("Release").String(),
		ImageType:     v.Get("ImageType").String(),
	}
}
