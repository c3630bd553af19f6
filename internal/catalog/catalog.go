// Package catalog talks to the device-management catalog (Microsoft Graph)
// to list published Win32 applications, create new ones and assign them.
package catalog

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

const (
	// DefaultBaseURL is the Graph endpoint carrying the Win32 app model
	DefaultBaseURL = "https://graph.microsoft.com/beta"

	// DefaultScope requests the application permissions granted to the client
	DefaultScope = "https://graph.microsoft.com/.default"

	// DefaultTimeout bounds a single HTTP exchange
	DefaultTimeout = 60 * time.Second

	// Win32AppType is the @odata.type of Win32 line-of-business apps
	Win32AppType = "#microsoft.graph.win32LobApp"

	tokenURLFormat = "https://login.microsoftonline.com/%s/oauth2/v2.0/token"
	nextLinkKey    = "@odata.nextLink"
)

var (
	// ErrCatalogQuery is matched by every failed catalog request.
	ErrCatalogQuery = errors.New("catalog query failed")

	// ErrAuthentication indicates the client could not obtain or use a token.
	ErrAuthentication = errors.New("catalog authentication failed")

	// ErrNoID indicates a create call succeeded without returning an id.
	ErrNoID = errors.New("catalog response has no id")
)

// ErrAPIError represents a non-success HTTP response.
type ErrAPIError struct {
	StatusCode int
	Message    string
	Op         string
}

func (e ErrAPIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s: API error: %d %s", e.Op, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("%s: API error: %d", e.Op, e.StatusCode)
}

func (e ErrAPIError) Is(target error) bool {
	switch target {
	case ErrCatalogQuery:
		return true
	case ErrAuthentication:
		return e.StatusCode == http.StatusUnauthorized || e.StatusCode == http.StatusForbidden
	}
	return false
}

// App is a published Win32 application as listed by the catalog.
type App struct {
	ID             string `json:"id"`
	DisplayName    string `json:"displayName"`
	DisplayVersion string `json:"displayVersion"`
}

// AssignmentFilter is a device filter that assignments can reference.
type AssignmentFilter struct {
	ID          string `json:"id"`
	DisplayName string `json:"displayName"`
	Platform    string `json:"platform"`
}

// ContentFile describes the package file placeholder of a content version.
type ContentFile struct {
	Name          string
	Size          int64
	SizeEncrypted int64
}

// Client is the set of catalog operations used by the pipeline.
type Client interface {
	ListWin32Apps(ctx context.Context) ([]App, error)
	CreateWin32App(ctx context.Context, app any) (string, error)
	CreateContentVersion(ctx context.Context, appID string) (string, error)
	CreateContentFile(ctx context.Context, appID, versionID string, file ContentFile) (string, error)
	CreateAssignment(ctx context.Context, appID string, assignment any) (string, error)
	ListAssignmentFilters(ctx context.Context) ([]AssignmentFilter, error)
}

// Config holds the connection settings of a GraphClient.
type Config struct {
	BaseURL      string
	TokenURL     string
	TenantID     string
	ClientID     string
	ClientSecret string
	Timeout      time.Duration
	// HTTPClient is the transport used for token and API calls. Tests point
	// it at an httptest server.
	HTTPClient *http.Client
	Logger     *slog.Logger
}

// GraphClient implements Client over the Graph REST API using the client
// credentials grant.
type GraphClient struct {
	http    *http.Client
	creds   *clientcredentials.Config
	baseCtx context.Context
	baseURL string
	logger  *slog.Logger
}

// NewGraphClient creates a catalog client. No request is made until the
// first call; use Authenticate to fail fast on bad credentials.
func NewGraphClient(cfg Config) *GraphClient {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.TokenURL == "" {
		cfg.TokenURL = fmt.Sprintf(tokenURLFormat, url.PathEscape(cfg.TenantID))
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: cfg.Timeout}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	creds := &clientcredentials.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		TokenURL:     cfg.TokenURL,
		Scopes:       []string{DefaultScope},
	}
	baseCtx := context.WithValue(context.Background(), oauth2.HTTPClient, cfg.HTTPClient)

	return &GraphClient{
		http:    creds.Client(baseCtx),
		creds:   creds,
		baseCtx: baseCtx,
		baseURL: strings.TrimSuffix(cfg.BaseURL, "/"),
		logger:  cfg.Logger,
	}
}

// Authenticate obtains a token so that credential problems surface before
// any per-app work starts.
func (c *GraphClient) Authenticate(ctx context.Context) error {
	ctx = context.WithValue(ctx, oauth2.HTTPClient, c.baseCtx.Value(oauth2.HTTPClient))
	if _, err := c.creds.Token(ctx); err != nil {
		return fmt.Errorf("%w: %w", ErrAuthentication, err)
	}
	return nil
}

// ListWin32Apps returns every Win32 app, following server-side paging.
func (c *GraphClient) ListWin32Apps(ctx context.Context) ([]App, error) {
	query := url.Values{}
	query.Set("$filter", "isof('microsoft.graph.win32LobApp')")
	query.Set("$select", "id,displayName,displayVersion")
	next := c.baseURL + "/deviceAppManagement/mobileApps?" + query.Encode()

	var apps []App
	err := c.paginate(ctx, "list win32 apps", next, func(v gjson.Result) {
		apps = append(apps, App{
			ID:             v.Get("id").String(),
			DisplayName:    v.Get("displayName").String(),
			DisplayVersion: v.Get("displayVersion").String(),
		})
	})
	if err != nil {
		return nil, err
	}
	c.logger.Debug("listed catalog apps", "count", len(apps))
	return apps, nil
}

// ListAssignmentFilters returns every assignment filter.
func (c *GraphClient) ListAssignmentFilters(ctx context.Context) ([]AssignmentFilter, error) {
	query := url.Values{}
	query.Set("$select", "id,displayName,platform")
	next := c.baseURL + "/deviceManagement/assignmentFilters?" + query.Encode()

	var filters []AssignmentFilter
	err := c.paginate(ctx, "list assignment filters", next, func(v gjson.Result) {
		filters = append(filters, AssignmentFilter{
			ID:          v.Get("id").String(),
			DisplayName: v.Get("displayName").String(),
			Platform:    v.Get("platform").String(),
		})
	})
	return filters, err
}

func (c *GraphClient) paginate(ctx context.Context, op, next string, each func(gjson.Result)) error {
	for next != "" {
		body, err := c.do(ctx, op, http.MethodGet, next, nil)
		if err != nil {
			return err
		}
		if !gjson.ValidBytes(body) {
			return fmt.Errorf("%w: %s: malformed response", ErrCatalogQuery, op)
		}
		doc := gjson.ParseBytes(body)
		values := doc.Get("value")
		if !values.IsArray() {
			return fmt.Errorf("%w: %s: response has no value array", ErrCatalogQuery, op)
		}
		values.ForEach(func(_, v gjson.Result) bool {
			each(v)
			return true
		})

		next = ""
		doc.ForEach(func(key, v gjson.Result) bool {
			if key.String() == nextLinkKey {
				next = v.String()
				return false
			}
			return true
		})
	}
	return nil
}

// CreateWin32App creates the app entry and returns its id.
func (c *GraphClient) CreateWin32App(ctx context.Context, app any) (string, error) {
	return c.create(ctx, "create win32 app", c.baseURL+"/deviceAppManagement/mobileApps", app)
}

// CreateContentVersion opens a new content version for the app.
func (c *GraphClient) CreateContentVersion(ctx context.Context, appID string) (string, error) {
	endpoint := fmt.Sprintf("%s/deviceAppManagement/mobileApps/%s/microsoft.graph.win32LobApp/contentVersions",
		c.baseURL, url.PathEscape(appID))
	return c.create(ctx, "create content version", endpoint, json.RawMessage(`{}`))
}

// CreateContentFile creates the file placeholder for the package.
func (c *GraphClient) CreateContentFile(ctx context.Context, appID, versionID string, file ContentFile) (string, error) {
	body, err := ContentFileBody(file)
	if err != nil {
		return "", err
	}
	endpoint := fmt.Sprintf("%s/deviceAppManagement/mobileApps/%s/microsoft.graph.win32LobApp/contentVersions/%s/files",
		c.baseURL, url.PathEscape(appID), url.PathEscape(versionID))
	return c.create(ctx, "create content file", endpoint, json.RawMessage(body))
}

// ContentFileBody renders the request body of a file placeholder.
func ContentFileBody(file ContentFile) (string, error) {
	body := `{}`
	var err error
	for _, kv := range []struct {
		path  string
		value any
	}{
		{`@odata\.type`, "#microsoft.graph.mobileAppContentFile"},
		{"name", file.Name},
		{"size", file.Size},
		{"sizeEncrypted", file.SizeEncrypted},
		{"manifest", nil},
		{"isDependency", false},
	} {
		body, err = sjson.Set(body, kv.path, kv.value)
		if err != nil {
			return "", fmt.Errorf("failed to build content file body: %w", err)
		}
	}
	return body, nil
}

// CreateAssignment submits one assignment of the app.
func (c *GraphClient) CreateAssignment(ctx context.Context, appID string, assignment any) (string, error) {
	endpoint := fmt.Sprintf("%s/deviceAppManagement/mobileApps/%s/assignments", c.baseURL, url.PathEscape(appID))
	return c.create(ctx, "create assignment", endpoint, assignment)
}

func (c *GraphClient) create(ctx context.Context, op, endpoint string, payload any) (string, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("failed to encode %s request: %w", op, err)
	}
	body, err := c.do(ctx, op, http.MethodPost, endpoint, data)
	if err != nil {
		return "", err
	}
	id := gjson.GetBytes(body, "id").String()
	if id == "" {
		return "", fmt.Errorf("%w: %s: %w", ErrCatalogQuery, op, ErrNoID)
	}
	return id, nil
}

func (c *GraphClient) do(ctx context.Context, op, method, endpoint string, payload []byte) ([]byte, error) {
	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		var retrieveErr *oauth2.RetrieveError
		if errors.As(err, &retrieveErr) {
			return nil, fmt.Errorf("%w: %w: %w", ErrCatalogQuery, ErrAuthentication, err)
		}
		return nil, fmt.Errorf("%w: %s: %w", ErrCatalogQuery, op, err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: failed to read response: %w", ErrCatalogQuery, op, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, ErrAPIError{
			StatusCode: resp.StatusCode,
			Message:    gjson.GetBytes(body, "error.message").String(),
			Op:         op,
		}
	}
	return body, nil
}
