package evergreen

import (
	"context"
	"fmt"
)

// MockClient implements Client for testing. Apps maps an app id to the
// releases returned for it; unknown ids yield ErrAppNotFound.
type MockClient struct {
	Apps map[string][]Release
	Err  error
}

// NewMockClient creates a mock client serving a small fixed catalog.
func NewMockClient() *MockClient {
	return &MockClient{
		Apps: map[string][]Release{
			"7zip": {
				{Version: "24.08", URI: "https://www.7-zip.org/a/7z2408-x64.msi", Architecture: "x64", Type: "msi"},
				{Version: "24.08", URI: "https://www.7-zip.org/a/7z2408.msi", Architecture: "x86", Type: "msi"},
				{Version: "24.08", URI: "https://www.7-zip.org/a/7z2408-x64.exe", Architecture: "x64", Type: "exe"},
			},
		},
	}
}

func (m *MockClient) GetApp(_ context.Context, appID string) ([]Release, error) {
	if m.Err != nil {
		return nil, m.Err
	}
	releases, ok := m.Apps[appID]
	if !ok || len(releases) == 0 {
		return nil, fmt.Errorf("%s: %w", appID, ErrAppNotFound)
	}
	return releases, nil
}
