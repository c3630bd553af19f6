package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
)

// MockClient implements Client in memory for testing. Created apps are
// appended to Apps so later listings see them.
type MockClient struct {
	Apps    []App
	Filters []AssignmentFilter

	// ListErr fails ListWin32Apps; CreateErr fails every create call;
	// AssignErr fails CreateAssignment only.
	ListErr   error
	CreateErr error
	AssignErr error

	mu          sync.Mutex
	nextID      int
	created     []json.RawMessage
	files       []ContentFile
	assignments map[string][]json.RawMessage
}

func (m *MockClient) ListWin32Apps(context.Context) ([]App, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ListErr != nil {
		return nil, m.ListErr
	}
	out := make([]App, len(m.Apps))
	copy(out, m.Apps)
	return out, nil
}

func (m *MockClient) CreateWin32App(_ context.Context, app any) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.CreateErr != nil {
		return "", m.CreateErr
	}
	data, err := json.Marshal(app)
	if err != nil {
		return "", err
	}
	m.created = append(m.created, data)
	id := m.newID("app")
	var named struct {
		DisplayName    string `json:"displayName"`
		DisplayVersion string `json:"displayVersion"`
	}
	_ = json.Unmarshal(data, &named)
	m.Apps = append(m.Apps, App{ID: id, DisplayName: named.DisplayName, DisplayVersion: named.DisplayVersion})
	return id, nil
}

func (m *MockClient) CreateContentVersion(context.Context, string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.CreateErr != nil {
		return "", m.CreateErr
	}
	return m.newID("version"), nil
}

func (m *MockClient) CreateContentFile(_ context.Context, _, _ string, file ContentFile) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.CreateErr != nil {
		return "", m.CreateErr
	}
	m.files = append(m.files, file)
	return m.newID("file"), nil
}

func (m *MockClient) CreateAssignment(_ context.Context, appID string, assignment any) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.CreateErr != nil {
		return "", m.CreateErr
	}
	if m.AssignErr != nil {
		return "", m.AssignErr
	}
	data, err := json.Marshal(assignment)
	if err != nil {
		return "", err
	}
	if m.assignments == nil {
		m.assignments = make(map[string][]json.RawMessage)
	}
	m.assignments[appID] = append(m.assignments[appID], data)
	return m.newID("assignment"), nil
}

func (m *MockClient) ListAssignmentFilters(context.Context) ([]AssignmentFilter, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ListErr != nil {
		return nil, m.ListErr
	}
	return m.Filters, nil
}

// Created returns the JSON bodies passed to CreateWin32App.
func (m *MockClient) Created() []json.RawMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]json.RawMessage(nil), m.created...)
}

// Files returns the content files created so far.
func (m *MockClient) Files() []ContentFile {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]ContentFile(nil), m.files...)
}

// Assignments returns the JSON bodies submitted for appID.
func (m *MockClient) Assignments(appID string) []json.RawMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]json.RawMessage(nil), m.assignments[appID]...)
}

func (m *MockClient) newID(kind string) string {
	m.nextID++
	return fmt.Sprintf("%s-%04d", kind, m.nextID)
}
