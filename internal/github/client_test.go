package github

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestParseRepository(t *testing.T) {
	tests := []struct {
		name       string
		repository string
		wantOwner  string
		wantRepo   string
		wantErr    bool
	}{
		{name: "valid", repository: "contoso/finance-tool", wantOwner: "contoso", wantRepo: "finance-tool"},
		{name: "trims spaces", repository: " contoso / finance-tool ", wantOwner: "contoso", wantRepo: "finance-tool"},
		{name: "no slash", repository: "contosofinance", wantErr: true},
		{name: "too many parts", repository: "a/b/c", wantErr: true},
		{name: "empty owner", repository: "/repo", wantErr: true},
		{name: "empty repo", repository: "owner/", wantErr: true},
		{name: "empty", repository: "", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			owner, repo, err := ParseRepository(tt.repository)
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidRepo) {
					t.Errorf("ParseRepository() error = %v, want ErrInvalidRepo", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseRepository() unexpected error: %v", err)
			}
			if owner != tt.wantOwner || repo != tt.wantRepo {
				t.Errorf("ParseRepository() = %q, %q", owner, repo)
			}
		})
	}
}

func TestAssetURL(t *testing.T) {
	c := NewClient("")
	got, err := c.AssetURL("contoso/finance-tool", "finance-tool-v1.5.0", "FinanceTool-1.5.0.msi")
	if err != nil {
		t.Fatalf("AssetURL() unexpected error: %v", err)
	}
	want := "https://github.com/contoso/finance-tool/releases/download/finance-tool-v1.5.0/FinanceTool-1.5.0.msi"
	if got != want {
		t.Errorf("AssetURL() = %q, want %q", got, want)
	}

	if _, err := c.AssetURL("contoso/finance-tool", "", "a.msi"); !errors.Is(err, ErrAssetNotFound) {
		t.Errorf("expected ErrAssetNotFound, got %v", err)
	}
	if _, err := c.AssetURL("bad", "v1", "a.msi"); !errors.Is(err, ErrInvalidRepo) {
		t.Errorf("expected ErrInvalidRepo, got %v", err)
	}
}

func TestLatestReleaseTag(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/repos/contoso/finance-tool/releases/latest", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"id": 1, "tag_name": "finance-tool-v1.6.1"}`)
	})
	mux.HandleFunc("/repos/contoso/missing/releases/latest", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		fmt.Fprint(w, `{"message": "Not Found"}`)
	})
	mux.HandleFunc("/repos/contoso/broken/releases/latest", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	c, err := NewTestClient(server.Client(), server.URL)
	if err != nil {
		t.Fatalf("NewTestClient() unexpected error: %v", err)
	}

	tag, err := c.LatestReleaseTag(context.Background(), "contoso/finance-tool")
	if err != nil {
		t.Fatalf("LatestReleaseTag() unexpected error: %v", err)
	}
	if tag != "finance-tool-v1.6.1" {
		t.Errorf("LatestReleaseTag() = %q", tag)
	}

	if _, err := c.LatestReleaseTag(context.Background(), "contoso/missing"); !errors.Is(err, ErrReleaseNotFound) {
		t.Errorf("expected ErrReleaseNotFound, got %v", err)
	}
	if _, err := c.LatestReleaseTag(context.Background(), "contoso/broken"); err == nil || errors.Is(err, ErrReleaseNotFound) {
		t.Errorf("expected transport error, got %v", err)
	}
}

func TestReleaseTags(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/repos/contoso/finance-tool/releases", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("page") == "2" {
			fmt.Fprint(w, `[{"id": 3, "tag_name": "finance-tool-v1.4.0"}]`)
			return
		}
		w.Header().Set("Link", fmt.Sprintf(`<%s/repos/contoso/finance-tool/releases?page=2>; rel="next"`, "http://"+r.Host))
		fmt.Fprint(w, `[
			{"id": 1, "tag_name": "finance-tool-v1.6.0-rc1", "prerelease": true},
			{"id": 2, "tag_name": "finance-tool-v1.5.0"},
			{"id": 4, "tag_name": "finance-tool-v2.0.0", "draft": true}
		]`)
	})
	mux.HandleFunc("/repos/contoso/empty/releases", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `[]`)
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	c, err := NewTestClient(server.Client(), server.URL)
	if err != nil {
		t.Fatalf("NewTestClient() unexpected error: %v", err)
	}

	tags, err := c.ReleaseTags(context.Background(), "contoso/finance-tool")
	if err != nil {
		t.Fatalf("ReleaseTags() unexpected error: %v", err)
	}
	want := []string{"finance-tool-v1.5.0", "finance-tool-v1.4.0"}
	if diff := cmp.Diff(want, tags); diff != "" {
		t.Errorf("ReleaseTags() mismatch (-want +got):\n%s", diff)
	}

	if _, err := c.ReleaseTags(context.Background(), "contoso/empty"); !errors.Is(err, ErrNoReleases) {
		t.Errorf("expected ErrNoReleases, got %v", err)
	}
}
