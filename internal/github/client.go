// Package github provides a client for looking up releases and release
// assets on GitHub.
package github

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/google/go-github/v57/github"
)

// Sentinel errors for GitHub operations.
var (
	ErrInvalidRepo     = errors.New("repository must be in format 'owner/repo'")
	ErrReleaseNotFound = errors.New("release not found")
	ErrAssetNotFound   = errors.New("release asset not found")
	ErrNoReleases      = errors.New("repository has no published releases")
)

// DefaultDownloadHost is the host serving release asset downloads.
const DefaultDownloadHost = "https://github.com"

// Client wraps the GitHub API client for release lookups.
type Client struct {
	client       *github.Client
	downloadHost string
}

// NewClient creates a new GitHub API client. An empty token yields an
// unauthenticated client, which is enough for public repositories.
func NewClient(token string) *Client {
	client := github.NewClient(nil)
	if token != "" {
		client = client.WithAuthToken(token)
	}
	return &Client{
		client:       client,
		downloadHost: DefaultDownloadHost,
	}
}

// NewTestClient creates a GitHub client for testing with a custom HTTP client
// and base URL, so tests can point it at an httptest.Server. Asset URLs are
// built against the same base URL.
func NewTestClient(httpClient *http.Client, baseURL string) (*Client, error) {
	ghClient := github.NewClient(httpClient)
	parsedURL, err := url.Parse(strings.TrimSuffix(baseURL, "/") + "/")
	if err != nil {
		return nil, err
	}
	ghClient.BaseURL = parsedURL
	ghClient.UploadURL = parsedURL

	return &Client{
		client:       ghClient,
		downloadHost: strings.TrimSuffix(baseURL, "/"),
	}, nil
}

// LatestReleaseTag returns the tag of the newest non-prerelease release.
func (c *Client) LatestReleaseTag(ctx context.Context, repository string) (string, error) {
	owner, repo, err := ParseRepository(repository)
	if err != nil {
		return "", err
	}

	release, resp, err := c.client.Repositories.GetLatestRelease(ctx, owner, repo)
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusNotFound {
			return "", fmt.Errorf("%s: %w", repository, ErrReleaseNotFound)
		}
		return "", fmt.Errorf("failed to get latest release of %s: %w", repository, err)
	}
	if release.GetTagName() == "" {
		return "", fmt.Errorf("%s: %w", repository, ErrReleaseNotFound)
	}
	return release.GetTagName(), nil
}

// ReleaseTags returns the tags of every published, non-draft, non-prerelease
// release, newest first as ordered by the API.
func (c *Client) ReleaseTags(ctx context.Context, repository string) ([]string, error) {
	owner, repo, err := ParseRepository(repository)
	if err != nil {
		return nil, err
	}

	var tags []string
	opts := &github.ListOptions{PerPage: 100}
	for {
		releases, resp, err := c.client.Repositories.ListReleases(ctx, owner, repo, opts)
		if err != nil {
			return nil, fmt.Errorf("failed to list releases of %s: %w", repository, err)
		}
		for _, r := range releases {
			if r.GetDraft() || r.GetPrerelease() || r.GetTagName() == "" {
				continue
			}
			tags = append(tags, r.GetTagName())
		}
		if resp == nil || resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}
	if len(tags) == 0 {
		return nil, fmt.Errorf("%s: %w", repository, ErrNoReleases)
	}
	return tags, nil
}

// AssetURL returns the direct download URL of a release asset. No API call is
// made.
func (c *Client) AssetURL(repository, tag, fileName string) (string, error) {
	owner, repo, err := ParseRepository(repository)
	if err != nil {
		return "", err
	}
	if tag == "" || fileName == "" {
		return "", fmt.Errorf("%w: tag and file name are required", ErrAssetNotFound)
	}
	return fmt.Sprintf("%s/%s/%s/releases/download/%s/%s",
		c.downloadHost, owner, repo, url.PathEscape(tag), url.PathEscape(fileName)), nil
}

// ParseRepository splits a repository string into owner and repo.
// Returns an error if the format is invalid.
func ParseRepository(repository string) (owner, repo string, err error) {
	if repository == "" {
		return "", "", ErrInvalidRepo
	}

	parts := strings.Split(repository, "/")
	if len(parts) != 2 {
		return "", "", fmt.Errorf("%w: got %s", ErrInvalidRepo, repository)
	}

	owner = strings.TrimSpace(parts[0])
	repo = strings.TrimSpace(parts[1])

	if owner == "" || repo == "" {
		return "", "", fmt.Errorf("%w: owner or repo is empty", ErrInvalidRepo)
	}

	return owner, repo, nil
}
