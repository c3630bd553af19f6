// Package download fetches resolved installers and verifies them before they
// are packaged.
package download

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/clean-dependency-project/appfactory/internal/clamav"
)

const (
	DefaultTimeout   = 10 * time.Minute
	DefaultUserAgent = "appfactory/1.0"
)

var (
	ErrDownload          = errors.New("download failed")
	ErrChecksumMismatch  = errors.New("checksum verification failed")
	ErrMalwareDetected   = errors.New("malware detected")
	ErrInvalidFileName   = errors.New("cannot derive a file name from the download URI")
	ErrUnexpectedStatus  = errors.New("unexpected HTTP status")
	ErrSignatureRequired = errors.New("signature verification requested without a keyring")
)

// SignatureVerifier checks a detached signature for a downloaded file.
type SignatureVerifier interface {
	VerifyDetachedFile(dataPath, sigPath string) error
}

// Scanner scans a downloaded file for malware.
type Scanner interface {
	Scan(ctx context.Context, path string) (clamav.Result, error)
}

// Request describes one installer download.
type Request struct {
	App          string
	URI          string
	Dir          string
	FileName     string
	SHA256       string
	SignatureURI string
}

// Result is a downloaded and verified installer.
type Result struct {
	Path         string
	Size         int64
	SHA256       string
	Verification []string
	Duration     time.Duration
}

// Verified reports the verification steps as a single label, e.g. "sha256+gpg".
func (r Result) Verified() string {
	if len(r.Verification) == 0 {
		return "none"
	}
	return strings.Join(r.Verification, "+")
}

// Fetcher downloads installers over HTTP.
type Fetcher struct {
	httpClient *http.Client
	userAgent  string
	verifier   SignatureVerifier
	scanner    Scanner
	logger     *slog.Logger
}

// Option configures a Fetcher.
type Option func(*Fetcher)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(f *Fetcher) { f.httpClient = c }
}

// WithSignatureVerifier enables detached signature checks for requests that
// carry a SignatureURI.
func WithSignatureVerifier(v SignatureVerifier) Option {
	return func(f *Fetcher) { f.verifier = v }
}

// WithScanner enables a malware scan of every download.
func WithScanner(s Scanner) Option {
	return func(f *Fetcher) { f.scanner = s }
}

// NewFetcher creates a fetcher.
func NewFetcher(logger *slog.Logger, opts ...Option) *Fetcher {
	if logger == nil {
		logger = slog.Default()
	}
	f := &Fetcher{
		httpClient: &http.Client{Timeout: DefaultTimeout},
		userAgent:  DefaultUserAgent,
		logger:     logger,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// FileNameFromURI returns the last path segment of uri, unescaped.
func FileNameFromURI(uri string) (string, error) {
	u, err := url.Parse(uri)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidFileName, err)
	}
	name := path.Base(u.Path)
	if name == "." || name == "/" || name == "" {
		return "", fmt.Errorf("%w: %s", ErrInvalidFileName, uri)
	}
	return name, nil
}

// Fetch downloads req.URI into req.Dir and runs the configured checks. A file
// that fails a check is removed.
func (f *Fetcher) Fetch(ctx context.Context, req Request) (Result, error) {
	start := time.Now()
	name := req.FileName
	if name == "" {
		var err error
		if name, err = FileNameFromURI(req.URI); err != nil {
			return Result{}, err
		}
	}
	if err := os.MkdirAll(req.Dir, 0o755); err != nil {
		return Result{}, fmt.Errorf("failed to create output directory: %w", err)
	}
	dest := filepath.Join(req.Dir, name)

	f.logger.Debug("starting file download", "app", req.App, "url", req.URI, "output_path", dest)

	size, sum, err := f.fetchTo(ctx, req.URI, dest)
	if err != nil {
		return Result{}, fmt.Errorf("%w: %s: %w", ErrDownload, req.URI, err)
	}
	res := Result{Path: dest, Size: size, SHA256: sum}

	if req.SHA256 != "" {
		if !strings.EqualFold(req.SHA256, sum) {
			_ = os.Remove(dest)
			return Result{}, fmt.Errorf("%w: expected %s, got %s", ErrChecksumMismatch, strings.ToLower(req.SHA256), sum)
		}
		res.Verification = append(res.Verification, "sha256")
	}

	if req.SignatureURI != "" {
		if err := f.verifySignature(ctx, req.SignatureURI, dest); err != nil {
			_ = os.Remove(dest)
			return Result{}, err
		}
		res.Verification = append(res.Verification, "gpg")
	}

	if f.scanner != nil {
		scan, err := f.scanner.Scan(ctx, dest)
		if err != nil {
			_ = os.Remove(dest)
			return Result{}, fmt.Errorf("malware scan failed: %w", err)
		}
		if !scan.Clean {
			_ = os.Remove(dest)
			f.logger.Error("malware detected", "app", req.App, "file", dest, "threats", scan.Threats)
			return Result{}, fmt.Errorf("%w: %v", ErrMalwareDetected, scan.Threats)
		}
		res.Verification = append(res.Verification, "clamav")
	}

	res.Duration = time.Since(start)
	f.logger.Info("file download completed",
		"app", req.App,
		"output_path", dest,
		"size_bytes", size,
		"verification", res.Verified(),
		"duration_ms", res.Duration.Milliseconds())
	return res, nil
}

func (f *Fetcher) verifySignature(ctx context.Context, sigURI, dest string) error {
	if f.verifier == nil {
		return ErrSignatureRequired
	}
	sigPath := dest + ".sig"
	if _, _, err := f.fetchTo(ctx, sigURI, sigPath); err != nil {
		return fmt.Errorf("failed to download signature: %w", err)
	}
	defer func() { _ = os.Remove(sigPath) }()
	return f.verifier.VerifyDetachedFile(dest, sigPath)
}

// fetchTo streams uri into dest and returns the size and hex SHA-256.
func (f *Fetcher) fetchTo(ctx context.Context, uri, dest string) (int64, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, uri, nil)
	if err != nil {
		return 0, "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", f.userAgent)

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return 0, "", fmt.Errorf("failed to send HTTP request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return 0, "", fmt.Errorf("%w: %s", ErrUnexpectedStatus, resp.Status)
	}

	out, err := os.Create(dest)
	if err != nil {
		return 0, "", fmt.Errorf("failed to create output file: %w", err)
	}
	h := sha256.New()
	size, err := io.Copy(io.MultiWriter(out, h), resp.Body)
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = os.Remove(dest)
		return 0, "", fmt.Errorf("failed to write file: %w", err)
	}
	return size, hex.EncodeToString(h.Sum(nil)), nil
}
