// Package packaging wraps the external packaging tool that turns an installer
// folder into a single .intunewin payload.
package packaging

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/zeebo/blake3"

	"github.com/clean-dependency-project/appfactory/internal/command"
	"github.com/clean-dependency-project/appfactory/internal/storage"
)

// PackageExtension is the extension of the packaging tool's output.
const PackageExtension = ".intunewin"

var (
	ErrPackaging       = errors.New("packaging failed")
	ErrNoPackage       = errors.New("no package produced")
	ErrTooManyPackages = errors.New("more than one package produced")
	ErrSetupNotFound   = errors.New("setup file not found in source folder")
)

// PackagingError records which step of packaging an app failed.
type PackagingError struct {
	App    string
	Op     string
	Output string
	Err    error
}

func (e *PackagingError) Error() string {
	msg := fmt.Sprintf("packaging %s: %s: %v", e.App, e.Op, e.Err)
	if e.Output != "" {
		msg += ": " + e.Output
	}
	return msg
}

func (e *PackagingError) Unwrap() error {
	return e.Err
}

// Is makes every PackagingError match ErrPackaging.
func (e *PackagingError) Is(target error) bool {
	return target == ErrPackaging
}

// Request is one packaging invocation.
type Request struct {
	App       string
	SourceDir string
	SetupFile string
	OutputDir string
}

// Result is the produced package and what is known about it.
type Result struct {
	Path        string
	Size        int64
	Fingerprint string
	Metadata    Metadata
}

// Packager runs the packaging tool through a command runner.
type Packager struct {
	runner   command.Runner
	toolPath string
	logger   *slog.Logger
}

// NewPackager creates a packager for the tool at toolPath.
func NewPackager(runner command.Runner, toolPath string, logger *slog.Logger) *Packager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Packager{runner: runner, toolPath: toolPath, logger: logger}
}

func buildArgs(req Request) []string {
	return []string{"-c", req.SourceDir, "-s", req.SetupFile, "-o", req.OutputDir, "-q"}
}

// Package runs the tool for req and returns the single package it wrote.
// Leftover packages in the output folder are removed first so a stale
// payload is never picked up.
func (p *Packager) Package(ctx context.Context, req Request) (Result, error) {
	fail := func(op, output string, err error) (Result, error) {
		return Result{}, &PackagingError{App: req.App, Op: op, Output: output, Err: err}
	}

	if _, err := os.Stat(filepath.Join(req.SourceDir, req.SetupFile)); err != nil {
		return fail("check setup file", "", fmt.Errorf("%w: %s", ErrSetupNotFound, req.SetupFile))
	}
	if err := os.MkdirAll(req.OutputDir, 0o755); err != nil {
		return fail("create output directory", "", err)
	}
	stale, err := findPackages(req.OutputDir)
	if err != nil {
		return fail("list output directory", "", err)
	}
	for _, s := range stale {
		if err := os.Remove(s); err != nil {
			return fail("remove stale package", "", err)
		}
	}

	p.logger.Debug("running packaging tool",
		"app", req.App,
		"tool", p.toolPath,
		"source", req.SourceDir,
		"setup", req.SetupFile)

	out, err := p.runner.Run(ctx, p.toolPath, buildArgs(req)...)
	if err != nil {
		return fail("run tool", strings.TrimSpace(string(out)), fmt.Errorf("exit code %d: %w", command.ExitCode(err), err))
	}

	produced, err := findPackages(req.OutputDir)
	if err != nil {
		return fail("list output directory", "", err)
	}
	switch len(produced) {
	case 0:
		return fail("locate package", "", ErrNoPackage)
	case 1:
	default:
		return fail("locate package", "", fmt.Errorf("%w: %d", ErrTooManyPackages, len(produced)))
	}
	path := produced[0]

	info, err := os.Stat(path)
	if err != nil {
		return fail("stat package", "", err)
	}
	fingerprint, err := Fingerprint(path)
	if err != nil {
		return fail("fingerprint package", "", err)
	}
	meta, err := ReadMetadata(path)
	if err != nil {
		return fail("read package metadata", "", err)
	}

	p.logger.Info("package created",
		"app", req.App,
		"package", path,
		"size_bytes", info.Size(),
		"blake3", fingerprint)

	return Result{Path: path, Size: info.Size(), Fingerprint: fingerprint, Metadata: meta}, nil
}

func findPackages(dir string) ([]string, error) {
	files, err := storage.ListFiles(dir)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, f := range files {
		if strings.EqualFold(filepath.Ext(f), PackageExtension) {
			out = append(out, f)
		}
	}
	return out, nil
}

// Fingerprint returns the lowercase hex BLAKE3 digest of the file at path.
func Fingerprint(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := blake3.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
