// Package clamav scans downloaded installers with ClamAV running in a
// throwaway Docker container.
package clamav

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/clean-dependency-project/appfactory/internal/command"
)

// DefaultImage is used when the configuration leaves the image empty.
const DefaultImage = "clamav/clamav-debian:latest"

// Sentinel errors
var (
	ErrDockerUnavailable = errors.New("docker command not available")
	ErrScanFailed        = errors.New("clamscan reported an error")
)

// Result represents the outcome of a malware scan.
type Result struct {
	Clean         bool
	Threats       []string
	ScannedFiles  int
	EngineVersion string
	Duration      time.Duration
}

// DockerScanner runs clamscan inside a container with the scanned path
// mounted read-only.
type DockerScanner struct {
	runner command.Runner
	image  string
	logger *slog.Logger
}

// NewDockerScanner creates a scanner that uses ClamAV in Docker.
func NewDockerScanner(runner command.Runner, image string, logger *slog.Logger) *DockerScanner {
	if image == "" {
		image = DefaultImage
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &DockerScanner{
		runner: runner,
		image:  image,
		logger: logger,
	}
}

// Scan scans path, a file or a directory, and reports any threats found.
func (s *DockerScanner) Scan(ctx context.Context, path string) (Result, error) {
	start := time.Now()

	if _, err := s.runner.Run(ctx, "docker", "--version"); err != nil {
		return Result{}, ErrDockerUnavailable
	}

	if _, err := s.runner.Run(ctx, "docker", "image", "inspect", s.image); err != nil {
		if _, err := s.runner.Run(ctx, "docker", "pull", s.image); err != nil {
			return Result{}, fmt.Errorf("failed to pull image %s: %w", s.image, err)
		}
	}

	engine := "unknown"
	if out, err := s.runner.Run(ctx, "docker", "run", "--rm", s.image, "clamscan", "--version"); err == nil {
		engine = strings.TrimSpace(string(out))
	} else {
		s.logger.Warn("failed to get ClamAV version", "error", err)
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return Result{}, fmt.Errorf("failed to get absolute path: %w", err)
	}

	output, err := s.runner.Run(ctx, "docker", buildDockerArgs(s.image, absPath, "/scan")...)
	exitCode := command.ExitCode(err)
	if exitCode < 0 {
		return Result{}, fmt.Errorf("failed to run clamscan: %w", err)
	}

	result, err := parseResult(output, exitCode)
	if err != nil {
		return Result{}, err
	}
	result.EngineVersion = engine
	result.Duration = time.Since(start)

	s.logger.Debug("clamscan finished",
		"path", path,
		"clean", result.Clean,
		"threats", len(result.Threats),
		"duration_ms", result.Duration.Milliseconds())

	return result, nil
}

// buildDockerArgs constructs arguments for docker run command.
func buildDockerArgs(image, hostPath, containerPath string) []string {
	return []string{
		"run",
		"--rm",
		"--network", "none",
		"-v", fmt.Sprintf("%s:%s:ro", hostPath, containerPath),
		image,
		"clamscan",
		"--stdout",
		"--recursive",
		containerPath,
	}
}
