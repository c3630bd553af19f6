// Package winget queries the Windows package manager for the latest version
// of a package by running its command line client.
package winget

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/clean-dependency-project/appfactory/internal/command"
)

var (
	ErrPackageNotFound = errors.New("package not found")
	ErrNoVersion       = errors.New("package manager output has no version")
	ErrQueryFailed     = errors.New("package manager query failed")
)

// noPackageSentinel is printed when the id does not match any package.
const noPackageSentinel = "No package found"

var foundLine = regexp.MustCompile(`^Found (.+) \[(.+)\]$`)

// Package is the parsed output of a show query.
type Package struct {
	ID              string
	Name            string
	Version         string
	Publisher       string
	InstallerType   string
	InstallerURL    string
	InstallerSHA256 string
}

// Client runs package manager queries.
type Client struct {
	runner command.Runner
	binary string
}

// NewClient creates a client invoking binary through runner.
func NewClient(runner command.Runner, binary string) *Client {
	if binary == "" {
		binary = "winget"
	}
	return &Client{runner: runner, binary: binary}
}

// Show looks up the manifest of the package with the exact id.
func (c *Client) Show(ctx context.Context, id string) (*Package, error) {
	args := []string{
		"show",
		"--id", id,
		"--exact",
		"--accept-source-agreements",
		"--disable-interactivity",
	}
	output, err := c.runner.Run(ctx, c.binary, args...)
	// winget exits non-zero when nothing matches, so check the text first.
	if bytes.Contains(output, []byte(noPackageSentinel)) {
		return nil, fmt.Errorf("%s: %w", id, ErrPackageNotFound)
	}
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, fmt.Errorf("%w: %s: %w", ErrQueryFailed, id, ctxErr)
		}
		return nil, fmt.Errorf("%w: %s: exit code %d: %w", ErrQueryFailed, id, command.ExitCode(err), err)
	}
	pkg, err := ParseShow(output)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", id, err)
	}
	if pkg.ID == "" {
		pkg.ID = id
	}
	return pkg, nil
}

// ParseShow extracts package details from show output. Only top-level
// "Key: value" lines and the nested Installer block are read.
func ParseShow(output []byte) (*Package, error) {
	if bytes.Contains(output, []byte(noPackageSentinel)) {
		return nil, ErrPackageNotFound
	}

	pkg := &Package{}
	scanner := bufio.NewScanner(bytes.NewReader(output))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if m := foundLine.FindStringSubmatch(line); m != nil {
			pkg.Name, pkg.ID = m[1], m[2]
			continue
		}
		key, value, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		value = strings.TrimSpace(value)
		switch strings.TrimSpace(key) {
		case "Version":
			pkg.Version = value
		case "Publisher":
			pkg.Publisher = value
		case "Installer Type":
			pkg.InstallerType = value
		case "Installer Url":
			pkg.InstallerURL = value
		case "Installer SHA256":
			pkg.InstallerSHA256 = value
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read package manager output: %w", err)
	}
	if pkg.Version == "" {
		return nil, ErrNoVersion
	}
	return pkg, nil
}
