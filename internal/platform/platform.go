// Package platform maps the architecture and minimum operating system names
// used in App.json to the values the catalog expects.
package platform

import (
	"errors"
	"fmt"
	"runtime"
	"sort"
	"strings"
)

var (
	ErrUnknownArchitecture    = errors.New("unknown architecture")
	ErrUnknownOperatingSystem = errors.New("unknown minimum operating system")
)

// Platform is one Windows release an application can require.
type Platform struct {
	Name    string // W10_1809, W11_22H2
	Release string // value of minimumSupportedWindowsRelease
	Family  string // windows10, windows11
}

// PredefinedPlatforms returns the supported minimum operating systems, oldest
// first.
func PredefinedPlatforms() []Platform {
	return []Platform{
		{Name: "W10_1607", Release: "1607", Family: "windows10"},
		{Name: "W10_1703", Release: "1703", Family: "windows10"},
		{Name: "W10_1709", Release: "1709", Family: "windows10"},
		{Name: "W10_1803", Release: "1803", Family: "windows10"},
		{Name: "W10_1809", Release: "1809", Family: "windows10"},
		{Name: "W10_1903", Release: "1903", Family: "windows10"},
		{Name: "W10_1909", Release: "1909", Family: "windows10"},
		{Name: "W10_2004", Release: "2004", Family: "windows10"},
		{Name: "W10_20H2", Release: "2H20", Family: "windows10"},
		{Name: "W10_21H1", Release: "21H1", Family: "windows10"},
		{Name: "W10_21H2", Release: "Windows10_21H2", Family: "windows10"},
		{Name: "W10_22H2", Release: "Windows10_22H2", Family: "windows10"},
		{Name: "W11_21H2", Release: "Windows11_21H2", Family: "windows11"},
		{Name: "W11_22H2", Release: "Windows11_22H2", Family: "windows11"},
		{Name: "W11_23H2", Release: "Windows11_23H2", Family: "windows11"},
	}
}

// FindPlatform finds a platform by its App.json name or by its release value.
func FindPlatform(name string) (Platform, error) {
	for _, p := range PredefinedPlatforms() {
		if strings.EqualFold(p.Name, name) || strings.EqualFold(p.Release, name) {
			return p, nil
		}
	}
	return Platform{}, fmt.Errorf("%w: %s", ErrUnknownOperatingSystem, name)
}

// MinimumRelease returns the minimumSupportedWindowsRelease value for an
// App.json operating system name.
func MinimumRelease(name string) (string, error) {
	p, err := FindPlatform(name)
	if err != nil {
		return "", err
	}
	return p.Release, nil
}

// architectures maps App.json architecture names to catalog values.
var architectures = map[string][]string{
	"x64":     {"x64"},
	"x86":     {"x86"},
	"arm64":   {"arm64"},
	"aarch64": {"arm64"},
	"all":     {"x86", "x64"},
	"neutral": {"x86", "x64"},
}

// ApplicableArchitectures converts a comma separated list of App.json
// architecture names into the catalog's applicableArchitectures value.
// Duplicates are collapsed and the result is sorted.
func ApplicableArchitectures(arch string) (string, error) {
	if strings.TrimSpace(arch) == "" {
		return "", fmt.Errorf("%w: empty", ErrUnknownArchitecture)
	}
	set := make(map[string]bool)
	for _, part := range strings.Split(arch, ",") {
		vals, ok := architectures[strings.ToLower(strings.TrimSpace(part))]
		if !ok {
			return "", fmt.Errorf("%w: %s", ErrUnknownArchitecture, part)
		}
		for _, v := range vals {
			set[v] = true
		}
	}
	out := make([]string, 0, len(set))
	for v := range set {
		out = append(out, v)
	}
	sort.Strings(out)
	return strings.Join(out, ","), nil
}

// CurrentArchitecture returns the catalog architecture of the running host.
func CurrentArchitecture() string {
	return mapArch(runtime.GOARCH)
}

func mapArch(goarch string) string {
	switch goarch {
	case "arm64":
		return "arm64"
	case "386":
		return "x86"
	default:
		return "x64"
	}
}
