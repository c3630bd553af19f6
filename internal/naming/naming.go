// Package naming derives catalog display names from an application's naming
// convention. The same function labels a published catalog entry and builds
// the prefix used to find existing entries.
package naming

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"golang.org/x/text/cases"
)

// Convention selects which parts make up a display name.
type Convention string

const (
	PublisherAppName           Convention = "PublisherAppName"
	PublisherAppNameAppVersion Convention = "PublisherAppNameAppVersion"
	AppName                    Convention = "AppName"
	AppNameAppVersion          Convention = "AppNameAppVersion"
)

var (
	ErrUnknownConvention = errors.New("unknown naming convention")
	ErrEmptyAppName      = errors.New("application name is required")
	ErrEmptyPublisher    = errors.New("publisher is required by naming convention")
)

type parts struct {
	publisher bool
	version   bool
}

var conventions = map[Convention]parts{
	PublisherAppName:           {publisher: true},
	PublisherAppNameAppVersion: {publisher: true, version: true},
	AppName:                    {},
	AppNameAppVersion:          {version: true},
}

// Conventions returns every supported convention in a stable order.
func Conventions() []Convention {
	out := make([]Convention, 0, len(conventions))
	for c := range conventions {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// UnmarshalText rejects unknown conventions while the app list is decoded.
func (c *Convention) UnmarshalText(text []byte) error {
	v := Convention(strings.TrimSpace(string(text)))
	if _, ok := conventions[v]; !ok {
		return fmt.Errorf("%w: %q", ErrUnknownConvention, string(text))
	}
	*c = v
	return nil
}

// IncludesVersion reports whether names built with c carry the version.
func (c Convention) IncludesVersion() bool {
	return conventions[c].version
}

// DisplayName joins the parts selected by convention with single spaces. An
// empty version drops the version part, which yields the search prefix for
// versioned conventions.
func DisplayName(convention Convention, publisher, appName, version string) (string, error) {
	p, ok := conventions[convention]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownConvention, convention)
	}

	appName = strings.TrimSpace(appName)
	if appName == "" {
		return "", ErrEmptyAppName
	}

	var fields []string
	if p.publisher {
		publisher = strings.TrimSpace(publisher)
		if publisher == "" {
			return "", ErrEmptyPublisher
		}
		fields = append(fields, publisher)
	}
	fields = append(fields, appName)
	if p.version {
		if v := strings.TrimSpace(version); v != "" {
			fields = append(fields, v)
		}
	}
	return strings.Join(fields, " "), nil
}

// SearchPrefix is the name used to look up existing catalog entries. It never
// contains the version so entries published for older versions still match.
func SearchPrefix(convention Convention, publisher, appName string) (string, error) {
	return DisplayName(convention, publisher, appName, "")
}

// HasPrefix reports whether name starts with prefix, ignoring case.
func HasPrefix(name, prefix string) bool {
	return strings.HasPrefix(cases.Fold().String(name), cases.Fold().String(prefix))
}

// CollisionError lists search prefixes that would match another tracked
// application's catalog entries.
type CollisionError struct {
	Pairs [][2]string
}

func (e *CollisionError) Error() string {
	desc := make([]string, 0, len(e.Pairs))
	for _, p := range e.Pairs {
		desc = append(desc, fmt.Sprintf("%q is a prefix of %q", p[0], p[1]))
	}
	return "display names are not distinct: " + strings.Join(desc, "; ")
}

// ValidateDistinct checks that no search prefix is a case-insensitive prefix
// of another, since prefix matching would then attribute one application's
// catalog entries to the other.
func ValidateDistinct(names []string) error {
	var pairs [][2]string
	for i, a := range names {
		for j, b := range names {
			if i == j {
				continue
			}
			if HasPrefix(b, a) && (i < j || !HasPrefix(a, b)) {
				pairs = append(pairs, [2]string{a, b})
			}
		}
	}
	if len(pairs) == 0 {
		return nil
	}
	return &CollisionError{Pairs: pairs}
}
