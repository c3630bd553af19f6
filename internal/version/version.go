// Package version normalizes and orders application version strings as they
// appear in vendor catalogs, package managers and release tags.
package version

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	goversion "github.com/hashicorp/go-version"
)

// MaxSegments is the largest number of numeric components a comparable
// version may carry. Windows file and product versions stop at four.
const MaxSegments = 4

// String constants for operations (used in ErrVersionParseFailed)
const (
	OpNormalize = "normalize"
	OpParse     = "parse"
	OpCompare   = "compare"
	OpConstrain = "constrain"
)

var (
	ErrComparisonAmbiguity = errors.New("version cannot be ordered numerically")
	ErrNoVersionsProvided  = errors.New("no versions provided")
	ErrNoComparableVersion = errors.New("no comparable version found")
)

var (
	dottedNumeric = regexp.MustCompile(`^\d+(\.\d+)*$`)
	nonDigitRun   = regexp.MustCompile(`\D+`)
)

// ErrVersionParseFailed represents a version that could not be brought into
// dotted numeric form.
type ErrVersionParseFailed struct {
	Version string
	Op      string
	Cause   error
}

func (e ErrVersionParseFailed) Error() string {
	return fmt.Sprintf("failed to parse version %q in operation %s: %v", e.Version, e.Op, e.Cause)
}

func (e ErrVersionParseFailed) Unwrap() error {
	return e.Cause
}

func (e ErrVersionParseFailed) Is(target error) bool {
	if target == ErrComparisonAmbiguity {
		return true
	}
	var parseErr ErrVersionParseFailed
	return errors.As(target, &parseErr)
}

// IsComparable reports whether s is already a dotted numeric version such as
// "23.01" or "10.0.19045.1".
func IsComparable(s string) bool {
	if !dottedNumeric.MatchString(s) {
		return false
	}
	return strings.Count(s, ".") < MaxSegments
}

// Normalize splits raw on every run of non-digit characters and joins the
// numeric segments with dots, so "23.01-x64" becomes "23.01" and
// "finance-tool-v1.5.0" becomes "1.5.0". Normalize is idempotent.
func Normalize(raw string) (string, error) {
	var segments []string
	for _, s := range nonDigitRun.Split(raw, -1) {
		if s != "" {
			segments = append(segments, s)
		}
	}
	if len(segments) == 0 {
		return "", ErrVersionParseFailed{Version: raw, Op: OpNormalize, Cause: errors.New("no numeric segments")}
	}
	return strings.Join(segments, "."), nil
}

// Comparable returns raw unchanged when it is already comparable and its
// normalized form otherwise. Normalized forms with more than MaxSegments
// components are rejected since the original separators cannot be told apart
// from version separators.
func Comparable(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if IsComparable(raw) {
		return raw, nil
	}
	normalized, err := Normalize(raw)
	if err != nil {
		return "", err
	}
	if !IsComparable(normalized) {
		return "", ErrVersionParseFailed{
			Version: raw,
			Op:      OpNormalize,
			Cause:   fmt.Errorf("normalized form %q has more than %d segments", normalized, MaxSegments),
		}
	}
	return normalized, nil
}

// Parse returns the ordered representation of raw.
func Parse(raw string) (*goversion.Version, error) {
	c, err := Comparable(raw)
	if err != nil {
		return nil, err
	}
	v, err := goversion.NewVersion(c)
	if err != nil {
		return nil, ErrVersionParseFailed{Version: raw, Op: OpParse, Cause: err}
	}
	return v, nil
}

// Compare returns -1, 0 or 1 when a is lower than, equal to or higher than b.
// Missing trailing components count as zero, so "23.1" equals "23.01.0".
func Compare(a, b string) (int, error) {
	va, err := Parse(a)
	if err != nil {
		return 0, err
	}
	vb, err := Parse(b)
	if err != nil {
		return 0, err
	}
	return va.Compare(vb), nil
}

// Max returns the highest comparable version in versions. Entries that are
// not already in dotted numeric form are skipped, mirroring how catalog
// entries with free-form version labels are excluded from ordering.
func Max(versions []string) (string, error) {
	if len(versions) == 0 {
		return "", ErrNoVersionsProvided
	}

	var best string
	var bestParsed *goversion.Version
	for _, v := range versions {
		v = strings.TrimSpace(v)
		if !IsComparable(v) {
			continue
		}
		parsed, err := goversion.NewVersion(v)
		if err != nil {
			continue
		}
		if bestParsed == nil || parsed.GreaterThan(bestParsed) {
			best, bestParsed = v, parsed
		}
	}

	if bestParsed == nil {
		return "", ErrNoComparableVersion
	}
	return best, nil
}
