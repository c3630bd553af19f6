package version

import (
	"errors"
	"fmt"

	"github.com/Masterminds/semver/v3"
)

var ErrNoMatchingTag = errors.New("no release tag satisfies constraint")

// LatestMatching returns the highest tag in tags that satisfies the semver
// constraint. Tags that are not semver on their own, like "tool-v1.2.3", are
// matched on their normalized form but returned verbatim.
func LatestMatching(tags []string, constraint string) (string, error) {
	c, err := semver.NewConstraint(constraint)
	if err != nil {
		return "", ErrVersionParseFailed{Version: constraint, Op: OpConstrain, Cause: err}
	}

	var best string
	var bestVersion *semver.Version
	for _, tag := range tags {
		v, err := semverForTag(tag)
		if err != nil {
			continue
		}
		if !c.Check(v) {
			continue
		}
		if bestVersion == nil || v.GreaterThan(bestVersion) {
			best, bestVersion = tag, v
		}
	}

	if bestVersion == nil {
		return "", fmt.Errorf("%w: %s", ErrNoMatchingTag, constraint)
	}
	return best, nil
}

func semverForTag(tag string) (*semver.Version, error) {
	if v, err := semver.NewVersion(tag); err == nil {
		return v, nil
	}
	normalized, err := Comparable(tag)
	if err != nil {
		return nil, err
	}
	return semver.NewVersion(normalized)
}
