package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Holds lists versions that must not be published, keyed by application name.
// Structure example:
//
//	{
//	  "7-Zip": ["24.08"],
//	  "Contoso Finance Tool": ["1.6"]
//	}
//
// A pattern holds the exact version and every version it is a dotted prefix
// of, so "1.6" holds 1.6.0 and 1.6.2 but not 1.60.
type Holds map[string][]string

// LoadHolds loads a holds file if provided. Returns empty holds if filePath
// is empty.
func LoadHolds(filePath string) (Holds, error) {
	if filePath == "" {
		return Holds{}, nil
	}
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read holds file %s: %w", filePath, err)
	}
	var raw map[string][]string
	switch ext := filepath.Ext(filePath); ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &raw); err != nil {
			return nil, fmt.Errorf("failed to parse YAML holds file %s: %w", filePath, err)
		}
	default:
		if err := json.Unmarshal(data, &raw); err != nil {
			return nil, fmt.Errorf("failed to parse JSON holds file %s: %w", filePath, err)
		}
	}
	holds := make(Holds, len(raw))
	for app, patterns := range raw {
		holds[strings.ToLower(app)] = patterns
	}
	return holds, nil
}

// IsHeld reports whether version of appName is on hold. Application names
// match case-insensitively.
func (h Holds) IsHeld(appName, version string) bool {
	patterns, ok := h[strings.ToLower(appName)]
	if !ok {
		return false
	}
	return matchPatterns(patterns, version)
}

func matchPatterns(patterns []string, version string) bool {
	for _, p := range patterns {
		if p == "" {
			continue
		}
		if p == version {
			return true
		}
		if strings.HasPrefix(version, p+".") {
			return true
		}
	}
	return false
}
