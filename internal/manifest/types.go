package manifest

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// DateTimeLayouts are the accepted forms of date-time values. Values without
// an offset are local times on the device.
var DateTimeLayouts = []string{time.RFC3339, "2006-01-02T15:04:05", "2006-01-02T15:04"}

// IsDateTime reports whether s matches one of DateTimeLayouts.
func IsDateTime(s string) bool {
	for _, layout := range DateTimeLayouts {
		if _, err := time.Parse(layout, s); err == nil {
			return true
		}
	}
	return false
}

// Flag is a boolean that also accepts the quoted "true"/"false" strings
// found in hand-written manifests.
type Flag bool

// UnmarshalJSON accepts true, false, "true", "false" and "".
func (f *Flag) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*f = false
		return nil
	}
	s := string(data)
	if unq, err := strconv.Unquote(s); err == nil {
		s = strings.TrimSpace(unq)
		if s == "" {
			*f = false
			return nil
		}
	}
	b, err := strconv.ParseBool(strings.ToLower(s))
	if err != nil {
		return fmt.Errorf("invalid boolean %s", string(data))
	}
	*f = Flag(b)
	return nil
}

// MarshalJSON writes a plain JSON boolean.
func (f Flag) MarshalJSON() ([]byte, error) {
	return json.Marshal(bool(f))
}
