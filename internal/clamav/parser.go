package clamav

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

var ErrNoThreatsInOutput = errors.New("malware detected but no threats found in output")

var scannedFilesLine = regexp.MustCompile(`(?m)^Scanned files:\s*(\d+)`)

// parseResult interprets clamscan output. Exit code 0 is clean, 1 means at
// least one signature matched and anything higher is a scanner error.
func parseResult(output []byte, exitCode int) (Result, error) {
	text := string(output)

	if exitCode > 1 {
		return Result{}, fmt.Errorf("%w: exit code %d: %s", ErrScanFailed, exitCode, lastLine(text))
	}

	result := Result{
		Clean:        exitCode == 0,
		ScannedFiles: scannedFiles(text),
	}
	if result.Clean {
		return result, nil
	}

	result.Threats = extractThreats(text)
	if len(result.Threats) == 0 {
		return result, ErrNoThreatsInOutput
	}
	return result, nil
}

// extractThreats reads "<path>: <signature> FOUND" lines. The separator is
// the last ": " so paths containing colons stay intact.
func extractThreats(output string) []string {
	var threats []string
	for _, line := range strings.Split(output, "\n") {
		line = strings.TrimSpace(line)
		if !strings.HasSuffix(line, " FOUND") {
			continue
		}
		idx := strings.LastIndex(line, ": ")
		if idx < 0 {
			continue
		}
		name := strings.TrimSuffix(line[idx+2:], " FOUND")
		threats = append(threats, strings.TrimSpace(name))
	}
	return threats
}

func scannedFiles(output string) int {
	m := scannedFilesLine.FindStringSubmatch(output)
	if len(m) < 2 {
		return 0
	}
	n, _ := strconv.Atoi(m[1])
	return n
}

func lastLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.LastIndex(s, "\n"); i >= 0 {
		return s[i+1:]
	}
	return s
}
