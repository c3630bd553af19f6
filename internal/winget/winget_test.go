package winget

import (
	"context"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/clean-dependency-project/appfactory/internal/command"
)

const showOutput = `Found 7-Zip [7zip.7zip]
Version: 24.08
Publisher: Igor Pavlov
Publisher Url: https://www.7-zip.org/
Author: Igor Pavlov
Moniker: 7zip
Description: 7-Zip is a file archiver with a high compression ratio.
Homepage: https://www.7-zip.org/
License: LGPL-2.1-or-later
Installer:
  Installer Type: msi
  Installer Url: https://www.7-zip.org/a/7z2408-x64.msi
  Installer SHA256: 1b7ec2e1f1d4f1a2c3b4d5e6f708192a3b4c5d6e7f8091a2b3c4d5e6f7081920
  Offline Distribution Supported: true
`

func TestParseShow(t *testing.T) {
	pkg, err := ParseShow([]byte(showOutput))
	if err != nil {
		t.Fatalf("ParseShow() unexpected error: %v", err)
	}
	want := &Package{
		ID:              "7zip.7zip",
		Name:            "7-Zip",
		Version:         "24.08",
		Publisher:       "Igor Pavlov",
		InstallerType:   "msi",
		InstallerURL:    "https://www.7-zip.org/a/7z2408-x64.msi",
		InstallerSHA256: "1b7ec2e1f1d4f1a2c3b4d5e6f708192a3b4c5d6e7f8091a2b3c4d5e6f7081920",
	}
	if diff := cmp.Diff(want, pkg); diff != "" {
		t.Errorf("ParseShow() mismatch (-want +got):\n%s", diff)
	}
}

func TestParseShowErrors(t *testing.T) {
	tests := []struct {
		name    string
		output  string
		wantErr error
	}{
		{"not found", "No package found matching input criteria.\n", ErrPackageNotFound},
		{"no version", "Found Thing [thing.thing]\nPublisher: Someone\n", ErrNoVersion},
		{"empty", "", ErrNoVersion},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ParseShow([]byte(tt.output)); !errors.Is(err, tt.wantErr) {
				t.Errorf("ParseShow() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestClientShow(t *testing.T) {
	runner := &command.MockRunner{Output: []byte(showOutput)}
	c := NewClient(runner, "")

	pkg, err := c.Show(context.Background(), "7zip.7zip")
	if err != nil {
		t.Fatalf("Show() unexpected error: %v", err)
	}
	if pkg.Version != "24.08" {
		t.Errorf("Version = %q, want 24.08", pkg.Version)
	}

	want := []string{"winget", "show", "--id", "7zip.7zip", "--exact", "--accept-source-agreements", "--disable-interactivity"}
	if diff := cmp.Diff([][]string{want}, runner.Calls()); diff != "" {
		t.Errorf("Calls() mismatch (-want +got):\n%s", diff)
	}
}

func TestClientShowErrors(t *testing.T) {
	tests := []struct {
		name    string
		output  string
		err     error
		wantErr error
	}{
		{
			name:    "not found with non-zero exit",
			output:  "No package found matching input criteria.",
			err:     &command.ExitError{Code: 1},
			wantErr: ErrPackageNotFound,
		},
		{
			name:    "command failure",
			err:     &command.ExitError{Code: 2},
			wantErr: ErrQueryFailed,
		},
		{
			name:    "no version",
			output:  "Found Thing [thing.thing]\n",
			wantErr: ErrNoVersion,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := NewClient(&command.MockRunner{Output: []byte(tt.output), Err: tt.err}, "winget.exe")
			if _, err := c.Show(context.Background(), "thing.thing"); !errors.Is(err, tt.wantErr) {
				t.Errorf("Show() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}
