package platform

import (
	"errors"
	"testing"
)

func TestPredefinedPlatforms(t *testing.T) {
	platforms := PredefinedPlatforms()
	if got := len(platforms); got != 15 {
		t.Fatalf("PredefinedPlatforms() count = %d, want 15", got)
	}
	seen := make(map[string]bool)
	for i, p := range platforms {
		if p.Name == "" || p.Release == "" || p.Family == "" {
			t.Errorf("Platform[%d] has empty fields: %+v", i, p)
		}
		if seen[p.Name] {
			t.Errorf("duplicate platform %s", p.Name)
		}
		seen[p.Name] = true
	}
}

func TestMinimumRelease(t *testing.T) {
	tests := []struct {
		name    string
		want    string
		wantErr bool
	}{
		{name: "W10_1607", want: "1607"},
		{name: "w10_1809", want: "1809"},
		{name: "W10_20H2", want: "2H20"},
		{name: "W10_22H2", want: "Windows10_22H2"},
		{name: "W11_22H2", want: "Windows11_22H2"},
		{name: "Windows11_23H2", want: "Windows11_23H2"},
		{name: "W12_24H2", wantErr: true},
		{name: "", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := MinimumRelease(tt.name)
			if tt.wantErr {
				if !errors.Is(err, ErrUnknownOperatingSystem) {
					t.Errorf("MinimumRelease(%q) error = %v, want ErrUnknownOperatingSystem", tt.name, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("MinimumRelease(%q) unexpected error: %v", tt.name, err)
			}
			if got != tt.want {
				t.Errorf("MinimumRelease(%q) = %q, want %q", tt.name, got, tt.want)
			}
		})
	}
}

func TestApplicableArchitectures(t *testing.T) {
	tests := []struct {
		arch    string
		want    string
		wantErr bool
	}{
		{arch: "x64", want: "x64"},
		{arch: "x86", want: "x86"},
		{arch: "All", want: "x64,x86"},
		{arch: "x64, x86", want: "x64,x86"},
		{arch: "x64,x64", want: "x64"},
		{arch: "aarch64", want: "arm64"},
		{arch: "mips", wantErr: true},
		{arch: "", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.arch, func(t *testing.T) {
			got, err := ApplicableArchitectures(tt.arch)
			if tt.wantErr {
				if !errors.Is(err, ErrUnknownArchitecture) {
					t.Errorf("ApplicableArchitectures(%q) error = %v", tt.arch, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("ApplicableArchitectures(%q) = %q, want %q", tt.arch, got, tt.want)
			}
		})
	}
}

func TestMapArch(t *testing.T) {
	tests := map[string]string{"amd64": "x64", "arm64": "arm64", "386": "x86", "riscv64": "x64"}
	for in, want := range tests {
		if got := mapArch(in); got != want {
			t.Errorf("mapArch(%q) = %q, want %q", in, got, want)
		}
	}
	if CurrentArchitecture() == "" {
		t.Error("CurrentArchitecture() is empty")
	}
}
