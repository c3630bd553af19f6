package version

import (
	"errors"
	"testing"
)

func TestIsComparable(t *testing.T) {
	tests := []struct {
		input string
		want  bool
	}{
		{"23.01", true},
		{"1", true},
		{"10.0.19045.1", true},
		{"1.2.3.4.5", false},
		{"23.01-x64", false},
		{"v1.5.0", false},
		{"1..2", false},
		{"", false},
		{"1.2.", false},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			if got := IsComparable(tt.input); got != tt.want {
				t.Errorf("IsComparable(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}

func TestNormalize(t *testing.T) {
	tests := []struct {
		input   string
		want    string
		wantErr bool
	}{
		{input: "23.01-x64", want: "23.01"},
		{input: "finance-tool-v1.5.0", want: "1.5.0"},
		{input: "v2.4.1_build7", want: "2.4.1.7"},
		{input: "2024-03-01", want: "2024.03.01"},
		{input: "23.01", want: "23.01"},
		{input: "release", wantErr: true},
		{input: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := Normalize(tt.input)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("Normalize(%q) expected error, got %q", tt.input, got)
				}
				if !errors.Is(err, ErrComparisonAmbiguity) {
					t.Errorf("Normalize(%q) error = %v, want ErrComparisonAmbiguity", tt.input, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Normalize(%q) unexpected error: %v", tt.input, err)
			}
			if got != tt.want {
				t.Errorf("Normalize(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestNormalize_Idempotent(t *testing.T) {
	inputs := []string{
		"23.01-x64",
		"finance-tool-v1.5.0",
		"Version 7 (build 2231)",
		"1",
		"a1b2c3d4e5f6",
		"..9..",
	}

	for _, in := range inputs {
		t.Run(in, func(t *testing.T) {
			once, err := Normalize(in)
			if err != nil {
				t.Fatalf("Normalize(%q) unexpected error: %v", in, err)
			}
			twice, err := Normalize(once)
			if err != nil {
				t.Fatalf("Normalize(%q) unexpected error: %v", once, err)
			}
			if once != twice {
				t.Errorf("Normalize not idempotent: %q -> %q -> %q", in, once, twice)
			}
		})
	}
}

func TestComparable(t *testing.T) {
	tests := []struct {
		input   string
		want    string
		wantErr bool
	}{
		{input: "23.01", want: "23.01"},
		{input: " 23.01 ", want: "23.01"},
		{input: "finance-tool-v1.5.0", want: "1.5.0"},
		{input: "1.2.3.4-5", wantErr: true},
		{input: "latest", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := Comparable(tt.input)
			if tt.wantErr {
				if !errors.Is(err, ErrComparisonAmbiguity) {
					t.Errorf("Comparable(%q) error = %v, want ErrComparisonAmbiguity", tt.input, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Comparable(%q) unexpected error: %v", tt.input, err)
			}
			if got != tt.want {
				t.Errorf("Comparable(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestCompare_TotalOrder(t *testing.T) {
	ordered := []string{"1", "1.0.1", "9.9", "23.01", "23.10", "23.10.1", "24"}

	for i := range ordered {
		for j := range ordered {
			got, err := Compare(ordered[i], ordered[j])
			if err != nil {
				t.Fatalf("Compare(%q, %q) unexpected error: %v", ordered[i], ordered[j], err)
			}
			want := 0
			switch {
			case i < j:
				want = -1
			case i > j:
				want = 1
			}
			if got != want {
				t.Errorf("Compare(%q, %q) = %d, want %d", ordered[i], ordered[j], got, want)
			}
		}
	}
}

func TestCompare_Equivalence(t *testing.T) {
	tests := []struct {
		a, b string
	}{
		{"23.1", "23.01"},
		{"1.5", "1.5.0"},
		{"finance-tool-v1.5.0", "1.5.0"},
	}

	for _, tt := range tests {
		t.Run(tt.a+"="+tt.b, func(t *testing.T) {
			got, err := Compare(tt.a, tt.b)
			if err != nil {
				t.Fatalf("Compare() unexpected error: %v", err)
			}
			if got != 0 {
				t.Errorf("Compare(%q, %q) = %d, want 0", tt.a, tt.b, got)
			}
		})
	}
}

func TestCompare_Ambiguous(t *testing.T) {
	if _, err := Compare("stable", "1.0"); !errors.Is(err, ErrComparisonAmbiguity) {
		t.Errorf("Compare() error = %v, want ErrComparisonAmbiguity", err)
	}
	if _, err := Compare("1.0", "1.2.3.4.5.6"); !errors.Is(err, ErrComparisonAmbiguity) {
		t.Errorf("Compare() error = %v, want ErrComparisonAmbiguity", err)
	}
}

func TestMax(t *testing.T) {
	tests := []struct {
		name     string
		versions []string
		want     string
		wantErr  error
	}{
		{
			name:     "numeric ordering not lexical",
			versions: []string{"9.2", "23.01", "10.0"},
			want:     "23.01",
		},
		{
			name:     "non numeric entries excluded",
			versions: []string{"1.4.0", "2.0-beta", "latest", "1.10.0"},
			want:     "1.10.0",
		},
		{
			name:     "empty input",
			versions: nil,
			wantErr:  ErrNoVersionsProvided,
		},
		{
			name:     "nothing comparable",
			versions: []string{"beta", "v2"},
			wantErr:  ErrNoComparableVersion,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Max(tt.versions)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Errorf("Max() error = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("Max() unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("Max() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestErrVersionParseFailed(t *testing.T) {
	cause := errors.New("test cause")
	err := ErrVersionParseFailed{Version: "abc", Op: OpNormalize, Cause: cause}

	expected := `failed to parse version "abc" in operation normalize: test cause`
	if err.Error() != expected {
		t.Errorf("expected %q, got %q", expected, err.Error())
	}
	if !errors.Is(err, cause) {
		t.Error("expected Unwrap to expose cause")
	}
	if !errors.Is(err, ErrComparisonAmbiguity) {
		t.Error("expected parse failure to match ErrComparisonAmbiguity")
	}
}

func TestLatestMatching(t *testing.T) {
	tags := []string{"v1.4.2", "v1.5.0", "finance-tool-v1.6.1", "v2.0.0", "nightly"}

	tests := []struct {
		name       string
		constraint string
		want       string
		wantErr    bool
	}{
		{name: "major pinned", constraint: "~1", want: "finance-tool-v1.6.1"},
		{name: "upper bound", constraint: "< 1.6", want: "v1.5.0"},
		{name: "any", constraint: "*", want: "v2.0.0"},
		{name: "none", constraint: ">= 3", wantErr: true},
		{name: "bad constraint", constraint: "not a constraint", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := LatestMatching(tags, tt.constraint)
			if tt.wantErr {
				if err == nil {
					t.Errorf("LatestMatching() expected error, got %q", got)
				}
				return
			}
			if err != nil {
				t.Fatalf("LatestMatching() unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("LatestMatching() = %q, want %q", got, tt.want)
			}
		})
	}
}
