package storage

import (
	"os"
	"path/filepath"
	"testing"
)

func TestWorkDir(t *testing.T) {
	root := t.TempDir()
	w, err := NewWorkDir(filepath.Join(root, "downloads"), filepath.Join(root, "packages"))
	if err != nil {
		t.Fatalf("NewWorkDir() unexpected error: %v", err)
	}

	tests := []struct {
		name string
		got  string
		want string
	}{
		{name: "downloads", got: w.Downloads("7-Zip"), want: filepath.Join(root, "downloads", "7-Zip")},
		{name: "expanded", got: w.Expanded("7-Zip"), want: filepath.Join(root, "downloads", "7-Zip", "expanded")},
		{name: "packages", got: w.Packages("7-Zip"), want: filepath.Join(root, "packages", "7-Zip")},
		{name: "unsafe name", got: w.Downloads("../evil"), want: filepath.Join(root, "downloads", "__evil")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.want {
				t.Errorf("got %q, want %q", tt.got, tt.want)
			}
		})
	}

	if _, err := NewWorkDir("", "x"); err == nil {
		t.Error("NewWorkDir() with empty downloads should fail")
	}
}

func TestWorkDirReset(t *testing.T) {
	root := t.TempDir()
	w, err := NewWorkDir(filepath.Join(root, "d"), filepath.Join(root, "p"))
	if err != nil {
		t.Fatal(err)
	}
	dir := w.Downloads("App")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "old.msi"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := w.Reset("App"); err != nil {
		t.Fatalf("Reset() unexpected error: %v", err)
	}
	if _, err := os.Stat(dir); !os.IsNotExist(err) {
		t.Error("Reset() did not remove the download folder")
	}
	if err := w.Reset("App"); err != nil {
		t.Errorf("Reset() should be idempotent, got %v", err)
	}
}

func TestListFiles(t *testing.T) {
	dir := t.TempDir()
	_ = os.WriteFile(filepath.Join(dir, "a.msi"), []byte("a"), 0o644)
	_ = os.Mkdir(filepath.Join(dir, "sub"), 0o755)

	files, err := ListFiles(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(files) != 1 || filepath.Base(files[0]) != "a.msi" {
		t.Errorf("ListFiles() = %v", files)
	}
	if _, err := ListFiles(filepath.Join(dir, "missing")); err == nil {
		t.Error("ListFiles() of missing dir should fail")
	}
}
