package download

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/klauspost/compress/zip"
	"github.com/klauspost/compress/zstd"
	"github.com/ulikunitz/xz"
)

var (
	ErrNoInstaller       = errors.New("no installer found in archive")
	ErrUnsafeArchivePath = errors.New("archive entry path escapes target root")
)

// installerExtensions are tried in order when picking the installer out of an
// expanded zip.
var installerExtensions = []string{".msi", ".exe", ".msix", ".ps1"}

type expander func(src, dir string) (string, error)

var expanders = map[string]expander{
	".zip": expandZip,
	".xz":  expandStream(openXZ),
	".zst": expandStream(openZstd),
}

func openXZ(r io.Reader) (io.Reader, func(), error) {
	xr, err := xz.NewReader(r)
	return xr, func() {}, err
}

func openZstd(r io.Reader) (io.Reader, func(), error) {
	zr, err := zstd.NewReader(r)
	if err != nil {
		return nil, nil, err
	}
	return zr, zr.Close, nil
}

// IsArchive reports whether Expand would unpack path.
func IsArchive(path string) bool {
	_, ok := expanders[strings.ToLower(filepath.Ext(path))]
	return ok
}

// Expand unpacks an archived installer into dir and returns the installer
// path. Paths that are not archives are returned unchanged.
func Expand(path, dir string) (string, error) {
	expand, ok := expanders[strings.ToLower(filepath.Ext(path))]
	if !ok {
		return path, nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create extraction directory: %w", err)
	}
	out, err := expand(path, dir)
	if err != nil {
		return "", fmt.Errorf("failed to expand %s: %w", filepath.Base(path), err)
	}
	return out, nil
}

// expandStream decompresses a single-file stream; the output name drops the
// compression suffix.
func expandStream(open func(io.Reader) (io.Reader, func(), error)) expander {
	return func(src, dir string) (string, error) {
		in, err := os.Open(src)
		if err != nil {
			return "", err
		}
		defer in.Close()

		r, closeFn, err := open(in)
		if err != nil {
			return "", err
		}
		defer closeFn()

		base := filepath.Base(src)
		dest := filepath.Join(dir, strings.TrimSuffix(base, filepath.Ext(base)))
		if err := writeFile(dest, r, 0o644); err != nil {
			return "", err
		}
		return dest, nil
	}
}

func expandZip(src, dir string) (string, error) {
	zr, err := zip.OpenReader(src)
	if err != nil {
		return "", err
	}
	defer zr.Close()

	var files []string
	for _, entry := range zr.File {
		if entry.FileInfo().IsDir() {
			continue
		}
		target, err := resolveTargetPath(dir, entry.Name)
		if err != nil {
			return "", err
		}
		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return "", err
		}
		rc, err := entry.Open()
		if err != nil {
			return "", err
		}
		err = writeFile(target, rc, 0o644)
		_ = rc.Close()
		if err != nil {
			return "", err
		}
		files = append(files, target)
	}
	return pickInstaller(files)
}

func pickInstaller(files []string) (string, error) {
	if len(files) == 1 {
		return files[0], nil
	}
	sort.Strings(files)
	for _, ext := range installerExtensions {
		for _, f := range files {
			if strings.EqualFold(filepath.Ext(f), ext) {
				return f, nil
			}
		}
	}
	return "", ErrNoInstaller
}

func resolveTargetPath(root, name string) (string, error) {
	cleaned := filepath.Clean(filepath.FromSlash(name))
	if filepath.IsAbs(cleaned) || cleaned == ".." || strings.HasPrefix(cleaned, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %q", ErrUnsafeArchivePath, name)
	}
	return filepath.Join(root, cleaned), nil
}

func writeFile(dest string, r io.Reader, mode os.FileMode) error {
	out, err := os.OpenFile(dest, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, mode)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, r); err != nil {
		_ = out.Close()
		return err
	}
	return out.Close()
}
