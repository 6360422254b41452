package deb

import (
	"archive/tar"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/blakesmith/ar"
)

// Extract unpacks the payload of the package read from r into dir, which is
// created if needed. Every entry stays below dir, including through symlinks.
// Directories, regular files and symlinks are supported.
func Extract(r io.Reader, dir string) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}
	root, err := os.OpenRoot(dir)
	if err != nil {
		return err
	}
	defer root.Close()

	arR := ar.NewReader(r)
	for {
		header, err := arR.Next()
		if err == io.EOF {
			return fmt.Errorf("%w: no data member", ErrFormat)
		}
		if err != nil {
			return fmt.Errorf("%w: reading ar header: %v", ErrFormat, err)
		}
		name := strings.TrimSuffix(strings.TrimSpace(header.Name), "/")
		if !strings.HasPrefix(name, "data.tar") {
			continue
		}
		return eachTarEntry(name, arR, func(th *tar.Header, r io.Reader) error {
			return extractEntry(root, th, r)
		})
	}
}

func extractEntry(root *os.Root, th *tar.Header, r io.Reader) error {
	rel := cleanPath(th.Name)
	if rel == "" {
		return nil
	}
	name := filepath.FromSlash(rel)
	if parent := filepath.Dir(name); parent != "." {
		if err := root.MkdirAll(parent, 0755); err != nil {
			return fmt.Errorf("creating %s: %w", parent, err)
		}
	}

	switch th.Typeflag {
	case tar.TypeDir:
		if err := root.MkdirAll(name, 0755); err != nil {
			return fmt.Errorf("creating %s: %w", name, err)
		}
		return nil
	case tar.TypeSymlink:
		if err := root.Symlink(th.Linkname, name); err != nil {
			return fmt.Errorf("creating symlink %s: %w", name, err)
		}
		return nil
	case tar.TypeReg:
		f, err := root.OpenFile(name, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, fs.FileMode(th.Mode).Perm())
		if err != nil {
			return fmt.Errorf("creating %s: %w", name, err)
		}
		if _, err := io.Copy(f, r); err != nil {
			f.Close()
			return fmt.Errorf("writing %s: %w", name, err)
		}
		return f.Close()
	}
	return fmt.Errorf("%w: %s has tar type %q", ErrUnsupportedFileType, th.Name, th.Typeflag)
}
