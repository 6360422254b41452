package deb

import (
	"archive/tar"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"hash"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"slices"
	"strings"
	"time"
)

// HashRecord is the MD5 digest of one regular payload file together with its
// archive-relative path (no leading slash).
type HashRecord struct {
	Sum  [md5.Size]byte
	Path string
}

// Hex returns the lower-case hex encoding of the digest.
func (h HashRecord) Hex() string {
	return hex.EncodeToString(h.Sum[:])
}

// DataBuilder streams the payload of a package into a tar archive.
//
// Regular files are hashed while they are copied into the archive, and every
// directory on the way to a file is written once, before the first entry that
// needs it. Entries are written in call order, so callers wanting a
// deterministic archive must add paths in a deterministic order.
type DataBuilder struct {
	tw      *tar.Writer
	modTime time.Time
	size    uint64
	dirs    map[string]struct{}
	hasher  hash.Hash
	hashes  []HashRecord
	logger  *slog.Logger
}

// NewDataBuilder returns a DataBuilder writing a tar stream to w.
// All entries are stamped with modTime and owned by uid/gid 0.
func NewDataBuilder(w io.Writer, modTime time.Time) *DataBuilder {
	return &DataBuilder{
		tw:      tar.NewWriter(w),
		modTime: modTime,
		dirs:    make(map[string]struct{}),
		hasher:  md5.New(),
		logger:  slog.New(slog.DiscardHandler),
	}
}

// SetLogger sets the logger receiving one debug record per entry.
func (b *DataBuilder) SetLogger(l *slog.Logger) {
	if l != nil {
		b.logger = l
	}
}

// Size returns the number of regular file bytes added so far.
func (b *DataBuilder) Size() uint64 { return b.size }

// Hashes returns the digests of the regular files added so far, in emission order.
func (b *DataBuilder) Hashes() []HashRecord { return slices.Clone(b.hashes) }

// Close writes the tar trailer. It does not close the underlying writer.
func (b *DataBuilder) Close() error {
	if err := b.tw.Close(); err != nil {
		return fmt.Errorf("closing data archive: %w", err)
	}
	return nil
}

// AddPath adds the file or directory tree at src, installed at dst.
//
// A regular file is added with mode when mode is non-zero, otherwise with its own
// permission bits. A directory is walked recursively: regular files below it are
// added under dst, symlinks become symlink entries. A symlink at src, or any
// special file, fails with ErrUnsupportedFileType. A directory may be installed
// at "/", a file may not.
func (b *DataBuilder) AddPath(src, dst string, mode int64) error {
	info, err := os.Lstat(src)
	if err != nil {
		return fmt.Errorf("failed to stat file %s: %w", src, err)
	}
	if info.IsDir() {
		dst = cleanPath(dst)
	} else if dst, err = archivePath(dst); err != nil {
		return err
	}
	switch {
	case info.Mode()&fs.ModeSymlink != 0:
		return fmt.Errorf("%w: %s is a symlink, symlinks are not supported file types", ErrUnsupportedFileType, src)
	case info.Mode().IsRegular():
		if mode == 0 {
			mode = int64(info.Mode().Perm())
		}
		return b.addFile(src, dst, info, mode)
	case info.IsDir():
		if err := b.addTree(src, dst); err != nil {
			return fmt.Errorf("failed to walk directory %s: %w", src, err)
		}
		return nil
	}
	return fmt.Errorf("%w: %s is %v, directories and files are the only supported file types", ErrUnsupportedFileType, src, info.Mode().Type())
}

// AddDir adds an explicit directory entry at dst. A zero mode means DefaultDirMode.
func (b *DataBuilder) AddDir(dst string, mode int64) error {
	dst, err := archivePath(dst)
	if err != nil {
		return err
	}
	if mode == 0 {
		mode = DefaultDirMode
	}
	if err := b.addParentDirectories(dst); err != nil {
		return err
	}
	return b.directory(dst, mode)
}

func (b *DataBuilder) addTree(src, dst string) error {
	return filepath.WalkDir(src, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(src, p)
		if err != nil {
			return err
		}
		target := path.Join(dst, filepath.ToSlash(rel))
		info, err := d.Info()
		if err != nil {
			return fmt.Errorf("failed to stat file %s: %w", p, err)
		}
		switch {
		case info.Mode()&fs.ModeSymlink != 0:
			link, err := os.Readlink(p)
			if err != nil {
				return fmt.Errorf("failed to read link %s: %w", p, err)
			}
			return b.symlink(target, link, int64(info.Mode().Perm()))
		case info.Mode().IsRegular():
			return b.addFile(p, target, info, int64(info.Mode().Perm()))
		}
		return fmt.Errorf("%w: %s is %v", ErrUnsupportedFileType, p, info.Mode().Type())
	})
}

func (b *DataBuilder) addFile(src, dst string, info fs.FileInfo, mode int64) error {
	f, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("could not open file %s: %w", src, err)
	}
	defer f.Close()

	if err := b.addParentDirectories(dst); err != nil {
		return err
	}
	size := info.Size()
	header := &tar.Header{
		Typeflag: tar.TypeReg,
		Name:     dst,
		Size:     size,
		Mode:     mode,
		ModTime:  b.modTime,
		Format:   tar.FormatGNU,
	}
	if err := b.tw.WriteHeader(header); err != nil {
		return fmt.Errorf("%w: writing tar header for %s: %v", ErrFormat, dst, err)
	}

	b.hasher.Reset()
	n, err := io.Copy(b.tw, &hashReader{r: f, h: b.hasher})
	if err != nil {
		return fmt.Errorf("copying %s: %w", src, err)
	}
	if n != size {
		return fmt.Errorf("copying %s: %w", src, io.ErrUnexpectedEOF)
	}

	rec := HashRecord{Path: dst}
	b.hasher.Sum(rec.Sum[:0])
	b.hasher.Reset()
	b.hashes = append(b.hashes, rec)
	b.size += uint64(size)
	b.logger.Debug("added file", "src", src, "dst", dst, "size", size, "md5", rec.Hex())
	return nil
}

func (b *DataBuilder) symlink(dst, target string, mode int64) error {
	if err := b.addParentDirectories(dst); err != nil {
		return err
	}
	header := &tar.Header{
		Typeflag: tar.TypeSymlink,
		Name:     dst,
		Linkname: target,
		Mode:     mode,
		ModTime:  b.modTime,
		Format:   tar.FormatGNU,
	}
	if err := b.tw.WriteHeader(header); err != nil {
		return fmt.Errorf("%w: writing tar header for %s: %v", ErrFormat, dst, err)
	}
	b.logger.Debug("added symlink", "dst", dst, "target", target)
	return nil
}

// directory writes a directory entry for dir unless one was already written.
func (b *DataBuilder) directory(dir string, mode int64) error {
	if _, ok := b.dirs[dir]; ok {
		return nil
	}
	b.dirs[dir] = struct{}{}
	header := &tar.Header{
		Typeflag: tar.TypeDir,
		Name:     dir + "/",
		Mode:     mode,
		ModTime:  b.modTime,
		Format:   tar.FormatGNU,
	}
	if err := b.tw.WriteHeader(header); err != nil {
		return fmt.Errorf("%w: writing tar header for %s: %v", ErrFormat, dir, err)
	}
	b.logger.Debug("added directory", "dst", dir)
	return nil
}

// addParentDirectories writes every missing directory of p, outermost first.
func (b *DataBuilder) addParentDirectories(p string) error {
	parent := path.Dir(p)
	if parent == "." {
		return nil
	}
	var dir string
	for _, comp := range strings.Split(parent, "/") {
		dir = path.Join(dir, comp)
		if err := b.directory(dir, DefaultDirMode); err != nil {
			return err
		}
	}
	return nil
}

// archivePath turns an install path into a clean tar entry name without a
// leading slash.
func archivePath(dst string) (string, error) {
	p := cleanPath(dst)
	if p == "" {
		return "", fmt.Errorf("%w: destination %q does not name a file", ErrValidation, dst)
	}
	return p, nil
}

// cleanPath is archivePath without the check, "/" maps to "".
func cleanPath(dst string) string {
	return strings.TrimLeft(path.Clean("/"+filepath.ToSlash(dst)), "/")
}
