package deb

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/klauspost/compress/gzip"
	"pault.ag/go/debian/dependency"
)

// BuildSpec is the complete description of one binary package: its control
// metadata, its payload manifest and its maintainer hooks.
//
// Reference: https://www.debian.org/doc/debian-policy/ch-controlfields.html#binary-package-control-files-debian-control
type BuildSpec struct {
	// Package is the name of the package.
	//
	// Reference: https://www.debian.org/doc/debian-policy/ch-controlfields.html#s-f-package
	Package string

	// Name is an optional human readable name. It is not written to the control file.
	Name string

	// Version is the raw version string, written as is.
	//
	// Reference: https://www.debian.org/doc/debian-policy/ch-controlfields.html#s-f-version
	Version string

	// BuildNo, when non-zero, is appended to Version as "-<BuildNo>".
	BuildNo uint32

	// Description contains the synopsis on its first line and the extended
	// description on the following ones.
	//
	// Reference: https://www.debian.org/doc/debian-policy/ch-controlfields.html#s-f-description
	Description string

	// Maintainer is written verbatim when set. Otherwise it is derived from
	// Author and Email as "Author <Email>".
	//
	// Reference: https://www.debian.org/doc/debian-policy/ch-controlfields.html#s-f-maintainer
	Maintainer string
	Author     string
	Email      string

	// Homepage is the URL of the upstream project's home page.
	Homepage string

	// Arch is the architecture name, DefaultArch when empty.
	//
	// Reference: https://www.debian.org/doc/debian-policy/ch-controlfields.html#s-f-architecture
	Arch string

	// Section classifies the package, DefaultSection when empty.
	Section  string
	Priority Priority
	Urgency  Urgency

	// Essential, if set to true, indicates that the package is essential for the system to function.
	Essential bool

	// Relationship fields. Each entry is one relation, e.g. "libc6 (>= 2.31)".
	//
	// Reference: https://www.debian.org/doc/debian-policy/ch-relationships.html#s-binarydeps
	Depends    []string
	Recommends []string
	Suggests   []string

	Files []File

	// AptSources, when set, generate preinst and postrm scripts that register the
	// sources with apt. They take precedence over Scripts.
	AptSources []AptSource
	Scripts    *MaintainerScripts
}

// File is one entry of the payload manifest.
type File struct {
	// Src is a file or directory on the build host. Leave it empty, or set Dir,
	// to create an empty directory.
	Src string
	// Dst is the install path on the target system.
	Dst string
	// Mode overrides the permission bits of a top-level regular file, or of a
	// directory marker. 0 keeps the source bits (0755 for directories).
	Mode int64
	// Dir makes the entry an explicit directory marker at this path.
	Dir string
}

// AptSource is an apt repository installed by the package.
type AptSource struct {
	Name       string
	URL        string
	Components string
	GPGKeyURL  string
}

// MaintainerScripts holds the executable maintainer scripts.
// Empty scripts are not written.
//
// Reference: https://www.debian.org/doc/debian-policy/ch-maintainerscripts.html
type MaintainerScripts struct {
	PreInst  string
	PostInst string
	PreRm    string
	PostRm   string
}

// PreProcess fills empty destinations. With a non-empty base the destination is
// base joined with the source's file name, otherwise the source path itself.
func (s *BuildSpec) PreProcess(base string) {
	for i := range s.Files {
		f := &s.Files[i]
		if f.Dst != "" || f.Dir != "" || f.Src == "" {
			continue
		}
		if base != "" {
			f.Dst = path.Join(base, filepath.Base(f.Src))
		} else {
			f.Dst = f.Src
		}
	}
}

// MergeIn fills Author and Email from defaults when they are empty.
func (s *BuildSpec) MergeIn(defaults BuildSpec) {
	if s.Author == "" {
		s.Author = defaults.Author
	}
	if s.Email == "" {
		s.Email = defaults.Email
	}
}

// Validate checks that s can be built. Every error wraps ErrValidation.
func (s *BuildSpec) Validate() error {
	if s.Maintainer == "" && s.Author == "" && s.Email == "" {
		return ErrMissingMaintainer
	}
	if s.Package == "" {
		return fmt.Errorf("%w: package name is empty", ErrValidation)
	}
	if s.Version == "" {
		return fmt.Errorf("%w: %w", ErrValidation, ErrEmptyVersion)
	}
	for i, f := range s.Files {
		if f.Dst == "" && f.Dir == "" {
			return fmt.Errorf("%w: file %d (%s) has no destination", ErrValidation, i, f.Src)
		}
	}
	for _, rel := range []struct {
		field ControlField
		items []string
	}{
		{FieldDepends, s.Depends},
		{FieldRecommends, s.Recommends},
		{FieldSuggests, s.Suggests},
	} {
		for _, item := range rel.items {
			if _, err := dependency.Parse(item); err != nil {
				return fmt.Errorf("%w: %s %q: %v", ErrValidation, rel.field, item, err)
			}
		}
	}
	return nil
}

// FullVersion returns Version with the build number appended when set.
func (s *BuildSpec) FullVersion() string {
	if s.BuildNo > 0 {
		return s.Version + "-" + strconv.FormatUint(uint64(s.BuildNo), 10)
	}
	return s.Version
}

// Filename returns "{package}-v{version}_{arch}.deb".
func (s *BuildSpec) Filename() string {
	return fmt.Sprintf("%s-v%s_%s.deb", s.Package, s.FullVersion(), s.arch())
}

func (s *BuildSpec) arch() string {
	if s.Arch == "" {
		return DefaultArch
	}
	return s.Arch
}

// maintainer resolves the Maintainer field.
func (s *BuildSpec) maintainer() (string, error) {
	switch {
	case s.Maintainer != "":
		return s.Maintainer, nil
	case s.Author != "" && s.Email != "":
		return s.Author + " <" + s.Email + ">", nil
	case s.Author != "":
		return s.Author, nil
	case s.Email != "":
		return s.Email, nil
	}
	return "", ErrMissingMaintainer
}

// Result describes a package written by Builder.Build.
type Result struct {
	Path string
	// Arch is the architecture written to the control file.
	Arch string
	// Size is the size of the .deb file in bytes.
	Size          int64
	InstalledSize uint64
	Hashes        []HashRecord
}

// Builder builds packages. The zero value stamps entries with the current time
// and does not log.
type Builder struct {
	// Time is the modification time of every entry. Zero means time.Now().
	// It is truncated to whole seconds.
	Time   time.Time
	Logger *slog.Logger
}

// Build writes the package described by spec into dir and returns where it went.
//
// Files are sorted on a copy of the list, the caller's BuildSpec is never
// modified. Nothing is written when validation fails,
// and the output file is removed if any later step fails.
func (b Builder) Build(spec BuildSpec, dir string) (*Result, error) {
	if err := spec.Validate(); err != nil {
		return nil, err
	}
	logger := b.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	modTime := b.Time
	if modTime.IsZero() {
		modTime = time.Now()
	}
	modTime = modTime.Truncate(time.Second)

	files := slices.Clone(spec.Files)
	slices.SortStableFunc(files, func(x, y File) int {
		return strings.Compare(x.dest(), y.dest())
	})

	// 1. Build Data Archive (data.tar.gz)
	// We must build this first to calculate MD5 sums of files for the control archive.
	dataBuf := new(bytes.Buffer)
	gw := gzip.NewWriter(dataBuf)
	data := NewDataBuilder(gw, modTime)
	data.SetLogger(logger)
	for _, f := range files {
		if err := addManifestEntry(data, f); err != nil {
			return nil, err
		}
	}
	if err := data.Close(); err != nil {
		return nil, err
	}
	if err := gw.Close(); err != nil {
		return nil, fmt.Errorf("compressing data archive: %w", err)
	}

	// 2. Build Control Archive (control.tar.gz)
	controlBuf := new(bytes.Buffer)
	if err := buildControlArchive(controlBuf, &spec, data.Hashes(), data.Size(), modTime); err != nil {
		return nil, fmt.Errorf("building control archive: %w", err)
	}

	// 3. Assemble the final AR archive
	out := filepath.Join(dir, spec.Filename())
	size, err := writeArchive(out, modTime, controlBuf.Bytes(), dataBuf.Bytes())
	if err != nil {
		return nil, err
	}
	logger.Info("package written", "path", out, "package", spec.Package, "version", spec.FullVersion(),
		"size", size, "installed_size", data.Size(), "files", len(data.Hashes()))

	return &Result{Path: out, Arch: spec.arch(), Size: size, InstalledSize: data.Size(), Hashes: data.Hashes()}, nil
}

// Build builds spec into dir with a zero Builder.
func Build(spec BuildSpec, dir string) (*Result, error) {
	return Builder{}.Build(spec, dir)
}

// dest is the sort key of a manifest entry: its install path, cleaned so that a
// directory marker sorts before its content however it is spelled.
func (f File) dest() string {
	d := f.Dst
	if f.Dir != "" {
		d = f.Dir
	}
	return cleanPath(d)
}

func addManifestEntry(data *DataBuilder, f File) error {
	switch {
	case f.Dir != "":
		return data.AddDir(f.Dir, f.Mode)
	case f.Src == "":
		return data.AddDir(f.Dst, f.Mode)
	}
	if err := data.AddPath(f.Src, f.Dst, f.Mode); err != nil {
		return fmt.Errorf("failed to add %s to archive: %w", f.Src, err)
	}
	return nil
}

// writeArchive writes the ar container to the file name and returns its size.
// The file is removed on failure.
func writeArchive(name string, modTime time.Time, control, data []byte) (n int64, err error) {
	f, err := os.OpenFile(name, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0666)
	if err != nil {
		return 0, fmt.Errorf("creating package file: %w", err)
	}
	defer func() {
		if cerr := f.Close(); err == nil && cerr != nil {
			err = fmt.Errorf("closing %s: %w", name, cerr)
		}
		if err != nil {
			err = errors.Join(err, os.Remove(name))
		}
	}()

	bw := bufio.NewWriter(f)
	cw := &countingWriter{w: bw}
	archive := NewArchive(cw, modTime)
	if err := archive.Init(); err != nil {
		return 0, err
	}
	// The member order is load-bearing: dpkg rejects control after data.
	if err := archive.Append(string(PkgControlTarGz), control); err != nil {
		return 0, err
	}
	if err := archive.Append(string(PkgDataTarGz), data); err != nil {
		return 0, err
	}
	if err := bw.Flush(); err != nil {
		return 0, fmt.Errorf("writing %s: %w", name, err)
	}
	return cw.n, nil
}
