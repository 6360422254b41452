package deb

import (
	"archive/tar"
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/ulikunitz/xz"
)

func TestExtract(t *testing.T) {
	src := t.TempDir()
	writeFile(t, src, "bin/tool", "#!/bin/sh\n", 0755)
	writeFile(t, src, "share/readme", "read me", 0644)
	if err := os.Symlink("../share/readme", filepath.Join(src, "bin", "readme")); err != nil {
		t.Fatalf("symlink failed: %v", err)
	}
	res, err := Builder{Time: testTime}.Build(BuildSpec{
		Package:    "p",
		Version:    "1",
		Maintainer: "m",
		Files: []File{
			{Src: src, Dst: "/opt/p"},
			{Dir: "/var/lib/p"},
		},
	}, t.TempDir())
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}

	f, err := os.Open(res.Path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	out := t.TempDir()
	if err := Extract(f, out); err != nil {
		t.Fatalf("Extract failed: %v", err)
	}

	got, err := os.ReadFile(filepath.Join(out, "opt/p/bin/tool"))
	if err != nil || string(got) != "#!/bin/sh\n" {
		t.Errorf("tool = %q, %v", got, err)
	}
	st, err := os.Stat(filepath.Join(out, "opt/p/bin/tool"))
	if err != nil || st.Mode().Perm()&0100 == 0 {
		t.Errorf("tool lost its executable bit: %v %v", st, err)
	}
	if link, err := os.Readlink(filepath.Join(out, "opt/p/bin/readme")); err != nil || link != "../share/readme" {
		t.Errorf("readme link = %q, %v", link, err)
	}
	if st, err := os.Stat(filepath.Join(out, "var/lib/p")); err != nil || !st.IsDir() {
		t.Errorf("var/lib/p is not a directory: %v", err)
	}
}

// xzPackage returns an ar archive whose payload is an xz tar of entries.
func xzPackage(t *testing.T, entries ...*tar.Header) []byte {
	t.Helper()
	var data bytes.Buffer
	xw, err := xz.NewWriter(&data)
	if err != nil {
		t.Fatal(err)
	}
	tw := tar.NewWriter(xw)
	for _, h := range entries {
		if err := tw.WriteHeader(h); err != nil {
			t.Fatal(err)
		}
		if h.Size > 0 {
			if _, err := tw.Write(bytes.Repeat([]byte("x"), int(h.Size))); err != nil {
				t.Fatal(err)
			}
		}
	}
	if err := tw.Close(); err != nil {
		t.Fatal(err)
	}
	if err := xw.Close(); err != nil {
		t.Fatal(err)
	}

	var buf bytes.Buffer
	a := NewArchive(&buf, testTime)
	if err := a.Init(); err != nil {
		t.Fatal(err)
	}
	if err := a.Append("data.tar.xz", data.Bytes()); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func TestExtractXz(t *testing.T) {
	pkg := xzPackage(t,
		&tar.Header{Typeflag: tar.TypeDir, Name: "./", Mode: 0755},
		&tar.Header{Typeflag: tar.TypeReg, Name: "./usr/x", Mode: 0644, Size: 3},
	)
	out := filepath.Join(t.TempDir(), "out")
	if err := Extract(bytes.NewReader(pkg), out); err != nil {
		t.Fatalf("Extract failed: %v", err)
	}
	if got, err := os.ReadFile(filepath.Join(out, "usr/x")); err != nil || string(got) != "xxx" {
		t.Errorf("usr/x = %q, %v", got, err)
	}
}

func TestExtractStaysInDir(t *testing.T) {
	pkg := xzPackage(t,
		&tar.Header{Typeflag: tar.TypeSymlink, Name: "up", Linkname: ".."},
		&tar.Header{Typeflag: tar.TypeReg, Name: "up/escape", Mode: 0644, Size: 1},
	)
	parent := t.TempDir()
	if err := Extract(bytes.NewReader(pkg), filepath.Join(parent, "out")); err == nil {
		t.Error("expected an error when writing through a symlink that leaves the directory")
	}
	if _, err := os.Stat(filepath.Join(parent, "escape")); !errors.Is(err, os.ErrNotExist) {
		t.Error("entry written outside the output directory")
	}
}

func TestExtractErrors(t *testing.T) {
	fifo := xzPackage(t, &tar.Header{Typeflag: tar.TypeFifo, Name: "pipe", Mode: 0644})
	if err := Extract(bytes.NewReader(fifo), t.TempDir()); !errors.Is(err, ErrUnsupportedFileType) {
		t.Errorf("fifo entry: error = %v, want ErrUnsupportedFileType", err)
	}

	var buf bytes.Buffer
	a := NewArchive(&buf, testTime)
	if err := a.Init(); err != nil {
		t.Fatal(err)
	}
	if err := Extract(&buf, t.TempDir()); !errors.Is(err, ErrFormat) {
		t.Errorf("no payload: error = %v, want ErrFormat", err)
	}
}
