package apt

import (
	"bytes"
	"crypto/sha256"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/ProtonMail/go-crypto/openpgp"
	"github.com/ProtonMail/go-crypto/openpgp/armor"
	"github.com/ProtonMail/go-crypto/openpgp/clearsign"
	"github.com/etnz/pax/deb"
	"github.com/google/go-cmp/cmp"
	"github.com/klauspost/compress/gzip"
	"github.com/ulikunitz/xz"
	"pault.ag/go/debian/control"
)

// buildDeb builds a small package into dir and returns its path.
func buildDeb(t *testing.T, dir, name, version, arch string) string {
	t.Helper()
	src := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(src, []byte("payload of "+name), 0644); err != nil {
		t.Fatal(err)
	}
	res, err := deb.Builder{Time: time.Unix(1700000000, 0)}.Build(deb.BuildSpec{
		Package:     name,
		Version:     version,
		Arch:        arch,
		Maintainer:  "Test <test@example.com>",
		Description: "test package " + name,
		Files:       []deb.File{{Src: src, Dst: "/usr/share/" + name}},
	}, dir)
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	return res.Path
}

// Helper to generate a temporary GPG key
func generateTestKey(t *testing.T) (string, openpgp.EntityList) {
	entity, err := openpgp.NewEntity("Test", "test", "test@example.com", nil)
	if err != nil {
		t.Fatalf("failed to generate key: %v", err)
	}

	var buf bytes.Buffer
	w, err := armor.Encode(&buf, openpgp.PrivateKeyType, nil)
	if err != nil {
		t.Fatalf("armor encode failed: %v", err)
	}
	if err := entity.SerializePrivate(w, nil); err != nil {
		t.Fatalf("serialize failed: %v", err)
	}
	w.Close()
	return buf.String(), openpgp.EntityList{entity}
}

func TestReadPackage(t *testing.T) {
	path := buildDeb(t, t.TempDir(), "foo", "1.2.3", "amd64")
	p, err := ReadPackage(path)
	if err != nil {
		t.Fatalf("ReadPackage failed: %v", err)
	}
	content, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if p.Name != "foo" || p.Version != "1.2.3" || p.Architecture != "amd64" {
		t.Errorf("unexpected identity %s %s %s", p.Name, p.Version, p.Architecture)
	}
	if p.Size != int64(len(content)) {
		t.Errorf("expected size %d, got %d", len(content), p.Size)
	}
	if want := fmt.Sprintf("%x", sha256.Sum256(content)); p.SHA256 != want {
		t.Errorf("expected sha256 %s, got %s", want, p.SHA256)
	}
	if p.Filename != "foo-v1.2.3_amd64.deb" {
		t.Errorf("unexpected filename %s", p.Filename)
	}
	if !strings.HasPrefix(p.Control, "Package: foo\n") {
		t.Errorf("unexpected control:\n%s", p.Control)
	}
}

func TestReadPackageNotADeb(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bogus.deb")
	if err := os.WriteFile(path, []byte("not an archive"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := ReadPackage(path); err == nil {
		t.Fatal("expected an error for a non-ar file")
	}
}

func TestPackageIndex_Add(t *testing.T) {
	idx := NewPackageIndex()
	p := &Package{Name: "foo", Version: "1.0", Architecture: "amd64", Filename: "a.deb"}
	if err := idx.Add(p); err != nil {
		t.Fatalf("Add failed: %v", err)
	}
	dup := &Package{Name: "foo", Version: "1.0", Architecture: "amd64", Filename: "b.deb"}
	if err := idx.Add(dup); err == nil {
		t.Error("expected error when adding duplicate package")
	}
}

func TestPackagesOrder(t *testing.T) {
	idx := NewPackageIndex()
	for _, p := range []*Package{
		{Name: "foo", Version: "1.10", Architecture: "amd64"},
		{Name: "bar", Version: "2.0", Architecture: "all"},
		{Name: "foo", Version: "1.9", Architecture: "arm64"},
		{Name: "foo", Version: "1.9", Architecture: "amd64"},
		{Name: "foo", Version: "1.10~rc1", Architecture: "amd64"},
	} {
		if err := idx.Add(p); err != nil {
			t.Fatal(err)
		}
	}
	var got []string
	for _, p := range idx.Packages() {
		got = append(got, p.Name+"_"+p.Version+"_"+p.Architecture)
	}
	want := []string{
		"bar_2.0_all",
		"foo_1.9_amd64",
		"foo_1.9_arm64",
		"foo_1.10~rc1_amd64",
		"foo_1.10_amd64",
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("order mismatch (-want +got):\n%s", diff)
	}
}

func TestIndex(t *testing.T) {
	dir := t.TempDir()
	buildDeb(t, dir, "foo", "1.0", "amd64")
	buildDeb(t, dir, "bar", "0.1", "all")

	key, keyring := generateTestKey(t)
	info := ArchiveInfo{
		Origin:     "Test",
		Label:      "Test Repo",
		Suite:      "stable",
		Codename:   "test",
		Components: "main",
		Date:       time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC),
	}
	idx, err := Index(dir, info, key)
	if err != nil {
		t.Fatalf("Index failed: %v", err)
	}

	// Packages must decode as control paragraphs that reference every file.
	r, err := control.NewParagraphReader(bytes.NewReader(idx.PackagesContent), nil)
	if err != nil {
		t.Fatalf("NewParagraphReader failed: %v", err)
	}
	paras, err := r.All()
	if err != nil {
		t.Fatalf("reading paragraphs failed: %v", err)
	}
	var files []string
	for _, p := range paras {
		files = append(files, p.Values["Filename"])
		if p.Values["SHA256"] == "" || p.Values["MD5sum"] == "" || p.Values["Size"] == "" {
			t.Errorf("paragraph for %s lacks checksums", p.Values["Package"])
		}
	}
	if diff := cmp.Diff([]string{"bar-v0.1_all.deb", "foo-v1.0_amd64.deb"}, files); diff != "" {
		t.Errorf("filenames mismatch (-want +got):\n%s", diff)
	}

	// Compressed indices decode to the plain one.
	gzr, err := gzip.NewReader(bytes.NewReader(idx.PackagesGzContent))
	if err != nil {
		t.Fatalf("gzip reader failed: %v", err)
	}
	gz, err := io.ReadAll(gzr)
	if err != nil {
		t.Fatal(err)
	}
	xzr, err := xz.NewReader(bytes.NewReader(idx.PackagesXzContent))
	if err != nil {
		t.Fatalf("xz reader failed: %v", err)
	}
	xzContent, err := io.ReadAll(xzr)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(gz, idx.PackagesContent) || !bytes.Equal(xzContent, idx.PackagesContent) {
		t.Error("compressed indices differ from Packages")
	}

	release := string(idx.ReleaseContent)
	for _, want := range []string{
		"Origin: Test\n",
		"Codename: test\n",
		"Date: Tue, 02 Jan 2024 03:04:05 +0000\n",
		"Architectures: all amd64\n",
		fmt.Sprintf(" %x %d Packages\n", sha256.Sum256(idx.PackagesContent), len(idx.PackagesContent)),
		"MD5Sum:\n",
		"SHA256:\n",
	} {
		if !strings.Contains(release, want) {
			t.Errorf("Release missing %q:\n%s", want, release)
		}
	}

	block, _ := clearsign.Decode(idx.InReleaseContent)
	if block == nil {
		t.Fatal("InRelease is not a clearsigned message")
	}
	if _, err := openpgp.CheckDetachedSignature(keyring, bytes.NewReader(block.Bytes), block.ArmoredSignature.Body, nil); err != nil {
		t.Errorf("InRelease signature does not verify: %v", err)
	}
	if !strings.Contains(string(idx.PublicKeyContentArmored), "-----BEGIN PGP PUBLIC KEY BLOCK-----") {
		t.Error("public.asc does not look like an armored public key")
	}
	if len(idx.PublicKeyContent) == 0 {
		t.Error("public.gpg is empty")
	}
}

func TestIndexDuplicate(t *testing.T) {
	dir := t.TempDir()
	path := buildDeb(t, dir, "foo", "1.0", "amd64")
	content, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "copy.deb"), content, 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := Index(dir, ArchiveInfo{}, ""); err == nil {
		t.Fatal("expected an error for two files with the same package identity")
	}
}

func TestPackageIndex_SaveTo(t *testing.T) {
	dir := t.TempDir()
	buildDeb(t, dir, "foo", "1.0", "all")
	idx, err := Index(dir, ArchiveInfo{Origin: "o"}, "")
	if err != nil {
		t.Fatalf("Index failed: %v", err)
	}
	if err := idx.SaveTo(dir); err != nil {
		t.Fatalf("SaveTo failed: %v", err)
	}
	for _, name := range idx.Files() {
		if _, err := os.Stat(filepath.Join(dir, name)); err != nil {
			t.Errorf("%s not written: %v", name, err)
		}
	}
	if _, err := os.Stat(filepath.Join(dir, "InRelease")); !os.IsNotExist(err) {
		t.Errorf("InRelease written without a key")
	}

	if err := NewPackageIndex().SaveTo(dir); err == nil {
		t.Error("expected an error when saving an index that was not computed")
	}
}

func TestGenerateStanzaString(t *testing.T) {
	p := &Package{
		Control:  "Package: foo\nVersion: 1.0",
		Filename: "foo.deb",
		Size:     12,
		MD5:      "m",
		SHA256:   "s",
	}
	want := "Package: foo\nVersion: 1.0\nFilename: foo.deb\nSize: 12\nMD5sum: m\nSHA256: s\n\n"
	if got := generateStanzaString(p); got != want {
		t.Errorf("expected:\n%q\ngot:\n%q", want, got)
	}
}
