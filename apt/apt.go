// Package apt turns a directory of .deb files into a flat APT repository.
//
// Reference: https://wiki.debian.org/DebianRepository/Format#Flat_Repository_Format
package apt

import (
	"bytes"
	"cmp"
	"crypto/md5"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/ProtonMail/go-crypto/openpgp"
	"github.com/ProtonMail/go-crypto/openpgp/armor"
	"github.com/ProtonMail/go-crypto/openpgp/clearsign"
	"github.com/etnz/pax/deb"
	"github.com/klauspost/compress/gzip"
	"github.com/ulikunitz/xz"
)

// ArchiveInfo holds metadata about the repository itself.
// These fields are written to the 'Release' file and help APT clients identify
// the repository (e.g., for pinning or trust).
type ArchiveInfo struct {
	Origin   string
	Label    string
	Suite    string
	Codename string
	// Architectures is a space separated list. When empty it is derived from
	// the indexed packages.
	Architectures string
	Components    string
	Description   string
	// Date is written to the Release file. Zero means time.Now().
	Date time.Time
}

// Package is the metadata of one .deb file in the index.
type Package struct {
	Name         string
	Version      string
	Architecture string
	// Control is the raw text block from the package's control file.
	Control string

	// Filename is the path of the .deb file relative to the repository root.
	Filename string
	Size     int64
	MD5      string
	SHA256   string
}

// ReadPackage reads the control data and checksums of the .deb file at path.
func ReadPackage(path string) (*Package, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	md5h, sha := md5.New(), sha256.New()
	size, err := io.Copy(io.MultiWriter(md5h, sha), f)
	if err != nil {
		return nil, fmt.Errorf("hashing %s: %w", path, err)
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return nil, err
	}
	info, err := deb.Inspect(f)
	if err != nil {
		return nil, fmt.Errorf("inspecting %s: %w", path, err)
	}
	spec, err := info.Spec()
	if err != nil {
		return nil, fmt.Errorf("parsing control of %s: %w", path, err)
	}
	if spec.Package == "" || spec.Version == "" {
		return nil, fmt.Errorf("%s: control file has no Package or Version", path)
	}
	arch := spec.Arch
	if arch == "" {
		arch = deb.DefaultArch
	}

	return &Package{
		Name:         spec.Package,
		Version:      spec.Version,
		Architecture: arch,
		Control:      info.Control,
		Filename:     filepath.Base(path),
		Size:         size,
		MD5:          hex.EncodeToString(md5h.Sum(nil)),
		SHA256:       hex.EncodeToString(sha.Sum(nil)),
	}, nil
}

// PackageIndex is an in-memory database of packages.
// It serves as the staging area for generating the 'Packages' file.
// It enforces uniqueness based on "Name|Version|Architecture".
type PackageIndex struct {
	packages map[string]*Package // Key: Name|Version|Architecture

	PackagesContent         []byte
	PackagesGzContent       []byte
	PackagesXzContent       []byte
	ReleaseContent          []byte
	InReleaseContent        []byte
	PublicKeyContent        []byte
	PublicKeyContentArmored []byte
}

func NewPackageIndex() *PackageIndex {
	return &PackageIndex{packages: make(map[string]*Package)}
}

// Add inserts a package into the index.
// It returns an error if a package with the same Name, Version, and Architecture already exists.
func (idx *PackageIndex) Add(p *Package) error {
	id := fmt.Sprintf("%s|%s|%s", p.Name, p.Version, p.Architecture)
	if existing, exists := idx.packages[id]; exists {
		return fmt.Errorf("duplicate package %s: %s and %s", id, existing.Filename, p.Filename)
	}
	idx.packages[id] = p
	return nil
}

// Packages returns the indexed packages ordered by name, then by dpkg version
// order, then by architecture.
func (idx *PackageIndex) Packages() []*Package {
	pkgs := make([]*Package, 0, len(idx.packages))
	for _, p := range idx.packages {
		pkgs = append(pkgs, p)
	}
	slices.SortFunc(pkgs, func(a, b *Package) int {
		return cmp.Or(
			strings.Compare(a.Name, b.Name),
			compareVersions(a.Version, b.Version),
			strings.Compare(a.Architecture, b.Architecture),
		)
	})
	return pkgs
}

// compareVersions orders with dpkg's algorithm, falling back to plain string
// order for versions it cannot parse.
func compareVersions(a, b string) int {
	if c, err := deb.CompareDpkg(a, b); err == nil {
		return c
	}
	return strings.Compare(a, b)
}

// Index reads every .deb file directly in dir and computes the repository
// metadata for them. A non-empty gpgKey (ASCII armored private key) also
// produces InRelease and the public keys.
func Index(dir string, info ArchiveInfo, gpgKey string) (*PackageIndex, error) {
	paths, err := filepath.Glob(filepath.Join(dir, "*.deb"))
	if err != nil {
		return nil, err
	}
	slices.Sort(paths)

	idx := NewPackageIndex()
	for _, path := range paths {
		p, err := ReadPackage(path)
		if err != nil {
			return nil, err
		}
		if err := idx.Add(p); err != nil {
			return nil, err
		}
	}
	if err := idx.ComputeIndices(info, gpgKey); err != nil {
		return nil, fmt.Errorf("failed to compute indices: %w", err)
	}
	return idx, nil
}

func generateStanzaString(p *Package) string {
	var b strings.Builder
	b.WriteString(p.Control)
	if !strings.HasSuffix(p.Control, "\n") {
		b.WriteString("\n")
	}
	fmt.Fprintf(&b, "Filename: %s\nSize: %d\nMD5sum: %s\nSHA256: %s\n\n", p.Filename, p.Size, p.MD5, p.SHA256)
	return b.String()
}

// ComputeIndices generates the standard APT repository metadata files in memory.
// 1. Packages: The text index of all packages.
// 2. Packages.gz and Packages.xz: Compressed indices.
// 3. Release: Metadata about the repository and hashes of the indices.
// 4. InRelease: GPG-signed version of the Release file.
func (idx *PackageIndex) ComputeIndices(i ArchiveInfo, gpgKey string) error {
	pkgs := idx.Packages()

	// 1. Generate Packages
	var pkgBuf bytes.Buffer
	for _, p := range pkgs {
		pkgBuf.WriteString(generateStanzaString(p))
	}
	idx.PackagesContent = pkgBuf.Bytes()

	// 2. Generate Packages.gz and Packages.xz
	var err error
	if idx.PackagesGzContent, err = gzipBytes(idx.PackagesContent); err != nil {
		return fmt.Errorf("compressing Packages.gz: %w", err)
	}
	if idx.PackagesXzContent, err = xzBytes(idx.PackagesContent); err != nil {
		return fmt.Errorf("compressing Packages.xz: %w", err)
	}

	// 3. Generate Release
	if i.Architectures == "" {
		var archs []string
		for _, p := range pkgs {
			archs = append(archs, p.Architecture)
		}
		slices.Sort(archs)
		i.Architectures = strings.Join(slices.Compact(archs), " ")
	}
	date := i.Date
	if date.IsZero() {
		date = time.Now()
	}
	idx.ReleaseContent = generateReleaseFile(i, date, []indexFile{
		{"Packages", idx.PackagesContent},
		{"Packages.gz", idx.PackagesGzContent},
		{"Packages.xz", idx.PackagesXzContent},
	})

	// 4. Sign (InRelease)
	if gpgKey != "" {
		signed, err := signBytes(idx.ReleaseContent, gpgKey)
		if err != nil {
			return fmt.Errorf("signing failed: %w", err)
		}
		idx.InReleaseContent = signed
		pubKey, err := extractPublicKey(gpgKey, false)
		if err != nil {
			return fmt.Errorf("failed to extract public key: %w", err)
		}
		idx.PublicKeyContent = pubKey

		pubKeyArmored, err := extractPublicKey(gpgKey, true)
		if err != nil {
			return fmt.Errorf("failed to extract armored public key: %w", err)
		}
		idx.PublicKeyContentArmored = pubKeyArmored
	}
	return nil
}

type indexFile struct {
	name    string
	content []byte
}

func generateReleaseFile(i ArchiveInfo, date time.Time, files []indexFile) []byte {
	var b bytes.Buffer
	writeField := func(key, value string) {
		if value != "" {
			fmt.Fprintf(&b, "%s: %s\n", key, value)
		}
	}
	writeField("Origin", i.Origin)
	writeField("Label", i.Label)
	writeField("Suite", i.Suite)
	writeField("Codename", i.Codename)
	writeField("Date", date.UTC().Format(time.RFC1123Z))
	writeField("Architectures", i.Architectures)
	writeField("Components", i.Components)
	writeField("Description", i.Description)

	b.WriteString("MD5Sum:\n")
	for _, f := range files {
		fmt.Fprintf(&b, " %x %d %s\n", md5.Sum(f.content), len(f.content), f.name)
	}
	b.WriteString("SHA256:\n")
	for _, f := range files {
		fmt.Fprintf(&b, " %x %d %s\n", sha256.Sum256(f.content), len(f.content), f.name)
	}
	return b.Bytes()
}

// SaveTo writes the generated index files (Packages, Release, etc.) to a local directory.
func (idx *PackageIndex) SaveTo(outputDir string) error {
	if len(idx.ReleaseContent) == 0 {
		return fmt.Errorf("indices not computed")
	}
	files := []indexFile{
		{"Packages", idx.PackagesContent},
		{"Packages.gz", idx.PackagesGzContent},
		{"Packages.xz", idx.PackagesXzContent},
		{"Release", idx.ReleaseContent},
		{"InRelease", idx.InReleaseContent},
		{"public.gpg", idx.PublicKeyContent},
		{"public.asc", idx.PublicKeyContentArmored},
	}
	for _, f := range files {
		// Packages may legitimately be empty, the signed files are optional.
		if len(f.content) == 0 && f.name != "Packages" {
			continue
		}
		if err := os.WriteFile(filepath.Join(outputDir, f.name), f.content, 0644); err != nil {
			return fmt.Errorf("writing %s: %w", f.name, err)
		}
	}
	return nil
}

// Files returns the names of the files SaveTo writes, in order.
func (idx *PackageIndex) Files() []string {
	names := []string{"Packages", "Packages.gz", "Packages.xz", "Release"}
	if len(idx.InReleaseContent) > 0 {
		names = append(names, "InRelease", "public.gpg", "public.asc")
	}
	return names
}

func gzipBytes(in []byte) ([]byte, error) {
	var buf bytes.Buffer
	gw, err := gzip.NewWriterLevel(&buf, gzip.BestCompression)
	if err != nil {
		return nil, err
	}
	if _, err := gw.Write(in); err != nil {
		return nil, err
	}
	if err := gw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func xzBytes(in []byte) ([]byte, error) {
	var buf bytes.Buffer
	xw, err := xz.NewWriter(&buf)
	if err != nil {
		return nil, err
	}
	if _, err := xw.Write(in); err != nil {
		return nil, err
	}
	if err := xw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// signer returns the first entity of the armored key that holds a private key.
func signer(key string) (*openpgp.Entity, error) {
	entities, err := openpgp.ReadArmoredKeyRing(strings.NewReader(key))
	if err != nil {
		return nil, err
	}
	i := slices.IndexFunc(entities, func(e *openpgp.Entity) bool { return e.PrivateKey != nil })
	if i < 0 {
		return nil, fmt.Errorf("no private key found")
	}
	return entities[i], nil
}

func signBytes(input []byte, key string) ([]byte, error) {
	s, err := signer(key)
	if err != nil {
		return nil, err
	}

	var out bytes.Buffer
	w, err := clearsign.Encode(&out, s.PrivateKey, nil)
	if err != nil {
		return nil, err
	}
	if _, err := w.Write(input); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return out.Bytes(), nil
}

func extractPublicKey(key string, armored bool) ([]byte, error) {
	s, err := signer(key)
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	if !armored {
		if err := s.Serialize(&buf); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	}
	w, err := armor.Encode(&buf, openpgp.PublicKeyType, nil)
	if err != nil {
		return nil, err
	}
	if err := s.Serialize(w); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
