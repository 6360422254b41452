// Package manifest loads pax project files and builds the packages they declare.
package manifest

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/etnz/pax/apt"
	"github.com/etnz/pax/deb"
	"github.com/tidwall/jsonc"
	"go.yaml.in/yaml/v3"
)

const (
	// DefaultDist is the output directory used when a project does not set one.
	DefaultDist = "dist"
	// DefaultCache holds build counters and unpacked packages.
	DefaultCache = ".pax"
)

// Project is the content of a project file.
type Project struct {
	// FilesBase is the destination directory of file entries that only name a source.
	FilesBase string `json:"files_base" yaml:"files_base"`
	// Dist is the output directory, relative to the project file.
	Dist string `json:"dist" yaml:"dist"`
	// Cache is the working directory of the project, relative to the project file.
	Cache string `json:"cache" yaml:"cache"`
	// BuildNo applies to every package that does not set its own.
	BuildNo uint32 `json:"buildno" yaml:"buildno"`
	// Defines is a map of global variables available to templates.
	Defines  map[string]string `json:"defines" yaml:"defines"`
	Defaults Defaults          `json:"defaults" yaml:"defaults"`
	// Index, when set, writes APT repository metadata into Dist after the build.
	Index    *Index    `json:"index" yaml:"index"`
	Packages []Package `json:"packages" yaml:"packages"`

	// GPGKey is the armored private key used to sign the index. It never
	// comes from the project file.
	GPGKey string `json:"-" yaml:"-"`

	filePath string
}

// Defaults are merged into every package that leaves the field empty.
type Defaults struct {
	Author string `json:"author" yaml:"author"`
	Email  string `json:"email" yaml:"email"`
}

// Index describes the repository written by Project.Build.
type Index struct {
	Origin        string `json:"origin" yaml:"origin"`
	Label         string `json:"label" yaml:"label"`
	Suite         string `json:"suite" yaml:"suite"`
	Codename      string `json:"codename" yaml:"codename"`
	Architectures string `json:"architectures" yaml:"architectures"`
	Components    string `json:"components" yaml:"components"`
	Description   string `json:"description" yaml:"description"`
}

// Load reads and parses a project file. YAML, JSON and JSON with comments are
// accepted based on the file extension. Unknown fields are an error.
func Load(path string) (*Project, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read project file: %w", err)
	}
	var p Project
	if err := unmarshal(path, content, &p); err != nil {
		return nil, fmt.Errorf("failed to parse project file %s: %w", path, err)
	}
	p.filePath = path
	return &p, nil
}

// unmarshal decodes data into v based on the file extension of path.
func unmarshal(path string, data []byte, v any) error {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		return dec.Decode(v)
	case ".jsonc":
		data = jsonc.ToJSON(data)
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

// resolve returns path relative to the project file's directory, unless it is absolute.
func (p *Project) resolve(path string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(filepath.Dir(p.filePath), path)
}

// DistDir returns the resolved output directory.
func (p *Project) DistDir() string {
	if p.Dist == "" {
		return p.resolve(DefaultDist)
	}
	return p.resolve(p.Dist)
}

// CacheDir returns the resolved cache directory.
func (p *Project) CacheDir() string {
	if p.Cache == "" {
		return p.resolve(DefaultCache)
	}
	return p.resolve(p.Cache)
}

// packageCache is the cache directory of one package.
func (p *Project) packageCache(name string) string {
	return filepath.Join(p.CacheDir(), name)
}

// Specs renders every package of the project into a build spec, with defaults
// merged in and file destinations and sources resolved. The payload of every
// merged package is unpacked into the cache and added at "/".
func (p *Project) Specs() ([]deb.BuildSpec, error) {
	engine := newTemplateEngine(p.Defines)
	r := &renderer{e: engine}
	filesBase := r.str("files_base", p.FilesBase)
	defaults := deb.BuildSpec{
		Author: r.str("defaults.author", p.Defaults.Author),
		Email:  r.str("defaults.email", p.Defaults.Email),
	}
	if r.err != nil {
		return nil, r.err
	}

	specs := make([]deb.BuildSpec, 0, len(p.Packages))
	for i := range p.Packages {
		pkg := &p.Packages[i]
		local := engine.sub(pkg.Defines)
		prefix := fmt.Sprintf("packages[%d].", i)
		spec, err := pkg.spec(local, prefix, p.resolve)
		if err != nil {
			return nil, err
		}
		cache := p.packageCache(spec.Package)
		switch {
		case pkg.autoBuildNo():
			if spec.BuildNo, err = readBuildNo(cache); err != nil {
				return nil, fmt.Errorf("package %s: %w", spec.Package, err)
			}
		case spec.BuildNo == 0:
			spec.BuildNo = p.BuildNo
		}
		spec.MergeIn(defaults)
		spec.PreProcess(filesBase)
		for j := range spec.Files {
			spec.Files[j].Src = p.resolve(spec.Files[j].Src)
		}

		r := &renderer{e: local, prefix: prefix}
		merges := r.list("merge_debs", pkg.MergeDebs)
		if r.err != nil {
			return nil, r.err
		}
		for _, src := range merges {
			dir, err := unpack(p.resolve(src), filepath.Join(cache, "debs"))
			if err != nil {
				return nil, fmt.Errorf("package %s: %w", spec.Package, err)
			}
			spec.Files = append(spec.Files, deb.File{Src: dir, Dst: "/"})
		}
		specs = append(specs, spec)
	}
	return specs, nil
}

// Build builds every package into the dist directory, then writes the
// repository index when the project declares one.
func (p *Project) Build(b deb.Builder, l Listener) ([]*deb.Result, error) {
	if l == nil {
		l = func(fmt.Stringer) {}
	}
	specs, err := p.Specs()
	if err != nil {
		return nil, err
	}
	l(EventProjectLoaded{Path: p.filePath, Packages: len(specs)})

	dist := p.DistDir()
	if err := os.MkdirAll(dist, 0755); err != nil {
		return nil, fmt.Errorf("failed to create %s: %w", dist, err)
	}

	var results []*deb.Result
	for i, spec := range specs {
		res, err := b.Build(spec, dist)
		if err != nil {
			return results, fmt.Errorf("package %s: %w", spec.Package, err)
		}
		results = append(results, res)
		if p.Packages[i].autoBuildNo() {
			if err := writeBuildNo(p.packageCache(spec.Package), spec.BuildNo+1); err != nil {
				return results, fmt.Errorf("package %s: saving build number: %w", spec.Package, err)
			}
		}
		l(EventPackageBuilt{
			Package:       spec.Package,
			Version:       spec.FullVersion(),
			Architecture:  res.Arch,
			Path:          res.Path,
			Size:          res.Size,
			InstalledSize: res.InstalledSize,
		})
	}

	if p.Index == nil {
		return results, nil
	}
	idx, err := apt.Index(dist, p.Index.archiveInfo(), p.GPGKey)
	if err != nil {
		return results, fmt.Errorf("failed to index %s: %w", dist, err)
	}
	if err := idx.SaveTo(dist); err != nil {
		return results, err
	}
	l(EventIndexWritten{
		Dir:      dist,
		Packages: len(idx.Packages()),
		Files:    idx.Files(),
		Signed:   p.GPGKey != "",
	})
	return results, nil
}

func (i *Index) archiveInfo() apt.ArchiveInfo {
	return apt.ArchiveInfo{
		Origin:        i.Origin,
		Label:         i.Label,
		Suite:         i.Suite,
		Codename:      i.Codename,
		Architectures: i.Architectures,
		Components:    i.Components,
		Description:   i.Description,
	}
}

// ResetBuildNo sets the build counter of every package using one back to 0.
func (p *Project) ResetBuildNo() error {
	engine := newTemplateEngine(p.Defines)
	for i := range p.Packages {
		pkg := &p.Packages[i]
		if !pkg.AutoBuildNo {
			continue
		}
		name, err := engine.sub(pkg.Defines).render(fmt.Sprintf("packages[%d].package", i), pkg.Package)
		if err != nil {
			return err
		}
		if err := writeBuildNo(p.packageCache(name), 0); err != nil {
			return err
		}
	}
	return nil
}

// unpack extracts the payload of the package at src into a fresh directory
// below base, named after the file, and returns that directory.
func unpack(src, base string) (string, error) {
	dir := filepath.Join(base, strings.TrimSuffix(filepath.Base(src), ".deb"))
	if err := os.RemoveAll(dir); err != nil {
		return "", err
	}
	f, err := os.Open(src)
	if err != nil {
		return "", fmt.Errorf("failed to open package to merge: %w", err)
	}
	defer f.Close()
	if err := deb.Extract(f, dir); err != nil {
		return "", fmt.Errorf("unpacking %s: %w", src, err)
	}
	return dir, nil
}
