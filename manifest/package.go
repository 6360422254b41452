package manifest

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/etnz/pax/deb"
	"go.yaml.in/yaml/v3"
)

// Package is the definition of one Debian package in a project file.
// Every string field is a template rendered with the project and package defines.
type Package struct {
	Package string `json:"package" yaml:"package"`
	Name    string `json:"name" yaml:"name"`
	Version string `json:"version" yaml:"version"`
	BuildNo uint32 `json:"buildno" yaml:"buildno"`
	// AutoBuildNo takes the build number from a counter kept in the project
	// cache, incremented after every successful build. An explicit BuildNo wins.
	AutoBuildNo bool   `json:"auto_buildno" yaml:"auto_buildno"`
	Description string `json:"description" yaml:"description"`
	Author      string `json:"author" yaml:"author"`
	Email       string `json:"email" yaml:"email"`
	Maintainer  string `json:"maintainer" yaml:"maintainer"`
	Homepage    string `json:"homepage" yaml:"homepage"`
	Arch        string `json:"arch" yaml:"arch"`
	Section     string `json:"section" yaml:"section"`
	Priority    string `json:"priority" yaml:"priority"`
	Urgency     string `json:"urgency" yaml:"urgency"`
	Essential   bool   `json:"essential" yaml:"essential"`

	// Defines is a map of local variables available to templates in this package.
	Defines map[string]string `json:"defines" yaml:"defines"`

	Files        []File      `json:"files" yaml:"files"`
	Dependencies []string    `json:"dependencies" yaml:"dependencies"`
	Recommends   []string    `json:"recommends" yaml:"recommends"`
	Suggests     []string    `json:"suggests" yaml:"suggests"`
	AptSources   []AptSource `json:"apt_sources" yaml:"apt_sources"`
	// MergeDebs are existing .deb files whose payload is installed as is.
	MergeDebs []string `json:"merge_debs" yaml:"merge_debs"`

	// Scripts are inline maintainer scripts.
	Scripts Scripts `json:"scripts" yaml:"scripts"`
	// ScriptFiles name files holding maintainer scripts. They override Scripts.
	ScriptFiles Scripts `json:"script_files" yaml:"script_files"`
}

// Scripts holds one value per maintainer script.
type Scripts struct {
	PreInst  string `json:"preinst" yaml:"preinst"`
	PostInst string `json:"postinst" yaml:"postinst"`
	PreRm    string `json:"prerm" yaml:"prerm"`
	PostRm   string `json:"postrm" yaml:"postrm"`
}

// AptSource is an APT source registered by the package's maintainer scripts.
type AptSource struct {
	Name       string `json:"name" yaml:"name"`
	URL        string `json:"url" yaml:"url"`
	Components string `json:"components" yaml:"components"`
	GPGKeyURL  string `json:"gpg_key_url" yaml:"gpg_key_url"`
}

// File is a payload entry. In a project file it is either a string "src" or
// "src:dst", or a mapping with src, dst, mode and dir keys.
type File struct {
	Src string `json:"src" yaml:"src"`
	Dst string `json:"dst" yaml:"dst"`
	// Mode is an octal string such as "0755".
	Mode string `json:"mode" yaml:"mode"`
	Dir  string `json:"dir" yaml:"dir"`
}

// fileFields breaks the recursion of the custom unmarshalers.
type fileFields File

func (f *File) parseString(s string) {
	src, dst, _ := strings.Cut(s, ":")
	*f = File{Src: src, Dst: dst}
}

// UnmarshalYAML accepts both the string and the mapping forms.
func (f *File) UnmarshalYAML(value *yaml.Node) error {
	switch value.Kind {
	case yaml.ScalarNode:
		f.parseString(value.Value)
		return nil
	case yaml.MappingNode:
		// Node.Decode does not inherit the decoder's strictness.
		for i := 0; i < len(value.Content); i += 2 {
			switch k := value.Content[i]; k.Value {
			case "src", "dst", "mode", "dir":
			default:
				return fmt.Errorf("line %d: field %s not found in type manifest.File", k.Line, k.Value)
			}
		}
		var ff fileFields
		if err := value.Decode(&ff); err != nil {
			return err
		}
		*f = File(ff)
		return nil
	}
	return fmt.Errorf("line %d: a file entry must be a string or a mapping", value.Line)
}

// UnmarshalJSON accepts both the string and the object forms.
func (f *File) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		f.parseString(s)
		return nil
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	var ff fileFields
	if err := dec.Decode(&ff); err != nil {
		return err
	}
	*f = File(ff)
	return nil
}

// spec renders the package into a deb.BuildSpec. Script files are read
// through resolve.
// autoBuildNo reports whether the build number comes from the counter.
func (p *Package) autoBuildNo() bool { return p.AutoBuildNo && p.BuildNo == 0 }

func (p *Package) spec(e *templateEngine, prefix string, resolve func(string) string) (deb.BuildSpec, error) {
	r := &renderer{e: e, prefix: prefix}
	s := deb.BuildSpec{
		Package:     r.str("package", p.Package),
		Name:        r.str("name", p.Name),
		Version:     r.str("version", p.Version),
		BuildNo:     p.BuildNo,
		Description: r.str("description", p.Description),
		Author:      r.str("author", p.Author),
		Email:       r.str("email", p.Email),
		Maintainer:  r.str("maintainer", p.Maintainer),
		Homepage:    r.str("homepage", p.Homepage),
		Arch:        r.str("arch", p.Arch),
		Section:     r.str("section", p.Section),
		Essential:   p.Essential,
		Depends:     r.list("dependencies", p.Dependencies),
		Recommends:  r.list("recommends", p.Recommends),
		Suggests:    r.list("suggests", p.Suggests),
	}
	priority := r.str("priority", p.Priority)
	urgency := r.str("urgency", p.Urgency)

	for i, f := range p.Files {
		field := fmt.Sprintf("files[%d].", i)
		file := deb.File{
			Src: r.str(field+"src", f.Src),
			Dst: r.str(field+"dst", f.Dst),
			Dir: r.str(field+"dir", f.Dir),
		}
		if modeStr := r.str(field+"mode", f.Mode); modeStr != "" {
			mode, err := strconv.ParseInt(modeStr, 8, 64)
			if err != nil {
				return s, fmt.Errorf("%s%smode: invalid mode %q: %w", prefix, field, modeStr, err)
			}
			file.Mode = mode
		}
		s.Files = append(s.Files, file)
	}

	for i, a := range p.AptSources {
		field := fmt.Sprintf("apt_sources[%d].", i)
		s.AptSources = append(s.AptSources, deb.AptSource{
			Name:       r.str(field+"name", a.Name),
			URL:        r.str(field+"url", a.URL),
			Components: r.str(field+"components", a.Components),
			GPGKeyURL:  r.str(field+"gpg_key_url", a.GPGKeyURL),
		})
	}
	if r.err != nil {
		return s, r.err
	}

	var err error
	if priority != "" {
		if s.Priority, err = deb.ParsePriority(priority); err != nil {
			return s, fmt.Errorf("%spriority: %w", prefix, err)
		}
	}
	if urgency != "" {
		if s.Urgency, err = deb.ParseUrgency(urgency); err != nil {
			return s, fmt.Errorf("%surgency: %w", prefix, err)
		}
	}

	scripts, err := p.scripts(r, resolve)
	if err != nil {
		return s, err
	}
	if scripts != (deb.MaintainerScripts{}) {
		s.Scripts = &scripts
	}
	return s, nil
}

// scripts merges inline scripts with script files, files taking precedence.
func (p *Package) scripts(r *renderer, resolve func(string) string) (deb.MaintainerScripts, error) {
	var out deb.MaintainerScripts
	for _, sc := range []struct {
		name   string
		inline string
		file   string
		dst    *string
	}{
		{"preinst", p.Scripts.PreInst, p.ScriptFiles.PreInst, &out.PreInst},
		{"postinst", p.Scripts.PostInst, p.ScriptFiles.PostInst, &out.PostInst},
		{"prerm", p.Scripts.PreRm, p.ScriptFiles.PreRm, &out.PreRm},
		{"postrm", p.Scripts.PostRm, p.ScriptFiles.PostRm, &out.PostRm},
	} {
		text := sc.inline
		if sc.file != "" {
			path := resolve(r.str("script_files."+sc.name, sc.file))
			if r.err != nil {
				return out, r.err
			}
			content, err := os.ReadFile(path)
			if err != nil {
				return out, fmt.Errorf("reading %s script: %w", sc.name, err)
			}
			text = string(content)
		}
		*sc.dst = r.str("scripts."+sc.name, text)
	}
	return out, r.err
}
