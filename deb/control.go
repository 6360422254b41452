package deb

import (
	"archive/tar"
	"bytes"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/klauspost/compress/gzip"
)

// controlEntry is one file of the control archive.
type controlEntry struct {
	name ControlFile
	body string
	mode int64
}

// buildControlArchive writes control.tar.gz for s to w.
// hashes and installedBytes come from the payload of the same build.
func buildControlArchive(w io.Writer, s *BuildSpec, hashes []HashRecord, installedBytes uint64, modTime time.Time) error {
	gw := gzip.NewWriter(w)
	tw := tar.NewWriter(gw)

	// Helper to write a file to the tarball
	writeEntry := func(e controlEntry) error {
		header := &tar.Header{
			Typeflag: tar.TypeReg,
			Name:     string(e.name),
			Size:     int64(len(e.body)),
			Mode:     e.mode,
			ModTime:  modTime,
			Format:   tar.FormatGNU,
		}
		if err := tw.WriteHeader(header); err != nil {
			return fmt.Errorf("%w: writing tar header for %s: %v", ErrFormat, e.name, err)
		}
		if _, err := io.WriteString(tw, e.body); err != nil {
			return fmt.Errorf("writing %s: %w", e.name, err)
		}
		return nil
	}

	control, err := s.generateControlFile(installedBytes)
	if err != nil {
		return err
	}
	entries := []controlEntry{
		{FileControl, control, fileMode},
		{FileMd5sums, generateMd5sums(hashes), fileMode},
	}
	entries = append(entries, s.scriptEntries()...)

	for _, e := range entries {
		if err := writeEntry(e); err != nil {
			return err
		}
	}
	if err := tw.Close(); err != nil {
		return fmt.Errorf("closing control tar: %w", err)
	}
	return gw.Close()
}

// generateControlFile renders the control file. The field order is fixed.
func (s *BuildSpec) generateControlFile(installedBytes uint64) (string, error) {
	maintainer, err := s.maintainer()
	if err != nil {
		return "", err
	}

	var b strings.Builder
	writeField := func(field ControlField, value string) {
		if value != "" {
			fmt.Fprintf(&b, "%s: %s\n", field, value)
		}
	}
	writeRel := func(field ControlField, items []string) {
		if len(items) > 0 {
			writeField(field, strings.Join(items, ", "))
		}
	}

	section := s.Section
	if section == "" {
		section = DefaultSection
	}

	writeField(FieldPackage, s.Package)
	writeField(FieldVersion, s.FullVersion())
	writeField(FieldSection, section)
	writeField(FieldPriority, s.Priority.String())
	writeField(FieldArchitecture, s.arch())
	writeField(FieldMaintainer, maintainer)
	if s.Urgency != 0 {
		writeField(FieldUrgency, s.Urgency.String())
	}
	if installedBytes > 0 {
		// Installed-Size is in kilobytes, rounded up
		writeField(FieldInstalledSize, strconv.FormatUint((installedBytes+1023)/1024, 10))
	}
	writeField(FieldHomepage, s.Homepage)
	if s.Essential {
		writeField(FieldEssential, "yes")
	}
	writeRel(FieldDepends, s.Depends)
	if s.Description != "" {
		writeField(FieldDescription, foldDescription(s.Description))
	}
	writeRel(FieldRecommends, s.Recommends)
	writeRel(FieldSuggests, s.Suggests)

	return b.String(), nil
}

// generateMd5sums renders one "<md5>  <path>" line per record, in record order.
func generateMd5sums(hashes []HashRecord) string {
	var b strings.Builder
	for _, h := range hashes {
		fmt.Fprintf(&b, "%s  %s\n", h.Hex(), h.Path)
	}
	return b.String()
}

// scriptEntries returns the maintainer scripts of s, in dpkg's lifecycle order.
// AptSources, when present, replace any explicit scripts.
func (s *BuildSpec) scriptEntries() []controlEntry {
	if len(s.AptSources) > 0 {
		pre, post := aptSourceScripts(s.AptSources)
		return []controlEntry{
			{FilePreinst, pre, scriptMode},
			{FilePostrm, post, scriptMode},
		}
	}
	if s.Scripts == nil {
		return nil
	}
	var entries []controlEntry
	for _, sc := range []struct {
		name ControlFile
		body string
	}{
		{FilePreinst, s.Scripts.PreInst},
		{FilePostinst, s.Scripts.PostInst},
		{FilePrerm, s.Scripts.PreRm},
		{FilePostrm, s.Scripts.PostRm},
	} {
		if body := strings.TrimSpace(sc.body); body != "" {
			entries = append(entries, controlEntry{sc.name, body, scriptMode})
		}
	}
	return entries
}

// aptSourceScripts returns the preinst that registers every source with apt
// and the postrm that removes them again.
func aptSourceScripts(sources []AptSource) (preinst, postrm string) {
	var pre, post bytes.Buffer
	pre.WriteString("#!/bin/sh\nset -eu\nmkdir -p /usr/share/keyrings/\n")
	post.WriteString("#!/bin/sh\nset -eu\n")
	for _, src := range sources {
		keyring := "/usr/share/keyrings/" + src.Name + ".gpg"
		list := "/etc/apt/sources.list.d/" + src.Name + ".list"
		fmt.Fprintf(&pre, "sudo wget -q -O '%s' '%s'\n", keyring, src.GPGKeyURL)
		fmt.Fprintf(&pre, "sudo chmod a+r %s\n", keyring)
		fmt.Fprintf(&pre, "echo \"deb [signed-by=%s arch=$(dpkg --print-architecture)] %s %s\" | sudo tee %s\n",
			keyring, src.URL, src.Components, list)
		fmt.Fprintf(&post, "rm -f %s %s\n", keyring, list)
	}
	return pre.String(), post.String()
}
