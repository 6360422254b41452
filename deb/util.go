package deb

import (
	"bufio"
	"fmt"
	"hash"
	"io"
	"strings"
	"time"

	"github.com/blakesmith/ar"
)

// countingWriter wraps an io.Writer and counts the bytes written.
// It is typically used to calculate the size of a file or archive entry
// as it is being written.
type countingWriter struct {
	w io.Writer
	n int64
}

// Write writes p to the underlying io.Writer and increments the byte count.
func (cw *countingWriter) Write(p []byte) (int, error) {
	n, err := cw.w.Write(p)
	cw.n += int64(n)
	return n, err
}

// hashReader feeds every byte read from r into h.
// The hash observes exactly the bytes handed to the caller, so a reader that is
// copied to completion yields the digest of the whole stream.
type hashReader struct {
	r io.Reader
	h hash.Hash
}

func (hr *hashReader) Read(p []byte) (int, error) {
	n, err := hr.r.Read(p)
	hr.h.Write(p[:n])
	return n, err
}

// addBufferToAr writes a named byte slice as a file entry to the AR archive.
func addBufferToAr(w *ar.Writer, name string, body []byte, modTime time.Time) error {
	if len(name) > arNameMax {
		return fmt.Errorf("%w: ar member name %q is longer than %d bytes", ErrFormat, name, arNameMax)
	}
	header := &ar.Header{
		Name:    name,
		Size:    int64(len(body)),
		Mode:    fileMode,
		ModTime: modTime,
	}
	if err := w.WriteHeader(header); err != nil {
		return fmt.Errorf("%w: writing ar header %s: %v", ErrFormat, name, err)
	}
	_, err := w.Write(body)
	return err
}

// ParseControl parses the content of a Debian control file into a BuildSpec.
// It handles folded fields (continuation lines starting with a space or tab).
// Unknown fields and Installed-Size are ignored; an unknown Priority or Urgency
// is an error.
func ParseControl(r io.Reader) (BuildSpec, error) {
	var s BuildSpec
	var currentKey string
	var currentValue strings.Builder

	flush := func() error {
		if currentKey == "" {
			return nil
		}
		val := strings.TrimSpace(currentValue.String())
		switch ControlField(currentKey) {
		case FieldPackage:
			s.Package = val
		case FieldVersion:
			s.Version = val
		case FieldArchitecture:
			s.Arch = val
		case FieldMaintainer:
			s.Maintainer = val
		case FieldDescription:
			s.Description = unfoldDescription(val)
		case FieldSection:
			s.Section = val
		case FieldPriority:
			p, err := ParsePriority(val)
			if err != nil {
				return err
			}
			s.Priority = p
		case FieldUrgency:
			u, err := ParseUrgency(val)
			if err != nil {
				return err
			}
			s.Urgency = u
		case FieldHomepage:
			s.Homepage = val
		case FieldEssential:
			s.Essential = (val == "yes")
		case FieldDepends:
			s.Depends = splitList(val)
		case FieldRecommends:
			s.Recommends = splitList(val)
		case FieldSuggests:
			s.Suggests = splitList(val)
		case FieldInstalledSize:
			// computed at build time
		}
		return nil
	}

	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line := sc.Text()
		if strings.HasPrefix(line, " ") || strings.HasPrefix(line, "\t") {
			currentValue.WriteString("\n" + line)
		} else if key, val, ok := strings.Cut(line, ":"); ok {
			if err := flush(); err != nil {
				return s, err
			}
			currentKey = strings.TrimSpace(key)
			currentValue.Reset()
			currentValue.WriteString(strings.TrimSpace(val))
		}
	}
	if err := sc.Err(); err != nil {
		return s, fmt.Errorf("reading control file: %w", err)
	}
	if err := flush(); err != nil {
		return s, err
	}
	return s, nil
}

// unfoldDescription reverses foldDescription: continuation lines lose their
// leading space and " ." paragraph separators become empty lines.
func unfoldDescription(val string) string {
	lines := strings.Split(val, "\n")
	for i := 1; i < len(lines); i++ {
		l := strings.TrimPrefix(strings.TrimPrefix(lines[i], "\t"), " ")
		if l == "." {
			l = ""
		}
		lines[i] = l
	}
	return strings.Join(lines, "\n")
}

// foldDescription formats a possibly multi-line description for a control file.
// The first line is the synopsis; the following lines are indented by one space
// and empty lines are written as " .".
func foldDescription(desc string) string {
	lines := strings.Split(strings.TrimRight(desc, "\n"), "\n")
	var b strings.Builder
	b.WriteString(lines[0])
	for _, line := range lines[1:] {
		b.WriteString("\n")
		if strings.TrimSpace(line) == "" {
			b.WriteString(" .")
		} else {
			b.WriteString(" " + line)
		}
	}
	return b.String()
}

// splitList splits a comma-separated string into a slice of strings, trimming whitespace from each element.
// It returns nil if the input string is empty.
func splitList(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	var res []string
	for _, p := range parts {
		res = append(res, strings.TrimSpace(p))
	}
	return res
}
