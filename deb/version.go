package deb

import (
	"fmt"
	"strconv"
	"strings"

	debversion "github.com/knqyf263/go-deb-version"
)

// Version is a structural model of a Debian version string:
// [epoch:]upstream_version[revision], where upstream_version is at most three
// dot-separated numbers and revision starts at the first '~', '+' or '-'.
//
// Versions are ordered by (Epoch, Major, Minor, Patch) and then bytewise on
// Revision. This is not dpkg's ordering for revisions with mixed letters and
// digits; use CompareDpkg for that.
//
// Reference: https://www.debian.org/doc/debian-policy/ch-controlfields.html#s-f-version
type Version struct {
	Epoch    uint32
	Major    uint32
	Minor    uint32
	Patch    uint32
	Revision string
}

// ParseVersion parses s into a Version.
//
// A single leading 'v' or 'V' on the upstream part is ignored. Missing minor and
// patch numbers default to 0. The revision is kept verbatim, including its
// leading delimiter.
func ParseVersion(s string) (Version, error) {
	var v Version
	if s == "" {
		return v, ErrEmptyVersion
	}
	rest := s
	if epoch, after, ok := strings.Cut(s, ":"); ok {
		n, err := strconv.ParseUint(epoch, 10, 32)
		if err != nil {
			return v, fmt.Errorf("%w %q: epoch %q is not a number", ErrInvalidVersion, s, epoch)
		}
		v.Epoch = uint32(n)
		rest = after
	}
	if ix := strings.IndexAny(rest, "~+-"); ix >= 0 {
		v.Revision = rest[ix:]
		rest = rest[:ix]
	}
	if len(rest) > 0 && (rest[0] == 'v' || rest[0] == 'V') {
		rest = rest[1:]
	}
	fields := []*uint32{&v.Major, &v.Minor, &v.Patch}
	for i, part := range strings.Split(rest, ".") {
		if i >= len(fields) {
			return Version{}, fmt.Errorf("%w: %q", ErrTooManySections, s)
		}
		n, err := strconv.ParseUint(part, 10, 32)
		if err != nil {
			return Version{}, fmt.Errorf("%w %q: component %q is not a number", ErrInvalidVersion, s, part)
		}
		*fields[i] = uint32(n)
	}
	return v, nil
}

// MustParseVersion is like ParseVersion but panics on error.
// It is intended for constants in tests and package initialisation.
func MustParseVersion(s string) Version {
	v, err := ParseVersion(s)
	if err != nil {
		panic(err)
	}
	return v
}

// String renders "{epoch}:{major}.{minor}.{patch}{revision}".
// The result re-parses to the same numeric fields but is not necessarily the
// string v was parsed from.
func (v Version) String() string {
	return fmt.Sprintf("%d:%d.%d.%d%s", v.Epoch, v.Major, v.Minor, v.Patch, v.Revision)
}

// Compare returns -1, 0 or +1 when v is less than, equal to or greater than o.
func (v Version) Compare(o Version) int {
	for _, n := range [...][2]uint32{
		{v.Epoch, o.Epoch},
		{v.Major, o.Major},
		{v.Minor, o.Minor},
		{v.Patch, o.Patch},
	} {
		switch {
		case n[0] < n[1]:
			return -1
		case n[0] > n[1]:
			return 1
		}
	}
	return strings.Compare(v.Revision, o.Revision)
}

// Less reports whether v sorts before o.
func (v Version) Less(o Version) bool { return v.Compare(o) < 0 }

// Equal reports whether v and o have identical fields.
func (v Version) Equal(o Version) bool { return v.Compare(o) == 0 }

// CompareDpkg compares two raw version strings with dpkg's algorithm
// (as "dpkg --compare-versions" would), returning -1, 0 or +1.
func CompareDpkg(a, b string) (int, error) {
	va, err := debversion.NewVersion(a)
	if err != nil {
		return 0, fmt.Errorf("%w %q: %v", ErrInvalidVersion, a, err)
	}
	vb, err := debversion.NewVersion(b)
	if err != nil {
		return 0, fmt.Errorf("%w %q: %v", ErrInvalidVersion, b, err)
	}
	switch {
	case va.LessThan(vb):
		return -1, nil
	case va.GreaterThan(vb):
		return 1, nil
	}
	return 0, nil
}
