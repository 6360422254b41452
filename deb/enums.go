package deb

import (
	"fmt"
	"strings"
)

// Priority represents the importance of a package.
// The zero value means "not set" and is written as the default, PriorityOptional.
//
// Reference: https://www.debian.org/doc/debian-policy/ch-archive.html#priorities
type Priority uint8

const (
	PriorityRequired Priority = iota + 1
	PriorityImportant
	PriorityStandard
	PriorityOptional
	// PriorityExtra is deprecated in favour of PriorityOptional.
	PriorityExtra
)

// DefaultPriority is written for a BuildSpec whose Priority is not set.
const DefaultPriority = PriorityOptional

var priorityNames = [...]string{
	PriorityRequired:  "required",
	PriorityImportant: "important",
	PriorityStandard:  "standard",
	PriorityOptional:  "optional",
	PriorityExtra:     "extra",
}

// ParsePriority maps a lowercase priority name to its Priority.
func ParsePriority(s string) (Priority, error) {
	for p, name := range priorityNames {
		if name != "" && name == strings.ToLower(strings.TrimSpace(s)) {
			return Priority(p), nil
		}
	}
	return 0, fmt.Errorf("%w %q", ErrInvalidPriority, s)
}

// PriorityFromOrdinal maps an ordinal (1 for required through 5 for extra) to its Priority.
func PriorityFromOrdinal(n int) (Priority, error) {
	if n < int(PriorityRequired) || n > int(PriorityExtra) {
		return 0, fmt.Errorf("%w: ordinal %d", ErrInvalidPriority, n)
	}
	return Priority(n), nil
}

// Valid reports whether p is one of the declared priorities.
func (p Priority) Valid() bool {
	return p >= PriorityRequired && p <= PriorityExtra
}

func (p Priority) String() string {
	if p == 0 {
		return DefaultPriority.String()
	}
	if !p.Valid() {
		return fmt.Sprintf("priority(%d)", uint8(p))
	}
	return priorityNames[p]
}

// MarshalText implements encoding.TextMarshaler.
func (p Priority) MarshalText() ([]byte, error) {
	if p != 0 && !p.Valid() {
		return nil, fmt.Errorf("%w: ordinal %d", ErrInvalidPriority, p)
	}
	return []byte(p.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (p *Priority) UnmarshalText(b []byte) error {
	v, err := ParsePriority(string(b))
	if err != nil {
		return err
	}
	*p = v
	return nil
}

// Urgency describes how important it is to upgrade to this version.
// The zero value means the field is absent.
//
// Reference: https://www.debian.org/doc/debian-policy/ch-controlfields.html#urgency
type Urgency uint8

const (
	UrgencyLow Urgency = iota + 1
	UrgencyMedium
	UrgencyHigh
	UrgencyEmergency
	UrgencyCritical
)

var urgencyNames = [...]string{
	UrgencyLow:       "low",
	UrgencyMedium:    "medium",
	UrgencyHigh:      "high",
	UrgencyEmergency: "emergency",
	UrgencyCritical:  "critical",
}

// ParseUrgency maps a lowercase urgency name to its Urgency.
func ParseUrgency(s string) (Urgency, error) {
	for u, name := range urgencyNames {
		if name != "" && name == strings.ToLower(strings.TrimSpace(s)) {
			return Urgency(u), nil
		}
	}
	return 0, fmt.Errorf("%w %q", ErrInvalidUrgency, s)
}

// UrgencyFromOrdinal maps an ordinal (1 for low through 5 for critical) to its Urgency.
func UrgencyFromOrdinal(n int) (Urgency, error) {
	if n < int(UrgencyLow) || n > int(UrgencyCritical) {
		return 0, fmt.Errorf("%w: ordinal %d", ErrInvalidUrgency, n)
	}
	return Urgency(n), nil
}

// Valid reports whether u is one of the declared urgencies.
func (u Urgency) Valid() bool {
	return u >= UrgencyLow && u <= UrgencyCritical
}

func (u Urgency) String() string {
	if !u.Valid() {
		return fmt.Sprintf("urgency(%d)", uint8(u))
	}
	return urgencyNames[u]
}

// MarshalText implements encoding.TextMarshaler.
func (u Urgency) MarshalText() ([]byte, error) {
	if !u.Valid() {
		return nil, fmt.Errorf("%w: ordinal %d", ErrInvalidUrgency, u)
	}
	return []byte(u.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (u *Urgency) UnmarshalText(b []byte) error {
	v, err := ParseUrgency(string(b))
	if err != nil {
		return err
	}
	*u = v
	return nil
}

// Arch is a Debian architecture name split into its vendor, os and cpu parts,
// e.g. "amd64", "linux-amd64" or "musl-linux-powerpc".
type Arch struct {
	Vendor string
	OS     string
	CPU    string
}

// ParseArch splits an architecture name on '-'. Names with more than three parts
// or empty parts are rejected.
func ParseArch(s string) (Arch, error) {
	parts := strings.Split(s, "-")
	for _, p := range parts {
		if p == "" {
			return Arch{}, fmt.Errorf("%w %q", ErrInvalidArch, s)
		}
	}
	switch len(parts) {
	case 1:
		return Arch{CPU: parts[0]}, nil
	case 2:
		return Arch{OS: parts[0], CPU: parts[1]}, nil
	case 3:
		return Arch{Vendor: parts[0], OS: parts[1], CPU: parts[2]}, nil
	}
	return Arch{}, fmt.Errorf("%w %q", ErrInvalidArch, s)
}

// Independent reports whether a is one of the special names all, any or source.
func (a Arch) Independent() bool {
	if a.Vendor != "" || a.OS != "" {
		return false
	}
	switch a.CPU {
	case "all", "any", "source":
		return true
	}
	return false
}

func (a Arch) String() string {
	switch {
	case a.Vendor != "":
		return a.Vendor + "-" + a.OS + "-" + a.CPU
	case a.OS != "":
		return a.OS + "-" + a.CPU
	}
	return a.CPU
}
