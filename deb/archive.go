package deb

import (
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/blakesmith/ar"
)

// Archive writes the outer ar container of a .deb file.
//
// Members are written in call order. dpkg reads them sequentially and requires
// debian-binary, then control.tar.gz, then data.tar.gz, so callers must call
// Init and then Append the control and data archives in that order.
//
// Reference: https://manpages.debian.org/unstable/dpkg-dev/deb.5.en.html#FORMAT
type Archive struct {
	w       *ar.Writer
	modTime time.Time
	members []string
}

// NewArchive returns an Archive writing to w. Every member gets modTime.
func NewArchive(w io.Writer, modTime time.Time) *Archive {
	return &Archive{w: ar.NewWriter(w), modTime: modTime}
}

// Init writes the ar global header and the debian-binary member.
func (a *Archive) Init() error {
	if len(a.members) > 0 {
		return fmt.Errorf("%w: archive already initialized", ErrFormat)
	}
	if err := a.w.WriteGlobalHeader(); err != nil {
		return fmt.Errorf("writing ar global header: %w", err)
	}
	return a.add(string(PkgDebianBinary), []byte(debianBinary))
}

// Append writes a member named name holding data.
func (a *Archive) Append(name string, data []byte) error {
	if len(a.members) == 0 {
		return errors.New("ar archive: Append called before Init")
	}
	return a.add(name, data)
}

// Members returns the names written so far, in order.
func (a *Archive) Members() []string {
	return append([]string(nil), a.members...)
}

func (a *Archive) add(name string, data []byte) error {
	if err := addBufferToAr(a.w, name, data, a.modTime); err != nil {
		return fmt.Errorf("writing %s: %w", name, err)
	}
	a.members = append(a.members, name)
	return nil
}
