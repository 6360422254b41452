package deb

import (
	"archive/tar"
	"bytes"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"github.com/blakesmith/ar"
	"github.com/klauspost/compress/gzip"
	"github.com/ulikunitz/xz"
)

// Member is the header of one ar member of a package.
type Member struct {
	Name    string
	Mode    int64
	ModTime time.Time
	Size    int64
}

// Entry is the header of one data.tar entry.
type Entry struct {
	Name     string
	Type     byte
	Mode     int64
	Size     int64
	Linkname string
}

// Info is what Inspect reads back from a .deb file.
type Info struct {
	Members []Member
	// Control is the raw text of the control file.
	Control string
	// Md5sums is the raw text of the md5sums file.
	Md5sums string
	Scripts MaintainerScripts
	Entries []Entry
}

// Spec parses Control into a BuildSpec.
func (i *Info) Spec() (BuildSpec, error) {
	return ParseControl(strings.NewReader(i.Control))
}

// Inspect reads a .deb stream. It accepts gzip compressed or plain control and
// data members, and does not keep payload contents.
func Inspect(r io.Reader) (*Info, error) {
	info := new(Info)

	arR := ar.NewReader(r)
	for {
		header, err := arR.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: reading ar header: %v", ErrFormat, err)
		}
		name := strings.TrimSuffix(strings.TrimSpace(header.Name), "/")
		info.Members = append(info.Members, Member{
			Name:    name,
			Mode:    header.Mode,
			ModTime: header.ModTime,
			Size:    header.Size,
		})

		switch {
		case strings.HasPrefix(name, "control.tar"):
			if err := eachTarEntry(name, arR, info.readControlEntry); err != nil {
				return nil, err
			}
		case strings.HasPrefix(name, "data.tar"):
			err := eachTarEntry(name, arR, func(th *tar.Header, _ io.Reader) error {
				info.Entries = append(info.Entries, Entry{
					Name:     th.Name,
					Type:     th.Typeflag,
					Mode:     th.Mode,
					Size:     th.Size,
					Linkname: th.Linkname,
				})
				return nil
			})
			if err != nil {
				return nil, err
			}
		}
	}
	if len(info.Members) == 0 {
		return nil, fmt.Errorf("%w: empty ar archive", ErrFormat)
	}
	return info, nil
}

func (i *Info) readControlEntry(th *tar.Header, r io.Reader) error {
	name := path.Base(th.Name)
	var buf bytes.Buffer
	if _, err := io.Copy(&buf, r); err != nil {
		return fmt.Errorf("reading %s: %w", name, err)
	}
	content := buf.String()

	switch ControlFile(name) {
	case FileControl:
		i.Control = content
	case FileMd5sums:
		i.Md5sums = content
	case FilePreinst:
		i.Scripts.PreInst = content
	case FilePostinst:
		i.Scripts.PostInst = content
	case FilePrerm:
		i.Scripts.PreRm = content
	case FilePostrm:
		i.Scripts.PostRm = content
	}
	return nil
}

// eachTarEntry calls fn for every entry of the tar member named member.
func eachTarEntry(member string, r io.Reader, fn func(*tar.Header, io.Reader) error) error {
	var tr *tar.Reader
	switch {
	case strings.HasSuffix(member, ".gz"):
		gzr, err := gzip.NewReader(r)
		if err != nil {
			return fmt.Errorf("%w: opening %s: %v", ErrFormat, member, err)
		}
		defer gzr.Close()
		tr = tar.NewReader(gzr)
	case strings.HasSuffix(member, ".xz"):
		xzr, err := xz.NewReader(r)
		if err != nil {
			return fmt.Errorf("%w: opening %s: %v", ErrFormat, member, err)
		}
		tr = tar.NewReader(xzr)
	case strings.HasSuffix(member, ".tar"):
		tr = tar.NewReader(r)
	default:
		return fmt.Errorf("%w: unsupported compression for %s", ErrFormat, member)
	}

	for {
		th, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("%w: reading %s header: %v", ErrFormat, member, err)
		}
		if err := fn(th, tr); err != nil {
			return err
		}
	}
}
