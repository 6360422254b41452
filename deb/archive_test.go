package deb

import (
	"bytes"
	"errors"
	"io"
	"testing"

	"github.com/blakesmith/ar"
	"github.com/google/go-cmp/cmp"
)

func TestArchive(t *testing.T) {
	var buf bytes.Buffer
	a := NewArchive(&buf, testTime)
	if err := a.Init(); err != nil {
		t.Fatalf("Init failed: %v", err)
	}
	if err := a.Append("control.tar.gz", []byte("ctrl")); err != nil {
		t.Fatalf("Append failed: %v", err)
	}
	// Odd sized members are padded by the ar writer.
	if err := a.Append("data.tar.gz", []byte("data!")); err != nil {
		t.Fatalf("Append failed: %v", err)
	}

	want := []string{"debian-binary", "control.tar.gz", "data.tar.gz"}
	if diff := cmp.Diff(want, a.Members()); diff != "" {
		t.Errorf("members mismatch (-want +got):\n%s", diff)
	}

	arR := ar.NewReader(&buf)
	var got []string
	var bodies []string
	for {
		hdr, err := arR.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatalf("Next failed: %v", err)
		}
		if hdr.Mode != 0644 {
			t.Errorf("member %s has mode %o", hdr.Name, hdr.Mode)
		}
		if !hdr.ModTime.Equal(testTime) {
			t.Errorf("member %s has mtime %v", hdr.Name, hdr.ModTime)
		}
		body, err := io.ReadAll(arR)
		if err != nil {
			t.Fatalf("reading %s: %v", hdr.Name, err)
		}
		got = append(got, hdr.Name)
		bodies = append(bodies, string(body))
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("ar members mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"2.0\n", "ctrl", "data!"}, bodies); diff != "" {
		t.Errorf("ar bodies mismatch (-want +got):\n%s", diff)
	}
}

func TestArchiveAppendBeforeInit(t *testing.T) {
	a := NewArchive(io.Discard, testTime)
	if err := a.Append("control.tar.gz", nil); err == nil {
		t.Fatal("expected an error when appending before Init")
	}
}

func TestArchiveInitTwice(t *testing.T) {
	a := NewArchive(io.Discard, testTime)
	if err := a.Init(); err != nil {
		t.Fatalf("Init failed: %v", err)
	}
	if err := a.Init(); !errors.Is(err, ErrFormat) {
		t.Fatalf("expected ErrFormat, got %v", err)
	}
}

func TestArchiveNameTooLong(t *testing.T) {
	a := NewArchive(io.Discard, testTime)
	if err := a.Init(); err != nil {
		t.Fatalf("Init failed: %v", err)
	}
	err := a.Append("a-very-long-member-name.tar.gz", nil)
	if !errors.Is(err, ErrFormat) {
		t.Fatalf("expected ErrFormat, got %v", err)
	}
	if len(a.Members()) != 1 {
		t.Errorf("rejected member was recorded: %v", a.Members())
	}
}
