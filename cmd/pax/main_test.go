package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestVersionCompare(t *testing.T) {
	tests := []struct {
		args []string
		want string
	}{
		{[]string{"compare", "1.2.3", "1.10.0"}, "1.2.3 < 1.10.0\n"},
		{[]string{"compare", "1:0.1", "2.0"}, "1:0.1 > 2.0\n"},
		{[]string{"compare", "1.0.0", "1.0"}, "1.0.0 = 1.0\n"},
		{[]string{"compare", "--dpkg", "1.0~rc1", "1.0"}, "1.0~rc1 < 1.0\n"},
	}
	for _, tt := range tests {
		t.Run(strings.Join(tt.args, " "), func(t *testing.T) {
			var stdout, stderr bytes.Buffer
			if err := run(append([]string{"version"}, tt.args...), &stdout, &stderr); err != nil {
				t.Fatalf("run failed: %v\n%s", err, stderr.String())
			}
			if got := stdout.String(); got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestVersionParseError(t *testing.T) {
	var stdout, stderr bytes.Buffer
	if err := run([]string{"version", "parse", "1.x"}, &stdout, &stderr); err == nil {
		t.Error("expected an error for an invalid version")
	}
}

func TestUnknownCommand(t *testing.T) {
	var stdout, stderr bytes.Buffer
	if err := run([]string{"frobnicate"}, &stdout, &stderr); err == nil {
		t.Error("expected an error for an unknown command")
	}
	if !strings.Contains(stderr.String(), "Usage: pax") {
		t.Errorf("usage not printed:\n%s", stderr.String())
	}
}

func TestBuildInfoIndex(t *testing.T) {
	t.Setenv("GPG_PRIVATE_KEY", "")
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "hello.txt"), []byte("hello\n"), 0644); err != nil {
		t.Fatal(err)
	}
	project := `
packages:
  - package: hello
    version: "1.0"
    maintainer: "Jane <jane@example.com>"
    description: hello
    files: ["hello.txt:/usr/share/hello/hello.txt"]
`
	config := filepath.Join(dir, "pax.yaml")
	if err := os.WriteFile(config, []byte(project), 0644); err != nil {
		t.Fatal(err)
	}
	dist := filepath.Join(dir, "out")

	var stdout, stderr bytes.Buffer
	err := run([]string{"build", "-c", config, "--dist", dist, "--buildno", "4", "--time", "1700000000"}, &stdout, &stderr)
	if err != nil {
		t.Fatalf("build failed: %v\n%s", err, stderr.String())
	}
	deb := filepath.Join(dist, "hello-v1.0-4_all.deb")
	if got := strings.TrimSpace(stdout.String()); got != deb {
		t.Errorf("build printed %q, want %q", got, deb)
	}

	stdout.Reset()
	if err := run([]string{"info", deb}, &stdout, &stderr); err != nil {
		t.Fatalf("info failed: %v", err)
	}
	for _, want := range []string{"debian-binary", "Package: hello\n", "usr/share/hello/hello.txt"} {
		if !strings.Contains(stdout.String(), want) {
			t.Errorf("info output lacks %q:\n%s", want, stdout.String())
		}
	}

	stdout.Reset()
	if err := run([]string{"index", "--dir", dist, "--origin", "Test", "--log-format", "json"}, &stdout, &stderr); err != nil {
		t.Fatalf("index failed: %v", err)
	}
	want := []string{
		filepath.Join(dist, "Packages"),
		filepath.Join(dist, "Packages.gz"),
		filepath.Join(dist, "Packages.xz"),
		filepath.Join(dist, "Release"),
	}
	if diff := cmp.Diff(want, strings.Fields(stdout.String())); diff != "" {
		t.Errorf("index output mismatch (-want +got):\n%s", diff)
	}
}

func TestLogOptions(t *testing.T) {
	var buf bytes.Buffer
	if _, err := (&logOptions{level: "loud", format: "text"}).logger(&buf); err == nil {
		t.Error("expected an error for an unknown level")
	}
	if _, err := (&logOptions{level: "debug", format: "xml"}).logger(&buf); err == nil {
		t.Error("expected an error for an unknown format")
	}
	logger, err := (&logOptions{level: "warn", format: "json"}).logger(&buf)
	if err != nil {
		t.Fatalf("logger failed: %v", err)
	}
	logger.Info("hidden")
	logger.Warn("shown")
	if got := buf.String(); strings.Contains(got, "hidden") || !strings.Contains(got, `"msg":"shown"`) {
		t.Errorf("unexpected log output %q", got)
	}
}

func TestBuildNoFlagsExclusive(t *testing.T) {
	var stdout, stderr bytes.Buffer
	err := run([]string{"build", "--buildno", "2", "--auto-buildno"}, &stdout, &stderr)
	if err == nil || !strings.Contains(err.Error(), "mutually exclusive") {
		t.Errorf("build error = %v, want a mutually exclusive error", err)
	}
}
