// pax builds Debian binary packages from a declarative project file, inspects
// existing packages, and writes APT repository metadata.
//
// Usage:
//
//	pax build [-c pax.yaml] [--dist DIR] [--buildno N | --auto-buildno] [--reset-buildno] [--time UNIX]
//	pax info FILE.deb
//	pax version parse VERSION...
//	pax version compare A B [--dpkg]
//	pax index [--dir DIR] [--origin ORIGIN] ...
//
// The index is signed when GPG_PRIVATE_KEY holds an armored private key.
package main

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/etnz/pax/apt"
	"github.com/etnz/pax/deb"
	"github.com/etnz/pax/manifest"
	"github.com/spf13/pflag"
)

// errUsage is returned after the usage text has been printed.
var errUsage = errors.New("invalid usage")

func main() {
	if err := run(os.Args[1:], os.Stdout, os.Stderr); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string, stdout, stderr io.Writer) error {
	if len(args) < 1 {
		printUsage(stderr)
		return errUsage
	}
	switch args[0] {
	case "build":
		return runBuild(args[1:], stdout, stderr)
	case "info":
		return runInfo(args[1:], stdout, stderr)
	case "version":
		return runVersion(args[1:], stdout, stderr)
	case "index":
		return runIndex(args[1:], stdout, stderr)
	case "help", "-h", "--help":
		printUsage(stdout)
		return nil
	default:
		printUsage(stderr)
		return fmt.Errorf("unknown command %q", args[0])
	}
}

func printUsage(w io.Writer) {
	fmt.Fprintln(w, "Usage: pax <command> [flags]")
	fmt.Fprintln(w, "\nCommands:")
	fmt.Fprintln(w, "  build      Build the packages of a project file")
	fmt.Fprintln(w, "  info       Show the content of a .deb file")
	fmt.Fprintln(w, "  version    Parse or compare versions")
	fmt.Fprintln(w, "  index      Write APT repository metadata for a directory of .deb files")
}

// logOptions are the flags shared by every command.
type logOptions struct {
	level  string
	format string
}

func (o *logOptions) addFlags(fs *pflag.FlagSet) {
	fs.StringVar(&o.level, "log-level", "info", "minimum log level (debug, info, warn, error)")
	fs.StringVar(&o.format, "log-format", "text", "log format (text, json)")
}

func (o *logOptions) logger(w io.Writer) (*slog.Logger, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(o.level)); err != nil {
		return nil, fmt.Errorf("invalid --log-level: %w", err)
	}
	opts := &slog.HandlerOptions{Level: level}
	switch o.format {
	case "text":
		return slog.New(slog.NewTextHandler(w, opts)), nil
	case "json":
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	}
	return nil, fmt.Errorf("invalid --log-format %q", o.format)
}

// newFlagSet returns a flag set for a command, with the log flags attached.
func newFlagSet(name string, stderr io.Writer, logs *logOptions) *pflag.FlagSet {
	fs := pflag.NewFlagSet(name, pflag.ContinueOnError)
	fs.SetOutput(stderr)
	logs.addFlags(fs)
	return fs
}

func runBuild(args []string, stdout, stderr io.Writer) error {
	var logs logOptions
	fs := newFlagSet("build", stderr, &logs)
	config := fs.StringP("config", "c", "pax.yaml", "path to the project file")
	dist := fs.String("dist", "", "output directory (overrides the project's dist)")
	buildNo := fs.Uint32("buildno", 0, "build number of every package")
	autoBuildNo := fs.Bool("auto-buildno", false, "take every package's build number from its counter in the cache")
	resetBuildNo := fs.Bool("reset-buildno", false, "reset the build counters to 0 before building")
	unix := fs.Int64("time", 0, "modification time of every entry, in seconds since the epoch")
	if err := fs.Parse(args); err != nil {
		return err
	}
	logger, err := logs.logger(stderr)
	if err != nil {
		return err
	}
	if *autoBuildNo && fs.Changed("buildno") {
		return fmt.Errorf("--buildno and --auto-buildno are mutually exclusive")
	}

	p, err := manifest.Load(*config)
	if err != nil {
		return err
	}
	if fs.Changed("dist") {
		// Relative to the working directory, not to the project file.
		abs, err := filepath.Abs(*dist)
		if err != nil {
			return err
		}
		p.Dist = abs
	}
	if fs.Changed("buildno") {
		p.BuildNo = *buildNo
		for i := range p.Packages {
			p.Packages[i].BuildNo = *buildNo
			p.Packages[i].AutoBuildNo = false
		}
	}
	if *autoBuildNo {
		for i := range p.Packages {
			p.Packages[i].AutoBuildNo = true
		}
	}
	if *resetBuildNo {
		if err := p.ResetBuildNo(); err != nil {
			return err
		}
	}
	p.GPGKey = os.Getenv("GPG_PRIVATE_KEY")

	b := deb.Builder{Logger: logger}
	if fs.Changed("time") {
		b.Time = time.Unix(*unix, 0)
	}
	results, err := p.Build(b, func(e fmt.Stringer) {
		logger.Debug("build event", "event", e.String())
	})
	if err != nil {
		return err
	}
	for _, r := range results {
		fmt.Fprintln(stdout, r.Path)
	}
	return nil
}

func runInfo(args []string, stdout, stderr io.Writer) error {
	var logs logOptions
	fs := newFlagSet("info", stderr, &logs)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return fmt.Errorf("info expects exactly one .deb file")
	}
	f, err := os.Open(fs.Arg(0))
	if err != nil {
		return err
	}
	defer f.Close()
	info, err := deb.Inspect(f)
	if err != nil {
		return fmt.Errorf("inspecting %s: %w", fs.Arg(0), err)
	}
	return printInfo(stdout, info)
}

func printInfo(w io.Writer, info *deb.Info) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "MEMBER\tMODE\tSIZE\tMTIME")
	for _, m := range info.Members {
		fmt.Fprintf(tw, "%s\t%o\t%d\t%s\n", m.Name, m.Mode, m.Size, m.ModTime.UTC().Format(time.RFC3339))
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	fmt.Fprintf(w, "\n%s\n", strings.TrimRight(info.Control, "\n"))

	for _, s := range []struct{ name, body string }{
		{"preinst", info.Scripts.PreInst},
		{"postinst", info.Scripts.PostInst},
		{"prerm", info.Scripts.PreRm},
		{"postrm", info.Scripts.PostRm},
	} {
		if s.body != "" {
			fmt.Fprintf(w, "\n%s: %d bytes\n", s.name, len(s.body))
		}
	}

	fmt.Fprintln(w)
	tw = tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "MODE\tSIZE\tNAME")
	for _, e := range info.Entries {
		name := e.Name
		if e.Linkname != "" {
			name += " -> " + e.Linkname
		}
		fmt.Fprintf(tw, "%04o\t%d\t%s\n", e.Mode, e.Size, name)
	}
	return tw.Flush()
}

func runVersion(args []string, stdout, stderr io.Writer) error {
	if len(args) < 1 {
		return fmt.Errorf("version expects a subcommand: parse or compare")
	}
	var logs logOptions
	fs := newFlagSet("version "+args[0], stderr, &logs)
	dpkg := fs.Bool("dpkg", false, "compare with the full dpkg ordering instead of epoch, major, minor, patch and revision")
	if err := fs.Parse(args[1:]); err != nil {
		return err
	}

	switch args[0] {
	case "parse":
		if fs.NArg() == 0 {
			return fmt.Errorf("version parse expects at least one version")
		}
		tw := tabwriter.NewWriter(stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "VERSION\tEPOCH\tMAJOR\tMINOR\tPATCH\tREVISION")
		for _, s := range fs.Args() {
			v, err := deb.ParseVersion(s)
			if err != nil {
				return err
			}
			fmt.Fprintf(tw, "%s\t%d\t%d\t%d\t%d\t%s\n", v, v.Epoch, v.Major, v.Minor, v.Patch, v.Revision)
		}
		return tw.Flush()

	case "compare":
		if fs.NArg() != 2 {
			return fmt.Errorf("version compare expects two versions")
		}
		a, b := fs.Arg(0), fs.Arg(1)
		var c int
		if *dpkg {
			var err error
			if c, err = deb.CompareDpkg(a, b); err != nil {
				return err
			}
		} else {
			va, err := deb.ParseVersion(a)
			if err != nil {
				return err
			}
			vb, err := deb.ParseVersion(b)
			if err != nil {
				return err
			}
			c = va.Compare(vb)
		}
		op := "="
		switch {
		case c < 0:
			op = "<"
		case c > 0:
			op = ">"
		}
		fmt.Fprintf(stdout, "%s %s %s\n", a, op, b)
		return nil
	}
	return fmt.Errorf("unknown version subcommand %q", args[0])
}

func runIndex(args []string, stdout, stderr io.Writer) error {
	var logs logOptions
	var info apt.ArchiveInfo
	fs := newFlagSet("index", stderr, &logs)
	dir := fs.String("dir", "dist", "directory holding the .deb files")
	fs.StringVar(&info.Origin, "origin", "", "Origin field of the Release file")
	fs.StringVar(&info.Label, "label", "", "Label field of the Release file")
	fs.StringVar(&info.Suite, "suite", "", "Suite field of the Release file")
	fs.StringVar(&info.Codename, "codename", "", "Codename field of the Release file")
	fs.StringVar(&info.Architectures, "architectures", "", "space separated architectures (derived from the packages when empty)")
	fs.StringVar(&info.Components, "components", "", "Components field of the Release file")
	fs.StringVar(&info.Description, "description", "", "Description field of the Release file")
	if err := fs.Parse(args); err != nil {
		return err
	}
	logger, err := logs.logger(stderr)
	if err != nil {
		return err
	}

	key := os.Getenv("GPG_PRIVATE_KEY")
	idx, err := apt.Index(*dir, info, key)
	if err != nil {
		return err
	}
	if err := idx.SaveTo(*dir); err != nil {
		return err
	}
	logger.Info("index written", "dir", *dir, "packages", len(idx.Packages()), "signed", key != "")
	for _, name := range idx.Files() {
		fmt.Fprintln(stdout, filepath.Join(*dir, name))
	}
	return nil
}
