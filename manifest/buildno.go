package manifest

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

const buildNoFile = "buildno.txt"

// readBuildNo returns the build counter kept in dir. A missing counter is
// created at 0.
func readBuildNo(dir string) (uint32, error) {
	name := filepath.Join(dir, buildNoFile)
	b, err := os.ReadFile(name)
	if errors.Is(err, fs.ErrNotExist) {
		return 0, writeBuildNo(dir, 0)
	}
	if err != nil {
		return 0, err
	}
	n, err := strconv.ParseUint(strings.TrimSpace(string(b)), 10, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid build number in %s: %w", name, err)
	}
	return uint32(n), nil
}

func writeBuildNo(dir string, n uint32) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, buildNoFile), []byte(strconv.FormatUint(uint64(n), 10)), 0644)
}
