package manifest

import (
	"encoding/json"
	"fmt"
)

// Listener is a callback function that receives events during the build process.
type Listener func(fmt.Stringer)

func jsonString(v any) string {
	b, _ := json.Marshal(map[string]any{
		fmt.Sprintf("%T", v): v,
	})
	return string(b)
}

// EventProjectLoaded is emitted when the project file has been read and all
// package specs were rendered.
type EventProjectLoaded struct {
	Path     string `json:"path,omitempty"`
	Packages int    `json:"packages"`
}

func (e EventProjectLoaded) String() string { return jsonString(e) }

// EventPackageBuilt is emitted when a package file has been written.
type EventPackageBuilt struct {
	Package       string `json:"package,omitempty"`
	Version       string `json:"version,omitempty"`
	Architecture  string `json:"architecture,omitempty"`
	Path          string `json:"path,omitempty"`
	Size          int64  `json:"size,omitempty"`
	InstalledSize uint64 `json:"installed_size,omitempty"`
}

func (e EventPackageBuilt) String() string { return jsonString(e) }

// EventIndexWritten is emitted when the repository metadata has been written.
type EventIndexWritten struct {
	Dir      string   `json:"dir,omitempty"`
	Packages int      `json:"packages"`
	Files    []string `json:"files,omitempty"`
	Signed   bool     `json:"signed,omitempty"`
}

func (e EventIndexWritten) String() string { return jsonString(e) }
