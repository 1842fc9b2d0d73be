package context

import (
	"fmt"
	"runtime/debug"
)

// VersionInfo describes the version of the running binary, read from the build
// metadata embedded by the Go toolchain.
type VersionInfo struct {
	Version  string
	Revision string
	Dirty    bool
}

// GetVersion reads the version information from the binary's build metadata.
func GetVersion() (*VersionInfo, error) {
	bi, ok := debug.ReadBuildInfo()
	if !ok {
		return nil, fmt.Errorf("failed reading build information")
	}

	v := &VersionInfo{Version: bi.Main.Version}
	for _, s := range bi.Settings {
		switch s.Key {
		case "vcs.revision":
			v.Revision = s.Value
		case "vcs.modified":
			v.Dirty = s.Value == "true"
		}
	}

	return v, nil
}

// String returns a human-readable version string.
func (v *VersionInfo) String() string {
	out := v.Version
	if v.Revision != "" {
		rev := v.Revision
		if len(rev) > 8 {
			rev = rev[:8]
		}
		out = fmt.Sprintf("%s (%s)", out, rev)
	}
	if v.Dirty {
		out += " dirty"
	}

	return out
}
