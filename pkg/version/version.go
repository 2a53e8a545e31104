// Package version records the build identity of vmtrack binaries.
package version

import "runtime/debug"

// Set at link time:
//
//	go build -ldflags "-X github.com/Sumatoshi-tech/vmtrack/pkg/version.Version=v1.2.0 ..."
var (
	Version = "dev"
	Commit  = "unknown"
	Date    = "unknown"
)

// InitBinaryVersion backfills Version, Commit and Date from the module
// build info embedded by the Go toolchain. Values injected at link time
// win; builds without VCS stamping keep the defaults.
func InitBinaryVersion() {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return
	}

	if Version == "dev" && info.Main.Version != "" && info.Main.Version != "(devel)" {
		Version = info.Main.Version
	}

	for _, s := range info.Settings {
		switch s.Key {
		case "vcs.revision":
			if Commit == "unknown" {
				Commit = s.Value
			}
		case "vcs.time":
			if Date == "unknown" {
				Date = s.Value
			}
		}
	}
}
