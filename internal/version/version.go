// Package version exposes build version information, set at link time via
// -ldflags "-X github.com/HerbHall/fmcpilot/internal/version.version=...".
package version

import "fmt"

var (
	version = "dev"
	commit  = "none"
)

// Short returns the bare version string.
func Short() string {
	return version
}

// Info returns the human-readable version line.
func Info() string {
	return fmt.Sprintf("fmcpilot %s (%s)", version, commit)
}
