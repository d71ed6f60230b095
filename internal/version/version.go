// Package version carries build metadata injected via ldflags.
package version

import "fmt"

var (
	// Version is the semantic version of the fuelwatch binary.
	Version = "dev"
	// Commit is the git commit hash the binary was built from.
	Commit = "unknown"
	// BuildDate is the build timestamp.
	BuildDate = "unknown"
)

// String renders the build metadata in one line.
func String() string {
	return fmt.Sprintf("fuelwatch %s (commit %s, built %s)", Version, Commit, BuildDate)
}
