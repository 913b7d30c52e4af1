// Package version carries build metadata injected with -ldflags.
package version

import "fmt"

var (
	// Version is the current application version
	Version = "dev"
	// GitSHA is the git commit SHA
	GitSHA = "unknown"
	// BuildTime is the build timestamp
	BuildTime = "unknown"
)

// String formats the build metadata for the version subcommand and the
// status endpoint.
func String() string {
	return fmt.Sprintf("piv %s (%s, built %s)", Version, GitSHA, BuildTime)
}
