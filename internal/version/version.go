package version

import "fmt"

var (
	// Version is the semantic version of the build.
	Version = "1.1.0"
	// Commit is the short git SHA embedded at build time (or "none").
	Commit = "none"
	// BuildTime is the UTC build timestamp embedded at build time.
	BuildTime = "unknown"
)

// Full returns the version with commit and build time.
func Full() string {
	return fmt.Sprintf("plugctl version: %s, commit: %s, built at: %s", Version, Commit, BuildTime)
}
