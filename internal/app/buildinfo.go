package app

import "fmt"

// Build information populated via -ldflags at build time.
var (
	BuildVersion = "0.0.0-dev"
	BuildCommit  = "unknown"
	BuildDate    = "unknown"
)

// VersionString formats the build information for -version output.
func VersionString(binary string) string {
	return fmt.Sprintf("%s %s (commit %s, built %s)", binary, BuildVersion, BuildCommit, BuildDate)
}
