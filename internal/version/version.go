// Package version carries build metadata injected via -ldflags.
package version

var (
	// Version is the loankeeper release, "dev" for local builds.
	Version = "dev"
	// Commit is the source revision the binary was built from.
	Commit = "unknown"
	// BuildDate is the UTC build timestamp.
	BuildDate = "unknown"
)
