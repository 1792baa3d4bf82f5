// Package version exposes build version information.
package version

// Version is the current version of Signcast.
// Set at build time via ldflags:
//
//	-X github.com/signcast/signcast/internal/version.Version=X.Y.Z
var Version = "0.3.0"
