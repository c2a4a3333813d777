// Package version exposes plugctl build metadata.
//
// Version, Commit and BuildTime are set with -ldflags "-X" at release time
// and keep development defaults otherwise.
package version
