// Package version carries build metadata injected with -ldflags.
package version

import (
	"fmt"
	"runtime"
)

// Set via -ldflags "-X github.com/NERVsystems/lkmap/pkg/version.BuildVersion=..."
var (
	BuildVersion = "dev"
	BuildCommit  = "unknown"
	BuildDate    = "unknown"
)

// Info returns the build metadata as a map
func Info() map[string]string {
	return map[string]string{
		"version":    BuildVersion,
		"commit":     BuildCommit,
		"build_date": BuildDate,
		"go_version": runtime.Version(),
	}
}

// String returns a one-line version description
func String() string {
	return fmt.Sprintf("lkmap %s (commit %s, built %s, %s)", BuildVersion, BuildCommit, BuildDate, runtime.Version())
}
