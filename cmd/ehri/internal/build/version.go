// Package build holds build-time version information injected via ldflags.
//
// To inject values at build time:
//
//	go build -ldflags "-X github.com/EHRI/ehri-rest-sub010/cmd/ehri/internal/build.Version=v1.0.0 \
//	  -X github.com/EHRI/ehri-rest-sub010/cmd/ehri/internal/build.Commit=$(git rev-parse --short HEAD) \
//	  -X github.com/EHRI/ehri-rest-sub010/cmd/ehri/internal/build.Date=$(date -u +%Y-%m-%dT%H:%M:%SZ)"
package build

import (
	"fmt"
	"runtime"
)

// These variables are set at build time via -ldflags.
var (
	Version = "dev"
	Commit  = "unknown"
	Date    = "unknown"
)

// String returns a formatted version string.
func String() string {
	return fmt.Sprintf("ehri %s (%s) built %s %s/%s",
		Version, Commit, Date, runtime.GOOS, runtime.GOARCH)
}

// Info returns the version fields as a map for structured output.
func Info() map[string]any {
	return map[string]any{
		"version": Version,
		"commit":  Commit,
		"date":    Date,
		"go":      runtime.Version(),
		"os":      runtime.GOOS,
		"arch":    runtime.GOARCH,
	}
}
