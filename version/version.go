// Package version reports the cachex build identity. Set via ldflags at
// build time.
package version

import "fmt"

var (
	Version   = "dev"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

func String() string {
	return fmt.Sprintf("cachex %s (commit: %s, built: %s)", Version, GitCommit, BuildDate)
}
