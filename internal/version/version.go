// Package version carries build metadata stamped in with -ldflags -X.
package version

import "fmt"

// Set at link time.
var (
	Version   = "dev"
	GitSHA    = "unknown"
	BuildTime = "unknown"
)

// String is the one-line form logged at startup.
func String() string {
	return fmt.Sprintf("%s (%s, built %s)", Version, GitSHA, BuildTime)
}
