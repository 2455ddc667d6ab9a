// Package version carries build identification, stamped in via ldflags and
// reported on the status endpoint so a trial log can always be tied back to
// the exact binary that produced it.
package version

var (
	// Version is the current application version
	Version = "dev"
	// GitSHA is the git commit SHA
	GitSHA = "unknown"
	// BuildTime is the build timestamp
	BuildTime = "unknown"
)
