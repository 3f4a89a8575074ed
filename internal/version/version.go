// Package version carries build-time identification, stamped via
// -ldflags and surfaced by the health endpoint.
package version

var (
	// Version is the release tag, "dev" for local builds.
	Version = "dev"

	// GitCommit is the short commit hash of the build.
	GitCommit = "unknown"

	// BuildTime is the RFC3339 build timestamp.
	BuildTime = "unknown"
)

// Info bundles the build identifiers for serialization.
func Info() VersionInfo {
	return VersionInfo{
		Version:   Version,
		GitCommit: GitCommit,
		BuildTime: BuildTime,
	}
}

// VersionInfo is the wire form of the build identifiers.
type VersionInfo struct {
	Version   string `json:"version"`
	GitCommit string `json:"git_commit"`
	BuildTime string `json:"build_time"`
}
