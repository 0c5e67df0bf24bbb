package core

import "runtime"

// Version is the application version, injected at build time:
//
//	go build -ldflags "-X ai_workspace/core.Version=$(git describe --tags --always)" .
//
// Defaults to "dev".
var Version = "dev"

// BuildTime is the build timestamp, injected the same way. Defaults to "unknown".
var BuildTime = "unknown"

// GitCommit is the short commit hash, injected the same way. Defaults to "unknown".
var GitCommit = "unknown"

// VersionInfo is the version block reported by the health endpoint and logs.
type VersionInfo struct {
	Version   string `json:"version"`
	BuildTime string `json:"build_time"`
	GitCommit string `json:"git_commit"`
	GoVersion string `json:"go_version"`
}

// GetVersionInfo returns the compiled-in version information.
func GetVersionInfo() VersionInfo {
	return VersionInfo{
		Version:   Version,
		BuildTime: BuildTime,
		GitCommit: GitCommit,
		GoVersion: runtime.Version(),
	}
}

// String formats the version as "v1.0.0 (built 2024-01-15T10:30:00Z, commit abc1234)".
func (v VersionInfo) String() string {
	return v.Version + " (built " + v.BuildTime + ", commit " + v.GitCommit + ")"
}
