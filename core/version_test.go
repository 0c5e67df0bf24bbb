package core

import (
	"runtime"
	"strings"
	"testing"
)

func TestGetVersionInfo(t *testing.T) {
	info := GetVersionInfo()

	if info.Version != Version {
		t.Errorf("Version = %q, want %q", info.Version, Version)
	}
	if info.BuildTime != BuildTime {
		t.Errorf("BuildTime = %q, want %q", info.BuildTime, BuildTime)
	}
	if info.GitCommit != GitCommit {
		t.Errorf("GitCommit = %q, want %q", info.GitCommit, GitCommit)
	}
	if info.GoVersion != runtime.Version() {
		t.Errorf("GoVersion = %q, want %q", info.GoVersion, runtime.Version())
	}
}

func TestVersionInfo_String(t *testing.T) {
	info := VersionInfo{Version: "v1.2.0", BuildTime: "2026-01-01T00:00:00Z", GitCommit: "abc1234"}
	got := info.String()
	want := "v1.2.0 (built 2026-01-01T00:00:00Z, commit abc1234)"
	if got != want {
		t.Errorf("String() = %q, want %q", got, want)
	}
	if !strings.HasPrefix(GetVersionInfo().String(), Version) {
		t.Errorf("String() should start with the version")
	}
}
