package util

import (
	"runtime/debug"
)

// BuildInfo is reported by /health and logged at startup
type BuildInfo struct {
	Version   string `json:"version"`
	GitHash   string `json:"gitHash"`
	GoVersion string `json:"goVersion"`
}

// GetBuildInfo collects the version of the running binary
func GetBuildInfo() BuildInfo {
	info := BuildInfo{
		Version: "unknown",
		GitHash: "unknown",
	}
	build, available := debug.ReadBuildInfo()
	if !available {
		return info
	}
	info.Version = build.Main.Version
	info.GoVersion = build.GoVersion
	for _, setting := range build.Settings {
		if setting.Key == "vcs.revision" {
			info.GitHash = setting.Value
			break
		}
	}
	return info
}

// GetFullVersion returns version and short git hash
func GetFullVersion() string {
	info := GetBuildInfo()
	hash := info.GitHash
	if len(hash) > 7 {
		hash = hash[:7]
	}
	return info.Version + "-" + hash
}
