package cmd

import (
	"fmt"
	goruntime "runtime"
	"runtime/debug"
)

// shortSHA is the length of an abbreviated commit hash.
const shortSHA = 7

// BuildInfo is injected by the build pipeline.
type BuildInfo struct {
	Version   string
	CommitSHA string
}

// versionTemplate returns the cobra version template including the commit,
// Go version and OS/arch.
func versionTemplate(b BuildInfo) string {
	v := "{{.Name}} {{.Version}}"
	if len(b.CommitSHA) >= shortSHA {
		v += " (" + b.CommitSHA[:shortSHA] + ")"
	}
	v += fmt.Sprintf(" %s %s/%s\n", goruntime.Version(), goruntime.GOOS, goruntime.GOARCH)
	return v
}

func normalizeBuildInfo(b BuildInfo) BuildInfo {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		if b.Version == "" {
			b.Version = "unknown"
		}
		return b
	}
	return fromBuildSettings(b, info.Main.Version, info.Settings)
}

func fromBuildSettings(b BuildInfo, mainVersion string, settings []debug.BuildSetting) BuildInfo {
	if b.Version == "" && mainVersion != "" && mainVersion != "(devel)" {
		b.Version = mainVersion
	}

	var rev, modified string
	for _, s := range settings {
		switch s.Key {
		case "vcs.revision":
			rev = s.Value
		case "vcs.modified":
			modified = s.Value
		}
	}
	if b.CommitSHA == "" {
		b.CommitSHA = rev
	}
	if b.Version == "" {
		b.Version = "dev"
		if len(rev) >= shortSHA {
			b.Version += "-" + rev[:shortSHA]
		}
		if modified == "true" {
			b.Version += "-dirty"
		}
	}
	return b
}
