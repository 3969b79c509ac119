// Package version exposes build metadata for the chatcrawler CLI.
//
// Variables are set at build time with ldflags:
//
//	go build -ldflags "-X github.com/jmylchreest/chatcrawler/internal/version.Version=1.0.0 ..."
//
// When they are left unset, the module version from the embedded build info
// is used instead.
package version

import (
	"fmt"
	"runtime"
	"runtime/debug"
	"strings"
)

// Build-time variables set via ldflags
var (
	Version   = "dev"
	Commit    = "unknown"
	Dirty     = "false"
	BuildDate = "unknown"
)

// Info is the structured form printed by `chatcrawler version --json`.
type Info struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	Dirty     bool   `json:"dirty"`
	BuildDate string `json:"build_date"`
	GoVersion string `json:"go_version"`
	Platform  string `json:"platform"`
}

// moduleVersion reports the version go install recorded, if any.
func moduleVersion() string {
	info, ok := debug.ReadBuildInfo()
	if !ok || info.Main.Version == "" || info.Main.Version == "(devel)" {
		return ""
	}
	return strings.TrimPrefix(info.Main.Version, "v")
}

func resolved() string {
	if Version == "dev" {
		if v := moduleVersion(); v != "" {
			return v
		}
	}
	return Version
}

// Get returns the current version information.
func Get() Info {
	return Info{
		Version:   resolved(),
		Commit:    Commit,
		Dirty:     Dirty == "true",
		BuildDate: BuildDate,
		GoVersion: runtime.Version(),
		Platform:  runtime.GOOS + "/" + runtime.GOARCH,
	}
}

// String returns a single-line version string.
func String() string {
	v := resolved()
	if Dirty == "true" {
		v += "-dirty"
	}
	return v
}

// Full returns a multi-line version string.
func Full() string {
	i := Get()
	var sb strings.Builder
	fmt.Fprintf(&sb, "chatcrawler %s\n", String())
	fmt.Fprintf(&sb, "  Commit:     %s\n", i.Commit)
	fmt.Fprintf(&sb, "  Built:      %s\n", i.BuildDate)
	fmt.Fprintf(&sb, "  Go version: %s\n", i.GoVersion)
	fmt.Fprintf(&sb, "  OS/Arch:    %s", i.Platform)
	return sb.String()
}
