// Package version reports build information for NAS Companion.
package version

import (
	"fmt"
	"runtime"
	"strings"
)

// Set at build time with -ldflags "-X .../internal/version.Version=...".
var (
	Name      = "NAS Companion"
	Version   = "0.1.0"
	BuildTime = ""
	GitCommit = ""
)

// Info is the JSON shape served by /api/v1/version.
type Info struct {
	Name      string `json:"name"`
	Version   string `json:"version"`
	BuildTime string `json:"buildTime,omitempty"`
	GitCommit string `json:"gitCommit,omitempty"`
	GoVersion string `json:"goVersion"`
	Platform  string `json:"platform"`
}

// GetInfo returns the current version information.
func GetInfo() Info {
	return Info{
		Name:      Name,
		Version:   Version,
		BuildTime: BuildTime,
		GitCommit: GitCommit,
		GoVersion: runtime.Version(),
		Platform:  runtime.GOOS + "/" + runtime.GOARCH,
	}
}

// String returns e.g. "NAS Companion v0.1.0 (abc1234) built 2024-03-01".
func (i Info) String() string {
	s := fmt.Sprintf("%s v%s", i.Name, i.Version)
	if i.GitCommit != "" {
		s += fmt.Sprintf(" (%s)", i.GitCommit[:min(7, len(i.GitCommit))])
	}
	if i.BuildTime != "" {
		s += fmt.Sprintf(" built %s", i.BuildTime)
	}
	return s
}

// UserAgent is sent with every NAS API request.
func UserAgent() string {
	return strings.ReplaceAll(Name, " ", "-") + "/" + Version
}
