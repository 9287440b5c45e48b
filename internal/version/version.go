// Package version reports the build version of the triage binary.
package version

import (
	"fmt"
	"runtime"
	"runtime/debug"
)

// Version is the build version. Set via -ldflags for releases:
//
//	go build -ldflags "-X github.com/chhoumann/claude-github-triage/internal/version.Version=v1.2.0"
var Version = "dev"

// Info is the version plus VCS details embedded by the Go toolchain.
type Info struct {
	Version   string
	Revision  string
	Time      string
	Modified  bool
	GoVersion string
	Platform  string
}

// Get returns build info. Dev builds fall back to the short VCS revision
// for Version.
func Get() Info {
	info := Info{
		Version:   Version,
		GoVersion: runtime.Version(),
		Platform:  runtime.GOOS + "/" + runtime.GOARCH,
	}
	if bi, ok := debug.ReadBuildInfo(); ok {
		fromSettings(&info, bi.Settings)
	}
	return info
}

func fromSettings(info *Info, settings []debug.BuildSetting) {
	for _, s := range settings {
		switch s.Key {
		case "vcs.revision":
			info.Revision = s.Value
		case "vcs.time":
			info.Time = s.Value
		case "vcs.modified":
			info.Modified = s.Value == "true"
		}
	}
	if info.Version != "dev" || info.Revision == "" {
		return
	}
	rev := info.Revision
	if len(rev) > 7 {
		rev = rev[:7]
	}
	if info.Modified {
		rev += "-dirty"
	}
	info.Version = rev
}

// String renders a one-line version for `triage version`.
func (i Info) String() string {
	s := i.Version
	if i.Time != "" {
		s += " (" + i.Time + ")"
	}
	return fmt.Sprintf("triage %s %s %s", s, i.GoVersion, i.Platform)
}
