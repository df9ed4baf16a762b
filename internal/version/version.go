package version

import (
	"fmt"
	"runtime"
	"runtime/debug"
	"strings"
	"time"
)

const (
	AppName = "btsync"

	devVersion  = "0.1.0-dev"
	devRevision = "HEAD"
)

// Set with -ldflags "-X github.com/openmined/btsync/internal/version.Version=...".
// Values left at their defaults are filled from the embedded build info.
var (
	Version   = devVersion
	Revision  = devRevision
	BuildDate = ""
)

// Info describes the running binary.
type Info struct {
	Version   string `json:"version"`
	Revision  string `json:"revision"`
	BuildDate string `json:"build_date"`
	GoVersion string `json:"go_version"`
	Platform  string `json:"platform"`
}

func Get() Info {
	return Info{
		Version:   Version,
		Revision:  Revision,
		BuildDate: BuildDate,
		GoVersion: runtime.Version(),
		Platform:  runtime.GOOS + "/" + runtime.GOARCH,
	}
}

// Short is "0.1.0 (5e23a4c)".
func Short() string {
	return fmt.Sprintf("%s (%s)", Version, shortRevision(Revision))
}

// Detailed is "0.1.0 (5e23a4c9d1; go1.23.6; linux/amd64; 2025-01-01T00:00:00Z)".
func Detailed() string {
	i := Get()
	return fmt.Sprintf("%s (%s; %s; %s; %s)", i.Version, i.Revision, i.GoVersion, i.Platform, i.BuildDate)
}

// UserAgent is sent on every API request.
func UserAgent() string {
	return fmt.Sprintf("%s/%s (%s)", AppName, Version, Get().Platform)
}

func shortRevision(rev string) string {
	rev, dirty := strings.CutSuffix(rev, "-dirty")
	rev = rev[:min(len(rev), 7)]
	if dirty {
		rev += "-dirty"
	}
	return rev
}

// fromBuildInfo fills whatever ldflags left unset. A "(devel)" module version
// never replaces the default.
func fromBuildInfo(mainVersion string, vcs map[string]string) {
	if (Version == devVersion || Version == "") && mainVersion != "" && mainVersion != "(devel)" {
		Version = strings.TrimPrefix(mainVersion, "v")
	}
	if rev := vcs["vcs.revision"]; rev != "" && (Revision == devRevision || Revision == "") {
		if vcs["vcs.modified"] == "true" {
			rev += "-dirty"
		}
		Revision = rev
	}
	if BuildDate == "" {
		BuildDate = vcs["vcs.time"]
	}
}

func init() {
	if info, ok := debug.ReadBuildInfo(); ok && info != nil {
		vcs := make(map[string]string, len(info.Settings))
		for _, s := range info.Settings {
			vcs[s.Key] = s.Value
		}
		fromBuildInfo(info.Main.Version, vcs)
	}
	if BuildDate == "" {
		BuildDate = time.Now().UTC().Format(time.RFC3339)
	}
}
