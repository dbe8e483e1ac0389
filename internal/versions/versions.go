// Package versions carries build information and console version checks.
package versions

import (
	"fmt"
	"runtime"

	"github.com/Masterminds/semver/v3"
)

// Set at build time with -ldflags "-X".
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildDate = "unknown"
)

// MinConsoleVersion is the oldest management console whose v2 API the
// workflows have been run against.
const MinConsoleVersion = "2.10.0"

// Info describes the running binary.
type Info struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildDate string `json:"build_date"`
	GoVersion string `json:"go_version"`
	Platform  string `json:"platform"`
}

// GetVersionInfo returns the build information of this binary.
func GetVersionInfo() Info {
	return Info{
		Version:   Version,
		Commit:    Commit,
		BuildDate: BuildDate,
		GoVersion: runtime.Version(),
		Platform:  fmt.Sprintf("%s/%s", runtime.GOOS, runtime.GOARCH),
	}
}

// IsNewerVersion reports whether newVersion is strictly greater than oldVersion.
// Non-semver strings fall back to lexicographic comparison.
func IsNewerVersion(newVersion, oldVersion string) bool {
	newSemver, errNew := semver.NewVersion(newVersion)
	oldSemver, errOld := semver.NewVersion(oldVersion)

	if errNew != nil || errOld != nil {
		return newVersion > oldVersion
	}

	return newSemver.GreaterThan(oldSemver)
}

// SupportedConsole reports whether a console reporting version is at least
// MinConsoleVersion. Versions that do not parse are assumed supported, since
// consoles built from source report free-form strings.
func SupportedConsole(version string) bool {
	v, err := semver.NewVersion(version)
	if err != nil {
		return true
	}
	return !v.LessThan(semver.MustParse(MinConsoleVersion))
}
