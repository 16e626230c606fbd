// Package version holds build-time metadata injected via ldflags.
package version

import (
	"strings"

	"golang.org/x/mod/semver"
)

// These variables are set at build time using -ldflags:
//
//	-X 'github.com/janekbaraniewski/usagerecon/internal/version.Version=...'
//	-X 'github.com/janekbaraniewski/usagerecon/internal/version.CommitHash=...'
//	-X 'github.com/janekbaraniewski/usagerecon/internal/version.BuildDate=...'
var (
	Version    = "dev"
	CommitHash = "unknown"
	BuildDate  = "unknown"
)

// String returns a formatted version string.
func String() string {
	if !IsRelease(Version) {
		return Version + " (" + CommitHash + ", development build) built " + BuildDate
	}
	return Version + " (" + CommitHash + ") built " + BuildDate
}

// IsRelease reports whether value is a plain vMAJOR.MINOR.PATCH tag, with the
// leading "v" optional.
func IsRelease(value string) bool {
	v := Canonical(value)
	return v != "" && v == normalize(value)
}

// Canonical returns the canonical semver form of a release version, or ""
// for dev builds, pre-releases and anything unparsable.
func Canonical(value string) string {
	v := normalize(value)
	if !semver.IsValid(v) {
		return ""
	}
	if semver.Prerelease(v) != "" || semver.Build(v) != "" {
		return ""
	}
	return semver.Canonical(v)
}

func normalize(value string) string {
	v := strings.TrimSpace(value)
	if v != "" && !strings.HasPrefix(v, "v") {
		v = "v" + v
	}
	return v
}
