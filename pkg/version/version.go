// Package version holds build information set through ldflags:
//
//	go build -ldflags "-X github.com/NicolasHaas/gavel/pkg/version.tag=v0.1.0
//	  -X github.com/NicolasHaas/gavel/pkg/version.commit=abc1234
//	  -X github.com/NicolasHaas/gavel/pkg/version.date=2026-10-16"
package version

import "runtime/debug"

var (
	tag    = ""        // git tag, empty if not on a tag
	commit = "unknown" // short git commit SHA
	date   = "unknown" // build date (ISO 8601)
)

// String returns the tag, the commit, or "dev" for local builds.
func String() string {
	if tag != "" {
		return tag
	}
	if commit != "unknown" {
		return commit
	}
	if rev := vcsRevision(); rev != "" {
		return rev
	}
	return "dev"
}

// Full returns String with the commit and build date when known.
func Full() string {
	switch {
	case tag != "":
		return tag + " (" + commit + ") built " + date
	case commit != "unknown":
		return commit + " built " + date
	default:
		return String()
	}
}

// vcsRevision reads the short revision stamped by the go tool, if any.
func vcsRevision() string {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return ""
	}
	for _, s := range info.Settings {
		if s.Key == "vcs.revision" && len(s.Value) >= 7 {
			return s.Value[:7]
		}
	}
	return ""
}
