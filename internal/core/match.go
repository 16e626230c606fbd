package core

import "strings"

// MatchResult is the outcome of comparing a summary surface with a detail
// surface. Only MatchOK counts as corroboration; the other values say which
// step of the comparison failed.
type MatchResult string

const (
	MatchOK               MatchResult = "match"
	MismatchFamily        MatchResult = "family_mismatch"
	MismatchIDEVersion    MatchResult = "ide_version_mismatch"
	MismatchPluginVersion MatchResult = "plugin_version_mismatch"
)

func (r MatchResult) Matched() bool { return r == MatchOK }

// Matcher compares surfaces after family normalisation. Aliases remap
// additional families (for example an exporter that reports eclipse as
// intellij) before the exact family comparison.
type Matcher struct {
	Aliases map[string]string
}

func NewMatcher(aliases map[string]string) Matcher {
	norm := make(map[string]string, len(aliases))
	for from, to := range aliases {
		norm[NormalizeFamily(from, "", nil)] = NormalizeFamily(to, "", nil)
	}
	return Matcher{Aliases: norm}
}

// Match applies, in order: family equality, IDE major version equality, and
// plugin major version equality. A missing version on either side does not
// fail its step, and a detail observation without any surface (a record with
// no per-IDE totals) corroborates every report surface.
func (m Matcher) Match(report, detail Surface) MatchResult {
	if detail.IsZero() {
		return MatchOK
	}
	if m.family(report.Family) != m.family(detail.Family) {
		return MismatchFamily
	}
	if !sameMajor(report.IDEVersionParsed(), detail.IDEVersionParsed()) {
		return MismatchIDEVersion
	}
	if !sameMajor(report.PluginVersionParsed(), detail.PluginVersionParsed()) {
		return MismatchPluginVersion
	}
	return MatchOK
}

func (m Matcher) family(f string) string {
	f = strings.ToLower(f)
	if to, ok := m.Aliases[f]; ok {
		return to
	}
	return f
}

func sameMajor(a, b Version) bool {
	if !a.Valid() || !b.Valid() {
		return true
	}
	return a.Major() == b.Major()
}
