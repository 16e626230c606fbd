package core

import (
	"fmt"
	"sort"
)

// MinimumVersion is the oldest IDE and plugin release whose usage is expected
// to show up in the detail export.
type MinimumVersion struct {
	IDE        Version `json:"ide" yaml:"ide"`
	PluginName string  `json:"plugin_name,omitempty" yaml:"plugin_name,omitempty"`
	Plugin     Version `json:"plugin" yaml:"plugin"`
}

// SupportTable maps a canonical IDE family to its minimum versions.
// Families missing from the table are never supported.
type SupportTable map[string]MinimumVersion

// DefaultSupportTable returns the published minimums for usage metrics.
// JetBrains IDE versions are build numbers (242.x is 2024.2).
func DefaultSupportTable() SupportTable {
	return SupportTable{
		FamilyVSCode: {
			IDE:        MustParseVersion("1.101"),
			PluginName: "copilot-chat",
			Plugin:     MustParseVersion("0.28.0"),
		},
		FamilyIntelliJ: {
			IDE:        MustParseVersion("242"),
			PluginName: "copilot-intellij",
			Plugin:     MustParseVersion("1.5.52"),
		},
		FamilyVisualStudio: {
			IDE:        MustParseVersion("17.14.13"),
			PluginName: "copilot-vs-chat",
			Plugin:     MustParseVersion("18.0.471"),
		},
		FamilyEclipse: {
			IDE:        MustParseVersion("4.31"),
			PluginName: "copilot-eclipse",
			Plugin:     MustParseVersion("0.9.3"),
		},
		FamilyXcode: {
			IDE:        MustParseVersion("13.2.1"),
			PluginName: "copilot-xcode",
			Plugin:     MustParseVersion("0.40.0"),
		},
	}
}

// Normalized re-keys the table by canonical family so that configuration may
// use spellings such as "jetbrains" or "vs".
func (t SupportTable) Normalized() SupportTable {
	out := make(SupportTable, len(t))
	for family, row := range t {
		out[NormalizeFamily(family, "", nil)] = row
	}
	return out
}

// Families returns the table's families in sorted order.
func (t SupportTable) Families() []string {
	out := make([]string, 0, len(t))
	for f := range t {
		out = append(out, f)
	}
	sort.Strings(out)
	return out
}

type SupportResult struct {
	Supported bool   `json:"supported"`
	Reason    string `json:"reason,omitempty"`
}

// Supports decides whether a client on surface s is expected to appear in the
// detail export at all.
//
// An absent IDE version is not held against the surface (the three-part
// unknown/<plugin>/<version> form carries none), but an IDE version that is
// present and unparsable is. At least one version must be known.
func (t SupportTable) Supports(s Surface) SupportResult {
	if s.Family == "" {
		return SupportResult{Reason: "no surface"}
	}
	row, ok := t[s.Family]
	if !ok {
		return SupportResult{Reason: fmt.Sprintf("family %q has no minimum version", s.Family)}
	}

	ide := s.IDEVersionParsed()
	plugin := s.PluginVersionParsed()
	if s.IDEVersion != "" && !ide.Valid() {
		return SupportResult{Reason: fmt.Sprintf("cannot parse IDE version %q", s.IDEVersion)}
	}
	if !ide.Valid() && !plugin.Valid() {
		return SupportResult{Reason: "no version information"}
	}

	if ide.Valid() && row.IDE.Valid() && !ide.AtLeast(row.IDE) {
		return SupportResult{Reason: fmt.Sprintf("IDE version %s < minimum %s", ide, row.IDE)}
	}
	if plugin.Valid() && row.Plugin.Valid() && !plugin.AtLeast(row.Plugin) {
		return SupportResult{Reason: fmt.Sprintf("plugin version %s < minimum %s", plugin, row.Plugin)}
	}
	return SupportResult{Supported: true}
}
