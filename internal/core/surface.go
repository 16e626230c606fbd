package core

import (
	"strings"
)

// Canonical IDE families after normalisation.
const (
	FamilyVSCode       = "vscode"
	FamilyIntelliJ     = "intellij"
	FamilyVisualStudio = "visualstudio"
	FamilyEclipse      = "eclipse"
	FamilyXcode        = "xcode"
	FamilyUnknown      = "unknown"
)

// DefaultChatPlugins are plugin names that identify a VS Code client even when
// the IDE token itself is missing or "unknown".
var DefaultChatPlugins = []string{"copilot-chat"}

// Surface is the parsed form of a client descriptor such as
// "vscode/1.85.0/copilot-chat/0.29.1". Raw always holds the source string.
type Surface struct {
	Raw           string `json:"raw"`
	Family        string `json:"family"`
	IDEVersion    string `json:"ide_version,omitempty"`
	Plugin        string `json:"plugin,omitempty"`
	PluginVersion string `json:"plugin_version,omitempty"`
}

// ParseSurface splits a summary-side descriptor of the form
// ideFamily/ideVersion[/pluginName/pluginVersion] and normalises it.
//
// The three-part form "unknown/GitHubCopilotChat/0.35.3" carries a plugin in
// place of the IDE version; it is recognised by the second part not starting
// with a digit.
func ParseSurface(raw string, chatPlugins []string) Surface {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" || strings.EqualFold(trimmed, "none") {
		return Surface{Raw: raw}
	}

	parts := strings.Split(trimmed, "/")
	var ideVersion, plugin, pluginVersion string
	switch len(parts) {
	case 1:
	case 2:
		ideVersion = parts[1]
	case 3:
		if startsWithDigit(parts[1]) {
			ideVersion, plugin = parts[1], parts[2]
		} else {
			plugin, pluginVersion = parts[1], parts[2]
		}
	default:
		ideVersion, plugin, pluginVersion = parts[1], parts[2], parts[3]
	}

	s := NewSurface(parts[0], ideVersion, plugin, pluginVersion, chatPlugins)
	s.Raw = raw
	return s
}

// NewSurface normalises already-separated descriptor fields. With every
// field empty it returns the zero Surface, which carries no surface evidence.
func NewSurface(family, ideVersion, plugin, pluginVersion string, chatPlugins []string) Surface {
	plugin = NormalizePlugin(plugin)
	ideVersion = strings.TrimSpace(ideVersion)
	pluginVersion = strings.TrimSpace(pluginVersion)
	if strings.TrimSpace(family) == "" && ideVersion == "" && plugin == "" && pluginVersion == "" {
		return Surface{}
	}

	raw := joinNonEmpty("/", strings.TrimSpace(family), ideVersion, plugin, pluginVersion)
	return Surface{
		Raw:           raw,
		Family:        NormalizeFamily(family, plugin, chatPlugins),
		IDEVersion:    ideVersion,
		Plugin:        plugin,
		PluginVersion: pluginVersion,
	}
}

// NormalizeFamily maps an IDE token to its canonical family. Every JetBrains
// product code folds into intellij, and an unknown token paired with a chat
// plugin resolves to vscode.
func NormalizeFamily(raw, plugin string, chatPlugins []string) string {
	f := strings.ToLower(strings.TrimSpace(raw))
	switch {
	case f == FamilyIntelliJ, strings.HasPrefix(f, "jetbrains"):
		return FamilyIntelliJ
	case f == FamilyVSCode, f == "vscode-chat", f == "vscode-insiders":
		return FamilyVSCode
	case f == FamilyVisualStudio, f == "vs", f == "visual studio":
		return FamilyVisualStudio
	case f == FamilyEclipse, f == "eclipse ide":
		return FamilyEclipse
	case f == FamilyXcode:
		return FamilyXcode
	}

	if f == "" || f == FamilyUnknown {
		if IsChatPlugin(plugin, chatPlugins) {
			return FamilyVSCode
		}
		return FamilyUnknown
	}
	return f
}

// NormalizePlugin lower-cases a plugin name and folds the legacy
// GitHubCopilot* spellings onto their current names.
func NormalizePlugin(raw string) string {
	p := strings.ToLower(strings.TrimSpace(raw))
	switch p {
	case "githubcopilotchat":
		return "copilot-chat"
	case "githubcopilot":
		return "copilot"
	}
	return p
}

func IsChatPlugin(plugin string, chatPlugins []string) bool {
	if plugin == "" {
		return false
	}
	if len(chatPlugins) == 0 {
		chatPlugins = DefaultChatPlugins
	}
	p := NormalizePlugin(plugin)
	for _, c := range chatPlugins {
		if p == NormalizePlugin(c) {
			return true
		}
	}
	return false
}

// FamilyLabel is the display name used in breakdowns.
func FamilyLabel(family string) string {
	switch family {
	case FamilyVSCode:
		return "VS Code"
	case FamilyIntelliJ:
		return "JetBrains"
	case FamilyVisualStudio:
		return "Visual Studio"
	case FamilyEclipse:
		return "Eclipse"
	case FamilyXcode:
		return "Xcode"
	case "", FamilyUnknown:
		return "Unknown"
	default:
		return family
	}
}

func (s Surface) IsZero() bool {
	return s.Family == "" && s.IDEVersion == "" && s.Plugin == "" && s.PluginVersion == ""
}

func (s Surface) IDEVersionParsed() Version    { return ParseVersion(s.IDEVersion) }
func (s Surface) PluginVersionParsed() Version { return ParseVersion(s.PluginVersion) }

// VersionBucket groups a surface by plugin major.minor, falling back to the
// IDE version when no plugin version is known.
func (s Surface) VersionBucket() string {
	if v := s.PluginVersionParsed(); v.Valid() {
		name := s.Plugin
		if name == "" {
			name = "plugin"
		}
		return name + " " + v.Bucket()
	}
	if v := s.IDEVersionParsed(); v.Valid() {
		return s.Family + " " + v.Bucket()
	}
	return "unknown"
}

// Canonical renders the normalised descriptor in the summary export's format.
func (s Surface) Canonical() string {
	return joinNonEmpty("/", s.Family, s.IDEVersion, s.Plugin, s.PluginVersion)
}

func (s Surface) String() string {
	if s.Raw != "" {
		return s.Raw
	}
	return s.Canonical()
}

func startsWithDigit(s string) bool {
	s = strings.TrimSpace(s)
	return s != "" && s[0] >= '0' && s[0] <= '9'
}

func joinNonEmpty(sep string, parts ...string) string {
	out := parts[:0:0]
	for _, p := range parts {
		if p != "" {
			out = append(out, p)
		}
	}
	return strings.Join(out, sep)
}
