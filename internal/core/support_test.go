package core

import "testing"

func TestSupportTable_Supports(t *testing.T) {
	table := DefaultSupportTable()
	tests := []struct {
		raw  string
		want bool
	}{
		{"vscode/1.101.0/copilot-chat/0.28.0", true},
		{"vscode/1.104.1/copilot-chat/0.31.2", true},
		{"vscode/1.100.2/copilot-chat/0.31.2", false},
		{"vscode/1.104.1/copilot-chat/0.27.3", false},
		{"vscode/1.85.0", false},
		{"unknown/GitHubCopilotChat/0.35.3", true},
		{"unknown/GitHubCopilotChat/0.20.0", false},
		{"JetBrains-IU/251.26927.53/copilot-intellij/1.5.52-243", true},
		{"JetBrains-IU/241.1/copilot-intellij/1.5.60", false},
		{"JetBrains-IU/243.1/copilot-intellij/1.5.51", false},
		{"VisualStudio/17.14.13/copilot-vs-chat/18.0.471.29466", true},
		{"VisualStudio/17.14.12/copilot-vs-chat/18.0.471.29466", false},
		{"Eclipse IDE/4.34.0.20241128-0756/copilot-eclipse/0.9.3.202507240902", true},
		{"Eclipse IDE/4.30/copilot-eclipse/0.9.3", false},
		{"xcode/16.1/copilot-xcode/0.40.0", true},
		{"xcode/16.1/copilot-xcode/0.39.9", false},
		{"neovim/0.10.0/copilot.vim/1.40.0", false},
		{"github.com", false},
		{"copilot-cli", false},
		{"vscode", false},
		{"vscode/insiders/copilot-chat/0.30.0", false},
		{"", false},
	}
	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			got := table.Supports(ParseSurface(tt.raw, nil))
			if got.Supported != tt.want {
				t.Errorf("Supports(%q) = %v (%s), want %v", tt.raw, got.Supported, got.Reason, tt.want)
			}
			if !got.Supported && got.Reason == "" {
				t.Errorf("Supports(%q) returned no reason", tt.raw)
			}
		})
	}
}

func TestSupportTable_NormalizedKeys(t *testing.T) {
	table := SupportTable{
		"JetBrains": {IDE: MustParseVersion("242")},
		"vs":        {IDE: MustParseVersion("17.14")},
	}.Normalized()

	if _, ok := table[FamilyIntelliJ]; !ok {
		t.Errorf("expected intellij key, got %v", table.Families())
	}
	if _, ok := table[FamilyVisualStudio]; !ok {
		t.Errorf("expected visualstudio key, got %v", table.Families())
	}
}

func TestSupportTable_EmptyTableSupportsNothing(t *testing.T) {
	got := SupportTable{}.Supports(ParseSurface("vscode/1.200.0/copilot-chat/1.0.0", nil))
	if got.Supported {
		t.Fatal("empty table should not support any family")
	}
}
