package report

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/charmbracelet/x/ansi"

	"github.com/janekbaraniewski/usagerecon/internal/core"
	"github.com/janekbaraniewski/usagerecon/internal/recon"
)

func mustTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		panic(err)
	}
	return t
}

func sampleResult() *recon.Result {
	intellij := core.NewSurface("intellij", "243.1", "", "", nil)
	ds := []core.Discrepancy{
		{Login: "ghost", Kind: core.KindAbsent, SummaryTimestamp: mustTime("2025-11-20T10:00:00Z"), ReportSurface: "vscode/1.104.0", SummaryLine: 3},
		{
			Login:                  "drift",
			Kind:                   core.KindStale,
			SummaryTimestamp:       mustTime("2025-11-12T00:00:00Z"),
			MatchedIndexTimestamps: []time.Time{mustTime("2025-11-08T00:00:00Z"), mustTime("2025-11-10T00:00:00Z")},
			ReportSurface:          "vscode/1.104.0",
			SummaryLine:            4,
		},
		{
			Login:                  "jb",
			Kind:                   core.KindSurfaceMismatch,
			SummaryTimestamp:       mustTime("2025-11-18T12:00:00Z"),
			MatchedIndexTimestamps: []time.Time{mustTime("2025-11-18T10:00:00Z")},
			ReportSurface:          "vscode/1.104.0",
			MatchedIndexSurface:    &intellij,
			MismatchReason:         core.MismatchFamily,
			SummaryLine:            6,
		},
	}

	rows := []recon.EligibleRow{
		{Row: core.SummaryRow{Login: "ok", LastActivityAt: mustTime("2025-11-15T13:00:00Z")}, Surface: core.ParseSurface("vscode/1.104.0", nil), Present: true, ActiveDays: 5, Interactions: 30},
	}
	for i := range ds {
		rows = append(rows, recon.EligibleRow{
			Row:         core.SummaryRow{Login: ds[i].Login, LastActivityAt: ds[i].SummaryTimestamp},
			Surface:     core.ParseSurface(ds[i].ReportSurface, nil),
			Present:     ds[i].Kind != core.KindAbsent,
			Discrepancy: &ds[i],
		})
	}

	window := core.NewReportWindow(mustTime("2025-11-01T00:00:00Z"), mustTime("2025-11-30T00:00:00Z"), core.BufferHours(96))
	return &recon.Result{
		RunID:     "run-1",
		StartedAt: mustTime("2025-12-01T08:00:00Z"),
		Settings: recon.Settings{
			BufferHours:    96,
			ToleranceHours: 24,
			SurfaceCheck:   true,
			Support:        core.DefaultSupportTable(),
		},
		Window:        window,
		Discrepancies: ds,
		Patterns:      recon.Analyze(rows, window),
		Counts: recon.Counts{
			SummaryRows:         8,
			NoActivity:          1,
			Eligible:            4,
			ExcludedByWindow:    2,
			ExcludedBySupport:   1,
			UnsupportedFamilies: map[string]int{"neovim": 1},
			ByKind:              map[core.DiscrepancyKind]int{core.KindAbsent: 1, core.KindStale: 1, core.KindSurfaceMismatch: 1},
			Placement:           recon.PlacementCounts{Before: 1, Within: 5, After: 1},
			IndexedUsers:        1234,
		},
		Diagnostics: recon.Diagnostics{Warnings: []string{"3 detail records declared a different report window"}},
	}
}

func TestWriteDiscrepanciesCSV(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteDiscrepanciesCSV(&buf, sampleResult().Discrepancies); err != nil {
		t.Fatalf("WriteDiscrepanciesCSV: %v", err)
	}
	records, err := csv.NewReader(&buf).ReadAll()
	if err != nil {
		t.Fatalf("read back: %v", err)
	}
	if len(records) != 4 {
		t.Fatalf("got %d records, want header plus 3", len(records))
	}
	if strings.Join(records[0], ",") != strings.Join(discrepancyHeader, ",") {
		t.Errorf("header = %v", records[0])
	}

	tests := []struct {
		row  int
		col  string
		want string
	}{
		{1, "login", "ghost"},
		{1, "kind", "absent"},
		{1, "matched_index_timestamps", ""},
		{1, "mismatch_reason", ""},
		{2, "matched_index_timestamps", "2025-11-08T00:00:00Z;2025-11-10T00:00:00Z"},
		{2, "summary_line", "4"},
		{3, "matched_index_surface", "intellij/243.1"},
		{3, "mismatch_reason", "family_mismatch"},
		{3, "summary_timestamp", "2025-11-18T12:00:00Z"},
	}
	col := make(map[string]int)
	for i, h := range records[0] {
		col[h] = i
	}
	for _, tt := range tests {
		t.Run(tt.col, func(t *testing.T) {
			if got := records[tt.row][col[tt.col]]; got != tt.want {
				t.Errorf("row %d %s = %q, want %q", tt.row, tt.col, got, tt.want)
			}
		})
	}
}

func TestWriteDiscrepanciesCSV_Empty(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteDiscrepanciesCSV(&buf, nil); err != nil {
		t.Fatalf("WriteDiscrepanciesCSV: %v", err)
	}
	if got := strings.Count(buf.String(), "\n"); got != 1 {
		t.Errorf("expected header only, got %q", buf.String())
	}
}

func TestWriteMarkdown(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteMarkdown(&buf, sampleResult()); err != nil {
		t.Fatalf("WriteMarkdown: %v", err)
	}
	out := buf.String()
	for _, want := range []string{
		"## Report Window",
		"- Declared: 2025-11-01 to 2025-11-30",
		"**2025-11-01T00:00:00Z to 2025-11-26T00:00:00Z**",
		"Users in detail export: **1,234**",
		"the last 96h before the declared end",
		"within window: **71.4% (5 / 7)**",
		"  - neovim: 1",
		"Rows not corroborated: **75.0% (3 / 4)**",
		"  - Surface Mismatch: 25.0% (1 / 4)",
		"within 24h of the summary timestamp",
		"| IDE | Eligible | Discrepancies | Rate | Absent | Stale | Surface Mismatch |",
		"| VS Code | 4 | 3 | 75.0% | 1 | 1 | 1 |",
		"### Discrepancies by Date",
		"- Nearest detail observation OLDER than summary: 1",
		"- Median gap: 2.0 days",
		"| VS Code | 1.101 | copilot-chat | 0.28.0 |",
		"| JetBrains | 242 | copilot-intellij | 1.5.52 |",
		"- WARNING: 3 detail records declared",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("markdown missing %q", want)
		}
	}
	if strings.Contains(out, "surface mismatch checking was disabled") {
		t.Error("unexpected surface check note")
	}
}

func TestWriteJSON(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteJSON(&buf, sampleResult()); err != nil {
		t.Fatalf("WriteJSON: %v", err)
	}
	var decoded struct {
		RunID         string `json:"run_id"`
		Discrepancies []struct {
			Login string `json:"login"`
			Kind  string `json:"kind"`
		} `json:"discrepancies"`
		Settings struct {
			Support map[string]struct {
				IDE string `json:"ide"`
			} `json:"min_versions"`
		} `json:"settings"`
		Counts struct {
			Eligible int `json:"eligible"`
		} `json:"counts"`
	}
	if err := json.Unmarshal(buf.Bytes(), &decoded); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if decoded.RunID != "run-1" || len(decoded.Discrepancies) != 3 || decoded.Counts.Eligible != 4 {
		t.Errorf("decoded = %+v", decoded)
	}
	if decoded.Discrepancies[2].Kind != "surface_mismatch" {
		t.Errorf("kind = %q", decoded.Discrepancies[2].Kind)
	}
	if decoded.Settings.Support["vscode"].IDE != "1.101" {
		t.Errorf("min versions = %+v", decoded.Settings.Support)
	}
}

func TestWriteAll(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "out")
	paths, err := WriteAll(dir, sampleResult())
	if err != nil {
		t.Fatalf("WriteAll: %v", err)
	}
	if len(paths) != 3 {
		t.Fatalf("paths = %v", paths)
	}
	for _, name := range []string{DiscrepanciesFile, SummaryFile, ResultFile} {
		info, err := os.Stat(filepath.Join(dir, name))
		if err != nil {
			t.Errorf("%s: %v", name, err)
			continue
		}
		if info.Size() == 0 {
			t.Errorf("%s is empty", name)
		}
	}
}

func TestRenderTerminal(t *testing.T) {
	tests := []struct {
		name  string
		width int
	}{
		{"wide", 120},
		{"narrow", 50},
		{"below minimum", 10},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := RenderTerminal(sampleResult(), tt.width)
			limit := max(tt.width, minTerminalWidth)
			for _, line := range strings.Split(strings.TrimRight(out, "\n"), "\n") {
				if w := ansi.StringWidth(line); w > limit {
					t.Errorf("line wider than %d (%d): %q", limit, w, ansi.Strip(line))
				}
			}
			plain := ansi.Strip(out)
			for _, want := range []string{"usagerecon", "Discrepancies", "Absent", "By date", "By IDE", "! 3 detail records"} {
				if !strings.Contains(plain, want) {
					t.Errorf("terminal output missing %q", want)
				}
			}
		})
	}
}

func TestRenderSparkline(t *testing.T) {
	tests := []struct {
		name   string
		values []float64
		width  int
		want   string
	}{
		{"empty", nil, 10, ""},
		{"ramp", []float64{0, 7}, 10, "▁█"},
		{"flat", []float64{3, 3, 3}, 10, "▁▁▁"},
		{"downsampled", []float64{0, 1, 2, 3, 4, 5, 6, 7}, 4, "▁▃▅█"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ansi.Strip(renderSparkline(tt.values, tt.width, colorTeal)); got != tt.want {
				t.Errorf("renderSparkline = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestTextBar(t *testing.T) {
	if got := textBar(0, 10, 4); got != "░░░░" {
		t.Errorf("zero bar = %q", got)
	}
	if got := textBar(0.1, 10, 4); got != "█░░░" {
		t.Errorf("tiny bar = %q", got)
	}
	if got := textBar(10, 10, 4); got != "████" {
		t.Errorf("full bar = %q", got)
	}
}
