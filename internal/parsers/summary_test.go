package parsers

import (
	"errors"
	"io"
	"strings"
	"testing"
	"time"
)

func readAllRows(t *testing.T, input string) ([]string, *SummaryReader) {
	t.Helper()
	r, err := NewSummaryReader(strings.NewReader(input))
	if err != nil {
		t.Fatalf("NewSummaryReader: %v", err)
	}
	var logins []string
	for {
		row, err := r.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			t.Fatalf("Next: %v", err)
		}
		logins = append(logins, row.Login)
	}
	return logins, r
}

func TestSummaryReader_Fields(t *testing.T) {
	input := "Report Time,Login,Last Authenticated At,Last Activity At,Last Surface Used\n" +
		"2025-12-01T06:00:00Z,octocat,2025-11-14T09:00:00Z,2025-11-15T13:00:00Z,vscode/1.85.0/copilot-chat/0.29.1\n"

	r, err := NewSummaryReader(strings.NewReader(input))
	if err != nil {
		t.Fatalf("NewSummaryReader: %v", err)
	}
	row, err := r.Next()
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if row.Line != 1 || row.Login != "octocat" {
		t.Errorf("row = %+v", row)
	}
	if want := time.Date(2025, 11, 15, 13, 0, 0, 0, time.UTC); !row.LastActivityAt.Equal(want) {
		t.Errorf("LastActivityAt = %s, want %s", row.LastActivityAt, want)
	}
	if want := time.Date(2025, 12, 1, 6, 0, 0, 0, time.UTC); !row.ReportTime.Equal(want) {
		t.Errorf("ReportTime = %s, want %s", row.ReportTime, want)
	}
	if want := time.Date(2025, 11, 14, 9, 0, 0, 0, time.UTC); !row.LastAuthenticatedAt.Equal(want) {
		t.Errorf("LastAuthenticatedAt = %s, want %s", row.LastAuthenticatedAt, want)
	}
	if row.LastSurfaceUsed != "vscode/1.85.0/copilot-chat/0.29.1" {
		t.Errorf("LastSurfaceUsed = %q", row.LastSurfaceUsed)
	}
	if _, err := r.Next(); !errors.Is(err, io.EOF) {
		t.Errorf("second Next err = %v, want io.EOF", err)
	}
}

func TestSummaryReader_HeaderVariants(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{"comma", "Login,Last Activity At,Last Surface Used\na,2025-11-01T00:00:00Z,vscode/1.0\n"},
		{"tab", "login\tlast_activity_at\tlast_surface_used\na\t2025-11-01T00:00:00Z\tvscode/1.0\n"},
		{"semicolon", "LOGIN;Last-Activity-At;Last Surface Used\na;2025-11-01T00:00:00Z;vscode/1.0\n"},
		{"bom and reordered", "\xEF\xBB\xBFLast Surface Used,Last Activity At,Login\nvscode/1.0,2025-11-01T00:00:00Z,a\n"},
		{"quoted header with comma", "\"Login\",\"Last Activity At\",\"Last Surface Used\"\r\na,2025-11-01T00:00:00Z,\"vscode/1.0\"\r\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, err := NewSummaryReader(strings.NewReader(tt.input))
			if err != nil {
				t.Fatalf("NewSummaryReader: %v", err)
			}
			row, err := r.Next()
			if err != nil {
				t.Fatalf("Next: %v", err)
			}
			if row.Login != "a" || row.LastSurfaceUsed != "vscode/1.0" || !row.HasActivity() {
				t.Errorf("row = %+v", row)
			}
		})
	}
}

func TestSummaryReader_MissingColumn(t *testing.T) {
	for _, header := range []string{
		"Report Time,Last Activity At\n",
		"Login,Last Surface Used\n",
	} {
		_, err := NewSummaryReader(strings.NewReader(header))
		if !errors.Is(err, ErrMissingColumn) {
			t.Errorf("header %q: err = %v, want ErrMissingColumn", header, err)
		}
	}
	if _, err := NewSummaryReader(strings.NewReader("")); err == nil {
		t.Error("empty input: expected error")
	}
}

func TestSummaryReader_SkipsAndCounts(t *testing.T) {
	input := strings.Join([]string{
		"Login,Last Activity At,Last Surface Used",
		"a,2025-11-01T00:00:00Z,vscode/1.0",
		",2025-11-01T00:00:00Z,vscode/1.0",
		"b,None,",
		"c,last tuesday,vscode/1.0",
		"d",
		",,",
		"e,2025-11-02 08:00:00,None",
		"a,2025-11-03T00:00:00Z,vscode/1.0",
	}, "\n")

	logins, r := readAllRows(t, input)
	want := []string{"a", "b", "e", "a"}
	if strings.Join(logins, ",") != strings.Join(want, ",") {
		t.Fatalf("logins = %v, want %v", logins, want)
	}
	got := r.Stats()
	wantStats := SummaryStats{Rows: 4, NoActivity: 1, Malformed: 1, MissingLogin: 1, BadTimestamps: 1}
	if got != wantStats {
		t.Errorf("Stats = %+v, want %+v", got, wantStats)
	}
}

func TestSummaryReader_NoneSurfaceAndLines(t *testing.T) {
	input := "Login,Last Activity At,Last Surface Used\n" +
		"skip,bad,\n" +
		"e,2025-11-02 08:00:00,None\n"
	r, err := NewSummaryReader(strings.NewReader(input))
	if err != nil {
		t.Fatalf("NewSummaryReader: %v", err)
	}
	row, err := r.Next()
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if row.LastSurfaceUsed != "" {
		t.Errorf("LastSurfaceUsed = %q, want empty", row.LastSurfaceUsed)
	}
	if row.Line != 2 {
		t.Errorf("Line = %d, want 2", row.Line)
	}
}
