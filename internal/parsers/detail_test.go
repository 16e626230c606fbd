package parsers

import (
	"errors"
	"io"
	"slices"
	"strings"
	"testing"
	"testing/iotest"
	"time"
)

func scanAll(t *testing.T, input string, opts ...ScannerOption) ([]string, ScanStats) {
	t.Helper()
	sc := NewRecordScanner(strings.NewReader(input), opts...)
	var logins []string
	for rec := range sc.All() {
		logins = append(logins, rec.UserLogin)
	}
	if err := sc.Err(); err != nil {
		t.Fatalf("Err() = %v", err)
	}
	return logins, sc.Stats()
}

func TestRecordScanner_Framing(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{
			name:  "ndjson",
			input: "{\"user_login\":\"a\"}\n{\"user_login\":\"b\"}\n{\"user_login\":\"c\"}\n",
		},
		{
			name:  "crlf without trailing newline",
			input: "{\"user_login\":\"a\"}\r\n{\"user_login\":\"b\"}\r\n{\"user_login\":\"c\"}",
		},
		{
			name:  "concatenated",
			input: `{"user_login":"a"}{"user_login":"b"}{"user_login":"c"}`,
		},
		{
			name: "pretty printed array",
			input: `[
  {
    "user_login": "a",
    "totals_by_ide": [
      {"ide": "vscode"}
    ]
  },
  {
    "user_login": "b"
  },
  {"user_login": "c"}
]`,
		},
		{
			name:  "byte order mark",
			input: "\xEF\xBB\xBF{\"user_login\":\"a\"}\n{\"user_login\":\"b\"}\n{\"user_login\":\"c\"}\n",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logins, stats := scanAll(t, tt.input)
			if want := []string{"a", "b", "c"}; !slices.Equal(logins, want) {
				t.Fatalf("logins = %v, want %v", logins, want)
			}
			if stats.Records != 3 || stats.Malformed != 0 {
				t.Errorf("stats = %+v, want 3 records and no malformed", stats)
			}
		})
	}
}

func TestRecordScanner_UnindentedNestedArray(t *testing.T) {
	input := "[\n{\n\"user_login\": \"a\",\n\"totals_by_ide\": [\n{\n\"ide\": \"vscode\"\n}\n]\n}\n]"
	sc := NewRecordScanner(strings.NewReader(input))
	if !sc.Scan() {
		t.Fatalf("Scan() = false, stats %+v", sc.Stats())
	}
	if got := sc.Record(); got.UserLogin != "a" || len(got.Surfaces) != 1 {
		t.Errorf("record = %+v", got)
	}
}

func TestRecordScanner_SkipsDamage(t *testing.T) {
	tests := []struct {
		name          string
		input         string
		want          []string
		malformed     int
		missingLogins int
	}{
		{
			// garbage, two truncated lines, a wrongly typed login and the
			// trailing unterminated object.
			name: "mixed ndjson damage",
			input: strings.Join([]string{
				`{"user_login":"a","day":"2025-11-01"}`,
				`garbage`,
				`{"user_login":"b","day":"20`,
				`{"user_login":"c","day":"2025-11-02"}`,
				`{"user_login":"d","day":`,
				`{"day":"2025-11-03"}`,
				`{"user_login":"e","day":"2025-11-04"}`,
				`{"user_login": 17}`,
				`{"user_login":"f"`,
			}, "\n"),
			want:          []string{"a", "c", "e"},
			malformed:     5,
			missingLogins: 1,
		},
		{
			name: "ndjson line cut inside totals",
			input: strings.Join([]string{
				`{"user_login":"a","totals_by_ide":[{"ide":"vscode"}]}`,
				`{"user_login":"b","totals_by_ide":[{"ide":"vscode"`,
				`{"user_login":"c"}`,
				`{"user_login":"d","totals_by_ide":[{"ide":"intellij"}]}`,
				`{"user_login":"e"}`,
			}, "\n"),
			want:      []string{"a", "c", "d", "e"},
			malformed: 1,
		},
		{
			name: "first ndjson line cut inside totals",
			input: strings.Join([]string{
				`{"user_login":"a","totals_by_ide":[{"ide":"vscode"`,
				`{"user_login":"b","totals_by_ide":[{"ide":"vscode"}]}`,
				`{"user_login":"c"}`,
			}, "\n"),
			want:      []string{"b", "c"},
			malformed: 1,
		},
		{
			name: "pretty array element cut inside totals",
			input: `[
  {
    "user_login": "a"
  },
  {
    "user_login": "b",
    "totals_by_ide": [
      {
        "ide": "vscode",
  {
    "user_login": "c",
    "totals_by_ide": [
      {"ide": "vscode"}
    ]
  },
  {
    "user_login": "d"
  }
]`,
			want:      []string{"a", "c", "d"},
			malformed: 1,
		},
		{
			name: "pretty array element cut inside a string",
			input: `[
  {
    "user_login": "a",
    "totals_by_ide": [
      {
        "ide": "vsc
  {
    "user_login": "b"
  }
]`,
			want:      []string{"b"},
			malformed: 1,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logins, stats := scanAll(t, tt.input)
			if !slices.Equal(logins, tt.want) {
				t.Fatalf("logins = %v, want %v (stats %+v)", logins, tt.want, stats)
			}
			if stats.Malformed != tt.malformed {
				t.Errorf("Malformed = %d, want %d", stats.Malformed, tt.malformed)
			}
			if stats.MissingLogin != tt.missingLogins {
				t.Errorf("MissingLogin = %d, want %d", stats.MissingLogin, tt.missingLogins)
			}
		})
	}
}

func TestRecordScanner_BracesInsideStrings(t *testing.T) {
	input := `{"user_login":"we{ird}\"x","day":"2025-11-01"}{"user_login":"n\\"}`
	logins, stats := scanAll(t, input)
	if want := []string{`we{ird}"x`, `n\`}; !slices.Equal(logins, want) {
		t.Fatalf("logins = %q, want %q (stats %+v)", logins, want, stats)
	}
}

func TestRecordScanner_Oversize(t *testing.T) {
	big := `{"user_login":"big","pad":"` + strings.Repeat("x", 256) + `"}`
	input := big + "\n" + `{"user_login":"small"}` + "\n"

	logins, stats := scanAll(t, input, WithMaxRecordBytes(128))
	if !slices.Equal(logins, []string{"small"}) {
		t.Fatalf("logins = %v, want [small]", logins)
	}
	if stats.Oversize != 1 || stats.Objects != 2 {
		t.Errorf("stats = %+v, want 1 oversize of 2 objects", stats)
	}
}

func TestRecordScanner_DecodesFields(t *testing.T) {
	input := `{
  "report_start_day": "2025-10-30",
  "report_end_day": "2025-11-26",
  "day": "2025-11-20",
  "user_login": " alice ",
  "user_initiated_interaction_count": 12.0,
  "totals_by_ide": [
    {
      "ide": "vscode",
      "last_known_ide_version": {"ide_version": "1.104.1", "sampled_at": "2025-11-20T08:00:00Z"},
      "last_known_plugin_version": {"plugin": "copilot-chat", "plugin_version": "0.31.2", "sampled_at": "2025-11-20T09:15:00Z"}
    },
    {
      "ide": "intellij",
      "last_known_ide_version": {"ide_version": "2025.2", "sampled_at": "2025-11-20T10:00:00+02:00"},
      "last_known_plugin_version": {"plugin": null, "plugin_version": null, "sampled_at": null}
    },
    {
      "ide": "xcode",
      "last_known_ide_version": {"ide_version": "16.1", "sampled_at": "sometime"}
    }
  ]
}`
	sc := NewRecordScanner(strings.NewReader(input))
	if !sc.Scan() {
		t.Fatalf("Scan() = false, stats %+v", sc.Stats())
	}
	rec := sc.Record()

	if rec.UserLogin != "alice" {
		t.Errorf("UserLogin = %q, want alice", rec.UserLogin)
	}
	if rec.Interactions != 12 {
		t.Errorf("Interactions = %d, want 12", rec.Interactions)
	}
	wantDay := time.Date(2025, 11, 20, 0, 0, 0, 0, time.UTC)
	if !rec.Day.Equal(wantDay) {
		t.Errorf("Day = %s, want %s", rec.Day, wantDay)
	}
	if !rec.ReportEndDay.Equal(time.Date(2025, 11, 26, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("ReportEndDay = %s", rec.ReportEndDay)
	}
	if len(rec.Surfaces) != 3 {
		t.Fatalf("len(Surfaces) = %d, want 3", len(rec.Surfaces))
	}

	vs := rec.Surfaces[0]
	if vs.IDE != "vscode" || vs.IDEVersion != "1.104.1" || vs.Plugin != "copilot-chat" || vs.PluginVersion != "0.31.2" {
		t.Errorf("vscode entry = %+v", vs)
	}
	if want := time.Date(2025, 11, 20, 9, 15, 0, 0, time.UTC); !vs.SampledAt.Equal(want) {
		t.Errorf("plugin sampled_at should win: got %s, want %s", vs.SampledAt, want)
	}
	if want := time.Date(2025, 11, 20, 8, 0, 0, 0, time.UTC); !rec.Surfaces[1].SampledAt.Equal(want) {
		t.Errorf("ide sampled_at fallback: got %s, want %s", rec.Surfaces[1].SampledAt, want)
	}
	if !rec.Surfaces[2].SampledAt.IsZero() {
		t.Errorf("unparsable sampled_at should stay zero, got %s", rec.Surfaces[2].SampledAt)
	}
	if got := sc.Stats().BadTimestamps; got != 1 {
		t.Errorf("BadTimestamps = %d, want 1", got)
	}
	if sc.Scan() {
		t.Error("second Scan() = true, want false")
	}
}

func TestRecordScanner_ReadError(t *testing.T) {
	boom := errors.New("disk on fire")
	r := io.MultiReader(strings.NewReader(`{"user_login":"a"}`+"\n"), iotest.ErrReader(boom))
	sc := NewRecordScanner(r)

	if !sc.Scan() {
		t.Fatal("first Scan() = false, want true")
	}
	if sc.Scan() {
		t.Fatal("second Scan() = true, want false")
	}
	if !errors.Is(sc.Err(), boom) {
		t.Errorf("Err() = %v, want %v", sc.Err(), boom)
	}
}

func TestRecordScanner_Empty(t *testing.T) {
	for _, input := range []string{"", "\n\n", "[]", "[\n]\n"} {
		logins, stats := scanAll(t, input)
		if len(logins) != 0 || stats.Malformed != 0 {
			t.Errorf("input %q: logins %v stats %+v", input, logins, stats)
		}
	}
}
