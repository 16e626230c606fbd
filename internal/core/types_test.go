package core

import (
	"testing"
	"time"
)

func TestUserActivityTimestamps(t *testing.T) {
	a := &UserActivity{Observations: []Observation{
		{At: ts("2025-11-01T10:00:00Z"), Surface: NewSurface("vscode", "1.104.0", "", "", nil)},
		{At: ts("2025-11-01T10:00:00Z"), Surface: NewSurface("intellij", "243.1", "", "", nil)},
		{At: ts("2025-11-03T08:00:00Z")},
	}}
	got := a.Timestamps()
	if len(got) != 2 || !got[0].Equal(ts("2025-11-01T10:00:00Z")) || !got[1].Equal(ts("2025-11-03T08:00:00Z")) {
		t.Errorf("Timestamps() = %v", got)
	}

	var absent *UserActivity
	if absent.Timestamps() != nil {
		t.Error("nil activity should have no timestamps")
	}
}

func TestUserActivityActiveDaysBetween(t *testing.T) {
	a := &UserActivity{ActiveDays: []time.Time{day("2025-10-31"), day("2025-11-01"), day("2025-11-10"), day("2025-11-26"), day("2025-11-27")}}
	tests := []struct {
		name       string
		start, end time.Time
		want       int
	}{
		{"whole window", day("2025-11-01"), day("2025-11-26"), 3},
		{"single day", day("2025-11-10"), day("2025-11-10"), 1},
		{"empty range", day("2025-11-11"), day("2025-11-25"), 0},
		{"inverted", day("2025-11-26"), day("2025-11-01"), 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := a.ActiveDaysBetween(tt.start, tt.end); got != tt.want {
				t.Errorf("ActiveDaysBetween = %d, want %d", got, tt.want)
			}
		})
	}
	var absent *UserActivity
	if absent.ActiveDaysBetween(day("2025-11-01"), day("2025-11-30")) != 0 {
		t.Error("nil activity should have no active days")
	}
}

func TestSummaryRowHasActivity(t *testing.T) {
	if (SummaryRow{}).HasActivity() {
		t.Error("zero row has activity")
	}
	if !(SummaryRow{LastActivityAt: ts("2025-11-01T00:00:00Z")}).HasActivity() {
		t.Error("row with timestamp has no activity")
	}
}

func TestDiscrepancyKindLabel(t *testing.T) {
	want := map[DiscrepancyKind]string{
		KindAbsent:          "Absent",
		KindStale:           "Stale",
		KindSurfaceMismatch: "Surface Mismatch",
		"other":             "other",
	}
	for k, label := range want {
		if got := k.Label(); got != label {
			t.Errorf("%q.Label() = %q, want %q", k, got, label)
		}
	}
}

func TestDiscrepancyLatestIndexTimestamp(t *testing.T) {
	d := Discrepancy{MatchedIndexTimestamps: []time.Time{ts("2025-11-01T00:00:00Z"), ts("2025-11-05T00:00:00Z")}}
	if got := d.LatestIndexTimestamp(); !got.Equal(ts("2025-11-05T00:00:00Z")) {
		t.Errorf("LatestIndexTimestamp() = %s", got)
	}
	if !(Discrepancy{}).LatestIndexTimestamp().IsZero() {
		t.Error("absent discrepancy should have zero latest timestamp")
	}
}
