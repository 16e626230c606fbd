package core

import (
	"sort"
	"time"
)

// SurfaceEntry is one element of a detail record's totals_by_ide list.
type SurfaceEntry struct {
	IDE           string    `json:"ide"`
	IDEVersion    string    `json:"ide_version,omitempty"`
	Plugin        string    `json:"plugin,omitempty"`
	PluginVersion string    `json:"plugin_version,omitempty"`
	SampledAt     time.Time `json:"sampled_at,omitempty"` // zero when the export carried no sample time
}

// Surface returns the parsed descriptor for the entry. Detail-side values are
// already split into fields, so only normalisation is applied.
func (e SurfaceEntry) Surface(chatPlugins []string) Surface {
	return NewSurface(e.IDE, e.IDEVersion, e.Plugin, e.PluginVersion, chatPlugins)
}

// UsageRecord is a single decoded entry of the detail export.
type UsageRecord struct {
	UserLogin      string         `json:"user_login"`
	Day            time.Time      `json:"day"`
	ReportStartDay time.Time      `json:"report_start_day"`
	ReportEndDay   time.Time      `json:"report_end_day"`
	Interactions   int64          `json:"user_initiated_interaction_count,omitempty"`
	Surfaces       []SurfaceEntry `json:"totals_by_ide,omitempty"`
}

// Observation is one indexed sighting of a user in the detail export.
type Observation struct {
	At      time.Time `json:"at"`
	Surface Surface   `json:"surface"`
}

// UserActivity is everything the index knows about one user.
// Observations are sorted ascending by At and never empty.
type UserActivity struct {
	Login        string        `json:"login"`
	Observations []Observation `json:"observations"`
	ActiveDays   []time.Time   `json:"active_days"` // distinct UTC days, ascending
	Interactions int64         `json:"interactions"`
}

// Timestamps returns the distinct observation times in ascending order.
func (a *UserActivity) Timestamps() []time.Time {
	if a == nil {
		return nil
	}
	out := make([]time.Time, 0, len(a.Observations))
	for _, o := range a.Observations {
		if n := len(out); n > 0 && out[n-1].Equal(o.At) {
			continue
		}
		out = append(out, o.At)
	}
	return out
}

// ActiveDaysBetween counts distinct active days d with start <= d <= end.
func (a *UserActivity) ActiveDaysBetween(start, end time.Time) int {
	if a == nil {
		return 0
	}
	lo := sort.Search(len(a.ActiveDays), func(i int) bool { return !a.ActiveDays[i].Before(start) })
	n := 0
	for _, d := range a.ActiveDays[lo:] {
		if d.After(end) {
			break
		}
		n++
	}
	return n
}

// SummaryRow is one row of the per-user summary export.
type SummaryRow struct {
	Line                int       `json:"line"` // 1-based data row number, header excluded
	ReportTime          time.Time `json:"report_time,omitempty"`
	Login               string    `json:"login"`
	LastAuthenticatedAt time.Time `json:"last_authenticated_at,omitempty"`
	LastActivityAt      time.Time `json:"last_activity_at"` // zero when the export said None
	LastSurfaceUsed     string    `json:"last_surface_used"`
}

// HasActivity reports whether the row carries a last-activity timestamp.
func (r SummaryRow) HasActivity() bool {
	return !r.LastActivityAt.IsZero()
}

type DiscrepancyKind string

const (
	KindAbsent          DiscrepancyKind = "absent"
	KindStale           DiscrepancyKind = "stale"
	KindSurfaceMismatch DiscrepancyKind = "surface_mismatch"
)

// DiscrepancyKinds lists every kind in presentation order.
var DiscrepancyKinds = []DiscrepancyKind{KindAbsent, KindStale, KindSurfaceMismatch}

func (k DiscrepancyKind) Label() string {
	switch k {
	case KindAbsent:
		return "Absent"
	case KindStale:
		return "Stale"
	case KindSurfaceMismatch:
		return "Surface Mismatch"
	default:
		return string(k)
	}
}

// Discrepancy is a summary row the detail export does not corroborate.
type Discrepancy struct {
	Login                  string          `json:"login"`
	Kind                   DiscrepancyKind `json:"kind"`
	SummaryTimestamp       time.Time       `json:"summary_timestamp"`
	MatchedIndexTimestamps []time.Time     `json:"matched_index_timestamps,omitempty"`
	ReportSurface          string          `json:"report_surface"`
	MatchedIndexSurface    *Surface        `json:"matched_index_surface,omitempty"`
	MismatchReason         MatchResult     `json:"mismatch_reason,omitempty"`
	ReportTime             time.Time       `json:"report_time,omitempty"`
	SummaryLine            int             `json:"summary_line"`
}

// LatestIndexTimestamp returns the newest matched detail timestamp, or zero.
func (d Discrepancy) LatestIndexTimestamp() time.Time {
	if len(d.MatchedIndexTimestamps) == 0 {
		return time.Time{}
	}
	return d.MatchedIndexTimestamps[len(d.MatchedIndexTimestamps)-1]
}
