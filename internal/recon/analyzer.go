package recon

import (
	"cmp"
	"fmt"
	"slices"
	"time"

	"github.com/samber/lo"

	"github.com/janekbaraniewski/usagerecon/internal/core"
)

// EligibleRow is a summary row that passed the window and support checks,
// together with what the index knew about its user and the outcome.
type EligibleRow struct {
	Row          core.SummaryRow
	Surface      core.Surface
	Present      bool
	ActiveDays   int // distinct active days inside the window
	Interactions int64
	Discrepancy  *core.Discrepancy
}

// Bucket is one group of a breakdown. Rate is Discrepancies as a percentage
// of Eligible.
type Bucket struct {
	Key           string                       `json:"key"`
	Eligible      int                          `json:"eligible"`
	Discrepancies int                          `json:"discrepancies"`
	ByKind        map[core.DiscrepancyKind]int `json:"by_kind,omitempty"`
	Rate          float64                      `json:"rate"`
}

type Headline struct {
	EligibleRows   int                              `json:"eligible_rows"`
	DiscrepantRows int                              `json:"discrepant_rows"`
	EligibleUsers  int                              `json:"eligible_users"`
	AffectedUsers  int                              `json:"affected_users"`
	RowRate        float64                          `json:"row_rate"`
	UserRate       float64                          `json:"user_rate"`
	KindCounts     map[core.DiscrepancyKind]int     `json:"kind_counts"`
	KindRates      map[core.DiscrepancyKind]float64 `json:"kind_rates"`
}

// StaleGaps summarises the distance between each stale summary timestamp and
// the nearest detail observation.
type StaleGaps struct {
	Count       int     `json:"count"`
	DetailOlder int     `json:"detail_older"`
	DetailNewer int     `json:"detail_newer"`
	MedianDays  float64 `json:"median_days"`
	MaxDays     float64 `json:"max_days"`
	MeanDays    float64 `json:"mean_days"`
}

// PatternReport holds every breakdown of one run. ByDate is chronological,
// ByWeekday runs Monday to Sunday, ByHour 0 to 23 and the level breakdowns
// follow their bucket order; the rest are sorted by discrepancy count.
type PatternReport struct {
	Headline           Headline  `json:"headline"`
	ByDate             []Bucket  `json:"by_date"`
	ByFamily           []Bucket  `json:"by_family"`
	ByVersion          []Bucket  `json:"by_version"`
	ByWeekday          []Bucket  `json:"by_weekday"`
	ByHour             []Bucket  `json:"by_hour"`
	ByActivityLevel    []Bucket  `json:"by_activity_level"`
	ByInteractionLevel []Bucket  `json:"by_interaction_level"`
	StaleGaps          StaleGaps `json:"stale_gaps"`
}

var (
	activityLevels    = []string{"0 days (absent)", "1 day", "2-3 days", "4-7 days", "8-14 days", "15+ days"}
	interactionLevels = []string{"0 (absent)", "1-5", "6-20", "21-50", "51-100", "101-500", "500+"}
	weekdays          = []time.Weekday{time.Monday, time.Tuesday, time.Wednesday, time.Thursday, time.Friday, time.Saturday, time.Sunday}
)

// ActivityLevel buckets a user by distinct active days in the window.
func ActivityLevel(days int) string {
	switch {
	case days <= 0:
		return activityLevels[0]
	case days == 1:
		return activityLevels[1]
	case days <= 3:
		return activityLevels[2]
	case days <= 7:
		return activityLevels[3]
	case days <= 14:
		return activityLevels[4]
	default:
		return activityLevels[5]
	}
}

// InteractionLevel buckets a user by total user-initiated interactions.
func InteractionLevel(n int64) string {
	switch {
	case n <= 0:
		return interactionLevels[0]
	case n <= 5:
		return interactionLevels[1]
	case n <= 20:
		return interactionLevels[2]
	case n <= 50:
		return interactionLevels[3]
	case n <= 100:
		return interactionLevels[4]
	case n <= 500:
		return interactionLevels[5]
	default:
		return interactionLevels[6]
	}
}

// Analyze aggregates the outcome of every eligible row. The result depends
// only on the set of rows, not their order. ByDate carries one bucket for
// every day of a non-degenerate window, with zero buckets for quiet days.
func Analyze(rows []EligibleRow, window core.ReportWindow) PatternReport {
	var p PatternReport
	p.Headline = headline(rows)

	p.ByDate = breakdown(rows, dateKey, dateKeys(rows, window))

	p.ByFamily = byCount(breakdown(rows, func(r EligibleRow) string { return core.FamilyLabel(r.Surface.Family) }, nil))
	p.ByVersion = byCount(breakdown(rows, func(r EligibleRow) string { return r.Surface.VersionBucket() }, nil))

	p.ByWeekday = breakdown(rows, func(r EligibleRow) string {
		return r.Row.LastActivityAt.UTC().Weekday().String()
	}, lo.Map(weekdays, func(d time.Weekday, _ int) string { return d.String() }))

	hours := make([]string, 24)
	for h := range hours {
		hours[h] = fmt.Sprintf("%02d", h)
	}
	p.ByHour = breakdown(rows, func(r EligibleRow) string {
		return fmt.Sprintf("%02d", r.Row.LastActivityAt.UTC().Hour())
	}, hours)

	p.ByActivityLevel = breakdown(rows, func(r EligibleRow) string { return ActivityLevel(r.ActiveDays) }, activityLevels)
	p.ByInteractionLevel = breakdown(rows, func(r EligibleRow) string { return InteractionLevel(r.Interactions) }, interactionLevels)

	p.StaleGaps = staleGaps(rows)
	return p
}

func dateKey(r EligibleRow) string {
	return r.Row.LastActivityAt.UTC().Format(time.DateOnly)
}

// dateKeys lists the days from DeclaredStart to EffectiveEnd plus any day a
// row falls on, in chronological order.
func dateKeys(rows []EligibleRow, window core.ReportWindow) []string {
	keys := lo.Map(rows, func(r EligibleRow, _ int) string { return dateKey(r) })
	if !window.Degenerate() {
		for d := core.StartOfDay(window.DeclaredStart); !d.After(window.EffectiveEnd); d = d.AddDate(0, 0, 1) {
			keys = append(keys, d.Format(time.DateOnly))
		}
	}
	keys = lo.Uniq(keys)
	slices.Sort(keys)
	return keys
}

func headline(rows []EligibleRow) Headline {
	h := Headline{
		EligibleRows: len(rows),
		KindCounts:   make(map[core.DiscrepancyKind]int, len(core.DiscrepancyKinds)),
		KindRates:    make(map[core.DiscrepancyKind]float64, len(core.DiscrepancyKinds)),
	}
	discrepant := lo.Filter(rows, func(r EligibleRow, _ int) bool { return r.Discrepancy != nil })
	h.DiscrepantRows = len(discrepant)
	h.EligibleUsers = len(lo.Uniq(lo.Map(rows, func(r EligibleRow, _ int) string { return r.Row.Login })))
	h.AffectedUsers = len(lo.Uniq(lo.Map(discrepant, func(r EligibleRow, _ int) string { return r.Row.Login })))
	h.RowRate = percent(h.DiscrepantRows, h.EligibleRows)
	h.UserRate = percent(h.AffectedUsers, h.EligibleUsers)

	counts := lo.CountValuesBy(discrepant, func(r EligibleRow) core.DiscrepancyKind { return r.Discrepancy.Kind })
	for _, k := range core.DiscrepancyKinds {
		h.KindCounts[k] = counts[k]
		h.KindRates[k] = percent(counts[k], h.EligibleRows)
	}
	return h
}

// breakdown groups rows by key. When order is given every key in it appears,
// in that order, even with no rows.
func breakdown(rows []EligibleRow, key func(EligibleRow) string, order []string) []Bucket {
	groups := lo.GroupBy(rows, key)
	keys := order
	if keys == nil {
		keys = lo.Keys(groups)
	}
	out := make([]Bucket, 0, len(keys))
	for _, k := range keys {
		group := groups[k]
		b := Bucket{Key: k, Eligible: len(group)}
		for _, r := range group {
			if r.Discrepancy == nil {
				continue
			}
			if b.ByKind == nil {
				b.ByKind = make(map[core.DiscrepancyKind]int)
			}
			b.Discrepancies++
			b.ByKind[r.Discrepancy.Kind]++
		}
		b.Rate = percent(b.Discrepancies, b.Eligible)
		out = append(out, b)
	}
	return out
}

func byCount(buckets []Bucket) []Bucket {
	slices.SortFunc(buckets, func(a, b Bucket) int {
		return cmp.Or(
			cmp.Compare(b.Discrepancies, a.Discrepancies),
			cmp.Compare(b.Eligible, a.Eligible),
			cmp.Compare(a.Key, b.Key),
		)
	})
	return buckets
}

func staleGaps(rows []EligibleRow) StaleGaps {
	var (
		s    StaleGaps
		gaps []float64
	)
	for _, r := range rows {
		d := r.Discrepancy
		if d == nil || d.Kind != core.KindStale {
			continue
		}
		nearest, ok := NearestTimestamp(d.MatchedIndexTimestamps, d.SummaryTimestamp)
		if !ok {
			continue
		}
		gap := d.SummaryTimestamp.Sub(nearest)
		if gap > 0 {
			s.DetailOlder++
		} else {
			s.DetailNewer++
		}
		gaps = append(gaps, absDuration(gap).Hours()/24)
	}
	s.Count = len(gaps)
	if s.Count == 0 {
		return s
	}
	slices.Sort(gaps)
	s.MaxDays = gaps[len(gaps)-1]
	s.MeanDays = lo.Sum(gaps) / float64(len(gaps))
	if mid := len(gaps) / 2; len(gaps)%2 == 1 {
		s.MedianDays = gaps[mid]
	} else {
		s.MedianDays = (gaps[mid-1] + gaps[mid]) / 2
	}
	return s
}

func percent(n, of int) float64 {
	if of == 0 {
		return 0
	}
	return float64(n) * 100 / float64(of)
}
