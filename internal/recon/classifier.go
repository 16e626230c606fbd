package recon

import (
	"sort"
	"time"

	"github.com/janekbaraniewski/usagerecon/internal/core"
)

// DefaultTolerance is how far a detail observation may sit from the summary
// timestamp and still corroborate it, in either direction.
const DefaultTolerance = 24 * time.Hour

// Classifier decides whether one eligible summary row is corroborated by the
// activity index. It holds no mutable state.
type Classifier struct {
	Tolerance    time.Duration
	SurfaceCheck bool
	Matcher      core.Matcher
	ChatPlugins  []string
}

func NewClassifier(tolerance time.Duration, surfaceCheck bool, matcher core.Matcher, chatPlugins []string) Classifier {
	if tolerance < 0 {
		tolerance = 0
	}
	return Classifier{
		Tolerance:    tolerance,
		SurfaceCheck: surfaceCheck,
		Matcher:      matcher,
		ChatPlugins:  chatPlugins,
	}
}

// Classify returns the discrepancy for row, or false when the row is
// corroborated. act is the row's index entry and found whether one exists.
func (c Classifier) Classify(row core.SummaryRow, act *core.UserActivity, found bool) (core.Discrepancy, bool) {
	d := core.Discrepancy{
		Login:            row.Login,
		SummaryTimestamp: row.LastActivityAt,
		ReportSurface:    row.LastSurfaceUsed,
		ReportTime:       row.ReportTime,
		SummaryLine:      row.Line,
	}

	if !found || act == nil || len(act.Observations) == 0 {
		d.Kind = core.KindAbsent
		return d, true
	}

	near := c.withinTolerance(act.Observations, row.LastActivityAt)
	if len(near) == 0 {
		d.Kind = core.KindStale
		d.MatchedIndexTimestamps = act.Timestamps()
		return d, true
	}
	if !c.SurfaceCheck {
		return core.Discrepancy{}, false
	}

	report := core.ParseSurface(row.LastSurfaceUsed, c.ChatPlugins)
	if report.IsZero() {
		return core.Discrepancy{}, false
	}

	closest, reason := -1, core.MatchOK
	for i, o := range near {
		r := c.Matcher.Match(report, o.Surface)
		if r.Matched() {
			return core.Discrepancy{}, false
		}
		if closest < 0 || absDuration(o.At.Sub(row.LastActivityAt)) < absDuration(near[closest].At.Sub(row.LastActivityAt)) {
			closest, reason = i, r
		}
	}

	surface := near[closest].Surface
	d.Kind = core.KindSurfaceMismatch
	d.MatchedIndexTimestamps = (&core.UserActivity{Observations: near}).Timestamps()
	d.MatchedIndexSurface = &surface
	d.MismatchReason = reason
	return d, true
}

// withinTolerance returns the observations with |At - t| <= Tolerance. Both
// ends are inclusive.
func (c Classifier) withinTolerance(obs []core.Observation, t time.Time) []core.Observation {
	lo, hi := t.Add(-c.Tolerance), t.Add(c.Tolerance)
	i := sort.Search(len(obs), func(i int) bool { return !obs[i].At.Before(lo) })
	j := sort.Search(len(obs), func(i int) bool { return obs[i].At.After(hi) })
	if i >= j {
		return nil
	}
	return obs[i:j]
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}

// NearestTimestamp returns the element of ts closest to t. ts must be sorted.
func NearestTimestamp(ts []time.Time, t time.Time) (time.Time, bool) {
	if len(ts) == 0 {
		return time.Time{}, false
	}
	i := sort.Search(len(ts), func(i int) bool { return !ts[i].Before(t) })
	switch {
	case i == 0:
		return ts[0], true
	case i == len(ts):
		return ts[len(ts)-1], true
	case t.Sub(ts[i-1]) <= ts[i].Sub(t):
		return ts[i-1], true
	default:
		return ts[i], true
	}
}
