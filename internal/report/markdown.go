package report

import (
	"bufio"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/janekbaraniewski/usagerecon/internal/core"
	"github.com/janekbaraniewski/usagerecon/internal/recon"
)

const textBarWidth = 30

// WriteMarkdown renders the human-readable run summary.
func WriteMarkdown(w io.Writer, res *recon.Result) error {
	bw := bufio.NewWriter(w)
	m := &mdWriter{w: bw}

	m.line("# Copilot Usage Reconciliation")
	m.blank()
	m.line("**Run:** `%s`  ", res.RunID)
	m.line("**Started:** %s", formatTime(res.StartedAt))
	m.blank()

	m.window(res)
	m.activity(res)
	m.analysis(res)
	m.breakdowns(res.Patterns)
	m.staleGaps(res.Patterns.StaleGaps)
	m.levels(res.Patterns)
	m.minimums(res.Settings.Support)
	m.diagnostics(res.Diagnostics)

	if m.err != nil {
		return fmt.Errorf("report: write markdown: %w", m.err)
	}
	if err := bw.Flush(); err != nil {
		return fmt.Errorf("report: write markdown: %w", err)
	}
	return nil
}

type mdWriter struct {
	w   io.Writer
	err error
}

func (m *mdWriter) line(format string, args ...any) {
	if m.err != nil {
		return
	}
	_, m.err = fmt.Fprintf(m.w, format+"\n", args...)
}

func (m *mdWriter) blank() { m.line("") }

func (m *mdWriter) window(res *recon.Result) {
	w := res.Window
	m.line("## Report Window")
	m.blank()
	m.line("- Declared: %s to %s", day(w.DeclaredStart), day(w.DeclaredEnd))
	m.line("- Analysis: **%s to %s**", formatTime(w.DeclaredStart), formatTime(w.EffectiveEnd))
	m.line("- Users in detail export: **%s**", count(res.Counts.IndexedUsers))
	m.blank()
	m.line("NOTE: the last %s before the declared end are excluded to allow for export lag", hours(w.Buffer))
	m.blank()
}

func (m *mdWriter) activity(res *recon.Result) {
	c := res.Counts
	active := c.SummaryRows - c.NoActivity
	m.line("## Activity Report")
	m.blank()
	m.line("- Summary rows: %s", count(c.SummaryRows))
	m.line("- Rows with activity: %s", ratio(active, c.SummaryRows))
	m.line("  - before window: %s", ratio(c.Placement.Before, active))
	m.line("  - within window: **%s**", ratio(c.Placement.Within, active))
	m.line("  - after window: %s", ratio(c.Placement.After, active))
	m.line("- Excluded by window: %s", count(c.ExcludedByWindow))
	m.line("- Excluded as unsupported: %s", count(c.ExcludedBySupport))
	for _, f := range sortedKeys(c.UnsupportedFamilies) {
		m.line("  - %s: %s", f, count(c.UnsupportedFamilies[f]))
	}
	m.line("- Eligible rows: **%s**", count(c.Eligible))
	m.blank()
}

func (m *mdWriter) analysis(res *recon.Result) {
	h := res.Patterns.Headline
	m.line("## Analysis")
	m.blank()
	m.line("- Rows not corroborated: **%s**", ratio(h.DiscrepantRows, h.EligibleRows))
	m.line("- Users affected: **%s**", ratio(h.AffectedUsers, h.EligibleUsers))
	for _, k := range core.DiscrepancyKinds {
		m.line("  - %s: %s", k.Label(), ratio(h.KindCounts[k], h.EligibleRows))
	}
	m.blank()
	m.line("NOTE: Stale means no detail observation within %s of the summary timestamp", hours(time.Duration(res.Settings.ToleranceHours*float64(time.Hour))))
	if !res.Settings.SurfaceCheck {
		m.line("NOTE: surface mismatch checking was disabled for this run")
	}
	m.blank()
}

func (m *mdWriter) breakdowns(p recon.PatternReport) {
	m.bucketTable("IDEs", "IDE", p.ByFamily)
	m.bucketTable("Versions", "Version", p.ByVersion)

	m.line("### Discrepancies by Date")
	m.blank()
	m.barBlock(p.ByDate, func(b recon.Bucket) float64 { return float64(b.Discrepancies) }, func(b recon.Bucket) string {
		return fmt.Sprintf("%d/%d", b.Discrepancies, b.Eligible)
	})

	m.line("### Discrepancies by Weekday")
	m.blank()
	m.barBlock(p.ByWeekday, func(b recon.Bucket) float64 { return b.Rate }, rateLabel)

	m.line("### Discrepancies by Hour (UTC)")
	m.blank()
	m.barBlock(nonEmpty(p.ByHour), func(b recon.Bucket) float64 { return b.Rate }, rateLabel)
}

func (m *mdWriter) bucketTable(title, keyHeader string, buckets []recon.Bucket) {
	m.line("### %s", title)
	m.blank()
	if len(buckets) == 0 {
		m.line("No eligible rows.")
		m.blank()
		return
	}
	header := []string{keyHeader, "Eligible", "Discrepancies", "Rate"}
	for _, k := range core.DiscrepancyKinds {
		header = append(header, k.Label())
	}
	m.line("| %s |", strings.Join(header, " | "))
	m.line("|%s", strings.Repeat("---|", len(header)))
	for _, b := range buckets {
		cells := []string{b.Key, count(b.Eligible), count(b.Discrepancies), fmt.Sprintf("%.1f%%", b.Rate)}
		for _, k := range core.DiscrepancyKinds {
			cells = append(cells, count(b.ByKind[k]))
		}
		m.line("| %s |", strings.Join(cells, " | "))
	}
	m.blank()
}

func (m *mdWriter) barBlock(buckets []recon.Bucket, value func(recon.Bucket) float64, label func(recon.Bucket) string) {
	if len(buckets) == 0 {
		m.line("No eligible rows.")
		m.blank()
		return
	}
	maxV := 0.0
	keyW := 0
	for _, b := range buckets {
		maxV = max(maxV, value(b))
		keyW = max(keyW, len(b.Key))
	}
	m.line("```")
	for _, b := range buckets {
		m.line("  %-*s |%s| %s", keyW, b.Key, textBar(value(b), maxV, textBarWidth), label(b))
	}
	m.line("```")
	m.blank()
}

func (m *mdWriter) staleGaps(g recon.StaleGaps) {
	m.line("### Timestamp Gap Analysis")
	m.blank()
	if g.Count == 0 {
		m.line("No stale rows.")
		m.blank()
		return
	}
	m.line("- Nearest detail observation OLDER than summary: %s", count(g.DetailOlder))
	m.line("- Nearest detail observation NEWER than summary: %s", count(g.DetailNewer))
	m.line("- Median gap: %.1f days", g.MedianDays)
	m.line("- Mean gap: %.1f days", g.MeanDays)
	m.line("- Max gap: %.1f days", g.MaxDays)
	m.blank()
}

func (m *mdWriter) levels(p recon.PatternReport) {
	m.line("### Discrepancy Rate by Active Days")
	m.blank()
	m.barBlock(p.ByActivityLevel, func(b recon.Bucket) float64 { return b.Rate }, rateLabel)
	m.line("### Discrepancy Rate by Interaction Count")
	m.blank()
	m.barBlock(p.ByInteractionLevel, func(b recon.Bucket) float64 { return b.Rate }, rateLabel)
}

func (m *mdWriter) minimums(t core.SupportTable) {
	m.line("## Minimum Supported Versions")
	m.blank()
	m.line("| IDE | Minimum IDE | Plugin | Minimum Plugin |")
	m.line("|---|---|---|---|")
	for _, f := range t.Families() {
		row := t[f]
		m.line("| %s | %s | %s | %s |", core.FamilyLabel(f), orDash(row.IDE.String()), orDash(row.PluginName), orDash(row.Plugin.String()))
	}
	m.blank()
}

func (m *mdWriter) diagnostics(d recon.Diagnostics) {
	m.line("## Diagnostics")
	m.blank()
	m.line("- Detail records: %s (%s read)", count(d.Detail.Records), humanize.Bytes(uint64(max(d.Detail.Bytes, 0))))
	m.line("- Malformed fragments skipped: %s", count(d.Detail.Malformed))
	m.line("- Oversize records skipped: %s", count(d.Detail.Oversize))
	m.line("- Detail records without login: %s", count(d.Detail.MissingLogin))
	m.line("- Summary rows skipped: %s malformed, %s without login, %s with bad timestamps",
		count(d.Summary.Malformed), count(d.Summary.MissingLogin), count(d.Summary.BadTimestamps))
	for _, w := range d.Warnings {
		m.line("- WARNING: %s", w)
	}
	m.blank()
}

func textBar(v, maxV float64, width int) string {
	n := 0
	if maxV > 0 {
		n = int(v / maxV * float64(width))
	}
	if n < 1 && v > 0 {
		n = 1
	}
	return strings.Repeat("█", n) + strings.Repeat("░", width-n)
}

func rateLabel(b recon.Bucket) string {
	return fmt.Sprintf("%5.1f%% (%d/%d)", b.Rate, b.Discrepancies, b.Eligible)
}

func nonEmpty(buckets []recon.Bucket) []recon.Bucket {
	out := buckets[:0:0]
	for _, b := range buckets {
		if b.Eligible > 0 {
			out = append(out, b)
		}
	}
	return out
}

func ratio(n, of int) string {
	pct := 0.0
	if of > 0 {
		pct = float64(n) * 100 / float64(of)
	}
	return fmt.Sprintf("%.1f%% (%s / %s)", pct, count(n), count(of))
}

func count(n int) string { return humanize.Comma(int64(n)) }

func hours(d time.Duration) string {
	return humanize.Ftoa(d.Hours()) + "h"
}

func day(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.UTC().Format(time.DateOnly)
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
