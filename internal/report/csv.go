package report

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/janekbaraniewski/usagerecon/internal/core"
)

var discrepancyHeader = []string{
	"login",
	"kind",
	"summary_timestamp",
	"report_surface",
	"matched_index_timestamps",
	"matched_index_surface",
	"mismatch_reason",
	"report_time",
	"summary_line",
}

// WriteDiscrepanciesCSV writes one row per discrepancy in the order given.
// Matched timestamps are joined with ';'.
func WriteDiscrepanciesCSV(w io.Writer, ds []core.Discrepancy) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(discrepancyHeader); err != nil {
		return fmt.Errorf("report: write csv header: %w", err)
	}
	for _, d := range ds {
		if err := cw.Write(discrepancyRecord(d)); err != nil {
			return fmt.Errorf("report: write csv row for %s: %w", d.Login, err)
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return fmt.Errorf("report: flush csv: %w", err)
	}
	return nil
}

func discrepancyRecord(d core.Discrepancy) []string {
	stamps := make([]string, len(d.MatchedIndexTimestamps))
	for i, t := range d.MatchedIndexTimestamps {
		stamps[i] = formatTime(t)
	}
	var surface string
	if d.MatchedIndexSurface != nil {
		surface = d.MatchedIndexSurface.String()
	}
	var reason string
	if d.Kind == core.KindSurfaceMismatch {
		reason = string(d.MismatchReason)
	}
	return []string{
		d.Login,
		string(d.Kind),
		formatTime(d.SummaryTimestamp),
		d.ReportSurface,
		strings.Join(stamps, ";"),
		surface,
		reason,
		formatTime(d.ReportTime),
		strconv.Itoa(d.SummaryLine),
	}
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}
