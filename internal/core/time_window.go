package core

import (
	"fmt"
	"time"
)

// Placement locates a timestamp relative to a ReportWindow.
type Placement int

const (
	PlacementWithin Placement = iota
	PlacementBefore
	PlacementAfter
)

func (p Placement) String() string {
	switch p {
	case PlacementBefore:
		return "before"
	case PlacementAfter:
		return "after"
	default:
		return "within"
	}
}

// ReportWindow is the declared export window and its buffer-adjusted end.
// Both bounds are instants; a declared day maps to 00:00 UTC of that day.
type ReportWindow struct {
	DeclaredStart time.Time     `json:"declared_start"`
	DeclaredEnd   time.Time     `json:"declared_end"`
	Buffer        time.Duration `json:"buffer"`
	EffectiveEnd  time.Time     `json:"effective_end"`
}

// NewReportWindow computes EffectiveEnd = end - buffer. A negative buffer is
// treated as zero so EffectiveEnd never exceeds DeclaredEnd.
func NewReportWindow(start, end time.Time, buffer time.Duration) ReportWindow {
	if buffer < 0 {
		buffer = 0
	}
	return ReportWindow{
		DeclaredStart: start.UTC(),
		DeclaredEnd:   end.UTC(),
		Buffer:        buffer,
		EffectiveEnd:  end.UTC().Add(-buffer),
	}
}

// BufferHours converts an hour count to the buffer duration.
func BufferHours(hours int) time.Duration {
	return time.Duration(hours) * time.Hour
}

// Degenerate reports whether the buffer consumes the whole declared window,
// or the declared bounds are inverted. A degenerate window admits no rows.
func (w ReportWindow) Degenerate() bool {
	if w.DeclaredStart.IsZero() || w.DeclaredEnd.IsZero() {
		return true
	}
	if w.DeclaredEnd.Before(w.DeclaredStart) {
		return true
	}
	return w.Buffer > 0 && w.Buffer >= w.DeclaredEnd.Sub(w.DeclaredStart)
}

// Contains reports whether DeclaredStart <= t <= EffectiveEnd. Both bounds
// are inclusive.
func (w ReportWindow) Contains(t time.Time) bool {
	if w.Degenerate() || t.IsZero() {
		return false
	}
	return !t.Before(w.DeclaredStart) && !t.After(w.EffectiveEnd)
}

// Place classifies t against the effective window.
func (w ReportWindow) Place(t time.Time) Placement {
	switch {
	case t.Before(w.DeclaredStart):
		return PlacementBefore
	case t.After(w.EffectiveEnd):
		return PlacementAfter
	default:
		return PlacementWithin
	}
}

// Widen returns the smallest window covering both w and the given bounds.
// Zero bounds are ignored.
func (w ReportWindow) Widen(start, end time.Time) ReportWindow {
	s, e := w.DeclaredStart, w.DeclaredEnd
	if !start.IsZero() && (s.IsZero() || start.Before(s)) {
		s = start
	}
	if !end.IsZero() && (e.IsZero() || end.After(e)) {
		e = end
	}
	return NewReportWindow(s, e, w.Buffer)
}

// WithBuffer returns a copy of w using a different buffer.
func (w ReportWindow) WithBuffer(buffer time.Duration) ReportWindow {
	return NewReportWindow(w.DeclaredStart, w.DeclaredEnd, buffer)
}

func (w ReportWindow) String() string {
	if w.DeclaredStart.IsZero() && w.DeclaredEnd.IsZero() {
		return "(no window)"
	}
	return fmt.Sprintf("%s to %s (effective end %s, buffer %s)",
		w.DeclaredStart.Format(time.DateOnly),
		w.DeclaredEnd.Format(time.DateOnly),
		w.EffectiveEnd.Format(time.RFC3339),
		w.Buffer,
	)
}

// StartOfDay truncates t to 00:00 UTC.
func StartOfDay(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
