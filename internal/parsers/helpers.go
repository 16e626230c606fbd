package parsers

import (
	"strconv"
	"strings"
	"time"
)

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02 15:04:05 MST",
}

// IsNullValue reports whether val is one of the placeholders exports use for
// a missing value.
func IsNullValue(val string) bool {
	switch strings.ToLower(strings.TrimSpace(val)) {
	case "", "none", "null", "nil", "n/a", "-":
		return true
	}
	return false
}

// ParseTimestamp parses an ISO-8601 timestamp into UTC. Values without a zone
// are taken as UTC, a bare date maps to 00:00 UTC and large integers are read
// as unix seconds.
func ParseTimestamp(val string) (time.Time, bool) {
	val = strings.TrimSpace(val)
	if IsNullValue(val) {
		return time.Time{}, false
	}

	if secs, err := strconv.ParseFloat(val, 64); err == nil {
		if secs > 1_000_000_000 {
			return time.Unix(int64(secs), 0).UTC(), true
		}
		return time.Time{}, false
	}

	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, val); err == nil {
			return t.UTC(), true
		}
	}
	if t, err := time.Parse(time.DateOnly, val); err == nil {
		return t, true
	}
	return time.Time{}, false
}

// ParseDay parses a calendar date and returns 00:00 UTC of that day. Full
// timestamps are accepted and truncated.
func ParseDay(val string) (time.Time, bool) {
	val = strings.TrimSpace(val)
	if IsNullValue(val) {
		return time.Time{}, false
	}
	if t, err := time.Parse(time.DateOnly, val); err == nil {
		return t, true
	}
	t, ok := ParseTimestamp(val)
	if !ok {
		return time.Time{}, false
	}
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC), true
}
