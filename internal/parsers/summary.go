package parsers

import (
	"bufio"
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"

	"go.uber.org/zap"

	"github.com/janekbaraniewski/usagerecon/internal/core"
)

var ErrMissingColumn = errors.New("summary: missing required column")

const (
	colReportTime = iota
	colLogin
	colLastAuthenticated
	colLastActivity
	colLastSurface
	numColumns
)

var columnNames = [numColumns]string{
	colReportTime:        "Report Time",
	colLogin:             "Login",
	colLastAuthenticated: "Last Authenticated At",
	colLastActivity:      "Last Activity At",
	colLastSurface:       "Last Surface Used",
}

// headerAliases maps a normalised header cell to its column.
var headerAliases = map[string]int{
	"report time":           colReportTime,
	"generated at":          colReportTime,
	"login":                 colLogin,
	"user login":            colLogin,
	"user":                  colLogin,
	"last authenticated at": colLastAuthenticated,
	"last authenticated":    colLastAuthenticated,
	"last activity at":      colLastActivity,
	"last activity":         colLastActivity,
	"last surface used":     colLastSurface,
	"last surface":          colLastSurface,
	"surface":               colLastSurface,
}

// SummaryStats counts what a SummaryReader saw. Rows counts the rows returned,
// NoActivity among them; the other counters are rows that were skipped.
type SummaryStats struct {
	Rows          int `json:"rows"`
	NoActivity    int `json:"no_activity"`
	Malformed     int `json:"malformed"`
	MissingLogin  int `json:"missing_login"`
	BadTimestamps int `json:"bad_timestamps"`
}

type SummaryOption func(*SummaryReader)

func WithSummaryLogger(log *zap.Logger) SummaryOption {
	return func(r *SummaryReader) {
		if log != nil {
			r.log = log
		}
	}
}

// SummaryReader reads the per-user summary export. The delimiter (comma, tab
// or semicolon) is taken from the header line and header names are matched
// case-insensitively.
type SummaryReader struct {
	csv   *csv.Reader
	cols  [numColumns]int
	line  int
	stats SummaryStats
	log   *zap.Logger
}

func NewSummaryReader(r io.Reader, opts ...SummaryOption) (*SummaryReader, error) {
	br := bufio.NewReader(r)
	if b, err := br.Peek(3); err == nil && bytes.Equal(b, []byte{0xEF, 0xBB, 0xBF}) {
		_, _ = br.Discard(3)
	}

	cr := csv.NewReader(br)
	cr.Comma = sniffDelimiter(br)
	cr.LazyQuotes = true
	cr.FieldsPerRecord = -1
	cr.ReuseRecord = true

	sr := &SummaryReader{csv: cr, log: zap.NewNop()}
	for _, opt := range opts {
		opt(sr)
	}

	header, err := cr.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("parsers: read summary header: empty input")
		}
		return nil, fmt.Errorf("parsers: read summary header: %w", err)
	}
	for i := range sr.cols {
		sr.cols[i] = -1
	}
	for i, cell := range header {
		col, ok := headerAliases[normalizeHeader(cell)]
		if ok && sr.cols[col] < 0 {
			sr.cols[col] = i
		}
	}
	for _, col := range []int{colLogin, colLastActivity} {
		if sr.cols[col] < 0 {
			return nil, fmt.Errorf("%w: %q", ErrMissingColumn, columnNames[col])
		}
	}
	return sr, nil
}

// Next returns the next usable row, or io.EOF. Rows that cannot be used are
// counted and skipped.
func (r *SummaryReader) Next() (core.SummaryRow, error) {
	for {
		rec, err := r.csv.Read()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return core.SummaryRow{}, io.EOF
			}
			var perr *csv.ParseError
			if errors.As(err, &perr) {
				r.line++
				r.stats.Malformed++
				r.log.Debug("skipping malformed summary row", zap.Int("row", r.line), zap.Error(err))
				continue
			}
			return core.SummaryRow{}, fmt.Errorf("parsers: read summary row: %w", err)
		}
		r.line++
		if isBlankRecord(rec) {
			r.line--
			continue
		}

		row, ok := r.convert(rec)
		if !ok {
			continue
		}
		r.stats.Rows++
		return row, nil
	}
}

func (r *SummaryReader) Stats() SummaryStats { return r.stats }

func (r *SummaryReader) convert(rec []string) (core.SummaryRow, bool) {
	if r.cols[colLogin] >= len(rec) || r.cols[colLastActivity] >= len(rec) {
		r.stats.Malformed++
		r.log.Debug("skipping short summary row", zap.Int("row", r.line), zap.Int("fields", len(rec)))
		return core.SummaryRow{}, false
	}
	row := core.SummaryRow{
		Line:            r.line,
		Login:           strings.TrimSpace(r.field(rec, colLogin)),
		LastSurfaceUsed: strings.TrimSpace(r.field(rec, colLastSurface)),
	}
	if row.Login == "" {
		r.stats.MissingLogin++
		return row, false
	}

	activity := r.field(rec, colLastActivity)
	if IsNullValue(activity) {
		r.stats.NoActivity++
	} else if t, ok := ParseTimestamp(activity); ok {
		row.LastActivityAt = t
	} else {
		r.stats.BadTimestamps++
		r.log.Debug("skipping summary row with unparsable last activity",
			zap.Int("row", r.line), zap.String("login", row.Login), zap.String("value", activity))
		return row, false
	}

	// Secondary timestamps are informational only.
	if v := r.field(rec, colReportTime); !IsNullValue(v) {
		row.ReportTime, _ = ParseTimestamp(v)
	}
	if v := r.field(rec, colLastAuthenticated); !IsNullValue(v) {
		row.LastAuthenticatedAt, _ = ParseTimestamp(v)
	}
	if IsNullValue(row.LastSurfaceUsed) {
		row.LastSurfaceUsed = ""
	}
	return row, true
}

func (r *SummaryReader) field(rec []string, col int) string {
	i := r.cols[col]
	if i < 0 || i >= len(rec) {
		return ""
	}
	return rec[i]
}

func normalizeHeader(cell string) string {
	cell = strings.ToLower(strings.TrimSpace(cell))
	cell = strings.NewReplacer("_", " ", "-", " ").Replace(cell)
	return strings.Join(strings.Fields(cell), " ")
}

func isBlankRecord(rec []string) bool {
	for _, f := range rec {
		if strings.TrimSpace(f) != "" {
			return false
		}
	}
	return true
}

// sniffDelimiter picks the most frequent candidate delimiter on the header
// line, ignoring quoted text. Comma wins ties and empty headers.
func sniffDelimiter(br *bufio.Reader) rune {
	peek, _ := br.Peek(4096)
	if i := bytes.IndexByte(peek, '\n'); i >= 0 {
		peek = peek[:i]
	}
	counts := map[byte]int{}
	quoted := false
	for _, b := range peek {
		switch {
		case b == '"':
			quoted = !quoted
		case !quoted && (b == ',' || b == '\t' || b == ';'):
			counts[b]++
		}
	}
	best, bestCount := byte(','), counts[',']
	for _, c := range []byte{'\t', ';'} {
		if counts[c] > bestCount {
			best, bestCount = c, counts[c]
		}
	}
	return rune(best)
}
