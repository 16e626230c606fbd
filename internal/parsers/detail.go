package parsers

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"iter"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/janekbaraniewski/usagerecon/internal/core"
)

// DefaultMaxRecordBytes caps the size of a single detail object.
const DefaultMaxRecordBytes = 16 << 20

// ScanStats counts what a RecordScanner saw. Every skipped fragment counts
// toward Malformed, including the oversize ones.
type ScanStats struct {
	Objects       int   `json:"objects"`
	Records       int   `json:"records"`
	Malformed     int   `json:"malformed"`
	Oversize      int   `json:"oversize"`
	MissingLogin  int   `json:"missing_login"`
	BadTimestamps int   `json:"bad_timestamps"`
	Bytes         int64 `json:"bytes"`
}

func (s *ScanStats) Add(o ScanStats) {
	s.Objects += o.Objects
	s.Records += o.Records
	s.Malformed += o.Malformed
	s.Oversize += o.Oversize
	s.MissingLogin += o.MissingLogin
	s.BadTimestamps += o.BadTimestamps
	s.Bytes += o.Bytes
}

type ScannerOption func(*RecordScanner)

func WithMaxRecordBytes(n int) ScannerOption {
	return func(s *RecordScanner) {
		if n > 0 {
			s.maxBytes = n
		}
	}
}

func WithLogger(log *zap.Logger) ScannerOption {
	return func(s *RecordScanner) {
		if log != nil {
			s.log = log
		}
	}
}

func WithSourceName(name string) ScannerOption {
	return func(s *RecordScanner) { s.source = name }
}

// RecordScanner reads detail-export records one at a time. Objects are
// delimited by balanced braces rather than by lines, so NDJSON, objects
// concatenated with no separator, and pretty-printed arrays of objects all
// decode the same way. Only one object is held in memory at a time.
type RecordScanner struct {
	r        *bufio.Reader
	maxBytes int
	log      *zap.Logger
	source   string

	buf   []byte
	rec   core.UsageRecord
	err   error
	stats ScanStats
	done  bool

	framing    framing
	inArray    bool
	lineIndent int
}

type framing int

const (
	framingUnknown framing = iota
	framingLines
	framingFree
)

func NewRecordScanner(r io.Reader, opts ...ScannerOption) *RecordScanner {
	s := &RecordScanner{
		r:        bufio.NewReaderSize(r, 64<<10),
		maxBytes: DefaultMaxRecordBytes,
		log:      zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.skipBOM()
	return s
}

// Scan advances to the next well-formed record. It returns false at the end
// of input or on a read error, which Err reports.
func (s *RecordScanner) Scan() bool {
	if s.done {
		return false
	}
	for {
		obj, err := s.nextObject()
		if err != nil {
			s.done = true
			if !errors.Is(err, io.EOF) {
				s.err = err
			}
			return false
		}
		if obj == nil {
			continue
		}
		rec, ok := s.decode(obj)
		if !ok {
			continue
		}
		s.rec = rec
		s.stats.Records++
		return true
	}
}

func (s *RecordScanner) Record() core.UsageRecord { return s.rec }
func (s *RecordScanner) Err() error               { return s.err }
func (s *RecordScanner) Stats() ScanStats         { return s.stats }

// All yields the remaining records. Call Err afterwards.
func (s *RecordScanner) All() iter.Seq[core.UsageRecord] {
	return func(yield func(core.UsageRecord) bool) {
		for s.Scan() {
			if !yield(s.Record()) {
				return
			}
		}
	}
}

func (s *RecordScanner) skipBOM() {
	if b, err := s.r.Peek(3); err == nil && bytes.Equal(b, []byte{0xEF, 0xBB, 0xBF}) {
		_, _ = s.r.Discard(3)
		s.stats.Bytes += 3
	}
}

// nextObject returns the bytes of the next top-level object. It returns
// (nil, nil) when an object was skipped as truncated or oversize.
//
// Once the first object of a stream has been read on a single line, outside
// any top-level array, the stream is taken as NDJSON and a newline inside an
// object ends it as truncated. Otherwise a brace that opens a line is a
// resync point when the enclosing object cannot legitimately nest it.
func (s *RecordScanner) nextObject() ([]byte, error) {
	junk := false
	openIndent := -1
	for {
		b, err := s.readByte()
		if err != nil {
			if junk {
				s.malformed("stray bytes before end of input")
			}
			return nil, err
		}
		if b == '{' {
			openIndent = s.lineIndent
			s.track(b)
			break
		}
		s.track(b)
		if b == '[' && s.framing == framingUnknown {
			s.inArray = true
		}
		if isSeparator(b) {
			continue
		}
		junk = true
	}
	if junk {
		s.malformed("stray bytes between objects")
	}

	s.buf = append(s.buf[:0], '{')
	var (
		depth                       = 1
		arrays                      int
		inString, escaped, oversize bool
		brokenString, multiline     bool
	)
	for depth > 0 {
		b, err := s.readByte()
		if err != nil {
			if errors.Is(err, io.EOF) {
				s.malformed("truncated object at end of input")
			}
			return nil, err
		}
		indent := s.lineIndent
		s.track(b)

		if b == '\n' && s.framing == framingLines {
			s.stats.Objects++
			s.malformed("truncated line")
			return nil, nil
		}
		if b == '{' && indent >= 0 && s.resyncAt(indent, openIndent, arrays, brokenString) {
			s.stats.Objects++
			s.malformed("truncated object")
			s.buf = append(s.buf[:0], '{')
			depth, arrays, openIndent = 1, 0, indent
			inString, escaped, oversize, brokenString, multiline = false, false, false, false, false
			continue
		}
		if !oversize {
			s.buf = append(s.buf, b)
			if len(s.buf) > s.maxBytes {
				oversize = true
				s.buf = s.buf[:0]
			}
		}
		switch {
		case b == '\n':
			// JSON strings cannot span lines.
			if inString {
				brokenString = true
			}
			multiline = true
			inString, escaped = false, false
		case escaped:
			escaped = false
		case inString:
			if b == '\\' {
				escaped = true
			} else if b == '"' {
				inString = false
			}
		case b == '"':
			inString = true
		case b == '[':
			arrays++
		case b == ']':
			arrays--
		case b == '{':
			depth++
		case b == '}':
			depth--
		}
	}

	s.stats.Objects++
	if s.framing == framingUnknown {
		if multiline || s.inArray {
			s.framing = framingFree
		} else {
			s.framing = framingLines
		}
	}
	if oversize {
		s.stats.Oversize++
		s.malformed("object exceeds size limit")
		return nil, nil
	}
	return s.buf, nil
}

// resyncAt reports whether a brace preceded on its line only by indent
// whitespace starts a new record rather than a nested value. Nested objects
// only appear inside arrays here, and indented output nests them deeper than
// the record that holds them.
func (s *RecordScanner) resyncAt(indent, openIndent, arrays int, brokenString bool) bool {
	switch {
	case arrays == 0, brokenString:
		return true
	case openIndent < 0:
		return false
	case openIndent == 0:
		// Unindented arrays of records put nested objects in column 0 too.
		return indent == 0 && !s.inArray
	default:
		return indent <= openIndent
	}
}

// track keeps lineIndent at the count of whitespace bytes since the last
// newline, or -1 once anything else appeared on the line.
func (s *RecordScanner) track(b byte) {
	switch {
	case b == '\n':
		s.lineIndent = 0
	case (b == ' ' || b == '\t' || b == '\r') && s.lineIndent >= 0:
		s.lineIndent++
	default:
		s.lineIndent = -1
	}
}

func (s *RecordScanner) readByte() (byte, error) {
	b, err := s.r.ReadByte()
	if err == nil {
		s.stats.Bytes++
	}
	return b, err
}

func (s *RecordScanner) malformed(reason string) {
	s.stats.Malformed++
	s.log.Debug("skipping malformed detail fragment",
		zap.String("source", s.source),
		zap.Int64("offset", s.stats.Bytes),
		zap.String("reason", reason),
	)
}

func isSeparator(b byte) bool {
	switch b {
	case ' ', '\t', '\r', '\n', '[', ']', ',':
		return true
	}
	return false
}

type detailIDEVersion struct {
	IDEVersion string `json:"ide_version"`
	SampledAt  string `json:"sampled_at"`
}

type detailPluginVersion struct {
	Plugin        string `json:"plugin"`
	PluginVersion string `json:"plugin_version"`
	SampledAt     string `json:"sampled_at"`
}

type detailIDETotal struct {
	IDE                    string              `json:"ide"`
	LastKnownIDEVersion    detailIDEVersion    `json:"last_known_ide_version"`
	LastKnownPluginVersion detailPluginVersion `json:"last_known_plugin_version"`
}

type detailRecord struct {
	ReportStartDay string           `json:"report_start_day"`
	ReportEndDay   string           `json:"report_end_day"`
	Day            string           `json:"day"`
	UserLogin      string           `json:"user_login"`
	Interactions   float64          `json:"user_initiated_interaction_count"`
	TotalsByIDE    []detailIDETotal `json:"totals_by_ide"`
}

func (s *RecordScanner) decode(obj []byte) (core.UsageRecord, bool) {
	var raw detailRecord
	if err := json.Unmarshal(obj, &raw); err != nil {
		s.malformed("invalid JSON: " + err.Error())
		return core.UsageRecord{}, false
	}

	login := strings.TrimSpace(raw.UserLogin)
	if login == "" {
		s.stats.MissingLogin++
		return core.UsageRecord{}, false
	}

	rec := core.UsageRecord{
		UserLogin:    login,
		Interactions: int64(raw.Interactions),
	}
	rec.Day = s.day(raw.Day)
	rec.ReportStartDay = s.day(raw.ReportStartDay)
	rec.ReportEndDay = s.day(raw.ReportEndDay)

	if len(raw.TotalsByIDE) > 0 {
		rec.Surfaces = make([]core.SurfaceEntry, 0, len(raw.TotalsByIDE))
	}
	for _, t := range raw.TotalsByIDE {
		entry := core.SurfaceEntry{
			IDE:           t.IDE,
			IDEVersion:    t.LastKnownIDEVersion.IDEVersion,
			Plugin:        t.LastKnownPluginVersion.Plugin,
			PluginVersion: t.LastKnownPluginVersion.PluginVersion,
		}
		sampled := t.LastKnownPluginVersion.SampledAt
		if IsNullValue(sampled) {
			sampled = t.LastKnownIDEVersion.SampledAt
		}
		if !IsNullValue(sampled) {
			if at, ok := ParseTimestamp(sampled); ok {
				entry.SampledAt = at
			} else {
				s.stats.BadTimestamps++
			}
		}
		rec.Surfaces = append(rec.Surfaces, entry)
	}
	return rec, true
}

func (s *RecordScanner) day(val string) time.Time {
	if IsNullValue(val) {
		return time.Time{}
	}
	d, ok := ParseDay(val)
	if !ok {
		s.stats.BadTimestamps++
		return time.Time{}
	}
	return d
}
