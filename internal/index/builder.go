package index

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/janekbaraniewski/usagerecon/internal/core"
)

// BuildStats describes what the builder indexed and what it dropped.
type BuildStats struct {
	Records           int `json:"records"`
	Observations      int `json:"observations"`
	DroppedTimestamps int `json:"dropped_timestamps"`
	EmptyRecords      int `json:"empty_records"`
	WindowConflicts   int `json:"window_conflicts"`
}

type Option func(*Builder)

// WithChatPlugins sets the plugin names that resolve an unknown IDE to VS Code.
func WithChatPlugins(plugins []string) Option {
	return func(b *Builder) {
		if len(plugins) > 0 {
			b.chatPlugins = plugins
		}
	}
}

// WithFoldLoginCase lowercases logins on insert and lookup.
func WithFoldLoginCase(fold bool) Option {
	return func(b *Builder) { b.foldCase = fold }
}

func WithLogger(log *zap.Logger) Option {
	return func(b *Builder) {
		if log != nil {
			b.log = log
		}
	}
}

// Builder consumes detail records once and produces an Index. The declared
// report window is the widest span seen across all records.
type Builder struct {
	store       Store
	chatPlugins []string
	foldCase    bool
	log         *zap.Logger

	window     core.ReportWindow
	firstStart time.Time
	firstEnd   time.Time
	windowSeen bool
	stats      BuildStats
	finished   bool
}

func NewBuilder(store Store, opts ...Option) *Builder {
	b := &Builder{
		store:       store,
		chatPlugins: core.DefaultChatPlugins,
		log:         zap.NewNop(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Add indexes one record: one observation per surface entry, or a single
// surface-less observation when the record lists none. An observation takes
// its entry's sample time, falling back to the record day; with neither it
// is dropped.
func (b *Builder) Add(ctx context.Context, rec core.UsageRecord) error {
	if b.finished {
		return fmt.Errorf("index: add after finish")
	}
	b.stats.Records++
	b.trackWindow(rec.ReportStartDay, rec.ReportEndDay)

	entry := Entry{
		Login:        b.key(rec.UserLogin),
		Interactions: rec.Interactions,
	}
	if len(rec.Surfaces) == 0 {
		b.stats.EmptyRecords++
		entry.Observations = b.appendObservation(nil, rec.Day, core.Surface{})
	}
	for _, s := range rec.Surfaces {
		at := s.SampledAt
		if at.IsZero() {
			at = rec.Day
		}
		entry.Observations = b.appendObservation(entry.Observations, at, s.Surface(b.chatPlugins))
	}
	if len(entry.Observations) == 0 {
		return nil
	}

	entry.Day = rec.Day
	if entry.Day.IsZero() {
		entry.Day = entry.Observations[0].At
	}
	entry.Day = core.StartOfDay(entry.Day)

	b.stats.Observations += len(entry.Observations)
	if err := b.store.Add(ctx, entry); err != nil {
		return fmt.Errorf("index: add %s: %w", entry.Login, err)
	}
	return nil
}

func (b *Builder) appendObservation(obs []core.Observation, at time.Time, s core.Surface) []core.Observation {
	if at.IsZero() {
		b.stats.DroppedTimestamps++
		return obs
	}
	return append(obs, core.Observation{At: at.UTC(), Surface: s})
}

func (b *Builder) trackWindow(start, end time.Time) {
	if start.IsZero() && end.IsZero() {
		return
	}
	if !b.windowSeen {
		b.windowSeen = true
		b.firstStart, b.firstEnd = start, end
	} else if !start.Equal(b.firstStart) || !end.Equal(b.firstEnd) {
		if b.stats.WindowConflicts == 0 {
			b.log.Warn("detail records declare different report windows; using the widest span",
				zap.Time("first_start", b.firstStart), zap.Time("first_end", b.firstEnd),
				zap.Time("start", start), zap.Time("end", end))
		}
		b.stats.WindowConflicts++
	}
	b.window = b.window.Widen(start, end)
}

func (b *Builder) key(login string) string {
	if b.foldCase {
		return strings.ToLower(login)
	}
	return login
}

// Finish seals the store. The builder cannot be used afterwards.
func (b *Builder) Finish(ctx context.Context) (*Index, error) {
	if b.finished {
		return nil, fmt.Errorf("index: finish called twice")
	}
	b.finished = true
	if err := b.store.Seal(ctx); err != nil {
		return nil, fmt.Errorf("index: seal: %w", err)
	}
	b.log.Debug("activity index sealed",
		zap.Int("records", b.stats.Records),
		zap.Int("observations", b.stats.Observations),
		zap.Int("dropped_timestamps", b.stats.DroppedTimestamps))
	return &Index{store: b.store, foldCase: b.foldCase, window: b.window, stats: b.stats}, nil
}

// Index is the read-only activity index for one run.
type Index struct {
	store    Store
	foldCase bool
	window   core.ReportWindow
	stats    BuildStats
}

// Lookup returns the activity recorded for login.
func (x *Index) Lookup(ctx context.Context, login string) (*core.UserActivity, bool, error) {
	if x.foldCase {
		login = strings.ToLower(login)
	}
	return x.store.Activity(ctx, login)
}

// Window returns the declared report window with no buffer applied.
func (x *Index) Window() core.ReportWindow { return x.window }

func (x *Index) Stats() BuildStats { return x.stats }

// Logins lists every indexed user.
func (x *Index) Logins(ctx context.Context) ([]string, error) { return x.store.Logins(ctx) }

func (x *Index) Close() error { return x.store.Close() }
