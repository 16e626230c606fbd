package recon

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/janekbaraniewski/usagerecon/internal/core"
	"github.com/janekbaraniewski/usagerecon/internal/index"
	"github.com/janekbaraniewski/usagerecon/internal/parsers"
)

var (
	ErrNoDetailRecords = errors.New("recon: no parsable detail records in any input")
	ErrNoSummaryRows   = errors.New("recon: no parsable summary rows")
)

const cancelCheckEvery = 1024

// StoreFactory opens the store backing the activity index of one run.
type StoreFactory func(ctx context.Context) (index.Store, error)

func MemoryStoreFactory(context.Context) (index.Store, error) { return index.NewMemoryStore(), nil }

// SQLiteStoreFactory returns a factory for an on-disk index at path; an empty
// path uses a temporary file.
func SQLiteStoreFactory(path string) StoreFactory {
	return func(ctx context.Context) (index.Store, error) {
		return index.OpenSQLiteStore(ctx, path)
	}
}

type Options struct {
	Buffer         time.Duration
	Tolerance      time.Duration
	SurfaceCheck   bool
	Support        core.SupportTable
	FamilyAliases  map[string]string
	ChatPlugins    []string
	FoldLoginCase  bool
	MaxRecordBytes int
	NewStore       StoreFactory
}

func DefaultOptions() Options {
	return Options{
		Buffer:       core.BufferHours(96),
		Tolerance:    DefaultTolerance,
		SurfaceCheck: true,
		Support:      core.DefaultSupportTable(),
		ChatPlugins:  core.DefaultChatPlugins,
		NewStore:     MemoryStoreFactory,
	}
}

type Inputs struct {
	Detail  []parsers.Source
	Summary parsers.Source
}

type PlacementCounts struct {
	Before int `json:"before"`
	Within int `json:"within"`
	After  int `json:"after"`
}

// Counts are the run-level totals. Every summary row with activity is
// counted in exactly one of ExcludedBySupport, ExcludedByWindow and Eligible.
// The support check comes first, so an unsupported surface is counted as
// such wherever its timestamp falls. Placement covers every row with activity.
type Counts struct {
	SummaryRows         int                          `json:"summary_rows"`
	NoActivity          int                          `json:"no_activity"`
	Eligible            int                          `json:"eligible"`
	ExcludedByWindow    int                          `json:"excluded_by_window"`
	ExcludedBySupport   int                          `json:"excluded_by_support"`
	UnsupportedFamilies map[string]int               `json:"unsupported_families,omitempty"`
	ByKind              map[core.DiscrepancyKind]int `json:"by_kind"`
	Placement           PlacementCounts              `json:"placement"`
	IndexedUsers        int                          `json:"indexed_users"`
}

type FileStats struct {
	Name  string            `json:"name"`
	Stats parsers.ScanStats `json:"stats"`
	Error string            `json:"error,omitempty"`
}

// Diagnostics collects the locally recovered problems of a run.
type Diagnostics struct {
	Detail      parsers.ScanStats    `json:"detail"`
	DetailFiles []FileStats          `json:"detail_files"`
	Summary     parsers.SummaryStats `json:"summary"`
	Index       index.BuildStats     `json:"index"`
	Warnings    []string             `json:"warnings,omitempty"`
}

type Settings struct {
	BufferHours    float64           `json:"buffer_hours"`
	ToleranceHours float64           `json:"tolerance_hours"`
	SurfaceCheck   bool              `json:"surface_check"`
	FoldLoginCase  bool              `json:"fold_login_case"`
	Support        core.SupportTable `json:"min_versions"`
}

type Result struct {
	RunID         string             `json:"run_id"`
	StartedAt     time.Time          `json:"started_at"`
	FinishedAt    time.Time          `json:"finished_at"`
	Settings      Settings           `json:"settings"`
	Window        core.ReportWindow  `json:"window"`
	Discrepancies []core.Discrepancy `json:"discrepancies"`
	Patterns      PatternReport      `json:"patterns"`
	Counts        Counts             `json:"counts"`
	Diagnostics   Diagnostics        `json:"diagnostics"`
}

type Engine struct {
	opts       Options
	classifier Classifier
	log        *zap.Logger
	now        func() time.Time
}

func NewEngine(opts Options, log *zap.Logger) *Engine {
	if log == nil {
		log = zap.NewNop()
	}
	if opts.NewStore == nil {
		opts.NewStore = MemoryStoreFactory
	}
	if len(opts.ChatPlugins) == 0 {
		opts.ChatPlugins = core.DefaultChatPlugins
	}
	if opts.Support == nil {
		opts.Support = core.DefaultSupportTable()
	}
	opts.Support = opts.Support.Normalized()
	return &Engine{
		opts:       opts,
		classifier: NewClassifier(opts.Tolerance, opts.SurfaceCheck, core.NewMatcher(opts.FamilyAliases), opts.ChatPlugins),
		log:        log,
		now:        time.Now,
	}
}

// Run reconciles the summary export against the detail exports. It fails
// only when either side yields nothing usable, when the index store fails, or
// when ctx is cancelled.
func (e *Engine) Run(ctx context.Context, in Inputs) (*Result, error) {
	res := &Result{
		RunID:     uuid.NewString(),
		StartedAt: e.now().UTC(),
		Settings: Settings{
			BufferHours:    e.opts.Buffer.Hours(),
			ToleranceHours: e.classifier.Tolerance.Hours(),
			SurfaceCheck:   e.opts.SurfaceCheck,
			FoldLoginCase:  e.opts.FoldLoginCase,
			Support:        e.opts.Support,
		},
		Counts: Counts{
			ByKind:              make(map[core.DiscrepancyKind]int, len(core.DiscrepancyKinds)),
			UnsupportedFamilies: make(map[string]int),
		},
	}
	log := e.log.With(zap.String("run_id", res.RunID))

	store, err := e.opts.NewStore(ctx)
	if err != nil {
		return nil, fmt.Errorf("recon: open index store: %w", err)
	}
	defer store.Close()

	idx, err := e.buildIndex(ctx, store, in.Detail, res, log)
	if err != nil {
		return nil, err
	}

	res.Window = idx.Window().WithBuffer(e.opts.Buffer)
	if res.Window.Degenerate() {
		res.warn(log, fmt.Sprintf("report window %s is degenerate; no summary row is eligible", res.Window))
	}
	if logins, err := idx.Logins(ctx); err == nil {
		res.Counts.IndexedUsers = len(logins)
	}

	eligible, err := e.classifyRows(ctx, idx, in.Summary, res, log)
	if err != nil {
		return nil, err
	}

	res.Patterns = Analyze(eligible, res.Window)
	res.FinishedAt = e.now().UTC()
	log.Info("reconciliation finished",
		zap.Int("summary_rows", res.Counts.SummaryRows),
		zap.Int("eligible", res.Counts.Eligible),
		zap.Int("discrepancies", len(res.Discrepancies)),
		zap.Duration("elapsed", res.FinishedAt.Sub(res.StartedAt)))
	return res, nil
}

func (e *Engine) buildIndex(ctx context.Context, store index.Store, sources []parsers.Source, res *Result, log *zap.Logger) (*index.Index, error) {
	b := index.NewBuilder(store,
		index.WithChatPlugins(e.opts.ChatPlugins),
		index.WithFoldLoginCase(e.opts.FoldLoginCase),
		index.WithLogger(log),
	)

	for _, src := range sources {
		fs := FileStats{Name: src.Name}
		stats, err := e.scanSource(ctx, b, src, log)
		fs.Stats = stats
		if err != nil {
			if ctx.Err() != nil {
				return nil, fmt.Errorf("recon: %w", ctx.Err())
			}
			var storeErr *storeError
			if errors.As(err, &storeErr) {
				return nil, fmt.Errorf("recon: index %s: %w", src.Name, storeErr.err)
			}
			fs.Error = err.Error()
			res.warn(log, fmt.Sprintf("detail input %s: %v", src.Name, err))
		}
		res.Diagnostics.DetailFiles = append(res.Diagnostics.DetailFiles, fs)
		res.Diagnostics.Detail.Add(stats)
		log.Info("parsed detail input",
			zap.String("source", src.Name),
			zap.Int("records", stats.Records),
			zap.Int("malformed", stats.Malformed),
			zap.Int("missing_login", stats.MissingLogin),
			zap.Int64("bytes", stats.Bytes))
	}

	idx, err := b.Finish(ctx)
	if err != nil {
		return nil, fmt.Errorf("recon: %w", err)
	}
	res.Diagnostics.Index = idx.Stats()
	if w := idx.Stats().WindowConflicts; w > 0 {
		res.warn(log, fmt.Sprintf("%d detail records declared a different report window; using the widest span", w))
	}
	if res.Diagnostics.Detail.Records == 0 {
		return nil, ErrNoDetailRecords
	}
	return idx, nil
}

type storeError struct{ err error }

func (e *storeError) Error() string { return e.err.Error() }

func (e *Engine) scanSource(ctx context.Context, b *index.Builder, src parsers.Source, log *zap.Logger) (parsers.ScanStats, error) {
	rc, err := src.Open()
	if err != nil {
		return parsers.ScanStats{}, err
	}
	defer rc.Close()

	sc := parsers.NewRecordScanner(rc,
		parsers.WithSourceName(src.Name),
		parsers.WithLogger(log),
		parsers.WithMaxRecordBytes(e.opts.MaxRecordBytes),
	)
	n := 0
	for rec := range sc.All() {
		if n++; n%cancelCheckEvery == 0 && ctx.Err() != nil {
			return sc.Stats(), ctx.Err()
		}
		if err := b.Add(ctx, rec); err != nil {
			return sc.Stats(), &storeError{err: err}
		}
	}
	return sc.Stats(), sc.Err()
}

func (e *Engine) classifyRows(ctx context.Context, idx *index.Index, src parsers.Source, res *Result, log *zap.Logger) ([]EligibleRow, error) {
	if src.Open == nil {
		return nil, fmt.Errorf("%w: no summary input", ErrNoSummaryRows)
	}
	rc, err := src.Open()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrNoSummaryRows, err)
	}
	defer rc.Close()

	reader, err := parsers.NewSummaryReader(rc, parsers.WithSummaryLogger(log))
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrNoSummaryRows, src.Name, err)
	}

	var eligible []EligibleRow
	window := res.Window
	for {
		row, err := reader.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			res.warn(log, fmt.Sprintf("summary input %s: %v", src.Name, err))
			break
		}
		res.Counts.SummaryRows++
		if res.Counts.SummaryRows%cancelCheckEvery == 0 && ctx.Err() != nil {
			return nil, fmt.Errorf("recon: %w", ctx.Err())
		}
		if !row.HasActivity() {
			continue
		}

		switch window.Place(row.LastActivityAt) {
		case core.PlacementBefore:
			res.Counts.Placement.Before++
		case core.PlacementAfter:
			res.Counts.Placement.After++
		default:
			res.Counts.Placement.Within++
		}
		surface := core.ParseSurface(row.LastSurfaceUsed, e.opts.ChatPlugins)
		if sup := e.opts.Support.Supports(surface); !sup.Supported {
			res.Counts.ExcludedBySupport++
			res.Counts.UnsupportedFamilies[core.FamilyLabel(surface.Family)]++
			continue
		}
		if !window.Contains(row.LastActivityAt) {
			res.Counts.ExcludedByWindow++
			continue
		}
		res.Counts.Eligible++

		act, found, err := idx.Lookup(ctx, row.Login)
		if err != nil {
			return nil, fmt.Errorf("recon: lookup %s: %w", row.Login, err)
		}
		er := EligibleRow{Row: row, Surface: surface, Present: found}
		if found {
			er.ActiveDays = act.ActiveDaysBetween(window.DeclaredStart, window.EffectiveEnd)
			er.Interactions = act.Interactions
		}
		if d, bad := e.classifier.Classify(row, act, found); bad {
			res.Discrepancies = append(res.Discrepancies, d)
			res.Counts.ByKind[d.Kind]++
			er.Discrepancy = &d
		}
		eligible = append(eligible, er)
	}

	res.Diagnostics.Summary = reader.Stats()
	res.Counts.NoActivity = res.Diagnostics.Summary.NoActivity
	if res.Counts.SummaryRows == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNoSummaryRows, src.Name)
	}
	return eligible, nil
}

func (r *Result) warn(log *zap.Logger, msg string) {
	r.Diagnostics.Warnings = append(r.Diagnostics.Warnings, msg)
	log.Warn(msg)
}
