package index

import (
	"cmp"
	"context"
	"slices"
	"time"

	"github.com/janekbaraniewski/usagerecon/internal/core"
)

// Entry is what one detail record contributes to the index.
type Entry struct {
	Login        string
	Day          time.Time
	Interactions int64
	Observations []core.Observation
}

// Store keeps indexed activity for the duration of a run. Add is called for
// every record, Seal once after the last one, and Activity only after Seal.
type Store interface {
	Add(ctx context.Context, e Entry) error
	Seal(ctx context.Context) error
	Activity(ctx context.Context, login string) (*core.UserActivity, bool, error)
	Logins(ctx context.Context) ([]string, error)
	Close() error
}

// compareObservations orders by time, then by every surface field, so that
// both backends return identical sequences.
func compareObservations(a, b core.Observation) int {
	return cmp.Or(
		a.At.Compare(b.At),
		cmp.Compare(a.Surface.Raw, b.Surface.Raw),
		cmp.Compare(a.Surface.Family, b.Surface.Family),
		cmp.Compare(a.Surface.IDEVersion, b.Surface.IDEVersion),
		cmp.Compare(a.Surface.Plugin, b.Surface.Plugin),
		cmp.Compare(a.Surface.PluginVersion, b.Surface.PluginVersion),
	)
}

func sortAndCompact(obs []core.Observation) []core.Observation {
	slices.SortFunc(obs, compareObservations)
	return slices.CompactFunc(obs, func(a, b core.Observation) bool {
		return compareObservations(a, b) == 0
	})
}
