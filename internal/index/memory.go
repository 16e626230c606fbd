package index

import (
	"context"
	"slices"
	"time"

	"github.com/samber/lo"

	"github.com/janekbaraniewski/usagerecon/internal/core"
)

type memoryUser struct {
	obs          []core.Observation
	days         map[time.Time]struct{}
	interactions int64
}

// MemoryStore keeps the whole index in process memory.
type MemoryStore struct {
	users  map[string]*memoryUser
	sealed map[string]*core.UserActivity
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{users: make(map[string]*memoryUser)}
}

func (m *MemoryStore) Add(_ context.Context, e Entry) error {
	u, ok := m.users[e.Login]
	if !ok {
		u = &memoryUser{days: make(map[time.Time]struct{})}
		m.users[e.Login] = u
	}
	u.obs = append(u.obs, e.Observations...)
	if !e.Day.IsZero() {
		u.days[e.Day] = struct{}{}
	}
	u.interactions += e.Interactions
	return nil
}

func (m *MemoryStore) Seal(context.Context) error {
	m.sealed = make(map[string]*core.UserActivity, len(m.users))
	for login, u := range m.users {
		days := lo.Keys(u.days)
		slices.SortFunc(days, time.Time.Compare)
		m.sealed[login] = &core.UserActivity{
			Login:        login,
			Observations: sortAndCompact(u.obs),
			ActiveDays:   days,
			Interactions: u.interactions,
		}
	}
	m.users = nil
	return nil
}

func (m *MemoryStore) Activity(_ context.Context, login string) (*core.UserActivity, bool, error) {
	a, ok := m.sealed[login]
	return a, ok, nil
}

func (m *MemoryStore) Logins(context.Context) ([]string, error) {
	logins := lo.Keys(m.sealed)
	slices.Sort(logins)
	return logins, nil
}

func (m *MemoryStore) Close() error { return nil }
