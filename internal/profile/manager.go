package profile

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"
	"unicode/utf8"
)

// Store defines the persistence operations the Manager needs.
// Implemented by the storage package.
type Store interface {
	// GetProfile returns the profile for identity, or nil when none exists.
	GetProfile(ctx context.Context, identity string) (*Profile, error)
	// ListProfilesExcept returns every profile other than identity's.
	ListProfilesExcept(ctx context.Context, identity string) ([]Profile, error)
	// UpsertProfile persists the whole snapshot of p atomically.
	UpsertProfile(ctx context.Context, p Profile) error
}

// Clock abstracts time for testability.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

type cacheEntry struct {
	profile  Profile
	loadedAt time.Time
}

// Manager provides cached access to profiles. All writes must go through
// Save so that the cache stays coherent with the store.
//
// Store calls run outside mu. Each identity carries a generation that Save
// and Invalidate bump; a store read only fills the cache when the generation
// it started under is still current.
type Manager struct {
	store Store
	clock Clock
	ttl   time.Duration

	mu     sync.RWMutex
	cached map[string]cacheEntry
	gen    map[string]uint64
}

// NewManager creates a Manager with a 60-second cache TTL.
func NewManager(store Store) *Manager {
	return NewManagerWithClock(store, realClock{}, 60*time.Second)
}

// NewManagerWithClock creates a Manager with a custom clock (for testing).
func NewManagerWithClock(store Store, clock Clock, ttl time.Duration) *Manager {
	return &Manager{
		store:  store,
		clock:  clock,
		ttl:    ttl,
		cached: make(map[string]cacheEntry),
		gen:    make(map[string]uint64),
	}
}

// Get returns a copy of the stored profile for identity, or nil when none
// exists. Absent profiles are not cached.
func (m *Manager) Get(ctx context.Context, identity string) (*Profile, error) {
	m.mu.RLock()
	if e, ok := m.cached[identity]; ok && m.fresh(e) {
		p := e.profile.Clone()
		m.mu.RUnlock()
		return &p, nil
	}
	gen := m.gen[identity]
	m.mu.RUnlock()

	p, err := m.store.GetProfile(ctx, identity)
	if err != nil {
		return nil, fmt.Errorf("loading profile %s: %w", identity, err)
	}
	if p == nil {
		return nil, nil
	}

	m.mu.Lock()
	if m.gen[identity] == gen {
		m.cached[identity] = cacheEntry{profile: p.Clone(), loadedAt: m.clock.Now()}
	}
	m.mu.Unlock()

	cp := p.Clone()
	return &cp, nil
}

// GetOrNew returns the stored profile, or a fresh unsaved one when absent.
// created reports whether the profile was synthesized.
func (m *Manager) GetOrNew(ctx context.Context, identity, displayName string) (p Profile, created bool, err error) {
	existing, err := m.Get(ctx, identity)
	if err != nil {
		return Profile{}, false, err
	}
	if existing == nil {
		return New(identity, displayName), true, nil
	}
	return *existing, false, nil
}

// Others lists every profile except identity's. It always reads through to
// the store.
func (m *Manager) Others(ctx context.Context, identity string) ([]Profile, error) {
	others, err := m.store.ListProfilesExcept(ctx, identity)
	if err != nil {
		return nil, fmt.Errorf("listing profiles: %w", err)
	}
	return others, nil
}

// Save persists p and refreshes the cached copy. Saves for different
// identities do not wait on each other.
func (m *Manager) Save(ctx context.Context, p Profile) error {
	p.UpdatedAt = m.clock.Now().UTC()

	m.mu.Lock()
	m.gen[p.Identity]++
	gen := m.gen[p.Identity]
	delete(m.cached, p.Identity)
	m.mu.Unlock()

	if err := m.store.UpsertProfile(ctx, p); err != nil {
		m.Invalidate(p.Identity)
		return fmt.Errorf("saving profile %s: %w", p.Identity, err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	// Leave the cache empty if another Save or Invalidate ran meanwhile.
	current := m.gen[p.Identity] == gen
	m.gen[p.Identity]++
	if current {
		m.cached[p.Identity] = cacheEntry{profile: p.Clone(), loadedAt: m.clock.Now()}
	}
	return nil
}

// Invalidate drops the cached copy of identity and discards any store read
// still in flight for it.
func (m *Manager) Invalidate(identity string) {
	m.mu.Lock()
	m.gen[identity]++
	delete(m.cached, identity)
	m.mu.Unlock()
}

func (m *Manager) fresh(e cacheEntry) bool {
	return m.clock.Now().Before(e.loadedAt.Add(m.ttl))
}

// maxSummaryChars caps the prompt summary (~250 tokens).
const maxSummaryChars = 1000

// Summary renders the categories of p as compact prompt text.
func Summary(p *Profile) string {
	if p == nil || p.Categories.Empty() {
		return "No existing interests."
	}

	var lines []string
	for _, c := range AllCategories {
		items := p.Categories.List(c)
		if len(items) == 0 {
			continue
		}
		lines = append(lines, fmt.Sprintf("%s: %s", c.Title(), strings.Join(items, ", ")))
	}

	summary := strings.Join(lines, "\n")
	if len(summary) > maxSummaryChars {
		end := maxSummaryChars
		for end > 0 && !utf8.RuneStart(summary[end]) {
			end--
		}
		if idx := strings.LastIndex(summary[:end], ","); idx > 0 {
			summary = summary[:idx]
		} else {
			summary = summary[:end]
		}
	}
	return summary
}
