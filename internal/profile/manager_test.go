package profile

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"
)

// --- Mock store ---

type mockStore struct {
	mu        sync.Mutex
	data      map[string]Profile
	upsertErr error

	getCalls int

	// When set, GetProfile snapshots the row, signals getStarted and then
	// holds the snapshot until getGate is closed.
	getGate    chan struct{}
	getStarted chan struct{}

	// When set for an identity, UpsertProfile signals upsertStarted and waits
	// on the gate before writing.
	upsertGate    map[string]chan struct{}
	upsertStarted chan string
}

func newMockStore() *mockStore {
	return &mockStore{data: make(map[string]Profile)}
}

func (m *mockStore) GetProfile(_ context.Context, identity string) (*Profile, error) {
	m.mu.Lock()
	m.getCalls++
	p, ok := m.data[identity]
	var cp Profile
	if ok {
		cp = p.Clone()
	}
	gate, started := m.getGate, m.getStarted
	m.mu.Unlock()

	if gate != nil {
		if started != nil {
			started <- struct{}{}
		}
		<-gate
	}
	if !ok {
		return nil, nil
	}
	return &cp, nil
}

func (m *mockStore) ListProfilesExcept(_ context.Context, identity string) ([]Profile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Profile
	for id, p := range m.data {
		if id != identity {
			out = append(out, p.Clone())
		}
	}
	return out, nil
}

func (m *mockStore) UpsertProfile(_ context.Context, p Profile) error {
	m.mu.Lock()
	gate := m.upsertGate[p.Identity]
	started := m.upsertStarted
	m.mu.Unlock()

	if gate != nil {
		if started != nil {
			started <- p.Identity
		}
		<-gate
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.upsertErr != nil {
		return m.upsertErr
	}
	m.data[p.Identity] = p.Clone()
	return nil
}

func (m *mockStore) gateReads() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.getGate = make(chan struct{})
	m.getStarted = make(chan struct{}, 1)
}

func (m *mockStore) openReads() {
	m.mu.Lock()
	gate := m.getGate
	m.getGate, m.getStarted = nil, nil
	m.mu.Unlock()
	close(gate)
}

func (m *mockStore) gateUpsert(identity string) chan struct{} {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.upsertGate == nil {
		m.upsertGate = make(map[string]chan struct{})
	}
	gate := make(chan struct{})
	m.upsertGate[identity] = gate
	m.upsertStarted = make(chan string, 4)
	return gate
}

func (m *mockStore) read(identity string) Profile {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.data[identity].Clone()
}

func waitFor[T any](t *testing.T, ch <-chan T, what string) T {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for %s", what)
	}
	var zero T
	return zero
}

// --- Mock clock ---

type mockClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *mockClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *mockClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// --- Tests ---

func TestGet_Absent(t *testing.T) {
	mgr := NewManager(newMockStore())

	p, err := mgr.Get(context.Background(), "u1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p != nil {
		t.Errorf("expected nil profile, got %+v", p)
	}
}

func TestGetOrNew_CreatesScanningProfile(t *testing.T) {
	mgr := NewManager(newMockStore())

	p, created, err := mgr.GetOrNew(context.Background(), "u1", "Alice")
	if err != nil {
		t.Fatalf("GetOrNew error: %v", err)
	}
	if !created {
		t.Error("expected created = true")
	}
	if !p.ScanningEnabled {
		t.Error("new profile should have scanning enabled")
	}
	if p.DisplayName != "Alice" || p.Identity != "u1" {
		t.Errorf("unexpected profile %+v", p)
	}
}

func TestSaveAndGet(t *testing.T) {
	store := newMockStore()
	mgr := NewManager(store)
	ctx := context.Background()

	p := New("u1", "Alice")
	p.Add(Games, "Chess")
	if err := mgr.Save(ctx, p); err != nil {
		t.Fatalf("Save error: %v", err)
	}

	got, err := mgr.Get(ctx, "u1")
	if err != nil {
		t.Fatalf("Get error: %v", err)
	}
	if got == nil || len(got.Categories.Games) != 1 || got.Categories.Games[0] != "Chess" {
		t.Errorf("unexpected profile %+v", got)
	}
	if got.UpdatedAt.IsZero() {
		t.Error("expected UpdatedAt to be set on save")
	}
}

func TestGet_ReturnsCopy(t *testing.T) {
	mgr := NewManager(newMockStore())
	ctx := context.Background()

	p := New("u1", "Alice")
	p.Add(Games, "Chess")
	mgr.Save(ctx, p)

	got, _ := mgr.Get(ctx, "u1")
	got.Categories.Games[0] = "mutated"

	again, _ := mgr.Get(ctx, "u1")
	if again.Categories.Games[0] != "Chess" {
		t.Errorf("cache was mutated through returned copy: %v", again.Categories.Games)
	}
}

func TestSave_StoreErrorPropagates(t *testing.T) {
	store := newMockStore()
	store.upsertErr = errors.New("database is locked")
	mgr := NewManager(store)

	err := mgr.Save(context.Background(), New("u1", "Alice"))
	if err == nil || !strings.Contains(err.Error(), "database is locked") {
		t.Fatalf("expected wrapped store error, got %v", err)
	}
}

func TestCacheTTL(t *testing.T) {
	store := newMockStore()
	store.data["u1"] = New("u1", "Alice")
	clock := &mockClock{now: time.Now()}
	mgr := NewManagerWithClock(store, clock, 60*time.Second)
	ctx := context.Background()

	mgr.Get(ctx, "u1")
	mgr.Get(ctx, "u1")

	store.mu.Lock()
	calls := store.getCalls
	store.mu.Unlock()

	if calls != 1 {
		t.Errorf("expected 1 store call (cache hit on second), got %d", calls)
	}
}

func TestCacheExpiry(t *testing.T) {
	store := newMockStore()
	store.data["u1"] = New("u1", "Alice")
	clock := &mockClock{now: time.Now()}
	ttl := 60 * time.Second
	mgr := NewManagerWithClock(store, clock, ttl)
	ctx := context.Background()

	mgr.Get(ctx, "u1")
	clock.Advance(ttl + time.Second)
	mgr.Get(ctx, "u1")

	store.mu.Lock()
	calls := store.getCalls
	store.mu.Unlock()

	if calls != 2 {
		t.Errorf("expected 2 store calls (cache expired), got %d", calls)
	}
}

func TestInvalidate(t *testing.T) {
	store := newMockStore()
	store.data["u1"] = New("u1", "Alice")
	mgr := NewManager(store)
	ctx := context.Background()

	mgr.Get(ctx, "u1")
	mgr.Invalidate("u1")
	mgr.Get(ctx, "u1")

	if store.getCalls != 2 {
		t.Errorf("expected 2 store calls after invalidation, got %d", store.getCalls)
	}
}

func TestInvalidate_DiscardsInFlightRead(t *testing.T) {
	store := newMockStore()
	store.data["u1"] = New("u1", "Alice")
	mgr := NewManager(store)
	ctx := context.Background()

	store.gateReads()
	started := store.getStarted
	done := make(chan struct{})
	go func() {
		defer close(done)
		mgr.Get(ctx, "u1")
	}()
	waitFor(t, started, "store read")
	mgr.Invalidate("u1")
	store.openReads()
	waitFor(t, done, "Get")

	mgr.Get(ctx, "u1")
	if store.getCalls != 2 {
		t.Errorf("read started before Invalidate was cached: %d store calls, want 2", store.getCalls)
	}
}

func TestGet_InFlightReadDoesNotOverwriteSave(t *testing.T) {
	store := newMockStore()
	old := New("u1", "Alice")
	old.Add(Games, "Chess")
	store.data["u1"] = old
	mgr := NewManager(store)
	ctx := context.Background()

	store.gateReads()
	started := store.getStarted
	done := make(chan struct{})
	go func() {
		defer close(done)
		mgr.Get(ctx, "u1")
	}()
	waitFor(t, started, "store read")

	updated := old.Clone()
	updated.Add(Games, "Go")
	if err := mgr.Save(ctx, updated); err != nil {
		t.Fatalf("Save error: %v", err)
	}
	store.openReads()
	waitFor(t, done, "Get")

	got, err := mgr.Get(ctx, "u1")
	if err != nil {
		t.Fatalf("Get error: %v", err)
	}
	if got == nil || len(got.Categories.Games) != 2 {
		t.Fatalf("cached profile lost the save: %+v", got)
	}
}

func TestSave_ReplacesReadTakenDuringUpsert(t *testing.T) {
	store := newMockStore()
	old := New("u1", "Alice")
	old.Add(Games, "Chess")
	store.data["u1"] = old
	mgr := NewManager(store)
	ctx := context.Background()

	gate := store.gateUpsert("u1")
	started := store.upsertStarted
	saved := make(chan error, 1)
	updated := old.Clone()
	updated.Add(Games, "Go")
	go func() { saved <- mgr.Save(ctx, updated) }()
	waitFor(t, started, "upsert")

	// The row is still the old one while the upsert is held.
	during, err := mgr.Get(ctx, "u1")
	if err != nil {
		t.Fatalf("Get error: %v", err)
	}
	if len(during.Categories.Games) != 1 {
		t.Fatalf("games during upsert = %v, want [Chess]", during.Categories.Games)
	}

	close(gate)
	if err := waitFor(t, saved, "Save"); err != nil {
		t.Fatalf("Save error: %v", err)
	}

	got, _ := mgr.Get(ctx, "u1")
	if len(got.Categories.Games) != 2 {
		t.Errorf("games after save = %v, want [Chess Go]", got.Categories.Games)
	}
}

func TestSave_DifferentIdentitiesDoNotBlock(t *testing.T) {
	store := newMockStore()
	mgr := NewManager(store)
	ctx := context.Background()

	gate := store.gateUpsert("a")
	started := store.upsertStarted
	savedA := make(chan error, 1)
	go func() { savedA <- mgr.Save(ctx, New("a", "Ana")) }()
	waitFor(t, started, "upsert of a")

	savedB := make(chan error, 1)
	go func() { savedB <- mgr.Save(ctx, New("b", "Bo")) }()
	if err := waitFor(t, savedB, "Save of b while a is in flight"); err != nil {
		t.Fatalf("Save b error: %v", err)
	}

	close(gate)
	if err := waitFor(t, savedA, "Save of a"); err != nil {
		t.Fatalf("Save a error: %v", err)
	}
	if store.read("a").Identity != "a" || store.read("b").Identity != "b" {
		t.Error("both profiles should be persisted")
	}
}

func TestSave_ErrorDropsCachedCopy(t *testing.T) {
	store := newMockStore()
	mgr := NewManager(store)
	ctx := context.Background()

	p := New("u1", "Alice")
	p.Add(Games, "Chess")
	if err := mgr.Save(ctx, p); err != nil {
		t.Fatalf("Save error: %v", err)
	}

	store.upsertErr = errors.New("disk full")
	changed := p.Clone()
	changed.Add(Games, "Go")
	if err := mgr.Save(ctx, changed); err == nil {
		t.Fatal("expected store error")
	}

	got, _ := mgr.Get(ctx, "u1")
	if len(got.Categories.Games) != 1 {
		t.Errorf("games after failed save = %v, want the persisted [Chess]", got.Categories.Games)
	}
}

func TestOthers(t *testing.T) {
	store := newMockStore()
	store.data["u1"] = New("u1", "Alice")
	store.data["u2"] = New("u2", "Bob")
	mgr := NewManager(store)

	others, err := mgr.Others(context.Background(), "u1")
	if err != nil {
		t.Fatalf("Others error: %v", err)
	}
	if len(others) != 1 || others[0].Identity != "u2" {
		t.Errorf("Others = %+v, want only u2", others)
	}
}

func TestSummary_Empty(t *testing.T) {
	if got := Summary(nil); got == "" {
		t.Error("expected non-empty summary for nil profile")
	}
}

func TestSummary_ListsCategories(t *testing.T) {
	p := New("u1", "Alice")
	p.Add(Games, "Chess")
	p.Add(Artists, "Bjork")

	summary := Summary(&p)
	for _, want := range []string{"Games: Chess", "Artists: Bjork"} {
		if !strings.Contains(summary, want) {
			t.Errorf("summary missing %q: %s", want, summary)
		}
	}
	if strings.Contains(summary, "Interests:") {
		t.Errorf("summary should skip empty categories: %s", summary)
	}
}

func TestSummary_Budget(t *testing.T) {
	p := New("u1", "Alice")
	for i := 0; i < 200; i++ {
		p.Add(Interests, strings.Repeat("x", 10)+string(rune('a'+i%26))+strings.Repeat("y", i%7))
	}
	if got := Summary(&p); len(got) > maxSummaryChars {
		t.Errorf("summary too long: %d chars", len(got))
	}
}
