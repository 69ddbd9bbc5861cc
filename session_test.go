package pricer

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/maxbolgarin/errm"
	"github.com/maxbolgarin/logze"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// memStore is an in-memory SessionStore for tests.
type memStore struct {
	mu      sync.Mutex
	recs    map[int64]AccountRecord
	upserts map[int64]int
	failAll bool
}

func newMemStore() *memStore {
	return &memStore{
		recs:    make(map[int64]AccountRecord),
		upserts: make(map[int64]int),
	}
}

func (s *memStore) GetAccount(_ context.Context, chatID int64) (AccountRecord, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failAll {
		return AccountRecord{}, false, errm.New("store is down")
	}
	rec, ok := s.recs[chatID]
	return rec, ok, nil
}

func (s *memStore) UpsertAccount(_ context.Context, rec AccountRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failAll {
		return errm.New("store is down")
	}
	s.recs[rec.ChatID] = rec
	s.upserts[rec.ChatID]++
	return nil
}

func (s *memStore) DeleteAccount(_ context.Context, chatID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.recs, chatID)
	return nil
}

func (s *memStore) FindByUsername(_ context.Context, username string) (AccountRecord, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, rec := range s.recs {
		if rec.Username == username {
			return rec, true, nil
		}
	}
	return AccountRecord{}, false, nil
}

func (s *memStore) GetAllLastInteractions(_ context.Context) ([]time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]time.Time, 0, len(s.recs))
	for _, rec := range s.recs {
		out = append(out, rec.LastInteraction)
	}
	return out, nil
}

func (s *memStore) upsertCount(chatID int64) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.upserts[chatID]
}

func (s *memStore) setFail(fail bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failAll = fail
}

func testSessionCache(t *testing.T, store *memStore, tune func(*Config)) *SessionCache {
	t.Helper()
	cfg := Config{
		CacheCapacity: 100,
		CacheTTL:      time.Hour,
		GCInterval:    time.Minute,
		IdleThreshold: 30 * time.Second,
	}
	if tune != nil {
		tune(&cfg)
	}
	cache, err := NewSessionCache(store, &recordingSaver{}, cfg, logze.New(logze.NewConfig()))
	require.NoError(t, err)
	return cache
}

func TestSessionGetCreatesAndReuses(t *testing.T) {
	store := newMemStore()
	cache := testSessionCache(t, store, nil)
	ctx := context.Background()

	first, err := cache.Get(ctx, 100)
	require.NoError(t, err)
	require.NotNil(t, first)

	// Fresh accounts are persisted immediately.
	assert.Equal(t, 1, store.upsertCount(100))

	// A second lookup returns the very same instance, so a mutation through
	// one reference is visible through the other.
	second, err := cache.Get(ctx, 100)
	require.NoError(t, err)
	assert.Same(t, first, second)

	first.ChangeState(StateConfigMarkets)
	assert.Equal(t, StateConfigMarkets, second.State())
}

func TestSessionGetDistinctInstances(t *testing.T) {
	cache := testSessionCache(t, newMemStore(), nil)
	ctx := context.Background()

	a, err := cache.Get(ctx, 1)
	require.NoError(t, err)
	b, err := cache.Get(ctx, 2)
	require.NoError(t, err)

	assert.NotSame(t, a, b)
	assert.Equal(t, 2, cache.Size())
}

func TestSessionGetLoadsStoredRow(t *testing.T) {
	store := newMemStore()
	acc, _ := NewAccount(55, nil)
	acc.ChangeState(StateConfigCalculatorList)
	store.recs[55] = acc.Record()

	cache := testSessionCache(t, store, nil)

	loaded, err := cache.Get(context.Background(), 55)
	require.NoError(t, err)
	assert.Equal(t, StateConfigCalculatorList, loaded.State())
	// Loading never writes.
	assert.Equal(t, 0, store.upsertCount(55))
}

func TestSessionGetStoreFailure(t *testing.T) {
	store := newMemStore()
	store.setFail(true)
	cache := testSessionCache(t, store, nil)

	_, err := cache.Get(context.Background(), 1)
	require.Error(t, err)
	assert.Equal(t, 0, cache.Size())
}

func TestSessionGodPinning(t *testing.T) {
	store := newMemStore()
	cache := testSessionCache(t, store, func(cfg *Config) { cfg.GodChatID = 777 })
	ctx := context.Background()

	god, err := cache.Get(ctx, 777)
	require.NoError(t, err)
	assert.True(t, god.IsGod())

	mortal, err := cache.Get(ctx, 778)
	require.NoError(t, err)
	assert.False(t, mortal.IsAdmin())
}

func TestSessionLeave(t *testing.T) {
	store := newMemStore()
	cache := testSessionCache(t, store, nil)
	ctx := context.Background()

	acc, err := cache.Get(ctx, 9)
	require.NoError(t, err)
	acc.ChangeState(StateConfigMarkets)

	require.NoError(t, cache.Leave(ctx, 9))
	assert.Equal(t, 0, cache.Size())

	_, found, err := store.GetAccount(ctx, 9)
	require.NoError(t, err)
	assert.False(t, found, "stored row survived leave")

	// The next lookup starts from scratch.
	fresh, err := cache.Get(ctx, 9)
	require.NoError(t, err)
	assert.Equal(t, StateNone, fresh.State())
}

func TestSessionGetByUsername(t *testing.T) {
	store := newMemStore()
	cache := testSessionCache(t, store, nil)
	ctx := context.Background()

	acc, err := cache.Get(ctx, 31)
	require.NoError(t, err)
	acc.UpdateIdentity("alice", "Alice")

	// Cached path, with and without the @ prefix.
	found, err := cache.GetByUsername(ctx, "alice")
	require.NoError(t, err)
	assert.Same(t, acc, found)

	found, err = cache.GetByUsername(ctx, "@alice")
	require.NoError(t, err)
	assert.Same(t, acc, found)

	// Store path: known row, not cached.
	other, _ := NewAccount(32, nil)
	other.UpdateIdentity("bob", "Bob")
	store.recs[32] = other.Record()

	found, err = cache.GetByUsername(ctx, "bob")
	require.NoError(t, err)
	assert.EqualValues(t, 32, found.ChatID())

	_, err = cache.GetByUsername(ctx, "nobody")
	require.Error(t, err)
	assert.True(t, errm.Is(err, ErrNotFound))

	_, err = cache.GetByUsername(ctx, "")
	require.Error(t, err)
}

func TestSessionGetConcurrent(t *testing.T) {
	store := newMemStore()
	cache := testSessionCache(t, store, nil)

	const goroutines = 50
	accs := make([]*Account, goroutines)

	var wg sync.WaitGroup
	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			acc, err := cache.Get(context.Background(), 42)
			assert.NoError(t, err)
			accs[i] = acc
		}(i)
	}
	wg.Wait()

	// Every caller got the one live instance, and the row was created once.
	for i := 1; i < goroutines; i++ {
		assert.Same(t, accs[0], accs[i])
	}
	assert.Equal(t, 1, store.upsertCount(42))
	assert.Equal(t, 1, cache.Size())
}

func TestEvictIdleDuringConcurrentInserts(t *testing.T) {
	store := newMemStore()
	cache := testSessionCache(t, store, func(cfg *Config) {
		cfg.CacheCapacity = 1000
		cfg.IdleThreshold = time.Minute
	})
	ctx := context.Background()

	const stale = 20
	for i := int64(1); i <= stale; i++ {
		acc, err := cache.Get(ctx, i)
		require.NoError(t, err)
		acc.mu.Lock()
		acc.lastInteraction = time.Now().UTC().Add(-time.Hour)
		acc.mu.Unlock()
	}

	const fresh = 100
	var wg sync.WaitGroup
	var evicted int
	wg.Add(1)
	go func() {
		defer wg.Done()
		evicted = cache.EvictIdle(ctx)
	}()
	for i := int64(1000); i < 1000+fresh; i++ {
		wg.Add(1)
		go func(id int64) {
			defer wg.Done()
			_, err := cache.Get(ctx, id)
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	// Every stale session went out exactly once; fresh ones were untouched.
	assert.Equal(t, stale, evicted)
	assert.Equal(t, fresh, cache.Size())
	for i := int64(1); i <= stale; i++ {
		assert.Equal(t, 2, store.upsertCount(i))
	}
}

func TestEvictIdle(t *testing.T) {
	store := newMemStore()
	cache := testSessionCache(t, store, func(cfg *Config) { cfg.IdleThreshold = time.Minute })
	ctx := context.Background()

	fresh, err := cache.Get(ctx, 1)
	require.NoError(t, err)
	idle, err := cache.Get(ctx, 2)
	require.NoError(t, err)

	// Age the second session past the threshold.
	idle.mu.Lock()
	idle.lastInteraction = time.Now().UTC().Add(-2 * time.Minute)
	idle.mu.Unlock()

	evicted := cache.EvictIdle(ctx)
	assert.Equal(t, 1, evicted)
	assert.Equal(t, 1, cache.Size())

	// The idle session was written back exactly once on top of the create.
	assert.Equal(t, 2, store.upsertCount(2))
	assert.Equal(t, 1, store.upsertCount(1))

	// The fresh one is untouched and still the same instance.
	again, err := cache.Get(ctx, 1)
	require.NoError(t, err)
	assert.Same(t, fresh, again)
}

func TestEvictIdleExactlyAtThreshold(t *testing.T) {
	store := newMemStore()
	cache := testSessionCache(t, store, func(cfg *Config) { cfg.IdleThreshold = time.Minute })
	ctx := context.Background()

	acc, err := cache.Get(ctx, 1)
	require.NoError(t, err)

	// Exactly at the threshold counts as idle.
	acc.mu.Lock()
	acc.lastInteraction = time.Now().UTC().Add(-time.Minute)
	acc.mu.Unlock()

	assert.Equal(t, 1, cache.EvictIdle(ctx))
}

func TestEvictIdleKeepsSessionOnWriteBackFailure(t *testing.T) {
	store := newMemStore()
	cache := testSessionCache(t, store, func(cfg *Config) { cfg.IdleThreshold = time.Minute })
	ctx := context.Background()

	acc, err := cache.Get(ctx, 1)
	require.NoError(t, err)
	acc.mu.Lock()
	acc.lastInteraction = time.Now().UTC().Add(-time.Hour)
	acc.mu.Unlock()

	store.setFail(true)
	assert.Equal(t, 0, cache.EvictIdle(ctx))
	assert.Equal(t, 1, cache.Size(), "session with failed write-back was dropped")

	// Once the store recovers the same session goes out.
	store.setFail(false)
	assert.Equal(t, 1, cache.EvictIdle(ctx))
	assert.Equal(t, 0, cache.Size())
}

func TestStatisticsWritesBackCached(t *testing.T) {
	store := newMemStore()
	cache := testSessionCache(t, store, nil)
	ctx := context.Background()

	// One stored-only account, one live one.
	old, _ := NewAccount(50, nil)
	old.mu.Lock()
	old.lastInteraction = time.Now().UTC().AddDate(0, -2, 0)
	old.mu.Unlock()
	store.recs[50] = old.Record()

	live, err := cache.Get(ctx, 51)
	require.NoError(t, err)
	live.Touch()

	stats, err := cache.Statistics(ctx)
	require.NoError(t, err)

	assert.Equal(t, 2, stats.Total)
	assert.Equal(t, 1, stats.Today)
	// The live session was flushed before counting.
	assert.GreaterOrEqual(t, store.upsertCount(51), 2)
}
