package pricer

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/maxbolgarin/errm"
	"github.com/maxbolgarin/lang"
	"github.com/maxbolgarin/logze"
	"github.com/maypok86/otter"
)

// SessionStore is the slice of the persistent store the session cache needs.
type SessionStore interface {
	GetAccount(ctx context.Context, chatID int64) (AccountRecord, bool, error)
	UpsertAccount(ctx context.Context, rec AccountRecord) error
	DeleteAccount(ctx context.Context, chatID int64) error
	FindByUsername(ctx context.Context, username string) (AccountRecord, bool, error)
	GetAllLastInteractions(ctx context.Context) ([]time.Time, error)
}

// SessionCache is the fast memory in front of the persistent store: a map
// from chat id to the single live Account instance for that chat. Handlers
// holding the same chat id always observe the same instance, so mutations
// made by one are visible to all.
type SessionCache struct {
	accounts otter.Cache[int64, *Account]
	store    SessionStore
	saver    AccountSaver
	log      logze.Logger

	godChatID     int64
	gcInterval    time.Duration
	idleThreshold time.Duration

	// mu serializes create-on-miss, so two concurrent lookups for the same
	// unknown chat id don't race to create a duplicate row. Best-effort
	// single-process guarantee only.
	mu sync.Mutex
}

func NewSessionCache(store SessionStore, saver AccountSaver, cfg Config, log logze.Logger) (*SessionCache, error) {
	cache, err := otter.MustBuilder[int64, *Account](cfg.CacheCapacity).
		WithTTL(cfg.CacheTTL).
		Build()
	if err != nil {
		return nil, errm.Wrap(err, "create account cache", "capacity", cfg.CacheCapacity)
	}

	return &SessionCache{
		accounts:      cache,
		store:         store,
		saver:         saver,
		log:           log,
		godChatID:     cfg.GodChatID,
		gcInterval:    cfg.GCInterval,
		idleThreshold: cfg.IdleThreshold,
	}, nil
}

// Get returns the live account for the chat id, refreshing its idle clock.
// On a cache miss it loads the stored row, and on a full miss it creates a
// fresh account and persists it immediately. A store load failure propagates;
// a persist failure of a fresh account is logged and the in-memory instance
// is still returned, so the current interaction is not disrupted.
func (c *SessionCache) Get(ctx context.Context, chatID int64) (*Account, error) {
	if acc, found := c.accounts.Get(chatID); found {
		acc.Touch()
		return acc, nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	// Another handler may have materialized it while we waited for the lock.
	if acc, found := c.accounts.Get(chatID); found {
		acc.Touch()
		return acc, nil
	}

	rec, found, err := c.store.GetAccount(ctx, chatID)
	if err != nil {
		return nil, err
	}

	var acc *Account
	if found {
		acc, err = newAccountFromRecord(rec, c.saver)
		if err != nil {
			return nil, errm.Wrap(err, "materialize account", "chat_id", chatID)
		}
	} else {
		acc, err = NewAccount(chatID, c.saver)
		if err != nil {
			return nil, err
		}
		if err := c.store.UpsertAccount(ctx, acc.Record()); err != nil {
			c.log.Error(err, "cannot persist fresh account", "chat_id", chatID)
		}
		mtr.accountsCreated.Inc()
	}

	if chatID == c.godChatID {
		acc.pinGod()
	}
	acc.Touch()

	if ok := c.accounts.Set(chatID, acc); !ok {
		c.log.Warn("cache rejected account", "chat_id", chatID)
	}
	mtr.sessionsLive.Set(float64(c.accounts.Size()))

	return acc, nil
}

// Leave removes the cached entry without writing it back and deletes the
// stored row. This is the explicit opt-out path; no caller should read the
// instance again.
func (c *SessionCache) Leave(ctx context.Context, chatID int64) error {
	c.accounts.Delete(chatID)
	if err := c.store.DeleteAccount(ctx, chatID); err != nil {
		return errm.Wrap(err, "delete account", "chat_id", chatID)
	}
	return nil
}

// GetByUsername resolves an account by username: a scan over the currently
// cached entries first (recently active users), then the store.
func (c *SessionCache) GetByUsername(ctx context.Context, username string) (*Account, error) {
	username = strings.TrimPrefix(username, "@")
	if username == "" {
		return nil, errm.Wrap(ErrInvalidInput, "empty username")
	}

	var cached *Account
	c.accounts.Range(func(_ int64, acc *Account) bool {
		if acc.Username() == username {
			cached = acc
			return false
		}
		return true
	})
	if cached != nil {
		return cached, nil
	}

	rec, found, err := c.store.FindByUsername(ctx, username)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, errm.Wrap(ErrNotFound, "no account with username", "username", username)
	}

	return c.Get(ctx, rec.ChatID)
}

// Size returns the number of live sessions.
func (c *SessionCache) Size() int {
	return c.accounts.Size()
}

// StartGC runs the idle collector on its own timer, independent of the
// request path, until the context is done.
func (c *SessionCache) StartGC(ctx context.Context) {
	lang.Go(AdaptLogger(c.log), func() {
		ticker := time.NewTicker(c.gcInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				evicted := c.EvictIdle(ctx)
				if evicted > 0 {
					c.log.Debug("evicted idle sessions", "count", evicted, "left", c.Size())
				}
			}
		}
	})
}

// EvictIdle writes back and removes every session idle for at least the
// threshold. Victims are collected first and deleted after, so the scan never
// mutates the structure it iterates; entries added concurrently are simply
// not part of the snapshot. A session whose write-back fails stays cached, so
// its state is not lost.
func (c *SessionCache) EvictIdle(ctx context.Context) int {
	now := time.Now().UTC()

	var victims []*Account
	c.accounts.Range(func(_ int64, acc *Account) bool {
		if now.Sub(acc.LastInteraction()) >= c.idleThreshold {
			victims = append(victims, acc)
		}
		return true
	})

	var evicted int
	for _, acc := range victims {
		if err := c.store.UpsertAccount(ctx, acc.Record()); err != nil {
			c.log.Error(err, "cannot write back idle session", "chat_id", acc.ChatID())
			continue
		}
		c.accounts.Delete(acc.ChatID())
		evicted++
	}

	if evicted > 0 {
		mtr.sessionsEvicted.Add(float64(evicted))
		mtr.sessionsLive.Set(float64(c.accounts.Size()))
	}
	return evicted
}

// Statistics forces a write-back of every cached session, so activity metrics
// reflect the latest interactions, then buckets all stored accounts by the
// calendar distance of their last interaction from now.
func (c *SessionCache) Statistics(ctx context.Context) (Stats, error) {
	var cached []*Account
	c.accounts.Range(func(_ int64, acc *Account) bool {
		cached = append(cached, acc)
		return true
	})
	for _, acc := range cached {
		if err := c.store.UpsertAccount(ctx, acc.Record()); err != nil {
			return Stats{}, errm.Wrap(err, "write back session", "chat_id", acc.ChatID())
		}
	}

	times, err := c.store.GetAllLastInteractions(ctx)
	if err != nil {
		return Stats{}, err
	}

	return bucketInteractions(time.Now().UTC(), times), nil
}
