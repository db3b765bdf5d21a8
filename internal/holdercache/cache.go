// Package holdercache provides a bounded, self-refreshing cache of token
// holder counts keyed by mint.
package holdercache

import (
	"bytes"
	"context"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"solana-holder-watch/internal/holder"
	"solana-holder-watch/internal/observability"
	"solana-holder-watch/internal/solana"
)

// Fetcher fetches all token accounts for a mint.
type Fetcher interface {
	GetTokenAccountsByMint(ctx context.Context, mint solana.Pubkey) ([]solana.Account, error)
}

// Default configuration values.
const (
	DefaultCapacity        = 2
	DefaultRefreshInterval = 30 * time.Second
	DefaultMissTimeout     = 5 * time.Second
	DefaultRefreshTimeout  = 90 * time.Second
)

// entry is the mutable cache state for one mint. Guarded by Cache.mu.
type entry struct {
	count        int
	fetchedAt    time.Time
	requestCount uint64
	firstSeen    time.Time
}

// Entry is an immutable snapshot of a cache entry.
type Entry struct {
	Mint         solana.Pubkey
	Count        int
	FetchedAt    time.Time
	RequestCount uint64
	FirstSeen    time.Time
}

// Stats are aggregate cache counters.
type Stats struct {
	ResidentKeys  int    `json:"resident_keys"`
	TotalRequests uint64 `json:"total_requests"`
}

// Cache is a bounded table of holder counts. Reads of resident keys return
// instantly; misses fetch through the Fetcher with at most one in-flight
// fetch per key. A background refresher re-fetches every resident key on a
// fixed interval, so staleness is bounded by the refresh period rather than
// a per-read TTL.
type Cache struct {
	fetcher         Fetcher
	capacity        int
	refreshInterval time.Duration
	missTimeout     time.Duration
	refreshTimeout  time.Duration
	logger          *zap.Logger
	now             func() time.Time

	mu      sync.Mutex
	entries map[solana.Pubkey]*entry

	// Coalesces concurrent miss-fetches for the same mint.
	sf singleflight.Group
}

// Option configures Cache.
type Option func(*Cache)

// WithCapacity sets the maximum number of resident keys.
func WithCapacity(n int) Option {
	return func(c *Cache) {
		c.capacity = n
	}
}

// WithRefreshInterval sets the background refresh period.
func WithRefreshInterval(d time.Duration) Option {
	return func(c *Cache) {
		c.refreshInterval = d
	}
}

// WithMissTimeout sets the caller-facing timeout for miss-fetches. It should
// stay shorter than the fetcher's own retry budget so interactive callers
// fail fast.
func WithMissTimeout(d time.Duration) Option {
	return func(c *Cache) {
		c.missTimeout = d
	}
}

// WithRefreshTimeout sets the per-key timeout for background refreshes.
func WithRefreshTimeout(d time.Duration) Option {
	return func(c *Cache) {
		c.refreshTimeout = d
	}
}

// WithLogger sets the structured logger.
func WithLogger(logger *zap.Logger) Option {
	return func(c *Cache) {
		c.logger = logger
	}
}

// WithClock sets the timestamp source. Used by tests to control eviction
// ordering.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) {
		c.now = now
	}
}

// New creates a Cache in front of the given fetcher.
func New(fetcher Fetcher, opts ...Option) *Cache {
	c := &Cache{
		fetcher:         fetcher,
		capacity:        DefaultCapacity,
		refreshInterval: DefaultRefreshInterval,
		missTimeout:     DefaultMissTimeout,
		refreshTimeout:  DefaultRefreshTimeout,
		logger:          zap.NewNop(),
		now:             time.Now,
		entries:         make(map[solana.Pubkey]*entry),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (e *entry) snapshot(mint solana.Pubkey) Entry {
	return Entry{
		Mint:         mint,
		Count:        e.count,
		FetchedAt:    e.fetchedAt,
		RequestCount: e.requestCount,
		FirstSeen:    e.firstSeen,
	}
}

// lookup serves a read from the table, counting it as a served request.
func (c *Cache) lookup(mint solana.Pubkey) (Entry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[mint]
	if !ok {
		return Entry{}, false
	}
	e.requestCount++
	return e.snapshot(mint), true
}

// Get returns the cached holder count for mint, fetching it on a miss.
// Concurrent misses for the same mint are serialized: exactly one fetch runs
// and every waiter shares its result.
func (c *Cache) Get(ctx context.Context, mint solana.Pubkey) (Entry, error) {
	if snap, ok := c.lookup(mint); ok {
		observability.RecordCacheHit()
		c.logger.Info("cache hit",
			zap.String("mint", mint.String()),
			zap.Uint64("request_count", snap.RequestCount))
		return snap, nil
	}

	observability.RecordCacheMiss()
	c.logger.Info("cache miss, fetching", zap.String("mint", mint.String()))

	v, err, _ := c.sf.Do(mint.String(), func() (interface{}, error) {
		// A coalesced waiter may arrive after the winning fetch completed.
		if snap, ok := c.lookup(mint); ok {
			return snap, nil
		}

		// Detached from the caller: an abandoned request must not kill the
		// fetch for coalesced waiters, and a completed fetch still populates
		// the cache for later readers.
		fetchCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.missTimeout)
		defer cancel()

		start := c.now()
		count, err := c.fetchCount(fetchCtx, mint)
		if err != nil {
			c.logger.Warn("miss-fetch failed",
				zap.String("mint", mint.String()),
				zap.Duration("elapsed", c.now().Sub(start)),
				zap.Error(err))
			return nil, err
		}
		c.logger.Info("miss-fetch completed",
			zap.String("mint", mint.String()),
			zap.Int("holders", count),
			zap.Duration("elapsed", c.now().Sub(start)))

		return c.insert(mint, count), nil
	})
	if err != nil {
		return Entry{}, err
	}
	return v.(Entry), nil
}

// fetchCount runs the fetch → extract → count pipeline.
func (c *Cache) fetchCount(ctx context.Context, mint solana.Pubkey) (int, error) {
	accounts, err := c.fetcher.GetTokenAccountsByMint(ctx, mint)
	if err != nil {
		return 0, err
	}
	holders, err := holder.ExtractHolders(accounts, c.logger)
	if err != nil {
		return 0, err
	}
	return len(holders), nil
}

// insert adds a fresh entry, evicting the one with the oldest fetchedAt when
// the table is full. Eviction keys off fetchedAt, not firstSeen: a recently
// refreshed entry is protected even if it was inserted long ago.
func (c *Cache) insert(mint solana.Pubkey, count int) Entry {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()

	if e, ok := c.entries[mint]; ok {
		// Raced with another writer after the singleflight window closed.
		// Last writer wins on count/fetchedAt; this lookup still counts.
		e.count = count
		e.fetchedAt = now
		e.requestCount++
		return e.snapshot(mint)
	}

	if len(c.entries) >= c.capacity {
		c.evictOldestLocked()
	}

	e := &entry{
		count:        count,
		fetchedAt:    now,
		requestCount: 1,
		firstSeen:    now,
	}
	c.entries[mint] = e
	observability.UpdateCacheResident(len(c.entries))
	c.logger.Info("cached new mint",
		zap.String("mint", mint.String()),
		zap.Int("resident", len(c.entries)),
		zap.Int("capacity", c.capacity))
	return e.snapshot(mint)
}

// evictOldestLocked removes the entry with the smallest fetchedAt.
// Ties break on the mint bytes so the choice is deterministic.
func (c *Cache) evictOldestLocked() {
	var oldest solana.Pubkey
	var oldestAt time.Time
	first := true
	for mint, e := range c.entries {
		if first || e.fetchedAt.Before(oldestAt) ||
			(e.fetchedAt.Equal(oldestAt) && bytes.Compare(mint[:], oldest[:]) < 0) {
			oldest = mint
			oldestAt = e.fetchedAt
			first = false
		}
	}
	if first {
		return
	}
	delete(c.entries, oldest)
	observability.RecordCacheEviction()
	c.logger.Info("evicted oldest mint",
		zap.String("mint", oldest.String()),
		zap.Time("fetched_at", oldestAt))
}

// Resident returns snapshots of all resident entries, ordered by mint.
func (c *Cache) Resident() []Entry {
	c.mu.Lock()
	snaps := make([]Entry, 0, len(c.entries))
	for mint, e := range c.entries {
		snaps = append(snaps, e.snapshot(mint))
	}
	c.mu.Unlock()

	sort.Slice(snaps, func(i, j int) bool {
		return bytes.Compare(snaps[i].Mint[:], snaps[j].Mint[:]) < 0
	})
	return snaps
}

// Stats returns aggregate cache counters.
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	var total uint64
	for _, e := range c.entries {
		total += e.requestCount
	}
	return Stats{
		ResidentKeys:  len(c.entries),
		TotalRequests: total,
	}
}

// Run drives the background refresher until ctx is cancelled. Refresh
// failures are absorbed per key and never stop the loop.
func (c *Cache) Run(ctx context.Context) error {
	ticker := time.NewTicker(c.refreshInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			c.refreshAll(ctx)
		}
	}
}

// refreshAll re-fetches every resident key sequentially to bound load on the
// remote endpoint.
func (c *Cache) refreshAll(ctx context.Context) {
	c.mu.Lock()
	mints := make([]solana.Pubkey, 0, len(c.entries))
	for mint := range c.entries {
		mints = append(mints, mint)
	}
	c.mu.Unlock()

	status := "success"
	for _, mint := range mints {
		if ctx.Err() != nil {
			return
		}
		if err := c.refreshOne(ctx, mint); err != nil {
			status = "partial"
		}
	}
	observability.RecordRefreshTick(status, c.now().Unix())
}

// refreshOne updates one entry in place, preserving requestCount and
// firstSeen. A failed refresh leaves the stale entry untouched.
func (c *Cache) refreshOne(ctx context.Context, mint solana.Pubkey) error {
	fetchCtx, cancel := context.WithTimeout(ctx, c.refreshTimeout)
	defer cancel()

	count, err := c.fetchCount(fetchCtx, mint)
	if err != nil {
		observability.RecordRefreshKey("error")
		c.logger.Error("background refresh failed, keeping stale entry",
			zap.String("mint", mint.String()),
			zap.Error(err))
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[mint]
	if !ok {
		// Evicted while the refresh was in flight; do not re-insert.
		observability.RecordRefreshKey("skipped")
		return nil
	}
	e.count = count
	e.fetchedAt = c.now()
	observability.RecordRefreshKey("success")
	c.logger.Info("refreshed cache entry",
		zap.String("mint", mint.String()),
		zap.Int("holders", count))
	return nil
}
