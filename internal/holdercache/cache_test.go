package holdercache

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"solana-holder-watch/internal/solana"
)

// fakeFetcher synthesizes token account batches per mint.
type fakeFetcher struct {
	mu     sync.Mutex
	counts map[solana.Pubkey]int
	errs   map[solana.Pubkey]error
	calls  map[solana.Pubkey]int
	delay  time.Duration
}

func newFakeFetcher() *fakeFetcher {
	return &fakeFetcher{
		counts: make(map[solana.Pubkey]int),
		errs:   make(map[solana.Pubkey]error),
		calls:  make(map[solana.Pubkey]int),
	}
}

func (f *fakeFetcher) setCount(mint solana.Pubkey, n int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.counts[mint] = n
}

func (f *fakeFetcher) setErr(mint solana.Pubkey, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.errs[mint] = err
}

func (f *fakeFetcher) callCount(mint solana.Pubkey) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[mint]
}

func (f *fakeFetcher) GetTokenAccountsByMint(ctx context.Context, mint solana.Pubkey) ([]solana.Account, error) {
	f.mu.Lock()
	f.calls[mint]++
	err := f.errs[mint]
	n := f.counts[mint]
	delay := f.delay
	f.mu.Unlock()

	if delay > 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
	}
	if err != nil {
		return nil, err
	}

	accounts := make([]solana.Account, 0, n)
	for i := 0; i < n; i++ {
		data := make([]byte, solana.TokenAccountSize)
		// distinct nonzero owner per account
		binary.LittleEndian.PutUint32(data[32:36], uint32(i+1))
		binary.LittleEndian.PutUint64(data[64:72], 1)
		accounts = append(accounts, solana.Account{
			Pubkey: fmt.Sprintf("acct-%d", i),
			Data:   data,
		})
	}
	return accounts, nil
}

// fakeClock is a controllable timestamp source.
type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Unix(1_700_000_000, 0)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func mintKey(b byte) solana.Pubkey {
	var pk solana.Pubkey
	pk[31] = b
	return pk
}

func TestCache_MissThenHit(t *testing.T) {
	fetcher := newFakeFetcher()
	mint := mintKey(1)
	fetcher.setCount(mint, 42)

	cache := New(fetcher)

	first, err := cache.Get(context.Background(), mint)
	require.NoError(t, err)
	require.Equal(t, 42, first.Count)
	require.Equal(t, uint64(1), first.RequestCount)
	require.Equal(t, 1, fetcher.callCount(mint))

	second, err := cache.Get(context.Background(), mint)
	require.NoError(t, err)
	require.Equal(t, 42, second.Count)
	require.Equal(t, uint64(2), second.RequestCount, "hit increments request count by exactly 1")
	require.Equal(t, first.FirstSeen, second.FirstSeen, "hit must not touch first seen")
	require.Equal(t, first.FetchedAt, second.FetchedAt, "hit must not touch fetched at")
	require.Equal(t, 1, fetcher.callCount(mint), "hit must not fetch")
}

func TestCache_FetchFailureCreatesNoEntry(t *testing.T) {
	fetcher := newFakeFetcher()
	mint := mintKey(1)
	fetchErr := errors.New("rpc blew up")
	fetcher.setErr(mint, fetchErr)

	cache := New(fetcher)

	_, err := cache.Get(context.Background(), mint)
	require.ErrorIs(t, err, fetchErr, "fetch errors propagate untouched")
	require.Equal(t, 0, cache.Stats().ResidentKeys)

	// The key stays absent, so the next call fetches again.
	fetcher.setErr(mint, nil)
	fetcher.setCount(mint, 7)
	entry, err := cache.Get(context.Background(), mint)
	require.NoError(t, err)
	require.Equal(t, 7, entry.Count)
}

func TestCache_EvictsOldestFetchedAt(t *testing.T) {
	fetcher := newFakeFetcher()
	clock := newFakeClock()
	mintA, mintB, mintC := mintKey(1), mintKey(2), mintKey(3)
	fetcher.setCount(mintA, 1)
	fetcher.setCount(mintB, 2)
	fetcher.setCount(mintC, 3)

	cache := New(fetcher, WithCapacity(2), WithClock(clock.Now))

	_, err := cache.Get(context.Background(), mintA)
	require.NoError(t, err)
	clock.Advance(time.Second)
	_, err = cache.Get(context.Background(), mintB)
	require.NoError(t, err)
	clock.Advance(time.Second)

	_, err = cache.Get(context.Background(), mintC)
	require.NoError(t, err)

	resident := cache.Resident()
	require.Len(t, resident, 2, "table size stays within capacity")

	mints := []solana.Pubkey{resident[0].Mint, resident[1].Mint}
	require.Contains(t, mints, mintB)
	require.Contains(t, mints, mintC)
	require.NotContains(t, mints, mintA, "entry with the oldest fetchedAt is evicted")
}

func TestCache_RefreshProtectsOldInsertions(t *testing.T) {
	// An entry inserted long ago but refreshed recently must survive
	// eviction: ordering keys off fetchedAt, not firstSeen.
	fetcher := newFakeFetcher()
	clock := newFakeClock()
	mintA, mintB, mintC := mintKey(1), mintKey(2), mintKey(3)
	fetcher.setCount(mintA, 1)
	fetcher.setCount(mintB, 2)
	fetcher.setCount(mintC, 3)

	cache := New(fetcher, WithCapacity(2), WithClock(clock.Now))

	_, err := cache.Get(context.Background(), mintA)
	require.NoError(t, err)
	clock.Advance(time.Second)
	_, err = cache.Get(context.Background(), mintB)
	require.NoError(t, err)

	// Refresh A so its fetchedAt is now newer than B's.
	clock.Advance(time.Second)
	require.NoError(t, cache.refreshOne(context.Background(), mintA))

	clock.Advance(time.Second)
	_, err = cache.Get(context.Background(), mintC)
	require.NoError(t, err)

	resident := cache.Resident()
	require.Len(t, resident, 2)
	mints := []solana.Pubkey{resident[0].Mint, resident[1].Mint}
	require.Contains(t, mints, mintA, "recently refreshed entry is protected")
	require.Contains(t, mints, mintC)
}

func TestCache_RefreshPreservesRequestCountAndFirstSeen(t *testing.T) {
	fetcher := newFakeFetcher()
	clock := newFakeClock()
	mint := mintKey(1)
	fetcher.setCount(mint, 10)

	cache := New(fetcher, WithClock(clock.Now))

	before, err := cache.Get(context.Background(), mint)
	require.NoError(t, err)
	_, err = cache.Get(context.Background(), mint)
	require.NoError(t, err)

	fetcher.setCount(mint, 25)
	clock.Advance(time.Minute)
	require.NoError(t, cache.refreshOne(context.Background(), mint))

	after, err := cache.Get(context.Background(), mint)
	require.NoError(t, err)
	require.Equal(t, 25, after.Count, "refresh replaces count")
	require.True(t, after.FetchedAt.After(before.FetchedAt), "refresh replaces fetchedAt")
	require.Equal(t, before.FirstSeen, after.FirstSeen, "refresh preserves firstSeen")
	require.Equal(t, uint64(3), after.RequestCount, "refresh never inflates request count")
}

func TestCache_RefreshFailureKeepsStaleEntry(t *testing.T) {
	fetcher := newFakeFetcher()
	mint := mintKey(1)
	fetcher.setCount(mint, 10)

	cache := New(fetcher)

	_, err := cache.Get(context.Background(), mint)
	require.NoError(t, err)

	fetcher.setErr(mint, errors.New("endpoint down"))
	require.Error(t, cache.refreshOne(context.Background(), mint))

	entry, err := cache.Get(context.Background(), mint)
	require.NoError(t, err)
	require.Equal(t, 10, entry.Count, "stale value survives a failed refresh")
	require.Equal(t, 1, cache.Stats().ResidentKeys)
}

func TestCache_RefreshSkipsEvictedKey(t *testing.T) {
	fetcher := newFakeFetcher()
	mint := mintKey(1)
	fetcher.setCount(mint, 10)

	cache := New(fetcher)

	// Refreshing a key that is not resident must not insert it.
	require.NoError(t, cache.refreshOne(context.Background(), mint))
	require.Equal(t, 0, cache.Stats().ResidentKeys)
}

func TestCache_ConcurrentMissesFetchOnce(t *testing.T) {
	fetcher := newFakeFetcher()
	fetcher.delay = 30 * time.Millisecond
	mint := mintKey(1)
	fetcher.setCount(mint, 99)

	cache := New(fetcher)

	var g errgroup.Group
	for i := 0; i < 10; i++ {
		g.Go(func() error {
			entry, err := cache.Get(context.Background(), mint)
			if err != nil {
				return err
			}
			if entry.Count != 99 {
				return fmt.Errorf("unexpected count %d", entry.Count)
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())
	require.Equal(t, 1, fetcher.callCount(mint), "concurrent misses coalesce into one fetch")
}

func TestCache_AbandonedCallerStillPopulates(t *testing.T) {
	fetcher := newFakeFetcher()
	fetcher.delay = 30 * time.Millisecond
	mint := mintKey(1)
	fetcher.setCount(mint, 12)

	cache := New(fetcher)

	// The caller gives up almost immediately; the detached fetch finishes
	// anyway and populates the cache for later readers.
	ctx, cancel := context.WithTimeout(context.Background(), time.Millisecond)
	defer cancel()
	_, _ = cache.Get(ctx, mint)

	require.Eventually(t, func() bool {
		return cache.Stats().ResidentKeys == 1
	}, time.Second, 5*time.Millisecond)

	entry, err := cache.Get(context.Background(), mint)
	require.NoError(t, err)
	require.Equal(t, 12, entry.Count)
}

func TestCache_StatsAndResident(t *testing.T) {
	fetcher := newFakeFetcher()
	mintA, mintB := mintKey(1), mintKey(2)
	fetcher.setCount(mintA, 5)
	fetcher.setCount(mintB, 6)

	cache := New(fetcher)

	_, err := cache.Get(context.Background(), mintA)
	require.NoError(t, err)
	_, err = cache.Get(context.Background(), mintA)
	require.NoError(t, err)
	_, err = cache.Get(context.Background(), mintB)
	require.NoError(t, err)

	stats := cache.Stats()
	require.Equal(t, 2, stats.ResidentKeys)
	require.Equal(t, uint64(3), stats.TotalRequests)

	resident := cache.Resident()
	require.Len(t, resident, 2)
	require.Equal(t, mintA, resident[0].Mint, "resident list is ordered by mint")
	require.Equal(t, mintB, resident[1].Mint)
}

func TestCache_RunRefreshesResidentKeys(t *testing.T) {
	fetcher := newFakeFetcher()
	mint := mintKey(1)
	fetcher.setCount(mint, 10)

	cache := New(fetcher, WithRefreshInterval(10*time.Millisecond))

	_, err := cache.Get(context.Background(), mint)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- cache.Run(ctx) }()

	fetcher.setCount(mint, 20)
	require.Eventually(t, func() bool {
		entry, err := cache.Get(context.Background(), mint)
		return err == nil && entry.Count == 20
	}, 2*time.Second, 5*time.Millisecond, "background refresher picks up the new count")

	cancel()
	require.ErrorIs(t, <-done, context.Canceled)
}
