package cache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leapstack-labs/leapviz/internal/testutil"
)

// fakeClock is a manually advanced clock.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestCache(t *testing.T, clock *fakeClock, opts ...Option[string]) *Cache[string] {
	t.Helper()
	base := []Option[string]{
		WithClock[string](clock.Now),
		WithLogger[string](testutil.NewTestLogger(t)),
	}
	c := New[string]("test", append(base, opts...)...)
	t.Cleanup(c.Close)
	return c
}

func TestCache_GetSet(t *testing.T) {
	c := newTestCache(t, newFakeClock())

	_, ok := c.Get("a")
	assert.False(t, ok)

	c.Set("a", "alpha", time.Minute)
	v, ok := c.Get("a")
	require.True(t, ok)
	assert.Equal(t, "alpha", v)

	c.Set("a", "alpha2", time.Minute)
	v, _ = c.Get("a")
	assert.Equal(t, "alpha2", v)
	assert.Equal(t, 1, c.Len())

	s := c.Stats()
	assert.Equal(t, int64(2), s.Hits)
	assert.Equal(t, int64(1), s.Misses)
}

func TestCache_TTLExpiry(t *testing.T) {
	clock := newFakeClock()
	c := newTestCache(t, clock)

	c.Set("q", "rows", 5*time.Minute)

	clock.Advance(5*time.Minute - time.Second)
	_, ok := c.Get("q")
	assert.True(t, ok, "valid just before expiry")

	clock.Advance(time.Second)
	_, ok = c.Get("q")
	assert.False(t, ok, "expired at exactly ExpiresAt")
	assert.Equal(t, 0, c.Len(), "expired entry removed on read")
	assert.Equal(t, int64(1), c.Stats().Expirations)
}

func TestCache_DefaultTTL(t *testing.T) {
	clock := newFakeClock()
	c := newTestCache(t, clock, WithDefaultTTL[string](time.Minute))

	c.Set("k", "v", 0)
	e, ok := c.Entry("k")
	require.True(t, ok)
	assert.Equal(t, time.Minute, e.ExpiresAt.Sub(e.CreatedAt))
	assert.True(t, e.ExpiresAt.After(e.CreatedAt))
}

func TestCache_LRUEviction(t *testing.T) {
	c := newTestCache(t, newFakeClock(), WithMaxEntries[string](3))

	c.Set("a", "1", time.Hour)
	c.Set("b", "2", time.Hour)
	c.Set("c", "3", time.Hour)

	// Touch "a" so "b" becomes least recently used.
	_, ok := c.Get("a")
	require.True(t, ok)

	c.Set("d", "4", time.Hour)

	assert.Equal(t, 3, c.Len())
	_, ok = c.Get("b")
	assert.False(t, ok, "least recently used entry evicted")
	for _, k := range []string{"a", "c", "d"} {
		_, ok := c.Get(k)
		assert.True(t, ok, k)
	}
	assert.Equal(t, int64(1), c.Stats().Evictions)
}

func TestCache_UpdateAtCapacityDoesNotEvict(t *testing.T) {
	c := newTestCache(t, newFakeClock(), WithMaxEntries[string](2))

	c.Set("a", "1", time.Hour)
	c.Set("b", "2", time.Hour)
	c.Set("a", "1b", time.Hour)

	assert.Equal(t, 2, c.Len())
	assert.Zero(t, c.Stats().Evictions)
	assert.Equal(t, []string{"b", "a"}, c.Keys())
}

func TestCache_NeverExceedsCapacity(t *testing.T) {
	c := newTestCache(t, newFakeClock(), WithMaxEntries[string](10))
	for i := range 100 {
		c.Set(fmt.Sprintf("k%d", i), "v", time.Hour)
		assert.LessOrEqual(t, c.Len(), 10)
	}
	assert.Equal(t, int64(90), c.Stats().Evictions)
}

func TestCache_Invalidate(t *testing.T) {
	c := newTestCache(t, newFakeClock())

	c.Set(Key("ask", "t", "q1"), "1", time.Hour)
	c.Set(Key("ask", "t", "q2"), "2", time.Hour)
	c.Set(Key("dashboards", "list"), "3", time.Hour)

	assert.True(t, c.Invalidate(Key("ask", "t", "q1")))
	assert.False(t, c.Invalidate(Key("ask", "t", "q1")))

	assert.Equal(t, 1, c.InvalidatePrefix("ask:"))
	assert.Equal(t, 1, c.Len())

	_, ok := c.Get(Key("dashboards", "list"))
	assert.True(t, ok)
}

func TestCache_ClearAndClose(t *testing.T) {
	c := New[string]("closing")

	c.Set("a", "1", time.Hour)
	c.Clear()
	assert.Zero(t, c.Len())

	c.Set("a", "1", time.Hour)
	c.Close()

	_, ok := c.Get("a")
	assert.False(t, ok)
	c.Set("b", "2", time.Hour)
	assert.Zero(t, c.Len())

	_, err := c.GetOrFetch(context.Background(), "c", time.Hour, func(context.Context) (string, error) {
		return "x", nil
	})
	assert.ErrorIs(t, err, ErrClosed)
}

func TestCache_NewPanicsOnInvalidOptions(t *testing.T) {
	assert.Panics(t, func() { New[int]("bad", WithMaxEntries[int](0)) })
	assert.Panics(t, func() { New[int]("bad", WithDefaultTTL[int](-time.Second)) })
}

func TestCache_Sizer(t *testing.T) {
	c := newTestCache(t, newFakeClock(), WithSizer(func(v string) int { return len(v) }))
	c.Set("a", "abc", time.Hour)
	c.Set("b", "de", time.Hour)
	assert.Equal(t, int64(5), c.Stats().ApproxBytes)
}

func TestGetOrFetch_CachesSuccess(t *testing.T) {
	c := newTestCache(t, newFakeClock())
	calls := 0
	fetch := func(context.Context) (string, error) {
		calls++
		return "value", nil
	}

	v, err := c.GetOrFetch(context.Background(), "k", time.Minute, fetch)
	require.NoError(t, err)
	assert.Equal(t, "value", v)

	v, err = c.GetOrFetch(context.Background(), "k", time.Minute, fetch)
	require.NoError(t, err)
	assert.Equal(t, "value", v)
	assert.Equal(t, 1, calls)
}

func TestGetOrFetch_DoesNotCacheErrors(t *testing.T) {
	c := newTestCache(t, newFakeClock())
	boom := errors.New("boom")
	calls := 0

	for range 2 {
		_, err := c.GetOrFetch(context.Background(), "k", time.Minute, func(context.Context) (string, error) {
			calls++
			return "", boom
		})
		assert.ErrorIs(t, err, boom)
	}
	assert.Equal(t, 2, calls)
	assert.Zero(t, c.Len())
}

func TestGetOrFetch_SingleFlight(t *testing.T) {
	c := newTestCache(t, newFakeClock())

	var calls atomic.Int32
	release := make(chan struct{})
	fetch := func(context.Context) (string, error) {
		calls.Add(1)
		<-release
		return "shared", nil
	}

	const callers = 20
	var wg sync.WaitGroup
	results := make([]string, callers)
	errs := make([]error, callers)
	for i := range callers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i], errs[i] = c.GetOrFetch(context.Background(), "k", time.Minute, fetch)
		}()
	}

	require.Eventually(t, func() bool {
		return c.Stats().Misses == callers
	}, time.Second, time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), calls.Load())
	for i := range callers {
		require.NoError(t, errs[i])
		assert.Equal(t, "shared", results[i])
	}
}

func TestGetOrFetch_InvalidatedDuringFlightIsNotStored(t *testing.T) {
	c := newTestCache(t, newFakeClock())

	started := make(chan struct{})
	release := make(chan struct{})
	done := make(chan string)

	go func() {
		v, _ := c.GetOrFetch(context.Background(), "k", time.Minute, func(context.Context) (string, error) {
			close(started)
			<-release
			return "old", nil
		})
		done <- v
	}()

	<-started
	c.Invalidate("k")
	close(release)

	assert.Equal(t, "old", <-done, "the waiting caller still receives its result")
	_, ok := c.Entry("k")
	assert.False(t, ok, "result fetched across an invalidation is not stored")

	// A new caller starts a fresh fetch.
	v, err := c.GetOrFetch(context.Background(), "k", time.Minute, func(context.Context) (string, error) {
		return "new", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "new", v)
}

func TestGetOrFetch_ClearDuringFlightIsNotStored(t *testing.T) {
	c := newTestCache(t, newFakeClock())

	started := make(chan struct{})
	release := make(chan struct{})
	done := make(chan struct{})

	go func() {
		defer close(done)
		_, _ = c.GetOrFetch(context.Background(), "ask:1", time.Minute, func(context.Context) (string, error) {
			close(started)
			<-release
			return "v", nil
		})
	}()

	<-started
	c.Clear()
	close(release)
	<-done

	assert.Zero(t, c.Len())
}

func TestGetOrFetch_CallerCancellation(t *testing.T) {
	c := newTestCache(t, newFakeClock())

	release := make(chan struct{})
	var fetchErr error
	fetch := func(ctx context.Context) (string, error) {
		<-release
		fetchErr = ctx.Err()
		return "v", nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	abandoned := make(chan error)
	go func() {
		_, err := c.GetOrFetch(ctx, "k", time.Minute, fetch)
		abandoned <- err
	}()

	waiter := make(chan string)
	go func() {
		v, _ := c.GetOrFetch(context.Background(), "k", time.Minute, fetch)
		waiter <- v
	}()

	require.Eventually(t, func() bool {
		return c.Stats().Misses == 2
	}, time.Second, time.Millisecond)

	cancel()
	assert.ErrorIs(t, <-abandoned, context.Canceled)

	close(release)
	assert.Equal(t, "v", <-waiter)
	assert.NoError(t, fetchErr, "fetch is detached from a single caller's cancellation")

	_, ok := c.Get("k")
	assert.True(t, ok)
}
