package retry

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leapstack-labs/leapviz/internal/testutil"
	"github.com/leapstack-labs/leapviz/pkg/apierr"
)

// recorder captures sleeps and attempt events instead of waiting.
type recorder struct {
	mu       sync.Mutex
	sleeps   []time.Duration
	attempts []Attempt
}

func (r *recorder) sleep(_ context.Context, d time.Duration) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sleeps = append(r.sleeps, d)
	return nil
}

func (r *recorder) onAttempt(a Attempt) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.attempts = append(r.attempts, a)
}

func newTestExecutor(t *testing.T, r *recorder) *Executor {
	t.Helper()
	return New(
		WithLogger(testutil.NewTestLogger(t)),
		WithSleep(r.sleep),
		WithOnAttempt(r.onAttempt),
		WithRandSource(rand.NewSource(1)),
	)
}

func statusFailure(status int) func(context.Context) (string, error) {
	return func(context.Context) (string, error) {
		return "", &apierr.StatusError{Status: status}
	}
}

func TestDo_SucceedsFirstAttempt(t *testing.T) {
	r := &recorder{}
	ex := newTestExecutor(t, r)

	v, err := Do(context.Background(), ex, "translate", DefaultPolicy(), func(context.Context) (int, error) {
		return 42, nil
	})

	require.NoError(t, err)
	assert.Equal(t, 42, v)
	assert.Empty(t, r.sleeps)
	require.Len(t, r.attempts, 1)
	assert.True(t, r.attempts[0].Final)
	assert.Nil(t, r.attempts[0].Err)
}

func TestDo_RetryBound(t *testing.T) {
	for _, n := range []int{1, 2, 3, 5} {
		r := &recorder{}
		ex := newTestExecutor(t, r)
		calls := 0

		p := DefaultPolicy().WithMaxAttempts(n)
		_, err := Do(context.Background(), ex, "execute", p, func(context.Context) (string, error) {
			calls++
			return "", errors.New("connection reset")
		})

		require.Error(t, err)
		assert.Equal(t, n, calls, "max attempts %d", n)
		assert.Len(t, r.sleeps, n-1)

		var e *apierr.Error
		require.ErrorAs(t, err, &e)
		assert.Equal(t, apierr.KindNetwork, e.Kind)
	}
}

func TestDo_ThreeServerErrors(t *testing.T) {
	r := &recorder{}
	ex := newTestExecutor(t, r)
	calls := 0

	_, err := Do(context.Background(), ex, "execute", DefaultPolicy(), func(ctx context.Context) (string, error) {
		calls++
		return statusFailure(500)(ctx)
	})

	var e *apierr.Error
	require.ErrorAs(t, err, &e)
	assert.Equal(t, apierr.KindServer, e.Kind)
	assert.Equal(t, 500, e.Status)
	assert.Equal(t, 3, calls)

	require.Len(t, r.attempts, 3)
	assert.False(t, r.attempts[0].Final)
	assert.False(t, r.attempts[1].Final)
	assert.True(t, r.attempts[2].Final)
	assert.Zero(t, r.attempts[2].Delay)
}

func TestDo_NonRetryableStopsImmediately(t *testing.T) {
	for _, status := range []int{400, 401, 403, 404, 413, 415, 422} {
		r := &recorder{}
		ex := newTestExecutor(t, r)
		calls := 0

		_, err := Do(context.Background(), ex, "save", DefaultPolicy(), func(ctx context.Context) (string, error) {
			calls++
			return statusFailure(status)(ctx)
		})

		require.Error(t, err)
		assert.Equal(t, 1, calls, "status %d", status)
		assert.Empty(t, r.sleeps)
	}
}

func TestDo_RecoversAfterTransientFailure(t *testing.T) {
	r := &recorder{}
	ex := newTestExecutor(t, r)
	calls := 0

	v, err := Do(context.Background(), ex, "translate", DefaultPolicy(), func(context.Context) (string, error) {
		calls++
		if calls < 3 {
			return "", &apierr.StatusError{Status: 503}
		}
		return "SELECT 1", nil
	})

	require.NoError(t, err)
	assert.Equal(t, "SELECT 1", v)
	assert.Equal(t, 3, calls)
}

func TestDo_CustomRetryPredicate(t *testing.T) {
	r := &recorder{}
	ex := newTestExecutor(t, r)
	calls := 0

	p := DefaultPolicy()
	p.Retryable = func(k apierr.Kind) bool { return k == apierr.KindValidation }

	_, err := Do(context.Background(), ex, "x", p, func(ctx context.Context) (string, error) {
		calls++
		return statusFailure(422)(ctx)
	})
	require.Error(t, err)
	assert.Equal(t, 3, calls)

	calls = 0
	_, err = Do(context.Background(), ex, "x", p, func(ctx context.Context) (string, error) {
		calls++
		return statusFailure(500)(ctx)
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestDo_BackoffTiming(t *testing.T) {
	t.Run("exact without jitter", func(t *testing.T) {
		r := &recorder{}
		ex := newTestExecutor(t, r)

		p := Policy{MaxAttempts: 5, BaseDelay: 100 * time.Millisecond, Multiplier: 2}
		_, _ = Do(context.Background(), ex, "x", p, statusFailure(503))

		assert.Equal(t, []time.Duration{
			100 * time.Millisecond,
			200 * time.Millisecond,
			400 * time.Millisecond,
			800 * time.Millisecond,
		}, r.sleeps)
	})

	t.Run("within jitter tolerance", func(t *testing.T) {
		r := &recorder{}
		ex := newTestExecutor(t, r)

		p := Policy{MaxAttempts: 4, BaseDelay: time.Second, Multiplier: 3, Jitter: true}
		_, _ = Do(context.Background(), ex, "x", p, statusFailure(503))

		require.Len(t, r.sleeps, 3)
		for n, got := range r.sleeps {
			want := float64(p.Delay(n))
			assert.InDelta(t, want, float64(got), want*JitterFraction, "attempt %d", n)
		}
	})
}

func TestPolicy_Delay(t *testing.T) {
	p := DefaultPolicy()
	assert.Equal(t, time.Second, p.Delay(0))
	assert.Equal(t, 2*time.Second, p.Delay(1))
	assert.Equal(t, 4*time.Second, p.Delay(2))
	assert.Equal(t, time.Second, p.Delay(-1))
}

func TestPolicy_DelaySaturates(t *testing.T) {
	p := Policy{MaxAttempts: 10, BaseDelay: time.Hour, Multiplier: 1e10}
	assert.Equal(t, time.Duration(math.MaxInt64), p.Delay(3))
	assert.Equal(t, time.Duration(math.MaxInt64), p.Delay(400))

	// 2^63 ns converts to exactly float64(math.MaxInt64).
	exact := Policy{MaxAttempts: 2, BaseDelay: 1 << 62, Multiplier: 2}
	assert.Equal(t, time.Duration(math.MaxInt64), exact.Delay(1))
}

// highSource makes rand.Float64 return the largest value below 1.
type highSource struct{}

func (highSource) Int63() int64 { return 1<<63 - 1<<10 }
func (highSource) Seed(int64)   {}

func TestExecutor_JitteredDelayDoesNotOverflow(t *testing.T) {
	ex := New(WithLogger(testutil.NewTestLogger(t)), WithRandSource(highSource{}))

	p := Policy{MaxAttempts: 10, BaseDelay: time.Hour, Multiplier: 1e10, Jitter: true}
	assert.Equal(t, time.Duration(math.MaxInt64), ex.delay(p, 3))

	near := Policy{MaxAttempts: 2, BaseDelay: time.Duration(math.MaxInt64 / 10 * 9), Multiplier: 1, Jitter: true}
	assert.Equal(t, time.Duration(math.MaxInt64), ex.delay(near, 0))

	small := Policy{MaxAttempts: 2, BaseDelay: time.Second, Multiplier: 1, Jitter: true}
	got := ex.delay(small, 0)
	assert.Greater(t, got, time.Second)
	assert.LessOrEqual(t, got, time.Second+time.Second/5)
}

func TestPolicy_Validate(t *testing.T) {
	assert.NoError(t, DefaultPolicy().Validate())
	assert.NoError(t, UploadPolicy().Validate())
	assert.Equal(t, 2, UploadPolicy().MaxAttempts)

	assert.ErrorIs(t, Policy{MaxAttempts: 0, Multiplier: 2}.Validate(), ErrInvalidPolicy)
	assert.ErrorIs(t, Policy{MaxAttempts: 1, Multiplier: 0.5}.Validate(), ErrInvalidPolicy)
	assert.ErrorIs(t, Policy{MaxAttempts: 1, Multiplier: 1, BaseDelay: -1}.Validate(), ErrInvalidPolicy)

	assert.Panics(t, func() {
		_, _ = Do(context.Background(), nil, "x", Policy{}, func(context.Context) (int, error) { return 0, nil })
	})
}

func TestDo_PerAttemptTimeout(t *testing.T) {
	r := &recorder{}
	ex := newTestExecutor(t, r)
	var deadlines []bool

	p := DefaultPolicy().WithTimeout(20 * time.Millisecond)
	_, err := Do(context.Background(), ex, "execute", p, func(ctx context.Context) (string, error) {
		_, ok := ctx.Deadline()
		deadlines = append(deadlines, ok)
		<-ctx.Done()
		// A backend that reports its own error text instead of ctx.Err()
		return "", errors.New("query interrupted")
	})

	var e *apierr.Error
	require.ErrorAs(t, err, &e)
	assert.Equal(t, apierr.KindTimeout, e.Kind)
	assert.Equal(t, []bool{true, true, true}, deadlines)
}

func TestDo_ParentCancelStopsRetrying(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0

	ex := New(WithSleep(func(ctx context.Context, _ time.Duration) error {
		cancel()
		return ctx.Err()
	}))

	_, err := Do(ctx, ex, "x", DefaultPolicy(), func(context.Context) (string, error) {
		calls++
		return "", &apierr.StatusError{Status: 503}
	})

	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls)
}

func TestDo_AlreadyCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	calls := 0
	_, err := Do(ctx, nil, "x", DefaultPolicy(), func(context.Context) (string, error) {
		calls++
		return "", nil
	})
	require.Error(t, err)
	assert.Zero(t, calls)
}

func TestSleepContext(t *testing.T) {
	assert.NoError(t, sleepContext(context.Background(), time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, sleepContext(ctx, time.Hour), context.Canceled)
}
