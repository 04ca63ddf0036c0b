package retry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"github.com/leapstack-labs/leapviz/pkg/apierr"
)

// Attempt describes the outcome of one attempt. It is reported to the
// executor's OnAttempt callback after every attempt.
type Attempt struct {
	Op          string
	Number      int // 1-based
	MaxAttempts int
	Err         *apierr.Error // nil on success
	Delay       time.Duration // wait before the next attempt, zero when Final
	Final       bool
}

// SleepFunc waits for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

// Executor runs operations under a Policy. It is safe for concurrent use.
type Executor struct {
	logger    *slog.Logger
	onAttempt func(Attempt)
	sleep     SleepFunc

	randMu sync.Mutex
	rand   *rand.Rand
}

// Option configures an Executor.
type Option func(*Executor)

// WithLogger sets the logger used for retry warnings.
func WithLogger(l *slog.Logger) Option {
	return func(e *Executor) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithOnAttempt registers a callback invoked after every attempt.
func WithOnAttempt(fn func(Attempt)) Option {
	return func(e *Executor) { e.onAttempt = fn }
}

// WithSleep replaces the wait between attempts. Used by tests.
func WithSleep(fn SleepFunc) Option {
	return func(e *Executor) {
		if fn != nil {
			e.sleep = fn
		}
	}
}

// WithRandSource seeds the jitter source.
func WithRandSource(src rand.Source) Option {
	return func(e *Executor) { e.rand = rand.New(src) } //nolint:gosec // jitter does not need crypto randomness
}

// New creates an Executor.
func New(opts ...Option) *Executor {
	e := &Executor{
		logger: slog.New(slog.DiscardHandler),
		sleep:  sleepContext,
		rand:   rand.New(rand.NewSource(time.Now().UnixNano())), //nolint:gosec // jitter does not need crypto randomness
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

var defaultExecutor = New()

// Do runs fn until it succeeds, the failure is not retryable, the policy's
// attempts are exhausted, or ctx is done.
//
// Every failure is classified with apierr.Classify; the returned error is
// always an *apierr.Error. op names the operation in logs and attempt events.
// An invalid policy is a programmer error and panics.
func Do[T any](ctx context.Context, ex *Executor, op string, p Policy, fn func(context.Context) (T, error)) (T, error) {
	var zero T
	if ex == nil {
		ex = defaultExecutor
	}
	if err := p.Validate(); err != nil {
		panic(fmt.Sprintf("retry: %s: %v: %+v", op, err, p))
	}

	for attempt := 0; attempt < p.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return zero, apierr.Classify(err)
		}

		v, classified := runAttempt(ctx, p.Timeout, fn)
		if classified == nil {
			ex.report(Attempt{Op: op, Number: attempt + 1, MaxAttempts: p.MaxAttempts, Final: true})
			return v, nil
		}

		last := attempt == p.MaxAttempts-1
		retry := !last && ctx.Err() == nil && p.ShouldRetry(classified)

		var delay time.Duration
		if retry {
			delay = ex.delay(p, attempt)
		}
		ex.report(Attempt{
			Op:          op,
			Number:      attempt + 1,
			MaxAttempts: p.MaxAttempts,
			Err:         classified,
			Delay:       delay,
			Final:       !retry,
		})
		if !retry {
			return zero, classified
		}

		ex.logger.Warn("retrying operation",
			"op", op,
			"attempt", attempt+1,
			"max_attempts", p.MaxAttempts,
			"kind", classified.Kind,
			"delay", delay,
		)

		if err := ex.sleep(ctx, delay); err != nil {
			return zero, apierr.Classify(err)
		}
	}

	// Unreachable: the final attempt always returns above.
	return zero, apierr.New(apierr.KindUnknown, "retry loop exited without result")
}

// runAttempt invokes fn under the per-attempt timeout and classifies failures.
func runAttempt[T any](ctx context.Context, timeout time.Duration, fn func(context.Context) (T, error)) (T, *apierr.Error) {
	attemptCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		attemptCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	v, err := fn(attemptCtx)
	if err == nil {
		return v, nil
	}

	classified := apierr.Classify(err)

	// The attempt's own deadline fired while the caller is still waiting:
	// a failure without a response is a timeout whatever shape it has.
	if ctx.Err() == nil && errors.Is(attemptCtx.Err(), context.DeadlineExceeded) &&
		classified.Status == 0 && classified.Kind != apierr.KindTimeout {
		classified = apierr.Classify(fmt.Errorf("%w: %v", context.DeadlineExceeded, err))
	}
	return v, classified
}

// delay returns the wait after attempt n, jittered when the policy asks.
func (e *Executor) delay(p Policy, n int) time.Duration {
	d := p.Delay(n)
	if !p.Jitter || d <= 0 {
		return d
	}
	e.randMu.Lock()
	r := e.rand.Float64()
	e.randMu.Unlock()

	// Range [d*(1-JitterFraction), d*(1+JitterFraction)]
	return clampDuration(float64(d) * (1 + (r*2-1)*JitterFraction))
}

func (e *Executor) report(a Attempt) {
	if e.onAttempt != nil {
		e.onAttempt(a)
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
