// Package orchestrator coordinates the user flows of a session: uploading a
// dataset, asking questions, running SQL and managing saved dashboards.
//
// It sits between a core.Backend and a viewstate.Store. Backend calls go
// through the retry executor, cacheable results through the response
// caches, and every failure surfaces as an *apierr.Error tagged with the
// phase it happened in.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/leapstack-labs/leapviz/pkg/cache"
	"github.com/leapstack-labs/leapviz/pkg/chart"
	"github.com/leapstack-labs/leapviz/pkg/core"
	"github.com/leapstack-labs/leapviz/pkg/retry"
	"github.com/leapstack-labs/leapviz/pkg/viewstate"
)

// ErrSuperseded is returned when a newer request (or Cancel) made a
// request's result stale. The store is left untouched.
var ErrSuperseded = errors.New("request superseded")

// errCancelled is returned when the caller's context was cancelled. It
// matches both ErrSuperseded and context.Canceled.
var errCancelled = fmt.Errorf("%w: %w", ErrSuperseded, context.Canceled)

// callerCancelled reports whether err is the caller giving up on ctx
// rather than a failure of the backend.
func callerCancelled(ctx context.Context, err error) bool {
	return ctx.Err() != nil && errors.Is(err, context.Canceled)
}

// Timeouts bound a single attempt per operation class.
type Timeouts struct {
	Translate time.Duration
	Execute   time.Duration
	Upload    time.Duration
	CRUD      time.Duration
}

// Config tunes the orchestrator.
type Config struct {
	QueryTTL            time.Duration
	QueryCacheSize      int
	DashboardsTTL       time.Duration
	DashboardsCacheSize int
	Retry               retry.Policy
	UploadMaxAttempts   int
	Timeouts            Timeouts
	Chart               chart.Selector
}

// DefaultConfig returns the standard settings.
func DefaultConfig() Config {
	return Config{
		QueryTTL:            5 * time.Minute,
		QueryCacheSize:      100,
		DashboardsTTL:       30 * time.Minute,
		DashboardsCacheSize: 10,
		Retry:               retry.DefaultPolicy(),
		UploadMaxAttempts:   retry.DefaultUploadMaxAttempts,
		Timeouts: Timeouts{
			Translate: 60 * time.Second,
			Execute:   60 * time.Second,
			Upload:    120 * time.Second,
			CRUD:      10 * time.Second,
		},
		Chart: chart.Default(),
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if err := c.Retry.Validate(); err != nil {
		return fmt.Errorf("retry: %w", err)
	}
	if c.UploadMaxAttempts < 1 {
		return fmt.Errorf("upload max attempts must be >= 1, got %d", c.UploadMaxAttempts)
	}
	if c.QueryTTL <= 0 || c.DashboardsTTL <= 0 {
		return errors.New("cache TTLs must be positive")
	}
	if c.QueryCacheSize < 1 || c.DashboardsCacheSize < 1 {
		return errors.New("cache sizes must be >= 1")
	}
	t := c.Timeouts
	if t.Translate < 0 || t.Execute < 0 || t.Upload < 0 || t.CRUD < 0 {
		return errors.New("timeouts must not be negative")
	}
	return nil
}

// Orchestrator runs the session flows. It is safe for concurrent use.
type Orchestrator struct {
	backend  core.Backend
	store    *viewstate.Store
	cfg      Config
	logger   *slog.Logger
	observer Observer
	exec     *retry.Executor

	queries    *cache.Cache[*Answer]
	dashboards *cache.Cache[[]core.Dashboard]

	questions sequence
	uploads   sequence

	mu    sync.RWMutex
	table string // current dataset, scopes query cache keys
}

// Option configures an Orchestrator.
type Option func(*options)

type options struct {
	cfg       Config
	logger    *slog.Logger
	observer  Observer
	retryOpts []retry.Option
}

// WithConfig replaces the default configuration.
func WithConfig(cfg Config) Option {
	return func(o *options) { o.cfg = cfg }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithObserver registers a telemetry observer.
func WithObserver(obs Observer) Option {
	return func(o *options) { o.observer = obs }
}

// WithRetryOptions passes extra options to the retry executor.
func WithRetryOptions(opts ...retry.Option) Option {
	return func(o *options) { o.retryOpts = append(o.retryOpts, opts...) }
}

// New creates an orchestrator driving store with results from backend.
func New(backend core.Backend, store *viewstate.Store, opts ...Option) (*Orchestrator, error) {
	if backend == nil || store == nil {
		return nil, errors.New("orchestrator: backend and store are required")
	}

	o := options{
		cfg:      DefaultConfig(),
		logger:   slog.New(slog.DiscardHandler),
		observer: nopObserver{},
	}
	for _, opt := range opts {
		opt(&o)
	}
	if err := o.cfg.Validate(); err != nil {
		return nil, fmt.Errorf("orchestrator config: %w", err)
	}
	if o.observer == nil {
		o.observer = nopObserver{}
	}

	orc := &Orchestrator{
		backend:  backend,
		store:    store,
		cfg:      o.cfg,
		logger:   o.logger,
		observer: o.observer,
	}

	retryOpts := append([]retry.Option{
		retry.WithLogger(o.logger),
		retry.WithOnAttempt(o.observer.AttemptFinished),
	}, o.retryOpts...)
	orc.exec = retry.New(retryOpts...)

	orc.queries = cache.New("queries",
		cache.WithMaxEntries[*Answer](o.cfg.QueryCacheSize),
		cache.WithDefaultTTL[*Answer](o.cfg.QueryTTL),
		cache.WithSizer(answerSize),
		cache.WithLogger[*Answer](o.logger),
	)
	orc.dashboards = cache.New("dashboards",
		cache.WithMaxEntries[[]core.Dashboard](o.cfg.DashboardsCacheSize),
		cache.WithDefaultTTL[[]core.Dashboard](o.cfg.DashboardsTTL),
		cache.WithLogger[[]core.Dashboard](o.logger),
	)
	return orc, nil
}

// Store returns the view state store the orchestrator drives.
func (o *Orchestrator) Store() *viewstate.Store {
	return o.store
}

// CacheStats returns the counters of both response caches, keyed by cache name.
func (o *Orchestrator) CacheStats() map[string]cache.Stats {
	return map[string]cache.Stats{
		o.queries.Name():    o.queries.Stats(),
		o.dashboards.Name(): o.dashboards.Stats(),
	}
}

// Close disposes of the response caches. In-flight questions become stale.
func (o *Orchestrator) Close() {
	o.questions.Cancel()
	o.uploads.Cancel()
	o.queries.Close()
	o.dashboards.Close()
}

func (o *Orchestrator) currentTable() string {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.table
}

func (o *Orchestrator) setTable(name string) {
	o.mu.Lock()
	o.table = name
	o.mu.Unlock()
}

// policy returns the base retry policy with a per-attempt timeout.
func (o *Orchestrator) policy(timeout time.Duration) retry.Policy {
	return o.cfg.Retry.WithTimeout(timeout)
}

func (o *Orchestrator) uploadPolicy() retry.Policy {
	return o.policy(o.cfg.Timeouts.Upload).WithMaxAttempts(o.cfg.UploadMaxAttempts)
}

// sequence hands out monotonically increasing request numbers. Only the
// latest number is current; IfCurrent runs fn atomically with that check.
// The latest request may carry a key so work shared between requests can
// ask whether the current one is waiting on it.
type sequence struct {
	mu  sync.Mutex
	n   uint64
	key string
}

func (s *sequence) Next() uint64 {
	return s.NextKey("")
}

// NextKey issues a number for a request identified by key.
func (s *sequence) NextKey(key string) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.n++
	s.key = key
	return s.n
}

// Cancel makes every issued number stale.
func (s *sequence) Cancel() {
	s.Next()
}

func (s *sequence) Current(n uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.n == n
}

// IfCurrent runs fn if n is still the latest number and reports whether it ran.
func (s *sequence) IfCurrent(n uint64, fn func()) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.n != n {
		return false
	}
	fn()
	return true
}

// IfCurrentKey runs fn if the latest request carries key.
func (s *sequence) IfCurrentKey(key string, fn func()) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if key == "" || s.key != key {
		return false
	}
	fn()
	return true
}

// Retire runs fn and makes n stale if n is still the latest number.
func (s *sequence) Retire(n uint64, fn func()) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.n != n {
		return false
	}
	fn()
	s.n++
	s.key = ""
	return true
}
