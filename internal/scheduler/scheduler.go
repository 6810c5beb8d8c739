package scheduler

import (
	"context"
	"errors"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-co-op/gocron"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/i474232898/querycache/internal/metrics"
	"github.com/i474232898/querycache/internal/query"
)

// maxParallel bounds concurrent resolutions within one cycle.
const maxParallel = 8

// Resolver produces cache entries for a query.
type Resolver interface {
	ResolveEntry(ctx context.Context, q query.Query) (query.CachedEntry, error)
}

// Options configures a Scheduler.
type Options struct {
	Interval time.Duration
	// Terminate makes Run return when resolution is exhausted instead of
	// carrying on with the last good cache.
	Terminate bool
	// MaxTracked bounds the tracked set. Configured queries are always
	// admitted.
	MaxTracked int
	// Queries are refreshed on every cycle in addition to the default
	// target.
	Queries []string
}

// Scheduler periodically refreshes every tracked query into the store.
type Scheduler struct {
	cron     *gocron.Scheduler
	resolver Resolver
	store    query.Store
	opts     Options
	logger   *zap.Logger
	now      func() time.Time

	// cycleMu keeps scheduled and triggered cycles from overlapping.
	cycleMu sync.Mutex

	mu        sync.Mutex
	tracked   map[string]query.Query
	lastCycle time.Time

	running atomic.Bool
	fatal   chan error
}

// New creates a new Scheduler. The default target is always tracked.
func New(resolver Resolver, store query.Store, opts Options, logger *zap.Logger) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Scheduler{
		cron:     gocron.NewScheduler(time.UTC),
		resolver: resolver,
		store:    store,
		opts:     opts,
		logger:   logger,
		now:      time.Now,
		tracked:  make(map[string]query.Query),
		fatal:    make(chan error, 1),
	}
	s.tracked[query.Default().CacheKey()] = query.Default()
	for _, key := range opts.Queries {
		q := query.Query{Key: key}
		s.tracked[q.CacheKey()] = q
	}
	return s
}

// Run performs one refresh cycle immediately and then one every interval
// until ctx is cancelled. It returns nil on cancellation and the
// exhaustion error when Terminate is set.
func (s *Scheduler) Run(ctx context.Context) error {
	if s.opts.Interval <= 0 {
		return errors.New("scheduler: refresh interval must be positive")
	}

	if err := s.runCycle(ctx); err != nil {
		return err
	}
	if ctx.Err() != nil {
		return nil
	}

	_, err := s.cron.Every(s.opts.Interval).WaitForSchedule().SingletonMode().Do(func() {
		if err := s.runCycle(ctx); err != nil {
			select {
			case s.fatal <- err:
			default:
			}
		}
	})
	if err != nil {
		return err
	}

	s.cron.StartAsync()
	s.running.Store(true)
	defer func() {
		s.running.Store(false)
		s.cron.Stop()
	}()

	s.logger.Info("Scheduler started", zap.Duration("interval", s.opts.Interval))

	select {
	case <-ctx.Done():
		s.logger.Info("Scheduler stopping")
		return nil
	case err := <-s.fatal:
		return err
	}
}

// Trigger requests an immediate out-of-band cycle. It is a no-op before
// Run has scheduled the periodic job or after it returned.
func (s *Scheduler) Trigger() {
	if !s.running.Load() {
		return
	}
	s.logger.Info("Refresh triggered")
	s.cron.RunAll()
}

// Track adds q to the tracked set. It reports whether q is tracked after
// the call; false means the set is full.
func (s *Scheduler) Track(q query.Query) bool {
	key := q.CacheKey()

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.tracked[key]; ok {
		return true
	}
	if s.opts.MaxTracked > 0 && len(s.tracked) >= s.opts.MaxTracked {
		return false
	}
	s.tracked[key] = q
	s.logger.Info("Tracking new query", zap.String("query", q.String()))
	return true
}

// Tracked returns the tracked cache keys in sorted order.
func (s *Scheduler) Tracked() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	keys := make([]string, 0, len(s.tracked))
	for k := range s.tracked {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// LastCycle returns when the last refresh cycle completed, or the zero
// time if none has.
func (s *Scheduler) LastCycle() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastCycle
}

// Interval returns the refresh interval.
func (s *Scheduler) Interval() time.Duration {
	return s.opts.Interval
}

func (s *Scheduler) snapshot() []query.Query {
	s.mu.Lock()
	defer s.mu.Unlock()

	qs := make([]query.Query, 0, len(s.tracked))
	for _, q := range s.tracked {
		qs = append(qs, q)
	}
	return qs
}

// runCycle resolves every tracked query once. Provider failures are
// absorbed by the resolver; only exhaustion under Terminate is returned.
func (s *Scheduler) runCycle(ctx context.Context) error {
	s.cycleMu.Lock()
	defer s.cycleMu.Unlock()

	if ctx.Err() != nil {
		return nil
	}

	start := time.Now()
	queries := s.snapshot()
	s.logger.Debug("Running refresh cycle", zap.Int("queries", len(queries)))

	var g errgroup.Group
	g.SetLimit(maxParallel)
	for _, q := range queries {
		q := q
		g.Go(func() error {
			return s.refresh(ctx, q)
		})
	}
	err := g.Wait()

	metrics.RefreshDuration.Observe(time.Since(start).Seconds())
	s.mu.Lock()
	s.lastCycle = s.now().UTC()
	s.mu.Unlock()

	s.logger.Debug("Refresh cycle completed", zap.Duration("took", time.Since(start)))
	return err
}

func (s *Scheduler) refresh(ctx context.Context, q query.Query) error {
	entry, err := s.resolver.ResolveEntry(ctx, q)
	switch {
	case err == nil:
		s.store.Set(q.CacheKey(), entry)
		s.logger.Info("Refreshed query",
			zap.String("query", q.String()),
			zap.String("source", entry.Source))
		return nil
	case ctx.Err() != nil:
		return nil
	case errors.Is(err, query.ErrResolutionExhausted):
		s.logger.Error("Provider chain exhausted, serving last good value",
			zap.String("query", q.String()),
			zap.Bool("critical", true),
			zap.Bool("terminate", s.opts.Terminate),
			zap.Error(err))
		if s.opts.Terminate {
			return err
		}
		return nil
	default:
		s.logger.Error("Refresh failed",
			zap.String("query", q.String()),
			zap.Error(err))
		return nil
	}
}
