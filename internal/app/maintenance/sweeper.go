package maintenance

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/charlesng35/convene/internal/services"
	"github.com/charlesng35/convene/pkg/logger"
	"github.com/charlesng35/convene/pkg/metrics"
)

const (
	defaultSweepSpec = "@every 5m"
	defaultPurgeSpec = "@hourly"
)

// Purger removes expired cache entries.
type Purger interface {
	PurgeExpired(ctx context.Context) (int64, error)
}

// SweepStats summarises one maintenance pass.
type SweepStats struct {
	ExpiredOffers        int
	ReleasedAttendees    int
	PurgedCacheEntries   int64
	EventsWithStaleOffer int
}

// Sweeper runs background maintenance: it expires lapsed waitlist offers for events nobody has
// touched, releases attendees who missed their reconfirmation window and purges the
// database-backed cache.
type Sweeper struct {
	waitlist *services.WaitlistService
	rsvps    *services.RSVPService
	purger   Purger
	cron     *cron.Cron
	now      func() time.Time
	log      *zap.Logger

	sweepSchedule string
	purgeSchedule string

	mu      sync.Mutex
	lastRun time.Time
	lastErr error
}

// LastSweep reports when the lifecycle sweep last finished and the error it returned. The time
// is zero until the first sweep completes.
func (s *Sweeper) LastSweep() (time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastRun, s.lastErr
}

// Option customises the Sweeper.
type Option func(*Sweeper)

// WithCron injects a preconfigured cron instance, primarily for testing.
func WithCron(c *cron.Cron) Option {
	return func(s *Sweeper) {
		if c != nil {
			s.cron = c
		}
	}
}

// WithNow overrides the clock used to decide which offers are stale.
func WithNow(now func() time.Time) Option {
	return func(s *Sweeper) {
		if now != nil {
			s.now = now
		}
	}
}

// WithSweepSchedule overrides the cron expression for the offer and reconfirmation sweep.
func WithSweepSchedule(expr string) Option {
	return func(s *Sweeper) {
		if expr != "" {
			s.sweepSchedule = expr
		}
	}
}

// WithPurgeSchedule overrides the cron expression for cache purging.
func WithPurgeSchedule(expr string) Option {
	return func(s *Sweeper) {
		if expr != "" {
			s.purgeSchedule = expr
		}
	}
}

// WithPurger enables cache purging.
func WithPurger(p Purger) Option {
	return func(s *Sweeper) {
		s.purger = p
	}
}

// NewSweeper constructs a Sweeper. A nil service disables the corresponding job.
func NewSweeper(waitlist *services.WaitlistService, rsvps *services.RSVPService, opts ...Option) *Sweeper {
	s := &Sweeper{
		waitlist:      waitlist,
		rsvps:         rsvps,
		now:           time.Now,
		sweepSchedule: defaultSweepSpec,
		purgeSchedule: defaultPurgeSpec,
		log:           logger.WithModule("maintenance"),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.cron == nil {
		s.cron = cron.New(cron.WithLogger(cron.DiscardLogger))
	}
	return s
}

// Start registers the jobs and launches the scheduler.
func (s *Sweeper) Start() error {
	if s.waitlist != nil || s.rsvps != nil {
		if _, err := s.cron.AddFunc(s.sweepSchedule, func() {
			if _, err := s.Sweep(context.Background()); err != nil {
				s.log.Warn("lifecycle sweep incomplete", zap.Error(err))
			}
		}); err != nil {
			return fmt.Errorf("maintenance: schedule sweep: %w", err)
		}
	}

	if s.purger != nil {
		if _, err := s.cron.AddFunc(s.purgeSchedule, func() {
			if _, err := s.purger.PurgeExpired(context.Background()); err != nil {
				s.log.Warn("cache purge failed", zap.Error(err))
			}
		}); err != nil {
			return fmt.Errorf("maintenance: schedule purge: %w", err)
		}
	}

	s.cron.Start()
	return nil
}

// Stop halts the underlying scheduler, waiting for any running jobs to complete.
func (s *Sweeper) Stop() context.Context {
	if s.cron == nil {
		return context.Background()
	}
	return s.cron.Stop()
}

// Sweep expires stale offers and releases lapsed reconfirmations across all events. A failure
// for one event does not stop the others; all failures are returned together.
func (s *Sweeper) Sweep(ctx context.Context) (SweepStats, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	var (
		stats SweepStats
		errs  error
	)

	if s.waitlist != nil {
		now := s.now()
		ids, err := s.waitlist.EventsWithStaleOffers(ctx, now)
		if err != nil {
			errs = multierr.Append(errs, err)
		}
		stats.EventsWithStaleOffer = len(ids)
		for _, id := range ids {
			expired, err := s.waitlist.ExpireStaleOffers(ctx, id, now)
			if err != nil {
				errs = multierr.Append(errs, fmt.Errorf("expire offers for %s: %w", id, err))
				continue
			}
			stats.ExpiredOffers += expired
		}
	}

	if s.rsvps != nil {
		ids, err := s.rsvps.EventsAwaitingReconfirmation(ctx)
		if err != nil {
			errs = multierr.Append(errs, err)
		}
		for _, id := range ids {
			released, err := s.rsvps.ReleaseLapsedReconfirmations(ctx, id)
			if err != nil {
				errs = multierr.Append(errs, fmt.Errorf("release reconfirmations for %s: %w", id, err))
				continue
			}
			stats.ReleasedAttendees += released
		}
	}

	result := "success"
	if errs != nil {
		result = "error"
	}
	metrics.SweepRuns.WithLabelValues(result).Inc()

	s.mu.Lock()
	s.lastRun, s.lastErr = s.now(), errs
	s.mu.Unlock()

	if stats.ExpiredOffers > 0 || stats.ReleasedAttendees > 0 {
		s.log.Info("lifecycle sweep",
			zap.Int("expired_offers", stats.ExpiredOffers),
			zap.Int("released_attendees", stats.ReleasedAttendees),
		)
	}
	return stats, errs
}

// RunOnce executes every configured job sequentially. Used in tests and during graceful
// shutdown.
func (s *Sweeper) RunOnce(ctx context.Context) (SweepStats, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	stats, errs := s.Sweep(ctx)
	if s.purger != nil {
		purged, err := s.purger.PurgeExpired(ctx)
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("purge cache: %w", err))
		}
		stats.PurgedCacheEntries = purged
	}
	return stats, errs
}
