package maintenance

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/solarops/activity/pkg/logger"
)

const defaultPurgeSpec = "@hourly"

// Purger removes entries whose retention has lapsed. The database KV store implements it.
type Purger interface {
	PurgeExpired(ctx context.Context, now time.Time) (int64, error)
}

// Cleaner runs background maintenance: expired hidden items and other TTL-bound KV entries are
// purged on a schedule.
type Cleaner struct {
	purgers map[string]Purger
	cron    *cron.Cron
	now     func() time.Time
	log     *zap.Logger
	spec    string
}

// Option customises the Cleaner.
type Option func(*Cleaner)

// WithCron injects a preconfigured cron instance, primarily for testing.
func WithCron(c *cron.Cron) Option {
	return func(cleaner *Cleaner) {
		if c != nil {
			cleaner.cron = c
		}
	}
}

// WithNow overrides the clock used for expiry comparisons.
func WithNow(now func() time.Time) Option {
	return func(cleaner *Cleaner) {
		if now != nil {
			cleaner.now = now
		}
	}
}

// WithSchedule overrides the cron specification of the purge job.
func WithSchedule(spec string) Option {
	return func(cleaner *Cleaner) {
		if spec != "" {
			cleaner.spec = spec
		}
	}
}

// WithPurger registers a named store to purge.
func WithPurger(name string, p Purger) Option {
	return func(cleaner *Cleaner) {
		if p != nil {
			cleaner.purgers[name] = p
		}
	}
}

// NewCleaner constructs a Cleaner. Without purgers Start is a no-op.
func NewCleaner(opts ...Option) *Cleaner {
	cleaner := &Cleaner{
		purgers: make(map[string]Purger),
		now:     time.Now,
		spec:    defaultPurgeSpec,
		log:     logger.WithModule("maintenance"),
	}

	for _, opt := range opts {
		opt(cleaner)
	}

	if cleaner.cron == nil {
		cleaner.cron = cron.New(cron.WithLogger(cron.DiscardLogger))
	}

	return cleaner
}

// Start registers the purge job with the cron scheduler and launches it.
func (c *Cleaner) Start() error {
	if len(c.purgers) == 0 {
		return nil
	}

	if _, err := c.cron.AddFunc(c.spec, func() {
		if err := c.RunOnce(context.Background()); err != nil {
			c.log.Warn("purge failed", zap.Error(err))
		}
	}); err != nil {
		return fmt.Errorf("maintenance: schedule %q: %w", c.spec, err)
	}

	c.cron.Start()
	return nil
}

// Stop halts the underlying scheduler, waiting for any running jobs to complete.
func (c *Cleaner) Stop() context.Context {
	if c.cron == nil {
		return context.Background()
	}
	return c.cron.Stop()
}

// RunOnce purges every registered store, collecting failures.
func (c *Cleaner) RunOnce(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	now := c.now()
	var errs error
	for name, purger := range c.purgers {
		removed, err := purger.PurgeExpired(ctx, now)
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("purge %s: %w", name, err))
			continue
		}
		if removed > 0 {
			c.log.Info("purged expired entries", zap.String("store", name), zap.Int64("removed", removed))
		}
	}
	return errs
}
