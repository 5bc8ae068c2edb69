package store

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// Janitor periodically drops expired sessions.
type Janitor struct {
	cron     *cron.Cron
	store    SessionStore
	schedule string
	logger   *zap.Logger
	now      func() time.Time
	onSize   func(int)
}

// NewJanitor prepares a janitor running on a cron schedule such as "@every 10m".
func NewJanitor(store SessionStore, schedule string, logger *zap.Logger) *Janitor {
	return &Janitor{
		cron:     cron.New(),
		store:    store,
		schedule: schedule,
		logger:   logger,
		now:      time.Now,
	}
}

// OnSize reports the store size after every run, e.g. to a gauge.
func (j *Janitor) OnSize(fn func(int)) *Janitor {
	j.onSize = fn
	return j
}

// Start registers the purge job and runs the scheduler until ctx is done.
func (j *Janitor) Start(ctx context.Context) error {
	if _, err := j.cron.AddFunc(j.schedule, func() { j.RunNow(ctx) }); err != nil {
		return fmt.Errorf("invalid session cleanup schedule %q: %w", j.schedule, err)
	}

	j.cron.Start()
	j.logger.Info("Session janitor started", zap.String("schedule", j.schedule))

	<-ctx.Done()

	stopCtx := j.cron.Stop()
	<-stopCtx.Done()
	j.logger.Info("Session janitor stopped")
	return nil
}

// RunNow purges expired sessions immediately and returns how many were removed.
func (j *Janitor) RunNow(ctx context.Context) int {
	purgeCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	purged, err := j.store.PurgeExpired(purgeCtx, j.now())
	if err != nil {
		j.logger.Warn("Failed to purge expired sessions", zap.Error(err))
		return 0
	}

	if purged > 0 {
		j.logger.Info("Purged expired sessions", zap.Int("count", purged))
	} else {
		j.logger.Debug("No expired sessions to purge")
	}

	if j.onSize != nil {
		if size, err := j.store.Size(purgeCtx); err == nil {
			j.onSize(size)
		}
	}
	return purged
}
