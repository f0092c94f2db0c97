package scheduler

import (
	"context"
	"fmt"
	"os"
	"time"

	rediskey "prize_wheel/pkg/redis"

	rd "github.com/redis/go-redis/v9"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

const (
	sweepTimeout = 2 * time.Minute
	sweepLockTTL = 5 * time.Minute
)

// Purger deletes rate-limit records idle beyond the window.
type Purger interface {
	Purge(ctx context.Context) (int64, error)
}

// Scheduler runs periodic maintenance jobs.
type Scheduler struct {
	cron       *cron.Cron
	purger     Purger
	rdb        *rd.Client
	instanceID string
}

// New creates a scheduler. rdb may be nil; with Redis set, only one instance
// runs a given sweep.
func New(purger Purger, rdb *rd.Client) *Scheduler {
	instanceID, _ := os.Hostname()
	if instanceID == "" {
		instanceID = fmt.Sprintf("instance-%d", time.Now().UnixNano())
	}
	return &Scheduler{
		cron:       cron.New(cron.WithLocation(time.UTC)),
		purger:     purger,
		rdb:        rdb,
		instanceID: fmt.Sprintf("%s-%d", instanceID, os.Getpid()),
	}
}

// Start registers the rate-limit sweep on spec (e.g. "@every 1h") and starts the cron.
func (s *Scheduler) Start(spec string) error {
	if _, err := s.cron.AddFunc(spec, s.sweepRateLimits); err != nil {
		return fmt.Errorf("register rate limit sweep %q: %w", spec, err)
	}
	s.cron.Start()
	zap.S().Infow("scheduler started", "sweep_spec", spec, "instance", s.instanceID)
	return nil
}

// Stop waits for running jobs to finish.
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	zap.S().Info("scheduler stopped")
}

func (s *Scheduler) sweepRateLimits() {
	ctx, cancel := context.WithTimeout(context.Background(), sweepTimeout)
	defer cancel()

	if s.rdb != nil {
		acquired, err := rediskey.TryLock(ctx, s.rdb, rediskey.SweepLockKey(), s.instanceID, sweepLockTTL)
		if err != nil {
			zap.S().Errorw("failed to acquire lock for rate limit sweep", "error", err)
			return
		}
		if !acquired {
			zap.S().Debug("rate limit sweep already running on another instance, skipping")
			return
		}
		defer func() {
			if err := rediskey.ReleaseLockIfMatch(context.Background(), s.rdb, rediskey.SweepLockKey(), s.instanceID); err != nil {
				zap.S().Warnw("failed to release rate limit sweep lock", "error", err)
			}
		}()
	}

	n, err := s.purger.Purge(ctx)
	if err != nil {
		zap.S().Errorw("rate limit sweep failed", "error", err)
		return
	}
	zap.S().Infow("rate limit sweep done", "deleted", n)
}
