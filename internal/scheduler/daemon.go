package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/go-co-op/gocron/v2"
	"go.uber.org/zap"
)

// Daemon drives the job executor from a wall-clock minute tick. Each tick
// evaluates the due set for every minute since the previous tick, so a tick
// delayed by load never silently drops a firing.
type Daemon struct {
	cron     gocron.Scheduler
	executor *JobExecutor
	logger   *zap.Logger

	lastTick time.Time
	now      func() time.Time
}

// NewDaemon creates the daemon. Call Start to begin ticking.
func NewDaemon(executor *JobExecutor, logger *zap.Logger) (*Daemon, error) {
	s, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("scheduler: failed to create ticker: %w", err)
	}
	return &Daemon{
		cron:     s,
		executor: executor,
		logger:   logger.Named("daemon"),
		now:      time.Now,
	}, nil
}

// Start registers the minute tick and starts the underlying scheduler.
func (d *Daemon) Start(ctx context.Context) error {
	d.lastTick = d.now()

	_, err := d.cron.NewJob(
		gocron.CronJob("* * * * *", false),
		gocron.NewTask(func() { d.tick(ctx) }),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		return fmt.Errorf("scheduler: failed to register tick job: %w", err)
	}

	d.logger.Info("scheduler daemon started")
	d.cron.Start()
	return nil
}

// Stop shuts the ticker down, waiting for a running tick to finish.
func (d *Daemon) Stop() error {
	if err := d.cron.Shutdown(); err != nil {
		return fmt.Errorf("scheduler: shutdown error: %w", err)
	}
	d.logger.Info("scheduler daemon stopped")
	return nil
}

// tick runs the due set for every minute in (lastTick, now].
func (d *Daemon) tick(ctx context.Context) {
	now := d.now()
	for _, minute := range missedMinutes(d.lastTick, now) {
		if ctx.Err() != nil {
			return
		}
		if err := d.executor.ExecuteDue(ctx, minute); err != nil {
			d.logger.Error("tick failed",
				zap.Time("minute", minute), zap.Error(err))
		}
	}
	d.lastTick = now
}

// missedMinutes enumerates the minute boundaries in (last, now], oldest
// first. Normally this is a single minute; more after a delayed tick.
func missedMinutes(last, now time.Time) []time.Time {
	var out []time.Time
	lastFloor := last.Truncate(time.Minute)
	for m := lastFloor.Add(time.Minute); !m.After(now); m = m.Add(time.Minute) {
		out = append(out, m)
	}
	return out
}
