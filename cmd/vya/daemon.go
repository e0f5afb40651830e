package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/vya-io/vya/internal/engine"
	"github.com/vya-io/vya/internal/metrics"
	"github.com/vya-io/vya/internal/scheduler"
)

func newDaemonCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "daemon",
		Short: "Run the scheduler daemon",
		Long: `Runs the scheduler loop: every minute the due schedules are executed
sequentially. When the metrics endpoint is enabled the collected metrics
are served over HTTP.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(flags)
			if err != nil {
				return err
			}
			defer a.close()

			ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			return runDaemon(ctx, a)
		},
	}
}

func runDaemon(ctx context.Context, a *app) error {
	m, err := scheduler.NewManager(a.cfg.Scheduler.Dir, a.logger)
	if err != nil {
		return userErr(err)
	}

	j := scheduler.NewJobExecutor(m, a.resolver, a.executor(), a.collector, scheduler.Callbacks{
		OnSuccess: func(s scheduler.Schedule, bc *engine.BackupContext) {
			a.logger.Info("scheduled backup completed",
				zap.String("schedule", s.Name),
				zap.Int64("bytes", bc.CompressedSize))
		},
		OnFailure: func(s scheduler.Schedule, err error) {
			a.logger.Error("scheduled backup failed",
				zap.String("schedule", s.Name), zap.Error(err))
		},
	}, a.logger)

	d, err := scheduler.NewDaemon(j, a.logger)
	if err != nil {
		return err
	}

	var srv *metrics.Server
	if a.cfg.Metrics.Enabled {
		diskPaths := []string{a.cfg.System.PathZip}
		if a.cfg.System.PathFiles != "" {
			diskPaths = append(diskPaths, a.cfg.System.PathFiles)
		}
		srv = metrics.NewServer(a.cfg.Metrics.Addr, a.collector, diskPaths, a.logger)
		go func() {
			if err := srv.Start(); err != nil {
				a.logger.Error("metrics server failed", zap.Error(err))
			}
		}()
	}

	if a.cfg.Scheduler.IsEnabled() {
		if err := d.Start(ctx); err != nil {
			return err
		}
	} else {
		a.logger.Warn("scheduler disabled by config; serving metrics only")
	}
	a.logger.Info("daemon running",
		zap.String("schedules_dir", a.cfg.Scheduler.Dir),
		zap.Bool("scheduler", a.cfg.Scheduler.IsEnabled()),
		zap.Bool("metrics", a.cfg.Metrics.Enabled))

	<-ctx.Done()

	a.logger.Info("shutting down")
	if err := d.Stop(); err != nil {
		a.logger.Warn("scheduler shutdown error", zap.Error(err))
	}
	if srv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Stop(shutdownCtx); err != nil {
			a.logger.Warn("metrics server shutdown error", zap.Error(err))
		}
	}
	return nil
}
