package scheduler

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/vya-io/vya/internal/database"
	"github.com/vya-io/vya/internal/engine"
	"github.com/vya-io/vya/internal/metrics"
	"github.com/vya-io/vya/internal/retention"
	"github.com/vya-io/vya/internal/storage"
)

// JobRetries and JobRetryDelay are the retry discipline applied to every
// scheduled backup.
const (
	JobRetries    = 3
	JobRetryDelay = 60 * time.Second
)

// ConfigProvider resolves the configs for a schedule's database id.
type ConfigProvider interface {
	Resolve(databaseID string) (database.InstanceConfig, storage.Config, engine.BackupConfig, error)
}

// Callbacks observe job lifecycle points. Panics inside callbacks are
// suppressed.
type Callbacks struct {
	OnStart   func(s Schedule)
	OnSuccess func(s Schedule, bc *engine.BackupContext)
	OnFailure func(s Schedule, err error)
}

// JobExecutor turns due schedules into backup runs. Jobs within one tick run
// sequentially: database hosts are shared resources and parallel dumps on
// the same host degrade total throughput.
type JobExecutor struct {
	manager   *Manager
	provider  ConfigProvider
	backup    *engine.Executor
	collector *metrics.Collector
	callbacks Callbacks
	logger    *zap.Logger
	now       func() time.Time
}

// NewJobExecutor wires the executor. collector may be nil when schedule
// metrics are not wanted.
func NewJobExecutor(manager *Manager, provider ConfigProvider, backup *engine.Executor, collector *metrics.Collector, callbacks Callbacks, logger *zap.Logger) *JobExecutor {
	return &JobExecutor{
		manager:   manager,
		provider:  provider,
		backup:    backup,
		collector: collector,
		callbacks: callbacks,
		logger:    logger.Named("jobs"),
		now:       time.Now,
	}
}

// ExecuteDue runs every schedule due at now, sequentially and in name order.
// A failed job never blocks the jobs after it.
func (j *JobExecutor) ExecuteDue(ctx context.Context, now time.Time) error {
	due, err := j.manager.Due(now)
	if err != nil {
		return err
	}
	for _, s := range due {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err := j.ExecuteJob(ctx, s); err != nil {
			j.logger.Error("scheduled job failed",
				zap.String("schedule", s.Name), zap.Error(err))
		}
	}
	return nil
}

// ExecuteJob resolves the schedule's configs, applies its overrides, and
// delegates to the backup executor.
func (j *JobExecutor) ExecuteJob(ctx context.Context, s Schedule) error {
	j.safeCall(func() {
		if j.callbacks.OnStart != nil {
			j.callbacks.OnStart(s)
		}
	})

	exec := Execution{
		ID:           uuid.New(),
		ScheduleName: s.Name,
		Status:       ExecutionRunning,
		StartTime:    j.now(),
	}

	instance, store, backup, err := j.provider.Resolve(s.DatabaseID)
	if err != nil {
		j.finish(s, &exec, nil, err)
		return err
	}

	// Schedule overrides take precedence over the instance defaults.
	if s.Compression != "" {
		backup.Compression = s.Compression
	}
	if s.StorageType != "" {
		store.Type = storage.Kind(s.StorageType)
	}
	if s.StorageLocation != "" {
		store.Path = s.StorageLocation
	}
	backup.MaxRetries = JobRetries
	backup.RetryDelay = JobRetryDelay

	bc := engine.NewBackupContext(instance, store, backup)
	runErr := j.backup.ExecuteBackup(ctx, bc)

	if runErr == nil {
		j.sweep(s, store)
		j.snapshotStorage(ctx, store)
	}

	j.finish(s, &exec, bc, runErr)
	return runErr
}

// snapshotStorage records the backend usage after a successful run, feeding
// the vya_storage_bytes and vya_storage_objects gauges.
func (j *JobExecutor) snapshotStorage(ctx context.Context, store storage.Config) {
	if j.collector == nil {
		return
	}
	backend, err := storage.New(store)
	if err != nil {
		return
	}
	total, err := backend.TotalBytes(ctx)
	if err != nil {
		j.logger.Debug("storage snapshot failed", zap.Error(err))
		return
	}
	names, err := backend.List(ctx, "")
	if err != nil {
		j.logger.Debug("storage snapshot failed", zap.Error(err))
		return
	}
	j.collector.RecordStorage(metrics.StorageRecord{
		Backend:     string(store.Type),
		TotalBytes:  total,
		ObjectCount: len(names),
	})
}

// sweep ages out expired artifacts after a successful run. Only the local
// backend holds a sweepable directory; S3 expiry is handled by bucket
// lifecycle rules.
func (j *JobExecutor) sweep(s Schedule, store storage.Config) {
	if storage.Kind(store.Type) != storage.KindLocal || store.Path == "" {
		return
	}
	eng := retention.NewEngine(store.Path, retention.AgePolicy{Days: s.RetentionDays}, j.logger)
	stats, err := eng.Cleanup(false)
	if err != nil {
		j.logger.Warn("retention sweep failed", zap.String("schedule", s.Name), zap.Error(err))
		return
	}
	if stats.Deleted > 0 {
		j.logger.Info("retention sweep",
			zap.String("schedule", s.Name),
			zap.Int("deleted", stats.Deleted),
			zap.Int64("freed_bytes", stats.FreedBytes))
	}
}

// finish stamps the execution record, appends the schedule metric, and runs
// the terminal callback.
func (j *JobExecutor) finish(s Schedule, exec *Execution, bc *engine.BackupContext, runErr error) {
	exec.EndTime = j.now()
	if bc != nil && len(bc.Results) > 0 {
		last := bc.Results[len(bc.Results)-1]
		exec.BackupFile = last.StorageLocation
		exec.BackupSize = bc.CompressedSize
	}

	if runErr != nil {
		exec.Status = ExecutionFailed
		exec.ErrorMessage = runErr.Error()
	} else {
		exec.Status = ExecutionCompleted
	}
	j.manager.RecordExecution(*exec)

	if j.collector != nil {
		rec := metrics.ScheduleRecord{
			ScheduleName:    s.Name,
			Status:          string(exec.Status),
			DurationSeconds: exec.EndTime.Sub(exec.StartTime).Seconds(),
		}
		if runErr != nil {
			rec.Error = runErr.Error()
		}
		j.collector.RecordSchedule(rec)
	}

	j.safeCall(func() {
		switch {
		case runErr != nil && j.callbacks.OnFailure != nil:
			j.callbacks.OnFailure(s, runErr)
		case runErr == nil && j.callbacks.OnSuccess != nil:
			j.callbacks.OnSuccess(s, bc)
		}
	})
}

func (j *JobExecutor) safeCall(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			j.logger.Error("schedule callback panicked", zap.Any("panic", r))
		}
	}()
	fn()
}
