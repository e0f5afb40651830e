package engine

import (
	"context"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/vya-io/vya/internal/alerts"
	"github.com/vya-io/vya/internal/database"
	"github.com/vya-io/vya/internal/metrics"
	"github.com/vya-io/vya/internal/notify"
	"github.com/vya-io/vya/internal/storage"
)

// Stage names the points at which the progress callback fires.
type Stage string

const (
	StageStart   Stage = "start"
	StageRetry   Stage = "retry"
	StageSuccess Stage = "success"
	StageFailure Stage = "failure"
)

// Progress observes executor lifecycle points. Panics inside the callback
// are suppressed.
type Progress func(stage Stage, attempt int, err error)

// Executor drives a context through its strategy with bounded retries and
// runs the terminal side effects on every exit path.
type Executor struct {
	collector *metrics.Collector
	alertMgr  *alerts.Manager
	notifier  *notify.Manager
	logger    *zap.Logger

	progress Progress
	keepTemp bool

	sleep       func(time.Duration)
	openAdapter func(database.InstanceConfig, *zap.Logger) (database.Adapter, error)
	openStorage func(storage.Config) (storage.Backend, error)
}

// ExecutorOption configures an Executor.
type ExecutorOption func(*Executor)

// WithProgress installs a progress callback.
func WithProgress(p Progress) ExecutorOption {
	return func(e *Executor) { e.progress = p }
}

// WithKeepTemp disables post-run deletion of scratch files.
func WithKeepTemp() ExecutorOption {
	return func(e *Executor) { e.keepTemp = true }
}

// NewExecutor builds an executor. alertMgr and notifier may be nil when
// alerting or notification is not configured.
func NewExecutor(collector *metrics.Collector, alertMgr *alerts.Manager, notifier *notify.Manager, logger *zap.Logger, opts ...ExecutorOption) *Executor {
	e := &Executor{
		collector:   collector,
		alertMgr:    alertMgr,
		notifier:    notifier,
		logger:      logger.Named("executor"),
		sleep:       time.Sleep,
		openAdapter: database.Open,
		openStorage: storage.New,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// ExecuteBackup runs a full backup for the context. The returned error is
// nil on success, including a best-effort run with some failed databases;
// callers inspect bc.FailedTargets for partial outcomes.
func (e *Executor) ExecuteBackup(ctx context.Context, bc *BackupContext) error {
	strategy := NewFullBackup(e.logger)

	if err := bc.Validate(); err != nil {
		bc.Fail("invalid context")
		typed := E(KindConfig, "validate", err)
		e.backupTerminal(ctx, bc, typed)
		return typed
	}

	bc.Begin()
	e.report(StageStart, 1, nil)

	attempts := bc.Backup.MaxRetries
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if attempt > 1 {
			bc.ResetAttempt()
			e.sleep(bc.Backup.RetryDelay)
			e.report(StageRetry, attempt, lastErr)
			e.logger.Info("retrying backup",
				zap.String("instance", bc.Instance.ID),
				zap.Int("attempt", attempt))
		}

		lastErr = e.backupAttempt(ctx, bc, strategy)
		if lastErr == nil {
			if !bc.Terminal() {
				bc.Complete()
			}
			e.backupTerminal(ctx, bc, nil)
			return nil
		}
		if !retryable(lastErr) {
			break
		}
	}

	bc.Fail(lastErr.Error())
	e.backupTerminal(ctx, bc, lastErr)
	return lastErr
}

// backupAttempt builds the adapter and storage backend, then invokes the
// strategy. Both are scoped to the attempt.
func (e *Executor) backupAttempt(ctx context.Context, bc *BackupContext, strategy *FullBackup) error {
	adapter, err := e.openAdapter(bc.Instance, e.logger)
	if err != nil {
		return E(KindConfig, "adapter", err)
	}
	defer adapter.Close()

	backend, err := e.openStorage(bc.Storage)
	if err != nil {
		return E(KindConfig, "storage", err)
	}

	return strategy.Execute(ctx, adapter, backend, bc)
}

// ExecuteRestore runs a full restore with the same retry discipline.
func (e *Executor) ExecuteRestore(ctx context.Context, rc *RestoreContext) error {
	strategy := NewFullRestore(e.logger)

	if err := rc.Validate(); err != nil {
		rc.Fail("invalid context")
		typed := E(KindConfig, "validate", err)
		e.restoreTerminal(ctx, rc, typed)
		return typed
	}

	rc.Begin()
	e.report(StageStart, 1, nil)

	attempts := rc.Backup.MaxRetries
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if attempt > 1 {
			rc.ResetAttempt()
			e.sleep(rc.Backup.RetryDelay)
			e.report(StageRetry, attempt, lastErr)
			e.logger.Info("retrying restore",
				zap.String("instance", rc.Instance.ID),
				zap.Int("attempt", attempt))
		}

		lastErr = e.restoreAttempt(ctx, rc, strategy)
		if lastErr == nil {
			if !rc.Terminal() {
				rc.Complete()
			}
			e.restoreTerminal(ctx, rc, nil)
			return nil
		}
		if !retryable(lastErr) {
			break
		}
	}

	rc.Fail(lastErr.Error())
	e.restoreTerminal(ctx, rc, lastErr)
	return lastErr
}

func (e *Executor) restoreAttempt(ctx context.Context, rc *RestoreContext, strategy *FullRestore) error {
	adapter, err := e.openAdapter(rc.Instance, e.logger)
	if err != nil {
		return E(KindConfig, "adapter", err)
	}
	defer adapter.Close()

	backend, err := e.openStorage(rc.Storage)
	if err != nil {
		return E(KindConfig, "storage", err)
	}

	return strategy.Execute(ctx, adapter, backend, rc)
}

// backupTerminal runs the post-run side effects: per-target metrics, alert
// evaluation, a notification, and temp cleanup. Failures here are logged
// and suppressed so they can never mask the run outcome.
func (e *Executor) backupTerminal(ctx context.Context, bc *BackupContext, runErr error) {
	defer e.recoverSideEffect("backup terminal")

	// Records handed to the alert engine carry the run's end time; the
	// cooldown clock runs on record timestamps.
	var records []metrics.Record
	if len(bc.Results) == 0 {
		r := metrics.BackupRecord{
			Instance:        bc.Instance.ID,
			DurationSeconds: bc.Duration().Seconds(),
			Success:         runErr == nil,
			Timestamp:       bc.EndTime,
		}
		if runErr != nil {
			r.Error = runErr.Error()
		}
		e.collector.RecordBackup(r)
		records = append(records, r)
	}
	for _, res := range bc.Results {
		r := metrics.BackupRecord{
			Instance:        bc.Instance.ID,
			Database:        res.Database,
			DurationSeconds: bc.Duration().Seconds(),
			SizeBytes:       res.CompressedSize,
			Success:         res.Err == nil,
			Timestamp:       bc.EndTime,
		}
		if res.Err != nil {
			r.Error = res.Err.Error()
		}
		e.collector.RecordBackup(r)
		records = append(records, r)
	}

	e.evaluateAlerts(ctx, records)
	e.notifyBackup(ctx, bc, runErr)

	if !e.keepTemp {
		for _, p := range bc.tempPaths {
			if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
				e.logger.Warn("failed to remove temp file", zap.String("path", p), zap.Error(err))
			}
		}
	}

	if runErr != nil {
		e.report(StageFailure, 0, runErr)
	} else {
		e.report(StageSuccess, 0, nil)
	}
}

func (e *Executor) restoreTerminal(ctx context.Context, rc *RestoreContext, runErr error) {
	defer e.recoverSideEffect("restore terminal")

	r := metrics.RestoreRecord{
		Instance:        rc.Instance.ID,
		Database:        rc.Target(),
		DurationSeconds: rc.Duration().Seconds(),
		SizeBytes:       rc.RestoredSize,
		Success:         runErr == nil,
		Timestamp:       rc.EndTime,
	}
	if runErr != nil {
		r.Error = runErr.Error()
	}
	e.collector.RecordRestore(r)

	e.evaluateAlerts(ctx, []metrics.Record{r})
	e.notifyRestore(ctx, rc, runErr)

	if runErr != nil {
		e.report(StageFailure, 0, runErr)
	} else {
		e.report(StageSuccess, 0, nil)
	}
}

func (e *Executor) evaluateAlerts(ctx context.Context, records []metrics.Record) {
	if e.alertMgr == nil {
		return
	}
	for _, trig := range e.alertMgr.Evaluate(records) {
		if e.notifier == nil {
			continue
		}
		if err := e.notifier.SendAlert(ctx, trig); err != nil {
			e.logger.Warn("alert notification failed",
				zap.String("rule", trig.Rule.Name), zap.Error(err))
		}
	}
}

// notifyBackup sends a single event per run: success, or one failure event
// listing the failed databases.
func (e *Executor) notifyBackup(ctx context.Context, bc *BackupContext, runErr error) {
	if e.notifier == nil {
		return
	}

	failed := bc.FailedTargets()
	meta := map[string]any{
		"instance":         bc.Instance.ID,
		"duration_seconds": bc.Duration().Seconds(),
	}

	var ev notify.Event
	switch {
	case runErr != nil:
		meta["error"] = runErr.Error()
		ev = notify.Event{
			Type:     notify.EventFailure,
			Subject:  fmt.Sprintf("Backup failed: %s", bc.Instance.ID),
			Body:     fmt.Sprintf("Backup of %s failed: %v", bc.Instance.ID, runErr),
			Metadata: meta,
		}
	case len(failed) > 0:
		body := fmt.Sprintf("Backup of %s completed with %d failed database(s):", bc.Instance.ID, len(failed))
		for _, f := range failed {
			body += fmt.Sprintf(" %s (%v);", f.Database, f.Err)
			meta["error_"+f.Database] = f.Err.Error()
		}
		ev = notify.Event{
			Type:     notify.EventFailure,
			Subject:  fmt.Sprintf("Backup partially failed: %s", bc.Instance.ID),
			Body:     body,
			Metadata: meta,
		}
	default:
		meta["size_bytes"] = bc.CompressedSize
		ev = notify.Event{
			Type:     notify.EventSuccess,
			Subject:  fmt.Sprintf("Backup completed: %s", bc.Instance.ID),
			Body:     fmt.Sprintf("Backup of %s completed in %s.", bc.Instance.ID, bc.Duration().Round(time.Second)),
			Metadata: meta,
		}
	}

	if err := e.notifier.Send(ctx, ev); err != nil {
		e.logger.Warn("backup notification failed", zap.Error(err))
	}
}

func (e *Executor) notifyRestore(ctx context.Context, rc *RestoreContext, runErr error) {
	if e.notifier == nil {
		return
	}

	meta := map[string]any{
		"instance":         rc.Instance.ID,
		"database":         rc.Target(),
		"backup_file":      rc.BackupFile,
		"duration_seconds": rc.Duration().Seconds(),
	}

	ev := notify.Event{
		Type:     notify.EventSuccess,
		Subject:  fmt.Sprintf("Restore completed: %s", rc.Target()),
		Body:     fmt.Sprintf("Restore of %s from %s completed.", rc.Target(), rc.BackupFile),
		Metadata: meta,
	}
	if runErr != nil {
		meta["error"] = runErr.Error()
		ev.Type = notify.EventFailure
		ev.Subject = fmt.Sprintf("Restore failed: %s", rc.Target())
		ev.Body = fmt.Sprintf("Restore of %s from %s failed: %v", rc.Target(), rc.BackupFile, runErr)
	}

	if err := e.notifier.Send(ctx, ev); err != nil {
		e.logger.Warn("restore notification failed", zap.Error(err))
	}
}

// report invokes the progress callback, suppressing panics.
func (e *Executor) report(stage Stage, attempt int, err error) {
	if e.progress == nil {
		return
	}
	defer e.recoverSideEffect("progress callback")
	e.progress(stage, attempt, err)
}

func (e *Executor) recoverSideEffect(what string) {
	if r := recover(); r != nil {
		e.logger.Error("side effect panicked", zap.String("in", what), zap.Any("panic", r))
	}
}
