// Package engine drives backup and restore runs: a mutable context holds the
// run state, a strategy performs the work, and the executor owns retries,
// lifecycle stamping, and terminal side effects (metrics, alerts,
// notifications, cleanup).
package engine

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/vya-io/vya/internal/compress"
	"github.com/vya-io/vya/internal/database"
	"github.com/vya-io/vya/internal/storage"
)

// Status is the lifecycle state of a run context.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Policy decides how a multi-database backup treats per-database failures.
type Policy string

const (
	// PolicyBestEffort counts failed databases but finishes the run as long
	// as at least one database succeeded. The default.
	PolicyBestEffort Policy = "best-effort"
	// PolicyAllOrNothing fails the whole run on the first database failure.
	PolicyAllOrNothing Policy = "all-or-nothing"
)

// BackupConfig parameterizes one backup run.
type BackupConfig struct {
	Compression string        `yaml:"compression"` // empty = no compression
	MaxRetries  int           `yaml:"max_retries"`
	RetryDelay  time.Duration `yaml:"retry_delay"`
	Policy      Policy        `yaml:"policy"`
	TempDir     string        `yaml:"temp_dir"` // scratch space for dumps
}

// lifecycle is the shared state machine: pending → running → exactly one of
// completed or failed.
type lifecycle struct {
	Status       Status
	StartTime    time.Time
	EndTime      time.Time
	ErrorMessage string

	now func() time.Time
}

// Begin transitions pending → running and stamps the start time. The start
// time survives retries; only the first call stamps it.
func (l *lifecycle) Begin() {
	if l.Status == StatusPending {
		l.StartTime = l.clock()()
	}
	l.Status = StatusRunning
}

// Complete terminates the run as successful.
func (l *lifecycle) Complete() {
	l.Status = StatusCompleted
	l.EndTime = l.clock()()
}

// Fail terminates the run with a message.
func (l *lifecycle) Fail(msg string) {
	l.Status = StatusFailed
	l.ErrorMessage = msg
	l.EndTime = l.clock()()
}

// Duration is end − start, or elapsed-so-far while still running.
func (l *lifecycle) Duration() time.Duration {
	if l.StartTime.IsZero() {
		return 0
	}
	if l.EndTime.IsZero() {
		return l.clock()().Sub(l.StartTime)
	}
	return l.EndTime.Sub(l.StartTime)
}

func (l *lifecycle) Terminal() bool {
	return l.Status == StatusCompleted || l.Status == StatusFailed
}

func (l *lifecycle) clock() func() time.Time {
	if l.now != nil {
		return l.now
	}
	return time.Now
}

// TargetResult records the outcome for one database (or file pattern)
// within a backup run.
type TargetResult struct {
	Database        string
	ArtifactPath    string
	RawSize         int64
	CompressedSize  int64
	StorageLocation string
	Err             error
}

// BackupContext is the mutable state of one backup run, owned by a single
// executor invocation.
type BackupContext struct {
	lifecycle

	ID       uuid.UUID
	Instance database.InstanceConfig
	Storage  storage.Config
	Backup   BackupConfig

	// Per-attempt artifact state, reset between retries.
	Results        []TargetResult
	BackupSize     int64 // sum of raw dump sizes
	CompressedSize int64 // sum of final artifact sizes
	tempPaths      []string
}

// NewBackupContext creates a pending context.
func NewBackupContext(instance database.InstanceConfig, store storage.Config, backup BackupConfig) *BackupContext {
	if backup.Policy == "" {
		backup.Policy = PolicyBestEffort
	}
	return &BackupContext{
		lifecycle: lifecycle{Status: StatusPending},
		ID:        uuid.New(),
		Instance:  instance,
		Storage:   store,
		Backup:    backup,
	}
}

// Validate checks the preconditions for execution.
func (c *BackupContext) Validate() error {
	if c.Instance.ID == "" || c.Instance.Kind == "" {
		return fmt.Errorf("backup context has no database config")
	}
	if c.Storage.Type == "" && c.Storage.Path == "" {
		return fmt.Errorf("backup context has no storage config")
	}
	if c.Backup.TempDir == "" {
		return fmt.Errorf("backup context has no temp directory")
	}
	return nil
}

// ResetAttempt clears the per-attempt artifact state while preserving
// identity and timing. Scratch paths accumulate across attempts so files
// left by a failed attempt are still released by the terminal cleanup.
func (c *BackupContext) ResetAttempt() {
	c.Results = nil
	c.BackupSize = 0
	c.CompressedSize = 0
}

// FailedTargets returns the databases that failed within an otherwise
// completed run.
func (c *BackupContext) FailedTargets() []TargetResult {
	var out []TargetResult
	for _, r := range c.Results {
		if r.Err != nil {
			out = append(out, r)
		}
	}
	return out
}

// addTemp registers a scratch file for post-run cleanup.
func (c *BackupContext) addTemp(path string) {
	c.tempPaths = append(c.tempPaths, path)
}

// RestoreContext is the mutable state of one restore run.
type RestoreContext struct {
	lifecycle

	ID       uuid.UUID
	Instance database.InstanceConfig
	Storage  storage.Config
	Backup   BackupConfig

	// BackupFile is the artifact name in storage.
	BackupFile string
	// TargetDatabase overrides the instance's default restore target.
	TargetDatabase string

	// Per-attempt state, reset between retries.
	DownloadPath     string
	DecompressedPath string
	RestoredSize     int64
}

// NewRestoreContext creates a pending restore context.
func NewRestoreContext(instance database.InstanceConfig, store storage.Config, backup BackupConfig, backupFile string) *RestoreContext {
	return &RestoreContext{
		lifecycle:  lifecycle{Status: StatusPending},
		ID:         uuid.New(),
		Instance:   instance,
		Storage:    store,
		Backup:     backup,
		BackupFile: backupFile,
	}
}

// Validate checks the preconditions for execution.
func (c *RestoreContext) Validate() error {
	if c.Instance.ID == "" || c.Instance.Kind == "" {
		return fmt.Errorf("restore context has no database config")
	}
	if c.Storage.Type == "" && c.Storage.Path == "" {
		return fmt.Errorf("restore context has no storage config")
	}
	if c.BackupFile == "" {
		return fmt.Errorf("restore context has no backup file")
	}
	return nil
}

// ResetAttempt clears the per-attempt state.
func (c *RestoreContext) ResetAttempt() {
	c.DownloadPath = ""
	c.DecompressedPath = ""
	c.RestoredSize = 0
}

// NeedsDecompression reports whether the backup file must be decompressed
// before the adapter can load it.
func (c *RestoreContext) NeedsDecompression() bool {
	switch compress.Detect(c.BackupFile) {
	case compress.Gzip, compress.Bzip2:
		return true
	}
	return false
}

// CompressionType names the detected compression, empty when none.
func (c *RestoreContext) CompressionType() string {
	switch compress.Detect(c.BackupFile) {
	case compress.Gzip:
		return "gzip"
	case compress.Bzip2:
		return "bzip2"
	case compress.Zip:
		return "zip"
	}
	return ""
}

// Target resolves the database the dump is loaded into.
func (c *RestoreContext) Target() string {
	if c.TargetDatabase != "" {
		return c.TargetDatabase
	}
	return c.Instance.Database
}

// stripSuffix removes the compression suffix from an artifact name,
// yielding the decompressed sibling path.
func stripSuffix(path string) string {
	for _, suffix := range []string{".gz", ".bz2"} {
		if strings.HasSuffix(path, suffix) {
			return strings.TrimSuffix(path, suffix)
		}
	}
	return path
}

// safeName flattens a target name (a database or a glob pattern) into a
// filename-safe logical name.
func safeName(target string) string {
	r := strings.NewReplacer(string(filepath.Separator), "-", "*", "", "?", "", " ", "_")
	name := strings.Trim(r.Replace(target), "-.")
	if name == "" {
		name = "root"
	}
	return name
}
