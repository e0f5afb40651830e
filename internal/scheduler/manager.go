// Package scheduler persists cron schedules (one JSON file each), computes
// the due set per minute, and runs due jobs through the backup engine. The
// daemon wraps the manager in a minute tick with missed-minute catch-up.
package scheduler

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// Schedule is one recurring backup job. Name is unique; the cron expression
// is standard 5-field, evaluated in process-local time.
type Schedule struct {
	Name            string `json:"name"`
	CronExpression  string `json:"cron_expression"`
	DatabaseID      string `json:"database_id"`
	Enabled         bool   `json:"enabled"`
	RetentionDays   int    `json:"retention_days"`
	Compression     string `json:"compression,omitempty"`
	StorageType     string `json:"storage_type,omitempty"`
	StorageLocation string `json:"storage_location,omitempty"`
}

// Validate rejects malformed schedules at construction time.
func (s Schedule) Validate() error {
	if s.Name == "" {
		return fmt.Errorf("scheduler: schedule has no name")
	}
	if strings.ContainsAny(s.Name, "/\\") {
		return fmt.Errorf("scheduler: schedule name %q contains path separators", s.Name)
	}
	if s.DatabaseID == "" {
		return fmt.Errorf("scheduler: schedule %s has no database id", s.Name)
	}
	if s.RetentionDays < 1 {
		return fmt.Errorf("scheduler: schedule %s: retention_days must be >= 1", s.Name)
	}
	if _, err := cron.ParseStandard(s.CronExpression); err != nil {
		return fmt.Errorf("scheduler: schedule %s: bad cron %q: %w", s.Name, s.CronExpression, err)
	}
	return nil
}

// NextFire computes the next firing time strictly after t.
func (s Schedule) NextFire(t time.Time) (time.Time, error) {
	sched, err := cron.ParseStandard(s.CronExpression)
	if err != nil {
		return time.Time{}, err
	}
	return sched.Next(t), nil
}

// IsDue reports whether the expression fires in the minute containing now:
// the iterator seeded one minute back must land exactly on floor(now, min).
func (s Schedule) IsDue(now time.Time) bool {
	next, err := s.NextFire(now.Add(-time.Minute))
	if err != nil {
		return false
	}
	return next.Equal(now.Truncate(time.Minute))
}

// ExecutionStatus is the lifecycle state of one schedule run.
type ExecutionStatus string

const (
	ExecutionRunning   ExecutionStatus = "running"
	ExecutionCompleted ExecutionStatus = "completed"
	ExecutionFailed    ExecutionStatus = "failed"
)

// Execution records one schedule run. History is in-memory only and lives
// for the life of the process.
type Execution struct {
	ID           uuid.UUID
	ScheduleName string
	Status       ExecutionStatus
	StartTime    time.Time
	EndTime      time.Time
	BackupFile   string
	BackupSize   int64
	ErrorMessage string
}

// Manager persists schedules under dir (one <name>.json per schedule) and
// keeps the in-memory execution history.
type Manager struct {
	mu      sync.Mutex
	dir     string
	history map[string][]Execution // newest first
	logger  *zap.Logger
}

// NewManager creates the manager, creating dir if needed.
func NewManager(dir string, logger *zap.Logger) (*Manager, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("scheduler: failed to create %s: %w", dir, err)
	}
	return &Manager{
		dir:     dir,
		history: make(map[string][]Execution),
		logger:  logger.Named("scheduler"),
	}, nil
}

func (m *Manager) path(name string) string {
	return filepath.Join(m.dir, name+".json")
}

// Add persists a new schedule. Duplicate names are rejected.
func (m *Manager) Add(s Schedule) error {
	if err := s.Validate(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, err := os.Stat(m.path(s.Name)); err == nil {
		return fmt.Errorf("scheduler: schedule %q already exists", s.Name)
	}
	return m.write(s)
}

// Update replaces an existing schedule.
func (m *Manager) Update(s Schedule) error {
	if err := s.Validate(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, err := os.Stat(m.path(s.Name)); err != nil {
		return fmt.Errorf("scheduler: schedule %q not found", s.Name)
	}
	return m.write(s)
}

// write persists a schedule atomically: temp file then rename, so a crash
// never leaves torn JSON.
func (m *Manager) write(s Schedule) error {
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("scheduler: failed to marshal %s: %w", s.Name, err)
	}

	tmp, err := os.CreateTemp(m.dir, "."+s.Name+"-*.tmp")
	if err != nil {
		return fmt.Errorf("scheduler: failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("scheduler: failed to write %s: %w", s.Name, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("scheduler: failed to close temp file: %w", err)
	}
	if err := os.Rename(tmpName, m.path(s.Name)); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("scheduler: failed to persist %s: %w", s.Name, err)
	}
	return nil
}

// Get loads one schedule by name.
func (m *Manager) Get(name string) (Schedule, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.read(name)
}

func (m *Manager) read(name string) (Schedule, error) {
	data, err := os.ReadFile(m.path(name))
	if err != nil {
		if os.IsNotExist(err) {
			return Schedule{}, fmt.Errorf("scheduler: schedule %q not found", name)
		}
		return Schedule{}, fmt.Errorf("scheduler: failed to read %s: %w", name, err)
	}
	var s Schedule
	if err := json.Unmarshal(data, &s); err != nil {
		return Schedule{}, fmt.Errorf("scheduler: corrupt schedule file %s: %w", name, err)
	}
	return s, nil
}

// List returns all schedules sorted by name. Files that fail to parse are
// logged and skipped.
func (m *Manager) List() ([]Schedule, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entries, err := os.ReadDir(m.dir)
	if err != nil {
		return nil, fmt.Errorf("scheduler: failed to read %s: %w", m.dir, err)
	}

	var out []Schedule
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		name := strings.TrimSuffix(entry.Name(), ".json")
		s, err := m.read(name)
		if err != nil {
			m.logger.Warn("skipping unreadable schedule", zap.String("file", entry.Name()), zap.Error(err))
			continue
		}
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// Remove deletes a schedule and its history.
func (m *Manager) Remove(name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := os.Remove(m.path(name)); err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("scheduler: schedule %q not found", name)
		}
		return fmt.Errorf("scheduler: failed to remove %s: %w", name, err)
	}
	delete(m.history, name)
	return nil
}

// SetEnabled toggles a schedule.
func (m *Manager) SetEnabled(name string, enabled bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, err := m.read(name)
	if err != nil {
		return err
	}
	s.Enabled = enabled
	return m.write(s)
}

// Due returns the enabled schedules firing in the minute containing now,
// sorted by name.
func (m *Manager) Due(now time.Time) ([]Schedule, error) {
	all, err := m.List()
	if err != nil {
		return nil, err
	}
	var due []Schedule
	for _, s := range all {
		if s.Enabled && s.IsDue(now) {
			due = append(due, s)
		}
	}
	return due, nil
}

// RecordExecution prepends an execution to the schedule's history.
func (m *Manager) RecordExecution(e Execution) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.history[e.ScheduleName] = append([]Execution{e}, m.history[e.ScheduleName]...)
}

// History returns up to limit executions for a schedule, newest first.
// limit <= 0 means all.
func (m *Manager) History(name string, limit int) []Execution {
	m.mu.Lock()
	defer m.mu.Unlock()

	h := m.history[name]
	if limit > 0 && limit < len(h) {
		h = h[:limit]
	}
	return append([]Execution(nil), h...)
}
