// Package metrics collects in-memory operational records for backup,
// restore, schedule, and storage events, and exposes them in the Prometheus
// text format (both a direct renderer and a client_golang bridge served
// over HTTP).
package metrics

import (
	"sort"
	"sync"
	"time"
)

// Type discriminates the four record variants.
type Type string

const (
	TypeBackup   Type = "backup"
	TypeRestore  Type = "restore"
	TypeSchedule Type = "schedule"
	TypeStorage  Type = "storage"
)

// Record is the common shape of a metric record. Fields exposes the numeric
// fields by name for alert-rule evaluation.
type Record interface {
	Type() Type
	At() time.Time
	Fields() map[string]float64
}

// BackupRecord captures one terminated backup run.
type BackupRecord struct {
	Instance        string
	Database        string
	DurationSeconds float64
	SizeBytes       int64
	Success         bool
	Timestamp       time.Time
	Error           string
}

func (r BackupRecord) Type() Type    { return TypeBackup }
func (r BackupRecord) At() time.Time { return r.Timestamp }

func (r BackupRecord) Fields() map[string]float64 {
	return map[string]float64{
		"duration_seconds": r.DurationSeconds,
		"size_bytes":       float64(r.SizeBytes),
		"success":          boolToFloat(r.Success),
	}
}

// RestoreRecord captures one terminated restore run.
type RestoreRecord struct {
	Instance        string
	Database        string
	DurationSeconds float64
	SizeBytes       int64
	Success         bool
	Timestamp       time.Time
	Error           string
}

func (r RestoreRecord) Type() Type    { return TypeRestore }
func (r RestoreRecord) At() time.Time { return r.Timestamp }

func (r RestoreRecord) Fields() map[string]float64 {
	return map[string]float64{
		"duration_seconds": r.DurationSeconds,
		"size_bytes":       float64(r.SizeBytes),
		"success":          boolToFloat(r.Success),
	}
}

// ScheduleRecord captures one scheduler job execution.
type ScheduleRecord struct {
	ScheduleName    string
	Status          string
	DurationSeconds float64
	Timestamp       time.Time
	Error           string
}

func (r ScheduleRecord) Type() Type    { return TypeSchedule }
func (r ScheduleRecord) At() time.Time { return r.Timestamp }

func (r ScheduleRecord) Fields() map[string]float64 {
	return map[string]float64{"duration_seconds": r.DurationSeconds}
}

// StorageRecord captures a storage backend usage snapshot.
type StorageRecord struct {
	Backend     string
	TotalBytes  int64
	ObjectCount int
	Timestamp   time.Time
}

func (r StorageRecord) Type() Type    { return TypeStorage }
func (r StorageRecord) At() time.Time { return r.Timestamp }

func (r StorageRecord) Fields() map[string]float64 {
	return map[string]float64{
		"total_bytes":  float64(r.TotalBytes),
		"object_count": float64(r.ObjectCount),
	}
}

// Collector holds the four record sequences. Appends are serialized; records
// are appended in the order their owning context terminated.
type Collector struct {
	mu        sync.Mutex
	backups   []BackupRecord
	restores  []RestoreRecord
	schedules []ScheduleRecord
	storage   []StorageRecord
	now       func() time.Time
}

// NewCollector creates an empty collector.
func NewCollector() *Collector {
	return &Collector{now: time.Now}
}

// RecordBackup appends a backup record, stamping the current time when the
// record carries none.
func (c *Collector) RecordBackup(r BackupRecord) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if r.Timestamp.IsZero() {
		r.Timestamp = c.now()
	}
	c.backups = append(c.backups, r)
}

// RecordRestore appends a restore record, stamping the current time when the
// record carries none.
func (c *Collector) RecordRestore(r RestoreRecord) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if r.Timestamp.IsZero() {
		r.Timestamp = c.now()
	}
	c.restores = append(c.restores, r)
}

// RecordSchedule appends a schedule record, stamping the current time when
// the record carries none.
func (c *Collector) RecordSchedule(r ScheduleRecord) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if r.Timestamp.IsZero() {
		r.Timestamp = c.now()
	}
	c.schedules = append(c.schedules, r)
}

// RecordStorage appends a storage record, stamping the current time when the
// record carries none.
func (c *Collector) RecordStorage(r StorageRecord) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if r.Timestamp.IsZero() {
		r.Timestamp = c.now()
	}
	c.storage = append(c.storage, r)
}

// BackupMetrics returns a copy of the backup sequence.
func (c *Collector) BackupMetrics() []BackupRecord {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]BackupRecord(nil), c.backups...)
}

// RestoreMetrics returns a copy of the restore sequence.
func (c *Collector) RestoreMetrics() []RestoreRecord {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]RestoreRecord(nil), c.restores...)
}

// ScheduleMetrics returns a copy of the schedule sequence.
func (c *Collector) ScheduleMetrics() []ScheduleRecord {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]ScheduleRecord(nil), c.schedules...)
}

// StorageMetrics returns a copy of the storage sequence.
func (c *Collector) StorageMetrics() []StorageRecord {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]StorageRecord(nil), c.storage...)
}

// ByType returns all records of one type in append order.
func (c *Collector) ByType(t Type) []Record {
	c.mu.Lock()
	defer c.mu.Unlock()

	var out []Record
	switch t {
	case TypeBackup:
		for _, r := range c.backups {
			out = append(out, r)
		}
	case TypeRestore:
		for _, r := range c.restores {
			out = append(out, r)
		}
	case TypeSchedule:
		for _, r := range c.schedules {
			out = append(out, r)
		}
	case TypeStorage:
		for _, r := range c.storage {
			out = append(out, r)
		}
	}
	return out
}

// InRange returns every record with start <= timestamp <= end, across all
// types, ordered by timestamp.
func (c *Collector) InRange(start, end time.Time) []Record {
	c.mu.Lock()
	defer c.mu.Unlock()

	var out []Record
	add := func(r Record) {
		ts := r.At()
		if !ts.Before(start) && !ts.After(end) {
			out = append(out, r)
		}
	}
	for _, r := range c.backups {
		add(r)
	}
	for _, r := range c.restores {
		add(r)
	}
	for _, r := range c.schedules {
		add(r)
	}
	for _, r := range c.storage {
		add(r)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].At().Before(out[j].At()) })
	return out
}

// Clear drops all records.
func (c *Collector) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.backups = nil
	c.restores = nil
	c.schedules = nil
	c.storage = nil
}

func boolToFloat(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
