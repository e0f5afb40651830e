// Package retention ages out stale backup artifacts. The artifact filename
// is the authoritative metadata; there is no sidecar index. Files whose
// names do not parse as artifacts are never touched.
package retention

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"time"

	"go.uber.org/zap"
)

// artifactPattern matches backup artifact filenames:
// YYYYMMDD_HHMMSS_<kind>_<logical_name>.<ext>
var artifactPattern = regexp.MustCompile(
	`^(\d{8})_(\d{6})_(mysql|postgresql|files)_(.+?)\.(sql|gz|zip|tar\.gz)$`)

// Artifact is the metadata parsed from a backup filename. The timestamp is
// the wall-clock start time of the originating backup, in local time.
type Artifact struct {
	Name      string
	Timestamp time.Time
	Kind      string
	Database  string
	Ext       string
}

// ParseArtifactName parses a backup filename. A non-matching name is a
// legitimate result, not an error: ok is false and the file is left alone.
func ParseArtifactName(name string) (Artifact, bool) {
	m := artifactPattern.FindStringSubmatch(name)
	if m == nil {
		return Artifact{}, false
	}
	ts, err := time.ParseInLocation("20060102_150405", m[1]+"_"+m[2], time.Local)
	if err != nil {
		return Artifact{}, false
	}
	return Artifact{
		Name:      name,
		Timestamp: ts,
		Kind:      m[3],
		Database:  m[4],
		Ext:       m[5],
	}, true
}

// ArtifactName composes the canonical filename for a backup artifact.
func ArtifactName(start time.Time, kind, database, ext string) string {
	return fmt.Sprintf("%s_%s_%s.%s", start.Format("20060102_150405"), kind, database, ext)
}

// Stats summarizes one retention sweep. Deleted+Kept always equals Total
// (the count of parsed artifacts that passed the filters).
type Stats struct {
	Total      int
	Kept       int
	Deleted    int
	FreedBytes int64
	Errors     []string
}

// Keeper decides whether an artifact of a given age survives a sweep.
type Keeper interface {
	ShouldKeep(age time.Duration) bool
}

// Engine sweeps a directory of artifacts against a retention policy,
// optionally filtered by kind and/or database name.
type Engine struct {
	dir      string
	policy   Keeper
	kind     string // empty = all kinds
	database string // empty = all databases
	now      func() time.Time
	logger   *zap.Logger
}

// Option configures an Engine.
type Option func(*Engine)

// WithKind restricts the sweep to one artifact kind.
func WithKind(kind string) Option { return func(e *Engine) { e.kind = kind } }

// WithDatabase restricts the sweep to one logical database name.
func WithDatabase(name string) Option { return func(e *Engine) { e.database = name } }

// withNow pins the clock for tests.
func withNow(now func() time.Time) Option { return func(e *Engine) { e.now = now } }

// NewEngine creates a retention engine over dir.
func NewEngine(dir string, policy Keeper, logger *zap.Logger, opts ...Option) *Engine {
	e := &Engine{
		dir:    dir,
		policy: policy,
		now:    time.Now,
		logger: logger.Named("retention"),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Cleanup sweeps the directory. In dry-run mode no file is removed and
// FreedBytes reports the hypothetical saving. A per-file deletion failure is
// recorded in Errors and the sweep continues.
func (e *Engine) Cleanup(dryRun bool) (Stats, error) {
	entries, err := os.ReadDir(e.dir)
	if err != nil {
		return Stats{}, fmt.Errorf("retention: failed to read %s: %w", e.dir, err)
	}

	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if !entry.IsDir() {
			names = append(names, entry.Name())
		}
	}
	sort.Strings(names)

	now := e.now()
	var stats Stats
	for _, name := range names {
		artifact, ok := ParseArtifactName(name)
		if !ok {
			// Not a backup artifact; pass through untouched.
			continue
		}
		if e.kind != "" && artifact.Kind != e.kind {
			continue
		}
		if e.database != "" && artifact.Database != e.database {
			continue
		}

		stats.Total++
		if e.policy.ShouldKeep(now.Sub(artifact.Timestamp)) {
			stats.Kept++
			continue
		}

		path := filepath.Join(e.dir, name)
		var size int64
		if st, err := os.Stat(path); err == nil {
			size = st.Size()
		}

		if dryRun {
			stats.Deleted++
			stats.FreedBytes += size
			continue
		}

		if err := os.Remove(path); err != nil {
			// Still on disk, so it counts as kept; deleted+kept stays == total.
			stats.Errors = append(stats.Errors, fmt.Sprintf("%s: %v", name, err))
			stats.Kept++
			e.logger.Warn("failed to delete expired artifact",
				zap.String("file", name), zap.Error(err))
			continue
		}

		stats.Deleted++
		stats.FreedBytes += size
		e.logger.Info("deleted expired artifact",
			zap.String("file", name), zap.Int64("bytes", size))
	}

	return stats, nil
}
