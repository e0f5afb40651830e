// Package database provides the per-engine adapters the backup and restore
// strategies drive. An adapter knows how to enumerate user databases, probe
// connectivity, and produce or load a logical dump. The dump tools themselves
// (mysqldump, pg_dump) run as subprocesses; catalog queries and connectivity
// probes go through pooled database/sql connections.
package database

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Kind identifies a database engine.
type Kind string

const (
	KindMySQL      Kind = "mysql"
	KindPostgreSQL Kind = "postgresql"
	KindFiles      Kind = "files"
)

// ParseKind validates a configured kind string.
func ParseKind(s string) (Kind, error) {
	switch Kind(strings.ToLower(strings.TrimSpace(s))) {
	case KindMySQL:
		return KindMySQL, nil
	case KindPostgreSQL:
		return KindPostgreSQL, nil
	case KindFiles:
		return KindFiles, nil
	default:
		return "", fmt.Errorf("database: unknown kind %q", s)
	}
}

// DefaultConnectTimeout bounds the initial connection probe.
const DefaultConnectTimeout = 30 * time.Second

// InstanceConfig describes one database instance (or file tree) to back up.
// For Kind == KindFiles, port and credentials are ignored and Include holds
// glob patterns over the filesystem.
type InstanceConfig struct {
	ID             string        `yaml:"id"`
	Kind           Kind          `yaml:"kind"`
	Host           string        `yaml:"host"`
	Port           int           `yaml:"port"`
	Username       string        `yaml:"username"`
	Password       string        `yaml:"password"`
	Database       string        `yaml:"database"` // default restore target
	Include        []string      `yaml:"include"`  // empty = all user databases
	Exclude        []string      `yaml:"exclude"`
	Enabled        bool          `yaml:"enabled"`
	TLSMode        string        `yaml:"tls_mode"` // engine-specific, empty = off
	ConnectTimeout time.Duration `yaml:"connect_timeout"`
}

// Adapter is the capability set shared by all engines. Adapters hold pooled
// connections; Close must run on every exit path (the engine opens adapters
// through a scoped acquisition and defers Close).
type Adapter interface {
	// Databases enumerates user databases, system databases filtered out.
	// For the files kind this returns the configured glob patterns.
	Databases(ctx context.Context) ([]string, error)
	// TestConnection reports whether the instance is reachable.
	TestConnection(ctx context.Context) bool
	// BackupDatabase writes a logical dump of name to outPath.
	BackupDatabase(ctx context.Context, name, outPath string) error
	// RestoreDatabase loads the dump at inPath into name.
	RestoreDatabase(ctx context.Context, name, inPath string) error
	// BackupCommand renders the dump command line for logging. Pure; secrets
	// are never part of the rendered string (they travel via environment).
	BackupCommand(name, outPath string) string
	// Close releases pooled connections.
	Close() error
}

// Open builds an adapter for the instance kind. The returned adapter owns its
// connection pool; callers must Close it on every exit path.
func Open(cfg InstanceConfig, logger *zap.Logger) (Adapter, error) {
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = DefaultConnectTimeout
	}
	switch cfg.Kind {
	case KindMySQL:
		return openMySQL(cfg, logger)
	case KindPostgreSQL:
		return openPostgres(cfg, logger)
	case KindFiles:
		return newFilesAdapter(cfg, logger), nil
	default:
		return nil, fmt.Errorf("database: unknown kind %q", cfg.Kind)
	}
}

// configurePool applies the shared pool discipline: ping-before-use is
// handled by the drivers, stale connections are recycled after an hour.
func configurePool(db *sql.DB) {
	db.SetConnMaxLifetime(time.Hour)
	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(2)
}

// filterSystem drops system databases and returns the rest sorted.
func filterSystem(names []string, system map[string]struct{}) []string {
	var out []string
	for _, name := range names {
		if _, ok := system[name]; ok {
			continue
		}
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// SelectTargets computes the databases a backup run covers:
// (include ∩ server) − exclude, sorted. An empty include list means all
// user databases. Included names absent from the server are dropped.
func SelectTargets(include, exclude, server []string) []string {
	onServer := make(map[string]struct{}, len(server))
	for _, name := range server {
		onServer[name] = struct{}{}
	}
	excluded := make(map[string]struct{}, len(exclude))
	for _, name := range exclude {
		excluded[name] = struct{}{}
	}

	candidates := server
	if len(include) > 0 {
		candidates = include
	}

	var targets []string
	seen := make(map[string]struct{})
	for _, name := range candidates {
		if _, ok := onServer[name]; !ok {
			continue
		}
		if _, ok := excluded[name]; ok {
			continue
		}
		if _, ok := seen[name]; ok {
			continue
		}
		seen[name] = struct{}{}
		targets = append(targets, name)
	}
	sort.Strings(targets)
	return targets
}
