package database

import (
	"bytes"
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"os"
	"os/exec"
	"strings"

	_ "github.com/jackc/pgx/v5/stdlib" // pgx database/sql driver
	"go.uber.org/zap"
)

// postgresSystemDatabases are never included in Databases output.
var postgresSystemDatabases = map[string]struct{}{
	"postgres":  {},
	"template0": {},
	"template1": {},
}

// postgresAdapter backs up PostgreSQL instances via pg_dump.
type postgresAdapter struct {
	cfg    InstanceConfig
	db     *sql.DB
	logger *zap.Logger
}

func openPostgres(cfg InstanceConfig, logger *zap.Logger) (*postgresAdapter, error) {
	if cfg.Port == 0 {
		cfg.Port = 5432
	}

	sslMode := cfg.TLSMode
	if sslMode == "" {
		sslMode = "disable"
	}

	// Catalog queries need a database to connect to; the maintenance
	// database is always present.
	dsn := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(cfg.Username, cfg.Password),
		Host:   fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Path:   "/postgres",
		RawQuery: url.Values{
			"sslmode":         []string{sslMode},
			"connect_timeout": []string{fmt.Sprintf("%d", int(cfg.ConnectTimeout.Seconds()))},
		}.Encode(),
	}

	db, err := sql.Open("pgx", dsn.String())
	if err != nil {
		return nil, fmt.Errorf("database: failed to open postgres pool for %s: %w", cfg.Host, err)
	}
	configurePool(db)

	return &postgresAdapter{cfg: cfg, db: db, logger: logger.Named("postgresql")}, nil
}

func (a *postgresAdapter) Databases(ctx context.Context) ([]string, error) {
	rows, err := a.db.QueryContext(ctx,
		"SELECT datname FROM pg_database WHERE datistemplate = false AND datallowconn = true")
	if err != nil {
		return nil, fmt.Errorf("database: pg_database query on %s failed: %w", a.cfg.Host, err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("database: failed to scan database name: %w", err)
		}
		names = append(names, name)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("database: failed to enumerate databases: %w", err)
	}
	return filterSystem(names, postgresSystemDatabases), nil
}

func (a *postgresAdapter) TestConnection(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, a.cfg.ConnectTimeout)
	defer cancel()

	if err := a.db.PingContext(ctx); err != nil {
		a.logger.Warn("connection probe failed",
			zap.String("host", a.cfg.Host), zap.Error(err))
		return false
	}
	return true
}

func (a *postgresAdapter) BackupDatabase(ctx context.Context, name, outPath string) error {
	cmd := exec.CommandContext(ctx, "pg_dump", a.dumpArgs(name, outPath)...)
	cmd.Env = append(os.Environ(), "PGPASSWORD="+a.cfg.Password)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		os.Remove(outPath)
		return fmt.Errorf("database: pg_dump of %s failed: %w (stderr: %s)",
			name, err, strings.TrimSpace(stderr.String()))
	}
	return nil
}

func (a *postgresAdapter) RestoreDatabase(ctx context.Context, name, inPath string) error {
	args := []string{
		"--host", a.cfg.Host,
		"--port", fmt.Sprintf("%d", a.cfg.Port),
		"--username", a.cfg.Username,
		"--dbname", name,
		"--file", inPath,
		// Abort on the first SQL error instead of loading a torn dump.
		"--set", "ON_ERROR_STOP=on",
	}
	cmd := exec.CommandContext(ctx, "psql", args...)
	cmd.Env = append(os.Environ(), "PGPASSWORD="+a.cfg.Password)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return fmt.Errorf("database: psql restore of %s failed: %w (stderr: %s)",
			name, err, strings.TrimSpace(stderr.String()))
	}
	return nil
}

func (a *postgresAdapter) BackupCommand(name, outPath string) string {
	return "pg_dump " + strings.Join(a.dumpArgs(name, outPath), " ")
}

func (a *postgresAdapter) Close() error {
	return a.db.Close()
}

func (a *postgresAdapter) dumpArgs(name, outPath string) []string {
	return []string{
		"--host", a.cfg.Host,
		"--port", fmt.Sprintf("%d", a.cfg.Port),
		"--username", a.cfg.Username,
		"--no-password",
		"--format", "plain",
		"--file", outPath,
		name,
	}
}
