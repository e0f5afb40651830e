package database

import (
	"bytes"
	"context"
	"database/sql"
	"fmt"
	"os"
	"os/exec"
	"strings"

	"github.com/go-sql-driver/mysql"
	"go.uber.org/zap"
)

// mysqlSystemDatabases are never included in Databases output.
var mysqlSystemDatabases = map[string]struct{}{
	"information_schema": {},
	"performance_schema": {},
	"mysql":              {},
	"sys":                {},
}

// mysqlAdapter backs up MySQL instances. Dumps are produced by mysqldump
// with --single-transaction so InnoDB tables are captured consistently
// without locking.
type mysqlAdapter struct {
	cfg    InstanceConfig
	db     *sql.DB
	logger *zap.Logger
}

func openMySQL(cfg InstanceConfig, logger *zap.Logger) (*mysqlAdapter, error) {
	if cfg.Port == 0 {
		cfg.Port = 3306
	}

	mc := mysql.NewConfig()
	mc.User = cfg.Username
	mc.Passwd = cfg.Password
	mc.Net = "tcp"
	mc.Addr = fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	mc.Timeout = cfg.ConnectTimeout
	if cfg.TLSMode != "" {
		mc.TLSConfig = cfg.TLSMode
	}

	db, err := sql.Open("mysql", mc.FormatDSN())
	if err != nil {
		return nil, fmt.Errorf("database: failed to open mysql pool for %s: %w", cfg.Host, err)
	}
	configurePool(db)

	return &mysqlAdapter{cfg: cfg, db: db, logger: logger.Named("mysql")}, nil
}

func (a *mysqlAdapter) Databases(ctx context.Context) ([]string, error) {
	rows, err := a.db.QueryContext(ctx, "SHOW DATABASES")
	if err != nil {
		return nil, fmt.Errorf("database: SHOW DATABASES on %s failed: %w", a.cfg.Host, err)
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
	return filterSystem(names, mysqlSystemDatabases), nil
}

func (a *mysqlAdapter) TestConnection(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, a.cfg.ConnectTimeout)
	defer cancel()

	if err := a.db.PingContext(ctx); err != nil {
		a.logger.Warn("connection probe failed",
			zap.String("host", a.cfg.Host), zap.Error(err))
		return false
	}
	return true
}

func (a *mysqlAdapter) BackupDatabase(ctx context.Context, name, outPath string) error {
	out, err := os.Create(outPath)
	if err != nil {
		return fmt.Errorf("database: failed to create dump file: %w", err)
	}

	cmd := exec.CommandContext(ctx, "mysqldump", a.dumpArgs(name)...)
	// Password travels via environment, never argv; argv is visible in ps.
	cmd.Env = append(os.Environ(), "MYSQL_PWD="+a.cfg.Password)
	cmd.Stdout = out
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	runErr := cmd.Run()
	if err := out.Close(); runErr == nil {
		runErr = err
	}
	if runErr != nil {
		os.Remove(outPath)
		return fmt.Errorf("database: mysqldump of %s failed: %w (stderr: %s)",
			name, runErr, strings.TrimSpace(stderr.String()))
	}
	return nil
}

func (a *mysqlAdapter) RestoreDatabase(ctx context.Context, name, inPath string) error {
	in, err := os.Open(inPath)
	if err != nil {
		return fmt.Errorf("database: failed to open dump file: %w", err)
	}
	defer in.Close()

	args := []string{
		"--host", a.cfg.Host,
		"--port", fmt.Sprintf("%d", a.cfg.Port),
		"--user", a.cfg.Username,
		name,
	}
	cmd := exec.CommandContext(ctx, "mysql", args...)
	cmd.Env = append(os.Environ(), "MYSQL_PWD="+a.cfg.Password)
	cmd.Stdin = in
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return fmt.Errorf("database: mysql restore of %s failed: %w (stderr: %s)",
			name, err, strings.TrimSpace(stderr.String()))
	}
	return nil
}

func (a *mysqlAdapter) BackupCommand(name, outPath string) string {
	return "mysqldump " + strings.Join(a.dumpArgs(name), " ") + " > " + outPath
}

func (a *mysqlAdapter) Close() error {
	return a.db.Close()
}

func (a *mysqlAdapter) dumpArgs(name string) []string {
	return []string{
		"--host", a.cfg.Host,
		"--port", fmt.Sprintf("%d", a.cfg.Port),
		"--user", a.cfg.Username,
		"--single-transaction",
		"--routines",
		"--triggers",
		name,
	}
}
