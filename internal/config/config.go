// Package config loads the aggregate YAML configuration and resolves
// credentials, consulting the vault before the config file.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/vya-io/vya/internal/alerts"
	"github.com/vya-io/vya/internal/database"
	"github.com/vya-io/vya/internal/engine"
	"github.com/vya-io/vya/internal/notify"
	"github.com/vya-io/vya/internal/storage"
	"github.com/vya-io/vya/internal/vault"
)

// LogConfig controls logging output.
type LogConfig struct {
	Level string `yaml:"level"` // debug, info, warn, error
	Dir   string `yaml:"dir"`   // empty = default log directory
}

// EmailConfig carries the SMTP settings for the email channel. The password
// may come from the vault under the "smtp" credential id.
type EmailConfig struct {
	Enabled  bool     `yaml:"enabled"`
	Host     string   `yaml:"host"`
	Port     int      `yaml:"port"`
	Username string   `yaml:"username"`
	Password string   `yaml:"password"`
	From     string   `yaml:"from"`
	To       []string `yaml:"to"`
	TLS      bool     `yaml:"tls"`
}

// SchedulerConfig controls the daemon. Enabled defaults to true when the
// key is absent.
type SchedulerConfig struct {
	Dir     string `yaml:"dir"` // schedule files; default <config-dir>/schedules
	Enabled *bool  `yaml:"enabled"`
}

// IsEnabled reports whether the scheduler loop should run.
func (s SchedulerConfig) IsEnabled() bool {
	return s.Enabled == nil || *s.Enabled
}

// MetricsConfig toggles the HTTP exposition endpoint.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"` // default :9090
}

// BackupSystem is the filesystem layout block.
type BackupSystem struct {
	PathSQL        string `yaml:"path_sql"`  // raw dump scratch space
	PathZip        string `yaml:"path_zip"`  // final artifact directory
	PathFiles      string `yaml:"path_files"`
	RetentionFiles int    `yaml:"retention_files"` // days
}

// AlertRuleConfig declares a threshold alert in the config file.
type AlertRuleConfig struct {
	Name            string  `yaml:"name"`
	Description     string  `yaml:"description"`
	Severity        string  `yaml:"severity"` // info, warning, error, critical
	Field           string  `yaml:"field"`
	Op              string  `yaml:"op"`
	Threshold       float64 `yaml:"threshold"`
	CooldownSeconds int     `yaml:"cooldown_seconds"`
}

// Config is the aggregate configuration record.
type Config struct {
	Log       LogConfig                 `yaml:"log"`
	Email     EmailConfig               `yaml:"email"`
	Scheduler SchedulerConfig           `yaml:"scheduler"`
	Metrics   MetricsConfig             `yaml:"metrics"`
	Instances []database.InstanceConfig `yaml:"instances"`
	Storage   storage.Config            `yaml:"storage"`
	Backup    engine.BackupConfig       `yaml:"backup"`
	System    BackupSystem              `yaml:"bkp_system"`
	Alerts    []AlertRuleConfig         `yaml:"alerts"`
	VaultPath string                    `yaml:"vault_path"` // empty = default

	dir string // directory the config file was loaded from
}

// Load reads and validates the config file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: failed to read %s: %w", path, err)
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: failed to parse %s: %w", path, err)
	}
	cfg.dir = filepath.Dir(path)
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Metrics.Addr == "" {
		c.Metrics.Addr = ":9090"
	}
	if c.Scheduler.Dir == "" {
		c.Scheduler.Dir = filepath.Join(c.dir, "schedules")
	}
	if c.System.PathZip == "" {
		c.System.PathZip = filepath.Join(c.dir, "backups")
	}
	if c.System.PathSQL == "" {
		c.System.PathSQL = os.TempDir()
	}
	if c.System.RetentionFiles < 1 {
		c.System.RetentionFiles = 7
	}
	if c.Backup.TempDir == "" {
		c.Backup.TempDir = c.System.PathSQL
	}
	if c.Storage.Type == "" {
		c.Storage.Type = storage.KindLocal
	}
	if c.Storage.Type == storage.KindLocal && c.Storage.Path == "" {
		c.Storage.Path = c.System.PathZip
	}
	for i := range c.Instances {
		if c.Instances[i].ConnectTimeout <= 0 {
			c.Instances[i].ConnectTimeout = database.DefaultConnectTimeout
		}
	}
}

// Validate checks the aggregate shape.
func (c *Config) Validate() error {
	seen := make(map[string]struct{}, len(c.Instances))
	for _, inst := range c.Instances {
		if inst.ID == "" {
			return fmt.Errorf("config: instance with empty id")
		}
		if _, dup := seen[inst.ID]; dup {
			return fmt.Errorf("config: duplicate instance id %q", inst.ID)
		}
		seen[inst.ID] = struct{}{}
		if _, err := database.ParseKind(string(inst.Kind)); err != nil {
			return fmt.Errorf("config: instance %s: %w", inst.ID, err)
		}
	}
	if c.Email.Enabled {
		if err := c.SMTP().Validate(); err != nil {
			return err
		}
	}
	if _, err := c.AlertRules(); err != nil {
		return err
	}
	return nil
}

// AlertRules converts the configured alert blocks into engine rules.
func (c *Config) AlertRules() ([]alerts.Rule, error) {
	rules := make([]alerts.Rule, 0, len(c.Alerts))
	for _, a := range c.Alerts {
		r := alerts.Rule{
			Name:        a.Name,
			Description: a.Description,
			Severity:    alerts.Severity(a.Severity),
			Condition: alerts.Condition{
				Field:     a.Field,
				Op:        alerts.Operator(a.Op),
				Threshold: a.Threshold,
			},
			Enabled:  true,
			Cooldown: time.Duration(a.CooldownSeconds) * time.Second,
		}
		if err := r.Validate(); err != nil {
			return nil, fmt.Errorf("config: alert %q: %w", a.Name, err)
		}
		rules = append(rules, r)
	}
	return rules, nil
}

// Instance returns the instance config for id.
func (c *Config) Instance(id string) (database.InstanceConfig, error) {
	for _, inst := range c.Instances {
		if inst.ID == id {
			return inst, nil
		}
	}
	return database.InstanceConfig{}, fmt.Errorf("config: unknown instance %q", id)
}

/// VaultFile resolves the vault path: the configured override, or the default
// relative to the config directory.
func (c *Config) VaultFile() string {
	if c.VaultPath != "" {
		return c.VaultPath
	}
	return filepath.Join(c.dir, vault.DefaultPath)
}

// SMTP renders the email block as a channel config.
func (c *Config) SMTP() notify.SMTPConfig {
	return notify.SMTPConfig{
		Host:     c.Email.Host,
		Port:     c.Email.Port,
		Username: c.Email.Username,
		Password: c.Email.Password,
		From:     c.Email.From,
		To:       c.Email.To,
		TLS:      c.Email.TLS,
	}
}

/// DefaultLogDir returns the log directory: /var/log/enterprise when
// writable, else $HOME/.local/log/enterprise.
func DefaultLogDir() string {
	const system = "/var/log/enterprise"
	if err := os.MkdirAll(system, 0o755); err == nil {
		if f, err := os.CreateTemp(system, ".writecheck-*"); err == nil {
			f.Close()
			os.Remove(f.Name())
			return system
		}
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return os.TempDir()
	}
	return filepath.Join(home, ".local", "log", "enterprise")
}

// Resolver applies vault-before-config credential resolution. Credential id
// conventions: "db_<instance id>" for database instances, "smtp" for email.
type Resolver struct {
	cfg   *Config
	vault *vault.Vault
}

// NewResolver builds a resolver. v may be nil when no vault is available;
// resolution then falls through to the config file values.
func NewResolver(cfg *Config, v *vault.Vault) *Resolver {
	return &Resolver{cfg: cfg, vault: v}
}

// Instance resolves the instance config with credentials filled in: the
// vault entry db_<id> wins, the config file is the fallback.
func (r *Resolver) Instance(id string) (database.InstanceConfig, error) {
	inst, err := r.cfg.Instance(id)
	if err != nil {
		return database.InstanceConfig{}, err
	}
	if inst.Kind == database.KindFiles {
		return inst, nil
	}

	if r.vault != nil {
		cred, err := r.vault.Get("db_" + id)
		switch {
		case err == nil:
			inst.Username = cred.Username
			inst.Password = cred.Password
			return inst, nil
		case !errors.Is(err, vault.ErrNotFound):
			return database.InstanceConfig{}, fmt.Errorf("config: credential lookup for %s: %w", id, err)
		}
	}
	return inst, nil
}

// SMTP resolves the email channel config, consulting the vault id "smtp"
// before the config file.
func (r *Resolver) SMTP() (notify.SMTPConfig, error) {
	smtp := r.cfg.SMTP()
	if r.vault != nil {
		cred, err := r.vault.Get("smtp")
		switch {
		case err == nil:
			smtp.Username = cred.Username
			smtp.Password = cred.Password
		case !errors.Is(err, vault.ErrNotFound):
			return notify.SMTPConfig{}, fmt.Errorf("config: smtp credential lookup: %w", err)
		}
	}
	return smtp, nil
}

// Resolve implements the scheduler's config provider: the instance with
// credentials applied, plus the storage and backup blocks.
func (r *Resolver) Resolve(databaseID string) (database.InstanceConfig, storage.Config, engine.BackupConfig, error) {
	inst, err := r.Instance(databaseID)
	if err != nil {
		return database.InstanceConfig{}, storage.Config{}, engine.BackupConfig{}, err
	}
	return inst, r.cfg.Storage, r.cfg.Backup, nil
}
