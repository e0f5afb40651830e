package main

import (
	"errors"
	"fmt"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/vya-io/vya/internal/alerts"
	"github.com/vya-io/vya/internal/config"
	"github.com/vya-io/vya/internal/crypto"
	"github.com/vya-io/vya/internal/engine"
	"github.com/vya-io/vya/internal/metrics"
	"github.com/vya-io/vya/internal/notify"
	"github.com/vya-io/vya/internal/vault"
)

// app bundles the wired components every subcommand needs.
type app struct {
	cfg       *config.Config
	logger    *zap.Logger
	vault     *vault.Vault
	resolver  *config.Resolver
	collector *metrics.Collector
	alertMgr  *alerts.Manager
	notifier  *notify.Manager
}

// newApp loads config, opens the vault under the host-derived key, and
// wires the metric, alert, and notification components.
func newApp(flags *rootFlags) (*app, error) {
	cfg, err := config.Load(flags.configPath)
	if err != nil {
		return nil, userErr(err)
	}

	level := flags.logLevel
	if level == "" {
		level = cfg.Log.Level
	}
	logDir := cfg.Log.Dir
	if logDir == "" {
		logDir = config.DefaultLogDir()
	}
	logger, err := buildLogger(level, logDir)
	if err != nil {
		return nil, fmt.Errorf("failed to build logger: %w", err)
	}

	enc, err := crypto.NewHostEncryptor()
	if err != nil {
		return nil, fmt.Errorf("failed to derive vault key: %w", err)
	}
	// A corrupt vault degrades to an empty one: credentials then resolve
	// from the config file instead of aborting every command.
	v, err := vault.Open(cfg.VaultFile(), enc, logger)
	if errors.Is(err, vault.ErrCorrupt) {
		logger.Warn("vault file corrupt, continuing with empty vault",
			zap.String("path", cfg.VaultFile()))
		v = vault.New(cfg.VaultFile(), enc, logger)
	} else if err != nil {
		return nil, fmt.Errorf("failed to open vault: %w", err)
	}

	resolver := config.NewResolver(cfg, v)

	alertMgr := alerts.NewManager(logger)
	rules, err := cfg.AlertRules()
	if err != nil {
		return nil, userErr(err)
	}
	for _, r := range rules {
		if err := alertMgr.AddRule(r); err != nil {
			return nil, userErr(err)
		}
	}

	notifier := notify.NewManager(logger)
	if cfg.Email.Enabled {
		smtp, err := resolver.SMTP()
		if err != nil {
			return nil, userErr(err)
		}
		email, err := notify.NewEmailChannel(smtp, filepath.Join(logDir, "vya.log"))
		if err != nil {
			return nil, userErr(err)
		}
		notifier.AddChannel(email)
	}

	return &app{
		cfg:       cfg,
		logger:    logger,
		vault:     v,
		resolver:  resolver,
		collector: metrics.NewCollector(),
		alertMgr:  alertMgr,
		notifier:  notifier,
	}, nil
}

// executor builds the backup/restore executor over the app's components.
func (a *app) executor() *engine.Executor {
	return engine.NewExecutor(a.collector, a.alertMgr, a.notifier, a.logger)
}

func (a *app) close() {
	_ = a.logger.Sync()
}
