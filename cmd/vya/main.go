package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/vya-io/vya/internal/engine"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// Exit codes: 0 success, 1 user error, 2 partial failure (some databases
// failed), 3 fatal engine error.
const (
	exitOK      = 0
	exitUser    = 1
	exitPartial = 2
	exitFatal   = 3
)

// exitError carries an explicit process exit code through cobra.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string { return e.err.Error() }
func (e *exitError) Unwrap() error { return e.err }

func userErr(err error) error    { return &exitError{code: exitUser, err: err} }
func partialErr(err error) error { return &exitError{code: exitPartial, err: err} }

// engineErr maps the engine error taxonomy onto exit codes: config and
// credential problems are user errors, everything else is fatal.
func engineErr(err error) error {
	switch engine.KindOf(err) {
	case engine.KindConfig, engine.KindCredential:
		return &exitError{code: exitUser, err: err}
	default:
		return &exitError{code: exitFatal, err: err}
	}
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		var ee *exitError
		if errors.As(err, &ee) {
			os.Exit(ee.code)
		}
		os.Exit(exitUser)
	}
}

type rootFlags struct {
	configPath string
	logLevel   string
}

func newRootCmd() *cobra.Command {
	flags := &rootFlags{}

	root := &cobra.Command{
		Use:   "vya",
		Short: "Vya: enterprise database backup and restore",
		Long: `Vya backs up MySQL and PostgreSQL databases and file trees to local
or S3-compatible storage, with compression, encrypted credential
storage, cron scheduling, retention, metrics, and notifications.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(newVersionCmd())
	root.AddCommand(newBackupCmd(flags))
	root.AddCommand(newRestoreCmd(flags))
	root.AddCommand(newScheduleCmd(flags))
	root.AddCommand(newVaultCmd(flags))
	root.AddCommand(newCleanupCmd(flags))
	root.AddCommand(newDaemonCmd(flags))

	root.PersistentFlags().StringVar(&flags.configPath, "config", envOrDefault("VYA_CONFIG", "./config.yaml"), "Path to the configuration file")
	root.PersistentFlags().StringVar(&flags.logLevel, "log-level", envOrDefault("VYA_LOG_LEVEL", ""), "Log level override (debug, info, warn, error)")

	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("vya %s (commit: %s, built: %s)\n", version, commit, date)
		},
	}
}

// buildLogger configures zap by level. When logDir is non-empty the log
// also goes to vya.log in that directory.
func buildLogger(level, logDir string) (*zap.Logger, error) {
	var cfg zap.Config

	switch level {
	case "debug":
		cfg = zap.NewDevelopmentConfig()
	default:
		cfg = zap.NewProductionConfig()
	}

	if logDir != "" {
		if err := os.MkdirAll(logDir, 0o755); err == nil {
			cfg.OutputPaths = append(cfg.OutputPaths, filepath.Join(logDir, "vya.log"))
		}
	}

	switch level {
	case "debug":
		cfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	case "info":
		cfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	case "warn":
		cfg.Level = zap.NewAtomicLevelAt(zap.WarnLevel)
	case "error":
		cfg.Level = zap.NewAtomicLevelAt(zap.ErrorLevel)
	default:
		cfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	}

	return cfg.Build()
}

func envOrDefault(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}
