package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/vya-io/vya/internal/engine"
)

func newBackupCmd(flags *rootFlags) *cobra.Command {
	var (
		instanceID  string
		all         bool
		compression string
		policy      string
	)

	cmd := &cobra.Command{
		Use:   "backup",
		Short: "Run a backup for one instance or all enabled instances",
		RunE: func(cmd *cobra.Command, args []string) error {
			if instanceID == "" && !all {
				return userErr(fmt.Errorf("either --instance or --all is required"))
			}

			a, err := newApp(flags)
			if err != nil {
				return err
			}
			defer a.close()

			ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			var ids []string
			if all {
				for _, inst := range a.cfg.Instances {
					if inst.Enabled {
						ids = append(ids, inst.ID)
					}
				}
				if len(ids) == 0 {
					return userErr(fmt.Errorf("no enabled instances configured"))
				}
			} else {
				ids = []string{instanceID}
			}

			return runBackups(ctx, a, ids, compression, policy)
		},
	}

	cmd.Flags().StringVar(&instanceID, "instance", "", "Instance id to back up")
	cmd.Flags().BoolVar(&all, "all", false, "Back up every enabled instance")
	cmd.Flags().StringVar(&compression, "compression", "", "Compression override (gzip, bzip2, zip, none)")
	cmd.Flags().StringVar(&policy, "policy", "", "Failure policy override (best-effort, all-or-nothing)")

	return cmd
}

// runBackups executes the instances sequentially and maps the combined
// outcome to an exit code: any fatal failure wins over partial.
func runBackups(ctx context.Context, a *app, ids []string, compression, policy string) error {
	executor := a.executor()

	var fatal error
	partial := false

	for _, id := range ids {
		inst, err := a.resolver.Instance(id)
		if err != nil {
			return userErr(err)
		}

		backup := a.cfg.Backup
		if compression != "" {
			backup.Compression = compression
		}
		if policy != "" {
			backup.Policy = engine.Policy(policy)
		}

		bc := engine.NewBackupContext(inst, a.cfg.Storage, backup)
		if err := executor.ExecuteBackup(ctx, bc); err != nil {
			a.logger.Error("backup failed", zap.String("instance", id), zap.Error(err))
			fatal = err
			continue
		}

		if failed := bc.FailedTargets(); len(failed) > 0 {
			partial = true
			for _, f := range failed {
				fmt.Fprintf(os.Stderr, "failed: %s/%s: %v\n", id, f.Database, f.Err)
			}
		}
		for _, r := range bc.Results {
			if r.Err == nil {
				fmt.Printf("backed up %s/%s -> %s (%d bytes)\n", id, r.Database, r.StorageLocation, r.CompressedSize)
			}
		}
	}

	switch {
	case fatal != nil:
		return engineErr(fatal)
	case partial:
		return partialErr(fmt.Errorf("some databases failed"))
	}
	return nil
}
