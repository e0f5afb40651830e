package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/vya-io/vya/internal/engine"
)

func newRestoreCmd(flags *rootFlags) *cobra.Command {
	var (
		instanceID string
		file       string
		targetDB   string
	)

	cmd := &cobra.Command{
		Use:   "restore",
		Short: "Restore a backup artifact into a database",
		RunE: func(cmd *cobra.Command, args []string) error {
			if instanceID == "" || file == "" {
				return userErr(fmt.Errorf("--instance and --file are required"))
			}

			a, err := newApp(flags)
			if err != nil {
				return err
			}
			defer a.close()

			ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			inst, err := a.resolver.Instance(instanceID)
			if err != nil {
				return userErr(err)
			}

			rc := engine.NewRestoreContext(inst, a.cfg.Storage, a.cfg.Backup, file)
			rc.TargetDatabase = targetDB

			if err := a.executor().ExecuteRestore(ctx, rc); err != nil {
				return engineErr(err)
			}

			fmt.Printf("restored %s into %s (%d bytes)\n", file, rc.Target(), rc.RestoredSize)
			return nil
		},
	}

	cmd.Flags().StringVar(&instanceID, "instance", "", "Instance id to restore into")
	cmd.Flags().StringVar(&file, "file", "", "Backup artifact name in storage")
	cmd.Flags().StringVar(&targetDB, "target-db", "", "Target database override")

	return cmd
}
