package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/vya-io/vya/internal/scheduler"
)

func newScheduleCmd(flags *rootFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "schedule",
		Short: "Manage backup schedules",
	}

	cmd.AddCommand(newScheduleAddCmd(flags))
	cmd.AddCommand(newScheduleListCmd(flags))
	cmd.AddCommand(newScheduleRemoveCmd(flags))
	cmd.AddCommand(newScheduleEnableCmd(flags, true))
	cmd.AddCommand(newScheduleEnableCmd(flags, false))
	cmd.AddCommand(newScheduleRunCmd(flags))

	return cmd
}

func openManager(a *app) (*scheduler.Manager, error) {
	m, err := scheduler.NewManager(a.cfg.Scheduler.Dir, a.logger)
	if err != nil {
		return nil, userErr(err)
	}
	return m, nil
}

func newScheduleAddCmd(flags *rootFlags) *cobra.Command {
	var s scheduler.Schedule

	cmd := &cobra.Command{
		Use:   "add",
		Short: "Add a schedule",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(flags)
			if err != nil {
				return err
			}
			defer a.close()

			// The instance must exist before a schedule can reference it.
			if _, err := a.cfg.Instance(s.DatabaseID); err != nil {
				return userErr(err)
			}

			m, err := openManager(a)
			if err != nil {
				return err
			}
			s.Enabled = true
			if err := m.Add(s); err != nil {
				return userErr(err)
			}
			fmt.Printf("schedule %q added\n", s.Name)
			return nil
		},
	}

	cmd.Flags().StringVar(&s.Name, "name", "", "Schedule name (unique)")
	cmd.Flags().StringVar(&s.CronExpression, "cron", "", "Standard 5-field cron expression")
	cmd.Flags().StringVar(&s.DatabaseID, "database", "", "Instance id to back up")
	cmd.Flags().IntVar(&s.RetentionDays, "retention-days", 7, "Artifact retention in days")
	cmd.Flags().StringVar(&s.Compression, "compression", "", "Compression override")
	cmd.Flags().StringVar(&s.StorageType, "storage-type", "", "Storage backend override (local, s3)")
	cmd.Flags().StringVar(&s.StorageLocation, "storage-location", "", "Storage path override")
	_ = cmd.MarkFlagRequired("name")
	_ = cmd.MarkFlagRequired("cron")
	_ = cmd.MarkFlagRequired("database")

	return cmd
}

func newScheduleListCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List schedules",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(flags)
			if err != nil {
				return err
			}
			defer a.close()

			m, err := openManager(a)
			if err != nil {
				return err
			}
			all, err := m.List()
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "NAME\tCRON\tDATABASE\tENABLED\tRETENTION")
			for _, s := range all {
				fmt.Fprintf(w, "%s\t%s\t%s\t%t\t%dd\n",
					s.Name, s.CronExpression, s.DatabaseID, s.Enabled, s.RetentionDays)
			}
			return w.Flush()
		},
	}
}

func newScheduleRemoveCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "remove <name>",
		Short: "Remove a schedule",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(flags)
			if err != nil {
				return err
			}
			defer a.close()

			m, err := openManager(a)
			if err != nil {
				return err
			}
			if err := m.Remove(args[0]); err != nil {
				return userErr(err)
			}
			fmt.Printf("schedule %q removed\n", args[0])
			return nil
		},
	}
}

func newScheduleEnableCmd(flags *rootFlags, enable bool) *cobra.Command {
	use, verb := "enable <name>", "enabled"
	if !enable {
		use, verb = "disable <name>", "disabled"
	}
	return &cobra.Command{
		Use:   use,
		Short: "Toggle a schedule",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(flags)
			if err != nil {
				return err
			}
			defer a.close()

			m, err := openManager(a)
			if err != nil {
				return err
			}
			if err := m.SetEnabled(args[0], enable); err != nil {
				return userErr(err)
			}
			fmt.Printf("schedule %q %s\n", args[0], verb)
			return nil
		},
	}
}

func newScheduleRunCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "run <name>",
		Short: "Run a schedule immediately",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(flags)
			if err != nil {
				return err
			}
			defer a.close()

			ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			m, err := openManager(a)
			if err != nil {
				return err
			}
			s, err := m.Get(args[0])
			if err != nil {
				return userErr(err)
			}

			j := scheduler.NewJobExecutor(m, a.resolver, a.executor(), a.collector, scheduler.Callbacks{}, a.logger)
			if err := j.ExecuteJob(ctx, s); err != nil {
				return engineErr(err)
			}
			fmt.Printf("schedule %q completed\n", s.Name)
			return nil
		},
	}
}
