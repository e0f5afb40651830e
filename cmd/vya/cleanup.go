package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/vya-io/vya/internal/retention"
)

func newCleanupCmd(flags *rootFlags) *cobra.Command {
	var (
		dryRun   bool
		dir      string
		buckets  string
		kind     string
		database string
	)

	cmd := &cobra.Command{
		Use:   "cleanup",
		Short: "Sweep expired backup artifacts",
		Long: `Removes artifacts older than the configured retention from the backup
directory. With --buckets a graded policy keeps one artifact per active
window instead of a flat age cutoff.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(flags)
			if err != nil {
				return err
			}
			defer a.close()

			if dir == "" {
				dir = a.cfg.System.PathZip
			}

			var policy retention.Keeper = retention.AgePolicy{Days: a.cfg.System.RetentionFiles}
			if buckets != "" {
				bp, err := retention.ParseBucketPolicy(buckets)
				if err != nil {
					return userErr(err)
				}
				policy = bp
			}

			var opts []retention.Option
			if kind != "" {
				opts = append(opts, retention.WithKind(kind))
			}
			if database != "" {
				opts = append(opts, retention.WithDatabase(database))
			}

			eng := retention.NewEngine(dir, policy, a.logger, opts...)
			stats, err := eng.Cleanup(dryRun)
			if err != nil {
				return engineErr(err)
			}

			verb := "deleted"
			if dryRun {
				verb = "would delete"
			}
			fmt.Printf("%d artifacts scanned, %d kept, %s %d (%d bytes)\n",
				stats.Total, stats.Kept, verb, stats.Deleted, stats.FreedBytes)
			for _, e := range stats.Errors {
				fmt.Println("error:", e)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Report without deleting")
	cmd.Flags().StringVar(&dir, "dir", "", "Directory to sweep (default: configured backup directory)")
	cmd.Flags().StringVar(&buckets, "buckets", "", "Graded policy, e.g. 24h,7d,4w,6m")
	cmd.Flags().StringVar(&kind, "kind", "", "Restrict to one artifact kind (mysql, postgresql, files)")
	cmd.Flags().StringVar(&database, "database", "", "Restrict to one database name")

	return cmd
}
