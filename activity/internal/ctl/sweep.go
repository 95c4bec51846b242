package ctl

import (
	"context"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/telhawk-systems/telhawk-activity/activity/internal/app"
	"github.com/telhawk-systems/telhawk-activity/activity/internal/scheduler"
	"github.com/telhawk-systems/telhawk-activity/activity/pkg/output"
)

// sweepTargets maps a sweep argument to scheduler job names. nil runs all.
var sweepTargets = map[string][]string{
	"sessions":       {scheduler.JobSessionExpiry, scheduler.JobSessionRetention},
	"impersonations": {scheduler.JobImpersonationExpiry},
	"activity":       {scheduler.JobActivityRetention},
	"all":            nil,
}

var sweepCmd = &cobra.Command{
	Use:       "sweep {sessions|impersonations|activity|all}",
	Short:     "Run retention and expiry sweeps once",
	Long:      "Expire stale sessions and impersonations and delete rows past their retention window",
	Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
	ValidArgs: []string{"sessions", "impersonations", "activity", "all"},
	RunE: func(cmd *cobra.Command, args []string) error {
		jobs := sweepTargets[args[0]]
		return withComponents(cmd, func(ctx context.Context, c *app.Components) error {
			results := c.Scheduler.RunOnce(ctx, jobs...)

			err := output.Render(outputFormat, results, func() *output.Table {
				t := output.NewTable("JOB", "ROWS", "ERROR")
				for _, r := range results {
					t.AddRow(r.Job, strconv.FormatInt(r.Rows, 10), r.Error)
				}
				return t
			})
			if err != nil {
				return err
			}

			failed := 0
			for _, r := range results {
				if r.Error != "" {
					failed++
				}
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d sweeps failed", failed, len(results))
			}
			return nil
		})
	},
}

func init() {
	rootCmd.AddCommand(sweepCmd)
}
