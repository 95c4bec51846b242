package ctl

import (
	"context"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/telhawk-systems/telhawk-activity/activity/internal/app"
	"github.com/telhawk-systems/telhawk-activity/activity/internal/seeder"
	"github.com/telhawk-systems/telhawk-activity/activity/pkg/output"
)

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Generate fake principals, sessions and activity",
	Long: `Write fake data to the configured store. The first principal is a
SUPER_ADMIN and the second an ADMIN. Each principal keeps one active session.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := seeder.DefaultConfig()
		cfg.Principals, _ = cmd.Flags().GetInt("principals")
		cfg.SessionsPerPrincipal, _ = cmd.Flags().GetInt("sessions")
		cfg.EventsPerPrincipal, _ = cmd.Flags().GetInt("events")
		cfg.TimeSpread, _ = cmd.Flags().GetDuration("time-spread")
		cfg.BatchSize, _ = cmd.Flags().GetInt("batch-size")
		cfg.Seed, _ = cmd.Flags().GetInt64("seed")

		return withComponents(cmd, func(ctx context.Context, c *app.Components) error {
			res, err := seeder.New(c.Repo, cfg, c.Logger).Run(ctx)
			if err != nil {
				return err
			}
			return output.Render(outputFormat, res, func() *output.Table {
				t := output.NewTable("KIND", "WRITTEN")
				t.AddRow("principals", strconv.Itoa(res.Principals))
				t.AddRow("sessions", strconv.Itoa(res.Sessions))
				t.AddRow("events", strconv.Itoa(res.Events))
				return t
			})
		})
	},
}

func init() {
	d := seeder.DefaultConfig()
	seedCmd.Flags().Int("principals", d.Principals, "number of principals")
	seedCmd.Flags().Int("sessions", d.SessionsPerPrincipal, "sessions per principal")
	seedCmd.Flags().Int("events", d.EventsPerPrincipal, "activity events per principal")
	seedCmd.Flags().Duration("time-spread", d.TimeSpread, "spread timestamps over this window ending now")
	seedCmd.Flags().Int("batch-size", d.BatchSize, "events per insert batch")
	seedCmd.Flags().Int64("seed", 0, "random seed for reproducible data (0 = random)")
	rootCmd.AddCommand(seedCmd)
}
