package ctl

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/telhawk-systems/telhawk-activity/activity/internal/app"
	"github.com/telhawk-systems/telhawk-activity/activity/internal/models"
	"github.com/telhawk-systems/telhawk-activity/activity/pkg/output"
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Session and activity statistics",
	Long:  "Print the admin dashboard statistics computed from the activity store",
}

var statsOverviewCmd = &cobra.Command{
	Use:   "overview",
	Short: "Month-to-date overview with trends",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withComponents(cmd, func(ctx context.Context, c *app.Components) error {
			ov, err := c.Stats.Overview(ctx)
			if err != nil {
				return err
			}
			return output.Render(outputFormat, ov, func() *output.Table {
				t := output.NewTable("METRIC", "VALUE")
				t.AddRow("currently_active", strconv.FormatInt(ov.CurrentlyActive, 10))
				t.AddRow("recently_active", strconv.FormatInt(ov.RecentlyActive, 10))
				t.AddRow("sessions", strconv.FormatInt(ov.Sessions.Total, 10))
				t.AddRow("sessions_previous", strconv.FormatInt(ov.PreviousSessions, 10))
				t.AddRow("sessions_trend", trend(ov.SessionsTrend))
				t.AddRow("activity", strconv.FormatInt(ov.Activity.Total, 10))
				t.AddRow("activity_previous", strconv.FormatInt(ov.PreviousActivity, 10))
				t.AddRow("activity_trend", trend(ov.ActivityTrend))
				return t
			})
		})
	},
}

var statsSessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "Session counts by device and browser",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		tr, err := rangeFlags(cmd, 30*24*time.Hour)
		if err != nil {
			return err
		}
		return withComponents(cmd, func(ctx context.Context, c *app.Components) error {
			st, err := c.Stats.Sessions(ctx, tr)
			if err != nil {
				return err
			}
			return output.Render(outputFormat, st, func() *output.Table {
				t := output.NewTable("METRIC", "VALUE")
				t.AddRow("total", strconv.FormatInt(st.Total, 10))
				t.AddRow("active", strconv.FormatInt(st.Active, 10))
				t.AddRow("average_duration", (time.Duration(st.AverageDurationSeconds) * time.Second).String())
				addCounts(t, "device", st.ByDeviceType)
				addCounts(t, "browser", st.ByBrowser)
				return t
			})
		})
	},
}

var statsActivityCmd = &cobra.Command{
	Use:   "activity",
	Short: "Activity counts by type",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		tr, err := rangeFlags(cmd, 7*24*time.Hour)
		if err != nil {
			return err
		}
		return withComponents(cmd, func(ctx context.Context, c *app.Components) error {
			st, err := c.Stats.Activity(ctx, tr.Start, tr.End)
			if err != nil {
				return err
			}
			return output.Render(outputFormat, st, func() *output.Table {
				t := output.NewTable("METRIC", "VALUE")
				t.AddRow("total", strconv.FormatInt(st.Total, 10))
				t.AddRow("successes", strconv.FormatInt(st.Successes, 10))
				t.AddRow("failures", strconv.FormatInt(st.Failures, 10))
				for _, typ := range models.AllActivityTypes {
					if n := st.ByType[typ]; n > 0 {
						t.AddRow("type:"+string(typ), strconv.FormatInt(n, 10))
					}
				}
				addCounts(t, "day", st.ByDay)
				return t
			})
		})
	},
}

func init() {
	for _, c := range []*cobra.Command{statsSessionsCmd, statsActivityCmd} {
		c.Flags().String("from", "", "range start (RFC3339 or YYYY-MM-DD)")
		c.Flags().String("to", "", "range end, exclusive (RFC3339 or YYYY-MM-DD, default now)")
	}
	statsCmd.AddCommand(statsOverviewCmd, statsSessionsCmd, statsActivityCmd)
	rootCmd.AddCommand(statsCmd)
}

// rangeFlags reads --from/--to. A missing --from defaults to --to minus
// lookback.
func rangeFlags(cmd *cobra.Command, lookback time.Duration) (models.TimeRange, error) {
	var tr models.TimeRange

	to, _ := cmd.Flags().GetString("to")
	from, _ := cmd.Flags().GetString("from")

	tr.End = time.Now().UTC()
	if to != "" {
		t, err := parseTime(to)
		if err != nil {
			return tr, fmt.Errorf("--to: %w", err)
		}
		tr.End = t
	}
	tr.Start = tr.End.Add(-lookback)
	if from != "" {
		t, err := parseTime(from)
		if err != nil {
			return tr, fmt.Errorf("--from: %w", err)
		}
		tr.Start = t
	}
	if !tr.Start.Before(tr.End) {
		return tr, fmt.Errorf("--from must be before --to")
	}
	return tr, nil
}

func parseTime(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.UTC(), nil
	}
	t, err := time.Parse(time.DateOnly, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid time %q", s)
	}
	return t.UTC(), nil
}

func trend(v *int) string {
	if v == nil {
		return "n/a"
	}
	return fmt.Sprintf("%+d%%", *v)
}

func addCounts(t *output.Table, prefix string, counts map[string]int64) {
	keys := make([]string, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		t.AddRow(prefix+":"+k, strconv.FormatInt(counts[k], 10))
	}
}
