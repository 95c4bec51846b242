// Package ctl implements the activityctl operator commands.
package ctl

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/telhawk-systems/telhawk-activity/activity/internal/app"
	"github.com/telhawk-systems/telhawk-activity/activity/internal/config"
	"github.com/telhawk-systems/telhawk-activity/activity/pkg/output"
	"github.com/telhawk-systems/telhawk-activity/common/logging"
)

var (
	cfgFile      string
	outputFormat string
)

var rootCmd = &cobra.Command{
	Use:   "activityctl",
	Short: "TelHawk activity operator CLI",
	Long: `activityctl operates the TelHawk activity store directly.

Run retention sweeps, inspect session and activity statistics, seed
fake data for dashboards, and tail the live activity stream.`,
	Version:      "0.1.0",
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if !output.ValidFormat(outputFormat) {
			return fmt.Errorf("unknown output format %q (want table, json or yaml)", outputFormat)
		}
		return nil
	},
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "service config file (default: ./config.yaml or /etc/telhawk/activity/config.yaml)")
	rootCmd.PersistentFlags().StringVarP(&outputFormat, "output", "o", output.FormatTable, "output format: table, json, yaml")
}

func loadConfig() (*config.Config, *logging.Logger, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, nil, err
	}
	logger := logging.NewWithWriter(os.Stderr, logging.ParseLevel(cfg.Logging.Level), "text").
		With(logging.Service("activityctl"))
	return cfg, logger, nil
}

// withComponents builds the store-backed components without event sinks and
// closes them after fn returns.
func withComponents(cmd *cobra.Command, fn func(ctx context.Context, c *app.Components) error) error {
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	c, err := app.Build(ctx, cfg, logger, app.Options{})
	if err != nil {
		return err
	}
	defer func() {
		if err := c.Close(); err != nil {
			logger.Warn("close failed", logging.Error(err))
		}
	}()

	return fn(ctx, c)
}
