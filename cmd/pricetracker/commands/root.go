package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"pricetracker-backend/internal/components/telemetry"
	"pricetracker-backend/internal/configutil"
	"pricetracker-backend/internal/serviceutil"
)

var (
	configPath string
	debug      bool
)

var rootCmd = &cobra.Command{
	Use:   "pricetracker",
	Short: "pricetracker tracks product prices and emails you when they drop below a target.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if current != nil {
			return nil
		}
		config, err := configutil.Load(configPath)
		if err != nil {
			return fmt.Errorf("failed to read config: %w", err)
		}
		if debug {
			enabled := true
			config.Debug = &enabled
		}
		telemetry.InitSlog(config.DebugEnabled())
		current = newApp(config)
		return nil
	},
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to a config.json5, defaults to the nearest one up from the working directory.")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "Enable debug logging.")
}

func ExecuteContext(ctx context.Context) {
	err := rootCmd.ExecuteContext(ctx)
	if current != nil {
		current.Close()
	}
	if err != nil {
		serviceutil.Fatal("command failed", err)
	}
}
