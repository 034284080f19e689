package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ajitpratap0/stratopt/internal/config"
)

var (
	configPath string
	logLevel   string
	cfg        *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "stratopt",
	Short: "Genetic parameter optimization for trading strategies",
	Long: `stratopt searches a strategy's parameter space with a genetic algorithm,
scoring every candidate with a backtest over historical candles.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if cmd.Name() == versionCmd.Name() {
			return nil
		}

		loaded, err := config.Load(configPath)
		if err != nil {
			return fmt.Errorf("failed to load configuration: %w", err)
		}
		if logLevel != "" {
			loaded.App.LogLevel = logLevel
		}

		config.InitLogger(loaded.App.LogLevel, loaded.App.LogFormat)
		cfg = loaded
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Configuration file (default: configs/config.yaml if present)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Override app.log_level (trace, debug, info, warn, error)")
}
