package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/warp/budget-engine/config"
	"github.com/warp/budget-engine/logging"
)

var (
	flagConfig    string
	flagLogLevel  string
	flagLogFormat string
)

var rootCmd = &cobra.Command{
	Use:           "budgetd",
	Short:         "Budget period and rollover engine",
	Long:          "Opens monthly budget cycles, carries unspent or overspent balances forward and records every transition.",
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute is the main entry point called from main.go.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "budgetd: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&flagConfig, "config", "c", "", "TOML config file (default $"+config.ConfigPathEnv+")")
	rootCmd.PersistentFlags().StringVar(&flagLogLevel, "log-level", "", "Override log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&flagLogFormat, "log-format", "", "Override log format (text, json)")
}

// loadConfig is the shared startup path used by all commands.
func loadConfig() (config.Config, *logging.Logger, error) {
	cfg, err := config.Load(flagConfig)
	if err != nil {
		return cfg, nil, err
	}
	if flagLogLevel != "" {
		cfg.Log.Level = flagLogLevel
	}
	if flagLogFormat != "" {
		cfg.Log.Format = flagLogFormat
	}
	if err := cfg.Validate(); err != nil {
		return cfg, nil, err
	}

	log := logging.New(cfg.LoggingConfig())
	logging.SetDefault(log)
	return cfg, log, nil
}
