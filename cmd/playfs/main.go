package main

import (
	"os"

	"github.com/spf13/cobra"

	"playfs/internal/config"
	"playfs/internal/logging"
)

var (
	logger = logging.GetLogger()

	configFile string
	verbose    bool
	logLevel   string

	cfg *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "playfs",
	Short: "Live playground filesystem",
	Long: `playfs keeps a project in memory and publishes an executable URL for every
file. Editing a file republishes it and everything that imports it.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		loaded, err := config.Load(configFile)
		if err != nil {
			return err
		}
		if logLevel != "" {
			loaded.LogLevel = logLevel
			if err := loaded.Validate(); err != nil {
				return err
			}
		}
		cfg = loaded

		logger.SetLevel(cfg.Level())
		// Configure logging based on flags
		if verbose {
			logger.SetLevel(logging.LevelDebug)
		}
		logger.Debug("Configuration file: %q", configFile)
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "Configuration file (YAML)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose logging")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level: error, warn, info, debug or trace")
	rootCmd.SilenceUsage = true

	rootCmd.AddCommand(newServeCmd())
	rootCmd.AddCommand(newMountCmd())
	rootCmd.AddCommand(newTypesCmd())
	rootCmd.AddCommand(newSnapshotCmd())
	rootCmd.AddCommand(newConfigCmd())
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
