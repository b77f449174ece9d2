package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
	"github.com/spf13/cobra"

	"gocutoff/internal/config"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string

	rootCmd := &cobra.Command{
		Use:           "gocutoff",
		Short:         "Survival-stratified expression thresholds",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			// A missing .env file is fine; the environment is used as is
			_ = godotenv.Load()
		},
	}
	rootCmd.PersistentFlags().StringVar(&configPath, "config", os.Getenv("CONFIG_FILE"), "YAML configuration file")

	// Validation is deferred so command flags can still supply bound sources
	loadConfig := func() (*config.Config, error) {
		return config.Read(configPath)
	}

	rootCmd.AddCommand(
		newRunCmd(loadConfig),
		newFrequencyCmd(loadConfig),
		newConsistencyCmd(loadConfig),
		newMigrateCmd(loadConfig),
	)
	return rootCmd
}
