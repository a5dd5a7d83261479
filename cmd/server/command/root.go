// Package command holds the CLI of the parking reservation server.
//
//	server serve              # HTTP API and scheduled sweeps
//	server sweep              # run every sweep once and exit
//	server migrate            # apply the database schema
//	server user create ...    # add an account
package command

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"parkeaya/internal/config"
	"parkeaya/internal/log"
)

var debug bool

var rootCmd = &cobra.Command{
	Use:   "server",
	Short: "Parking lot reservations, tickets and payments",
	Long: `Parking lot reservations, tickets and payments.
Configuration is read from the environment, optionally seeded from a
.env file in the working directory.`,
	SilenceUsage: true,
	PersistentPreRun: func(*cobra.Command, []string) {
		level := slog.LevelInfo
		if debug {
			level = slog.LevelDebug
		}
		log.Setup(os.Stdout, level)
	},
}

// Execute runs the command selected by the CLI arguments and exits
// with a non-zero code when it fails.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "enable debug logging")
	rootCmd.AddCommand(serveCmd, sweepCmd, migrateCmd, userCmd)
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}
