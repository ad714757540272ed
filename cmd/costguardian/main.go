package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/systmms/costguardian/cmd/costguardian/commands"
	"github.com/systmms/costguardian/internal/config"
	"github.com/systmms/costguardian/internal/logging"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// Global flags
	var (
		configFile string
		noColor    bool
		debug      bool
	)

	// Create config placeholder
	cfg := &config.Config{}

	rootCmd := &cobra.Command{
		Use:   "costguardian",
		Short: "Cost Guardian - stop stale instances and retire stale access keys",
		Long: `costguardian is a scheduled batch job that stops EC2 instances running
longer than 24 hours and manages IAM access keys: keys unused for 60 days are
deactivated, keys older than 30 days are rotated with the new material stored
in Secrets Manager. Each run ends with a Slack report of what was done.`,
		Version: fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			// Initialize logger with parsed flags
			logger := logging.New(debug, noColor)

			cfg.Path = configFile
			cfg.Logger = logger
		},
	}

	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "Optional YAML config file (environment variables take precedence)")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "Disable colored output")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "Enable debug logging")

	rootCmd.AddCommand(
		commands.NewRunCommand(cfg),
		commands.NewDoctorCommand(cfg),
		commands.NewCompletionCommand(cfg),
	)

	return rootCmd.Execute()
}
