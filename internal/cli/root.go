package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"fintrack/internal/config"
	applog "fintrack/internal/log"
)

// Version is set at build time with -ldflags.
var Version = "dev"

// app carries what the root command prepares for its subcommands.
type app struct {
	envFile string
	cfg     *config.Config
	logger  *applog.Logger
}

// runtime opens the backend and sessions for a one-shot command.
func (a *app) runtime(ctx context.Context) (*Runtime, error) {
	return NewRuntime(ctx, a.cfg, a.logger)
}

// NewRootCommand creates the root CLI command with all subcommands registered.
func NewRootCommand() *cobra.Command {
	a := &app{}

	rootCmd := &cobra.Command{
		Use:     "fintrack",
		Short:   "Personal income and expense tracker",
		Version: Version,
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd: true,
		},
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := LoadEnvFile(a.envFile); err != nil {
				return err
			}
			cfg, err := LoadAndValidateConfig()
			if err != nil {
				return err
			}
			logger, err := SetupLogger(cfg, cmd.ErrOrStderr())
			if err != nil {
				return fmt.Errorf("setup logger: %w", err)
			}
			a.cfg, a.logger = cfg, logger
			return nil
		},
	}
	rootCmd.PersistentFlags().StringVar(&a.envFile, "env-file", "", "load environment variables from this file (default: .env if present)")

	rootCmd.AddCommand(
		newServeCommand(a),
		newSummaryCommand(a),
		newRecurringCommand(a),
		newResetCommand(a),
		newTokenCommand(a),
	)

	return rootCmd
}
