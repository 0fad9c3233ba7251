// Package cli defines the command-line interface for convoy.
package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/convoyci/convoy/internal/logging"
)

const (
	// defaultDBPath is the default path to the local libsql database.
	defaultDBPath = "convoy.db"
)

// Options stores global CLI options shared between commands.
type Options struct {
	DBPath   string
	LogLevel slog.Level
}

// ExitError carries a process exit code up to main. Err may be nil when the
// outcome has already been reported to the user.
type ExitError struct {
	Code int
	Err  error
}

func (e *ExitError) Error() string {
	if e.Err != nil {
		return e.Err.Error()
	}
	return fmt.Sprintf("exit code %d", e.Code)
}

func (e *ExitError) Unwrap() error { return e.Err }

// Execute builds the root command, runs it with the provided args and logger,
// and returns any error.
func Execute(args []string, logger *slog.Logger) error {
	if logger == nil {
		logger = logging.NewLogger(os.Stderr, slog.LevelInfo)
	}

	rootOpts := &Options{
		DBPath:   defaultDBPath,
		LogLevel: slog.LevelInfo,
	}

	rootCmd := newRootCommand(rootOpts, logger)
	rootCmd.SetArgs(args)

	return rootCmd.Execute()
}

// newRootCommand constructs the root cobra.Command with global flags and subcommands.
func newRootCommand(opts *Options, logger *slog.Logger) *cobra.Command {
	cmd := &cobra.Command{
		Use:           "convoy",
		Short:         "convoy is a sequential, credential-scoped pipeline executor",
		Long:          "convoy runs ordered build/test/deploy stages from a YAML pipeline definition, injecting vault-held credentials into each stage's scope and reporting terminal success or failure.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			level := logging.ParseLevel(cmd.Flag("log-level").Value.String())
			opts.LogLevel = level
			logger = logging.NewLogger(os.Stderr, level)
			cmd.SetContext(context.WithValue(cmd.Context(), loggerKey{}, logger))
			logger.Debug("logger initialized", "level", level)
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&opts.DBPath, "db", defaultDBPath, "Path to the local convoy database")
	cmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")

	cmd.AddCommand(
		newRunCommand(opts),
		newValidateCommand(opts),
		newStatusCommand(opts),
		newRunsCommand(opts),
		newSecretCommand(opts),
		newTriggerCommand(opts),
		newServeCommand(opts),
	)

	return cmd
}

// loggerKey is a private context key used to store a logger in command contexts.
type loggerKey struct{}

// loggerFromContext extracts a logger from the context or falls back to a default logger.
func loggerFromContext(ctx context.Context) *slog.Logger {
	if ctx == nil {
		return logging.NewLogger(os.Stderr, slog.LevelInfo)
	}
	if l, ok := ctx.Value(loggerKey{}).(*slog.Logger); ok && l != nil {
		return l
	}
	return logging.NewLogger(os.Stderr, slog.LevelInfo)
}
