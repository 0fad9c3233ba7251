package cli

import (
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/convoyci/convoy/internal/definition"
	"github.com/convoyci/convoy/internal/engine"
	"github.com/convoyci/convoy/pkg/schema"
)

// Exit codes for the run command.
const (
	exitSucceeded  = 0
	exitFailed     = 1
	exitDefinition = 2
	exitCancelled  = 130
)

// newRunCommand creates the "run" subcommand that executes a pipeline.
func newRunCommand(opts *Options) *cobra.Command {
	var inputFlags []string

	cmd := &cobra.Command{
		Use:   "run <pipeline.yaml>",
		Short: "Run a pipeline definition to completion",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := loggerFromContext(cmd.Context())

			inputs, err := parseInputs(inputFlags)
			if err != nil {
				return &ExitError{Code: exitDefinition, Err: err}
			}

			def, err := definition.Load(args[0])
			if err != nil {
				return &ExitError{Code: exitDefinition, Err: err}
			}

			// SIGINT/SIGTERM cancel the run at the next stage boundary.
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := newApp(ctx, opts, logger, true)
			if err != nil {
				return err
			}
			defer a.close()

			result, err := a.executor.Run(ctx, def, inputs)
			if err != nil {
				var perr *schema.PipelineError
				if errors.As(err, &perr) && perr.Code == schema.ErrCodeDefinition {
					return &ExitError{Code: exitDefinition, Err: err}
				}
				return &ExitError{Code: exitFailed, Err: err}
			}

			printRunSummary(cmd, result)

			switch {
			case result.Cancelled:
				return &ExitError{Code: exitCancelled}
			case result.Status == schema.RunStatusSucceeded:
				return nil
			default:
				return &ExitError{Code: exitFailed}
			}
		},
	}

	cmd.Flags().StringArrayVar(&inputFlags, "input", nil, "Pipeline input as key=value (repeatable)")

	return cmd
}

// printRunSummary writes the human-readable run report to stdout.
// All stage output in result has already been redacted by the executor.
func printRunSummary(cmd *cobra.Command, result *engine.RunResult) {
	out := cmd.OutOrStdout()

	fmt.Fprintf(out, "run %s (%s)\n", result.RunID, result.Pipeline)
	for _, stage := range result.Stages {
		line := fmt.Sprintf("  %-10s %s", stage.Status, stage.Name)
		if stage.DurationMs > 0 {
			line += fmt.Sprintf(" (%dms)", stage.DurationMs)
		}
		fmt.Fprintln(out, line)
		if stage.Error != nil {
			fmt.Fprintf(out, "             %s\n", stage.Error.Message)
		}
	}

	switch {
	case result.Cancelled:
		fmt.Fprintln(out, "result: cancelled")
	case result.Status == schema.RunStatusSucceeded:
		fmt.Fprintln(out, "result: succeeded")
	default:
		fmt.Fprintf(out, "result: failed at stage %q: %s\n", result.FailedStage, result.Error.Message)
	}
}
