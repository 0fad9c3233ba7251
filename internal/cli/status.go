package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

// newStatusCommand creates the "status" subcommand that shows a run's state.
func newStatusCommand(opts *Options) *cobra.Command {
	var showEvents bool

	cmd := &cobra.Command{
		Use:   "status <run-id>",
		Short: "Show the status of a pipeline run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := loggerFromContext(cmd.Context())
			out := cmd.OutOrStdout()

			a, err := newApp(cmd.Context(), opts, logger, false)
			if err != nil {
				return err
			}
			defer a.close()

			report, err := a.executor.Status(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			run := report.Run
			fmt.Fprintf(out, "run %s (%s)\n", run.ID, run.Pipeline)
			fmt.Fprintf(out, "  status:  %s\n", run.Status)
			if run.FailedStage != "" {
				fmt.Fprintf(out, "  failed:  %s\n", run.FailedStage)
			}
			fmt.Fprintf(out, "  created: %s\n", run.CreatedAt.Format("2006-01-02 15:04:05"))
			if run.CompletedAt != nil {
				fmt.Fprintf(out, "  done:    %s\n", run.CompletedAt.Format("2006-01-02 15:04:05"))
			}

			if len(report.Stages) > 0 {
				fmt.Fprintln(out, "stages:")
				for _, stage := range report.Stages {
					line := fmt.Sprintf("  %-10s %s", stage.Status, stage.Stage)
					if stage.DurationMs > 0 {
						line += fmt.Sprintf(" (%dms)", stage.DurationMs)
					}
					fmt.Fprintln(out, line)
				}
			}

			if showEvents && len(report.Events) > 0 {
				fmt.Fprintln(out, "events:")
				for _, event := range report.Events {
					line := fmt.Sprintf("  %4d %-16s", event.Sequence, event.Type)
					if event.Stage != "" {
						line += " " + event.Stage
					}
					fmt.Fprintln(out, line)
				}
			}

			return nil
		},
	}

	cmd.Flags().BoolVar(&showEvents, "events", false, "Include the run's event log")

	return cmd
}
