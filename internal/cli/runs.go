package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/convoyci/convoy/internal/store"
	"github.com/convoyci/convoy/pkg/schema"
)

// newRunsCommand creates the "runs" subcommand listing run history.
func newRunsCommand(opts *Options) *cobra.Command {
	var (
		statusFlag   string
		pipelineFlag string
		limitFlag    int
	)

	cmd := &cobra.Command{
		Use:   "runs",
		Short: "List pipeline run history",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			logger := loggerFromContext(cmd.Context())
			out := cmd.OutOrStdout()

			a, err := newApp(cmd.Context(), opts, logger, false)
			if err != nil {
				return err
			}
			defer a.close()

			filter := store.RunFilter{
				Pipeline: pipelineFlag,
				Limit:    limitFlag,
			}
			if statusFlag != "" {
				status := schema.RunStatus(statusFlag)
				filter.Status = &status
			}

			runs, err := a.store.ListRuns(cmd.Context(), filter)
			if err != nil {
				return err
			}

			if len(runs) == 0 {
				fmt.Fprintln(out, "no runs found")
				return nil
			}

			for _, run := range runs {
				line := fmt.Sprintf("%s  %-10s %-24s %s",
					run.ID, run.Status, run.Pipeline, run.CreatedAt.Format("2006-01-02 15:04:05"))
				if run.FailedStage != "" {
					line += fmt.Sprintf("  failed at %s", run.FailedStage)
				}
				fmt.Fprintln(out, line)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&statusFlag, "status", "", "Filter by status (pending, running, succeeded, failed)")
	cmd.Flags().StringVar(&pipelineFlag, "pipeline", "", "Filter by pipeline name")
	cmd.Flags().IntVar(&limitFlag, "limit", 20, "Maximum number of runs to list")

	return cmd
}
