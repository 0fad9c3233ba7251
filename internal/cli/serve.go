package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/convoyci/convoy/internal/definition"
	"github.com/convoyci/convoy/internal/engine"
	"github.com/convoyci/convoy/internal/scheduler"
	"github.com/convoyci/convoy/pkg/schema"
)

// newServeCommand creates the "serve" subcommand running the trigger scheduler
// until interrupted.
func newServeCommand(opts *Options) *cobra.Command {
	var recoverMissed bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the trigger scheduler in the foreground",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			logger := loggerFromContext(cmd.Context())

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := newApp(ctx, opts, logger, true)
			if err != nil {
				return err
			}
			defer a.close()

			sched := scheduler.NewScheduler(a.store, &pipelineRunner{executor: a.executor}, logger)

			if recoverMissed {
				if err := sched.RecoverMissed(ctx); err != nil {
					logger.Error("recover missed triggers failed", "error", err)
				}
			}

			if err := sched.Start(ctx); err != nil {
				return err
			}

			<-ctx.Done()
			return sched.Stop()
		},
	}

	cmd.Flags().BoolVar(&recoverMissed, "recover-missed", true, "Fire triggers whose scheduled time passed while convoy was down")

	return cmd
}

// pipelineRunner adapts the executor to the scheduler's runner interface.
type pipelineRunner struct {
	executor engine.Executor
}

func (r *pipelineRunner) RunPipeline(ctx context.Context, pipelinePath string, inputs map[string]any) error {
	def, err := definition.Load(pipelinePath)
	if err != nil {
		return err
	}
	result, err := r.executor.Run(ctx, def, inputs)
	if err != nil {
		return err
	}
	if result.Status != schema.RunStatusSucceeded {
		return fmt.Errorf("run %s finished %s", result.RunID, result.Status)
	}
	return nil
}
