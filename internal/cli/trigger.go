package cli

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/convoyci/convoy/internal/scheduler"
	"github.com/convoyci/convoy/internal/store"
)

// newTriggerCommand creates the "trigger" subcommand group managing cron triggers.
func newTriggerCommand(opts *Options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "trigger",
		Short: "Manage scheduled pipeline triggers",
	}

	cmd.AddCommand(
		newTriggerAddCommand(opts),
		newTriggerListCommand(opts),
		newTriggerRemoveCommand(opts),
	)

	return cmd
}

func newTriggerAddCommand(opts *Options) *cobra.Command {
	var (
		cronExpr   string
		inputFlags []string
	)

	cmd := &cobra.Command{
		Use:   "add <pipeline.yaml>",
		Short: "Schedule a pipeline on a cron expression",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := loggerFromContext(cmd.Context())

			inputs, err := parseInputs(inputFlags)
			if err != nil {
				return err
			}

			a, err := newApp(cmd.Context(), opts, logger, false)
			if err != nil {
				return err
			}
			defer a.close()

			sched := scheduler.NewScheduler(a.store, nil, logger)
			nextRun, err := sched.CalculateNextRun(cronExpr, time.Now().UTC())
			if err != nil {
				return err
			}

			trigger := &store.Trigger{
				ID:             uuid.NewString(),
				PipelinePath:   args[0],
				CronExpression: cronExpr,
				Enabled:        true,
				NextRunAt:      &nextRun,
			}
			if inputs != nil {
				raw, err := json.Marshal(inputs)
				if err != nil {
					return err
				}
				trigger.Inputs = raw
			}

			if err := a.store.CreateTrigger(cmd.Context(), trigger); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "trigger %s created, next run %s\n",
				trigger.ID, nextRun.Format("2006-01-02 15:04:05"))
			return nil
		},
	}

	cmd.Flags().StringVar(&cronExpr, "cron", "", "Cron expression (minute hour dom month dow)")
	cmd.Flags().StringArrayVar(&inputFlags, "input", nil, "Pipeline input as key=value (repeatable)")
	cmd.MarkFlagRequired("cron")

	return cmd
}

func newTriggerListCommand(opts *Options) *cobra.Command {
	return &cobra.Command{
		Use:     "ls",
		Aliases: []string{"list"},
		Short:   "List scheduled triggers",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			logger := loggerFromContext(cmd.Context())
			out := cmd.OutOrStdout()

			a, err := newApp(cmd.Context(), opts, logger, false)
			if err != nil {
				return err
			}
			defer a.close()

			triggers, err := a.store.ListTriggers(cmd.Context(), store.TriggerFilter{})
			if err != nil {
				return err
			}
			if len(triggers) == 0 {
				fmt.Fprintln(out, "no triggers configured")
				return nil
			}

			for _, trigger := range triggers {
				state := "enabled"
				if !trigger.Enabled {
					state = "disabled"
				}
				line := fmt.Sprintf("%s  %-8s %-16s %s", trigger.ID, state, trigger.CronExpression, trigger.PipelinePath)
				if trigger.NextRunAt != nil {
					line += fmt.Sprintf("  next %s", trigger.NextRunAt.Format("2006-01-02 15:04:05"))
				}
				fmt.Fprintln(out, line)
			}
			return nil
		},
	}
}

func newTriggerRemoveCommand(opts *Options) *cobra.Command {
	return &cobra.Command{
		Use:     "rm <trigger-id>",
		Aliases: []string{"remove", "delete"},
		Short:   "Delete a scheduled trigger",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := loggerFromContext(cmd.Context())

			a, err := newApp(cmd.Context(), opts, logger, false)
			if err != nil {
				return err
			}
			defer a.close()

			if err := a.store.DeleteTrigger(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "deleted trigger %q\n", args[0])
			return nil
		},
	}
}
