package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/convoyci/convoy/internal/actions"
	"github.com/convoyci/convoy/internal/definition"
	"github.com/convoyci/convoy/internal/expressions"
)

// newValidateCommand creates the "validate" subcommand that checks a pipeline
// definition without running it. Validation needs no database or vault key.
func newValidateCommand(opts *Options) *cobra.Command {
	return &cobra.Command{
		Use:   "validate <pipeline.yaml>",
		Short: "Validate a pipeline definition",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()

			def, err := definition.Load(args[0])
			if err != nil {
				return &ExitError{Code: exitDefinition, Err: err}
			}

			registry := actions.NewRegistry()
			if err := actions.RegisterBuiltins(registry, actions.RunnerConfig{}); err != nil {
				return err
			}
			cel, err := expressions.NewCELEngine()
			if err != nil {
				return err
			}
			validator, err := definition.NewValidator(registry, cel)
			if err != nil {
				return err
			}

			result := validator.Validate(def)
			for _, warning := range result.Warnings {
				fmt.Fprintf(out, "warning: %s: %s\n", warning.Path, warning.Message)
			}
			if !result.Valid() {
				for _, issue := range result.Errors {
					fmt.Fprintf(out, "error: %s: %s\n", issue.Path, issue.Message)
				}
				fmt.Fprintf(out, "%s: invalid (%d errors)\n", args[0], len(result.Errors))
				return &ExitError{Code: exitDefinition}
			}

			fmt.Fprintf(out, "%s: valid (%d stages)\n", args[0], len(def.Stages))
			return nil
		},
	}
}
