package cli

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
)

// newSecretCommand creates the "secret" subcommand group managing vault entries.
func newSecretCommand(opts *Options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "secret",
		Short: "Manage vault credentials",
	}

	cmd.AddCommand(
		newSecretSetCommand(opts),
		newSecretRemoveCommand(opts),
		newSecretListCommand(opts),
	)

	return cmd
}

func newSecretSetCommand(opts *Options) *cobra.Command {
	var fromFile string

	cmd := &cobra.Command{
		Use:   "set <id> [value]",
		Short: "Store credential material in the vault",
		Long:  "Store credential material under an identifier. The value comes from the argument, --from-file, or stdin. For username_password credentials use the form user:pass.",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := loggerFromContext(cmd.Context())

			material, err := readSecretMaterial(cmd, args, fromFile)
			if err != nil {
				return err
			}

			a, err := newApp(cmd.Context(), opts, logger, true)
			if err != nil {
				return err
			}
			defer a.close()

			if err := a.vault.Store(cmd.Context(), args[0], material); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "stored secret %q\n", args[0])
			return nil
		},
	}

	cmd.Flags().StringVar(&fromFile, "from-file", "", "Read the secret material from a file (e.g. a kubeconfig)")

	return cmd
}

func readSecretMaterial(cmd *cobra.Command, args []string, fromFile string) ([]byte, error) {
	switch {
	case fromFile != "":
		if len(args) > 1 {
			return nil, fmt.Errorf("provide either a value argument or --from-file, not both")
		}
		return os.ReadFile(fromFile)
	case len(args) > 1:
		return []byte(args[1]), nil
	default:
		// Piped stdin, so secrets need not appear in shell history.
		data, err := io.ReadAll(cmd.InOrStdin())
		if err != nil {
			return nil, fmt.Errorf("read secret from stdin: %w", err)
		}
		if len(data) == 0 {
			return nil, fmt.Errorf("no secret material provided")
		}
		return data, nil
	}
}

func newSecretRemoveCommand(opts *Options) *cobra.Command {
	return &cobra.Command{
		Use:     "rm <id>",
		Aliases: []string{"remove", "delete"},
		Short:   "Delete a credential from the vault",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := loggerFromContext(cmd.Context())

			a, err := newApp(cmd.Context(), opts, logger, true)
			if err != nil {
				return err
			}
			defer a.close()

			if err := a.vault.Delete(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "deleted secret %q\n", args[0])
			return nil
		},
	}
}

func newSecretListCommand(opts *Options) *cobra.Command {
	return &cobra.Command{
		Use:     "ls",
		Aliases: []string{"list"},
		Short:   "List credential identifiers (never values)",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			logger := loggerFromContext(cmd.Context())

			a, err := newApp(cmd.Context(), opts, logger, true)
			if err != nil {
				return err
			}
			defer a.close()

			ids, err := a.vault.List(cmd.Context())
			if err != nil {
				return err
			}
			if len(ids) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "no secrets stored")
				return nil
			}
			for _, id := range ids {
				fmt.Fprintln(cmd.OutOrStdout(), id)
			}
			return nil
		},
	}
}
