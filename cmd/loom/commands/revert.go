package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newRevertCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "revert <entry-id>",
		Short: "Revert one changelog entry",
		Long: `Apply the inverse of a changelog entry: an UPDATE's old values are
written back, a DELETE is restored, a RESTORE is deleted again. The
original entry stays untouched; the revert is appended as its own entry
referencing it.`,
		Example: `  # Find the entry to revert
  loom history 9f3c...

  # Undo it
  loom revert chg-7a21...`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := openApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close(ctx)

			entry, err := a.service.RevertChange(ctx, actor, args[0])
			if err != nil {
				return err
			}

			if done, err := printResult(entry); done || err != nil {
				return err
			}
			fmt.Printf("✓ Reverted %s (%s entry %s appended)\n", args[0], entry.Type, entry.ID)
			return nil
		},
	}

	return cmd
}
