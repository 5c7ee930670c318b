package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/recordloom/recordloom/pkg/engine"
)

func newHistoryCommand() *cobra.Command {
	var (
		limit  int
		offset int
	)

	cmd := &cobra.Command{
		Use:   "history <entity-id>",
		Short: "Show a record's change history",
		Long: `Show a record's changelog, newest first. The changelog is append-only:
every create, update, delete, restore, and revert is one immutable entry,
and reverts reference the entry they undo.`,
		Example: `  loom history 9f3c...
  loom history 9f3c... --limit 10 --json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := openApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close(ctx)

			entries, err := a.service.ListChangelog(ctx, args[0], limit, offset)
			if err != nil {
				return err
			}

			if done, err := printResult(entries); done || err != nil {
				return err
			}

			if len(entries) == 0 {
				fmt.Println("No changelog entries.")
				return nil
			}
			for _, e := range entries {
				printEntry(e)
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 50, "maximum entries to return")
	cmd.Flags().IntVar(&offset, "offset", 0, "entries to skip")

	return cmd
}

func printEntry(e *engine.ChangelogEntry) {
	fmt.Printf("%s  %-14s  %-12s  %s\n", e.Timestamp.Format("2006-01-02 15:04:05"), e.Type, e.Actor, e.ID)
	if e.RevertsID != "" {
		fmt.Printf("    reverts %s\n", e.RevertsID)
	}
	for _, c := range e.Changes {
		if c.TextDiff != "" {
			fmt.Printf("    %s:\n%s\n", c.Property, c.TextDiff)
			continue
		}
		fmt.Printf("    %s: %v -> %v\n", c.Property, c.OldValue, c.NewValue)
	}
}
