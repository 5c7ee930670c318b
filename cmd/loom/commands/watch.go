package commands

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/recordloom/recordloom/pkg/policy"
	"github.com/recordloom/recordloom/pkg/schema"
)

func newWatchCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Watch definition and policy files and reload on change",
		Long: `Watch the definitions directory (and the policies directory, when one is
configured) and reload on every file change. A reload that fails validation
is logged and skipped, keeping the previous definitions active. Runs until
interrupted.`,
		Example: `  loom watch
  loom watch -D ./definitions --policies ./policies`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := openApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close(ctx)

			if _, err := os.Stat(definitions); err != nil {
				return fmt.Errorf("definitions directory %s not found", definitions)
			}

			if policiesDir != "" {
				go watchPolicies(ctx, a)
				fmt.Printf("Watching policies in %s\n", policiesDir)
			}

			loader, err := schema.NewLoader(a.logger)
			if err != nil {
				return err
			}

			fmt.Printf("Watching definitions in %s (Ctrl+C to stop)\n", definitions)
			err = loader.Watch(ctx, definitions, func(fresh *schema.Registry) error {
				a.registry.ReplaceFrom(fresh)
				a.tel.Metrics.RecordSchemaReload("ok")
				_ = a.tel.Events.PublishSchemaReloaded(definitions,
					len(fresh.Models()), len(fresh.Workflows()), len(fresh.Wizards()))
				fmt.Printf("✓ Definitions reloaded from %s\n", definitions)
				return nil
			})
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		},
	}

	return cmd
}

// watchPolicies reloads the oracle's policy set when a file under the
// policies directory changes.
func watchPolicies(ctx context.Context, a *app) {
	loader := policy.NewLoader(a.logger)
	err := loader.Watch(ctx, []string{policiesDir}, func(policies []policy.Policy) error {
		if err := a.oracle.ReplacePolicies(ctx, policies); err != nil {
			return err
		}
		fmt.Printf("✓ Policies reloaded from %s\n", policiesDir)
		return nil
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		a.logger.Error().Err(err).Msg("Policy watcher stopped")
	}
}
