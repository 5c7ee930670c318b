package commands

import (
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/recordloom/recordloom/pkg/schema"
)

func newValidateCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate [dir]",
		Short: "Validate definition files",
		Long: `Validate model, ruleset, workflow, and wizard definition files.

Every document is checked against the built-in CUE schemas, decoded, and
registered, which also enforces the semantic rules: unique names, exactly
one initial workflow state, transitions between declared states, and wizard
mappings that only read from earlier steps.`,
		Example: `  # Validate the default definitions directory
  loom validate

  # Validate a specific directory
  loom validate ./staging-definitions`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := definitions
			if len(args) > 0 {
				dir = args[0]
			}

			tel, err := newCLITelemetry()
			if err != nil {
				return err
			}
			logger := tel.Logger.Zerolog()

			loader, err := schema.NewLoader(logger)
			if err != nil {
				return err
			}
			registry := schema.NewRegistry(logger)
			if err := loader.LoadDir(cmd.Context(), registry, dir); err != nil {
				log.Error().Err(err).Str("dir", dir).Msg("Definition validation failed")
				return err
			}

			models := registry.Models()
			if done, err := printResult(summary(registry)); done || err != nil {
				return err
			}
			fmt.Printf("✓ Definitions in %s are valid (%d models)\n", dir, len(models))
			return nil
		},
	}

	return cmd
}

func summary(r *schema.Registry) map[string]any {
	names := make([]string, 0)
	for _, m := range r.Models() {
		names = append(names, m.Name)
	}
	return map[string]any{
		"valid":  true,
		"models": names,
	}
}
