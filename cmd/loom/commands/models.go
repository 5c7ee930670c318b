package commands

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"
)

func newModelsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "models",
		Short: "List registered models",
		Long: `List the models loaded from the definitions directory, with their
property counts and attached workflows.`,
		Example: `  loom models
  loom models --json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			tel, err := newCLITelemetry()
			if err != nil {
				return err
			}
			registry, err := loadRegistry(ctx, tel.Logger.Zerolog())
			if err != nil {
				return err
			}

			models := registry.Models()
			sort.Slice(models, func(i, j int) bool { return models[i].Name < models[j].Name })

			if done, err := printResult(models); done || err != nil {
				return err
			}

			if len(models) == 0 {
				fmt.Println("No models registered. Run 'loom init' or point --definitions at a definition directory.")
				return nil
			}

			fmt.Printf("%-20s %-20s %-10s %s\n", "NAME", "ID", "PROPS", "WORKFLOW")
			for _, m := range models {
				wf := "-"
				if m.WorkflowID != "" {
					wf = m.WorkflowID
					if w, ok := registry.Workflow(m.WorkflowID); ok {
						wf = w.Name
					}
				}
				fmt.Printf("%-20s %-20s %-10d %s\n", m.Name, m.ID, len(m.Properties), wf)
			}
			return nil
		},
	}

	return cmd
}
