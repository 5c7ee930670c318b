package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newWorkflowCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "workflow",
		Short: "Manage model workflow bindings",
	}

	cmd.AddCommand(newWorkflowAssignCommand())
	cmd.AddCommand(newWorkflowDetachCommand())

	return cmd
}

func newWorkflowAssignCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "assign <model> <workflow-id>",
		Short: "Assign a workflow to a model",
		Long: `Assign a workflow to a model. Every existing record of the model,
deleted ones included, is reset to the workflow's initial state, and each
reset is audited as a state change.

Note: the binding itself lives in the definition files; update the model's
workflow there as well or the next load will restore the old binding.`,
		Example: `  loom workflow assign contact wf-lifecycle`,
		Args:    cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := openApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close(ctx)

			modelID, err := resolveModelID(a.registry, args[0])
			if err != nil {
				return err
			}

			if err := a.service.ReassignWorkflow(ctx, actor, modelID, args[1]); err != nil {
				return err
			}
			fmt.Printf("✓ Model %s now uses workflow %s; existing records reset to its initial state\n", args[0], args[1])
			return nil
		},
	}

	return cmd
}

func newWorkflowDetachCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "detach <model>",
		Short: "Detach a model's workflow",
		Long: `Detach the model's workflow. Records keep their current state IDs;
they simply stop being subject to transition checks until a workflow is
assigned again.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := openApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close(ctx)

			modelID, err := resolveModelID(a.registry, args[0])
			if err != nil {
				return err
			}

			if err := a.service.ReassignWorkflow(ctx, actor, modelID, ""); err != nil {
				return err
			}
			fmt.Printf("✓ Model %s detached from its workflow\n", args[0])
			return nil
		},
	}

	return cmd
}
