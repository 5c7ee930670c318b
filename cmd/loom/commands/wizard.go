package commands

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
)

func newWizardCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "wizard",
		Short: "Run multi-step wizards",
	}

	cmd.AddCommand(newWizardStartCommand())
	cmd.AddCommand(newWizardStepCommand())
	cmd.AddCommand(newWizardStatusCommand())

	return cmd
}

func newWizardStartCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "start <wizard-id>",
		Short: "Start a wizard run",
		Long: `Start a run of the given wizard. Steps are then submitted one at a
time, in order; nothing is written to the record store until the final step
commits the whole run.`,
		Example: `  loom wizard start wz-onboard`,
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := openApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close(ctx)

			run, err := a.wizards.StartRun(ctx, actor, args[0])
			if err != nil {
				return err
			}

			if done, err := printResult(run); done || err != nil {
				return err
			}
			fmt.Printf("✓ Started run %s\n", run.ID)
			fmt.Printf("Submit the first step with:\n")
			fmt.Printf("  loom wizard step %s 0 --set <property>=<value>\n", run.ID)
			return nil
		},
	}

	return cmd
}

func newWizardStepCommand() *cobra.Command {
	var (
		jsonValues string
		setPairs   []string
		lookup     string
	)

	cmd := &cobra.Command{
		Use:   "step <run-id> <index>",
		Short: "Submit one wizard step",
		Long: `Submit the step at the given index. Steps must arrive in order; the
engine rejects anything but the next expected index. Create steps take
property values, lookup steps take --lookup with an existing entity ID.

Submitting the final step commits the run: every planned entity is created
in one transaction, or none if any of them fails validation.`,
		Example: `  # Submit a create step
  loom wizard step 4be1... 0 --set name=Ada --set email=ada@example.com

  # Submit a lookup step referencing an existing record
  loom wizard step 4be1... 0 --lookup 9f3c...`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			index, err := strconv.Atoi(args[1])
			if err != nil {
				return fmt.Errorf("invalid step index %q", args[1])
			}

			a, err := openApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close(ctx)

			values, err := parseValues(jsonValues, setPairs)
			if err != nil {
				return err
			}

			result, err := a.wizards.SubmitStep(ctx, actor, args[0], index, values, lookup)
			if err != nil {
				return err
			}

			if done, err := printResult(result); done || err != nil {
				return err
			}
			if result.IsFinalStep {
				fmt.Printf("✓ Run committed; created %d entities:\n", len(result.CreatedEntityIDs))
				for _, id := range result.CreatedEntityIDs {
					fmt.Printf("  %s\n", id)
				}
				return nil
			}
			fmt.Printf("✓ Step %d accepted\n", index)
			return nil
		},
	}

	cmd.Flags().StringVar(&jsonValues, "values", "", "step values as JSON (inline or @file)")
	cmd.Flags().StringArrayVar(&setPairs, "set", nil, "step value as key=value (repeatable)")
	cmd.Flags().StringVar(&lookup, "lookup", "", "existing entity ID for a lookup step")

	return cmd
}

func newWizardStatusCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status <run-id>",
		Short: "Show a wizard run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := openApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close(ctx)

			run, err := a.wizards.GetRun(ctx, args[0])
			if err != nil {
				return err
			}

			if done, err := printResult(run); done || err != nil {
				return err
			}
			fmt.Printf("Run:     %s\n", run.ID)
			fmt.Printf("Wizard:  %s\n", run.WizardID)
			fmt.Printf("User:    %s\n", run.UserID)
			fmt.Printf("Status:  %s\n", run.Status)
			fmt.Printf("At step: %d\n", run.CurrentStepIndex)
			return nil
		},
	}

	return cmd
}
