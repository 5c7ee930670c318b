package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/recordloom/recordloom/pkg/engine"
)

func newRecordCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "record",
		Short: "Create, edit, and inspect records",
	}

	cmd.AddCommand(newRecordCreateCommand())
	cmd.AddCommand(newRecordGetCommand())
	cmd.AddCommand(newRecordListCommand())
	cmd.AddCommand(newRecordUpdateCommand())
	cmd.AddCommand(newRecordDeleteCommand())
	cmd.AddCommand(newRecordRestoreCommand())
	cmd.AddCommand(newRecordTransitionCommand())
	cmd.AddCommand(newRecordCheckCommand())

	return cmd
}

func newRecordCreateCommand() *cobra.Command {
	var (
		jsonValues string
		setPairs   []string
	)

	cmd := &cobra.Command{
		Use:   "create <model>",
		Short: "Create a record",
		Long: `Create a record of the given model. Unset properties with default
expressions are filled before validation; the record enters its workflow's
initial state when the model has one.`,
		Example: `  # Create from key=value pairs
  loom record create contact --set name=Ada --set email=ada@example.com

  # Create from a JSON document
  loom record create contact --values '{"name": "Ada", "email": "ada@example.com"}'

  # Create from a file
  loom record create contact --values @contact.json`,
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
			values, err := parseValues(jsonValues, setPairs)
			if err != nil {
				return err
			}

			entity, err := a.service.CreateEntity(ctx, actor, modelID, values)
			if err != nil {
				return err
			}

			if done, err := printResult(entity); done || err != nil {
				return err
			}
			fmt.Printf("✓ Created %s (state: %s)\n", entity.ID, stateOrNone(entity))
			return nil
		},
	}

	cmd.Flags().StringVar(&jsonValues, "values", "", "property values as JSON (inline or @file)")
	cmd.Flags().StringArrayVar(&setPairs, "set", nil, "property value as key=value (repeatable)")

	return cmd
}

func newRecordGetCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "get <entity-id>",
		Short: "Show a record",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := openApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close(ctx)

			entity, err := a.service.GetEntity(ctx, args[0])
			if err != nil {
				return err
			}

			if done, err := printResult(entity); done || err != nil {
				return err
			}
			printEntity(entity)
			return nil
		},
	}

	return cmd
}

func newRecordListCommand() *cobra.Command {
	var includeDeleted bool

	cmd := &cobra.Command{
		Use:   "list <model>",
		Short: "List records of a model",
		Args:  cobra.ExactArgs(1),
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

			entities, err := a.service.ListEntities(ctx, modelID, includeDeleted)
			if err != nil {
				return err
			}

			if done, err := printResult(entities); done || err != nil {
				return err
			}

			fmt.Printf("%-38s %-12s %-8s %s\n", "ID", "STATE", "DELETED", "UPDATED")
			for _, e := range entities {
				fmt.Printf("%-38s %-12s %-8v %s\n", e.ID, stateOrNone(e), e.Deleted, e.UpdatedAt.Format("2006-01-02 15:04:05"))
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&includeDeleted, "deleted", false, "include soft-deleted records")

	return cmd
}

func newRecordUpdateCommand() *cobra.Command {
	var (
		jsonValues string
		setPairs   []string
	)

	cmd := &cobra.Command{
		Use:   "update <entity-id>",
		Short: "Update a record",
		Long: `Update a record by merging the given values over its current ones.
Properties not mentioned keep their values. The merged set is validated
before anything is written.`,
		Example: `  loom record update 9f3c... --set email=new@example.com`,
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := openApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close(ctx)

			values, err := parseValues(jsonValues, setPairs)
			if err != nil {
				return err
			}

			entity, err := a.service.UpdateEntity(ctx, actor, args[0], values)
			if err != nil {
				return err
			}

			if done, err := printResult(entity); done || err != nil {
				return err
			}
			fmt.Printf("✓ Updated %s\n", entity.ID)
			return nil
		},
	}

	cmd.Flags().StringVar(&jsonValues, "values", "", "property values as JSON (inline or @file)")
	cmd.Flags().StringArrayVar(&setPairs, "set", nil, "property value as key=value (repeatable)")

	return cmd
}

func newRecordDeleteCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "delete <entity-id>",
		Short: "Soft-delete a record",
		Long: `Soft-delete a record. The row is kept so history stays revertible;
deleted records drop out of listings and uniqueness checks and cannot be
edited until restored.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := openApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close(ctx)

			if err := a.service.SoftDeleteEntity(ctx, actor, args[0]); err != nil {
				return err
			}
			fmt.Printf("✓ Deleted %s\n", args[0])
			return nil
		},
	}

	return cmd
}

func newRecordRestoreCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "restore <entity-id>",
		Short: "Restore a soft-deleted record",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := openApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close(ctx)

			entity, err := a.service.RestoreEntity(ctx, actor, args[0])
			if err != nil {
				return err
			}

			if done, err := printResult(entity); done || err != nil {
				return err
			}
			fmt.Printf("✓ Restored %s\n", entity.ID)
			return nil
		},
	}

	return cmd
}

func newRecordTransitionCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "transition <entity-id> <state-id>",
		Short: "Move a record to another workflow state",
		Long: `Move a record to another state of its model's workflow. The move must
be a declared transition from the record's current state.`,
		Example: `  loom record transition 9f3c... active`,
		Args:    cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := openApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close(ctx)

			entity, err := a.service.TransitionEntity(ctx, actor, args[0], args[1])
			if err != nil {
				return err
			}

			if done, err := printResult(entity); done || err != nil {
				return err
			}
			fmt.Printf("✓ %s is now in state %s\n", entity.ID, entity.StateID)
			return nil
		},
	}

	return cmd
}

func newRecordCheckCommand() *cobra.Command {
	var (
		jsonValues string
		setPairs   []string
		existing   string
	)

	cmd := &cobra.Command{
		Use:   "check <model>",
		Short: "Validate values without writing anything",
		Long: `Validate a candidate value set against a model and report every
failure, the way a form would. Nothing is written.`,
		Example: `  loom record check contact --set name= --set email=nope`,
		Args:    cobra.ExactArgs(1),
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
			values, err := parseValues(jsonValues, setPairs)
			if err != nil {
				return err
			}

			result, err := a.service.ValidateValues(ctx, modelID, values, existing)
			if err != nil {
				return err
			}

			if done, err := printResult(result); done || err != nil {
				return err
			}
			if result.Valid {
				fmt.Println("✓ Values are valid")
				return nil
			}
			for _, f := range result.Failures {
				fmt.Printf("✗ %s: %s\n", f.Property, f.Message)
			}
			return engine.NewValidationError("", "%d validation failure(s)", len(result.Failures))
		},
	}

	cmd.Flags().StringVar(&jsonValues, "values", "", "property values as JSON (inline or @file)")
	cmd.Flags().StringArrayVar(&setPairs, "set", nil, "property value as key=value (repeatable)")
	cmd.Flags().StringVar(&existing, "existing", "", "entity ID to exempt from uniqueness checks")

	return cmd
}

func stateOrNone(e *engine.Entity) string {
	if e.StateID == "" {
		return "-"
	}
	return e.StateID
}

func printEntity(e *engine.Entity) {
	fmt.Printf("ID:      %s\n", e.ID)
	fmt.Printf("Model:   %s\n", e.ModelID)
	fmt.Printf("State:   %s\n", stateOrNone(e))
	fmt.Printf("Owner:   %s\n", e.OwnerID)
	fmt.Printf("Deleted: %v\n", e.Deleted)
	fmt.Printf("Values:\n")
	for k, v := range e.Values {
		fmt.Printf("  %s: %v\n", k, v)
	}
}
