package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var (
	// Global flags
	dbPath       string
	definitions  string
	policiesDir  string
	bindingsPath string
	actor        string
	verbose      bool
	jsonOutput   bool
)

// Execute runs the root command
func Execute(ctx context.Context, version, commit, buildDate string) error {
	rootCmd := newRootCommand(version, commit, buildDate)
	return rootCmd.ExecuteContext(ctx)
}

func newRootCommand(version, commit, buildDate string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "loom",
		Short: "Recordloom - Schema-Driven Record Engine",
		Long: `Recordloom is a low-code record platform core: user-defined models with
typed properties, constraint validation, workflow state machines, guided
multi-entity wizards, and a fully revertible change history.

Features:
  - Models, rulesets, workflows, and wizards defined in YAML, checked via CUE
  - Constraint validation with reusable regex rulesets and uniqueness
  - Workflow state machines with declared transitions
  - Multi-step wizards with atomic commit and cross-step value mappings
  - Append-only changelog with field-level diffs and revert
  - Role-based permissions via OPA/rego policies`,
		Version: fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildDate),
	}

	// Persistent flags available to all commands
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", "./data/loom.db", "SQLite database path")
	rootCmd.PersistentFlags().StringVarP(&definitions, "definitions", "D", "./definitions", "definition directory (models, workflows, wizards, rulesets)")
	rootCmd.PersistentFlags().StringVar(&policiesDir, "policies", "", "extra rego policy directory")
	rootCmd.PersistentFlags().StringVar(&bindingsPath, "bindings", "", "role bindings JSON file")
	rootCmd.PersistentFlags().StringVarP(&actor, "actor", "u", "local", "acting user ID for mutations and permission checks")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose output")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "output in JSON format")

	// Add subcommands
	rootCmd.AddCommand(newInitCommand())
	rootCmd.AddCommand(newValidateCommand())
	rootCmd.AddCommand(newModelsCommand())
	rootCmd.AddCommand(newRecordCommand())
	rootCmd.AddCommand(newWizardCommand())
	rootCmd.AddCommand(newWorkflowCommand())
	rootCmd.AddCommand(newHistoryCommand())
	rootCmd.AddCommand(newRevertCommand())
	rootCmd.AddCommand(newMigrateCommand())
	rootCmd.AddCommand(newWatchCommand())

	return rootCmd
}
