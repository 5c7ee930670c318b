package commands

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/recordloom/recordloom/pkg/stores"
)

const sampleDefinitions = `# Sample Recordloom definitions. One file may hold
# several documents; registration order does not matter.
kind: ruleset
spec:
  id: rs-email
  name: email
  pattern: "^[^@\\s]+@[^@\\s]+\\.[^@\\s]+$"
---
kind: workflow
spec:
  id: wf-lifecycle
  name: lifecycle
  states:
    - id: draft
      name: Draft
      initial: true
    - id: active
      name: Active
    - id: archived
      name: Archived
  transitions:
    - from: draft
      to: active
    - from: active
      to: archived
    - from: archived
      to: active
---
kind: model
spec:
  id: m-contact
  name: contact
  workflow: wf-lifecycle
  properties:
    - id: p-name
      name: name
      type: string
      required: true
    - id: p-email
      name: email
      type: string
      ruleset: email
      unique: true
    - id: p-notes
      name: notes
      type: string
      default: '""'
---
kind: wizard
spec:
  id: wz-onboard
  name: onboard
  steps:
    - model: m-contact
      type: create
      properties: [name, email]
`

const sampleBindings = `{
  "admin": {"roles": ["admin"]},
  "local": {"superuser": true}
}
`

func newInitCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Initialize a Recordloom workspace",
		Long: `Initialize a new Recordloom workspace: data directory, SQLite database
with migrations applied, a sample definition file, and a role bindings file.`,
		Example: `  # Initialize in the current directory
  loom init

  # Initialize with a custom database location
  loom init --db /var/lib/loom/loom.db`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			log.Info().Str("db", dbPath).Str("definitions", definitions).Msg("Initializing workspace")

			dataDir := filepath.Dir(dbPath)
			for _, dir := range []string{dataDir, definitions} {
				if err := os.MkdirAll(dir, 0700); err != nil {
					return fmt.Errorf("failed to create directory %s: %w", dir, err)
				}
				fmt.Printf("✓ Created directory: %s\n", dir)
			}

			store, err := stores.NewSQLiteStore(stores.Config{Path: dbPath})
			if err != nil {
				return fmt.Errorf("failed to create store: %w", err)
			}
			defer store.Close()
			if err := store.Init(ctx); err != nil {
				return fmt.Errorf("failed to initialize store: %w", err)
			}
			if err := store.Migrate(ctx); err != nil {
				return fmt.Errorf("failed to run migrations: %w", err)
			}
			fmt.Printf("✓ Initialized SQLite database: %s\n", dbPath)

			samplePath := filepath.Join(definitions, "sample.yaml")
			if _, err := os.Stat(samplePath); os.IsNotExist(err) {
				if err := os.WriteFile(samplePath, []byte(sampleDefinitions), 0644); err != nil {
					return fmt.Errorf("failed to write sample definitions: %w", err)
				}
				fmt.Printf("✓ Created sample definitions: %s\n", samplePath)
			} else {
				fmt.Printf("✓ Definitions already exist: %s\n", samplePath)
			}

			bindings := bindingsPath
			if bindings == "" {
				bindings = filepath.Join(dataDir, "bindings.json")
			}
			if _, err := os.Stat(bindings); os.IsNotExist(err) {
				if err := os.WriteFile(bindings, []byte(sampleBindings), 0644); err != nil {
					return fmt.Errorf("failed to write bindings: %w", err)
				}
				fmt.Printf("✓ Created role bindings: %s\n", bindings)
			}

			fmt.Printf("\n✅ Workspace initialized successfully!\n\n")
			fmt.Printf("Next steps:\n")
			fmt.Printf("  1. Check the definitions:\n")
			fmt.Printf("     loom validate\n\n")
			fmt.Printf("  2. Create a record:\n")
			fmt.Printf("     loom record create contact --set name=Ada --set email=ada@example.com\n\n")

			return nil
		},
	}

	return cmd
}
