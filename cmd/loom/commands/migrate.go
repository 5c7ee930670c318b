package commands

import (
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/recordloom/recordloom/pkg/stores"
)

func newMigrateCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations",
		Long: `Apply any pending schema migrations to the SQLite database. Running
against an up-to-date database is a no-op.`,
		Example: `  loom migrate --db ./data/loom.db`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			log.Info().Str("db", dbPath).Msg("Running migrations")

			store, err := stores.NewSQLiteStore(stores.Config{Path: dbPath})
			if err != nil {
				return err
			}
			defer store.Close()

			if err := store.Init(ctx); err != nil {
				return err
			}
			if err := store.Migrate(ctx); err != nil {
				return err
			}

			fmt.Printf("✓ Database %s is up to date\n", dbPath)
			return nil
		},
	}

	return cmd
}
