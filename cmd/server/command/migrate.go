package command

import (
	"github.com/spf13/cobra"

	"parkeaya/internal/config"
	"parkeaya/internal/log"
	"parkeaya/internal/repository"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply the database schema",
	Long: `Apply the embedded database schema. Every statement is
idempotent, so running it against an up to date database is safe.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		db, err := openDB(cmd.Context(), cfg.DatabaseURL)
		if err != nil {
			return err
		}
		defer db.Close()

		if err := repository.NewPostgresStore(db).Migrate(cmd.Context()); err != nil {
			return err
		}
		log.Info(cmd.Context(), "schema applied")
		return nil
	},
}
