package cmd

import (
	"github.com/spf13/cobra"

	"github.com/colossusbot/modwatch/internal/datastore"
	"github.com/colossusbot/modwatch/internal/logger"
)

func migrateCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply the database schema",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			settings, log, err := setup(opts, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			db, err := datastore.Open(&settings.Database, log)
			if err != nil {
				return err
			}
			defer func() {
				if err := datastore.Close(db); err != nil {
					log.Warn("failed to close database", logger.Error(err))
				}
			}()
			if err := datastore.Migrate(db); err != nil {
				return err
			}
			log.Info("schema migrated", logger.String("driver", settings.Database.Driver))
			return nil
		},
	}
}
