package main

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/bigkaa/goartstore/file-service/internal/database"
)

func newMigrateCommand() *cobra.Command {
	var down int

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Применить миграции БД (или откатить --down N)",
		RunE: func(_ *cobra.Command, _ []string) error {
			cfg, logger, err := loadConfig()
			if err != nil {
				return err
			}

			if down > 0 {
				if err := database.MigrateDown(cfg, down, logger); err != nil {
					return fmt.Errorf("откат миграций: %w", err)
				}
			} else if err := database.Migrate(cfg, logger); err != nil {
				return fmt.Errorf("применение миграций: %w", err)
			}

			version, dirty, err := database.MigrationVersion(cfg)
			if err != nil {
				return fmt.Errorf("версия схемы: %w", err)
			}
			logger.Info("Схема БД",
				slog.Uint64("version", uint64(version)),
				slog.Bool("dirty", dirty),
			)
			return nil
		},
	}

	cmd.Flags().IntVar(&down, "down", 0, "откатить N последних миграций")
	return cmd
}
