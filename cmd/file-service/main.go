// Точка входа File Service — сервиса хранения файловых вложений.
// Команды: serve (по умолчанию), migrate, reclaim, version.
// Переменные окружения могут задаваться в файле .env (--env-file).
package main

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/bigkaa/goartstore/file-service/internal/config"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		slog.Error("Ошибка выполнения команды", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var envFile string

	serve := newServeCommand()

	cmd := &cobra.Command{
		Use:           "file-service",
		Short:         "File Service — хранилище файловых вложений",
		SilenceErrors: true,
		SilenceUsage:  true,
		Version:       config.Version,

		PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
			return loadEnvFile(envFile)
		},
		RunE: serve.RunE,
	}

	cmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "файл с переменными окружения FS_*")

	cmd.AddCommand(
		serve,
		newMigrateCommand(),
		newReclaimCommand(),
		newVersionCommand(),
	)
	return cmd
}

// loadEnvFile загружает .env, не перезаписывая уже заданные переменные.
// Отсутствие файла ошибкой не считается.
func loadEnvFile(path string) error {
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("загрузка %s: %w", path, err)
	}
	return nil
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Показать версию",
		Run: func(cmd *cobra.Command, _ []string) {
			cmd.Println(config.Version)
		},
	}
}

// loadConfig загружает конфигурацию и настраивает логгер.
func loadConfig() (*config.Config, *slog.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("ошибка загрузки конфигурации: %w", err)
	}
	return cfg, config.SetupLogger(cfg), nil
}
