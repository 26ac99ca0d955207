package main

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/MuistotKartalla/muistot-backend-sub001/internal/app"
	"github.com/MuistotKartalla/muistot-backend-sub001/internal/platform/db/migrations"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping migrations")
		return
	}

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}
	logger := app.NewLogger(cfg)
	dsn := cfg.Database.Pool().DSN()

	if err := newRootCmd(dsn, migrations.Up, migrations.Down, logger).Execute(); err != nil {
		logger.Error("migrate", slog.Any("error", err))
		os.Exit(1)
	}
}

type migrator func(dsn string) error

func newRootCmd(dsn string, up, down migrator, logger *slog.Logger) *cobra.Command {
	root := &cobra.Command{
		Use:           "migrate",
		Short:         "Run database migrations",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(
		directionCmd("up", "Apply all pending migrations", dsn, up, logger),
		directionCmd("down", "Roll back every applied migration", dsn, down, logger),
	)
	return root
}

func directionCmd(direction, short, dsn string, apply migrator, logger *slog.Logger) *cobra.Command {
	return &cobra.Command{
		Use:   direction,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := apply(dsn); err != nil {
				return err
			}
			logger.Info("migrations applied", slog.String("direction", direction))
			return nil
		},
	}
}
