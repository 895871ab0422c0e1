package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	_ "github.com/joho/godotenv/autoload"
	"github.com/spf13/cobra"

	"github.com/carelink/agent-portal/internal/config"
	"github.com/carelink/agent-portal/internal/dbmigrate"
	"github.com/carelink/agent-portal/internal/logging"
)

func main() {
	rootCmd := &cobra.Command{
		Use:          "migrate",
		Short:        "Apply or inspect the reporting schema migrations",
		SilenceUsage: true,
	}

	var dir string
	rootCmd.PersistentFlags().StringVar(&dir, "dir", "", "read migrations from this directory instead of the embedded set")

	for _, c := range []struct{ command, short string }{
		{dbmigrate.CommandUp, "Apply pending migrations"},
		{dbmigrate.CommandDown, "Roll back the latest migration"},
		{dbmigrate.CommandStatus, "Show migration status"},
	} {
		command := c.command
		rootCmd.AddCommand(&cobra.Command{
			Use:   command,
			Short: c.short,
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return run(cmd.Context(), command, dir)
			},
		})
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		stop()
		os.Exit(1)
	}
}

func run(ctx context.Context, command, dir string) error {
	cfg := config.Load()
	logger := logging.New(cfg.Env, cfg.LogLevel).With().Str("component", "migrate").Logger()

	sel, err := dbmigrate.SelectDatabaseURL(cfg, false)
	if err != nil {
		return err
	}
	if sel.Warning != "" {
		logger.Warn().Msg(sel.Warning)
	}
	logger.Info().Str("command", command).Str("using", sel.Source).Msg("running migrations")

	if err := dbmigrate.Run(ctx, command, sel.URL, dir, logger); err != nil {
		logger.Error().Err(err).Msg("migration failed")
		return err
	}
	logger.Info().Str("command", command).Msg("migration completed")
	return nil
}
