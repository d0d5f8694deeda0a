package main

import (
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/intercom-mesh/intercom/internal/config"
	"github.com/intercom-mesh/intercom/internal/console"
	"github.com/intercom-mesh/intercom/internal/logger"
)

// loadConfig reads the --config path (shared by every subcommand) and builds
// a logger from its Logger section.
func loadConfig(cmd *cobra.Command) (*config.Config, *slog.Logger, error) {
	path, err := cmd.Flags().GetString("config")
	if err != nil {
		return nil, nil, configErr(err)
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, nil, configErr(err)
	}

	log, closeLog, err := logger.New(cfg.Logger)
	if err != nil {
		return nil, nil, configErr(err)
	}
	cmd.Root().PersistentPostRunE = func(*cobra.Command, []string) error {
		return closeLog()
	}
	return cfg, log, nil
}

// buildConsole selects the operator-console adapter named by cfg.Telegram
// (a bot token present means Telegram), falling back to a no-op adapter that
// auto-approves joins once-scoped — the same default the teacher's own
// channel adapters fall back to when unconfigured.
func buildConsole(cfg *config.Config, log *slog.Logger) console.Adapter {
	if cfg.Telegram.Token == "" {
		return console.NewNoop()
	}
	tg := console.NewTelegram(cfg.Telegram.Token, cfg.Telegram.GroupID, cfg.Telegram.OwnerID, log)
	return tg
}
