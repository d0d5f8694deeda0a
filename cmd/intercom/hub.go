package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/intercom-mesh/intercom/internal/config"
	"github.com/intercom-mesh/intercom/internal/hub"
	"github.com/intercom-mesh/intercom/internal/policy"
	"github.com/intercom-mesh/intercom/internal/registry"
	"github.com/intercom-mesh/intercom/internal/router"
)

func newHubCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "hub",
		Short: "Run the Hub: machine registry, policy engine, and message router",
		RunE:  runHub,
	}
}

func runHub(cmd *cobra.Command, _ []string) error {
	cfg, log, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	cfg.Mode = config.ModeHub
	if err := config.Validate(cfg); err != nil {
		return configErr(err)
	}

	reg, err := registry.Open(cfg.Hub.RegistryDB)
	if err != nil {
		return configErr(err)
	}
	defer reg.Close()

	pol, err := config.LoadPolicy(cfg.Hub.PolicyFile)
	if err != nil {
		return configErr(err)
	}

	consoleAdapter := buildConsole(cfg, log)

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if tg, ok := consoleAdapter.(stoppableConsole); ok {
		tg.Start(ctx)
		defer tg.Stop()
	}

	engine := policy.New(pol)
	rt := router.New(reg, engine, consoleAdapter, router.Config{})
	h := hub.New(cfg.Machine.ID, reg, engine, rt, consoleAdapter, log)

	if err := h.Start(ctx, cfg.Hub.Listen); err != nil {
		return configErr(err)
	}

	log.Info("hub started", "listen", cfg.Hub.Listen)
	<-ctx.Done()
	log.Info("hub shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return h.Stop(shutdownCtx)
}

// stoppableConsole narrows the console adapters that need an explicit
// Start/Stop lifecycle (the Telegram long-poller); Noop has neither.
type stoppableConsole interface {
	Start(ctx context.Context)
	Stop()
}
