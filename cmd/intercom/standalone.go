package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/intercom-mesh/intercom/internal/config"
	"github.com/intercom-mesh/intercom/internal/daemon"
	"github.com/intercom-mesh/intercom/internal/domain"
	"github.com/intercom-mesh/intercom/internal/hub"
	"github.com/intercom-mesh/intercom/internal/hubclient"
	"github.com/intercom-mesh/intercom/internal/policy"
	"github.com/intercom-mesh/intercom/internal/registry"
	"github.com/intercom-mesh/intercom/internal/router"
)

func newStandaloneCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "standalone",
		Short: "Run a Hub and a single Daemon in one process, for a single-machine setup",
		RunE:  runStandalone,
	}
}

// runStandalone wires a Hub and its one Daemon together directly, skipping
// the network join round-trip: the Daemon is registered straight into the
// Registry as already-approved, using a locally generated token.
func runStandalone(cmd *cobra.Command, _ []string) error {
	cfg, log, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	cfg.Mode = config.ModeStandalone
	if cfg.Hub.Listen == "" {
		cfg.Hub.Listen = ":7700"
	}
	if cfg.Machine.Listen == "" {
		cfg.Machine.Listen = ":7701"
	}
	if cfg.Hub.URL == "" {
		cfg.Hub.URL = "http://127.0.0.1" + cfg.Hub.Listen
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
	h := hub.New("hub", reg, engine, rt, consoleAdapter, log)
	if err := h.Start(ctx, cfg.Hub.Listen); err != nil {
		return configErr(err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = h.Stop(shutdownCtx)
	}()

	token, err := selfApprove(ctx, reg, cfg)
	if err != nil {
		return configErr(err)
	}

	hc := hubclient.New(cfg.Hub.URL, cfg.Machine.ID, token)
	d, err := daemon.New(cfg.Machine.ID, cfg.AgentLauncher, hc, log)
	if err != nil {
		return configErr(err)
	}
	d.SetToken(token)
	if err := d.Start(ctx, cfg.Machine.Listen); err != nil {
		return configErr(err)
	}

	cron, err := d.StartHeartbeat(ctx, cfg.Machine.OverlayIP, cfg.Hub.URL+cfg.Machine.Listen)
	if err != nil {
		return configErr(err)
	}
	defer cron.Stop()

	log.Info("standalone started", "hub_listen", cfg.Hub.Listen, "machine_listen", cfg.Machine.Listen)
	<-ctx.Done()
	log.Info("standalone shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return d.Stop(shutdownCtx)
}

// selfApprove registers this standalone's one daemon directly into the
// Registry as already-approved, bypassing the operator-console join flow
// that a networked Hub/Daemon pair would otherwise go through.
func selfApprove(ctx context.Context, reg *registry.Registry, cfg *config.Config) (string, error) {
	m := domain.Machine{
		ID:          cfg.Machine.ID,
		DisplayName: cfg.Machine.DisplayName,
		OverlayIP:   cfg.Machine.OverlayIP,
		DaemonURL:   cfg.Hub.URL + cfg.Machine.Listen,
		Status:      domain.MachineStatusPending,
	}
	if err := reg.RegisterMachine(ctx, m); err != nil {
		return "", fmt.Errorf("register standalone machine: %w", err)
	}

	bootstrap := cfg.Auth.Token
	if bootstrap == "" {
		bootstrap = uuid.NewString()
	}
	token, err := reg.ApproveJoin(ctx, cfg.Machine.ID, bootstrap)
	if err != nil {
		return "", fmt.Errorf("approve standalone machine: %w", err)
	}
	return token, nil
}
