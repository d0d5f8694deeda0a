package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/intercom-mesh/intercom/internal/config"
	"github.com/intercom-mesh/intercom/internal/daemon"
	"github.com/intercom-mesh/intercom/internal/domain"
	"github.com/intercom-mesh/intercom/internal/hubclient"
)

func newDaemonCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "daemon",
		Short: "Run the Daemon: joins the Hub, supervises child agents, delivers inbox messages",
		RunE:  runDaemon,
	}
}

func runDaemon(cmd *cobra.Command, _ []string) error {
	cfg, log, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	cfg.Mode = config.ModeDaemon
	if err := config.Validate(cfg); err != nil {
		return configErr(err)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	hc := hubclient.New(cfg.Hub.URL, cfg.Machine.ID, cfg.Auth.Token)
	token, err := joinHub(ctx, hc, cfg)
	if err != nil {
		return authErr(err)
	}
	hc.SetToken(token)

	d, err := daemon.New(cfg.Machine.ID, cfg.AgentLauncher, hc, log)
	if err != nil {
		return configErr(err)
	}
	d.SetToken(token)

	if err := d.Start(ctx, cfg.Machine.Listen); err != nil {
		return configErr(err)
	}

	cron, err := d.StartHeartbeat(ctx, cfg.Machine.OverlayIP, cfg.Machine.DaemonURL)
	if err != nil {
		return configErr(err)
	}
	defer cron.Stop()

	log.Info("daemon started", "machine_id", cfg.Machine.ID, "listen", cfg.Machine.Listen)
	<-ctx.Done()
	log.Info("daemon shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return d.Stop(shutdownCtx)
}

// joinHub performs the bootstrap join handshake (spec §4.2): submit a join
// request signed with the shared bootstrap secret, then poll join status
// until the operator approves (or denies) it, returning the Registry-issued
// token on approval.
func joinHub(ctx context.Context, hc *hubclient.Client, cfg *config.Config) (string, error) {
	_, err := hc.Join(ctx, hubclient.JoinRequest{
		MachineID:   cfg.Machine.ID,
		DisplayName: cfg.Machine.DisplayName,
		OverlayIP:   cfg.Machine.OverlayIP,
		DaemonURL:   cfg.Machine.DaemonURL,
	})
	if err != nil {
		return "", fmt.Errorf("join hub: %w", err)
	}

	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()
	for {
		status, err := hc.JoinStatus(ctx)
		if err != nil {
			return "", fmt.Errorf("poll join status: %w", err)
		}
		switch status.Status {
		case domain.MachineStatusApproved:
			return status.Token, nil
		case domain.MachineStatusDenied, domain.MachineStatusRevoked:
			return "", fmt.Errorf("join denied by operator")
		}

		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-ticker.C:
		}
	}
}
