// Package daemon implements the per-node Daemon process (spec §4): it joins
// the Hub, sends heartbeats on behalf of its active sessions, supervises
// child coding agents, and exposes the session-inbox HTTP surface the Hub's
// router delivers chat and mission messages to.
package daemon

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/intercom-mesh/intercom/internal/config"
	"github.com/intercom-mesh/intercom/internal/hubclient"
	"github.com/intercom-mesh/intercom/internal/middleware"
)

// Daemon bundles the collaborators one daemon process needs: its session
// registry, inbox store, child-agent supervisor, and the Hub client it joins
// and heartbeats through.
type Daemon struct {
	MachineID string
	Cfg       config.AgentLauncherConfig
	Sessions  *SessionRegistry
	Inbox     *InboxStore
	Super     *Supervisor
	Hub       *hubclient.Client
	Logger    *slog.Logger

	server *http.Server

	mu    sync.Mutex
	token string // Registry-issued token, set once join is approved
}

// New creates a Daemon. cfg.InboxDir is created on first use by NewInboxStore.
func New(machineID string, cfg config.AgentLauncherConfig, hubClient *hubclient.Client, logger *slog.Logger) (*Daemon, error) {
	if logger == nil {
		logger = slog.Default()
	}
	inbox, err := NewInboxStore(cfg.InboxDir)
	if err != nil {
		return nil, err
	}
	return &Daemon{
		MachineID: machineID,
		Cfg:       cfg,
		Sessions:  NewSessionRegistry(),
		Inbox:     inbox,
		Super:     NewSupervisor(cfg, logger),
		Hub:       hubClient,
		Logger:    logger,
	}, nil
}

// SetToken records the token this daemon should expect on inbound signed
// requests from the Hub, and propagates it to the outbound Hub client too
// (the Hub signs its calls to a daemon with that daemon's own Registry token).
func (d *Daemon) SetToken(token string) {
	d.mu.Lock()
	d.token = token
	d.mu.Unlock()
	if d.Hub != nil {
		d.Hub.SetToken(token)
	}
}

func (d *Daemon) currentToken() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.token
}

// Start binds addr and begins serving in a background goroutine, mirroring
// the Hub's own listen-then-serve-then-shutdown-on-ctx-done lifecycle.
func (d *Daemon) Start(ctx context.Context, addr string) error {
	d.server = &http.Server{
		Addr:              addr,
		Handler:           d.routes(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		BaseContext: func(net.Listener) context.Context {
			return ctx
		},
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("daemon: listen %s: %w", addr, err)
	}

	go func() {
		d.Logger.Info("daemon listening", "addr", ln.Addr().String())
		if err := d.server.Serve(ln); err != nil && err != http.ErrServerClosed {
			d.Logger.Error("daemon server error", "error", err)
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := d.server.Shutdown(shutdownCtx); err != nil {
			d.Logger.Error("daemon shutdown error", "error", err)
		}
	}()

	return nil
}

// Stop gracefully shuts down the HTTP server.
func (d *Daemon) Stop(ctx context.Context) error {
	if d.server == nil {
		return nil
	}
	return d.server.Shutdown(ctx)
}

func (d *Daemon) routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", d.handleHealth)
	mux.HandleFunc("GET /discover", d.handleDiscover)

	mux.HandleFunc("POST /mission/start", d.requireSignature(d.handleMissionStart))
	mux.HandleFunc("GET /missions/{id}", d.requireSignature(d.handleMissionGet))
	mux.HandleFunc("POST /session/register", d.requireSignature(d.handleSessionRegister))
	mux.HandleFunc("POST /session/unregister", d.requireSignature(d.handleSessionUnregister))
	mux.HandleFunc("GET /sessions", d.requireSignature(d.handleSessionsList))
	mux.HandleFunc("POST /session/deliver", d.requireSignature(d.handleSessionDeliver))
	mux.HandleFunc("GET /session/{id}/status", d.requireSignature(d.handleSessionStatus))

	return middleware.SecurityHeaders(d.logRequests(mux))
}
