// Package hub implements the Hub's HTTP surface (spec §6): join/approval,
// heartbeat, agent discovery, message routing, and mission/feedback queries.
// It wires the Registry, policy Engine, Router, and operator console adapter
// together as explicit collaborators on a Hub struct — no package-level
// singletons (spec §9).
package hub

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/intercom-mesh/intercom/internal/auth"
	"github.com/intercom-mesh/intercom/internal/console"
	"github.com/intercom-mesh/intercom/internal/domain"
	"github.com/intercom-mesh/intercom/internal/middleware"
	"github.com/intercom-mesh/intercom/internal/policy"
	"github.com/intercom-mesh/intercom/internal/registry"
	"github.com/intercom-mesh/intercom/internal/router"
)

// Version is the Hub's version string returned by /api/discover.
const Version = "1.0"

// sessionSummary is the presence snapshot a daemon last reported for one of
// its sessions (spec §4.7's heartbeat body), kept in memory only.
type sessionSummary struct {
	SessionID string `json:"session_id"`
	Project   string `json:"project"`
	Status    string `json:"status"`
	Summary   string `json:"summary,omitempty"`
}

// Hub bundles the collaborators a running Hub process needs. One instance
// per process; Registry is the only durable member.
type Hub struct {
	MachineID string
	Registry  *registry.Registry
	Policy    *policy.Engine
	Router    *router.Router
	Console   console.Adapter
	Logger    *slog.Logger

	server *http.Server

	mu       sync.Mutex
	presence map[string][]sessionSummary // machine_id -> last reported sessions
}

// New creates a Hub. machineID identifies this Hub instance in /api/discover
// responses (distinct from any daemon machine id).
func New(machineID string, reg *registry.Registry, pol *policy.Engine, rt *router.Router, consoleAdapter console.Adapter, logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		MachineID: machineID,
		Registry:  reg,
		Policy:    pol,
		Router:    rt,
		Console:   consoleAdapter,
		Logger:    logger,
		presence:  make(map[string][]sessionSummary),
	}
}

// Start binds addr and begins serving in a background goroutine, following
// the teacher's HTTPChannel.Start lifecycle: listen first so the bound
// address is known immediately, serve asynchronously, shut down on ctx done.
func (h *Hub) Start(ctx context.Context, addr string) error {
	h.server = &http.Server{
		Addr:              addr,
		Handler:           h.routes(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		BaseContext: func(net.Listener) context.Context {
			return ctx
		},
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("hub: listen %s: %w", addr, err)
	}

	go func() {
		h.Logger.Info("hub listening", "addr", ln.Addr().String())
		if err := h.server.Serve(ln); err != nil && err != http.ErrServerClosed {
			h.Logger.Error("hub server error", "error", err)
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := h.server.Shutdown(shutdownCtx); err != nil {
			h.Logger.Error("hub shutdown error", "error", err)
		}
	}()

	return nil
}

// Stop gracefully shuts down the HTTP server.
func (h *Hub) Stop(ctx context.Context) error {
	if h.server == nil {
		return nil
	}
	return h.server.Shutdown(ctx)
}

func (h *Hub) routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/health", h.handleHealth)
	mux.HandleFunc("GET /api/discover", h.handleDiscover)
	mux.HandleFunc("POST /api/join", h.handleJoin)
	mux.HandleFunc("GET /api/join/status/{machine_id}", h.handleJoinStatus)

	mux.HandleFunc("POST /api/heartbeat", h.requireSignature(h.handleHeartbeat))
	mux.HandleFunc("POST /api/register", h.requireSignature(h.handleRegister))
	mux.HandleFunc("GET /api/agents", h.requireSignature(h.handleAgents))
	mux.HandleFunc("POST /api/route", h.requireSignature(h.handleRoute))
	mux.HandleFunc("GET /api/missions/{id}", h.requireSignature(h.handleMission))
	mux.HandleFunc("POST /api/feedback", h.requireSignature(h.handleFeedback))

	return middleware.SecurityHeaders(h.logRequests(mux))
}

// generateToken mints a fresh per-machine secret at approval time.
func generateToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}

// lookupToken adapts Registry.TokenFor to auth.TokenLookup, used by the
// signed-request middleware.
func (h *Hub) lookupToken(machineID string) (string, bool) {
	return h.Registry.TokenFor(machineID)
}

var _ auth.TokenLookup = (*Hub)(nil).lookupToken
