package hub

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/intercom-mesh/intercom/internal/domain"
	"github.com/intercom-mesh/intercom/internal/registry"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	code := domain.ErrorCodeOf(err)
	writeJSON(w, domain.HTTPStatus(code), map[string]string{
		"error": string(code),
		"detail": err.Error(),
	})
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, domain.NewDomainError("Hub.decodeJSON", domain.ErrBadEnvelope, err.Error()))
		return false
	}
	return true
}

func (h *Hub) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Hub) handleDiscover(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"hub":        true,
		"version":    Version,
		"machine_id": h.MachineID,
	})
}

type joinRequest struct {
	MachineID   string `json:"machine_id"`
	DisplayName string `json:"display_name"`
	OverlayIP   string `json:"overlay_ip"`
	DaemonURL   string `json:"daemon_url,omitempty"`
}

type joinResponse struct {
	Status domain.MachineStatus `json:"status"`
	Token  string               `json:"token,omitempty"`
}

// handleJoin is unauthenticated (spec §4.1: empty token is valid only for
// /discover and the first /join call). An already-approved machine rejoining
// gets its existing token back immediately; a new or denied machine is
// registered pending and the operator is asked asynchronously so the HTTP
// call itself never blocks on a chat round trip.
func (h *Hub) handleJoin(w http.ResponseWriter, r *http.Request) {
	var req joinRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.MachineID == "" {
		writeError(w, domain.NewDomainError("Hub.handleJoin", domain.ErrBadEnvelope, "machine_id required"))
		return
	}

	ctx := r.Context()
	if m, err := h.Registry.GetMachine(ctx, req.MachineID); err == nil && m.Status == domain.MachineStatusApproved {
		writeJSON(w, http.StatusOK, joinResponse{Status: domain.MachineStatusApproved, Token: m.Token})
		return
	}

	m := domain.Machine{
		ID:          req.MachineID,
		DisplayName: req.DisplayName,
		OverlayIP:   req.OverlayIP,
		DaemonURL:   req.DaemonURL,
		Status:      domain.MachineStatusPending,
	}
	if err := h.Registry.RegisterMachine(ctx, m); err != nil {
		writeError(w, err)
		return
	}

	go h.resolveJoin(req.MachineID, req.DisplayName, req.OverlayIP)

	writeJSON(w, http.StatusOK, joinResponse{Status: domain.MachineStatusPending})
}

// resolveJoin runs the operator round trip outside the request's lifetime.
func (h *Hub) resolveJoin(machineID, displayName, overlayIP string) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	approved, err := h.Console.AnnounceJoin(ctx, machineID, displayName, overlayIP)
	if err != nil {
		return // no operator decision: the join stays pending
	}
	if !approved {
		_ = h.Registry.DenyJoin(context.Background(), machineID)
		return
	}

	token, err := generateToken()
	if err != nil {
		_ = h.Registry.DenyJoin(context.Background(), machineID)
		return
	}
	_, _ = h.Registry.ApproveJoin(context.Background(), machineID, token)
}

type joinStatusResponse struct {
	Status domain.MachineStatus `json:"status"`
	Token  string               `json:"token,omitempty"`
}

func (h *Hub) handleJoinStatus(w http.ResponseWriter, r *http.Request) {
	machineID := r.PathValue("machine_id")
	m, err := h.Registry.GetMachine(r.Context(), machineID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, joinStatusResponse{Status: m.Status, Token: m.Token})
}

type heartbeatRequest struct {
	MachineID      string           `json:"machine_id"`
	OverlayIP      string           `json:"overlay_ip"`
	DaemonURL      string           `json:"daemon_url"`
	ActiveSessions []sessionSummary `json:"active_sessions"`
}

func (h *Hub) handleHeartbeat(w http.ResponseWriter, r *http.Request) {
	var req heartbeatRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	machineID := machineIDFromContext(r.Context())

	if err := h.Registry.UpdateHeartbeat(r.Context(), machineID, &req.OverlayIP, &req.DaemonURL); err != nil {
		writeError(w, err)
		return
	}

	h.mu.Lock()
	h.presence[machineID] = req.ActiveSessions
	h.mu.Unlock()

	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

type projectManifest struct {
	ProjectID   string   `json:"project_id"`
	Description string   `json:"description,omitempty"`
	Caps        []string `json:"caps,omitempty"`
	Path        string   `json:"path,omitempty"`
}

type registerRequest struct {
	DisplayName string            `json:"display_name,omitempty"`
	Projects    []projectManifest `json:"projects"`
}

func (h *Hub) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	machineID := machineIDFromContext(r.Context())

	for _, p := range req.Projects {
		proj := domain.Project{
			MachineID:   machineID,
			ProjectID:   p.ProjectID,
			Description: p.Description,
			Caps:        p.Caps,
			Path:        p.Path,
		}
		if err := h.Registry.RegisterProject(r.Context(), proj); err != nil {
			writeError(w, err)
			return
		}
	}

	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

type agentEntry struct {
	MachineID string              `json:"machine_id"`
	ProjectID string              `json:"project_id"`
	Status    domain.MachineStatus `json:"status"`
	Online    bool                `json:"online"`
	Session   *sessionSummary     `json:"session,omitempty"`
}

func (h *Hub) handleAgents(w http.ResponseWriter, r *http.Request) {
	filter := r.URL.Query().Get("filter")
	var query registry.AgentFilter
	switch {
	case filter == "" || filter == "all":
	case filter == "online":
		query.Online = true
	case strings.HasPrefix(filter, "machine:"):
		query.MachineID = strings.TrimPrefix(filter, "machine:")
	default:
		writeError(w, domain.NewDomainError("Hub.handleAgents", domain.ErrBadEnvelope, "unrecognised filter"))
		return
	}

	summaries, err := h.Registry.ListAgents(r.Context(), query)
	if err != nil {
		writeError(w, err)
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	agents := make([]agentEntry, 0, len(summaries))
	for _, s := range summaries {
		entry := agentEntry{MachineID: s.MachineID, ProjectID: s.ProjectID, Status: s.Status, Online: s.Online}
		for _, sess := range h.presence[s.MachineID] {
			if sess.Project == s.ProjectID {
				sess := sess
				entry.Session = &sess
				break
			}
		}
		agents = append(agents, entry)
	}
	writeJSON(w, http.StatusOK, map[string]any{"agents": agents})
}

func (h *Hub) handleRoute(w http.ResponseWriter, r *http.Request) {
	machineID := machineIDFromContext(r.Context())
	if !h.Router.Allow(machineID) {
		writeJSON(w, http.StatusTooManyRequests, map[string]string{"error": "RATE_LIMITED"})
		return
	}

	var msg domain.Message
	if !decodeJSON(w, r, &msg) {
		return
	}

	result, err := h.Router.Route(r.Context(), msg)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

type missionResponse struct {
	Status   domain.MissionStatus   `json:"status"`
	Output   string                 `json:"output,omitempty"`
	Feedback []domain.FeedbackItem  `json:"feedback"`
}

func (h *Hub) handleMission(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	mission, err := h.Router.Mission(id)
	if err != nil {
		writeError(w, err)
		return
	}

	var since int64
	if v := r.URL.Query().Get("feedback_since"); v != "" {
		if n, perr := strconv.ParseInt(v, 10, 64); perr == nil {
			since = n
		}
	}

	resp := missionResponse{Status: mission.Status, Feedback: mission.FeedbackSince(since)}
	for i := len(mission.Feedback) - 1; i >= 0; i-- {
		if mission.Feedback[i].Kind == domain.FeedbackText {
			resp.Output = mission.Feedback[i].Text
			break
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

type feedbackRequest struct {
	Kind        string `json:"kind"`
	Description string `json:"description"`
	FromAgent   string `json:"from_agent"`
}

func (h *Hub) handleFeedback(w http.ResponseWriter, r *http.Request) {
	var req feedbackRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	h.Console.NotifyFeedback(r.Context(), req.Kind, req.FromAgent+": "+req.Description)
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}
