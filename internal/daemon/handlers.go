package daemon

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/intercom-mesh/intercom/internal/domain"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	code := domain.ErrorCodeOf(err)
	writeJSON(w, domain.HTTPStatus(code), map[string]string{
		"error":  string(code),
		"detail": err.Error(),
	})
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, domain.NewDomainError("Daemon.decodeJSON", domain.ErrBadEnvelope, err.Error()))
		return false
	}
	return true
}

func (d *Daemon) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (d *Daemon) handleDiscover(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"hub":        false,
		"machine_id": d.MachineID,
	})
}

type missionStartRequest struct {
	FromAgent    string   `json:"from_agent"`
	ToProject    string   `json:"to_project"`
	Prompt       string   `json:"prompt"`
	Cwd          string   `json:"cwd,omitempty"`
	AllowedPaths []string `json:"allowed_paths,omitempty"`
}

type missionStartResponse struct {
	MissionID string `json:"mission_id"`
	Status    domain.MissionStatus `json:"status"`
}

// handleMissionStart launches a child agent (spec §4.4/§4.5). The mission id
// returned here is local to this daemon; the caller (the Hub's router) binds
// it to its own mission record via domain.Mission.DaemonMissionID.
func (d *Daemon) handleMissionStart(w http.ResponseWriter, r *http.Request) {
	var req missionStartRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	mission, err := d.Super.Start(r.Context(), req.FromAgent, req.ToProject, req.Prompt, req.Cwd, req.AllowedPaths)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, missionStartResponse{MissionID: mission.ID, Status: mission.Status})
}

type missionGetResponse struct {
	Status     domain.MissionStatus  `json:"status"`
	FailReason string                `json:"fail_reason,omitempty"`
	Feedback   []domain.FeedbackItem `json:"feedback"`
}

func (d *Daemon) handleMissionGet(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	mission, err := d.Super.Mission(id)
	if err != nil {
		writeError(w, err)
		return
	}
	var since int64
	writeJSON(w, http.StatusOK, missionGetResponse{
		Status:     mission.Status,
		FailReason: mission.FailReason,
		Feedback:   mission.FeedbackSince(since),
	})
}

type sessionRegisterRequest struct {
	SessionID string `json:"session_id"`
	ProjectID string `json:"project_id"`
	PID       int    `json:"pid"`
	Summary   string `json:"summary,omitempty"`
}

func (d *Daemon) handleSessionRegister(w http.ResponseWriter, r *http.Request) {
	var req sessionRegisterRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.SessionID == "" || req.ProjectID == "" {
		writeError(w, domain.NewDomainError("Daemon.handleSessionRegister", domain.ErrBadEnvelope, "session_id and project_id required"))
		return
	}

	d.Sessions.Register(domain.Session{
		ID:        req.SessionID,
		ProjectID: req.ProjectID,
		PID:       req.PID,
		InboxPath: d.Inbox.path(req.SessionID),
		Status:    domain.SessionStatusActive,
		Summary:   req.Summary,
	})
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

type sessionUnregisterRequest struct {
	SessionID string `json:"session_id"`
}

func (d *Daemon) handleSessionUnregister(w http.ResponseWriter, r *http.Request) {
	var req sessionUnregisterRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	d.Sessions.Unregister(req.SessionID)
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (d *Daemon) handleSessionsList(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"sessions": d.Sessions.List()})
}

type sessionDeliverRequest struct {
	SessionID string `json:"session_id,omitempty"`
	ToProject string `json:"to_project,omitempty"`
	ThreadID  string `json:"thread_id"`
	FromAgent string `json:"from_agent"`
	Message   string `json:"message"`
}

type sessionDeliverResponse struct {
	Status domain.RouteStatus `json:"status"`
}

// handleSessionDeliver resolves the target session by explicit id or by
// project first-match (spec §4.5), then appends the message to its inbox.
func (d *Daemon) handleSessionDeliver(w http.ResponseWriter, r *http.Request) {
	var req sessionDeliverRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	var (
		session *domain.Session
		err     error
	)
	if req.SessionID != "" {
		session, err = d.Sessions.Get(req.SessionID)
	} else {
		session, err = d.Sessions.FindByProject(req.ToProject)
	}
	if err != nil {
		writeError(w, err)
		return
	}

	msg := domain.InboxMessage{
		ThreadID:  req.ThreadID,
		FromAgent: req.FromAgent,
		Timestamp: time.Now(),
		Message:   req.Message,
	}
	if err := d.Inbox.Append(session.ID, msg); err != nil {
		writeError(w, err)
		return
	}
	d.Sessions.PushActivity(session.ID, domain.ActivityEntry{Timestamp: msg.Timestamp, Summary: "message from " + req.FromAgent})

	writeJSON(w, http.StatusOK, sessionDeliverResponse{Status: domain.RouteDelivered})
}

type sessionStatusResponse struct {
	SessionID     string `json:"session_id"`
	Status        domain.SessionStatus `json:"status"`
	InboxPending  int    `json:"inbox_pending"`
}

func (d *Daemon) handleSessionStatus(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	session, err := d.Sessions.Get(id)
	if err != nil {
		writeError(w, err)
		return
	}
	pending, err := d.Inbox.Pending(id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sessionStatusResponse{SessionID: session.ID, Status: session.Status, InboxPending: pending})
}
