// Package hubclient is the Daemon's signed HTTP client to the Hub (spec
// §4.7): join/heartbeat/discover calls and the outbound half of POST
// /api/route for chat and mission messages this daemon's agents originate.
package hubclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/intercom-mesh/intercom/internal/auth"
	"github.com/intercom-mesh/intercom/internal/domain"
)

// Client is a signed HTTP client bound to one Hub and one machine identity.
// The token starts as the shared bootstrap secret and is swapped for the
// Registry-issued token once JoinStatus reports approved.
type Client struct {
	hubURL    string
	machineID string
	token     string
	client    *http.Client
}

// New creates a hub client. token is the current signing secret: the
// bootstrap shared token before approval, the Registry-issued token after.
func New(hubURL, machineID, token string) *Client {
	return &Client{
		hubURL:    hubURL,
		machineID: machineID,
		token:     token,
		client:    &http.Client{Timeout: 10 * time.Second},
	}
}

// SetToken replaces the signing token, used once ApproveJoin issues the
// Registry-backed secret.
func (c *Client) SetToken(token string) { c.token = token }

// DiscoverResponse is the reply to GET /api/discover.
type DiscoverResponse struct {
	Hub       bool   `json:"hub"`
	Version   string `json:"version"`
	MachineID string `json:"machine_id"`
}

// Discover probes the Hub's identity. Unauthenticated (spec §6).
func (c *Client) Discover(ctx context.Context) (DiscoverResponse, error) {
	var out DiscoverResponse
	err := c.doUnsigned(ctx, http.MethodGet, "/api/discover", nil, &out)
	return out, err
}

// JoinRequest is the body POSTed to /api/join.
type JoinRequest struct {
	MachineID   string `json:"machine_id"`
	DisplayName string `json:"display_name"`
	OverlayIP   string `json:"overlay_ip"`
	DaemonURL   string `json:"daemon_url"`
}

// JoinResponse is the reply to /api/join.
type JoinResponse struct {
	Status domain.MachineStatus `json:"status"`
}

// Join submits a join request, signed with the bootstrap shared token.
func (c *Client) Join(ctx context.Context, req JoinRequest) (JoinResponse, error) {
	var out JoinResponse
	err := c.doSigned(ctx, http.MethodPost, "/api/join", req, &out)
	return out, err
}

// JoinStatusResponse is the reply to GET /api/join/status/{machine_id}.
type JoinStatusResponse struct {
	Status domain.MachineStatus `json:"status"`
	Token  string               `json:"token,omitempty"`
}

// JoinStatus polls whether this machine's join request has been decided.
func (c *Client) JoinStatus(ctx context.Context) (JoinStatusResponse, error) {
	var out JoinStatusResponse
	err := c.doSigned(ctx, http.MethodGet, "/api/join/status/"+c.machineID, nil, &out)
	return out, err
}

// SessionSummary mirrors the Hub's in-memory presence snapshot shape (spec
// §4.7's heartbeat body): one entry per active session this daemon reports.
type SessionSummary struct {
	SessionID string `json:"session_id"`
	Project   string `json:"project"`
	Status    string `json:"status"`
	Summary   string `json:"summary,omitempty"`
}

// HeartbeatRequest is the body POSTed to /api/heartbeat.
type HeartbeatRequest struct {
	MachineID      string           `json:"machine_id"`
	OverlayIP      string           `json:"overlay_ip,omitempty"`
	DaemonURL      string           `json:"daemon_url,omitempty"`
	ActiveSessions []SessionSummary `json:"active_sessions,omitempty"`
}

// Heartbeat refreshes this machine's last-seen timestamp on the Hub.
// Best-effort: callers retry on the next tick rather than blocking.
func (c *Client) Heartbeat(ctx context.Context, req HeartbeatRequest) error {
	return c.doSigned(ctx, http.MethodPost, "/api/heartbeat", req, nil)
}

// Route forwards a message this daemon's agent originated to the Hub's router.
func (c *Client) Route(ctx context.Context, msg domain.Message) (domain.RouteResult, error) {
	var out domain.RouteResult
	err := c.doSigned(ctx, http.MethodPost, "/api/route", msg, &out)
	return out, err
}

// AgentEntry mirrors one entry of GET /api/agents' response.
type AgentEntry struct {
	MachineID string               `json:"machine_id"`
	ProjectID string               `json:"project_id"`
	Status    domain.MachineStatus `json:"status"`
	Online    bool                 `json:"online"`
	Session   *SessionSummary      `json:"session,omitempty"`
}

// Agents lists known agents, optionally narrowed by filter ("", "all",
// "online", or "machine:<id>" — spec §6's GET /api/agents contract).
func (c *Client) Agents(ctx context.Context, filter string) ([]AgentEntry, error) {
	path := "/api/agents"
	if filter != "" {
		path += "?filter=" + filter
	}
	var out struct {
		Agents []AgentEntry `json:"agents"`
	}
	err := c.doSigned(ctx, http.MethodGet, path, nil, &out)
	return out.Agents, err
}

// MissionResponse mirrors GET /api/missions/{id}'s response.
type MissionResponse struct {
	Status   domain.MissionStatus   `json:"status"`
	Output   string                 `json:"output,omitempty"`
	Feedback []domain.FeedbackItem  `json:"feedback"`
}

// Mission fetches a mission's status and feedback log, optionally only the
// entries with cursor greater than feedbackSince.
func (c *Client) Mission(ctx context.Context, missionID string, feedbackSince int64) (MissionResponse, error) {
	path := fmt.Sprintf("/api/missions/%s?feedback_since=%d", missionID, feedbackSince)
	var out MissionResponse
	err := c.doSigned(ctx, http.MethodGet, path, nil, &out)
	return out, err
}

// FeedbackRequest is the body POSTed to /api/feedback.
type FeedbackRequest struct {
	Kind        string `json:"kind"`
	Description string `json:"description"`
	FromAgent   string `json:"from_agent"`
}

// ReportFeedback posts an out-of-band visibility note to the operator console.
func (c *Client) ReportFeedback(ctx context.Context, req FeedbackRequest) error {
	return c.doSigned(ctx, http.MethodPost, "/api/feedback", req, nil)
}

func (c *Client) doSigned(ctx context.Context, method, path string, body, out any) error {
	var payload []byte
	var err error
	if body != nil {
		payload, err = json.Marshal(body)
		if err != nil {
			return err
		}
	}

	headers := auth.Sign(method, path, payload, c.token, c.machineID, time.Now())

	req, err := http.NewRequestWithContext(ctx, method, c.hubURL+path, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	headers.Apply(req.Header.Set)

	return c.do(req, out)
}

func (c *Client) doUnsigned(ctx context.Context, method, path string, body, out any) error {
	var payload []byte
	var err error
	if body != nil {
		payload, err = json.Marshal(body)
		if err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, c.hubURL+path, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.client.Do(req)
	if err != nil {
		return domain.NewDomainError("hubclient", domain.ErrUnreachable, err.Error())
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return domain.NewDomainError("hubclient", domain.ErrInternal, err.Error())
	}
	if resp.StatusCode >= 400 {
		return domain.NewDomainError("hubclient", domain.ErrInternal, fmt.Sprintf("hub returned %d: %s", resp.StatusCode, string(body)))
	}
	if out == nil || len(body) == 0 {
		return nil
	}
	return json.Unmarshal(body, out)
}
