package router

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sony/gobreaker/v2"

	"github.com/intercom-mesh/intercom/internal/auth"
	"github.com/intercom-mesh/intercom/internal/domain"
)

// startAgentRequest is the body POSTed to a daemon's /mission/start.
type startAgentRequest struct {
	MissionID    string   `json:"mission_id"`
	FromAgent    string   `json:"from_agent"`
	ToProject    string   `json:"to_project"`
	Prompt       string   `json:"prompt"`
	Cwd          string   `json:"cwd,omitempty"`
	AllowedPaths []string `json:"allowed_paths,omitempty"`
}

// startAgentResponse is the daemon's reply to /mission/start.
type startAgentResponse struct {
	MissionID string `json:"mission_id"`
}

// deliverRequest is the body POSTed to a daemon's /session/deliver.
type deliverRequest struct {
	ToProject string `json:"to_project"`
	FromAgent string `json:"from_agent"`
	ThreadID  string `json:"thread_id"`
	Message   string `json:"message"`
}

// deliverResponse is the daemon's reply to /session/deliver.
type deliverResponse struct {
	Status domain.RouteStatus `json:"status"`
}

// DaemonClient is the Hub's signed HTTP client to a single daemon, wrapped in
// a circuit breaker so a wedged daemon cannot stall the whole router (spec §5:
// "a single unreachable daemon must not block routing to other daemons").
type DaemonClient struct {
	machineID string
	token     string
	daemonURL string
	client    *http.Client
	breaker   *gobreaker.CircuitBreaker[*http.Response]
}

// NewDaemonClient builds a client for one target daemon. token is the shared
// secret the Hub signs outbound calls with — the same token the Registry
// issued to that machine on approval, since the channel is bidirectional and
// both sides hold the one secret.
func NewDaemonClient(machineID, token, daemonURL string, timeout time.Duration) *DaemonClient {
	settings := gobreaker.Settings{
		Name:        "daemon:" + machineID,
		MaxRequests: 1,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
	}
	return &DaemonClient{
		machineID: machineID,
		token:     token,
		daemonURL: daemonURL,
		client:    &http.Client{Timeout: timeout},
		breaker:   gobreaker.NewCircuitBreaker[*http.Response](settings),
	}
}

func (c *DaemonClient) signedRequest(ctx context.Context, method, path string, body []byte) (*http.Response, error) {
	headers := auth.Sign(method, path, body, c.token, c.machineID, time.Now())

	return c.breaker.Execute(func() (*http.Response, error) {
		req, err := http.NewRequestWithContext(ctx, method, c.daemonURL+path, bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		headers.Apply(req.Header.Set)

		resp, err := c.client.Do(req)
		if err != nil {
			return nil, err
		}
		if resp.StatusCode >= 500 {
			resp.Body.Close()
			return nil, fmt.Errorf("daemon %s: status %d", c.machineID, resp.StatusCode)
		}
		return resp, nil
	})
}

// StartAgent dispatches an ask/send mission start to the daemon.
func (c *DaemonClient) StartAgent(ctx context.Context, req startAgentRequest) (startAgentResponse, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return startAgentResponse{}, err
	}
	resp, err := c.signedRequest(ctx, http.MethodPost, "/mission/start", body)
	if err != nil {
		return startAgentResponse{}, wrapUnreachable(err)
	}
	defer resp.Body.Close()

	var out startAgentResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return startAgentResponse{}, domain.NewDomainError("DaemonClient.StartAgent", domain.ErrInternal, err.Error())
	}
	return out, nil
}

// Deliver hands a chat/reply message to the daemon's active-session inbox.
func (c *DaemonClient) Deliver(ctx context.Context, req deliverRequest) (deliverResponse, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return deliverResponse{}, err
	}
	resp, err := c.signedRequest(ctx, http.MethodPost, "/session/deliver", body)
	if err != nil {
		return deliverResponse{}, wrapUnreachable(err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return deliverResponse{}, domain.NewDomainError("DaemonClient.Deliver", domain.ErrInternal, err.Error())
	}
	if resp.StatusCode == http.StatusNotFound {
		return deliverResponse{Status: domain.RouteNoActiveSession}, nil
	}
	var out deliverResponse
	if err := json.Unmarshal(respBody, &out); err != nil {
		return deliverResponse{}, domain.NewDomainError("DaemonClient.Deliver", domain.ErrInternal, err.Error())
	}
	return out, nil
}

func wrapUnreachable(err error) error {
	return domain.NewDomainError("DaemonClient", domain.ErrUnreachable, err.Error())
}
