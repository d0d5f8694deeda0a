package daemon

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/intercom-mesh/intercom/internal/auth"
	"github.com/intercom-mesh/intercom/internal/config"
	"github.com/intercom-mesh/intercom/internal/domain"
	"github.com/intercom-mesh/intercom/internal/hubclient"
)

func testDaemon(t *testing.T) (*Daemon, *httptest.Server) {
	t.Helper()
	cfg := config.AgentLauncherConfig{
		DefaultCommand:     "true",
		MaxMissionDuration: 5 * time.Second,
		InboxDir:           t.TempDir(),
	}
	hc := hubclient.New("http://hub.invalid", "box1", "tok-1")
	d, err := New("box1", cfg, hc, nil)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	d.SetToken("tok-1")
	srv := httptest.NewServer(d.routes())
	t.Cleanup(srv.Close)
	return d, srv
}

func signedRequest(t *testing.T, srv *httptest.Server, method, path, machineID, token string, body any) *http.Response {
	t.Helper()
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			t.Fatalf("Marshal() error = %v", err)
		}
	}
	headers := auth.Sign(method, path, payload, token, machineID, time.Now())
	req, err := http.NewRequest(method, srv.URL+path, bytes.NewReader(payload))
	if err != nil {
		t.Fatalf("NewRequest() error = %v", err)
	}
	headers.Apply(req.Header.Set)
	resp, err := srv.Client().Do(req)
	if err != nil {
		t.Fatalf("Do() error = %v", err)
	}
	return resp
}

func TestDaemonDiscoverIsUnauthenticated(t *testing.T) {
	_, srv := testDaemon(t)
	resp, err := http.Get(srv.URL + "/discover")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
}

func TestDaemonRejectsUnsignedMissionStart(t *testing.T) {
	_, srv := testDaemon(t)
	resp, err := http.Post(srv.URL+"/mission/start", "application/json", bytes.NewReader([]byte(`{}`)))
	if err != nil {
		t.Fatalf("Post() error = %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", resp.StatusCode)
	}
}

func TestDaemonSessionRegisterAndDeliver(t *testing.T) {
	d, srv := testDaemon(t)

	reg := signedRequest(t, srv, http.MethodPost, "/session/register", "box1", "tok-1", sessionRegisterRequest{
		SessionID: "s1",
		ProjectID: "home",
		PID:       os.Getpid(),
	})
	reg.Body.Close()
	if reg.StatusCode != http.StatusOK {
		t.Fatalf("register status = %d, want 200", reg.StatusCode)
	}

	deliver := signedRequest(t, srv, http.MethodPost, "/session/deliver", "box1", "tok-1", sessionDeliverRequest{
		ToProject: "home",
		ThreadID:  "t1",
		FromAgent: "box2/other",
		Message:   "hello",
	})
	defer deliver.Body.Close()
	if deliver.StatusCode != http.StatusOK {
		t.Fatalf("deliver status = %d, want 200", deliver.StatusCode)
	}
	var out sessionDeliverResponse
	_ = json.NewDecoder(deliver.Body).Decode(&out)
	if out.Status != domain.RouteDelivered {
		t.Fatalf("Status = %v, want delivered", out.Status)
	}

	pending, err := d.Inbox.Pending("s1")
	if err != nil {
		t.Fatalf("Pending() error = %v", err)
	}
	if pending != 1 {
		t.Fatalf("Pending() = %d, want 1", pending)
	}
}

func TestDaemonSessionDeliverNoActiveSessionReturns404(t *testing.T) {
	_, srv := testDaemon(t)
	resp := signedRequest(t, srv, http.MethodPost, "/session/deliver", "box1", "tok-1", sessionDeliverRequest{
		ToProject: "ghost",
		FromAgent: "box2/other",
		Message:   "hello",
	})
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", resp.StatusCode)
	}
}

func TestDaemonMissionStartRejectsPathOutsideAllowList(t *testing.T) {
	d, srv := testDaemon(t)
	d.Cfg.AllowedPaths = []string{t.TempDir()}
	d.Super = NewSupervisor(d.Cfg, nil)

	resp := signedRequest(t, srv, http.MethodPost, "/mission/start", "box1", "tok-1", missionStartRequest{
		FromAgent: "box2/other",
		ToProject: "home",
		Prompt:    "do it",
		Cwd:       "/not/allowed",
	})
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
}
