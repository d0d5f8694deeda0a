package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/intercom-mesh/intercom/internal/auth"
	"github.com/intercom-mesh/intercom/internal/config"
	"github.com/intercom-mesh/intercom/internal/domain"
	"github.com/intercom-mesh/intercom/internal/hubclient"
)

// newToolServerCmd builds the tool-server verb tree a child agent process
// invokes (as a CLI, not over HTTP — spec.md scopes the wire protocol for
// these operations to the Hub's own API, so the CLI here is a thin client
// over hubclient talking to that API on the agent's behalf).
func newToolServerCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "tool-server",
		Short: "Per-agent tool verbs: list_agents, send, ask, chat, reply, status, history, start_agent, report_feedback",
	}
	root.AddCommand(
		newToolVerbCmd("list_agents", "List known agents", runListAgents),
		newToolVerbCmd("register", "Announce this agent's session to the local daemon", runRegister),
		newToolVerbCmd("send", "Send a one-shot message (no reply expected)", runSend),
		newToolVerbCmd("ask", "Send a request that expects a reply (returns once the mission is dispatched)", runAsk),
		newToolVerbCmd("chat", "Open or continue a chat thread", runChat),
		newToolVerbCmd("reply", "Reply within an existing thread", runReply),
		newToolVerbCmd("status", "Query a mission's status", runStatus),
		newToolVerbCmd("history", "Fetch a mission's feedback log", runHistory),
		newToolVerbCmd("start_agent", "Launch a child agent mission on a remote daemon", runStartAgent),
		newToolVerbCmd("report_feedback", "Post an out-of-band note to the operator console", runReportFeedback),
	)
	return root
}

func newToolVerbCmd(use, short string, run func(ctx context.Context, hc *hubclient.Client, cfg *config.Config, cmd *cobra.Command) error) *cobra.Command {
	c := &cobra.Command{Use: use, Short: short}
	c.Flags().String("to", "", "target agent, as machine_id/project_id")
	c.Flags().String("from", "", "source agent, as machine_id/project_id (defaults to this machine's home project)")
	c.Flags().String("message", "", "message text")
	c.Flags().String("thread", "", "thread id")
	c.Flags().String("prompt", "", "mission prompt")
	c.Flags().String("cwd", "", "mission working directory")
	c.Flags().String("mission", "", "mission id")
	c.Flags().Int64("since", 0, "feedback cursor to fetch history from")
	c.Flags().String("filter", "", "agents filter: all, online, or machine:<id>")
	c.Flags().String("kind", "info", "feedback kind")
	c.Flags().String("session", "", "session id")
	c.Flags().String("project", "", "project id this session belongs to")
	c.Flags().Int("pid", 0, "OS process id of this session (defaults to the caller's own pid)")
	c.Flags().String("summary", "", "free-text session summary")
	c.Flags().String("daemon-addr", "", "local daemon base URL (defaults to http://127.0.0.1<machine.listen>)")
	c.Flags().String("token", "", "daemon signing token (defaults to $INTERCOM_DAEMON_TOKEN)")
	c.RunE = func(cmd *cobra.Command, _ []string) error {
		cfg, _, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		hc := hubclient.New(cfg.Hub.URL, cfg.Machine.ID, cfg.Auth.Token)
		return run(cmd.Context(), hc, cfg, cmd)
	}
	return c
}

func fromAgent(cmd *cobra.Command, cfg *config.Config) string {
	if v, _ := cmd.Flags().GetString("from"); v != "" {
		return v
	}
	return cfg.Machine.ID + "/" + domain.HomeProjectID
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func runListAgents(ctx context.Context, hc *hubclient.Client, _ *config.Config, cmd *cobra.Command) error {
	filter, _ := cmd.Flags().GetString("filter")
	agents, err := hc.Agents(ctx, filter)
	if err != nil {
		return configErr(err)
	}
	return printJSON(agents)
}

func runSend(ctx context.Context, hc *hubclient.Client, cfg *config.Config, cmd *cobra.Command) error {
	return routeAndPrint(ctx, hc, cfg, cmd, domain.MessageSend)
}

func runAsk(ctx context.Context, hc *hubclient.Client, cfg *config.Config, cmd *cobra.Command) error {
	return routeAndPrint(ctx, hc, cfg, cmd, domain.MessageAsk)
}

func runChat(ctx context.Context, hc *hubclient.Client, cfg *config.Config, cmd *cobra.Command) error {
	return routeAndPrint(ctx, hc, cfg, cmd, domain.MessageChat)
}

func runReply(ctx context.Context, hc *hubclient.Client, cfg *config.Config, cmd *cobra.Command) error {
	return routeAndPrint(ctx, hc, cfg, cmd, domain.MessageReply)
}

func routeAndPrint(ctx context.Context, hc *hubclient.Client, cfg *config.Config, cmd *cobra.Command, kind domain.MessageType) error {
	to, _ := cmd.Flags().GetString("to")
	message, _ := cmd.Flags().GetString("message")
	thread, _ := cmd.Flags().GetString("thread")
	if to == "" {
		return configErr(fmt.Errorf("--to is required"))
	}
	payload := domain.Payload{Message: message, ThreadID: thread}
	if kind == domain.MessageAsk || kind == domain.MessageSend {
		payload = domain.Payload{Prompt: message}
	}
	result, err := hc.Route(ctx, domain.Message{
		From:    fromAgent(cmd, cfg),
		To:      to,
		Type:    kind,
		Payload: payload,
	})
	if err != nil {
		return configErr(err)
	}
	return printJSON(result)
}

func runStartAgent(ctx context.Context, hc *hubclient.Client, cfg *config.Config, cmd *cobra.Command) error {
	to, _ := cmd.Flags().GetString("to")
	prompt, _ := cmd.Flags().GetString("prompt")
	cwd, _ := cmd.Flags().GetString("cwd")
	if to == "" || prompt == "" {
		return configErr(fmt.Errorf("--to and --prompt are required"))
	}
	result, err := hc.Route(ctx, domain.Message{
		From: fromAgent(cmd, cfg),
		To:   to,
		Type: domain.MessageStartAgent,
		Payload: domain.Payload{
			Prompt: prompt,
			Cwd:    cwd,
		},
	})
	if err != nil {
		return configErr(err)
	}
	return printJSON(result)
}

func runStatus(ctx context.Context, hc *hubclient.Client, _ *config.Config, cmd *cobra.Command) error {
	missionID, _ := cmd.Flags().GetString("mission")
	since, _ := cmd.Flags().GetInt64("since")
	if missionID == "" {
		return configErr(fmt.Errorf("--mission is required"))
	}
	resp, err := hc.Mission(ctx, missionID, since)
	if err != nil {
		return configErr(err)
	}
	return printJSON(resp)
}

func runHistory(ctx context.Context, hc *hubclient.Client, cfg *config.Config, cmd *cobra.Command) error {
	return runStatus(ctx, hc, cfg, cmd)
}

// runRegister announces a new active session directly to the local daemon's
// HTTP surface (spec §4.6: "child agent's tool-server announces a new active
// session") rather than via the Hub — a session lives and dies on one
// machine, so there is no routing decision to make.
func runRegister(ctx context.Context, _ *hubclient.Client, cfg *config.Config, cmd *cobra.Command) error {
	sessionID, _ := cmd.Flags().GetString("session")
	project, _ := cmd.Flags().GetString("project")
	pid, _ := cmd.Flags().GetInt("pid")
	summary, _ := cmd.Flags().GetString("summary")
	if sessionID == "" || project == "" {
		return configErr(fmt.Errorf("--session and --project are required"))
	}
	if pid == 0 {
		pid = os.Getpid()
	}

	body := struct {
		SessionID string `json:"session_id"`
		ProjectID string `json:"project_id"`
		PID       int    `json:"pid"`
		Summary   string `json:"summary,omitempty"`
	}{SessionID: sessionID, ProjectID: project, PID: pid, Summary: summary}

	return postLocalDaemon(ctx, cfg, cmd, "/session/register", body, nil)
}

func daemonAddr(cfg *config.Config, cmd *cobra.Command) string {
	if v, _ := cmd.Flags().GetString("daemon-addr"); v != "" {
		return v
	}
	return "http://127.0.0.1" + cfg.Machine.Listen
}

func daemonToken(cmd *cobra.Command) string {
	if v, _ := cmd.Flags().GetString("token"); v != "" {
		return v
	}
	return os.Getenv("INTERCOM_DAEMON_TOKEN")
}

// postLocalDaemon issues a signed POST to this machine's own daemon — used by
// tool-server verbs that are local to one machine rather than routed through
// the Hub.
func postLocalDaemon(ctx context.Context, cfg *config.Config, cmd *cobra.Command, path string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return configErr(err)
	}
	token := daemonToken(cmd)
	if token == "" {
		return authErr(fmt.Errorf("no daemon token: set --token or $INTERCOM_DAEMON_TOKEN"))
	}
	headers := auth.Sign(http.MethodPost, path, payload, token, cfg.Machine.ID, time.Now())

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, daemonAddr(cfg, cmd)+path, bytes.NewReader(payload))
	if err != nil {
		return configErr(err)
	}
	req.Header.Set("Content-Type", "application/json")
	headers.Apply(req.Header.Set)

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return configErr(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusUnauthorized {
		return authErr(fmt.Errorf("daemon rejected signature"))
	}
	if resp.StatusCode >= 400 {
		return configErr(fmt.Errorf("daemon returned %d", resp.StatusCode))
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func runReportFeedback(ctx context.Context, hc *hubclient.Client, cfg *config.Config, cmd *cobra.Command) error {
	message, _ := cmd.Flags().GetString("message")
	kind, _ := cmd.Flags().GetString("kind")
	if message == "" {
		return configErr(fmt.Errorf("--message is required"))
	}
	err := hc.ReportFeedback(ctx, hubclient.FeedbackRequest{
		Kind:        kind,
		Description: message,
		FromAgent:   fromAgent(cmd, cfg),
	})
	if err != nil {
		return configErr(err)
	}
	return nil
}
