package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/intercom-mesh/intercom/internal/daemon"
)

// newCheckInboxCmd implements `intercom check-inbox`, which a child agent's
// prompt hook calls directly against the local inbox directory — no Hub or
// Daemon HTTP round-trip, since the inbox file already lives on this
// machine's disk (spec.md leaves the exact hook output format unspecified;
// "hook" here emits one human-readable line per message, "json" emits the
// drained messages verbatim for a caller that wants to parse them).
func newCheckInboxCmd() *cobra.Command {
	c := &cobra.Command{
		Use:   "check-inbox",
		Short: "Drain a session's pending inbox messages",
		RunE:  runCheckInbox,
	}
	c.Flags().String("session", "", "session id to drain")
	c.Flags().String("inbox-dir", "inbox", "inbox directory (must match the daemon's agent_launcher.inbox_dir)")
	c.Flags().String("format", "hook", "output format: hook or json")
	return c
}

func runCheckInbox(cmd *cobra.Command, _ []string) error {
	sessionID, _ := cmd.Flags().GetString("session")
	inboxDir, _ := cmd.Flags().GetString("inbox-dir")
	format, _ := cmd.Flags().GetString("format")
	if sessionID == "" {
		return configErr(fmt.Errorf("--session is required"))
	}
	if format != "hook" && format != "json" {
		return configErr(fmt.Errorf("--format must be hook or json, got %q", format))
	}

	store, err := daemon.NewInboxStore(inboxDir)
	if err != nil {
		return configErr(err)
	}

	messages, err := store.Drain(sessionID)
	if err != nil {
		return configErr(err)
	}

	if format == "json" {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(messages)
	}

	for _, m := range messages {
		thread := m.ThreadID
		if thread == "" {
			thread = "-"
		}
		fmt.Printf("[%s] from %s (thread %s): %s\n", m.Timestamp.Format("15:04:05"), m.FromAgent, thread, m.Message)
	}
	return nil
}
