package daemon

import (
	"context"
	"runtime"
	"testing"
	"time"

	"github.com/intercom-mesh/intercom/internal/config"
	"github.com/intercom-mesh/intercom/internal/domain"
)

// shCommand returns an OS-appropriate shell invocation for script, grounded
// on the teacher's cross-platform process-manager test helpers.
func shCommand(script string) (string, []string) {
	if runtime.GOOS == "windows" {
		return "cmd", []string{"/c", script}
	}
	return "sh", []string{"-c", script}
}

func testSupervisor(t *testing.T, cmd string, args []string) *Supervisor {
	t.Helper()
	dir := t.TempDir()
	cfg := config.AgentLauncherConfig{
		DefaultCommand:     cmd,
		DefaultArgs:        args,
		AllowedPaths:       []string{dir},
		MaxMissionDuration: 2 * time.Second,
		InboxDir:           dir,
	}
	return NewSupervisor(cfg, nil)
}

func TestSupervisorRejectsPathOutsideAllowList(t *testing.T) {
	cmd, args := shCommand(`echo '{"type":"turn"}'`)
	sup := testSupervisor(t, cmd, args)

	_, err := sup.Start(context.Background(), "box1/a", "box1/b", "do the thing", "/not/allowed", nil)
	if domain.ErrorCodeOf(err) != domain.CodePathNotAllowed {
		t.Fatalf("ErrorCodeOf(err) = %v, want PATH_NOT_ALLOWED", domain.ErrorCodeOf(err))
	}
}

func TestSupervisorStreamsFeedbackAndCompletes(t *testing.T) {
	script := `echo '{"type":"text","text":"thinking"}'; echo '{"type":"tool_use","tool":"bash","input":"ls -la"}'; echo '{"type":"turn"}'`
	cmd, args := shCommand(script)
	sup := testSupervisor(t, cmd, args)

	mission, err := sup.Start(context.Background(), "box1/a", "box1/b", "do the thing", t.TempDir(), []string{"/"})
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		m, err := sup.Mission(mission.ID)
		if err != nil {
			t.Fatalf("Mission() error = %v", err)
		}
		if m.Status == domain.MissionCompleted {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	final, err := sup.Mission(mission.ID)
	if err != nil {
		t.Fatalf("Mission() error = %v", err)
	}
	if final.Status != domain.MissionCompleted {
		t.Fatalf("Status = %v, want completed", final.Status)
	}
	if len(final.Feedback) != 3 {
		t.Fatalf("len(Feedback) = %d, want 3", len(final.Feedback))
	}
	if final.Feedback[0].Kind != domain.FeedbackText || final.Feedback[0].Text != "thinking" {
		t.Fatalf("Feedback[0] = %+v", final.Feedback[0])
	}
	if final.Feedback[1].Kind != domain.FeedbackToolUse || final.Feedback[1].Summary == "" {
		t.Fatalf("Feedback[1] = %+v", final.Feedback[1])
	}
	if final.Feedback[2].Kind != domain.FeedbackTurn {
		t.Fatalf("Feedback[2] = %+v", final.Feedback[2])
	}
}

func TestSupervisorParsesObjectShapedToolInput(t *testing.T) {
	script := `echo '{"type":"tool_use","tool":"Read","input":{"file":"a.md"}}'; echo '{"type":"turn"}'`
	cmd, args := shCommand(script)
	sup := testSupervisor(t, cmd, args)

	mission, err := sup.Start(context.Background(), "box1/a", "box1/b", "do the thing", t.TempDir(), []string{"/"})
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		m, err := sup.Mission(mission.ID)
		if err != nil {
			t.Fatalf("Mission() error = %v", err)
		}
		if m.Status == domain.MissionCompleted {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	final, err := sup.Mission(mission.ID)
	if err != nil {
		t.Fatalf("Mission() error = %v", err)
	}
	if len(final.Feedback) != 2 {
		t.Fatalf("len(Feedback) = %d, want 2 (object-shaped input must not drop the event)", len(final.Feedback))
	}
	if final.Feedback[0].Kind != domain.FeedbackToolUse || final.Feedback[0].Tool != "Read" {
		t.Fatalf("Feedback[0] = %+v", final.Feedback[0])
	}
	if final.Feedback[0].Summary == "" {
		t.Fatal("expected a non-empty summary for an object-shaped tool_use input")
	}
}

func TestSupervisorKillsOnWallClockCap(t *testing.T) {
	cmd, args := shCommand(`sleep 5`)
	dir := t.TempDir()
	cfg := config.AgentLauncherConfig{
		DefaultCommand:     cmd,
		DefaultArgs:        args,
		AllowedPaths:       []string{dir},
		MaxMissionDuration: 100 * time.Millisecond,
		InboxDir:           dir,
	}
	sup := NewSupervisor(cfg, nil)

	mission, err := sup.Start(context.Background(), "box1/a", "box1/b", "ignored", dir, nil)
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	var final *domain.Mission
	for time.Now().Before(deadline) {
		m, err := sup.Mission(mission.ID)
		if err != nil {
			t.Fatalf("Mission() error = %v", err)
		}
		if m.Status == domain.MissionFailed {
			final = m
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if final == nil {
		t.Fatal("mission never failed on wall-clock cap")
	}
	if final.FailReason == "" {
		t.Fatal("expected a fail reason")
	}
}
