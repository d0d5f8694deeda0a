package daemon

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/intercom-mesh/intercom/internal/config"
	"github.com/intercom-mesh/intercom/internal/domain"
)

// activityEvent is one newline-delimited JSON object the child agent emits
// on stdout (spec §4.5). Other fields are ignored per event type.
type activityEvent struct {
	Type  string          `json:"type"`
	Text  string          `json:"text,omitempty"`
	Tool  string          `json:"tool,omitempty"`
	Input json.RawMessage `json:"input,omitempty"`
}

// Supervisor launches and streams child coding agents (spec §4.5's agent
// launcher), grounded on the teacher's process.Manager: exec.CommandContext
// per run, a wall-clock cancellation, and a goroutine draining output.
type Supervisor struct {
	cfg      config.AgentLauncherConfig
	logger   *slog.Logger
	missions *missionStore

	mu     sync.Mutex
	active map[string]context.CancelFunc
}

// NewSupervisor creates a Supervisor with its own local mission ledger.
func NewSupervisor(cfg config.AgentLauncherConfig, logger *slog.Logger) *Supervisor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Supervisor{
		cfg:      cfg,
		logger:   logger,
		missions: newMissionStore(),
		active:   make(map[string]context.CancelFunc),
	}
}

// Mission returns the local mission record for id.
func (s *Supervisor) Mission(id string) (*domain.Mission, error) {
	return s.missions.get(id)
}

// Start validates cwd against the allow-list and spawns the configured
// command with prompt as its final argument, streaming recognised stdout
// events into the mission's feedback log. Returns immediately; the child
// runs to completion (or its wall-clock cap) in the background.
func (s *Supervisor) Start(ctx context.Context, fromAgent, toProject, prompt, cwd string, allowedPaths []string) (*domain.Mission, error) {
	allowed := allowedPaths
	if len(allowed) == 0 {
		allowed = s.cfg.AllowedPaths
	}
	if cwd == "" {
		cwd = s.cfg.InboxDir
	}
	if !pathAllowed(cwd, allowed) {
		return nil, domain.NewDomainError("Supervisor.Start", domain.ErrPathNotAllowed, cwd)
	}

	mission := s.missions.create(fromAgent, toProject, prompt)

	args := append(append([]string{}, s.cfg.DefaultArgs...), prompt)
	runCtx, cancel := context.WithTimeout(context.Background(), s.missionDuration())
	cmd := exec.CommandContext(runCtx, s.cfg.DefaultCommand, args...)
	cmd.Dir = cwd

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		s.failMission(mission, err.Error())
		return mission, domain.NewDomainError("Supervisor.Start", domain.ErrInternal, err.Error())
	}

	if err := cmd.Start(); err != nil {
		cancel()
		s.failMission(mission, err.Error())
		return mission, domain.NewDomainError("Supervisor.Start", domain.ErrInternal, err.Error())
	}

	s.mu.Lock()
	s.active[mission.ID] = cancel
	s.mu.Unlock()

	queue := newFeedbackQueue()
	go s.pump(queue, stdout)
	go s.writeLog(mission, queue)
	go s.wait(runCtx, mission, cmd, cancel)

	return mission, nil
}

func (s *Supervisor) missionDuration() time.Duration {
	if s.cfg.MaxMissionDuration <= 0 {
		return 30 * time.Minute
	}
	return s.cfg.MaxMissionDuration
}

// pump reads the child's stdout line by line, parsing each recognised event
// into a FeedbackItem (spec §4.5) and pushing it onto the bounded queue that
// writeLog drains. Unrecognised lines are counted but dropped. Closes queue
// once stdout is exhausted so writeLog can return.
func (s *Supervisor) pump(queue *feedbackQueue, stdout io.Reader) {
	defer queue.Close()
	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	ignored := 0
	for scanner.Scan() {
		var ev activityEvent
		if err := json.Unmarshal(scanner.Bytes(), &ev); err != nil {
			ignored++
			continue
		}
		var item domain.FeedbackItem
		switch ev.Type {
		case "text":
			item = domain.FeedbackTextItem(ev.Text)
		case "tool_use":
			item = domain.FeedbackToolUseItem(ev.Tool, summarize(ev.Tool, string(ev.Input)))
		case "turn":
			item = domain.FeedbackTurnItem()
		default:
			ignored++
			continue
		}
		queue.Push(item)
	}
	if ignored > 0 {
		s.logger.Debug("ignored unrecognised child output lines", "count", ignored)
	}
}

// writeLog drains queue in order and appends each item to the mission's
// feedback log — the "mission log writer" side of the producer/bounded-queue
// split (spec §9 Design Notes), decoupled from pump so a slow log writer
// never blocks the stdout reader beyond the queue's bound.
func (s *Supervisor) writeLog(mission *domain.Mission, queue *feedbackQueue) {
	queue.Drain(func(item domain.FeedbackItem) {
		s.missions.withLock(func() {
			mission.AppendFeedback(item)
		})
	})
}

func (s *Supervisor) wait(ctx context.Context, mission *domain.Mission, cmd *exec.Cmd, cancel context.CancelFunc) {
	err := cmd.Wait()
	defer cancel()

	s.mu.Lock()
	delete(s.active, mission.ID)
	s.mu.Unlock()

	s.missions.withLock(func() {
		if mission.Status != domain.MissionRunning {
			return // already failed/killed by another path
		}
		if ctx.Err() == context.DeadlineExceeded {
			mission.Status = domain.MissionFailed
			mission.FailReason = "mission wall-clock cap exceeded"
			return
		}
		if err != nil {
			mission.Status = domain.MissionFailed
			mission.FailReason = err.Error()
			return
		}
		mission.Status = domain.MissionCompleted
	})
	s.logger.Info("mission finished", "mission_id", mission.ID, "status", mission.Status)
}

func (s *Supervisor) failMission(mission *domain.Mission, reason string) {
	s.missions.withLock(func() {
		mission.Status = domain.MissionFailed
		mission.FailReason = reason
	})
}

// pathAllowed reports whether cwd is under one of the allowed directories.
func pathAllowed(cwd string, allowed []string) bool {
	if len(allowed) == 0 {
		return true
	}
	clean := filepath.Clean(cwd)
	for _, a := range allowed {
		a = filepath.Clean(a)
		if clean == a || strings.HasPrefix(clean, a+string(filepath.Separator)) {
			return true
		}
	}
	return false
}

// summarize reduces a tool invocation to a single line no longer than 120
// characters (spec §4.5). Keyed by tool name; unknown tools fall back to a
// generic label built from the raw input's first line.
func summarize(tool, input string) string {
	firstLine := input
	if i := strings.IndexByte(input, '\n'); i >= 0 {
		firstLine = input[:i]
	}
	var s string
	switch strings.ToLower(tool) {
	case "read", "write", "edit":
		s = firstLine
	case "bash", "shell", "exec":
		s = firstLine
	case "grep", "search":
		s = fmt.Sprintf("pattern: %s", firstLine)
	default:
		s = fmt.Sprintf("%s: %s", tool, firstLine)
	}
	if len(s) > 120 {
		s = s[:117] + "..."
	}
	return s
}
