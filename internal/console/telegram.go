package console

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Telegram implements Adapter over the Telegram Bot API via long polling,
// grounded on the same getUpdates/sendMessage loop a chat channel adapter
// uses to receive and send messages. The bot posts approval prompts and
// join announcements into a single operator group chat, and watches for
// text replies of the form "/approve <id> [scope]" or "/deny <id>" from
// the configured owner.
type Telegram struct {
	token   string
	groupID int64
	ownerID int64
	logger  *slog.Logger
	client  *http.Client
	baseURL string

	offset int64
	done   chan struct{}

	mu      sync.Mutex
	waiters map[string]chan telegramReply
	missionThreads map[string]bool
}

type telegramReply struct {
	scope ApprovalScope
}

// NewTelegram creates a Telegram console adapter.
func NewTelegram(token string, groupID, ownerID int64, logger *slog.Logger) *Telegram {
	return &Telegram{
		token:   token,
		groupID: groupID,
		ownerID: ownerID,
		logger:  logger,
		baseURL: "https://api.telegram.org",
		client:  &http.Client{Timeout: 60 * time.Second},
		done:    make(chan struct{}),
		waiters: make(map[string]chan telegramReply),
		missionThreads: make(map[string]bool),
	}
}

// Start begins long-polling for operator replies. Call before using the adapter.
func (t *Telegram) Start(ctx context.Context) {
	go t.pollLoop(ctx)
}

// Stop halts the polling loop.
func (t *Telegram) Stop() {
	select {
	case <-t.done:
	default:
		close(t.done)
	}
}

func (t *Telegram) AnnounceJoin(ctx context.Context, machineID, displayName, overlayIP string) (bool, error) {
	id := "join:" + machineID
	text := fmt.Sprintf("Join request from %q (%s) at %s.\nReply \"/approve %s\" or \"/deny %s\".",
		displayName, machineID, overlayIP, id, id)
	ch := t.registerWaiter(id)
	defer t.unregisterWaiter(id)

	if err := t.sendMessage(ctx, text); err != nil {
		return false, err
	}

	select {
	case <-ctx.Done():
		return false, ctx.Err()
	case reply := <-ch:
		return reply.scope != ScopeDenied, nil
	}
}

func (t *Telegram) AskApproval(ctx context.Context, from, to, msgType, preview string, scopes []ApprovalScope) (ApprovalScope, error) {
	id := "msg:" + from + ">" + to + ":" + strconv.FormatInt(time.Now().UnixNano(), 36)
	var opts []string
	for _, s := range scopes {
		opts = append(opts, string(s))
	}
	text := fmt.Sprintf("Approval needed: %s -> %s (%s)\n%s\nOptions: %s\nReply \"/approve %s <scope>\" or \"/deny %s\".",
		from, to, msgType, preview, strings.Join(opts, ", "), id, id)

	ch := t.registerWaiter(id)
	defer t.unregisterWaiter(id)

	if err := t.sendMessage(ctx, text); err != nil {
		return ScopeDenied, err
	}

	select {
	case <-ctx.Done():
		return ScopeDenied, ctx.Err()
	case reply := <-ch:
		return reply.scope, nil
	}
}

func (t *Telegram) PostToMission(ctx context.Context, missionID, text string) {
	t.mu.Lock()
	first := !t.missionThreads[missionID]
	t.missionThreads[missionID] = true
	t.mu.Unlock()

	prefix := ""
	if first {
		prefix = fmt.Sprintf("[mission %s]\n", missionID)
	}
	if err := t.sendMessage(ctx, prefix+text); err != nil {
		t.logger.Warn("console: post_to_mission failed", "mission_id", missionID, "error", err)
	}
}

func (t *Telegram) NotifyFeedback(ctx context.Context, kind, text string) {
	if err := t.sendMessage(ctx, fmt.Sprintf("[%s] %s", kind, text)); err != nil {
		t.logger.Warn("console: notify_feedback failed", "kind", kind, "error", err)
	}
}

func (t *Telegram) registerWaiter(id string) chan telegramReply {
	ch := make(chan telegramReply, 1)
	t.mu.Lock()
	t.waiters[id] = ch
	t.mu.Unlock()
	return ch
}

func (t *Telegram) unregisterWaiter(id string) {
	t.mu.Lock()
	delete(t.waiters, id)
	t.mu.Unlock()
}

func (t *Telegram) pollLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.done:
			return
		default:
		}

		updates, err := t.getUpdates(ctx)
		if err != nil {
			t.logger.Warn("console: telegram getUpdates failed", "error", err)
			time.Sleep(5 * time.Second)
			continue
		}
		for _, u := range updates {
			if u.UpdateID >= t.offset {
				t.offset = u.UpdateID + 1
			}
			t.handleUpdate(u)
		}
	}
}

func (t *Telegram) handleUpdate(u telegramUpdate) {
	if u.Message == nil || u.Message.From == nil {
		return
	}
	if u.Message.From.ID != t.ownerID {
		return // only the configured owner can approve/deny
	}
	fields := strings.Fields(u.Message.Text)
	if len(fields) < 2 {
		return
	}

	switch fields[0] {
	case "/approve":
		scope := ScopeOnce
		if len(fields) >= 3 {
			scope = ApprovalScope(fields[2])
		}
		t.resolve(fields[1], telegramReply{scope: scope})
	case "/deny":
		t.resolve(fields[1], telegramReply{scope: ScopeDenied})
	}
}

func (t *Telegram) resolve(id string, reply telegramReply) {
	t.mu.Lock()
	ch, ok := t.waiters[id]
	t.mu.Unlock()
	if !ok {
		return
	}
	select {
	case ch <- reply:
	default:
	}
}

// --- Telegram Bot API wire types ---

type telegramUser struct {
	ID int64 `json:"id"`
}

type telegramMessage struct {
	Text string        `json:"text"`
	From *telegramUser `json:"from"`
}

type telegramUpdate struct {
	UpdateID int64            `json:"update_id"`
	Message  *telegramMessage `json:"message"`
}

type telegramGetUpdatesResponse struct {
	OK     bool             `json:"ok"`
	Result []telegramUpdate `json:"result"`
}

func (t *Telegram) getUpdates(ctx context.Context) ([]telegramUpdate, error) {
	u := fmt.Sprintf("%s/bot%s/getUpdates?offset=%d&timeout=30", t.baseURL, t.token, t.offset)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	resp, err := t.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	var out telegramGetUpdatesResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, err
	}
	return out.Result, nil
}

func (t *Telegram) sendMessage(ctx context.Context, text string) error {
	form := url.Values{}
	form.Set("chat_id", strconv.FormatInt(t.groupID, 10))
	form.Set("text", text)

	u := fmt.Sprintf("%s/bot%s/sendMessage", t.baseURL, t.token)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewBufferString(form.Encode()))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := t.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("console: telegram sendMessage status %d", resp.StatusCode)
	}
	return nil
}
