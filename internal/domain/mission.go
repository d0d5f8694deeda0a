package domain

import "time"

// MissionStatus is the terminal/intermediate state of a mission (spec §3).
type MissionStatus string

const (
	MissionPendingApproval MissionStatus = "pending_approval"
	MissionApproved        MissionStatus = "approved"
	MissionDenied          MissionStatus = "denied"
	MissionRunning         MissionStatus = "running"
	MissionCompleted       MissionStatus = "completed"
	MissionFailed          MissionStatus = "failed"
)

// FeedbackKind is the variant tag of a FeedbackItem (spec §4.5).
type FeedbackKind string

const (
	FeedbackText    FeedbackKind = "text"
	FeedbackToolUse FeedbackKind = "tool_use"
	FeedbackTurn    FeedbackKind = "turn"
)

// FeedbackItem is one entry in a mission's feedback log, streamed from the
// child agent's stdout by the daemon's supervisor. Cursor is monotonically
// increasing per mission and starts at 1.
type FeedbackItem struct {
	Cursor    int64        `json:"cursor"`
	Kind      FeedbackKind `json:"kind"`
	Text      string       `json:"text,omitempty"`
	Tool      string       `json:"tool,omitempty"`
	Summary   string       `json:"summary,omitempty"`
	Timestamp time.Time    `json:"timestamp"`
}

// FeedbackTextItem builds a text FeedbackItem; Cursor is assigned by the caller.
func FeedbackTextItem(text string) FeedbackItem {
	return FeedbackItem{Kind: FeedbackText, Text: text, Timestamp: time.Now()}
}

// FeedbackToolUseItem builds a tool_use FeedbackItem; Cursor is assigned by the caller.
func FeedbackToolUseItem(tool, summary string) FeedbackItem {
	return FeedbackItem{Kind: FeedbackToolUse, Tool: tool, Summary: summary, Timestamp: time.Now()}
}

// FeedbackTurnItem builds a turn-counter FeedbackItem; Cursor is assigned by the caller.
func FeedbackTurnItem() FeedbackItem {
	return FeedbackItem{Kind: FeedbackTurn, Timestamp: time.Now()}
}

// MessageLogEntry is one entry in a mission's chat transcript.
type MessageLogEntry struct {
	From      string    `json:"from_agent"`
	To        string    `json:"to_agent"`
	Text      string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// Mission is the Hub's bookkeeping record for a single routed interaction
// (spec §3). Missions are retained in-memory for the Hub's lifetime.
type Mission struct {
	ID          string          `json:"mission_id"`
	From        string          `json:"from_agent"`
	To          string          `json:"to_agent"`
	Type        MessageType     `json:"type"`
	Payload     string          `json:"payload,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
	Status      MissionStatus   `json:"status"`
	FailReason  string          `json:"fail_reason,omitempty"`
	Messages    []MessageLogEntry `json:"messages,omitempty"`
	Feedback    []FeedbackItem    `json:"feedback,omitempty"`
	NextCursor  int64             `json:"-"`
	DaemonMissionID string        `json:"-"` // mission_id local to the target daemon
	ThreadID    string          `json:"thread_id,omitempty"`
}

// AppendFeedback assigns the next monotonic cursor and appends the item.
func (m *Mission) AppendFeedback(item FeedbackItem) FeedbackItem {
	m.NextCursor++
	item.Cursor = m.NextCursor
	m.Feedback = append(m.Feedback, item)
	return item
}

// FeedbackSince returns feedback items with cursor > since, in order.
func (m *Mission) FeedbackSince(since int64) []FeedbackItem {
	out := make([]FeedbackItem, 0)
	for _, item := range m.Feedback {
		if item.Cursor > since {
			out = append(out, item)
		}
	}
	return out
}
