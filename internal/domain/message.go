package domain

// MessageType is the tag of the Message variant routed by spec §4.4.
// Router dispatch must be exhaustive over these values — never treat a
// Message as an open dictionary.
type MessageType string

const (
	MessageAsk         MessageType = "ask"
	MessageSend        MessageType = "send"
	MessageChat        MessageType = "chat"
	MessageReply       MessageType = "reply"
	MessageStartAgent  MessageType = "start_agent"
	MessageStatus      MessageType = "status"
	MessageResponse    MessageType = "response"
	MessageHistory     MessageType = "history"
)

// Message is the inbound envelope to POST /api/route.
type Message struct {
	From       string      `json:"from_agent"`
	To         string      `json:"to_agent"`
	Type       MessageType `json:"type"`
	Payload    Payload     `json:"payload"`
	MissionID  string      `json:"mission_id,omitempty"`
}

// Payload carries the type-specific fields of a Message. Only the fields
// relevant to Type are populated by callers; the router reads only the
// fields its classification for Type expects.
type Payload struct {
	Message      string `json:"message,omitempty"`        // chat/reply text
	ThreadID     string `json:"thread_id,omitempty"`       // chat/reply thread
	Prompt       string `json:"prompt,omitempty"`          // ask/send/start_agent prompt
	AllowedPaths []string `json:"allowed_paths,omitempty"` // start_agent sandbox
	Cwd          string `json:"cwd,omitempty"`              // start_agent working directory
	FeedbackSince int64 `json:"feedback_since,omitempty"`  // status query cursor
}

// RouteStatus is one of the values spec §6 enumerates for POST /api/route's response.
type RouteStatus string

const (
	RouteDelivered       RouteStatus = "delivered"
	RouteQueued          RouteStatus = "queued"
	RouteDenied          RouteStatus = "denied"
	RouteNoActiveSession RouteStatus = "no_active_session"
	RouteUnreachable     RouteStatus = "unreachable"
	RouteError           RouteStatus = "error"
)

// RouteResult is the response to POST /api/route.
type RouteResult struct {
	Status    RouteStatus `json:"status"`
	MissionID string      `json:"mission_id,omitempty"`
	ThreadID  string      `json:"thread_id,omitempty"`
}

// Thread groups a sequence of chat messages between two agents (spec §3).
// Threads are process-lifetime state; loss on Hub restart is acceptable.
type Thread struct {
	ID            string
	ParticipantA  string
	ParticipantB  string
	MissionID     string
}

// Involves reports whether the thread connects the given two agents,
// in either direction.
func (t Thread) Involves(a, b string) bool {
	return (t.ParticipantA == a && t.ParticipantB == b) ||
		(t.ParticipantA == b && t.ParticipantB == a)
}

// OtherParticipant returns the thread's other side given one known agent.
func (t Thread) OtherParticipant(known string) string {
	if t.ParticipantA == known {
		return t.ParticipantB
	}
	return t.ParticipantA
}
