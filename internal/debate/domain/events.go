package domain

import "time"

// EventType enumerates the debate stream protocol. Events are emitted in
// order and the stream always terminates with EventStreamComplete.
type EventType string

const (
	EventConnectionEstablished EventType = "connection-established"
	EventDebateStarted         EventType = "debate-started"
	EventRoundStarted          EventType = "round-started"
	EventTurnStarted           EventType = "turn-started"
	EventMessageGenerated      EventType = "message-generated"
	EventRoundCompleted        EventType = "round-completed"
	EventDebateCompleted       EventType = "debate-completed"
	EventGeneratingSummary     EventType = "generating-summary"
	EventSummaryReady          EventType = "summary-ready"
	EventStreamComplete        EventType = "stream-complete"
	EventError                 EventType = "error"
)

// Event is one entry in a debate's ordered stream.
type Event struct {
	Type      EventType   `json:"type"`
	Data      interface{} `json:"data,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}

// DebateStartedData announces the resolved configuration.
type DebateStartedData struct {
	DebateID string   `json:"debate_id"`
	Topic    string   `json:"topic"`
	Mode     string   `json:"mode"`
	Personas []string `json:"personas"`
	Rounds   int      `json:"rounds"`
}

// RoundData scopes round-started and round-completed events.
type RoundData struct {
	Round int `json:"round"`
}

// TurnStartedData scopes a turn-started event.
type TurnStartedData struct {
	Round     int    `json:"round"`
	TurnIndex int    `json:"turn_index"`
	Persona   string `json:"persona"`
	Title     string `json:"title"`
}

// MessageData carries one generated contribution.
type MessageData struct {
	Round      int      `json:"round"`
	TurnIndex  int      `json:"turn_index"`
	Persona    string   `json:"persona"`
	Title      string   `json:"title"`
	Content    string   `json:"content"`
	Confidence int      `json:"confidence"`
	KeyPoints  []string `json:"key_points,omitempty"`
	TokensUsed int64    `json:"tokens_used"`
}

// ErrorData scopes a per-turn error event.
type ErrorData struct {
	Round     int    `json:"round,omitempty"`
	TurnIndex int    `json:"turn_index,omitempty"`
	Persona   string `json:"persona,omitempty"`
	Message   string `json:"message"`
}

// CompletedData summarizes the finished debate.
type CompletedData struct {
	DebateID    string `json:"debate_id"`
	Messages    int    `json:"messages"`
	Errors      int    `json:"errors"`
	TotalTokens int64  `json:"total_tokens"`
}
