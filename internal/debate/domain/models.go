// Package domain defines the debate state machine's data model and the
// contract for running debates.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"

	"github.com/boardroomhq/boardroom/internal/persona"
)

// Config describes one requested debate. Immutable once the engine starts.
type Config struct {
	Topic             string       `json:"topic"`
	Mode              persona.Mode `json:"mode"`
	SelectedPersonas  []string     `json:"selected_personas,omitempty"`
	MaxRounds         int          `json:"max_rounds"`
	IncludeModeration bool         `json:"include_moderation"`
}

// TurnStatus tracks one turn's lifecycle.
type TurnStatus string

const (
	TurnPending   TurnStatus = "pending"
	TurnStreaming TurnStatus = "streaming"
	TurnCompleted TurnStatus = "completed"
	TurnError     TurnStatus = "error"
)

// TurnRecord is one persona's contribution in one round. Within a round,
// turns occur in participant order; rounds run 1..MaxRounds.
type TurnRecord struct {
	Round      int             `json:"round"`
	TurnIndex  int             `json:"turn_index"`
	Persona    persona.Persona `json:"persona"`
	Content    string          `json:"content"`
	Confidence int             `json:"confidence,omitempty"`
	TokensUsed int64           `json:"tokens_used"`
	Timestamp  time.Time       `json:"timestamp"`
	Status     TurnStatus      `json:"status"`
}

// State is the aggregate owned by the engine for the lifetime of one
// debate. Messages hold only completed turns, ordered by (round, turn).
type State struct {
	Topic        string            `json:"topic"`
	Mode         persona.Mode      `json:"mode"`
	Personas     []persona.Persona `json:"personas"`
	CurrentRound int               `json:"current_round"`
	CurrentTurn  int               `json:"current_turn"`
	Messages     []TurnRecord      `json:"messages"`
	IsComplete   bool              `json:"is_complete"`
	ErrorCount   int               `json:"error_count"`
}

// Summary is the post-debate synthesis.
type Summary struct {
	Summary            string   `json:"summary"`
	KeyConsensusPoints []string `json:"key_consensus_points"`
	MajorDisagreements []string `json:"major_disagreements"`
	Recommendations    []string `json:"recommendations"`
	NextSteps          []string `json:"next_steps"`
}

// Debate is the persisted header row for a debate transcript.
type Debate struct {
	ID         snowflake.ID `gorm:"primaryKey" json:"id"`
	UserID     string       `gorm:"type:text;not null;index" json:"user_id"`
	Topic      string       `gorm:"type:text;not null" json:"topic"`
	Mode       string       `gorm:"type:text;not null" json:"mode"`
	Rounds     int          `gorm:"not null" json:"rounds"`
	Personas   int          `gorm:"not null" json:"personas"`
	Status     string       `gorm:"type:text;not null" json:"status"` // running, completed, canceled
	ErrorCount int          `gorm:"not null;default:0" json:"error_count"`
	CreatedAt  time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt  time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`
}

// TableName sets the database table name.
func (Debate) TableName() string { return "debates" }

// Message is one persisted completed turn.
type Message struct {
	ID         snowflake.ID `gorm:"primaryKey" json:"id"`
	DebateID   snowflake.ID `gorm:"not null;index" json:"debate_id"`
	Round      int          `gorm:"not null" json:"round"`
	TurnIndex  int          `gorm:"not null" json:"turn_index"`
	Persona    string       `gorm:"type:text;not null" json:"persona"`
	Content    string       `gorm:"type:text;not null" json:"content"`
	Confidence int          `gorm:"not null" json:"confidence"`
	TokensUsed int64        `gorm:"not null" json:"tokens_used"`
	CreatedAt  time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
}

// TableName sets the database table name.
func (Message) TableName() string { return "debate_messages" }
