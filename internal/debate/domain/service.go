package domain

import (
	"context"
	"errors"

	"github.com/boardroomhq/boardroom/internal/tier"
)

// StartRequest opens one debate for a user.
type StartRequest struct {
	UserID string
	Tier   tier.ID
	Config Config
}

// Run is a handle on an in-flight debate. Events() yields the ordered
// stream; the channel is closed after stream-complete or on cancellation.
type Run interface {
	Events() <-chan Event

	// Pause stops new turns from starting. An in-flight turn finishes;
	// pausing takes effect at the scheduler's loop boundary.
	Pause()
	Resume()

	// State returns the debate aggregate. Safe to call after the event
	// channel is closed.
	State() State

	// Summary returns the post-debate synthesis, valid once the
	// summary-ready event has been observed.
	Summary() Summary
}

type Service interface {
	// Start validates the configuration, enforces usage limits, and begins
	// the debate. The returned Run's event channel is live immediately;
	// cancellation of ctx abandons any in-flight completion, discards its
	// partial output, and closes the stream.
	Start(ctx context.Context, req StartRequest) (Run, error)

	// Transcript loads a persisted debate with its messages.
	Transcript(ctx context.Context, userID string, debateID string) (Debate, []Message, error)
}

var (
	ErrTopicTooShort  = errors.New("topic_too_short")
	ErrTopicTooLong   = errors.New("topic_too_long")
	ErrUnknownMode    = errors.New("unknown_mode")
	ErrInvalidRounds  = errors.New("invalid_rounds")
	ErrNoPersonas     = errors.New("no_personas_resolved")
	ErrLimitExceeded  = errors.New("usage_limit_exceeded")
	ErrDebateNotFound = errors.New("debate_not_found")
	ErrInvalidUser    = errors.New("invalid_user")
)
