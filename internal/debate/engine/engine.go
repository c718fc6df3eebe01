// Package engine drives debates: a sequential round/turn state machine that
// streams typed events, meters every generated turn, and persists
// transcripts best-effort.
package engine

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/boardroomhq/boardroom/internal/clock"
	"github.com/boardroomhq/boardroom/internal/completion"
	"github.com/boardroomhq/boardroom/internal/config"
	costdomain "github.com/boardroomhq/boardroom/internal/cost/domain"
	debatedomain "github.com/boardroomhq/boardroom/internal/debate/domain"
	"github.com/boardroomhq/boardroom/internal/observability/metrics"
	"github.com/boardroomhq/boardroom/internal/persona"
	"github.com/boardroomhq/boardroom/internal/tier"
	usagedomain "github.com/boardroomhq/boardroom/internal/usage/domain"
	"github.com/boardroomhq/boardroom/pkg/db/option"
	"github.com/boardroomhq/boardroom/pkg/repository"
)

const (
	minTopicLen = 10
	maxTopicLen = 500

	// eventBuffer keeps a slow consumer from stalling turn execution for
	// short bursts.
	eventBuffer = 64
)

type Service struct {
	log *zap.Logger

	selector   *persona.Selector
	provider   completion.Provider
	usagesvc   usagedomain.Service
	costsvc    costdomain.Service
	genID      *snowflake.Node
	clock      clock.Clock
	metrics    *metrics.Metrics
	cfg        config.CompletionConfig
	scorer     ConfidenceScorer
	summarizer *Summarizer

	db          *gorm.DB
	debateRepo  repository.Repository[debatedomain.Debate]
	messageRepo repository.Repository[debatedomain.Message]
}

type ServiceParam struct {
	fx.In

	Log      *zap.Logger
	Selector *persona.Selector
	Provider completion.Provider
	Usagesvc usagedomain.Service
	Costsvc  costdomain.Service
	GenID    *snowflake.Node
	Clock    clock.Clock
	Metrics  *metrics.Metrics `optional:"true"`
	Config   config.Config
	DB       *gorm.DB
}

func NewService(p ServiceParam) debatedomain.Service {
	return &Service{
		log:         p.Log.Named("debate.engine"),
		selector:    p.Selector,
		provider:    p.Provider,
		usagesvc:    p.Usagesvc,
		costsvc:     p.Costsvc,
		genID:       p.GenID,
		clock:       p.Clock,
		metrics:     p.Metrics,
		cfg:         p.Config.Completion,
		scorer:      NewLexicalScorer(),
		summarizer:  NewSummarizer(p.Provider, p.Config.Completion.Model),
		db:          p.DB,
		debateRepo:  repository.ProvideStore[debatedomain.Debate](p.DB),
		messageRepo: repository.ProvideStore[debatedomain.Message](p.DB),
	}
}

// run is the live handle for one debate.
type run struct {
	svc      *Service
	id       snowflake.ID
	userID   string
	tier     tier.ID
	config   debatedomain.Config
	personas []persona.Persona

	events chan debatedomain.Event

	mu       sync.Mutex
	state    debatedomain.State
	summary  debatedomain.Summary
	paused   bool
	resumeCh chan struct{}
}

func (r *run) Events() <-chan debatedomain.Event { return r.events }

func (r *run) Pause() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.paused {
		r.paused = true
		r.resumeCh = make(chan struct{})
	}
}

func (r *run) Resume() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.paused {
		r.paused = false
		close(r.resumeCh)
	}
}

func (r *run) State() debatedomain.State {
	r.mu.Lock()
	defer r.mu.Unlock()
	state := r.state
	state.Messages = append([]debatedomain.TurnRecord(nil), r.state.Messages...)
	return state
}

func (r *run) Summary() debatedomain.Summary {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.summary
}

// waitIfPaused blocks at the loop boundary while the debate is paused.
func (r *run) waitIfPaused(ctx context.Context) error {
	r.mu.Lock()
	ch := r.resumeCh
	paused := r.paused
	r.mu.Unlock()
	if !paused {
		return ctx.Err()
	}
	select {
	case <-ch:
		return ctx.Err()
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Start implements domain.Service.
func (s *Service) Start(ctx context.Context, req debatedomain.StartRequest) (debatedomain.Run, error) {
	if strings.TrimSpace(req.UserID) == "" {
		return nil, debatedomain.ErrInvalidUser
	}

	topic := strings.TrimSpace(req.Config.Topic)
	if len(topic) < minTopicLen {
		return nil, debatedomain.ErrTopicTooShort
	}
	if len(topic) > maxTopicLen {
		return nil, debatedomain.ErrTopicTooLong
	}
	if !persona.ValidMode(req.Config.Mode) {
		return nil, debatedomain.ErrUnknownMode
	}
	if req.Config.MaxRounds < 1 {
		return nil, debatedomain.ErrInvalidRounds
	}

	participants := s.selector.SelectPersonas(topic, req.Config.Mode, req.Config.SelectedPersonas)
	if len(participants) == 0 {
		return nil, debatedomain.ErrNoPersonas
	}

	enforced, err := s.usagesvc.EnforceLimit(ctx, req.UserID, req.Tier, usagedomain.ActionDebate, &usagedomain.DebateParams{
		Rounds:   int64(req.Config.MaxRounds),
		Personas: int64(len(participants)),
	})
	if err != nil {
		return nil, fmt.Errorf("enforce debate limit: %w", err)
	}
	if !enforced.Allowed {
		return nil, fmt.Errorf("%w: %s", debatedomain.ErrLimitExceeded, enforced.Message)
	}

	id := s.genID.Generate()
	now := s.clock.Now()
	row := debatedomain.Debate{
		ID:        id,
		UserID:    req.UserID,
		Topic:     topic,
		Mode:      string(req.Config.Mode),
		Rounds:    req.Config.MaxRounds,
		Personas:  len(participants),
		Status:    "running",
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.debateRepo.Create(ctx, &row); err != nil {
		// Transcript persistence is best-effort; the debate still runs.
		s.log.Warn("debate.persist_header_failed", zap.Error(err))
	}

	r := &run{
		svc:      s,
		id:       id,
		userID:   req.UserID,
		tier:     req.Tier,
		config:   req.Config,
		personas: participants,
		events:   make(chan debatedomain.Event, eventBuffer),
		state: debatedomain.State{
			Topic:    topic,
			Mode:     req.Config.Mode,
			Personas: participants,
		},
	}

	s.metrics.RecordDebateStarted(ctx, string(req.Config.Mode))
	go r.loop(ctx)
	return r, nil
}

// emit delivers one event unless the debate was canceled.
func (r *run) emit(ctx context.Context, t debatedomain.EventType, data interface{}) bool {
	ev := debatedomain.Event{Type: t, Data: data, Timestamp: r.svc.clock.Now()}
	select {
	case r.events <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}

func (r *run) loop(ctx context.Context) {
	defer close(r.events)

	names := make([]string, 0, len(r.personas))
	for _, p := range r.personas {
		names = append(names, p.Name)
	}

	if !r.emit(ctx, debatedomain.EventConnectionEstablished, nil) {
		r.finish(ctx, "canceled")
		return
	}
	if !r.emit(ctx, debatedomain.EventDebateStarted, debatedomain.DebateStartedData{
		DebateID: r.id.String(),
		Topic:    r.state.Topic,
		Mode:     string(r.config.Mode),
		Personas: names,
		Rounds:   r.config.MaxRounds,
	}) {
		r.finish(ctx, "canceled")
		return
	}

	var totalTokens int64

	for round := 1; round <= r.config.MaxRounds; round++ {
		if err := r.waitIfPaused(ctx); err != nil {
			r.finish(ctx, "canceled")
			return
		}
		r.setProgress(round, 0)
		if !r.emit(ctx, debatedomain.EventRoundStarted, debatedomain.RoundData{Round: round}) {
			r.finish(ctx, "canceled")
			return
		}

		for i, p := range r.personas {
			turnIndex := i + 1
			if err := r.waitIfPaused(ctx); err != nil {
				r.finish(ctx, "canceled")
				return
			}
			r.setProgress(round, turnIndex)

			if !r.emit(ctx, debatedomain.EventTurnStarted, debatedomain.TurnStartedData{
				Round:     round,
				TurnIndex: turnIndex,
				Persona:   p.Name,
				Title:     p.Title,
			}) {
				r.finish(ctx, "canceled")
				return
			}

			tokens, ok := r.executeTurn(ctx, p, round, turnIndex)
			if ctx.Err() != nil {
				// Cancellation discards any partial output; no record is
				// appended for the interrupted turn.
				r.finish(ctx, "canceled")
				return
			}
			if ok {
				totalTokens += tokens
			}
		}

		if !r.emit(ctx, debatedomain.EventRoundCompleted, debatedomain.RoundData{Round: round}) {
			r.finish(ctx, "canceled")
			return
		}
	}

	r.mu.Lock()
	r.state.IsComplete = true
	messages := len(r.state.Messages)
	errorCount := r.state.ErrorCount
	r.mu.Unlock()

	r.emit(ctx, debatedomain.EventDebateCompleted, debatedomain.CompletedData{
		DebateID:    r.id.String(),
		Messages:    messages,
		Errors:      errorCount,
		TotalTokens: totalTokens,
	})
	r.svc.metrics.RecordDebateCompleted(ctx, string(r.config.Mode))

	r.recordDebateUsage(ctx, totalTokens)

	r.emit(ctx, debatedomain.EventGeneratingSummary, nil)
	summary := r.svc.summarizer.Summarize(ctx, r.State())
	r.mu.Lock()
	r.summary = summary
	r.mu.Unlock()
	r.emit(ctx, debatedomain.EventSummaryReady, summary)

	r.finish(ctx, "completed")
	r.emit(ctx, debatedomain.EventStreamComplete, nil)
}

// executeTurn runs one persona's turn. Failures are non-fatal: an error
// event is emitted and the debate moves on.
func (r *run) executeTurn(ctx context.Context, p persona.Persona, round, turnIndex int) (int64, bool) {
	req := buildTurnRequest(p, r.snapshotState(), round)
	req.Model = r.svc.cfg.Model
	req.MaxTokens = r.svc.cfg.MaxTokens
	req.Temperature = r.svc.cfg.Temperature

	turnCtx := ctx
	if r.svc.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		turnCtx, cancel = context.WithTimeout(ctx, r.svc.cfg.Timeout)
		defer cancel()
	}

	resp, err := r.svc.provider.Complete(turnCtx, req)
	if ctx.Err() != nil {
		return 0, false
	}
	if err != nil {
		r.mu.Lock()
		r.state.ErrorCount++
		r.mu.Unlock()
		r.svc.metrics.RecordTurnError(ctx, p.Name)
		r.svc.log.Warn("debate.turn_failed",
			zap.String("debate_id", r.id.String()),
			zap.String("persona", p.Name),
			zap.Int("round", round),
			zap.Error(err),
		)
		r.emit(ctx, debatedomain.EventError, debatedomain.ErrorData{
			Round:     round,
			TurnIndex: turnIndex,
			Persona:   p.Name,
			Message:   fmt.Sprintf("%s could not respond this turn", p.Name),
		})
		return 0, false
	}

	confidence := r.svc.scorer.Score(resp.Content)
	tokens := int64(resp.TokensUsed)
	now := r.svc.clock.Now()

	record := debatedomain.TurnRecord{
		Round:      round,
		TurnIndex:  turnIndex,
		Persona:    p,
		Content:    resp.Content,
		Confidence: confidence,
		TokensUsed: tokens,
		Timestamp:  now,
		Status:     debatedomain.TurnCompleted,
	}
	r.mu.Lock()
	r.state.Messages = append(r.state.Messages, record)
	r.mu.Unlock()

	r.svc.metrics.RecordTurnCompleted(ctx, p.Name)
	r.emit(ctx, debatedomain.EventMessageGenerated, debatedomain.MessageData{
		Round:      round,
		TurnIndex:  turnIndex,
		Persona:    p.Name,
		Title:      p.Title,
		Content:    resp.Content,
		Confidence: confidence,
		KeyPoints:  keyPoints(resp.Content),
		TokensUsed: tokens,
	})

	// Every turn is a billable message. Metering failure must not abort
	// the user-visible stream.
	cost := r.svc.costsvc.CalculateMessageCost(r.tier, resp.Model, tokens)
	if err := r.svc.usagesvc.RecordMessage(ctx, usagedomain.RecordMessageRequest{
		UserID: r.userID,
		Tier:   r.tier,
		Model:  resp.Model,
		Tokens: tokens,
		Cost:   cost,
	}); err != nil {
		r.svc.log.Error("debate.meter_turn_failed", zap.String("debate_id", r.id.String()), zap.Error(err))
	}

	msg := debatedomain.Message{
		ID:         r.svc.genID.Generate(),
		DebateID:   r.id,
		Round:      round,
		TurnIndex:  turnIndex,
		Persona:    p.Name,
		Content:    resp.Content,
		Confidence: confidence,
		TokensUsed: tokens,
		CreatedAt:  now,
	}
	if err := r.svc.messageRepo.Create(ctx, &msg); err != nil {
		r.svc.log.Warn("debate.persist_message_failed", zap.String("debate_id", r.id.String()), zap.Error(err))
	}

	return tokens, true
}

func (r *run) recordDebateUsage(ctx context.Context, totalTokens int64) {
	cost := r.svc.costsvc.CalculateMessageCost(r.tier, r.svc.cfg.Model, totalTokens)
	if err := r.svc.usagesvc.RecordDebate(ctx, usagedomain.RecordDebateRequest{
		UserID:   r.userID,
		Tier:     r.tier,
		Model:    r.svc.cfg.Model,
		Rounds:   int64(r.config.MaxRounds),
		Personas: int64(len(r.personas)),
		Tokens:   totalTokens,
		Cost:     cost,
		Topic:    r.state.Topic,
	}); err != nil {
		r.svc.log.Error("debate.meter_debate_failed", zap.String("debate_id", r.id.String()), zap.Error(err))
	}
}

func (r *run) setProgress(round, turn int) {
	r.mu.Lock()
	r.state.CurrentRound = round
	r.state.CurrentTurn = turn
	r.mu.Unlock()
}

func (r *run) snapshotState() *debatedomain.State {
	state := r.State()
	return &state
}

// finish updates the persisted debate header. Uses a fresh context so a
// canceled stream still records its terminal status.
func (r *run) finish(ctx context.Context, status string) {
	r.mu.Lock()
	errorCount := r.state.ErrorCount
	r.mu.Unlock()

	saveCtx := ctx
	if ctx.Err() != nil {
		var cancel context.CancelFunc
		saveCtx, cancel = context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
	}
	err := r.svc.db.WithContext(saveCtx).
		Model(&debatedomain.Debate{}).
		Where("id = ?", r.id).
		Updates(map[string]interface{}{
			"status":      status,
			"error_count": errorCount,
			"updated_at":  r.svc.clock.Now(),
		}).Error
	if err != nil {
		r.svc.log.Warn("debate.persist_status_failed", zap.String("debate_id", r.id.String()), zap.Error(err))
	}
}

// Transcript implements domain.Service.
func (s *Service) Transcript(ctx context.Context, userID string, debateID string) (debatedomain.Debate, []debatedomain.Message, error) {
	if strings.TrimSpace(userID) == "" {
		return debatedomain.Debate{}, nil, debatedomain.ErrInvalidUser
	}
	id, err := snowflake.ParseString(debateID)
	if err != nil {
		return debatedomain.Debate{}, nil, debatedomain.ErrDebateNotFound
	}

	row, err := s.debateRepo.FindOne(ctx, &debatedomain.Debate{ID: id, UserID: userID})
	if err != nil {
		return debatedomain.Debate{}, nil, err
	}
	if row == nil {
		return debatedomain.Debate{}, nil, debatedomain.ErrDebateNotFound
	}

	rows, err := s.messageRepo.Find(ctx, &debatedomain.Message{DebateID: id},
		option.WithOrder("round ASC, turn_index ASC"))
	if err != nil {
		return debatedomain.Debate{}, nil, err
	}
	messages := make([]debatedomain.Message, 0, len(rows))
	for _, m := range rows {
		messages = append(messages, *m)
	}
	return *row, messages, nil
}
