package engine

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/boardroomhq/boardroom/internal/clock"
	"github.com/boardroomhq/boardroom/internal/completion"
	"github.com/boardroomhq/boardroom/internal/config"
	costservice "github.com/boardroomhq/boardroom/internal/cost/service"
	debatedomain "github.com/boardroomhq/boardroom/internal/debate/domain"
	"github.com/boardroomhq/boardroom/internal/persona"
	"github.com/boardroomhq/boardroom/internal/ratelimit"
	"github.com/boardroomhq/boardroom/internal/tier"
	usagedomain "github.com/boardroomhq/boardroom/internal/usage/domain"
	usageservice "github.com/boardroomhq/boardroom/internal/usage/service"
)

const stubSummaryOutput = `SUMMARY: The board leans toward a phased rollout.
CONSENSUS:
- The opportunity is real
- Timing matters
DISAGREEMENTS:
- Budget sizing
RECOMMENDATIONS:
- Run a pilot
NEXT STEPS:
- Reconvene in one quarter`

// stubProvider returns deterministic content per persona. It can fail
// selected personas, gate each turn on a token, and report when a turn
// reaches the provider.
type stubProvider struct {
	mu      sync.Mutex
	calls   int
	failFor map[string]bool
	gate    chan struct{}
	started chan string
}

func (p *stubProvider) Complete(ctx context.Context, req completion.Request) (completion.Response, error) {
	if strings.Contains(req.SystemPrompt, "executive assistant") {
		return completion.Response{Content: stubSummaryOutput, Model: req.Model, TokensUsed: 80}, nil
	}

	name := speakerName(req.SystemPrompt)
	if p.started != nil {
		select {
		case p.started <- name:
		case <-ctx.Done():
			return completion.Response{}, ctx.Err()
		}
	}
	if p.gate != nil {
		select {
		case <-p.gate:
		case <-ctx.Done():
			return completion.Response{}, ctx.Err()
		}
	}
	if p.failFor[name] {
		return completion.Response{}, completion.ErrUnavailable
	}

	p.mu.Lock()
	p.calls++
	n := p.calls
	p.mu.Unlock()

	content := fmt.Sprintf("Speaking as %s, I am confident this plan holds. "+
		"The numbers support a staged rollout and the team can execute it. "+
		"We should commit now and review results each quarter.", name)
	return completion.Response{Content: content, Model: "gpt-4o-mini", TokensUsed: 40 + n}, nil
}

func speakerName(systemPrompt string) string {
	for _, p := range persona.DefaultRegistry().All() {
		if strings.Contains(systemPrompt, p.Name) {
			return p.Name
		}
	}
	return "unknown"
}

type fixture struct {
	svc      debatedomain.Service
	usagesvc usagedomain.Service
	db       *gorm.DB
	clk      *clock.FakeClock
}

func newFixture(t *testing.T, provider completion.Provider) *fixture {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(
		&usagedomain.UsageEvent{}, &usagedomain.Aggregate{}, &usagedomain.Violation{},
		&debatedomain.Debate{}, &debatedomain.Message{},
	))

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	clk := clock.NewFakeClock(time.Date(2026, 5, 12, 10, 0, 0, 0, time.UTC))
	usagesvc := usageservice.NewService(db, node, clk, ratelimit.NewKeyedMutex(), nil, nil, zap.NewNop())
	costsvc := costservice.NewService(usagesvc, config.NewStaticPricingHolder(config.DefaultPricingTable()), clk, zap.NewNop())

	svc := NewService(ServiceParam{
		Log:      zap.NewNop(),
		Selector: persona.NewSelector(persona.DefaultRegistry()),
		Provider: provider,
		Usagesvc: usagesvc,
		Costsvc:  costsvc,
		GenID:    node,
		Clock:    clk,
		Config: config.Config{Completion: config.CompletionConfig{
			Model:       "gpt-4o-mini",
			MaxTokens:   300,
			Temperature: 0.7,
			Timeout:     5 * time.Second,
		}},
		DB: db,
	})
	return &fixture{svc: svc, usagesvc: usagesvc, db: db, clk: clk}
}

func collectEvents(t *testing.T, r debatedomain.Run) []debatedomain.Event {
	t.Helper()
	var out []debatedomain.Event
	timeout := time.After(10 * time.Second)
	for {
		select {
		case ev, ok := <-r.Events():
			if !ok {
				return out
			}
			out = append(out, ev)
		case <-timeout:
			t.Fatal("timed out draining debate events")
		}
	}
}

func eventsOfType(events []debatedomain.Event, t debatedomain.EventType) []debatedomain.Event {
	var out []debatedomain.Event
	for _, ev := range events {
		if ev.Type == t {
			out = append(out, ev)
		}
	}
	return out
}

func TestExpertPanelRunsAllTurnsInOrder(t *testing.T) {
	f := newFixture(t, &stubProvider{})
	ctx := context.Background()

	r, err := f.svc.Start(ctx, debatedomain.StartRequest{
		UserID: "user-1",
		Tier:   tier.Professional,
		Config: debatedomain.Config{
			Topic:     "Should we invest in ai infrastructure and security next year?",
			Mode:      persona.ModeExpertPanel,
			MaxRounds: 2,
		},
	})
	require.NoError(t, err)

	events := collectEvents(t, r)
	require.GreaterOrEqual(t, len(events), 4)
	require.Equal(t, debatedomain.EventConnectionEstablished, events[0].Type)
	require.Equal(t, debatedomain.EventDebateStarted, events[1].Type)

	tail := events[len(events)-4:]
	require.Equal(t, debatedomain.EventDebateCompleted, tail[0].Type)
	require.Equal(t, debatedomain.EventGeneratingSummary, tail[1].Type)
	require.Equal(t, debatedomain.EventSummaryReady, tail[2].Type)
	require.Equal(t, debatedomain.EventStreamComplete, tail[3].Type)

	messages := eventsOfType(events, debatedomain.EventMessageGenerated)
	require.Len(t, messages, 6)
	want := [][2]int{{1, 1}, {1, 2}, {1, 3}, {2, 1}, {2, 2}, {2, 3}}
	for i, ev := range messages {
		data := ev.Data.(debatedomain.MessageData)
		require.Equal(t, want[i][0], data.Round)
		require.Equal(t, want[i][1], data.TurnIndex)
		require.GreaterOrEqual(t, data.Confidence, 70)
		require.LessOrEqual(t, data.Confidence, 100)
		require.NotEmpty(t, data.Content)
	}

	state := r.State()
	require.True(t, state.IsComplete)
	require.Len(t, state.Messages, 6)
	require.Zero(t, state.ErrorCount)

	summary := r.Summary()
	require.Equal(t, "The board leans toward a phased rollout.", summary.Summary)
	require.Equal(t, []string{"The opportunity is real", "Timing matters"}, summary.KeyConsensusPoints)
	require.Equal(t, []string{"Budget sizing"}, summary.MajorDisagreements)
	require.Equal(t, []string{"Run a pilot"}, summary.Recommendations)
	require.Equal(t, []string{"Reconvene in one quarter"}, summary.NextSteps)

	agg, err := f.usagesvc.GetUserUsage(ctx, "user-1", tier.Professional)
	require.NoError(t, err)
	require.EqualValues(t, 6, agg.Monthly.Messages)
	require.EqualValues(t, 1, agg.Monthly.Debates)
	require.EqualValues(t, 2, agg.Monthly.DebateRounds)
	require.EqualValues(t, 3, agg.Monthly.MaxPersonasUsed)

	var header debatedomain.Debate
	require.NoError(t, f.db.First(&header).Error)
	require.Equal(t, "completed", header.Status)
	var count int64
	require.NoError(t, f.db.Model(&debatedomain.Message{}).Count(&count).Error)
	require.EqualValues(t, 6, count)
}

func TestTurnFailureDoesNotAbortDebate(t *testing.T) {
	f := newFixture(t, &stubProvider{failFor: map[string]bool{"Marcus Webb": true}})
	ctx := context.Background()

	r, err := f.svc.Start(ctx, debatedomain.StartRequest{
		UserID: "user-1",
		Tier:   tier.Boardroom,
		Config: debatedomain.Config{
			Topic:     "Should the company open a second headquarters in Europe?",
			Mode:      persona.ModeBoardroom,
			MaxRounds: 1,
		},
	})
	require.NoError(t, err)
	events := collectEvents(t, r)

	errs := eventsOfType(events, debatedomain.EventError)
	require.Len(t, errs, 1)
	errData := errs[0].Data.(debatedomain.ErrorData)
	require.Equal(t, "Marcus Webb", errData.Persona)
	require.Equal(t, 1, errData.Round)

	messages := eventsOfType(events, debatedomain.EventMessageGenerated)
	require.Len(t, messages, 6)
	for _, ev := range messages {
		require.NotEqual(t, "Marcus Webb", ev.Data.(debatedomain.MessageData).Persona)
	}

	completed := eventsOfType(events, debatedomain.EventDebateCompleted)
	require.Len(t, completed, 1)
	data := completed[0].Data.(debatedomain.CompletedData)
	require.Equal(t, 6, data.Messages)
	require.Equal(t, 1, data.Errors)

	require.Equal(t, 1, r.State().ErrorCount)

	agg, err := f.usagesvc.GetUserUsage(ctx, "user-1", tier.Boardroom)
	require.NoError(t, err)
	require.EqualValues(t, 6, agg.Monthly.Messages)
}

func TestBoardroomSpeaksInRegistryOrder(t *testing.T) {
	f := newFixture(t, &stubProvider{})

	r, err := f.svc.Start(context.Background(), debatedomain.StartRequest{
		UserID: "user-1",
		Tier:   tier.Enterprise,
		Config: debatedomain.Config{
			Topic:     "Decide next year's top strategic priority for the company",
			Mode:      persona.ModeBoardroom,
			MaxRounds: 1,
		},
	})
	require.NoError(t, err)
	events := collectEvents(t, r)

	var spoke []string
	for _, ev := range eventsOfType(events, debatedomain.EventMessageGenerated) {
		spoke = append(spoke, ev.Data.(debatedomain.MessageData).Persona)
	}

	var want []string
	for _, p := range persona.DefaultRegistry().All() {
		want = append(want, p.Name)
	}
	require.Equal(t, want, spoke)
}

func TestCancellationDiscardsInFlightTurn(t *testing.T) {
	provider := &stubProvider{gate: make(chan struct{})}
	f := newFixture(t, provider)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	r, err := f.svc.Start(ctx, debatedomain.StartRequest{
		UserID: "user-1",
		Tier:   tier.Professional,
		Config: debatedomain.Config{
			Topic:     "Should we sunset the legacy reporting product this year?",
			Mode:      persona.ModeQuickConsult,
			MaxRounds: 2,
		},
	})
	require.NoError(t, err)

	var events []debatedomain.Event
	timeout := time.After(10 * time.Second)
	for {
		var ev debatedomain.Event
		var ok bool
		select {
		case ev, ok = <-r.Events():
		case <-timeout:
			t.Fatal("timed out waiting for turn-started")
		}
		require.True(t, ok)
		events = append(events, ev)
		if ev.Type == debatedomain.EventTurnStarted {
			break
		}
	}

	// The provider is blocked inside the first turn; cancel abandons it.
	cancel()
	events = append(events, collectEvents(t, r)...)

	require.Empty(t, eventsOfType(events, debatedomain.EventMessageGenerated))
	require.Empty(t, eventsOfType(events, debatedomain.EventDebateCompleted))
	require.Empty(t, eventsOfType(events, debatedomain.EventStreamComplete))
	require.False(t, r.State().IsComplete)
	require.Empty(t, r.State().Messages)

	require.Eventually(t, func() bool {
		var header debatedomain.Debate
		if err := f.db.First(&header).Error; err != nil {
			return false
		}
		return header.Status == "canceled"
	}, 5*time.Second, 20*time.Millisecond)
}

func TestPauseHoldsNextTurnUntilResume(t *testing.T) {
	provider := &stubProvider{
		gate:    make(chan struct{}),
		started: make(chan string),
	}
	f := newFixture(t, provider)

	r, err := f.svc.Start(context.Background(), debatedomain.StartRequest{
		UserID: "user-1",
		Tier:   tier.Professional,
		Config: debatedomain.Config{
			Topic:     "Should we renegotiate the primary cloud vendor contract?",
			Mode:      persona.ModeQuickConsult,
			MaxRounds: 2,
		},
	})
	require.NoError(t, err)

	<-provider.started
	r.Pause()
	provider.gate <- struct{}{} // let the in-flight turn finish

	select {
	case name := <-provider.started:
		t.Fatalf("turn for %s started while paused", name)
	case <-time.After(150 * time.Millisecond):
	}

	r.Resume()
	select {
	case <-provider.started:
	case <-time.After(5 * time.Second):
		t.Fatal("second turn never started after resume")
	}
	provider.gate <- struct{}{}

	events := collectEvents(t, r)
	require.Len(t, eventsOfType(events, debatedomain.EventMessageGenerated), 2)
	require.True(t, r.State().IsComplete)
}

func TestCustomModeWithNoResolvedPersonasFailsFast(t *testing.T) {
	f := newFixture(t, &stubProvider{})

	_, err := f.svc.Start(context.Background(), debatedomain.StartRequest{
		UserID: "user-1",
		Tier:   tier.Enterprise,
		Config: debatedomain.Config{
			Topic:            "Should we expand the partner program into new regions?",
			Mode:             persona.ModeCustom,
			SelectedPersonas: []string{"nobody", "also nobody"},
			MaxRounds:        1,
		},
	})
	require.ErrorIs(t, err, debatedomain.ErrNoPersonas)

	var count int64
	require.NoError(t, f.db.Model(&debatedomain.Debate{}).Count(&count).Error)
	require.Zero(t, count)
}

func TestStartValidation(t *testing.T) {
	f := newFixture(t, &stubProvider{})
	ctx := context.Background()

	valid := debatedomain.Config{
		Topic:     "Should we acquire the smaller competitor?",
		Mode:      persona.ModeExpertPanel,
		MaxRounds: 1,
	}

	cases := []struct {
		name    string
		userID  string
		mutate  func(*debatedomain.Config)
		wantErr error
	}{
		{"empty user", "", func(*debatedomain.Config) {}, debatedomain.ErrInvalidUser},
		{"short topic", "user-1", func(c *debatedomain.Config) { c.Topic = "too short" }, debatedomain.ErrTopicTooShort},
		{"long topic", "user-1", func(c *debatedomain.Config) { c.Topic = strings.Repeat("x", 501) }, debatedomain.ErrTopicTooLong},
		{"unknown mode", "user-1", func(c *debatedomain.Config) { c.Mode = "duel" }, debatedomain.ErrUnknownMode},
		{"zero rounds", "user-1", func(c *debatedomain.Config) { c.MaxRounds = 0 }, debatedomain.ErrInvalidRounds},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := valid
			tc.mutate(&cfg)
			_, err := f.svc.Start(ctx, debatedomain.StartRequest{UserID: tc.userID, Tier: tier.Enterprise, Config: cfg})
			require.ErrorIs(t, err, tc.wantErr)
		})
	}
}

func TestStartDeniedByTierCeiling(t *testing.T) {
	f := newFixture(t, &stubProvider{})

	_, err := f.svc.Start(context.Background(), debatedomain.StartRequest{
		UserID: "user-1",
		Tier:   tier.Starter,
		Config: debatedomain.Config{
			Topic:     "Should we double the engineering hiring budget this quarter?",
			Mode:      persona.ModeExpertPanel,
			MaxRounds: 3,
		},
	})
	require.ErrorIs(t, err, debatedomain.ErrLimitExceeded)
}

func TestTranscriptRoundTrip(t *testing.T) {
	f := newFixture(t, &stubProvider{})
	ctx := context.Background()

	r, err := f.svc.Start(ctx, debatedomain.StartRequest{
		UserID: "user-1",
		Tier:   tier.Professional,
		Config: debatedomain.Config{
			Topic:     "Should we invest in ai infrastructure and security next year?",
			Mode:      persona.ModeExpertPanel,
			MaxRounds: 2,
		},
	})
	require.NoError(t, err)
	events := collectEvents(t, r)
	started := events[1].Data.(debatedomain.DebateStartedData)

	header, messages, err := f.svc.Transcript(ctx, "user-1", started.DebateID)
	require.NoError(t, err)
	require.Equal(t, "completed", header.Status)
	require.Len(t, messages, 6)
	for i := 1; i < len(messages); i++ {
		prev, cur := messages[i-1], messages[i]
		require.True(t, prev.Round < cur.Round || (prev.Round == cur.Round && prev.TurnIndex < cur.TurnIndex))
	}

	_, _, err = f.svc.Transcript(ctx, "someone-else", started.DebateID)
	require.ErrorIs(t, err, debatedomain.ErrDebateNotFound)

	_, _, err = f.svc.Transcript(ctx, "user-1", "not-a-snowflake")
	require.ErrorIs(t, err, debatedomain.ErrDebateNotFound)
}
