package completion

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/boardroomhq/boardroom/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) (*OpenAIClient, *httptest.Server) {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	cfg := config.Config{}
	cfg.Completion = config.CompletionConfig{
		BaseURL:   server.URL,
		APIKey:    "test-key",
		Model:     "gpt-4o-mini",
		MaxTokens: 100,
		Timeout:   2 * time.Second,
	}
	return NewOpenAIClient(cfg, zap.NewNop()), server
}

func TestCompleteParsesResponse(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/chat/completions", r.URL.Path)
		require.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

		var req chatRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Equal(t, "gpt-4o-mini", req.Model)
		require.Equal(t, "system", req.Messages[0].Role)

		_ = json.NewEncoder(w).Encode(map[string]any{
			"model": "gpt-4o-mini",
			"choices": []map[string]any{
				{"message": map[string]any{"content": "The market will not wait."}},
			},
			"usage": map[string]any{"total_tokens": 42},
		})
	})

	resp, err := client.Complete(context.Background(), Request{
		SystemPrompt: "You are a CEO.",
		Messages:     []Message{{Role: "user", Content: "Open the debate."}},
	})
	require.NoError(t, err)
	assert.Equal(t, "The market will not wait.", resp.Content)
	assert.Equal(t, 42, resp.TokensUsed)
}

func TestCompleteEstimatesTokensWhenUsageMissing(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{
				{"message": map[string]any{"content": "abcdefgh"}},
			},
		})
	})

	resp, err := client.Complete(context.Background(), Request{SystemPrompt: "x"})
	require.NoError(t, err)
	assert.Equal(t, 2, resp.TokensUsed)
}

func TestCompleteServerError(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})

	_, err := client.Complete(context.Background(), Request{SystemPrompt: "x"})
	require.ErrorIs(t, err, ErrUnavailable)
}

func TestCompleteCancellation(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(5 * time.Second):
		}
	})

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	_, err := client.Complete(ctx, Request{SystemPrompt: "x"})
	require.Error(t, err)
}

func TestCompleteEmptyPrompt(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {})
	_, err := client.Complete(context.Background(), Request{})
	require.ErrorIs(t, err, ErrEmptyPrompt)
}

func TestSanitizeName(t *testing.T) {
	assert.Equal(t, "Victoria_Hayes", sanitizeName("Victoria Hayes"))
	assert.Equal(t, "ok-name_1", sanitizeName("ok-name_1!"))
	assert.Equal(t, "", sanitizeName(""))
}

func TestEstimateTokens(t *testing.T) {
	assert.Equal(t, 0, EstimateTokens(""))
	assert.Equal(t, 1, EstimateTokens("ab"))
	assert.Equal(t, 2, EstimateTokens("abcde"))
}
