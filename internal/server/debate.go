package server

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	debatedomain "github.com/boardroomhq/boardroom/internal/debate/domain"
	"github.com/boardroomhq/boardroom/internal/persona"
)

type startDebateRequest struct {
	Topic             string   `json:"topic"`
	Mode              string   `json:"mode"`
	SelectedPersonas  []string `json:"selected_personas,omitempty"`
	MaxRounds         int      `json:"max_rounds"`
	IncludeModeration bool     `json:"include_moderation"`
}

// StartDebate opens a debate and streams its events over SSE. The stream
// always terminates with a stream-complete event unless the client
// disconnects first.
func (s *Server) StartDebate(c *gin.Context) {
	var req startDebateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, newValidationError("body", "invalid_json", "malformed request body"))
		return
	}

	run, err := s.debateSvc.Start(c.Request.Context(), debatedomain.StartRequest{
		UserID: currentUser(c),
		Tier:   currentTier(c),
		Config: debatedomain.Config{
			Topic:             req.Topic,
			Mode:              persona.Mode(req.Mode),
			SelectedPersonas:  req.SelectedPersonas,
			MaxRounds:         req.MaxRounds,
			IncludeModeration: req.IncludeModeration,
		},
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	writer := c.Writer
	headers := writer.Header()
	headers.Set("Content-Type", "text/event-stream")
	headers.Set("Cache-Control", "no-cache")
	headers.Set("Connection", "keep-alive")
	headers.Set("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)

	flusher, ok := writer.(http.Flusher)
	if !ok {
		return
	}

	if _, err := io.WriteString(writer, "retry: 2000\n\n"); err != nil {
		return
	}
	flusher.Flush()

	ctx := c.Request.Context()
	heartbeat := time.NewTicker(15 * time.Second)
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case ev, open := <-run.Events():
			if !open {
				return
			}
			if err := writeDebateEvent(writer, ev); err != nil {
				return
			}
			flusher.Flush()
		case <-heartbeat.C:
			if _, err := io.WriteString(writer, ": heartbeat\n\n"); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

func writeDebateEvent(w io.Writer, ev debatedomain.Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Type, data)
	return err
}

// EstimateDebate prices a prospective debate without running it.
func (s *Server) EstimateDebate(c *gin.Context) {
	topic := strings.TrimSpace(c.Query("topic"))
	if topic == "" {
		AbortWithError(c, newValidationError("topic", "required", "topic is required"))
		return
	}

	mode := persona.Mode(c.DefaultQuery("mode", string(persona.ModeBoardroom)))
	if !persona.ValidMode(mode) {
		AbortWithError(c, debatedomain.ErrUnknownMode)
		return
	}

	rounds, err := strconv.ParseInt(c.DefaultQuery("rounds", "3"), 10, 64)
	if err != nil || rounds < 1 {
		AbortWithError(c, debatedomain.ErrInvalidRounds)
		return
	}

	personas := int64(len(persona.DefaultRegistry().All()))
	switch mode {
	case persona.ModeExpertPanel:
		personas = 3
	case persona.ModeQuickConsult:
		personas = 1
	}

	estimate := s.costsvc.EstimateDebateCost(currentTier(c), s.cfg.Completion.Model, topic, rounds, personas)
	c.JSON(http.StatusOK, gin.H{
		"mode":     mode,
		"rounds":   rounds,
		"personas": personas,
		"estimate": estimate,
	})
}

// GetDebateTranscript returns a persisted debate with its messages.
func (s *Server) GetDebateTranscript(c *gin.Context) {
	header, messages, err := s.debateSvc.Transcript(c.Request.Context(), currentUser(c), c.Param("id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"debate":   header,
		"messages": messages,
	})
}

// ListPersonas returns the persona catalog.
func (s *Server) ListPersonas(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"personas": persona.DefaultRegistry().All()})
}
