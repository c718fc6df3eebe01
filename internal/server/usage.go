package server

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	costdomain "github.com/boardroomhq/boardroom/internal/cost/domain"
	usagedomain "github.com/boardroomhq/boardroom/internal/usage/domain"
)

// GetUsage returns the caller's usage aggregate after lazy period rollover.
func (s *Server) GetUsage(c *gin.Context) {
	agg, err := s.usagesvc.GetUserUsage(c.Request.Context(), currentUser(c), currentTier(c))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, agg)
}

// GetUsageStats aggregates raw events over a time range. Defaults to the
// trailing 30 days.
func (s *Server) GetUsageStats(c *gin.Context) {
	now := s.clock.Now()
	from, err := parseTimeQuery(c.Query("from"), now.AddDate(0, 0, -30))
	if err != nil {
		AbortWithError(c, newValidationError("from", "invalid_time", "from must be RFC 3339"))
		return
	}
	to, err := parseTimeQuery(c.Query("to"), now)
	if err != nil {
		AbortWithError(c, newValidationError("to", "invalid_time", "to must be RFC 3339"))
		return
	}

	stats, err := s.costsvc.GetUsageStats(c.Request.Context(), costdomain.StatsRequest{
		UserID: currentUser(c),
		Tier:   currentTier(c),
		From:   from,
		To:     to,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

// GetBudgetAlerts evaluates quota and budget ceilings. An optional budget
// query parameter adds a custom monthly spend ceiling.
func (s *Server) GetBudgetAlerts(c *gin.Context) {
	var budget *decimal.Decimal
	if raw := strings.TrimSpace(c.Query("budget")); raw != "" {
		parsed, err := decimal.NewFromString(raw)
		if err != nil || parsed.IsNegative() {
			AbortWithError(c, newValidationError("budget", "invalid_amount", "budget must be a non-negative decimal"))
			return
		}
		budget = &parsed
	}

	alerts, err := s.costsvc.CheckBudgetAlerts(c.Request.Context(), currentUser(c), currentTier(c), budget)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"alerts": alerts})
}

func (s *Server) GetCostSuggestions(c *gin.Context) {
	suggestions, err := s.costsvc.GetCostOptimizationSuggestions(c.Request.Context(), currentUser(c), currentTier(c))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"suggestions": suggestions})
}

func (s *Server) ListViolations(c *gin.Context) {
	violations, err := s.usagesvc.ListViolations(c.Request.Context(), currentUser(c))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"violations": violations})
}

// CheckUsageLimit evaluates whether an action would be allowed right now.
// Denial is a 200 with allowed=false, not an error.
func (s *Server) CheckUsageLimit(c *gin.Context) {
	action := usagedomain.Action(c.Param("action"))

	var params *usagedomain.DebateParams
	if action == usagedomain.ActionDebate {
		rounds, err := strconv.ParseInt(c.DefaultQuery("rounds", "1"), 10, 64)
		if err != nil || rounds < 1 {
			AbortWithError(c, newValidationError("rounds", "invalid_value", "rounds must be a positive integer"))
			return
		}
		personas, err := strconv.ParseInt(c.DefaultQuery("personas", "1"), 10, 64)
		if err != nil || personas < 1 {
			AbortWithError(c, newValidationError("personas", "invalid_value", "personas must be a positive integer"))
			return
		}
		params = &usagedomain.DebateParams{Rounds: rounds, Personas: personas}
	}

	check, err := s.usagesvc.CheckUsageLimit(c.Request.Context(), currentUser(c), currentTier(c), action, params)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, check)
}

func parseTimeQuery(raw string, def time.Time) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return def, nil
	}
	return time.Parse(time.RFC3339, raw)
}
