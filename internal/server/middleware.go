package server

import (
	"strings"

	"github.com/gin-gonic/gin"

	obscontext "github.com/boardroomhq/boardroom/internal/observability/context"
	"github.com/boardroomhq/boardroom/internal/tier"
)

const (
	HeaderUser = "X-User-ID"
	HeaderTier = "X-User-Tier"

	contextUserIDKey = "user_id"
	contextTierKey   = "tier"
)

// UserRequired resolves the acting user from the X-User-ID header. Identity
// is established upstream (gateway auth); this service only needs the
// resolved principal and plan.
func (s *Server) UserRequired() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := strings.TrimSpace(c.GetHeader(HeaderUser))
		if userID == "" {
			AbortWithError(c, ErrUnauthorized)
			return
		}

		t := tier.ID(strings.TrimSpace(c.GetHeader(HeaderTier)))
		if t == "" {
			t = tier.Starter
		}
		if !tier.Valid(t) {
			AbortWithError(c, newValidationError("tier", "invalid_tier", "unknown tier"))
			return
		}

		c.Set(contextUserIDKey, userID)
		c.Set(contextTierKey, t)
		c.Request = c.Request.WithContext(obscontext.WithUserID(c.Request.Context(), userID))
		c.Next()
	}
}

func currentUser(c *gin.Context) string {
	return c.GetString(contextUserIDKey)
}

func currentTier(c *gin.Context) tier.ID {
	if v, ok := c.Get(contextTierKey); ok {
		if t, ok := v.(tier.ID); ok {
			return t
		}
	}
	return tier.Starter
}
