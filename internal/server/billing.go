package server

import (
	"net/http"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"

	billingcycledomain "github.com/boardroomhq/boardroom/internal/billingcycle/domain"
	subscriptiondomain "github.com/boardroomhq/boardroom/internal/subscription/domain"
	"github.com/boardroomhq/boardroom/internal/tier"
)

type createSubscriptionRequest struct {
	Tier        string `json:"tier"`
	CycleLength string `json:"cycle_length"`
	TrialDays   int    `json:"trial_days,omitempty"`
}

func (s *Server) CreateSubscription(c *gin.Context) {
	var req createSubscriptionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, newValidationError("body", "invalid_json", "malformed request body"))
		return
	}

	length := billingcycledomain.CycleLength(req.CycleLength)
	if length == "" {
		length = billingcycledomain.Monthly
	}

	sub, err := s.subscriptionSvc.Create(c.Request.Context(), subscriptiondomain.CreateRequest{
		UserID:      currentUser(c),
		Tier:        tier.ID(req.Tier),
		CycleLength: length,
		TrialDays:   req.TrialDays,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, sub)
}

func (s *Server) GetCurrentSubscription(c *gin.Context) {
	sub, err := s.subscriptionSvc.GetActiveForUser(c.Request.Context(), currentUser(c))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, sub)
}

func (s *Server) GetSubscriptionByID(c *gin.Context) {
	id, err := parseID(c.Param("id"))
	if err != nil {
		AbortWithError(c, subscriptiondomain.ErrSubscriptionNotFound)
		return
	}

	sub, err := s.subscriptionSvc.Get(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	if sub.UserID != currentUser(c) {
		AbortWithError(c, subscriptiondomain.ErrSubscriptionNotFound)
		return
	}
	c.JSON(http.StatusOK, sub)
}

type changeTierRequest struct {
	Tier string `json:"tier"`
}

// ChangeSubscriptionTier moves the subscription to a new plan with daily
// proration applied immediately.
func (s *Server) ChangeSubscriptionTier(c *gin.Context) {
	id, err := parseID(c.Param("id"))
	if err != nil {
		AbortWithError(c, subscriptiondomain.ErrSubscriptionNotFound)
		return
	}

	var req changeTierRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, newValidationError("body", "invalid_json", "malformed request body"))
		return
	}

	if err := s.requireOwnSubscription(c, id); err != nil {
		AbortWithError(c, err)
		return
	}

	sub, err := s.subscriptionSvc.UpdateTier(c.Request.Context(), subscriptiondomain.UpdateTierRequest{
		SubscriptionID: id,
		NewTier:        tier.ID(req.Tier),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, sub)
}

type cancelSubscriptionRequest struct {
	CancelAtPeriodEnd bool   `json:"cancel_at_period_end"`
	Reason            string `json:"reason,omitempty"`
}

func (s *Server) CancelSubscription(c *gin.Context) {
	id, err := parseID(c.Param("id"))
	if err != nil {
		AbortWithError(c, subscriptiondomain.ErrSubscriptionNotFound)
		return
	}

	var req cancelSubscriptionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, newValidationError("body", "invalid_json", "malformed request body"))
		return
	}

	if err := s.requireOwnSubscription(c, id); err != nil {
		AbortWithError(c, err)
		return
	}

	sub, err := s.subscriptionSvc.Cancel(c.Request.Context(), subscriptiondomain.CancelRequest{
		SubscriptionID:    id,
		CancelAtPeriodEnd: req.CancelAtPeriodEnd,
		Reason:            strings.TrimSpace(req.Reason),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, sub)
}

func (s *Server) ListBillingCycles(c *gin.Context) {
	cycles, err := s.cycleSvc.ListForUser(c.Request.Context(), currentUser(c))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"billing_cycles": cycles})
}

func (s *Server) GetBillingCycleByID(c *gin.Context) {
	cycle, err := s.requireOwnCycle(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	items, err := s.cycleSvc.GetLineItems(c.Request.Context(), cycle.ID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"billing_cycle": cycle,
		"line_items":    items,
	})
}

// GenerateInvoice drafts an invoice for a billing cycle. Generation is not
// idempotent; repeating the call produces a new invoice.
func (s *Server) GenerateInvoice(c *gin.Context) {
	cycle, err := s.requireOwnCycle(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	inv, err := s.invoiceSvc.Generate(c.Request.Context(), cycle.ID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, inv)
}

// ListTiers returns the public plan catalog.
func (s *Server) ListTiers(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"tiers": tier.List()})
}

func (s *Server) requireOwnSubscription(c *gin.Context, id snowflake.ID) error {
	sub, err := s.subscriptionSvc.Get(c.Request.Context(), id)
	if err != nil {
		return err
	}
	if sub.UserID != currentUser(c) {
		return subscriptiondomain.ErrSubscriptionNotFound
	}
	return nil
}

func (s *Server) requireOwnCycle(c *gin.Context) (billingcycledomain.BillingCycle, error) {
	id, err := parseID(c.Param("id"))
	if err != nil {
		return billingcycledomain.BillingCycle{}, billingcycledomain.ErrCycleNotFound
	}

	cycle, err := s.cycleSvc.Get(c.Request.Context(), id)
	if err != nil {
		return billingcycledomain.BillingCycle{}, err
	}
	if cycle.UserID != currentUser(c) {
		return billingcycledomain.BillingCycle{}, billingcycledomain.ErrCycleNotFound
	}
	return cycle, nil
}

func parseID(raw string) (snowflake.ID, error) {
	return snowflake.ParseString(strings.TrimSpace(raw))
}
