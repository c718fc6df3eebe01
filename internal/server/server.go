// Package server exposes the HTTP API: debate streaming, usage and cost
// reporting, and the billing surface.
package server

import (
	"context"
	"net/http"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/fx"
	"gorm.io/gorm"

	"github.com/boardroomhq/boardroom/internal/billingcycle"
	billingcycledomain "github.com/boardroomhq/boardroom/internal/billingcycle/domain"
	"github.com/boardroomhq/boardroom/internal/clock"
	"github.com/boardroomhq/boardroom/internal/completion"
	"github.com/boardroomhq/boardroom/internal/config"
	"github.com/boardroomhq/boardroom/internal/cost"
	costdomain "github.com/boardroomhq/boardroom/internal/cost/domain"
	"github.com/boardroomhq/boardroom/internal/debate"
	debatedomain "github.com/boardroomhq/boardroom/internal/debate/domain"
	"github.com/boardroomhq/boardroom/internal/invoice"
	invoicedomain "github.com/boardroomhq/boardroom/internal/invoice/domain"
	"github.com/boardroomhq/boardroom/internal/observability"
	obsmiddleware "github.com/boardroomhq/boardroom/internal/observability/logger"
	obstracing "github.com/boardroomhq/boardroom/internal/observability/tracing"
	"github.com/boardroomhq/boardroom/internal/persona"
	"github.com/boardroomhq/boardroom/internal/ratelimit"
	"github.com/boardroomhq/boardroom/internal/scheduler"
	"github.com/boardroomhq/boardroom/internal/subscription"
	subscriptiondomain "github.com/boardroomhq/boardroom/internal/subscription/domain"
	"github.com/boardroomhq/boardroom/internal/usage"
	usagedomain "github.com/boardroomhq/boardroom/internal/usage/domain"
)

var Module = fx.Module("http.server",
	fx.Provide(registerGin),
	persona.Module,
	completion.Module,
	ratelimit.Module,
	usage.Module,
	cost.Module,
	billingcycle.Module,
	subscription.Module,
	invoice.Module,
	debate.Module,
	scheduler.Module,
	fx.Invoke(NewServer),
	fx.Invoke(run),
)

func NewEngine(obsCfg observability.Config) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(obsmiddleware.GinMiddleware(obsmiddleware.MiddlewareConfig{
		Debug:           obsCfg.Debug(),
		ErrorClassifier: classifyErrorForLog,
	}))
	r.Use(obstracing.GinMiddleware())
	r.Use(ErrorHandlingMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

func registerGin(obsCfg observability.Config) *gin.Engine {
	return NewEngine(obsCfg)
}

func run(lc fx.Lifecycle, cfg config.Config, r *gin.Engine) {
	srv := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: r,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					panic(err)
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	})
}

type Server struct {
	engine          *gin.Engine
	cfg             config.Config
	db              *gorm.DB
	genID           *snowflake.Node
	clock           clock.Clock
	debateSvc       debatedomain.Service
	usagesvc        usagedomain.Service
	costsvc         costdomain.Service
	subscriptionSvc subscriptiondomain.Service
	cycleSvc        billingcycledomain.Service
	invoiceSvc      invoicedomain.Service
}

type ServerParams struct {
	fx.In

	Gin             *gin.Engine
	Cfg             config.Config
	DB              *gorm.DB
	GenID           *snowflake.Node
	Clock           clock.Clock
	DebateSvc       debatedomain.Service
	Usagesvc        usagedomain.Service
	Costsvc         costdomain.Service
	SubscriptionSvc subscriptiondomain.Service
	CycleSvc        billingcycledomain.Service
	InvoiceSvc      invoicedomain.Service
}

func NewServer(p ServerParams) *Server {
	svc := &Server{
		engine:          p.Gin,
		cfg:             p.Cfg,
		db:              p.DB,
		genID:           p.GenID,
		clock:           p.Clock,
		debateSvc:       p.DebateSvc,
		usagesvc:        p.Usagesvc,
		costsvc:         p.Costsvc,
		subscriptionSvc: p.SubscriptionSvc,
		cycleSvc:        p.CycleSvc,
		invoiceSvc:      p.InvoiceSvc,
	}

	svc.registerAPIRoutes()

	return svc
}

func (s *Server) Engine() *gin.Engine {
	return s.engine
}

func (s *Server) registerAPIRoutes() {
	api := s.engine.Group("/api/v1")

	api.GET("/tiers", s.ListTiers)
	api.GET("/personas", s.ListPersonas)

	user := api.Group("", s.UserRequired())

	// -------- Debates --------
	user.POST("/debates", s.StartDebate)
	user.GET("/debates/estimate", s.EstimateDebate)
	user.GET("/debates/:id", s.GetDebateTranscript)

	// -------- Usage --------
	user.GET("/usage", s.GetUsage)
	user.GET("/usage/stats", s.GetUsageStats)
	user.GET("/usage/alerts", s.GetBudgetAlerts)
	user.GET("/usage/suggestions", s.GetCostSuggestions)
	user.GET("/usage/violations", s.ListViolations)
	user.GET("/usage/limits/:action", s.CheckUsageLimit)

	// -------- Subscriptions --------
	user.POST("/subscriptions", s.CreateSubscription)
	user.GET("/subscriptions/current", s.GetCurrentSubscription)
	user.GET("/subscriptions/:id", s.GetSubscriptionByID)
	user.POST("/subscriptions/:id/tier", s.ChangeSubscriptionTier)
	user.POST("/subscriptions/:id/cancel", s.CancelSubscription)

	// -------- Billing cycles --------
	user.GET("/billing-cycles", s.ListBillingCycles)
	user.GET("/billing-cycles/:id", s.GetBillingCycleByID)
	user.POST("/billing-cycles/:id/invoice", s.GenerateInvoice)

	// -------- Invoices --------
	user.GET("/invoices", s.ListInvoices)
	user.GET("/invoices/:id", s.GetInvoiceByID)
	user.GET("/invoices/:id/html", s.RenderInvoiceHTML)
	user.GET("/invoices/:id/pdf", s.RenderInvoicePDF)
	user.POST("/invoices/:id/send", s.SendInvoice)
	user.POST("/invoices/:id/pay", s.PayInvoice)
}
