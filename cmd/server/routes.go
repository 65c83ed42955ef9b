package main

import (
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/oriyet/backend/config"
	"github.com/oriyet/backend/internal/analytics"
	"github.com/oriyet/backend/internal/auth"
	"github.com/oriyet/backend/internal/certificates"
	"github.com/oriyet/backend/internal/emaillogs"
	"github.com/oriyet/backend/internal/events"
	"github.com/oriyet/backend/internal/metrics"
	"github.com/oriyet/backend/internal/middleware"
	"github.com/oriyet/backend/internal/models"
	"github.com/oriyet/backend/internal/payments"
	"github.com/oriyet/backend/internal/registrations"
	"github.com/oriyet/backend/pkg/response"
)

// handlers groups every HTTP handler the router mounts.
type handlers struct {
	auth          *auth.Handler
	events        *events.Handler
	registrations *registrations.Handler
	payments      *payments.Handler
	certificates  *certificates.Handler
	emailLogs     *emaillogs.Handler
	analytics     *analytics.Handler
}

type limiter struct {
	limit  int
	window time.Duration
}

func newRouter(cfg *config.Config, h handlers, jwtService *auth.JWTService, counter middleware.Counter, logger *zap.Logger) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.RequestID())
	router.Use(middleware.CORS(cfg.Server.CORSAllowedOrigins))
	router.Use(middleware.Logger(logger))
	router.Use(metrics.Middleware())

	rate := func(name string, l limiter, message string) gin.HandlerFunc {
		return middleware.RateLimit(counter, name, l.limit, l.window, message, logger)
	}
	initiateLimit := rate("payment_initiate", limiter{cfg.RateLimit.InitiateLimit, cfg.RateLimit.InitiateWindow},
		"Too many payment attempts. Please try again later.")
	verifyLimit := rate("payment_verify", limiter{cfg.RateLimit.VerifyLimit, cfg.RateLimit.VerifyWindow},
		"Too many verification attempts. Please try again later.")
	webhookLimit := middleware.AcknowledgedRateLimit(counter, "payment_webhook",
		cfg.RateLimit.WebhookLimit, cfg.RateLimit.WebhookWindow, "Too many webhook requests", logger)

	// Public
	router.GET("/health", func(c *gin.Context) { response.OK(c, "OK", gin.H{"status": "ok"}) })
	router.GET("/metrics", gin.WrapH(metrics.Handler()))
	router.POST("/auth/register", h.auth.Register)
	router.POST("/auth/login", h.auth.Login)
	router.GET("/events/:id", h.events.Get)
	router.POST("/payments/webhook", webhookLimit, h.payments.Webhook)
	router.GET("/certificates/verify/:id", h.certificates.Verify)

	// Protected API (JWT required)
	api := router.Group("")
	api.Use(middleware.JWT(jwtService))
	{
		api.GET("/auth/me", h.auth.Me)

		api.POST("/events/:id/register", h.registrations.Register)
		api.DELETE("/events/:id/register", h.registrations.Cancel)
		api.GET("/events/:id/registration-status", h.registrations.Status)
		api.GET("/registrations/me", h.registrations.ListMine)

		api.POST("/payments/initiate", initiateLimit, h.payments.Initiate)
		api.POST("/payments/verify", verifyLimit, h.payments.Verify)
		api.POST("/payments/cancel", h.payments.Cancel)
		api.GET("/payments/transaction/:id", h.payments.GetTransaction)
		api.GET("/payments/my-payments", h.payments.ListMine)

		api.POST("/certificates/generate", h.certificates.Generate)
		api.GET("/certificates/me", h.certificates.ListMine)
		api.GET("/certificates/:id/download", h.certificates.Download)
	}

	// Admin
	admin := api.Group("")
	admin.Use(middleware.RequireRole(models.RoleAdmin))
	{
		admin.POST("/payments/admin/refund", h.payments.Refund)
		admin.POST("/payments/admin/expire-pending", h.payments.ExpirePending)
		admin.GET("/payments/admin/all", h.payments.ListAll)

		admin.POST("/admin/events", h.events.Create)
		admin.POST("/admin/events/refresh-status", h.events.RefreshStatuses)
		admin.GET("/admin/events/:id/analytics", h.analytics.GetByEvent)
		admin.GET("/admin/events/:id/emails", h.emailLogs.ListByEvent)
		admin.POST("/admin/events/:id/emails/resend", h.emailLogs.Resend)
	}

	router.NoRoute(func(c *gin.Context) { response.NotFound(c, "Route not found") })
	return router
}
