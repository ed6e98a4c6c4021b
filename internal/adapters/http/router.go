package http

import (
	"log/slog"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/jsamuelsen/quotekeeper/internal/adapters/http/handlers"
	"github.com/jsamuelsen/quotekeeper/internal/adapters/http/middleware"
	"github.com/jsamuelsen/quotekeeper/internal/adapters/session"
	"github.com/jsamuelsen/quotekeeper/internal/platform/telemetry"
)

// DefaultRequestTimeout bounds API requests, including a manual sync that
// waits for the writer slot.
const DefaultRequestTimeout = 30 * time.Second

// RouterConfig carries everything SetupRouter wires. Nil handlers leave their
// routes unregistered.
type RouterConfig struct {
	Logger *slog.Logger

	// ServiceName labels spans and request metrics.
	ServiceName string

	HealthHandler *handlers.HealthHandler
	QuoteHandler  *handlers.QuoteHandler
	SyncHandler   *handlers.SyncHandler

	// Session backs the last viewed quote. Without it the API is stateless.
	Session *session.Manager

	// Timeout applies to every API route except the event stream.
	Timeout time.Duration
}

// SetupRouter installs middleware and routes on engine.
//
// Global middleware order: recovery, logger, request id, correlation id,
// tracing and metrics, access log. Probes live under /-/ with no session or
// timeout. Business routes live under /api/v1.
func SetupRouter(engine *gin.Engine, cfg RouterConfig) {
	engine.Use(
		middleware.Recovery(),
		middleware.Logger(cfg.Logger),
		middleware.RequestID(),
		middleware.CorrelationID(),
	)
	engine.Use(telemetry.Middleware(cfg.ServiceName)...)
	engine.Use(middleware.Logging())

	if cfg.HealthHandler != nil {
		cfg.HealthHandler.RegisterHealthRoutesOnEngine(engine)
	}

	api := engine.Group("/api/v1")
	if cfg.Session != nil {
		api.Use(cfg.Session.Middleware())
	}

	// The event stream is long-lived and must not inherit the request deadline.
	if cfg.SyncHandler != nil {
		cfg.SyncHandler.RegisterEventRoutes(api)
	}

	bounded := api.Group("")
	if cfg.Timeout > 0 {
		bounded.Use(middleware.Timeout(cfg.Timeout))
	}

	if cfg.QuoteHandler != nil {
		cfg.QuoteHandler.RegisterQuoteRoutes(bounded)
	}

	if cfg.SyncHandler != nil {
		cfg.SyncHandler.RegisterSyncRoutes(bounded)
	}
}

// SetupMinimalRouter installs recovery and the probes only.
func SetupMinimalRouter(engine *gin.Engine, logger *slog.Logger, healthHandler *handlers.HealthHandler) {
	engine.Use(middleware.Recovery(), middleware.Logger(logger), middleware.RequestID())

	if healthHandler != nil {
		healthHandler.RegisterHealthRoutesOnEngine(engine)
	}
}
