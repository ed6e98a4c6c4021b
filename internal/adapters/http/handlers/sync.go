package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"nhooyr.io/websocket"

	"github.com/jsamuelsen/quotekeeper/internal/adapters/events"
	"github.com/jsamuelsen/quotekeeper/internal/adapters/http/dto"
	"github.com/jsamuelsen/quotekeeper/internal/app"
	"github.com/jsamuelsen/quotekeeper/internal/platform/logging"
)

// NextRunner reports when the next periodic sync fires.
type NextRunner interface {
	NextRun() (time.Time, bool)
}

// SyncHandler serves the sync endpoints and the status event stream.
type SyncHandler struct {
	service  *app.SyncService
	schedule NextRunner
	broker   *events.Broker
}

// NewSyncHandler creates a sync handler. schedule and broker may be nil.
func NewSyncHandler(service *app.SyncService, schedule NextRunner, broker *events.Broker) *SyncHandler {
	return &SyncHandler{service: service, schedule: schedule, broker: broker}
}

// RunSync handles POST /api/v1/sync. It waits for any cycle in flight.
// A failed fetch is reported in the body with status 200; nothing changed locally.
func (h *SyncHandler) RunSync(c *gin.Context) {
	res := h.service.RunSyncCycle(c.Request.Context(), app.TriggerManual)

	c.JSON(http.StatusOK, NewSyncResponse(res))
}

// ReplaceAll handles POST /api/v1/sync/replace-all.
func (h *SyncHandler) ReplaceAll(c *gin.Context) {
	res := h.service.ReplaceAllFromServer(c.Request.Context())

	c.JSON(http.StatusOK, NewSyncResponse(res))
}

// Status handles GET /api/v1/sync/status.
func (h *SyncHandler) Status(c *gin.Context) {
	resp := dto.SyncStatusResponse{InFlight: h.service.InFlight()}

	if last, ok := h.service.LastResult(); ok {
		r := NewSyncResponse(last)
		resp.Last = &r
	}

	if h.schedule != nil {
		if next, ok := h.schedule.NextRun(); ok {
			resp.NextRun = &next
		}
	}

	c.JSON(http.StatusOK, resp)
}

// Events handles GET /api/v1/sync/events by upgrading to a websocket that
// receives every sync status event until the client goes away.
func (h *SyncHandler) Events(c *gin.Context) {
	if h.broker == nil {
		dto.HandleErrorCode(c, dto.ErrorCodeUnavailable, "event stream disabled")
		return
	}

	sub, err := events.AcceptWebSocket(c.Writer, c.Request, &websocket.AcceptOptions{})
	if err != nil {
		// Accept has already written the handshake failure.
		return
	}

	ctx := c.Request.Context()
	logger := logging.FromContext(ctx)

	if err := h.broker.Subscribe(ctx, sub); err != nil {
		_ = sub.Close()
		logger.WarnContext(ctx, "event subscription refused", slog.Any("error", err))

		return
	}

	defer func() { _ = h.broker.Unsubscribe(context.Background(), sub) }()

	if err := sub.Serve(ctx); err != nil {
		logger.DebugContext(ctx, "event stream closed", slog.Any("error", err))
	}
}

// RegisterSyncRoutes registers sync routes on the given group.
func (h *SyncHandler) RegisterSyncRoutes(rg *gin.RouterGroup) {
	s := rg.Group("/sync")
	s.POST("", h.RunSync)
	s.POST("/replace-all", h.ReplaceAll)
	s.GET("/status", h.Status)
}

// RegisterEventRoutes registers the websocket route. Keep it off groups with a
// request timeout.
func (h *SyncHandler) RegisterEventRoutes(rg *gin.RouterGroup) {
	rg.GET("/sync/events", h.Events)
}

// NewSyncResponse converts a sync result for the wire.
func NewSyncResponse(res app.SyncResult) dto.SyncResponse {
	return dto.SyncResponse{
		Trigger:        string(res.Trigger),
		Mode:           string(res.Mode),
		Outcome:        res.Outcome.Kind.String(),
		Added:          res.Outcome.Added,
		Replaced:       res.Outcome.Replaced,
		Failed:         res.Failed,
		Skipped:        res.Skipped,
		Message:        res.Message,
		PersistWarning: res.PersistWarning,
		Error:          res.Error,
		At:             res.At,
		DurationMillis: res.Duration.Milliseconds(),
	}
}
