package middleware

import (
	"bytes"
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jsamuelsen/quotekeeper/internal/adapters/http/dto"
	"github.com/jsamuelsen/quotekeeper/internal/platform/logging"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func serve(engine *gin.Engine, req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	engine.ServeHTTP(w, req)

	return w
}

func TestRequestAndCorrelationID(t *testing.T) {
	tests := []struct {
		name          string
		requestID     string
		correlationID string
	}{
		{name: "generated"},
		{name: "propagated", requestID: "req-1", correlationID: "corr-1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var fromGin, fromCtx, corrFromGin, corrFromCtx string

			engine := gin.New()
			engine.Use(RequestID(), CorrelationID())
			engine.GET("/", func(c *gin.Context) {
				fromGin = GetRequestID(c)
				fromCtx = RequestIDFromContext(c.Request.Context())
				corrFromGin = GetCorrelationID(c)
				corrFromCtx = CorrelationIDFromContext(c.Request.Context())
				c.Status(http.StatusNoContent)
			})

			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.requestID != "" {
				req.Header.Set(HeaderRequestID, tt.requestID)
				req.Header.Set(HeaderCorrelationID, tt.correlationID)
			}

			w := serve(engine, req)

			require.NotEmpty(t, fromGin)
			assert.Equal(t, fromGin, fromCtx)
			assert.Equal(t, fromGin, w.Header().Get(HeaderRequestID))
			assert.Equal(t, corrFromGin, corrFromCtx)
			assert.Equal(t, corrFromGin, w.Header().Get(HeaderCorrelationID))

			if tt.requestID != "" {
				assert.Equal(t, tt.requestID, fromGin)
				assert.Equal(t, tt.correlationID, corrFromGin)
			} else {
				assert.Len(t, fromGin, 36)
				assert.NotEqual(t, fromGin, corrFromGin)
			}
		})
	}
}

func TestContextIDs_Empty(t *testing.T) {
	assert.Empty(t, RequestIDFromContext(context.Background()))
	assert.Empty(t, CorrelationIDFromContext(nil)) //nolint:staticcheck // nil guard
}

func TestLogging(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))

	engine := gin.New()
	engine.Use(Logger(logger), RequestID(), Logging("/quiet"))
	engine.GET("/api/v1/quotes", func(c *gin.Context) { c.Status(http.StatusOK) })
	engine.GET("/api/v1/missing", func(c *gin.Context) { c.Status(http.StatusNotFound) })
	engine.GET("/-/live", func(c *gin.Context) { c.Status(http.StatusOK) })
	engine.GET("/quiet", func(c *gin.Context) { c.Status(http.StatusOK) })

	serve(engine, httptest.NewRequest(http.MethodGet, "/-/live", nil))
	serve(engine, httptest.NewRequest(http.MethodGet, "/quiet", nil))
	assert.Zero(t, buf.Len())

	serve(engine, httptest.NewRequest(http.MethodGet, "/api/v1/quotes?category=Life", nil))
	out := buf.String()
	assert.Contains(t, out, `"msg":"request completed"`)
	assert.Contains(t, out, `"path":"/api/v1/quotes?category=Life"`)
	assert.Contains(t, out, `"request_id":`)
	assert.Contains(t, out, `"level":"INFO"`)

	buf.Reset()
	serve(engine, httptest.NewRequest(http.MethodGet, "/api/v1/missing", nil))
	assert.Contains(t, buf.String(), `"level":"WARN"`)
}

func TestLogger_StoresLogger(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))

	var got *slog.Logger

	engine := gin.New()
	engine.Use(Logger(logger))
	engine.GET("/", func(c *gin.Context) {
		got, _ = logging.Lookup(c.Request.Context())
	})

	serve(engine, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Same(t, logger, got)
}

func TestRecovery(t *testing.T) {
	engine := gin.New()
	engine.Use(Logger(slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))), Recovery())
	engine.GET("/panic", func(*gin.Context) { panic("boom") })
	engine.GET("/late", func(c *gin.Context) {
		c.String(http.StatusOK, "partial")
		panic("after write")
	})

	w := serve(engine, httptest.NewRequest(http.MethodGet, "/panic", nil))
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Contains(t, w.Body.String(), dto.ErrorCodeInternal)
	assert.NotContains(t, w.Body.String(), "boom")

	w = serve(engine, httptest.NewRequest(http.MethodGet, "/late", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "partial", w.Body.String())
}

func TestTimeout(t *testing.T) {
	var deadline time.Time

	var ok bool

	engine := gin.New()
	engine.Use(Timeout(time.Minute))
	engine.GET("/", func(c *gin.Context) {
		deadline, ok = c.Request.Context().Deadline()
	})

	serve(engine, httptest.NewRequest(http.MethodGet, "/", nil))

	require.True(t, ok)
	assert.WithinDuration(t, time.Now().Add(time.Minute), deadline, 5*time.Second)
}
