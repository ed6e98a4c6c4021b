package telemetry

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/jsamuelsen/quotekeeper/internal/platform/logging"
)

const instrumentationName = "github.com/jsamuelsen/quotekeeper/internal/platform/telemetry"

// HeaderTraceID carries the request's trace id back to the caller.
const HeaderTraceID = "X-Trace-ID"

// Health and metrics routes live under this prefix and are never traced.
const probePrefix = "/-/"

type serverInstruments struct {
	duration metric.Float64Histogram
	requests metric.Int64Counter
	inFlight metric.Int64UpDownCounter
}

func newServerInstruments(meter metric.Meter) (*serverInstruments, error) {
	duration, err := meter.Float64Histogram("http.server.request.duration",
		metric.WithDescription("Duration of API requests."),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	requests, err := meter.Int64Counter("http.server.request.total",
		metric.WithDescription("API requests by route and status."),
	)
	if err != nil {
		return nil, err
	}

	inFlight, err := meter.Int64UpDownCounter("http.server.active_requests",
		metric.WithDescription("API requests currently being served."),
	)
	if err != nil {
		return nil, err
	}

	return &serverInstruments{duration: duration, requests: requests, inFlight: inFlight}, nil
}

// begin counts a request as in flight and returns the func that finishes it.
func (m *serverInstruments) begin(ctx context.Context, method, route string) func(status int) {
	start := time.Now()
	base := []attribute.KeyValue{
		attribute.String("http.method", method),
		attribute.String("http.route", route),
	}

	m.inFlight.Add(ctx, 1, metric.WithAttributes(base...))

	return func(status int) {
		m.inFlight.Add(ctx, -1, metric.WithAttributes(base...))

		done := metric.WithAttributes(append(base, attribute.Int("http.status_code", status))...)
		m.duration.Record(ctx, time.Since(start).Seconds(), done)
		m.requests.Add(ctx, 1, done)
	}
}

// Middleware returns the tracing handler followed by the request handler.
// API requests get an otelgin span, a trace_id on the request logger, an
// X-Trace-ID response header and request metrics. Probes pass through.
func Middleware(serviceName string) []gin.HandlerFunc {
	instruments, err := newServerInstruments(otel.Meter(instrumentationName))
	if err != nil {
		otel.Handle(err)
	}

	tracing := otelgin.Middleware(serviceName, otelgin.WithFilter(func(r *http.Request) bool {
		return !strings.HasPrefix(r.URL.Path, probePrefix)
	}))

	return []gin.HandlerFunc{tracing, observe(instruments)}
}

func observe(instruments *serverInstruments) gin.HandlerFunc {
	return func(c *gin.Context) {
		if strings.HasPrefix(c.Request.URL.Path, probePrefix) {
			c.Next()
			return
		}

		ctx := c.Request.Context()

		if sc := trace.SpanContextFromContext(ctx); sc.HasTraceID() {
			id := sc.TraceID().String()
			c.Header(HeaderTraceID, id)
			c.Request = c.Request.WithContext(logging.WithTraceID(ctx, id))
		}

		if instruments == nil {
			c.Next()
			return
		}

		finish := instruments.begin(ctx, c.Request.Method, c.FullPath())
		c.Next()
		finish(c.Writer.Status())
	}
}
