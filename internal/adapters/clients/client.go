// Package clients is the outbound HTTP layer: one instrumented client per
// downstream service, with retries and a circuit breaker.
package clients

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	"github.com/jsamuelsen/quotekeeper/internal/adapters/http/middleware"
	"github.com/jsamuelsen/quotekeeper/internal/platform/config"
	"github.com/jsamuelsen/quotekeeper/internal/platform/logging"
)

const (
	instrumentationName = "github.com/jsamuelsen/quotekeeper/internal/adapters/clients"

	defaultTimeout = 30 * time.Second
)

// Config configures a Client.
type Config struct {
	// BaseURL is prefixed to every request path.
	BaseURL string

	// ServiceName names the downstream service in logs, spans and metrics.
	ServiceName string

	// Timeout bounds a single attempt. Retries and their waits come on top.
	Timeout time.Duration

	Retry     config.RetryConfig
	Circuit   config.CircuitBreakerConfig
	Transport config.TransportConfig

	// UserAgent is sent on every request when set.
	UserAgent string

	// Decorate runs on every attempt, retries included.
	Decorate func(*http.Request)

	Logger *slog.Logger
}

// Client sends requests to one downstream service. A call is refused while
// the breaker is open; otherwise failed attempts are retried with jittered
// exponential backoff and the final outcome is reported to the breaker.
type Client struct {
	http     *http.Client
	baseURL  string
	service  string
	retry    config.RetryConfig
	agent    string
	decorate func(*http.Request)

	breaker *Breaker
	tracer  trace.Tracer
	metrics *instruments
	logger  *slog.Logger
}

// New creates a Client. ServiceName is required.
func New(cfg *Config) (*Client, error) {
	if cfg == nil {
		return nil, errors.New("config is required")
	}

	if cfg.ServiceName == "" {
		return nil, errors.New("service name is required")
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	retry := cfg.Retry
	if retry.MaxAttempts <= 0 {
		retry.MaxAttempts = 1
	}

	metrics, err := newInstruments(otel.Meter(instrumentationName), cfg.ServiceName)
	if err != nil {
		return nil, err
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	logger = logger.With(
		slog.String("component", "clients.Client"),
		slog.String("downstream", cfg.ServiceName),
	)

	breaker := NewBreaker(cfg.Circuit)
	breaker.OnChange(func(from, to State) {
		metrics.transition(from, to)
		logger.Warn("circuit breaker state changed",
			slog.String("from", from.String()),
			slog.String("to", to.String()),
		)
	})

	return &Client{
		http: &http.Client{
			Timeout:   timeout,
			Transport: newTransport(cfg.Transport),
		},
		baseURL:  strings.TrimSuffix(cfg.BaseURL, "/"),
		service:  cfg.ServiceName,
		retry:    retry,
		agent:    cfg.UserAgent,
		decorate: cfg.Decorate,
		breaker:  breaker,
		tracer:   otel.Tracer(instrumentationName),
		metrics:  metrics,
		logger:   logger,
	}, nil
}

func newTransport(cfg config.TransportConfig) *http.Transport {
	t := http.DefaultTransport.(*http.Transport).Clone()

	if cfg.MaxIdleConns > 0 {
		t.MaxIdleConns = cfg.MaxIdleConns
	}

	if cfg.MaxIdleConnsPerHost > 0 {
		t.MaxIdleConnsPerHost = cfg.MaxIdleConnsPerHost
	}

	if cfg.IdleConnTimeout > 0 {
		t.IdleConnTimeout = cfg.IdleConnTimeout
	}

	return t
}

// Do sends req. 5xx responses and transient network errors are retried; any
// other response is returned to the caller, who closes its body.
//
// A request with a body is only resent when req.GetBody is set.
func (c *Client) Do(ctx context.Context, req *http.Request) (*http.Response, error) {
	start := time.Now()
	logger := logging.FromContext(ctx).With(
		slog.String("downstream", c.service),
		slog.String("method", req.Method),
		slog.String("path", req.URL.Path),
	)

	gen, err := c.breaker.Acquire()
	if err != nil {
		c.metrics.call(ctx, req.Method, 0, time.Since(start), "circuit_open")
		logger.Warn("request blocked by circuit breaker")

		return nil, err
	}

	ctx, span := c.tracer.Start(ctx, "HTTP "+req.Method+" "+c.service,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("http.method", req.Method),
			attribute.String("http.url", req.URL.String()),
			attribute.String("peer.service", c.service),
		),
	)
	defer span.End()

	c.prepare(ctx, req)

	attempts := 0
	resp, err := backoff.Retry(ctx,
		func() (*http.Response, error) {
			attempts++
			if attempts > 1 {
				if err := c.rewind(req); err != nil {
					return nil, backoff.Permanent(err)
				}
			}

			return c.attempt(ctx, req)
		},
		backoff.WithBackOff(c.newBackOff()),
		backoff.WithMaxTries(uint(c.retry.MaxAttempts)), //nolint:gosec // MaxAttempts is positive
		backoff.WithNotify(func(err error, wait time.Duration) {
			c.metrics.retry(ctx, req.Method)
			logger.Debug("retrying request",
				slog.Int("attempt", attempts+1),
				slog.Duration("backoff", wait),
				slog.Any("error", err),
			)
		}),
	)

	elapsed := time.Since(start)
	span.SetAttributes(attribute.Int("http.attempts", attempts))

	if err != nil {
		err = c.finalError(ctx, err)

		c.breaker.Release(gen, false)
		span.SetStatus(codes.Error, err.Error())
		c.metrics.call(ctx, req.Method, 0, elapsed, "error")
		logger.Error("request failed",
			slog.Int("attempts", attempts),
			slog.Duration("duration", elapsed),
			slog.Any("error", err),
		)

		return nil, err
	}

	c.breaker.Release(gen, true)
	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))

	if resp.StatusCode >= http.StatusBadRequest {
		span.SetStatus(codes.Error, "HTTP "+resp.Status)
	}

	c.metrics.call(ctx, req.Method, resp.StatusCode, elapsed, fmt.Sprintf("%dxx", resp.StatusCode/100))
	logger.Debug("request completed",
		slog.Int("status", resp.StatusCode),
		slog.Int("attempts", attempts),
		slog.Duration("duration", elapsed),
	)

	return resp, nil
}

// attempt sends req once and sorts the result into success, retryable and
// permanent failures.
func (c *Client) attempt(ctx context.Context, req *http.Request) (*http.Response, error) {
	resp, err := c.http.Do(req.WithContext(ctx))
	if err != nil {
		if retryable(err) {
			return nil, err
		}

		return nil, backoff.Permanent(err)
	}

	if resp.StatusCode >= http.StatusInternalServerError {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4<<10))
		_ = resp.Body.Close()

		return nil, &StatusError{Code: resp.StatusCode}
	}

	return resp, nil
}

// finalError unwraps the retry loop's error. Exhausted retries are reported
// as ErrMaxRetriesExceeded; cancellation and permanent failures pass through.
func (c *Client) finalError(ctx context.Context, err error) error {
	var permanent *backoff.PermanentError
	if errors.As(err, &permanent) {
		return fmt.Errorf("request failed: %w", permanent.Unwrap())
	}

	if ctx.Err() != nil {
		return fmt.Errorf("request abandoned: %w", err)
	}

	return fmt.Errorf("%w: %w", ErrMaxRetriesExceeded, err)
}

func (c *Client) newBackOff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()

	if c.retry.InitialInterval > 0 {
		b.InitialInterval = c.retry.InitialInterval
	}

	if c.retry.MaxInterval > 0 {
		b.MaxInterval = c.retry.MaxInterval
	}

	if c.retry.Multiplier > 0 {
		b.Multiplier = c.retry.Multiplier
	}

	b.RandomizationFactor = c.retry.JitterFactor

	return b
}

// prepare sets the headers every attempt carries.
func (c *Client) prepare(ctx context.Context, req *http.Request) {
	if id := middleware.RequestIDFromContext(ctx); id != "" {
		req.Header.Set(middleware.HeaderRequestID, id)
	}

	if id := middleware.CorrelationIDFromContext(ctx); id != "" {
		req.Header.Set(middleware.HeaderCorrelationID, id)
	}

	if c.agent != "" {
		req.Header.Set("User-Agent", c.agent)
	}

	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(req.Header))

	if c.decorate != nil {
		c.decorate(req)
	}
}

// rewind restores the body before a retry and decorates the request again.
func (c *Client) rewind(req *http.Request) error {
	if req.GetBody != nil {
		body, err := req.GetBody()
		if err != nil {
			return fmt.Errorf("rewinding request body: %w", err)
		}

		req.Body = body
	}

	if c.decorate != nil {
		c.decorate(req)
	}

	return nil
}

// Get sends a GET for path.
func (c *Client) Get(ctx context.Context, path string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url(path), http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}

	return c.Do(ctx, req)
}

// Post sends a JSON POST for path.
func (c *Client) Post(ctx context.Context, path string, body io.Reader) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url(path), body)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")

	return c.Do(ctx, req)
}

// CircuitState reports the breaker's state.
func (c *Client) CircuitState() State {
	return c.breaker.State()
}

func (c *Client) url(path string) string {
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}

	return c.baseURL + path
}

// retryable reports whether a transport error may succeed on another attempt.
func retryable(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	var opErr *net.OpError

	return errors.As(err, &opErr)
}
