package clients

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// instruments holds the OpenTelemetry meters shared by one Client.
type instruments struct {
	service     string
	duration    metric.Float64Histogram
	requests    metric.Int64Counter
	retries     metric.Int64Counter
	transitions metric.Int64Counter
}

func newInstruments(meter metric.Meter, service string) (*instruments, error) {
	duration, err := meter.Float64Histogram("http.client.request.duration",
		metric.WithDescription("Duration of calls to a downstream service, retries included"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating duration histogram: %w", err)
	}

	requests, err := meter.Int64Counter("http.client.request.total",
		metric.WithDescription("Calls to a downstream service by result"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating request counter: %w", err)
	}

	retries, err := meter.Int64Counter("http.client.request.retries",
		metric.WithDescription("Attempts repeated after a retryable failure"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating retry counter: %w", err)
	}

	transitions, err := meter.Int64Counter("http.client.circuit.transitions",
		metric.WithDescription("Circuit breaker state changes"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating transition counter: %w", err)
	}

	return &instruments{
		service:     service,
		duration:    duration,
		requests:    requests,
		retries:     retries,
		transitions: transitions,
	}, nil
}

// call records one finished call. status is zero when no response was kept.
func (i *instruments) call(ctx context.Context, method string, status int, elapsed time.Duration, result string) {
	attrs := []attribute.KeyValue{
		attribute.String("http.method", method),
		attribute.String("peer.service", i.service),
		attribute.String("result", result),
	}

	if status > 0 {
		attrs = append(attrs, attribute.Int("http.status_code", status))
	}

	set := metric.WithAttributes(attrs...)
	i.duration.Record(ctx, elapsed.Seconds(), set)
	i.requests.Add(ctx, 1, set)
}

func (i *instruments) retry(ctx context.Context, method string) {
	i.retries.Add(ctx, 1, metric.WithAttributes(
		attribute.String("http.method", method),
		attribute.String("peer.service", i.service),
	))
}

func (i *instruments) transition(from, to State) {
	i.transitions.Add(context.Background(), 1, metric.WithAttributes(
		attribute.String("peer.service", i.service),
		attribute.String("from", from.String()),
		attribute.String("to", to.String()),
	))
}
