package acl

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/jsamuelsen/quotekeeper/internal/adapters/clients"
)

// maxResponseBody caps how much of a success body is decoded.
const maxResponseBody = 4 << 20

// BaseAdapter wraps a clients.Client so every call returns either a 2xx body
// or a domain error. Embed it in service adapters.
type BaseAdapter struct {
	client      *clients.Client
	serviceName string
}

// NewBaseAdapter creates a base adapter for the named service.
func NewBaseAdapter(client *clients.Client, serviceName string) BaseAdapter {
	return BaseAdapter{
		client:      client,
		serviceName: serviceName,
	}
}

// Client returns the underlying HTTP client.
func (a *BaseAdapter) Client() *clients.Client {
	return a.client
}

// ServiceName returns the remote service name used in errors.
func (a *BaseAdapter) ServiceName() string {
	return a.serviceName
}

// Get performs a GET and returns the body of a 2xx response. The caller closes it.
func (a *BaseAdapter) Get(ctx context.Context, path, operation string) (io.ReadCloser, error) {
	resp, err := a.client.Get(ctx, path)

	return a.unwrap(resp, err, operation)
}

// PostJSON encodes payload and POSTs it, returning the body of a 2xx response.
func (a *BaseAdapter) PostJSON(ctx context.Context, path string, payload any, operation string) (io.ReadCloser, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encoding %s payload: %w", operation, err)
	}

	resp, err := a.client.Post(ctx, path, bytes.NewReader(data))

	return a.unwrap(resp, err, operation)
}

func (a *BaseAdapter) unwrap(resp *http.Response, err error, operation string) (io.ReadCloser, error) {
	if err != nil {
		return nil, transportFailure(a.serviceName, operation, err)
	}

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		defer func() { _ = resp.Body.Close() }()

		return nil, statusFailure(a.serviceName, operation, resp.StatusCode, resp.Body)
	}

	return resp.Body, nil
}

// DecodeResponse decodes a JSON body into T and closes it.
func DecodeResponse[T any](body io.ReadCloser) (*T, error) {
	if body == nil {
		return nil, errors.New("response body is nil")
	}
	defer func() { _ = body.Close() }()

	dec := json.NewDecoder(io.LimitReader(body, maxResponseBody))

	var result T
	if err := dec.Decode(&result); err != nil {
		return nil, fmt.Errorf("decoding response: %w", err)
	}

	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, errors.New("decoding response: unexpected data after JSON value")
	}

	return &result, nil
}

// Translator converts one external DTO into a domain value. ok=false drops the item.
type Translator[E, D any] func(ext *E) (d D, ok bool)

// TranslateFirst translates items in order and keeps at most limit accepted
// values. A limit of zero or less keeps all of them.
func TranslateFirst[E, D any](items []E, limit int, translate Translator[E, D]) []D {
	capacity := len(items)
	if limit > 0 && limit < capacity {
		capacity = limit
	}

	out := make([]D, 0, capacity)

	for i := range items {
		if limit > 0 && len(out) == limit {
			break
		}

		if d, ok := translate(&items[i]); ok {
			out = append(out, d)
		}
	}

	return out
}
