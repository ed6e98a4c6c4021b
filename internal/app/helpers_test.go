package app

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/jsamuelsen/quotekeeper/internal/adapters/storage/memory"
	"github.com/jsamuelsen/quotekeeper/internal/domain"
	"github.com/jsamuelsen/quotekeeper/internal/ports"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func quote(text, category string) domain.Quote {
	return domain.Quote{Text: text, Category: category}
}

// newLoadedStore returns a store seeded with quotes and its backing KV.
func newLoadedStore(t *testing.T, quotes ...domain.Quote) (*QuoteStore, *memory.Store) {
	t.Helper()

	kv := memory.New()
	store := NewQuoteStore(kv, discardLogger())
	require.NoError(t, store.Load(context.Background()))
	store.ReplaceAll(quotes)

	return store, kv
}

type mockQuoteSource struct {
	mock.Mock
}

func (m *mockQuoteSource) FetchCandidates(ctx context.Context) ([]domain.Quote, error) {
	args := m.Called(ctx)

	quotes, _ := args.Get(0).([]domain.Quote)

	return quotes, args.Error(1)
}

func (m *mockQuoteSource) Submit(ctx context.Context, q domain.Quote) error {
	return m.Called(ctx, q).Error(0)
}

type mockSubmitQueue struct {
	mock.Mock
}

func (m *mockSubmitQueue) EnqueueSubmit(ctx context.Context, q domain.Quote) error {
	return m.Called(ctx, q).Error(0)
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []ports.Event
}

func (p *recordingPublisher) Publish(_ context.Context, e ports.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.events = append(p.events, e)

	return nil
}

func (p *recordingPublisher) Events() []ports.Event {
	p.mu.Lock()
	defer p.mu.Unlock()

	return append([]ports.Event(nil), p.events...)
}

type recordingMetrics struct {
	mu      sync.Mutex
	results []SyncResult
	sizes   []int
}

func (m *recordingMetrics) RecordSync(_ context.Context, r SyncResult, size int) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.results = append(m.results, r)
	m.sizes = append(m.sizes, size)
}

type mapSession struct {
	mu     sync.Mutex
	values map[string]string
}

func newMapSession() *mapSession {
	return &mapSession{values: make(map[string]string)}
}

func (s *mapSession) GetString(_ context.Context, key string) string {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.values[key]
}

func (s *mapSession) Put(_ context.Context, key, value string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.values[key] = value
}
