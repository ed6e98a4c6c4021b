package app

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"

	"github.com/jsamuelsen/quotekeeper/internal/domain"
	"github.com/jsamuelsen/quotekeeper/internal/ports"
)

// ErrWriterBusy is returned by TryWrite when another writer holds the store.
var ErrWriterBusy = errors.New("quote store: writer busy")

// QuoteStore is the in-memory ordered quote collection and its durable backing.
//
// Reads return snapshots and never wait for a writer's network call. Every
// read-compute-write sequence (add, import, sync, replace-all) must run inside
// Write or TryWrite so that at most one mutation is in flight at a time.
type QuoteStore struct {
	mu     sync.RWMutex
	quotes []domain.Quote

	// writer is a one-slot semaphore; holding the token grants mutation rights.
	writer chan struct{}

	kv     ports.KeyValueStore
	logger *slog.Logger
}

// NewQuoteStore creates an empty store backed by kv. Call Load before use.
func NewQuoteStore(kv ports.KeyValueStore, logger *slog.Logger) *QuoteStore {
	if kv == nil {
		panic("app: NewQuoteStore requires a key-value store")
	}

	if logger == nil {
		logger = slog.Default()
	}

	return &QuoteStore{
		quotes: []domain.Quote{},
		writer: make(chan struct{}, 1),
		kv:     kv,
		logger: logger.With(slog.String("component", "app.QuoteStore")),
	}
}

// All returns a snapshot of the collection in display order.
func (s *QuoteStore) All() []domain.Quote {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.Quote, len(s.quotes))
	copy(out, s.quotes)

	return out
}

// Len returns the number of quotes held.
func (s *QuoteStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return len(s.quotes)
}

// FindByKey returns the first quote whose identity key matches text.
func (s *QuoteStore) FindByKey(text string) (domain.Quote, bool) {
	key := domain.QuoteKey(text)

	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, q := range s.quotes {
		if q.Key() == key {
			return q, true
		}
	}

	return domain.Quote{}, false
}

// Add appends quotes without deduplication.
func (s *QuoteStore) Add(quotes ...domain.Quote) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.quotes = append(s.quotes, quotes...)
}

// ReplaceAll swaps the whole collection for a copy of quotes.
func (s *QuoteStore) ReplaceAll(quotes []domain.Quote) {
	next := make([]domain.Quote, len(quotes))
	copy(next, quotes)

	s.mu.Lock()
	defer s.mu.Unlock()

	s.quotes = next
}

// Write runs fn while holding the writer slot, waiting for it if necessary.
// Returns ctx.Err() if the context ends before the slot is acquired.
func (s *QuoteStore) Write(ctx context.Context, fn func(ctx context.Context) error) error {
	select {
	case s.writer <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}

	defer func() { <-s.writer }()

	return fn(ctx)
}

// TryWrite runs fn only if the writer slot is free, otherwise it returns ErrWriterBusy.
func (s *QuoteStore) TryWrite(ctx context.Context, fn func(ctx context.Context) error) error {
	select {
	case s.writer <- struct{}{}:
	default:
		return ErrWriterBusy
	}

	defer func() { <-s.writer }()

	return fn(ctx)
}

// Load initialises the collection from the quotes slot.
// An absent slot seeds the built-in defaults. An unreadable or invalid
// payload is logged and also falls back to the defaults. Only a failing
// backend is returned as an error, and the defaults are still installed.
func (s *QuoteStore) Load(ctx context.Context) error {
	raw, ok, err := s.kv.Load(ctx, ports.SlotQuotes)
	if err != nil {
		s.ReplaceAll(domain.DefaultQuotes())

		return domain.NewPersistenceError(ports.SlotQuotes, "load", err)
	}

	if !ok {
		s.logger.InfoContext(ctx, "no persisted quotes, seeding defaults")
		s.ReplaceAll(domain.DefaultQuotes())

		return nil
	}

	quotes, err := decodeQuotes(raw)
	if err != nil {
		s.logger.WarnContext(ctx, "persisted quotes unreadable, seeding defaults", slog.Any("error", err))
		s.ReplaceAll(domain.DefaultQuotes())

		return nil
	}

	s.ReplaceAll(quotes)
	s.logger.DebugContext(ctx, "quotes loaded", slog.Int("count", len(quotes)))

	return nil
}

// Persist writes the current snapshot to the quotes slot.
func (s *QuoteStore) Persist(ctx context.Context) error {
	data, err := json.Marshal(s.All())
	if err != nil {
		return domain.NewPersistenceError(ports.SlotQuotes, "encode", err)
	}

	if err := s.kv.Save(ctx, ports.SlotQuotes, string(data)); err != nil {
		return domain.NewPersistenceError(ports.SlotQuotes, "save", err)
	}

	return nil
}

func decodeQuotes(raw string) ([]domain.Quote, error) {
	var quotes []domain.Quote
	if err := json.Unmarshal([]byte(raw), &quotes); err != nil {
		return nil, err
	}

	for _, q := range quotes {
		if err := q.Validate(); err != nil {
			return nil, err
		}
	}

	if quotes == nil {
		quotes = []domain.Quote{}
	}

	return quotes, nil
}
