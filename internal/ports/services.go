// Package ports defines interfaces for external dependencies.
// Ports are contracts that adapters implement, allowing the application layer
// to depend on abstractions rather than concrete implementations.
//
// Port Design Principles:
//   - Context as first parameter (always) for cancellation and deadlines
//   - Return domain types, never external DTOs or infrastructure types
//   - Error returns use domain error types (ErrUnavailable, ErrPersistence, etc.)
//   - Keep interfaces small and focused
package ports

import (
	"context"

	"github.com/jsamuelsen/quotekeeper/internal/domain"
)

// Storage slot names shared by the application layer and storage adapters.
const (
	// SlotQuotes holds the JSON-encoded quote collection.
	SlotQuotes = "quotes"

	// SlotSelectedCategory holds the last chosen category filter as a plain string.
	SlotSelectedCategory = "selectedCategory"

	// SlotLastViewedQuote holds the JSON-encoded quote most recently shown in a session.
	SlotLastViewedQuote = "lastViewedQuote"
)

// QuoteSource is the remote source of truth for quotes.
// Implementations are expected to be unreliable and must report failures
// instead of returning empty defaults.
type QuoteSource interface {
	// FetchCandidates returns the current remote batch, already translated
	// to domain quotes. Returns domain.ErrUnavailable when the remote cannot
	// be reached, answers with a non-success status or sends a malformed payload.
	FetchCandidates(ctx context.Context) ([]domain.Quote, error)

	// Submit publishes a locally created quote to the remote.
	Submit(ctx context.Context, quote domain.Quote) error
}

// KeyValueStore is the durable string slot store.
type KeyValueStore interface {
	// Load returns the value stored under key. ok is false when the slot has never been written.
	Load(ctx context.Context, key string) (value string, ok bool, err error)

	// Save overwrites the value stored under key.
	Save(ctx context.Context, key, value string) error
}

// SessionStore holds short-lived values that must not outlive the user's session.
// A missing session or key yields the empty string.
type SessionStore interface {
	GetString(ctx context.Context, key string) string
	Put(ctx context.Context, key, value string)
}

// SubmitQueue accepts quotes to publish upstream in the background.
// Delivery is best effort and never blocks the caller on the network.
type SubmitQueue interface {
	EnqueueSubmit(ctx context.Context, quote domain.Quote) error
}

// EventPublisher defines the contract for publishing domain events.
type EventPublisher interface {
	// Publish sends an event to every current subscriber.
	// It must not block on slow subscribers.
	Publish(ctx context.Context, event Event) error
}

// Event represents a domain event that can be published.
type Event interface {
	// EventType returns the type identifier for routing.
	EventType() string

	// Payload returns the event data for serialization.
	Payload() any
}
