// Package app contains application services that orchestrate use cases.
// It coordinates the domain and the ports; transport and storage details
// stay in the adapters.
package app

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"strings"

	"github.com/jsamuelsen/quotekeeper/internal/domain"
	"github.com/jsamuelsen/quotekeeper/internal/ports"
)

// exportIndent matches the layout of files written by earlier exports.
const exportIndent = "    "

// QuoteService handles manual user actions on the collection.
// Every mutation goes through the store's writer slot, so it is serialised
// with sync cycles.
type QuoteService struct {
	store            *QuoteStore
	kv               ports.KeyValueStore
	session          ports.SessionStore
	submits          ports.SubmitQueue
	importer         *ImportValidator
	rejectDuplicates bool
	publishNew       bool
	randIntN         func(n int) int
	logger           *slog.Logger
}

// QuoteServiceConfig contains configuration for the quote service.
type QuoteServiceConfig struct {
	Store   *QuoteStore
	KV      ports.KeyValueStore
	Session ports.SessionStore
	Submits ports.SubmitQueue

	// RejectDuplicates refuses manual adds whose text already exists.
	RejectDuplicates bool

	// PublishNew enqueues every manually added quote for upstream submission.
	PublishNew bool

	// RandIntN picks the random quote index; defaults to math/rand/v2.IntN.
	RandIntN func(n int) int

	Logger *slog.Logger
}

// AddQuoteInput is a manual add request.
type AddQuoteInput struct {
	Text     string
	Category string

	// AllowDuplicate bypasses the duplicate check for this call.
	AllowDuplicate bool
}

// AddQuoteResult reports what an add did.
type AddQuoteResult struct {
	Quote          domain.Quote `json:"quote"`
	Queued         bool         `json:"queued"`
	PersistWarning string       `json:"persist_warning,omitempty"`
}

// ImportOptions controls how an import is applied.
type ImportOptions struct {
	// SkipDuplicates drops records whose key already exists locally or earlier in the file.
	SkipDuplicates bool
}

// ImportResult reports what an import did.
type ImportResult struct {
	Imported       int    `json:"imported"`
	Skipped        int    `json:"skipped"`
	PersistWarning string `json:"persist_warning,omitempty"`
}

// NewQuoteService creates a new quote service with the provided dependencies.
func NewQuoteService(cfg QuoteServiceConfig) *QuoteService {
	if cfg.Store == nil || cfg.KV == nil {
		panic("app: NewQuoteService requires a store and a key-value store")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	randIntN := cfg.RandIntN
	if randIntN == nil {
		randIntN = rand.IntN
	}

	return &QuoteService{
		store:            cfg.Store,
		kv:               cfg.KV,
		session:          cfg.Session,
		submits:          cfg.Submits,
		importer:         MustImportValidator(),
		rejectDuplicates: cfg.RejectDuplicates,
		publishNew:       cfg.PublishNew,
		randIntN:         randIntN,
		logger:           logger.With(slog.String("component", "app.QuoteService")),
	}
}

// List returns the quotes in the given category. Empty or "all" lists everything.
func (s *QuoteService) List(category string) []domain.Quote {
	return domain.FilterByCategory(s.store.All(), category)
}

// Categories returns the distinct categories in first-seen order.
func (s *QuoteService) Categories() []string {
	return domain.Categories(s.store.All())
}

// Random picks a quote from the given category and remembers it as last viewed.
func (s *QuoteService) Random(ctx context.Context, category string) (domain.Quote, error) {
	quotes := s.List(category)
	if len(quotes) == 0 {
		return domain.Quote{}, domain.NewNotFoundError("quote", "")
	}

	q := quotes[s.randIntN(len(quotes))]

	if s.session != nil {
		if data, err := json.Marshal(q); err == nil {
			s.session.Put(ctx, ports.SlotLastViewedQuote, string(data))
		}
	}

	return q, nil
}

// LastViewed returns the quote last shown in this session.
func (s *QuoteService) LastViewed(ctx context.Context) (domain.Quote, error) {
	if s.session == nil {
		return domain.Quote{}, domain.NewNotFoundError("quote", ports.SlotLastViewedQuote)
	}

	raw := s.session.GetString(ctx, ports.SlotLastViewedQuote)
	if raw == "" {
		return domain.Quote{}, domain.NewNotFoundError("quote", ports.SlotLastViewedQuote)
	}

	var q domain.Quote
	if err := json.Unmarshal([]byte(raw), &q); err != nil || q.Validate() != nil {
		return domain.Quote{}, domain.NewNotFoundError("quote", ports.SlotLastViewedQuote)
	}

	return q, nil
}

// Add appends a manually entered quote and persists the collection.
// A failed persist keeps the quote in memory and is reported as a warning.
func (s *QuoteService) Add(ctx context.Context, in AddQuoteInput) (AddQuoteResult, error) {
	q, err := domain.NewQuote(in.Text, in.Category)
	if err != nil {
		return AddQuoteResult{}, err
	}

	res := AddQuoteResult{Quote: q}

	err = s.store.Write(ctx, func(ctx context.Context) error {
		if s.rejectDuplicates && !in.AllowDuplicate {
			if existing, ok := s.store.FindByKey(q.Text); ok {
				return domain.NewDuplicateError("quote", existing.Text)
			}
		}

		s.store.Add(q)

		if err := s.store.Persist(ctx); err != nil {
			res.PersistWarning = err.Error()
			s.logger.WarnContext(ctx, "quote added but not persisted", slog.Any("error", err))
		}

		return nil
	})
	if err != nil {
		return AddQuoteResult{}, err
	}

	s.logger.InfoContext(ctx, "quote added", slog.String("category", q.Category))

	if s.publishNew && s.submits != nil {
		if err := s.submits.EnqueueSubmit(ctx, q); err != nil {
			s.logger.WarnContext(ctx, "queueing quote for upstream failed", slog.Any("error", err))
		} else {
			res.Queued = true
		}
	}

	return res, nil
}

// SelectedCategory returns the remembered category filter, defaulting to "all".
func (s *QuoteService) SelectedCategory(ctx context.Context) (string, error) {
	value, ok, err := s.kv.Load(ctx, ports.SlotSelectedCategory)
	if err != nil {
		return domain.AllCategories, domain.NewPersistenceError(ports.SlotSelectedCategory, "load", err)
	}

	if !ok || strings.TrimSpace(value) == "" {
		return domain.AllCategories, nil
	}

	return value, nil
}

// SetSelectedCategory remembers the category filter. Empty means "all".
func (s *QuoteService) SetSelectedCategory(ctx context.Context, category string) (string, error) {
	category = strings.TrimSpace(category)
	if category == "" {
		category = domain.AllCategories
	}

	if err := s.kv.Save(ctx, ports.SlotSelectedCategory, category); err != nil {
		return category, domain.NewPersistenceError(ports.SlotSelectedCategory, "save", err)
	}

	return category, nil
}

// Export writes the whole collection as a pretty-printed JSON array.
func (s *QuoteService) Export(_ context.Context, w io.Writer) error {
	data, err := json.MarshalIndent(s.store.All(), "", exportIndent)
	if err != nil {
		return fmt.Errorf("encoding export: %w", err)
	}

	if _, err := w.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("writing export: %w", err)
	}

	return nil
}

// Import appends the records of a JSON export to the collection.
// The payload is rejected in full if any record is invalid.
func (s *QuoteService) Import(ctx context.Context, r io.Reader, opts ImportOptions) (ImportResult, error) {
	var buf bytes.Buffer
	if _, err := buf.ReadFrom(r); err != nil {
		return ImportResult{}, domain.NewMalformedImportError(-1, "reading payload: "+err.Error())
	}

	incoming, err := s.importer.Parse(buf.Bytes())
	if err != nil {
		return ImportResult{}, err
	}

	var res ImportResult

	err = s.store.Write(ctx, func(ctx context.Context) error {
		accepted := incoming

		if opts.SkipDuplicates {
			accepted = make([]domain.Quote, 0, len(incoming))
			seen := make(map[string]struct{}, len(incoming))

			for _, q := range incoming {
				key := q.Key()
				if _, dup := seen[key]; dup {
					continue
				}

				seen[key] = struct{}{}

				if _, exists := s.store.FindByKey(q.Text); exists {
					continue
				}

				accepted = append(accepted, q)
			}
		}

		res.Imported = len(accepted)
		res.Skipped = len(incoming) - len(accepted)

		if len(accepted) == 0 {
			return nil
		}

		s.store.Add(accepted...)

		if err := s.store.Persist(ctx); err != nil {
			res.PersistWarning = err.Error()
			s.logger.WarnContext(ctx, "import applied but not persisted", slog.Any("error", err))
		}

		return nil
	})
	if err != nil {
		return ImportResult{}, err
	}

	s.logger.InfoContext(ctx, "quotes imported",
		slog.Int("imported", res.Imported),
		slog.Int("skipped", res.Skipped),
	)

	return res, nil
}
