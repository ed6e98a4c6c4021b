package acl

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/jsamuelsen/quotekeeper/internal/adapters/clients"
	"github.com/jsamuelsen/quotekeeper/internal/domain"
	"github.com/jsamuelsen/quotekeeper/internal/platform/logging"
)

// Defaults applied by NewQuoteSource for zero config fields.
const (
	DefaultFetchPath  = "/posts"
	DefaultSubmitPath = "/posts"
	DefaultFetchLimit = 3
	DefaultCategory   = "Server"
)

// ErrCircuitOpen is reported by Check while the client refuses requests.
var ErrCircuitOpen = errors.New("quote source circuit breaker is open")

// QuoteSourceConfig configures the remote quote source adapter.
type QuoteSourceConfig struct {
	// Client talks to the remote service. Its BaseURL points at the service root.
	Client *clients.Client

	// FetchPath lists remote posts.
	FetchPath string

	// FetchLimit is how many usable posts one fetch keeps.
	FetchLimit int

	// Category is assigned to every fetched quote.
	Category string

	// SubmitPath receives new quotes.
	SubmitPath string

	Logger *slog.Logger
}

// QuoteSource implements ports.QuoteSource over a posts-style JSON API.
// Post titles become quote text; every fetched quote is filed under one category.
type QuoteSource struct {
	BaseAdapter

	fetchPath  string
	fetchLimit int
	category   string
	submitPath string
	logger     *slog.Logger
}

// remotePost is the external DTO. Fields other than title are ignored.
type remotePost struct {
	ID     int    `json:"id"`
	UserID int    `json:"userId"`
	Title  string `json:"title"`
	Body   string `json:"body"`
}

// submitRequest is the body sent when publishing a quote upstream.
type submitRequest struct {
	Title    string `json:"title"`
	Body     string `json:"body"`
	Category string `json:"category"`
}

// NewQuoteSource creates the adapter. Panics if Client is nil.
func NewQuoteSource(cfg QuoteSourceConfig) *QuoteSource {
	if cfg.Client == nil {
		panic("acl: NewQuoteSource requires a client")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	src := &QuoteSource{
		BaseAdapter: NewBaseAdapter(cfg.Client, "quote-source"),
		fetchPath:   cfg.FetchPath,
		fetchLimit:  cfg.FetchLimit,
		category:    strings.TrimSpace(cfg.Category),
		submitPath:  cfg.SubmitPath,
		logger:      logger.With(slog.String("component", "acl.QuoteSource")),
	}

	if src.fetchPath == "" {
		src.fetchPath = DefaultFetchPath
	}

	if src.submitPath == "" {
		src.submitPath = DefaultSubmitPath
	}

	if src.fetchLimit <= 0 {
		src.fetchLimit = DefaultFetchLimit
	}

	if src.category == "" {
		src.category = DefaultCategory
	}

	return src
}

// FetchCandidates returns the first usable posts as quotes, in remote order.
// Posts with a blank title are skipped and do not count towards the limit.
func (s *QuoteSource) FetchCandidates(ctx context.Context) ([]domain.Quote, error) {
	s.logger.Log(ctx, logging.LevelTrace, "fetching candidates", slog.String("path", s.fetchPath))

	body, err := s.Get(ctx, s.fetchPath, "fetch quotes")
	if err != nil {
		return nil, err
	}

	posts, err := DecodeResponse[[]remotePost](body)
	if err != nil {
		return nil, domain.NewUnavailableError(s.ServiceName(), err.Error())
	}

	// null decodes into a nil slice; only an actual array is a batch.
	if *posts == nil {
		return nil, domain.NewUnavailableError(s.ServiceName(), "payload is not a JSON array")
	}

	quotes := TranslateFirst(*posts, s.fetchLimit, s.translate)

	s.logger.DebugContext(ctx, "fetched candidates",
		slog.Int("received", len(*posts)),
		slog.Int("kept", len(quotes)),
	)

	return quotes, nil
}

// translate maps a remote post onto a quote; blank titles are dropped.
func (s *QuoteSource) translate(p *remotePost) (domain.Quote, bool) {
	q, err := domain.NewQuote(p.Title, s.category)
	if err != nil {
		return domain.Quote{}, false
	}

	return q, true
}

// Submit publishes a quote upstream. Any 2xx response counts as success.
func (s *QuoteSource) Submit(ctx context.Context, q domain.Quote) error {
	if err := q.Validate(); err != nil {
		return err
	}

	body, err := s.PostJSON(ctx, s.submitPath, submitRequest{
		Title:    q.Text,
		Body:     q.Text,
		Category: q.Category,
	}, "submit quote")
	if err != nil {
		return err
	}

	_ = body.Close()

	s.logger.DebugContext(ctx, "quote submitted", slog.String("category", q.Category))

	return nil
}

// Name implements ports.HealthChecker.
func (s *QuoteSource) Name() string {
	return s.ServiceName()
}

// Check reports unhealthy only while the circuit breaker is open.
// It never calls the remote service.
func (s *QuoteSource) Check(context.Context) error {
	if s.Client().CircuitState() == clients.StateOpen {
		return ErrCircuitOpen
	}

	return nil
}
