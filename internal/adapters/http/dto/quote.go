package dto

import (
	"time"

	"github.com/jsamuelsen/quotekeeper/internal/domain"
)

// QuoteResponse is a quote on the wire.
type QuoteResponse struct {
	Text     string `json:"text"`
	Category string `json:"category"`
}

// NewQuoteResponse converts a domain quote.
func NewQuoteResponse(q domain.Quote) QuoteResponse {
	return QuoteResponse{Text: q.Text, Category: q.Category}
}

// NewQuoteResponses converts a slice of domain quotes.
func NewQuoteResponses(quotes []domain.Quote) []QuoteResponse {
	out := make([]QuoteResponse, len(quotes))
	for i, q := range quotes {
		out[i] = NewQuoteResponse(q)
	}

	return out
}

// ListQuotesRequest holds the query parameters of the list endpoint.
type ListQuotesRequest struct {
	PaginationRequest

	// Category filters the list; empty or "all" lists everything.
	Category string `form:"category" validate:"max=100"`
}

// RandomQuoteRequest holds the query parameters of the random endpoint.
type RandomQuoteRequest struct {
	Category string `form:"category" validate:"max=100"`
}

// CreateQuoteRequest is the body of POST /quotes.
type CreateQuoteRequest struct {
	Text           string `json:"text"           validate:"notblank,max=1000"`
	Category       string `json:"category"       validate:"notblank,max=100"`
	AllowDuplicate bool   `json:"allowDuplicate"`
}

// CreateQuoteResponse reports the added quote.
type CreateQuoteResponse struct {
	Quote          QuoteResponse `json:"quote"`
	Queued         bool          `json:"queued"`
	PersistWarning string        `json:"persistWarning,omitempty"`
}

// ImportQuotesRequest holds the query parameters of the import endpoint.
type ImportQuotesRequest struct {
	SkipDuplicates bool `form:"skip_duplicates"`
}

// ImportQuotesResponse reports what an import did.
type ImportQuotesResponse struct {
	Imported       int    `json:"imported"`
	Skipped        int    `json:"skipped"`
	PersistWarning string `json:"persistWarning,omitempty"`
}

// CategoriesResponse lists the distinct categories.
type CategoriesResponse struct {
	Categories []string `json:"categories"`
}

// SelectedCategoryRequest is the body of PUT /categories/selected.
// An empty category resets the filter to "all".
type SelectedCategoryRequest struct {
	Category string `json:"category" validate:"max=100"`
}

// SelectedCategoryResponse carries the remembered category filter.
type SelectedCategoryResponse struct {
	Category string `json:"category"`
}

// SyncResponse describes a sync cycle.
type SyncResponse struct {
	Trigger        string    `json:"trigger"`
	Mode           string    `json:"mode"`
	Outcome        string    `json:"outcome"`
	Added          int       `json:"added"`
	Replaced       int       `json:"replaced"`
	Failed         bool      `json:"failed"`
	Skipped        bool      `json:"skipped"`
	Message        string    `json:"message"`
	PersistWarning string    `json:"persistWarning,omitempty"`
	Error          string    `json:"error,omitempty"`
	At             time.Time `json:"at"`
	DurationMillis int64     `json:"durationMs"`
}

// SyncStatusResponse is the body of GET /sync/status.
type SyncStatusResponse struct {
	InFlight bool          `json:"inFlight"`
	Last     *SyncResponse `json:"last,omitempty"`
	NextRun  *time.Time    `json:"nextRun,omitempty"`
}
