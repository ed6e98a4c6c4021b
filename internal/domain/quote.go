// Package domain contains core business entities and rules.
package domain

import (
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

// AllCategories is the category filter value that matches every quote.
const AllCategories = "all"

// Quote is a single quotation record.
// This is a domain entity - it has no knowledge of external systems.
type Quote struct {
	// Text is the quotation itself. It is also the record's identity.
	Text string `json:"text"`

	// Category is the free-form label used for filtering.
	Category string `json:"category"`
}

// NewQuote builds a quote from user input, trimming surrounding whitespace.
// Both fields must be non-empty after trimming.
func NewQuote(text, category string) (Quote, error) {
	q := Quote{
		Text:     strings.TrimSpace(text),
		Category: strings.TrimSpace(category),
	}

	if err := q.Validate(); err != nil {
		return Quote{}, err
	}

	return q, nil
}

// Validate reports whether both fields are present.
func (q Quote) Validate() error {
	if strings.TrimSpace(q.Text) == "" {
		return NewValidationError("text", "is required")
	}

	if strings.TrimSpace(q.Category) == "" {
		return NewValidationError("category", "is required")
	}

	return nil
}

// Key returns the identity key of the quote.
func (q Quote) Key() string {
	return QuoteKey(q.Text)
}

// QuoteKey derives the identity key for a quote text.
//
// Two texts are the same quote when they are equal after Unicode NFC
// normalisation, trimming of surrounding whitespace and case folding.
// Merge matching and duplicate detection both use this key.
func QuoteKey(text string) string {
	return cases.Fold().String(norm.NFC.String(strings.TrimSpace(text)))
}

// FilterByCategory returns the quotes whose category equals category.
// An empty category or AllCategories returns every quote.
// The result is a new slice; quotes is not modified.
func FilterByCategory(quotes []Quote, category string) []Quote {
	category = strings.TrimSpace(category)

	out := make([]Quote, 0, len(quotes))
	for _, q := range quotes {
		if category == "" || category == AllCategories || q.Category == category {
			out = append(out, q)
		}
	}

	return out
}

// Categories returns the distinct categories in first-seen order.
func Categories(quotes []Quote) []string {
	seen := make(map[string]struct{}, len(quotes))
	out := make([]string, 0, len(quotes))

	for _, q := range quotes {
		if _, ok := seen[q.Category]; ok {
			continue
		}

		seen[q.Category] = struct{}{}
		out = append(out, q.Category)
	}

	return out
}

// DefaultQuotes returns the seed collection used when nothing has been persisted yet.
func DefaultQuotes() []Quote {
	return []Quote{
		{Text: "The best way to predict the future is to create it.", Category: "Inspiration"},
		{Text: "Do what you can, with what you have, where you are.", Category: "Motivation"},
		{Text: "Success is not final, failure is not fatal: it is the courage to continue that counts.", Category: "Perseverance"},
	}
}
