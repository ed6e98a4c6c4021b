package dto

import (
	"encoding/base64"
	"encoding/json"
	"errors"
)

// DefaultLimit is the page size used when the request does not set one.
const DefaultLimit = 50

// MaxLimit is the largest page a client may request.
const MaxLimit = 500

// ErrInvalidCursor is returned when a cursor cannot be decoded.
var ErrInvalidCursor = errors.New("invalid cursor")

// PaginationRequest holds the paging query parameters.
type PaginationRequest struct {
	// Cursor is the opaque NextCursor of a previous page.
	Cursor string `form:"cursor"`

	Limit int `form:"limit" validate:"omitempty,gte=1,lte=500"`
}

// GetLimit returns the limit with defaults applied.
func (p *PaginationRequest) GetLimit() int {
	if p.Limit <= 0 {
		return DefaultLimit
	}

	return min(p.Limit, MaxLimit)
}

// Offset decodes the cursor. An empty cursor starts at the first item.
func (p *PaginationRequest) Offset() (int, error) {
	if p.Cursor == "" {
		return 0, nil
	}

	c, err := DecodeCursor(p.Cursor)
	if err != nil {
		return 0, err
	}

	return c.Offset, nil
}

// PaginatedResponse is one page of an ordered collection.
type PaginatedResponse[T any] struct {
	Items []T `json:"items"`

	// NextCursor is empty on the last page.
	NextCursor string `json:"nextCursor,omitempty"`

	HasMore bool `json:"hasMore"`

	// Total is the size of the whole filtered collection.
	Total int `json:"total"`
}

// Paginate slices items into a page starting at offset.
func Paginate[T any](items []T, offset, limit int) *PaginatedResponse[T] {
	total := len(items)
	offset = max(0, min(offset, total))
	end := min(offset+limit, total)

	page := &PaginatedResponse[T]{
		Items: make([]T, 0, end-offset),
		Total: total,
	}

	page.Items = append(page.Items, items[offset:end]...)

	if end < total {
		page.HasMore = true
		page.NextCursor = EncodeCursor(&CursorData{Offset: end})
	}

	return page
}

// CursorData is the content of a pagination cursor.
// Quotes have no stable id, so the cursor is a position in display order.
type CursorData struct {
	Offset int `json:"o"`
}

// EncodeCursor encodes cursor data to a URL-safe string.
func EncodeCursor(data *CursorData) string {
	if data == nil {
		return ""
	}

	raw, err := json.Marshal(data)
	if err != nil {
		return ""
	}

	return base64.URLEncoding.EncodeToString(raw)
}

// DecodeCursor decodes a cursor produced by EncodeCursor.
func DecodeCursor(encoded string) (*CursorData, error) {
	raw, err := base64.URLEncoding.DecodeString(encoded)
	if err != nil {
		return nil, ErrInvalidCursor
	}

	var data CursorData
	if err := json.Unmarshal(raw, &data); err != nil || data.Offset < 0 {
		return nil, ErrInvalidCursor
	}

	return &data, nil
}
