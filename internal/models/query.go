package models

import (
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidQuery is wrapped by every SearchQuery validation failure.
var ErrInvalidQuery = errors.New("invalid search query")

// SearchQuery is a full-text lookup over message content. Each hit is returned
// with the context window around it, Window messages on each side.
type SearchQuery struct {
	Query        string `json:"query"`
	Limit        int    `json:"limit,omitempty"`
	Window       *int   `json:"window,omitempty"`
	FuzzyEnabled bool   `json:"fuzzy_enabled,omitempty"` // enable fuzzy matching for typo tolerance
}

// Validate ensures the search query has valid fields and sets defaults.
// Returns an error if the query is empty or the window is negative; otherwise normalizes limit.
func (q *SearchQuery) Validate() error {
	q.Query = strings.TrimSpace(q.Query)
	if q.Query == "" {
		return fmt.Errorf("%w: query cannot be empty", ErrInvalidQuery)
	}
	if q.Window != nil && *q.Window < 0 {
		return fmt.Errorf("%w: window must not be negative", ErrInvalidQuery)
	}
	if q.Limit <= 0 {
		q.Limit = 10
	}
	if q.Limit > 100 {
		q.Limit = 100
	}
	return nil
}
