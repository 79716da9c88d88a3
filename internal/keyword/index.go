// Package keyword provides full-text indexing and search over message content and participants.
package keyword

import (
	"context"

	"github.com/hyperjump/threadwise/internal/models"
)

// SearchOptions optional parameters for keyword search. Nil means use defaults.
type SearchOptions struct {
	// FuzzyEnabled enables fuzzy matching for typo tolerance.
	FuzzyEnabled bool
	// Fuzziness is the maximum Levenshtein edit distance for fuzzy matching (1 or 2).
	// Default is 2 when FuzzyEnabled is true.
	Fuzziness int
}

// MessageIndex defines keyword search operations over messages.
type MessageIndex interface {
	Index(ctx context.Context, msg *models.Message) error
	IndexBatch(ctx context.Context, msgs []*models.Message) error
	Search(ctx context.Context, query string, limit int, opts *SearchOptions) ([]*Hit, error)
	Delete(ctx context.Context, id string) error
	// DocCount returns the total number of messages in the index.
	DocCount() (uint64, error)
	Close() error
}

// Hit is a single keyword search hit.
type Hit struct {
	ID    string
	Score float64
}

// TermDictionary exposes indexed terms and their document frequencies for query suggestions.
type TermDictionary interface {
	Terms() (map[string]int, error)
}
