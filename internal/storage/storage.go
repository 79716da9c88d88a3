// Package storage defines the persistence interface for ingested messages.
package storage

import (
	"context"
	"errors"

	"github.com/hyperjump/threadwise/internal/models"
)

// ErrMessageNotFound is returned when no message has the requested ID.
var ErrMessageNotFound = errors.New("message not found")

// Storage defines message and ingest batch persistence operations.
type Storage interface {
	// SaveMessages upserts msgs by message_id and records batch. A message that was already
	// stored keeps its original position in ingest order.
	SaveMessages(ctx context.Context, batch *models.IngestBatch, msgs []*models.Message) error
	// ListMessages returns every stored message in ingest order.
	ListMessages(ctx context.Context) ([]*models.Message, error)
	GetMessage(ctx context.Context, id string) (*models.Message, error)
	DeleteMessage(ctx context.Context, id string) error

	ListBatches(ctx context.Context) ([]*models.IngestBatch, error)

	// Stats
	CountMessages(ctx context.Context) (int64, error)

	Close() error
}
