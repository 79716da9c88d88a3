package engine

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/hyperjump/threadwise/internal/ingest"
	"github.com/hyperjump/threadwise/internal/metrics"
	"github.com/hyperjump/threadwise/internal/models"
	"github.com/hyperjump/threadwise/internal/msgid"
	"go.uber.org/zap"
)

// IngestResult reports one ingested export.
type IngestResult struct {
	Batch   *models.IngestBatch `json:"batch"`
	Skipped int                 `json:"skipped"`
}

// IngestMessages stores and indexes msgs as one batch. Messages without an ID get a derived one.
func (e *Engine) IngestMessages(ctx context.Context, sourcePath string, msgs []*models.Message) (*models.IngestBatch, error) {
	kept := make([]*models.Message, 0, len(msgs))
	for _, m := range msgs {
		if m == nil {
			continue
		}
		if m.MessageID == "" {
			m.MessageID = msgid.Derive(m.Source, m.Sender, m.Recipient, m.Timestamp.String(), m.Content)
		}
		kept = append(kept, m)
	}
	batch := &models.IngestBatch{
		ID:           uuid.New().String(),
		SourcePath:   sourcePath,
		MessageCount: len(kept),
		CreatedAt:    time.Now(),
	}

	e.ingestMu.Lock()
	defer e.ingestMu.Unlock()
	if e.indexBehind.Load() {
		if _, err := e.reindexLocked(ctx); err != nil {
			e.logger.Warn("reindex before ingest failed", zap.Error(err))
		}
	}
	if err := e.store.SaveMessages(ctx, batch, kept); err != nil {
		return nil, fmt.Errorf("failed to store messages: %w", err)
	}
	if err := e.index.IndexBatch(ctx, kept); err != nil {
		e.indexBehind.Store(true)
		e.logger.Error("batch stored but not indexed",
			zap.String("batch_id", batch.ID),
			zap.String("source", sourcePath),
			zap.Int("count", len(kept)),
			zap.Error(err),
		)
		return nil, fmt.Errorf("failed to index batch %s: %w", batch.ID, err)
	}
	if e.suggester != nil {
		e.suggester.Invalidate()
	}
	for _, m := range kept {
		metrics.MessagesIngested.WithLabelValues(metrics.SourceLabel(m.Source)).Inc()
	}
	e.logger.Info("ingested messages",
		zap.String("batch_id", batch.ID),
		zap.String("source", sourcePath),
		zap.Int("count", len(kept)),
	)
	return batch, nil
}

// Reindex indexes every stored message again when the index holds fewer messages than the
// store, which happens when a batch was stored but its indexing failed. It returns the number
// of messages indexed, zero when the index was already complete.
func (e *Engine) Reindex(ctx context.Context) (int, error) {
	e.ingestMu.Lock()
	defer e.ingestMu.Unlock()
	return e.reindexLocked(ctx)
}

func (e *Engine) reindexLocked(ctx context.Context) (int, error) {
	stored, err := e.store.CountMessages(ctx)
	if err != nil {
		return 0, err
	}
	indexed, err := e.index.DocCount()
	if err != nil {
		return 0, err
	}
	if stored <= 0 || uint64(stored) <= indexed {
		e.indexBehind.Store(false)
		return 0, nil
	}
	msgs, err := e.messages(ctx)
	if err != nil {
		return 0, err
	}
	if err := e.index.IndexBatch(ctx, msgs); err != nil {
		e.indexBehind.Store(true)
		return 0, fmt.Errorf("failed to reindex messages: %w", err)
	}
	e.indexBehind.Store(false)
	if e.suggester != nil {
		e.suggester.Invalidate()
	}
	e.logger.Info("reindexed stored messages",
		zap.Int64("stored", stored),
		zap.Uint64("indexed_before", indexed),
	)
	return len(msgs), nil
}

// IngestFile decodes an export file and ingests its messages.
func (e *Engine) IngestFile(ctx context.Context, path string) (*IngestResult, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		abs = path
	}
	res, err := ingest.DecodeFile(ctx, abs, ingest.Options{Logger: e.logger})
	if err != nil {
		metrics.IngestFiles.WithLabelValues("error").Inc()
		return nil, err
	}
	batch, err := e.IngestMessages(ctx, abs, res.Messages)
	if err != nil {
		metrics.IngestFiles.WithLabelValues("error").Inc()
		return nil, err
	}
	metrics.IngestFiles.WithLabelValues("ok").Inc()
	metrics.RecordsSkipped.Add(float64(res.Skipped))
	return &IngestResult{Batch: batch, Skipped: res.Skipped}, nil
}

// IsExportFile reports whether path has one of the configured export extensions.
func (e *Engine) IsExportFile(path string) bool {
	return ingest.IsExportFile(path, e.extensions)
}

// IngestDirectory ingests every export file under dir. A file that fails is logged and
// skipped; the failures are returned joined after the walk completes.
func (e *Engine) IngestDirectory(ctx context.Context, dir string, recursive bool) ([]*IngestResult, error) {
	var results []*IngestResult
	var errs []error
	walkErr := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if d.IsDir() {
			if path != dir && !recursive {
				return filepath.SkipDir
			}
			return nil
		}
		if !e.IsExportFile(path) {
			return nil
		}
		res, err := e.IngestFile(ctx, path)
		if err != nil {
			e.logger.Warn("failed to ingest export", zap.String("path", path), zap.Error(err))
			errs = append(errs, err)
			return nil
		}
		results = append(results, res)
		return nil
	})
	if walkErr != nil {
		return results, fmt.Errorf("failed to walk %s: %w", dir, walkErr)
	}
	return results, errors.Join(errs...)
}
