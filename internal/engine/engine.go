// Package engine wires message storage, the keyword index, and the threader into the
// operations served by the CLI and the HTTP API.
//
// Every read recomputes conversations and threads from the stored message list, so results
// always reflect the latest ingest and deletes.
package engine

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hyperjump/threadwise/internal/keyword"
	"github.com/hyperjump/threadwise/internal/metrics"
	"github.com/hyperjump/threadwise/internal/models"
	"github.com/hyperjump/threadwise/internal/storage"
	"github.com/hyperjump/threadwise/internal/threading"
	"go.uber.org/zap"
)

// Engine runs ingest and threading operations over stored messages.
type Engine struct {
	store      storage.Storage
	index      keyword.MessageIndex
	suggester  *keyword.Suggester
	threader   *threading.Threader
	window     int
	extensions []string
	dataPaths  []string
	logger     *zap.Logger

	// ingestMu keeps each batch's store write and index update together.
	ingestMu sync.Mutex
	// indexBehind is set when a stored batch failed to index.
	indexBehind atomic.Bool
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets a logger for ingest and search events.
func WithLogger(l *zap.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithContextWindow sets the window used when a caller does not pass one.
func WithContextWindow(n int) Option {
	return func(e *Engine) {
		if n >= 0 {
			e.window = n
		}
	}
}

// WithExtensions sets which files IngestDirectory picks up.
func WithExtensions(exts []string) Option {
	return func(e *Engine) {
		if len(exts) > 0 {
			e.extensions = exts
		}
	}
}

// WithDataPaths lists the database and index paths measured by Status.
func WithDataPaths(paths ...string) Option {
	return func(e *Engine) { e.dataPaths = paths }
}

// New creates an engine. When index also implements keyword.TermDictionary, searches that
// find nothing return a suggested query.
func New(store storage.Storage, index keyword.MessageIndex, threader *threading.Threader, opts ...Option) *Engine {
	e := &Engine{
		store:      store,
		index:      index,
		threader:   threader,
		window:     threading.DefaultWindow,
		extensions: []string{".json", ".jsonl", ".ndjson"},
		logger:     zap.NewNop(),
	}
	if dict, ok := index.(keyword.TermDictionary); ok {
		e.suggester = keyword.NewSuggester(dict)
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// ContextWindow returns the default window size.
func (e *Engine) ContextWindow() int {
	return e.window
}

// DefaultGapHours returns the threader's default gap.
func (e *Engine) DefaultGapHours() float64 {
	return e.threader.DefaultGapHours()
}

func (e *Engine) messages(ctx context.Context) ([]*models.Message, error) {
	msgs, err := e.store.ListMessages(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load messages: %w", err)
	}
	return msgs, nil
}

// Conversations groups all stored messages by participant pair.
func (e *Engine) Conversations(ctx context.Context) ([]*models.Conversation, error) {
	msgs, err := e.messages(ctx)
	if err != nil {
		return nil, err
	}
	return e.threader.GroupIntoConversations(msgs), nil
}

// Threads splits all stored messages into threads. A nil gapHours uses the default gap.
func (e *Engine) Threads(ctx context.Context, gapHours *float64) ([]*models.Thread, error) {
	msgs, err := e.messages(ctx)
	if err != nil {
		return nil, err
	}
	return e.detect(msgs, gapHours)
}

func (e *Engine) detect(msgs []*models.Message, gapHours *float64) ([]*models.Thread, error) {
	gap := e.threader.DefaultGapHours()
	if gapHours != nil {
		gap = *gapHours
	}
	start := time.Now()
	threads, err := e.threader.DetectThreadsWithGap(msgs, gap)
	if err != nil {
		return nil, err
	}
	metrics.ThreadDetectionDuration.Observe(time.Since(start).Seconds())
	metrics.ThreadsDetected.Set(float64(len(threads)))
	return threads, nil
}

// Summaries returns one summary per thread, in thread order. A nil gapHours uses the default gap.
func (e *Engine) Summaries(ctx context.Context, gapHours *float64) ([]*models.ThreadSummary, error) {
	threads, err := e.Threads(ctx, gapHours)
	if err != nil {
		return nil, err
	}
	return threading.Summarize(threads), nil
}

// MessageContext returns the context window around messageID. A nil window uses the default.
// An unknown ID is not an error; the returned window has a nil Target.
func (e *Engine) MessageContext(ctx context.Context, messageID string, window *int) (*models.ContextWindow, error) {
	msgs, err := e.messages(ctx)
	if err != nil {
		return nil, err
	}
	return e.threader.MessageContext(msgs, messageID, e.windowOr(window))
}

func (e *Engine) windowOr(window *int) int {
	if window != nil {
		return *window
	}
	return e.window
}

// Export returns the full threaded view of all stored messages.
func (e *Engine) Export(ctx context.Context) (*models.ThreadedExport, error) {
	msgs, err := e.messages(ctx)
	if err != nil {
		return nil, err
	}
	start := time.Now()
	out := e.threader.ThreadedExport(msgs)
	metrics.ThreadDetectionDuration.Observe(time.Since(start).Seconds())
	metrics.ThreadsDetected.Set(float64(out.TotalThreads))
	return out, nil
}

// Flagged returns a context window around every message an analyzer marked as a threat,
// in ingest order. A nil window uses the default.
func (e *Engine) Flagged(ctx context.Context, window *int) ([]*models.ContextWindow, error) {
	w := e.windowOr(window)
	if w < 0 {
		return nil, threading.ErrInvalidWindow
	}
	msgs, err := e.messages(ctx)
	if err != nil {
		return nil, err
	}
	out := []*models.ContextWindow{}
	for _, m := range msgs {
		if !m.IsThreat() {
			continue
		}
		cw, err := e.threader.MessageContext(msgs, m.MessageID, w)
		if err != nil {
			return nil, err
		}
		out = append(out, cw)
	}
	return out, nil
}

// DeleteMessage removes a message from storage and the index.
func (e *Engine) DeleteMessage(ctx context.Context, id string) error {
	e.ingestMu.Lock()
	defer e.ingestMu.Unlock()
	if err := e.store.DeleteMessage(ctx, id); err != nil {
		return err
	}
	if err := e.index.Delete(ctx, id); err != nil {
		return fmt.Errorf("failed to remove message from index: %w", err)
	}
	if e.suggester != nil {
		e.suggester.Invalidate()
	}
	e.logger.Info("message deleted", zap.String("message_id", id))
	return nil
}

// Close closes the index and the store.
func (e *Engine) Close() error {
	var firstErr error
	if err := e.index.Close(); err != nil {
		firstErr = err
	}
	if err := e.store.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}
