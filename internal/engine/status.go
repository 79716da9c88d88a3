package engine

import (
	"context"
	"time"

	"github.com/hyperjump/threadwise/internal/models"
	"github.com/hyperjump/threadwise/internal/storage"
)

// Status summarizes what is stored.
type Status struct {
	MessageCount      int64                 `json:"message_count"`
	IndexedCount      uint64                `json:"indexed_count"`
	ConversationCount int                   `json:"conversation_count"`
	ThreadCount       int                   `json:"thread_count"`
	FlaggedCount      int                   `json:"flagged_count"`
	DefaultGapHours   float64               `json:"default_gap_hours"`
	ContextWindow     int                   `json:"context_window"`
	LastIngest        *time.Time            `json:"last_ingest,omitempty"`
	RecentBatches     []*models.IngestBatch `json:"recent_batches"`
	DiskUsageBytes    int64                 `json:"disk_usage_bytes"`
}

const recentBatchLimit = 10

// Status reports counts over the stored messages, recent ingest batches, and disk usage.
func (e *Engine) Status(ctx context.Context) (*Status, error) {
	count, err := e.store.CountMessages(ctx)
	if err != nil {
		return nil, err
	}
	indexed, err := e.index.DocCount()
	if err != nil {
		return nil, err
	}
	exp, err := e.Export(ctx)
	if err != nil {
		return nil, err
	}
	flagged := 0
	for _, s := range exp.Summaries {
		flagged += s.ThreatCount
	}
	batches, err := e.store.ListBatches(ctx)
	if err != nil {
		return nil, err
	}
	st := &Status{
		MessageCount:      count,
		IndexedCount:      indexed,
		ConversationCount: exp.TotalConversations,
		ThreadCount:       exp.TotalThreads,
		FlaggedCount:      flagged,
		DefaultGapHours:   e.threader.DefaultGapHours(),
		ContextWindow:     e.window,
		RecentBatches:     batches,
	}
	if len(batches) > 0 {
		last := batches[0].CreatedAt
		st.LastIngest = &last
	}
	if len(st.RecentBatches) > recentBatchLimit {
		st.RecentBatches = st.RecentBatches[:recentBatchLimit]
	}
	if len(e.dataPaths) > 0 {
		if n, err := storage.DiskUsageBytes(e.dataPaths...); err == nil {
			st.DiskUsageBytes = n
		}
	}
	return st, nil
}
