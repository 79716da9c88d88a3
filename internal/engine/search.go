package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/hyperjump/threadwise/internal/keyword"
	"github.com/hyperjump/threadwise/internal/metrics"
	"github.com/hyperjump/threadwise/internal/models"
	"github.com/hyperjump/threadwise/pkg/utils"
	"go.uber.org/zap"
)

const snippetLength = 160

// Search finds messages by content or participant and returns each hit with its context window.
func (e *Engine) Search(ctx context.Context, q *models.SearchQuery) (*models.SearchResponse, error) {
	start := time.Now()
	if err := q.Validate(); err != nil {
		return nil, err
	}
	metrics.SearchQueries.Inc()
	if e.indexBehind.Load() {
		if _, err := e.Reindex(ctx); err != nil {
			e.logger.Warn("reindex before search failed", zap.Error(err))
		}
	}

	hits, err := e.index.Search(ctx, q.Query, q.Limit, &keyword.SearchOptions{FuzzyEnabled: q.FuzzyEnabled})
	if err != nil {
		return nil, fmt.Errorf("keyword search failed: %w", err)
	}
	msgs, err := e.messages(ctx)
	if err != nil {
		return nil, err
	}
	byID := make(map[string]*models.Message, len(msgs))
	for _, m := range msgs {
		if _, seen := byID[m.MessageID]; !seen {
			byID[m.MessageID] = m
		}
	}

	window := e.windowOr(q.Window)
	resp := &models.SearchResponse{Query: q.Query, Hits: []*models.SearchHit{}}
	for _, h := range hits {
		m, ok := byID[h.ID]
		if !ok {
			e.logger.Debug("index hit without stored message", zap.String("message_id", h.ID))
			continue
		}
		cw, err := e.threader.MessageContext(msgs, h.ID, window)
		if err != nil {
			return nil, err
		}
		resp.Hits = append(resp.Hits, &models.SearchHit{
			MessageID: h.ID,
			Score:     h.Score,
			Rank:      len(resp.Hits) + 1,
			Snippet:   utils.Truncate(utils.SingleLine(m.Content), snippetLength),
			Context:   cw,
		})
	}
	resp.Total = len(resp.Hits)
	if resp.Total == 0 && e.suggester != nil {
		if s, ok := e.suggester.Suggest(q.Query); ok {
			resp.DidYouMean = s
		}
	}
	resp.QueryTime = time.Since(start).Milliseconds()
	return resp, nil
}
