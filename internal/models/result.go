package models

// SearchHit is a single matching message and its surrounding conversation.
type SearchHit struct {
	MessageID string         `json:"message_id"`
	Score     float64        `json:"score"`
	Rank      int            `json:"rank"`
	Snippet   string         `json:"snippet"`
	Context   *ContextWindow `json:"context"`
}

// SearchResponse is the response for a search request.
type SearchResponse struct {
	Query string       `json:"query"`
	Hits  []*SearchHit `json:"hits"`
	Total int          `json:"total"`
	// DidYouMean is a corrected query offered when nothing matched.
	DidYouMean string `json:"did_you_mean,omitempty"`
	QueryTime  int64  `json:"query_time_ms"`
}
