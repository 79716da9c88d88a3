package models

import "encoding/json"

// Conversation is every message exchanged between one unordered pair of participants,
// sorted by normalized timestamp with unparsable timestamps last.
type Conversation struct {
	ConversationKey string     `json:"conversation_key"`
	Messages        []*Message `json:"messages"`
}

// Thread is a maximal run of a conversation's messages with no inactivity gap above
// the threshold. StartTime and EndTime are FormatTime values or "Unknown".
type Thread struct {
	ThreadID        string     `json:"thread_id"`
	ConversationKey string     `json:"conversation_key"`
	Participants    []string   `json:"participants"`
	Messages        []*Message `json:"messages"`
	StartTime       string     `json:"start_time"`
	EndTime         string     `json:"end_time"`
	MessageCount    int        `json:"message_count"`
}

// ThreadSummary is the per-thread row consumed by reports.
// AvgSentiment is nil when no message in the thread carries a score.
type ThreadSummary struct {
	ThreadID        string   `json:"thread_id"`
	ConversationKey string   `json:"conversation_key"`
	Participants    string   `json:"participants"`
	StartTime       string   `json:"start_time"`
	EndTime         string   `json:"end_time"`
	MessageCount    int      `json:"message_count"`
	AvgSentiment    *float64 `json:"avg_sentiment"`
	ThreatsDetected bool     `json:"threats_detected"`
	ThreatCount     int      `json:"threat_count"`
}

// ContextWindow holds the messages surrounding a target within its conversation.
// A nil Target means the message was not found; that is a normal outcome.
type ContextWindow struct {
	Target              *Message   `json:"target"`
	Before              []*Message `json:"before"`
	After               []*Message `json:"after"`
	ConversationKey     string     `json:"conversation_key"`
	TotalInConversation int        `json:"total_in_conversation"`
}

// Found reports whether the target message exists.
func (c *ContextWindow) Found() bool {
	return c != nil && c.Target != nil
}

// MarshalJSON writes conversation_key as null for a not-found window.
func (c ContextWindow) MarshalJSON() ([]byte, error) {
	type alias ContextWindow
	out := struct {
		alias
		ConversationKey *string `json:"conversation_key"`
	}{alias: alias(c)}
	if c.Target != nil {
		key := c.ConversationKey
		out.ConversationKey = &key
	}
	if out.Before == nil {
		out.Before = []*Message{}
	}
	if out.After == nil {
		out.After = []*Message{}
	}
	return json.Marshal(out)
}

// ThreadedExport is a full threaded snapshot of a message collection.
type ThreadedExport struct {
	TotalMessages      int              `json:"total_messages"`
	TotalThreads       int              `json:"total_threads"`
	TotalConversations int              `json:"total_conversations"`
	Threads            []*Thread        `json:"threads"`
	Summaries          []*ThreadSummary `json:"summaries"`
}
