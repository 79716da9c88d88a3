// Package models defines core data structures for messages, conversations, threads, and context windows.
package models

import "time"

// UnknownParticipant stands in for a missing sender or recipient.
const UnknownParticipant = "Unknown"

// Message is a single normalized communication record produced by an extractor.
// SentimentScore and ThreatDetected are attached by analyzers and are nil when absent.
type Message struct {
	MessageID      string    `json:"message_id"`
	Sender         string    `json:"sender"`
	Recipient      string    `json:"recipient"`
	Content        string    `json:"content"`
	Timestamp      Timestamp `json:"timestamp"`
	Source         string    `json:"source"`
	SentimentScore *float64  `json:"sentiment_score,omitempty"`
	ThreatDetected *bool     `json:"threat_detected,omitempty"`
}

// SenderOrUnknown returns the sender, or "Unknown" when empty.
func (m *Message) SenderOrUnknown() string {
	if m.Sender == "" {
		return UnknownParticipant
	}
	return m.Sender
}

// RecipientOrUnknown returns the recipient, or "Unknown" when empty.
func (m *Message) RecipientOrUnknown() string {
	if m.Recipient == "" {
		return UnknownParticipant
	}
	return m.Recipient
}

// IsThreat reports whether an analyzer flagged the message. Only an explicit true counts.
func (m *Message) IsThreat() bool {
	return m.ThreatDetected != nil && *m.ThreatDetected
}

// IngestBatch records one ingest run: the file (or API call) a set of messages came from.
type IngestBatch struct {
	ID           string    `json:"id"`
	SourcePath   string    `json:"source_path"`
	MessageCount int       `json:"message_count"`
	CreatedAt    time.Time `json:"created_at"`
}
