package ingest

import (
	"bytes"
	"encoding/json"
	"errors"
	"strconv"

	"github.com/hyperjump/threadwise/internal/models"
	"github.com/hyperjump/threadwise/internal/msgid"
)

var errNotObject = errors.New("record is not a JSON object")

// record mirrors the export schema with every analyzer field left raw, so a malformed
// attribute degrades to "absent" instead of failing the whole file.
type record struct {
	MessageID      json.RawMessage  `json:"message_id"`
	Sender         json.RawMessage  `json:"sender"`
	Recipient      json.RawMessage  `json:"recipient"`
	Content        json.RawMessage  `json:"content"`
	Timestamp      models.Timestamp `json:"timestamp"`
	Source         json.RawMessage  `json:"source"`
	SentimentScore json.RawMessage  `json:"sentiment_score"`
	ThreatDetected json.RawMessage  `json:"threat_detected"`
}

func decodeRecord(raw []byte, opts Options) (*models.Message, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return nil, errNotObject
	}
	var rec record
	if err := json.Unmarshal(trimmed, &rec); err != nil {
		return nil, err
	}

	m := &models.Message{
		MessageID:      text(rec.MessageID),
		Sender:         text(rec.Sender),
		Recipient:      text(rec.Recipient),
		Content:        text(rec.Content),
		Timestamp:      rec.Timestamp,
		Source:         text(rec.Source),
		SentimentScore: number(rec.SentimentScore),
		ThreatDetected: boolean(rec.ThreatDetected),
	}
	if m.Source == "" {
		m.Source = opts.Source
	}
	if m.MessageID == "" {
		m.MessageID = msgid.Derive(m.Source, m.Sender, m.Recipient, m.Timestamp.String(), m.Content)
	}
	return m, nil
}

// text reads a string field. Numbers and booleans keep their literal text; anything else is empty.
func text(raw json.RawMessage) string {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return ""
	}
	switch raw[0] {
	case '"':
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return ""
		}
		return s
	case 't', 'f', '-', '0', '1', '2', '3', '4', '5', '6', '7', '8', '9':
		return string(raw)
	default:
		return ""
	}
}

// number reads a numeric field; strings and other kinds are treated as absent.
func number(raw json.RawMessage) *float64 {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || raw[0] == '"' || raw[0] == 'n' {
		return nil
	}
	f, err := strconv.ParseFloat(string(raw), 64)
	if err != nil {
		return nil
	}
	return &f
}

// boolean reads a JSON boolean; 0/1, "true" and other kinds are treated as absent.
func boolean(raw json.RawMessage) *bool {
	switch string(bytes.TrimSpace(raw)) {
	case "true":
		v := true
		return &v
	case "false":
		v := false
		return &v
	default:
		return nil
	}
}
