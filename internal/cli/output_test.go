package cli

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/hyperjump/threadwise/internal/engine"
	"github.com/hyperjump/threadwise/internal/models"
)

func msg(id, from, to, content, ts string) *models.Message {
	return &models.Message{MessageID: id, Sender: from, Recipient: to, Content: content, Timestamp: models.StringValue(ts)}
}

func sampleWindow() *models.ContextWindow {
	yes := true
	target := msg("2", "Bob", "Alice", "bring the\npackage", "2024-01-01 09:05:00")
	target.ThreatDetected = &yes
	return &models.ContextWindow{
		Target:              target,
		Before:              []*models.Message{msg("1", "Alice", "Bob", "warehouse?", "2024-01-01 09:00:00")},
		After:               []*models.Message{msg("3", "Alice", "", "ok", "")},
		ConversationKey:     "Alice <-> Bob",
		TotalInConversation: 3,
	}
}

func TestParseFormat(t *testing.T) {
	tests := []struct {
		in      string
		want    OutputFormat
		wantErr bool
	}{
		{"", OutputText, false},
		{"text", OutputText, false},
		{"JSON", OutputJSON, false},
		{"yaml", "", true},
	}
	for _, tt := range tests {
		got, err := ParseFormat(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseFormat(%q) err = %v, wantErr %v", tt.in, err, tt.wantErr)
		}
		if got != tt.want {
			t.Errorf("ParseFormat(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestWriteContext_Text(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteContext(&buf, sampleWindow(), OutputText); err != nil {
		t.Fatal(err)
	}
	out := buf.String()
	for _, want := range []string{
		"Alice <-> Bob (3 messages in conversation)",
		"  [2024-01-01 09:00:00] Alice -> Bob: warehouse?",
		"> [2024-01-01 09:05:00] Bob -> Alice [!]: bring the package",
		"  [Unknown] Alice -> Unknown: ok",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestWriteContext_NotFound(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteContext(&buf, &models.ContextWindow{}, OutputText); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(buf.String(), "message not found") {
		t.Errorf("got %q", buf.String())
	}

	buf.Reset()
	if err := WriteContext(&buf, &models.ContextWindow{}, OutputJSON); err != nil {
		t.Fatal(err)
	}
	var out map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &out); err != nil {
		t.Fatalf("invalid JSON: %v\n%s", err, buf.String())
	}
	if out["target"] != nil {
		t.Errorf("target = %v, want null", out["target"])
	}
}

func TestWriteSummaries(t *testing.T) {
	avg := -0.1
	summaries := []*models.ThreadSummary{
		{ThreadID: "thread_0000", Participants: "Alice, Bob", StartTime: "2024-01-01 09:00:00", EndTime: "2024-01-01 09:05:00", MessageCount: 2, AvgSentiment: &avg, ThreatCount: 1, ThreatsDetected: true},
		{ThreadID: "thread_0001", Participants: "Alice, Carol", StartTime: "Unknown", EndTime: "Unknown", MessageCount: 1},
	}
	var buf bytes.Buffer
	if err := WriteSummaries(&buf, summaries, OutputText); err != nil {
		t.Fatal(err)
	}
	out := buf.String()
	if !strings.Contains(out, "sentiment=-0.1000") || !strings.Contains(out, "threats=1") {
		t.Errorf("first summary not rendered:\n%s", out)
	}
	if !strings.Contains(out, "sentiment=-  threats=0") {
		t.Errorf("missing sentiment should render as '-':\n%s", out)
	}

	buf.Reset()
	if err := WriteSummaries(&buf, summaries, OutputJSON); err != nil {
		t.Fatal(err)
	}
	var decoded []map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &decoded); err != nil {
		t.Fatal(err)
	}
	if len(decoded) != 2 || decoded[1]["avg_sentiment"] != nil {
		t.Errorf("decoded = %v", decoded)
	}
}

func TestWriteThreads_Text(t *testing.T) {
	threads := []*models.Thread{{
		ThreadID:        "thread_0000",
		ConversationKey: "Alice <-> Bob",
		Messages:        []*models.Message{msg("1", "Alice", "Bob", strings.Repeat("x", 300), "2024-01-01 09:00:00")},
		StartTime:       "2024-01-01 09:00:00",
		EndTime:         "2024-01-01 09:00:00",
		MessageCount:    1,
	}}
	var buf bytes.Buffer
	if err := WriteThreads(&buf, threads, OutputText); err != nil {
		t.Fatal(err)
	}
	out := buf.String()
	if !strings.Contains(out, "thread_0000 | Alice <-> Bob | 1 messages") {
		t.Errorf("missing header:\n%s", out)
	}
	if strings.Contains(out, strings.Repeat("x", 201)) || !strings.Contains(out, "...") {
		t.Error("long content should be truncated")
	}
}

func TestWriteSearchResults(t *testing.T) {
	resp := &models.SearchResponse{
		Query:     "package",
		Total:     1,
		QueryTime: 3,
		Hits:      []*models.SearchHit{{MessageID: "2", Score: 1.5, Rank: 1, Context: sampleWindow()}},
	}
	var buf bytes.Buffer
	if err := WriteSearchResults(&buf, resp, OutputText); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(buf.String(), "Found 1 results in 3ms") || !strings.Contains(buf.String(), "ID: 2") {
		t.Errorf("got:\n%s", buf.String())
	}

	buf.Reset()
	empty := &models.SearchResponse{Query: "pakage", Hits: []*models.SearchHit{}, DidYouMean: "package"}
	if err := WriteSearchResults(&buf, empty, OutputText); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(buf.String(), "Did you mean: package") {
		t.Errorf("got:\n%s", buf.String())
	}

	buf.Reset()
	if err := WriteSearchResults(&buf, resp, OutputJSON); err != nil {
		t.Fatal(err)
	}
	var decoded models.SearchResponse
	if err := json.Unmarshal(buf.Bytes(), &decoded); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if decoded.Total != 1 || len(decoded.Hits) != 1 || decoded.Hits[0].MessageID != "2" {
		t.Errorf("decoded = %+v", decoded)
	}
}

func TestWriteFlagged(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteFlagged(&buf, []*models.ContextWindow{sampleWindow()}, OutputText); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(buf.String(), "1 flagged messages") || !strings.Contains(buf.String(), "> [") {
		t.Errorf("got:\n%s", buf.String())
	}
}

func TestWriteStatus(t *testing.T) {
	last := time.Date(2024, 2, 1, 8, 0, 0, 0, time.UTC)
	st := &engine.Status{
		MessageCount:      4,
		IndexedCount:      4,
		ConversationCount: 2,
		ThreadCount:       3,
		FlaggedCount:      1,
		DefaultGapHours:   2,
		LastIngest:        &last,
		RecentBatches: []*models.IngestBatch{
			{ID: "b1", SourcePath: "/inbox/export.json", MessageCount: 4, CreatedAt: last},
		},
	}
	var buf bytes.Buffer
	if err := WriteStatus(&buf, st, OutputText); err != nil {
		t.Fatal(err)
	}
	out := buf.String()
	for _, want := range []string{"Messages:      4 (4 indexed)", "Flagged:       1", "/inbox/export.json", "2024-02-01 08:00:00"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestWriteIngestResults(t *testing.T) {
	results := []*engine.IngestResult{
		{Batch: &models.IngestBatch{SourcePath: "a.json", MessageCount: 3}, Skipped: 1},
		{Batch: &models.IngestBatch{SourcePath: "b.jsonl", MessageCount: 2}},
	}
	var buf bytes.Buffer
	if err := WriteIngestResults(&buf, results, OutputText); err != nil {
		t.Fatal(err)
	}
	out := buf.String()
	if !strings.Contains(out, "a.json: 3 messages (1 skipped)") || !strings.Contains(out, "Ingested 5 messages from 2 files") {
		t.Errorf("got:\n%s", out)
	}
}
