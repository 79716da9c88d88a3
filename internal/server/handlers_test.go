package server

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/hyperjump/threadwise/internal/config"
	"github.com/hyperjump/threadwise/internal/engine"
	"github.com/hyperjump/threadwise/internal/keyword"
	"github.com/hyperjump/threadwise/internal/storage"
	"github.com/hyperjump/threadwise/internal/threading"
	"go.uber.org/zap"
)

const exportBody = `{"messages": [
	{"message_id": "1", "sender": "Alice", "recipient": "Bob", "content": "Are we still meeting at the warehouse?", "timestamp": "2024-01-01 09:00:00", "source": "imessage", "sentiment_score": 0.2},
	{"message_id": "2", "sender": "Bob", "recipient": "Alice", "content": "Yes, bring the package", "timestamp": "2024-01-01 09:05:00", "source": "imessage", "threat_detected": true},
	{"message_id": "3", "sender": "Alice", "recipient": "Bob", "content": "See you tomorrow", "timestamp": "2024-01-02 09:00:00", "source": "imessage"},
	{"message_id": "4", "sender": "Alice", "recipient": "Carol", "content": "Lunch on Friday?", "timestamp": "2024-01-01 12:00:00", "source": "whatsapp"}
]}`

type mockWatchService struct {
	dirs []string
}

func (m *mockWatchService) Directories() []string {
	return append([]string(nil), m.dirs...)
}

func (m *mockWatchService) AddDirectory(path string, _ bool) error {
	for _, d := range m.dirs {
		if d == path {
			return nil
		}
	}
	m.dirs = append(m.dirs, path)
	return nil
}

func (m *mockWatchService) RemoveDirectory(path string) error {
	for i, d := range m.dirs {
		if d == path {
			m.dirs = append(m.dirs[:i], m.dirs[i+1:]...)
			return nil
		}
	}
	return nil
}

func newTestServer(t *testing.T, watch WatchService, configPath string) (*Server, http.Handler) {
	t.Helper()
	dir := t.TempDir()
	store, err := storage.NewSQLiteStorage(filepath.Join(dir, "db.sqlite"))
	if err != nil {
		t.Fatal(err)
	}
	idx, err := keyword.NewMemoryIndex()
	if err != nil {
		t.Fatal(err)
	}
	eng := engine.New(store, idx, threading.New(2.0), engine.WithDataPaths(dir))
	t.Cleanup(func() { _ = eng.Close() })

	cfg := &config.Config{}
	config.ApplyDefaults(cfg)
	srv := NewServer(eng, cfg, zap.NewNop(), watch, configPath)
	return srv, srv.Handler()
}

func do(t *testing.T, h http.Handler, method, target string, body []byte) *httptest.ResponseRecorder {
	t.Helper()
	var r *http.Request
	if body != nil {
		r = httptest.NewRequest(method, target, bytes.NewReader(body))
		r.Header.Set("Content-Type", "application/json")
	} else {
		r = httptest.NewRequest(method, target, nil)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)
	return w
}

func seeded(t *testing.T) http.Handler {
	t.Helper()
	_, h := newTestServer(t, nil, "")
	w := do(t, h, http.MethodPost, "/api/v1/messages", []byte(exportBody))
	if w.Code != http.StatusCreated {
		t.Fatalf("ingest status: got %d, body: %s", w.Code, w.Body.String())
	}
	return h
}

func TestHandleHealth(t *testing.T) {
	_, h := newTestServer(t, nil, "")
	w := do(t, h, http.MethodGet, "/health", nil)
	if w.Code != http.StatusOK {
		t.Errorf("status: got %d", w.Code)
	}
}

func TestHandleIngest(t *testing.T) {
	_, h := newTestServer(t, nil, "")
	body := `[{"message_id": "a", "sender": "X", "recipient": "Y", "content": "hi"}, 7]`
	w := do(t, h, http.MethodPost, "/api/v1/messages", []byte(body))
	if w.Code != http.StatusCreated {
		t.Fatalf("status: got %d, body: %s", w.Code, w.Body.String())
	}
	var out struct {
		Batch struct {
			MessageCount int    `json:"message_count"`
			SourcePath   string `json:"source_path"`
		} `json:"batch"`
		Skipped int `json:"skipped"`
	}
	if err := json.NewDecoder(w.Body).Decode(&out); err != nil {
		t.Fatal(err)
	}
	if out.Batch.MessageCount != 1 || out.Skipped != 1 {
		t.Errorf("got count=%d skipped=%d, want 1/1", out.Batch.MessageCount, out.Skipped)
	}
	if out.Batch.SourcePath != apiSource {
		t.Errorf("source_path: got %q", out.Batch.SourcePath)
	}
}

func TestHandleIngest_SourceParam(t *testing.T) {
	_, h := newTestServer(t, nil, "")
	w := do(t, h, http.MethodPost, "/api/v1/messages?source=/inbox/chat.jsonl", []byte(`[{"message_id": "a"}]`))
	if w.Code != http.StatusCreated {
		t.Fatalf("status: got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), `"source_path":"/inbox/chat.jsonl"`) {
		t.Errorf("body: %s", w.Body.String())
	}
}

func TestHandleIngest_InvalidBody(t *testing.T) {
	_, h := newTestServer(t, nil, "")
	w := do(t, h, http.MethodPost, "/api/v1/messages", []byte(`{"messages": [`))
	if w.Code != http.StatusBadRequest {
		t.Errorf("status: got %d, want 400", w.Code)
	}
}

func TestHandleThreads(t *testing.T) {
	h := seeded(t)
	tests := []struct {
		name      string
		query     string
		wantCode  int
		wantTotal int
	}{
		{"default gap", "", http.StatusOK, 3},
		{"wide gap", "?gap_hours=48", http.StatusOK, 2},
		{"zero gap", "?gap_hours=0", http.StatusOK, 4},
		{"huge gap", "?gap_hours=1e7", http.StatusOK, 2},
		{"negative gap", "?gap_hours=-1", http.StatusBadRequest, 0},
		{"not a number", "?gap_hours=abc", http.StatusBadRequest, 0},
		{"nan", "?gap_hours=NaN", http.StatusBadRequest, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := do(t, h, http.MethodGet, "/api/v1/threads"+tt.query, nil)
			if w.Code != tt.wantCode {
				t.Fatalf("status: got %d, want %d, body: %s", w.Code, tt.wantCode, w.Body.String())
			}
			if tt.wantCode != http.StatusOK {
				return
			}
			var out struct {
				Total int `json:"total"`
			}
			if err := json.NewDecoder(w.Body).Decode(&out); err != nil {
				t.Fatal(err)
			}
			if out.Total != tt.wantTotal {
				t.Errorf("total: got %d, want %d", out.Total, tt.wantTotal)
			}
		})
	}
}

func TestHandleSummaries(t *testing.T) {
	h := seeded(t)
	w := do(t, h, http.MethodGet, "/api/v1/summaries", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status: got %d", w.Code)
	}
	var out struct {
		Summaries []struct {
			ConversationKey string `json:"conversation_key"`
			ThreatCount     int    `json:"threat_count"`
		} `json:"summaries"`
	}
	if err := json.NewDecoder(w.Body).Decode(&out); err != nil {
		t.Fatal(err)
	}
	if len(out.Summaries) != 3 {
		t.Fatalf("summaries: got %d, want 3", len(out.Summaries))
	}
	if out.Summaries[0].ConversationKey != "Alice <-> Bob" || out.Summaries[0].ThreatCount != 1 {
		t.Errorf("first summary: got %+v", out.Summaries[0])
	}
}

func TestHandleConversations(t *testing.T) {
	h := seeded(t)
	w := do(t, h, http.MethodGet, "/api/v1/conversations", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status: got %d", w.Code)
	}
	var out struct {
		Total int `json:"total"`
	}
	if err := json.NewDecoder(w.Body).Decode(&out); err != nil {
		t.Fatal(err)
	}
	if out.Total != 2 {
		t.Errorf("total: got %d, want 2", out.Total)
	}
}

func TestHandleMessageContext(t *testing.T) {
	h := seeded(t)

	w := do(t, h, http.MethodGet, "/api/v1/messages/2/context?window=1", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status: got %d, body: %s", w.Code, w.Body.String())
	}
	var found struct {
		Before          []map[string]interface{} `json:"before"`
		After           []map[string]interface{} `json:"after"`
		ConversationKey *string                  `json:"conversation_key"`
		Total           int                      `json:"total_in_conversation"`
	}
	if err := json.NewDecoder(w.Body).Decode(&found); err != nil {
		t.Fatal(err)
	}
	if len(found.Before) != 1 || len(found.After) != 1 || found.Total != 3 {
		t.Errorf("got before=%d after=%d total=%d, want 1/1/3", len(found.Before), len(found.After), found.Total)
	}
	if found.ConversationKey == nil || *found.ConversationKey != "Alice <-> Bob" {
		t.Errorf("conversation_key: got %v", found.ConversationKey)
	}

	w = do(t, h, http.MethodGet, "/api/v1/messages/2/context?window=9223372036854775807", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("max window status: got %d, body: %s", w.Code, w.Body.String())
	}
	if err := json.NewDecoder(w.Body).Decode(&found); err != nil {
		t.Fatal(err)
	}
	if len(found.Before) != 1 || len(found.After) != 1 {
		t.Errorf("max window: got before=%d after=%d, want 1/1", len(found.Before), len(found.After))
	}

	w = do(t, h, http.MethodGet, "/api/v1/messages/missing/context", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("unknown id status: got %d, want 200", w.Code)
	}
	var missing map[string]interface{}
	if err := json.NewDecoder(w.Body).Decode(&missing); err != nil {
		t.Fatal(err)
	}
	if missing["target"] != nil || missing["conversation_key"] != nil {
		t.Errorf("unknown id: got %v", missing)
	}

	for _, q := range []string{"?window=-1", "?window=x"} {
		w = do(t, h, http.MethodGet, "/api/v1/messages/2/context"+q, nil)
		if w.Code != http.StatusBadRequest {
			t.Errorf("%s: got %d, want 400", q, w.Code)
		}
	}
}

func TestHandleFlagged(t *testing.T) {
	h := seeded(t)
	w := do(t, h, http.MethodGet, "/api/v1/flagged?window=0", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status: got %d", w.Code)
	}
	var out struct {
		Flagged []struct {
			Target struct {
				MessageID string `json:"message_id"`
			} `json:"target"`
			Before []interface{} `json:"before"`
		} `json:"flagged"`
		Total int `json:"total"`
	}
	if err := json.NewDecoder(w.Body).Decode(&out); err != nil {
		t.Fatal(err)
	}
	if out.Total != 1 || out.Flagged[0].Target.MessageID != "2" {
		t.Fatalf("flagged: got %+v", out)
	}
	if len(out.Flagged[0].Before) != 0 {
		t.Errorf("window=0 should give no context, got %d before", len(out.Flagged[0].Before))
	}
}

func TestHandleDeleteMessage(t *testing.T) {
	h := seeded(t)
	w := do(t, h, http.MethodDelete, "/api/v1/messages/4", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status: got %d, body: %s", w.Code, w.Body.String())
	}
	w = do(t, h, http.MethodDelete, "/api/v1/messages/4", nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("second delete: got %d, want 404", w.Code)
	}
	w = do(t, h, http.MethodGet, "/api/v1/conversations", nil)
	var out struct {
		Total int `json:"total"`
	}
	if err := json.NewDecoder(w.Body).Decode(&out); err != nil {
		t.Fatal(err)
	}
	if out.Total != 1 {
		t.Errorf("conversations after delete: got %d, want 1", out.Total)
	}
}

func TestHandleSearch(t *testing.T) {
	h := seeded(t)
	body, _ := json.Marshal(map[string]interface{}{"query": "warehouse", "window": 1})
	w := do(t, h, http.MethodPost, "/api/v1/search", body)
	if w.Code != http.StatusOK {
		t.Fatalf("status: got %d, body: %s", w.Code, w.Body.String())
	}
	var out struct {
		Hits []struct {
			MessageID string `json:"message_id"`
		} `json:"hits"`
	}
	if err := json.NewDecoder(w.Body).Decode(&out); err != nil {
		t.Fatal(err)
	}
	if len(out.Hits) == 0 || out.Hits[0].MessageID != "1" {
		t.Errorf("hits: got %+v", out.Hits)
	}
}

func TestHandleSearch_InvalidQuery(t *testing.T) {
	_, h := newTestServer(t, nil, "")
	tests := []struct {
		name string
		body string
	}{
		{"empty query", `{"query": "   "}`},
		{"negative window", `{"query": "x", "window": -2}`},
		{"malformed", `{"query": `},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := do(t, h, http.MethodPost, "/api/v1/search", []byte(tt.body))
			if w.Code != http.StatusBadRequest {
				t.Errorf("status: got %d, want 400", w.Code)
			}
		})
	}
}

func TestHandleExport(t *testing.T) {
	h := seeded(t)
	w := do(t, h, http.MethodGet, "/api/v1/export", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status: got %d", w.Code)
	}
	var out struct {
		TotalMessages      int `json:"total_messages"`
		TotalThreads       int `json:"total_threads"`
		TotalConversations int `json:"total_conversations"`
	}
	if err := json.NewDecoder(w.Body).Decode(&out); err != nil {
		t.Fatal(err)
	}
	if out.TotalMessages != 4 || out.TotalThreads != 3 || out.TotalConversations != 2 {
		t.Errorf("totals: got %+v", out)
	}
}

func TestHandleReport(t *testing.T) {
	h := seeded(t)
	w := do(t, h, http.MethodGet, "/api/v1/report.xlsx", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status: got %d", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); !strings.Contains(ct, "spreadsheetml") {
		t.Errorf("content type: got %q", ct)
	}
	// xlsx files are zip archives.
	if !bytes.HasPrefix(w.Body.Bytes(), []byte("PK")) {
		t.Error("body is not a zip archive")
	}
}

func TestHandleStatus(t *testing.T) {
	h := seeded(t)
	w := do(t, h, http.MethodGet, "/api/v1/status", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status: got %d, body: %s", w.Code, w.Body.String())
	}
	var out struct {
		MessageCount      int64 `json:"message_count"`
		IndexedCount      int64 `json:"indexed_count"`
		ConversationCount int   `json:"conversation_count"`
		FlaggedCount      int   `json:"flagged_count"`
		DiskUsageBytes    int64 `json:"disk_usage_bytes"`
	}
	if err := json.NewDecoder(w.Body).Decode(&out); err != nil {
		t.Fatal(err)
	}
	if out.MessageCount != 4 || out.IndexedCount != 4 {
		t.Errorf("counts: got %d stored, %d indexed", out.MessageCount, out.IndexedCount)
	}
	if out.ConversationCount != 2 || out.FlaggedCount != 1 {
		t.Errorf("got conversations=%d flagged=%d", out.ConversationCount, out.FlaggedCount)
	}
	if out.DiskUsageBytes <= 0 {
		t.Errorf("disk_usage_bytes: got %d", out.DiskUsageBytes)
	}
}

func TestHandleMetrics(t *testing.T) {
	h := seeded(t)
	_ = do(t, h, http.MethodGet, "/api/v1/messages/1/context", nil)
	w := do(t, h, http.MethodGet, "/metrics", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status: got %d", w.Code)
	}
	body := w.Body.String()
	if !strings.Contains(body, "threadwise_http_requests_total") {
		t.Error("missing http request counter")
	}
	if !strings.Contains(body, `path="/api/v1/messages/{id}/context"`) {
		t.Error("request path should be labelled with the route pattern")
	}
}

func TestHandleWatchDirectoriesList(t *testing.T) {
	mock := &mockWatchService{dirs: []string{"/tmp/inbox"}}
	_, h := newTestServer(t, mock, "")
	w := do(t, h, http.MethodGet, "/api/v1/watch/directories", nil)
	if w.Code != http.StatusOK {
		t.Errorf("status: got %d", w.Code)
	}
	var out struct {
		Directories []string `json:"directories"`
	}
	if err := json.NewDecoder(w.Body).Decode(&out); err != nil {
		t.Fatal(err)
	}
	if len(out.Directories) != 1 || out.Directories[0] != "/tmp/inbox" {
		t.Errorf("directories: got %v", out.Directories)
	}
}

func TestHandleWatchDirectoriesList_NotEnabled(t *testing.T) {
	_, h := newTestServer(t, nil, "")
	w := do(t, h, http.MethodGet, "/api/v1/watch/directories", nil)
	if w.Code != http.StatusNotImplemented {
		t.Errorf("status: got %d, want 501", w.Code)
	}
}

func TestHandleWatchDirectoriesAdd(t *testing.T) {
	inbox := t.TempDir()
	configPath := filepath.Join(t.TempDir(), "config.yaml")
	mock := &mockWatchService{}
	_, h := newTestServer(t, mock, configPath)

	body, _ := json.Marshal(map[string]interface{}{"path": inbox, "sync": false})
	w := do(t, h, http.MethodPost, "/api/v1/watch/directories", body)
	if w.Code != http.StatusCreated {
		t.Fatalf("status: got %d, body: %s", w.Code, w.Body.String())
	}
	if len(mock.dirs) != 1 || mock.dirs[0] != inbox {
		t.Errorf("dirs: got %v", mock.dirs)
	}
	saved, err := os.ReadFile(configPath)
	if err != nil {
		t.Fatalf("config not persisted: %v", err)
	}
	if !strings.Contains(string(saved), inbox) {
		t.Errorf("persisted config missing %s:\n%s", inbox, saved)
	}
}

func TestHandleWatchDirectoriesAdd_InvalidPath(t *testing.T) {
	mock := &mockWatchService{}
	_, h := newTestServer(t, mock, "")
	file := filepath.Join(t.TempDir(), "export.json")
	if err := os.WriteFile(file, []byte("[]"), 0600); err != nil {
		t.Fatal(err)
	}
	tests := []struct {
		name string
		path string
		want int
	}{
		{"missing", filepath.Join(t.TempDir(), "nope"), http.StatusNotFound},
		{"file", file, http.StatusBadRequest},
		{"empty", "", http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			body, _ := json.Marshal(map[string]string{"path": tt.path})
			w := do(t, h, http.MethodPost, "/api/v1/watch/directories", body)
			if w.Code != tt.want {
				t.Errorf("status: got %d, want %d", w.Code, tt.want)
			}
		})
	}
	if len(mock.dirs) != 0 {
		t.Errorf("dirs: got %v, want none", mock.dirs)
	}
}

func TestHandleWatchDirectoriesRemove(t *testing.T) {
	inbox := t.TempDir()
	mock := &mockWatchService{dirs: []string{inbox}}
	_, h := newTestServer(t, mock, "")
	w := do(t, h, http.MethodDelete, "/api/v1/watch/directories?path="+inbox, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status: got %d", w.Code)
	}
	if len(mock.dirs) != 0 {
		t.Errorf("dirs: got %v, want none", mock.dirs)
	}
	w = do(t, h, http.MethodDelete, "/api/v1/watch/directories", nil)
	if w.Code != http.StatusBadRequest {
		t.Errorf("missing path: got %d, want 400", w.Code)
	}
}
