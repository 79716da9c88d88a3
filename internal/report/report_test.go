package report

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/hyperjump/threadwise/internal/models"
	"github.com/hyperjump/threadwise/internal/threading"
	"github.com/xuri/excelize/v2"
)

func sampleExport() *models.ThreadedExport {
	score := 0.5
	threat := true
	msgs := []*models.Message{
		{MessageID: "1", Sender: "Alice", Recipient: "Bob", Content: "hi", Timestamp: models.StringValue("2024-01-01T09:00:00"), SentimentScore: &score},
		{MessageID: "2", Sender: "Bob", Recipient: "Alice", Content: "hey", Timestamp: models.EpochValue(1704099900), ThreatDetected: &threat},
		{MessageID: "3", Sender: "Carol", Content: "?", Timestamp: models.StringValue("sometime")},
	}
	return threading.New(2.0).ThreadedExport(msgs)
}

func TestWriteWorkbook(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteWorkbook(&buf, sampleExport()); err != nil {
		t.Fatal(err)
	}
	f, err := excelize.OpenReader(bytes.NewReader(buf.Bytes()))
	if err != nil {
		t.Fatalf("OpenReader: %v", err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) != 2 || sheets[0] != ThreadsSheet || sheets[1] != MessagesSheet {
		t.Fatalf("sheets = %v", sheets)
	}

	rows, err := f.GetRows(ThreadsSheet)
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 3 {
		t.Fatalf("thread rows = %d, want header + 2", len(rows))
	}
	if rows[0][0] != "thread_id" || rows[0][8] != "threat_count" {
		t.Errorf("header = %v", rows[0])
	}
	if rows[1][1] != "Alice <-> Bob" || rows[1][2] != "Alice, Bob" || rows[1][5] != "2" || rows[1][6] != "0.5" {
		t.Errorf("first thread row = %v", rows[1])
	}
	if rows[2][3] != models.UnknownTime {
		t.Errorf("unknown thread start = %q", rows[2][3])
	}

	msgRows, err := f.GetRows(MessagesSheet)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgRows) != 4 {
		t.Fatalf("message rows = %d, want header + 3", len(msgRows))
	}
	if msgRows[2][3] != "2024-01-01 09:05:00" {
		t.Errorf("epoch timestamp rendered as %q", msgRows[2][3])
	}
	if msgRows[3][3] != "sometime" || msgRows[3][5] != models.UnknownParticipant {
		t.Errorf("unparsable row = %v", msgRows[3])
	}
}

func TestWriteJSON(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteJSON(&buf, sampleExport()); err != nil {
		t.Fatal(err)
	}
	var out struct {
		TotalMessages int `json:"total_messages"`
		TotalThreads  int `json:"total_threads"`
		Summaries     []struct {
			AvgSentiment *float64 `json:"avg_sentiment"`
		} `json:"summaries"`
	}
	if err := json.Unmarshal(buf.Bytes(), &out); err != nil {
		t.Fatal(err)
	}
	if out.TotalMessages != 3 || out.TotalThreads != 2 {
		t.Errorf("totals = %d/%d", out.TotalMessages, out.TotalThreads)
	}
	if out.Summaries[1].AvgSentiment != nil {
		t.Error("thread without scores should have null avg_sentiment")
	}
}

func TestWriteAll(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "reports")
	paths, err := WriteAll(dir, sampleExport())
	if err != nil {
		t.Fatal(err)
	}
	if len(paths) != 2 {
		t.Fatalf("paths = %v", paths)
	}
	for _, p := range paths {
		info, err := os.Stat(p)
		if err != nil {
			t.Errorf("%s: %v", p, err)
			continue
		}
		if info.Size() == 0 {
			t.Errorf("%s is empty", p)
		}
	}
}

func TestWorkbook_Empty(t *testing.T) {
	f, err := Workbook(threading.New(0).ThreadedExport(nil))
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	rows, _ := f.GetRows(ThreadsSheet)
	if len(rows) != 1 {
		t.Errorf("empty export should only have a header row, got %d", len(rows))
	}
}
