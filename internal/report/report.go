// Package report renders threaded exports as an Excel workbook and as JSON.
package report

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/hyperjump/threadwise/internal/models"
	"github.com/xuri/excelize/v2"
)

// Sheet names in the workbook.
const (
	ThreadsSheet  = "Conversation Threads"
	MessagesSheet = "Thread Messages"
)

// Output file names written by WriteAll.
const (
	WorkbookFile = "conversation_threads.xlsx"
	JSONFile     = "threaded_export.json"
)

var threadHeader = []any{
	"thread_id", "conversation_key", "participants", "start_time", "end_time",
	"message_count", "avg_sentiment", "threats_detected", "threat_count",
}

var messageHeader = []any{
	"thread_id", "conversation_key", "message_id", "timestamp", "sender", "recipient",
	"content", "source", "sentiment_score", "threat_detected",
}

// Workbook builds the report workbook. The caller must Close it.
func Workbook(exp *models.ThreadedExport) (*excelize.File, error) {
	f := excelize.NewFile()
	if err := f.SetSheetName("Sheet1", ThreadsSheet); err != nil {
		_ = f.Close()
		return nil, err
	}
	if _, err := f.NewSheet(MessagesSheet); err != nil {
		_ = f.Close()
		return nil, err
	}
	if err := fill(f, exp); err != nil {
		_ = f.Close()
		return nil, err
	}
	return f, nil
}

func fill(f *excelize.File, exp *models.ThreadedExport) error {
	bold, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return err
	}

	if err := writeRow(f, ThreadsSheet, 1, threadHeader); err != nil {
		return err
	}
	for i, s := range exp.Summaries {
		row := []any{
			s.ThreadID, s.ConversationKey, s.Participants, s.StartTime, s.EndTime,
			s.MessageCount, optional(s.AvgSentiment), s.ThreatsDetected, s.ThreatCount,
		}
		if err := writeRow(f, ThreadsSheet, i+2, row); err != nil {
			return err
		}
	}

	if err := writeRow(f, MessagesSheet, 1, messageHeader); err != nil {
		return err
	}
	row := 2
	for _, th := range exp.Threads {
		for _, m := range th.Messages {
			vals := []any{
				th.ThreadID, th.ConversationKey, m.MessageID, m.Timestamp.Display(),
				m.SenderOrUnknown(), m.RecipientOrUnknown(), m.Content, m.Source,
				optional(m.SentimentScore), optionalBool(m.ThreatDetected),
			}
			if err := writeRow(f, MessagesSheet, row, vals); err != nil {
				return err
			}
			row++
		}
	}

	for _, sheet := range []string{ThreadsSheet, MessagesSheet} {
		if err := f.SetRowStyle(sheet, 1, 1, bold); err != nil {
			return err
		}
		if err := f.SetColWidth(sheet, "A", "F", 20); err != nil {
			return err
		}
	}
	return f.SetColWidth(MessagesSheet, "G", "G", 60)
}

func writeRow(f *excelize.File, sheet string, row int, vals []any) error {
	cell, err := excelize.CoordinatesToCellName(1, row)
	if err != nil {
		return err
	}
	return f.SetSheetRow(sheet, cell, &vals)
}

func optional(v *float64) any {
	if v == nil {
		return ""
	}
	return *v
}

func optionalBool(v *bool) any {
	if v == nil {
		return ""
	}
	return *v
}

// WriteWorkbook writes the xlsx report to w.
func WriteWorkbook(w io.Writer, exp *models.ThreadedExport) error {
	f, err := Workbook(exp)
	if err != nil {
		return fmt.Errorf("failed to build workbook: %w", err)
	}
	defer f.Close()
	if _, err := f.WriteTo(w); err != nil {
		return fmt.Errorf("failed to write workbook: %w", err)
	}
	return nil
}

// WriteWorkbookFile writes the xlsx report to path.
func WriteWorkbookFile(path string, exp *models.ThreadedExport) error {
	f, err := Workbook(exp)
	if err != nil {
		return fmt.Errorf("failed to build workbook: %w", err)
	}
	defer f.Close()
	if err := f.SaveAs(path); err != nil {
		return fmt.Errorf("failed to save workbook: %w", err)
	}
	return nil
}

// WriteJSON writes the threaded export as indented JSON.
func WriteJSON(w io.Writer, exp *models.ThreadedExport) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(exp)
}

// WriteAll writes both the workbook and the JSON export into dir and returns their paths.
func WriteAll(dir string, exp *models.ThreadedExport) ([]string, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create report directory: %w", err)
	}
	xlsx := filepath.Join(dir, WorkbookFile)
	if err := WriteWorkbookFile(xlsx, exp); err != nil {
		return nil, err
	}
	jsonPath := filepath.Join(dir, JSONFile)
	out, err := os.Create(jsonPath)
	if err != nil {
		return nil, fmt.Errorf("failed to create %s: %w", jsonPath, err)
	}
	if err := WriteJSON(out, exp); err != nil {
		_ = out.Close()
		return nil, fmt.Errorf("failed to write %s: %w", jsonPath, err)
	}
	if err := out.Close(); err != nil {
		return nil, err
	}
	return []string{xlsx, jsonPath}, nil
}
