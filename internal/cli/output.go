// Package cli renders threadwise results for the terminal, as text or JSON.
package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/hyperjump/threadwise/internal/engine"
	"github.com/hyperjump/threadwise/internal/models"
	"github.com/hyperjump/threadwise/pkg/utils"
)

// OutputFormat is the format for command output.
type OutputFormat string

const (
	// OutputText is human-readable text (default).
	OutputText OutputFormat = "text"
	// OutputJSON is structured JSON for machine consumption.
	OutputJSON OutputFormat = "json"
)

const (
	rule        = "─────────────────────────────────────────────────────────"
	contentCols = 200
)

// ParseFormat accepts "text", "json", or "" (text).
func ParseFormat(s string) (OutputFormat, error) {
	switch OutputFormat(strings.ToLower(strings.TrimSpace(s))) {
	case "", OutputText:
		return OutputText, nil
	case OutputJSON:
		return OutputJSON, nil
	default:
		return "", fmt.Errorf("unknown output format %q (want text or json)", s)
	}
}

// WriteJSON writes v as indented JSON.
func WriteJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// WriteThreads writes threads with their messages.
func WriteThreads(w io.Writer, threads []*models.Thread, format OutputFormat) error {
	if format == OutputJSON {
		return WriteJSON(w, threads)
	}
	fmt.Fprintf(w, "\n%d threads\n\n", len(threads))
	for _, th := range threads {
		fmt.Fprintln(w, rule)
		fmt.Fprintf(w, "%s | %s | %d messages\n", th.ThreadID, th.ConversationKey, th.MessageCount)
		fmt.Fprintf(w, "%s -> %s\n\n", th.StartTime, th.EndTime)
		for _, m := range th.Messages {
			writeMessage(w, m, "  ")
		}
		fmt.Fprintln(w)
	}
	return nil
}

// WriteSummaries writes one line per thread summary.
func WriteSummaries(w io.Writer, summaries []*models.ThreadSummary, format OutputFormat) error {
	if format == OutputJSON {
		return WriteJSON(w, summaries)
	}
	fmt.Fprintf(w, "\n%d threads\n\n", len(summaries))
	for _, s := range summaries {
		sentiment := "-"
		if s.AvgSentiment != nil {
			sentiment = fmt.Sprintf("%.4f", *s.AvgSentiment)
		}
		fmt.Fprintf(w, "%s  %-30s  %s -> %s  msgs=%d  sentiment=%s  threats=%d\n",
			s.ThreadID, s.Participants, s.StartTime, s.EndTime, s.MessageCount, sentiment, s.ThreatCount)
	}
	return nil
}

// WriteContext writes a context window, marking the target message.
func WriteContext(w io.Writer, cw *models.ContextWindow, format OutputFormat) error {
	if format == OutputJSON {
		return WriteJSON(w, cw)
	}
	writeContextText(w, cw)
	return nil
}

func writeContextText(w io.Writer, cw *models.ContextWindow) {
	if !cw.Found() {
		fmt.Fprintln(w, "message not found")
		return
	}
	fmt.Fprintf(w, "%s (%d messages in conversation)\n\n", cw.ConversationKey, cw.TotalInConversation)
	for _, m := range cw.Before {
		writeMessage(w, m, "  ")
	}
	writeMessage(w, cw.Target, "> ")
	for _, m := range cw.After {
		writeMessage(w, m, "  ")
	}
}

// WriteFlagged writes the context window around every flagged message.
func WriteFlagged(w io.Writer, windows []*models.ContextWindow, format OutputFormat) error {
	if format == OutputJSON {
		return WriteJSON(w, windows)
	}
	fmt.Fprintf(w, "\n%d flagged messages\n\n", len(windows))
	for _, cw := range windows {
		fmt.Fprintln(w, rule)
		writeContextText(w, cw)
		fmt.Fprintln(w)
	}
	return nil
}

// WriteSearchResults writes search hits with their surrounding messages.
func WriteSearchResults(w io.Writer, response *models.SearchResponse, format OutputFormat) error {
	if format == OutputJSON {
		return WriteJSON(w, response)
	}
	fmt.Fprintf(w, "\nFound %d results in %dms\n", response.Total, response.QueryTime)
	if response.DidYouMean != "" {
		fmt.Fprintf(w, "Did you mean: %s\n", response.DidYouMean)
	}
	fmt.Fprintln(w)
	for _, hit := range response.Hits {
		fmt.Fprintln(w, rule)
		fmt.Fprintf(w, "Rank: %d | Score: %.4f | ID: %s\n\n", hit.Rank, hit.Score, hit.MessageID)
		if hit.Context != nil {
			writeContextText(w, hit.Context)
		}
		fmt.Fprintln(w)
	}
	return nil
}

// WriteStatus writes store counts and recent ingest batches.
func WriteStatus(w io.Writer, st *engine.Status, format OutputFormat) error {
	if format == OutputJSON {
		return WriteJSON(w, st)
	}
	fmt.Fprintf(w, "Messages:      %d (%d indexed)\n", st.MessageCount, st.IndexedCount)
	fmt.Fprintf(w, "Conversations: %d\n", st.ConversationCount)
	fmt.Fprintf(w, "Threads:       %d (gap %.2gh)\n", st.ThreadCount, st.DefaultGapHours)
	fmt.Fprintf(w, "Flagged:       %d\n", st.FlaggedCount)
	fmt.Fprintf(w, "Disk usage:    %d bytes\n", st.DiskUsageBytes)
	if st.LastIngest != nil {
		fmt.Fprintf(w, "Last ingest:   %s\n", st.LastIngest.Format("2006-01-02 15:04:05"))
	}
	if len(st.RecentBatches) > 0 {
		fmt.Fprintln(w, "\nRecent batches:")
		for _, b := range st.RecentBatches {
			fmt.Fprintf(w, "  %s  %5d  %s\n", b.CreatedAt.Format("2006-01-02 15:04:05"), b.MessageCount, b.SourcePath)
		}
	}
	return nil
}

// WriteIngestResults writes one line per ingested export.
func WriteIngestResults(w io.Writer, results []*engine.IngestResult, format OutputFormat) error {
	if format == OutputJSON {
		return WriteJSON(w, results)
	}
	total := 0
	for _, r := range results {
		total += r.Batch.MessageCount
		line := fmt.Sprintf("%s: %d messages", r.Batch.SourcePath, r.Batch.MessageCount)
		if r.Skipped > 0 {
			line += fmt.Sprintf(" (%d skipped)", r.Skipped)
		}
		fmt.Fprintln(w, line)
	}
	fmt.Fprintf(w, "Ingested %d messages from %d files\n", total, len(results))
	return nil
}

func writeMessage(w io.Writer, m *models.Message, prefix string) {
	flag := ""
	if m.IsThreat() {
		flag = " [!]"
	}
	fmt.Fprintf(w, "%s[%s] %s -> %s%s: %s\n",
		prefix, m.Timestamp.Display(), m.SenderOrUnknown(), m.RecipientOrUnknown(), flag,
		utils.Truncate(utils.SingleLine(m.Content), contentCols))
}
