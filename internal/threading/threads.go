package threading

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/hyperjump/threadwise/internal/models"
)

// DetectThreads splits every conversation into threads using the default gap.
func (t *Threader) DetectThreads(messages []*models.Message) []*models.Thread {
	threads, _ := t.DetectThreadsWithGap(messages, t.defaultGapHours)
	return threads
}

// builtThread keeps the parsed bounds next to a thread for the final ordering.
type builtThread struct {
	thread *models.Thread
	start  time.Time
	known  bool
}

// DetectThreadsWithGap splits every conversation into threads. A new thread starts when two
// consecutive parsable timestamps are more than gapHours apart; a message whose timestamp
// cannot be parsed always stays in the current thread.
//
// Thread IDs are assigned in conversation order during the split and are not renumbered
// when the result is sorted by start time, so downstream references stay valid.
func (t *Threader) DetectThreadsWithGap(messages []*models.Message, gapHours float64) ([]*models.Thread, error) {
	if !validGap(gapHours) {
		return nil, ErrInvalidGap
	}

	var built []builtThread
	counter := 0
	flush := func(key string, run []parsed) {
		built = append(built, buildThread(counter, key, run))
		counter++
	}

	for _, b := range bucket(messages) {
		conv := t.sortChronologically(b.msgs)
		if len(conv) == 0 {
			continue
		}
		current := []parsed{conv[0]}
		prev := conv[0]
		for _, p := range conv[1:] {
			// Compared in hours; a Duration built from a large gap would overflow.
			if prev.ok && p.ok && p.at.Sub(prev.at).Hours() > gapHours {
				flush(b.key, current)
				current = nil
			}
			current = append(current, p)
			if p.ok {
				prev = p
			}
		}
		flush(b.key, current)
	}

	sort.SliceStable(built, func(i, j int) bool {
		a, b := built[i], built[j]
		if !a.known || !b.known {
			return a.known && !b.known
		}
		return a.start.Before(b.start)
	})

	out := make([]*models.Thread, len(built))
	for i, bt := range built {
		out[i] = bt.thread
	}
	return out, nil
}

func buildThread(id int, key string, run []parsed) builtThread {
	participants := make(map[string]struct{})
	var start, end time.Time
	known := false
	for _, p := range run {
		participants[p.msg.SenderOrUnknown()] = struct{}{}
		participants[p.msg.RecipientOrUnknown()] = struct{}{}
		if !p.ok {
			continue
		}
		if !known || p.at.Before(start) {
			start = p.at
		}
		if !known || p.at.After(end) {
			end = p.at
		}
		known = true
	}

	names := make([]string, 0, len(participants))
	for name := range participants {
		names = append(names, name)
	}
	sort.Strings(names)

	startStr, endStr := models.UnknownTime, models.UnknownTime
	if known {
		startStr = models.FormatTime(start)
		endStr = models.FormatTime(end)
	}

	return builtThread{
		thread: &models.Thread{
			ThreadID:        fmt.Sprintf("thread_%04d", id),
			ConversationKey: key,
			Participants:    names,
			Messages:        messagesOf(run),
			StartTime:       startStr,
			EndTime:         endStr,
			MessageCount:    len(run),
		},
		start: start,
		known: known,
	}
}

// GenerateConversationSummaries detects threads with the default gap and summarizes each one,
// preserving thread order.
func (t *Threader) GenerateConversationSummaries(messages []*models.Message) []*models.ThreadSummary {
	return Summarize(t.DetectThreads(messages))
}

// Summarize builds one summary per thread. avg_sentiment averages only the messages that
// carry a score and is rounded to 4 decimals; threat_count counts explicit true flags.
func Summarize(threads []*models.Thread) []*models.ThreadSummary {
	out := make([]*models.ThreadSummary, 0, len(threads))
	for _, th := range threads {
		var sum float64
		var scored, threats int
		for _, m := range th.Messages {
			if m.SentimentScore != nil {
				sum += *m.SentimentScore
				scored++
			}
			if m.IsThreat() {
				threats++
			}
		}
		var avg *float64
		if scored > 0 {
			v := roundTo(sum/float64(scored), 4)
			avg = &v
		}
		out = append(out, &models.ThreadSummary{
			ThreadID:        th.ThreadID,
			ConversationKey: th.ConversationKey,
			Participants:    strings.Join(th.Participants, ", "),
			StartTime:       th.StartTime,
			EndTime:         th.EndTime,
			MessageCount:    th.MessageCount,
			AvgSentiment:    avg,
			ThreatsDetected: threats > 0,
			ThreatCount:     threats,
		})
	}
	return out
}

func roundTo(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}

// ThreadedExport returns the full threaded view of messages: counts, threads, and summaries.
func (t *Threader) ThreadedExport(messages []*models.Message) *models.ThreadedExport {
	threads := t.DetectThreads(messages)
	return &models.ThreadedExport{
		TotalMessages:      len(messages),
		TotalThreads:       len(threads),
		TotalConversations: len(bucket(messages)),
		Threads:            threads,
		Summaries:          Summarize(threads),
	}
}
