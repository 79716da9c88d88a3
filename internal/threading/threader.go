// Package threading groups flat message streams into participant-pair conversations,
// splits conversations into time-bounded threads, and builds context windows around messages.
//
// Every operation is a pure function of the message slice it receives: inputs are never
// mutated and nothing is cached between calls, so a Threader is safe for concurrent use.
package threading

import (
	"errors"
	"math"
	"sort"
	"time"

	"github.com/hyperjump/threadwise/internal/models"
	"go.uber.org/zap"
)

// DefaultGapHours is the inactivity gap that starts a new thread when none is configured.
const DefaultGapHours = 2.0

// DefaultWindow is the number of messages shown on each side of a context target.
const DefaultWindow = 5

var (
	// ErrInvalidWindow is returned for a negative context window size.
	ErrInvalidWindow = errors.New("context window must not be negative")
	// ErrInvalidGap is returned for a negative, NaN, or infinite gap.
	ErrInvalidGap = errors.New("gap hours must be a finite, non-negative number")
)

// Threader groups messages into conversations and threads.
type Threader struct {
	defaultGapHours float64
	logger          *zap.Logger
}

// Option configures a Threader.
type Option func(*Threader)

// WithLogger sets a logger for debug output (unparsable timestamps).
func WithLogger(l *zap.Logger) Option {
	return func(t *Threader) {
		if l != nil {
			t.logger = l
		}
	}
}

// New creates a Threader. A non-positive, NaN, or infinite defaultGapHours falls back to DefaultGapHours.
func New(defaultGapHours float64, opts ...Option) *Threader {
	if !validGap(defaultGapHours) || defaultGapHours == 0 {
		defaultGapHours = DefaultGapHours
	}
	t := &Threader{
		defaultGapHours: defaultGapHours,
		logger:          zap.NewNop(),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// DefaultGapHours returns the gap used by DetectThreads.
func (t *Threader) DefaultGapHours() float64 {
	return t.defaultGapHours
}

func validGap(h float64) bool {
	return !math.IsNaN(h) && !math.IsInf(h, 0) && h >= 0
}

// ParticipantKey returns an order-independent key for a participant pair,
// so ("Alice", "Bob") and ("Bob", "Alice") both yield "Alice <-> Bob".
func ParticipantKey(a, b string) string {
	if b < a {
		a, b = b, a
	}
	return a + " <-> " + b
}

func conversationKey(m *models.Message) string {
	return ParticipantKey(m.SenderOrUnknown(), m.RecipientOrUnknown())
}

// parsed pairs a message with its normalized timestamp.
type parsed struct {
	msg *models.Message
	at  time.Time
	ok  bool
}

func (t *Threader) parse(m *models.Message) parsed {
	at, ok := m.Timestamp.Time()
	if !ok && !m.Timestamp.IsNull() {
		t.logger.Debug("could not parse timestamp",
			zap.String("message_id", m.MessageID),
			zap.String("timestamp", m.Timestamp.String()),
		)
	}
	return parsed{msg: m, at: at, ok: ok}
}

// sortChronologically returns the messages ordered by timestamp, earliest first.
// Unparsable timestamps go last; ties keep their input order.
func (t *Threader) sortChronologically(msgs []*models.Message) []parsed {
	out := make([]parsed, len(msgs))
	for i, m := range msgs {
		out[i] = t.parse(m)
	}
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if !a.ok || !b.ok {
			return a.ok && !b.ok
		}
		return a.at.Before(b.at)
	})
	return out
}

// conversationBucket is a conversation before its messages are sorted.
type conversationBucket struct {
	key  string
	msgs []*models.Message
}

// bucket groups messages by participant key in order of first appearance.
func bucket(messages []*models.Message) []*conversationBucket {
	var order []*conversationBucket
	byKey := make(map[string]*conversationBucket)
	for _, m := range messages {
		if m == nil {
			continue
		}
		key := conversationKey(m)
		b, ok := byKey[key]
		if !ok {
			b = &conversationBucket{key: key}
			byKey[key] = b
			order = append(order, b)
		}
		b.msgs = append(b.msgs, m)
	}
	return order
}

func messagesOf(ps []parsed) []*models.Message {
	out := make([]*models.Message, len(ps))
	for i, p := range ps {
		out[i] = p.msg
	}
	return out
}

// GroupIntoConversations groups messages by unordered participant pair. Conversations are
// returned in order of first appearance; each is sorted chronologically. Nil entries are skipped.
func (t *Threader) GroupIntoConversations(messages []*models.Message) []*models.Conversation {
	buckets := bucket(messages)
	out := make([]*models.Conversation, 0, len(buckets))
	for _, b := range buckets {
		out = append(out, &models.Conversation{
			ConversationKey: b.key,
			Messages:        messagesOf(t.sortChronologically(b.msgs)),
		})
	}
	return out
}

// MessageContext returns up to window messages before and after the message with messageID,
// taken from that message's conversation only. An unknown ID yields a window whose Target is nil.
func (t *Threader) MessageContext(messages []*models.Message, messageID string, window int) (*models.ContextWindow, error) {
	if window < 0 {
		return nil, ErrInvalidWindow
	}
	var target *models.Message
	if messageID != "" {
		for _, m := range messages {
			if m != nil && m.MessageID == messageID {
				target = m
				break
			}
		}
	}
	if target == nil {
		return &models.ContextWindow{
			Before: []*models.Message{},
			After:  []*models.Message{},
		}, nil
	}

	key := conversationKey(target)
	var members []*models.Message
	for _, m := range messages {
		if m != nil && conversationKey(m) == key {
			members = append(members, m)
		}
	}
	conv := messagesOf(t.sortChronologically(members))

	idx := 0
	for i, m := range conv {
		if m == target {
			idx = i
			break
		}
	}
	start := idx - window
	if start < 0 {
		start = 0
	}
	end := len(conv)
	if window < end-idx-1 {
		end = idx + 1 + window
	}
	before := make([]*models.Message, idx-start)
	copy(before, conv[start:idx])
	after := make([]*models.Message, end-idx-1)
	copy(after, conv[idx+1:end])

	return &models.ContextWindow{
		Target:              target,
		Before:              before,
		After:               after,
		ConversationKey:     key,
		TotalInConversation: len(conv),
	}, nil
}
