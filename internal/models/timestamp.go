package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"time"
)

// UnknownTime is the display value for a missing or unparsable time.
const UnknownTime = "Unknown"

// Epoch seconds bounds for years 1 through 9999.
const (
	minEpochSeconds = -62135596800
	maxEpochSeconds = 253402300799
)

// timestampLayouts are tried in order; the first layout that parses wins.
var timestampLayouts = []struct {
	layout string
	// foldCase upper-cases the input first so "pm" matches the PM layout.
	foldCase bool
}{
	{layout: "2006-01-02 15:04:05"},
	{layout: "2006-01-02T15:04:05"},
	{layout: "2006-01-02 15:04:05.999999"},
	{layout: "2006-01-02T15:04:05.999999"},
	{layout: "2006-01-02"},
	{layout: "1/2/2006 15:04:05"},
	{layout: "1/2/2006 3:04:05 PM", foldCase: true},
}

// Timestamp holds a message time exactly as the extractor produced it: a native
// time.Time, epoch seconds, a formatted string, or nothing at all. Normalization
// happens on read through Time.
type Timestamp struct {
	value any
}

// TimeValue wraps a native time.
func TimeValue(t time.Time) Timestamp { return Timestamp{value: t} }

// EpochValue wraps epoch seconds.
func EpochValue(seconds float64) Timestamp { return Timestamp{value: seconds} }

// StringValue wraps a formatted timestamp string.
func StringValue(s string) Timestamp { return Timestamp{value: s} }

// IsNull reports whether no timestamp was supplied.
func (ts Timestamp) IsNull() bool { return ts.value == nil }

// Raw returns the underlying value (time.Time, float64, string, or nil).
func (ts Timestamp) Raw() any { return ts.value }

// Time normalizes the timestamp. The second result is false when the value is
// missing or matches none of the supported representations; it never panics.
func (ts Timestamp) Time() (time.Time, bool) {
	switch v := ts.value.(type) {
	case nil:
		return time.Time{}, false
	case time.Time:
		if v.IsZero() {
			return time.Time{}, false
		}
		return v, true
	case float64:
		return epochTime(v)
	case string:
		return parseTimeString(v)
	default:
		return time.Time{}, false
	}
}

// String returns a human-readable form of the raw value. Native times keep their zone offset.
func (ts Timestamp) String() string {
	switch v := ts.value.(type) {
	case nil:
		return ""
	case time.Time:
		return v.Format(time.RFC3339Nano)
	case float64:
		return formatEpoch(v)
	case string:
		return v
	default:
		return fmt.Sprint(v)
	}
}

// Display shows a parsed timestamp in the normalized layout, anything unparsable as given,
// and a missing or empty one as UnknownTime.
func (ts Timestamp) Display() string {
	if t, ok := ts.Time(); ok {
		return FormatTime(t)
	}
	if s := ts.String(); s != "" {
		return s
	}
	return UnknownTime
}

func epochTime(seconds float64) (time.Time, bool) {
	if math.IsNaN(seconds) || math.IsInf(seconds, 0) {
		return time.Time{}, false
	}
	if seconds < minEpochSeconds || seconds > maxEpochSeconds {
		return time.Time{}, false
	}
	whole, frac := math.Modf(seconds)
	usec := math.Round(frac * 1e6)
	return time.Unix(int64(whole), int64(usec)*int64(time.Microsecond)).UTC(), true
}

func parseTimeString(s string) (time.Time, bool) {
	for _, l := range timestampLayouts {
		in := s
		if l.foldCase {
			in = strings.ToUpper(s)
		}
		if t, err := time.Parse(l.layout, in); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// FormatTime renders t as "YYYY-MM-DD HH:MM:SS", appending ".ffffff" only when
// the time carries sub-second microseconds.
func FormatTime(t time.Time) string {
	out := t.Format("2006-01-02 15:04:05")
	if us := t.Nanosecond() / 1000; us != 0 {
		out += fmt.Sprintf(".%06d", us)
	}
	return out
}

func formatEpoch(v float64) string {
	if v == math.Trunc(v) && math.Abs(v) < 1e15 {
		return fmt.Sprintf("%d", int64(v))
	}
	return fmt.Sprintf("%g", v)
}

// MarshalJSON emits numbers as numbers, strings as strings, native times as RFC 3339
// with their zone offset, and null when absent.
func (ts Timestamp) MarshalJSON() ([]byte, error) {
	switch v := ts.value.(type) {
	case nil:
		return []byte("null"), nil
	case time.Time:
		return json.Marshal(v.Format(time.RFC3339Nano))
	case float64:
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return []byte("null"), nil
		}
		return json.Marshal(v)
	case string:
		return json.Marshal(v)
	default:
		return json.Marshal(fmt.Sprint(v))
	}
}

// UnmarshalJSON accepts a number, a string, or null. Any other JSON value is
// kept as its raw text, which never parses as a time.
func (ts *Timestamp) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		ts.value = nil
		return nil
	}
	switch trimmed[0] {
	case '"':
		var s string
		if err := json.Unmarshal(trimmed, &s); err != nil {
			return err
		}
		ts.value = s
	case '-', '0', '1', '2', '3', '4', '5', '6', '7', '8', '9':
		var f float64
		if err := json.Unmarshal(trimmed, &f); err != nil {
			ts.value = string(trimmed)
			return nil
		}
		ts.value = f
	default:
		ts.value = string(trimmed)
	}
	return nil
}

// storedNative wraps a native time in the storage encoding so it decodes back to a native
// time. Plain strings never get the RFC 3339 layout.
type storedNative struct {
	Native string `json:"native"`
}

// MarshalStored encodes ts for persistence. It matches MarshalJSON except that native times
// are tagged, so UnmarshalStored restores the same instant and zone offset.
func (ts Timestamp) MarshalStored() ([]byte, error) {
	if v, ok := ts.value.(time.Time); ok {
		return json.Marshal(storedNative{Native: v.Format(time.RFC3339Nano)})
	}
	return ts.MarshalJSON()
}

// UnmarshalStored decodes a value written by MarshalStored. Values written before native
// times were tagged decode as plain JSON.
func (ts *Timestamp) UnmarshalStored(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) > 0 && trimmed[0] == '{' {
		var n storedNative
		if err := json.Unmarshal(trimmed, &n); err == nil && n.Native != "" {
			t, err := time.Parse(time.RFC3339Nano, n.Native)
			if err != nil {
				return fmt.Errorf("stored native time %q: %w", n.Native, err)
			}
			ts.value = t
			return nil
		}
	}
	return ts.UnmarshalJSON(trimmed)
}
