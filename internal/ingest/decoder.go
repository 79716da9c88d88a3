// Package ingest loads normalized message exports produced by source extractors.
//
// Three layouts are accepted: a top-level JSON array of records, a top-level object holding
// the record array in one of its fields, and JSON Lines. Arrays are decoded with a streaming
// decoder so large exports are never read into memory whole.
package ingest

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/hyperjump/threadwise/internal/models"
	"go.uber.org/zap"
)

// Format selects how an export is laid out.
type Format int

const (
	// FormatAuto picks FormatJSONL for .jsonl and .ndjson files and FormatJSON otherwise.
	FormatAuto Format = iota
	// FormatJSON is a top-level array, or an object with an array field.
	FormatJSON
	// FormatJSONL is one record per line.
	FormatJSONL
)

// DefaultArrayField is the object field read when the export is a top-level object.
const DefaultArrayField = "messages"

// ErrNoRecordArray is returned when a top-level object has no array field to read.
var ErrNoRecordArray = errors.New("no message array found in top-level object")

// Options controls decoding.
type Options struct {
	Format Format
	// ArrayField names the record array inside a top-level object. When the named field is
	// absent the first array-valued field is used.
	ArrayField string
	// Source fills in records that carry no source of their own.
	Source string
	Logger *zap.Logger
}

// Result is the outcome of decoding one export.
type Result struct {
	Messages []*models.Message
	// Skipped counts array elements that were not JSON objects.
	Skipped int
}

// IsExportFile reports whether path has one of the given extensions (case-insensitive).
func IsExportFile(path string, extensions []string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	for _, e := range extensions {
		if strings.ToLower(e) == ext {
			return true
		}
	}
	return false
}

// DecodeFile opens path and decodes it. FormatAuto is resolved from the file extension.
func DecodeFile(ctx context.Context, path string, opts Options) (*Result, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open export: %w", err)
	}
	defer f.Close()

	if opts.Format == FormatAuto {
		switch strings.ToLower(filepath.Ext(path)) {
		case ".jsonl", ".ndjson":
			opts.Format = FormatJSONL
		default:
			opts.Format = FormatJSON
		}
	}
	res, err := Decode(ctx, f, opts)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return res, nil
}

// Decode reads an export from r. FormatAuto is treated as FormatJSON.
func Decode(ctx context.Context, r io.Reader, opts Options) (*Result, error) {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Format == FormatJSONL {
		return decodeLines(ctx, r, opts)
	}
	return decodeJSON(ctx, r, opts)
}

func decodeJSON(ctx context.Context, r io.Reader, opts Options) (*Result, error) {
	dec := json.NewDecoder(bufio.NewReaderSize(r, 1<<20))
	dec.UseNumber()

	tok, err := dec.Token()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return &Result{Messages: []*models.Message{}}, nil
		}
		return nil, fmt.Errorf("read first token: %w", err)
	}
	delim, ok := tok.(json.Delim)
	if !ok {
		return nil, fmt.Errorf("expected JSON array or object, got %T", tok)
	}

	res := &Result{Messages: []*models.Message{}}
	switch delim {
	case '[':
		if err := decodeArray(ctx, dec, opts, res); err != nil {
			return nil, err
		}
		return res, nil
	case '{':
		if err := decodeObject(ctx, dec, opts, res); err != nil {
			return nil, err
		}
		return res, nil
	default:
		return nil, fmt.Errorf("unsupported top-level delimiter %q", delim)
	}
}

// decodeObject reads a top-level object whose opening '{' has been consumed. The named array
// field is streamed; the first other array field is buffered as a fallback for exports that
// use a different field name.
func decodeObject(ctx context.Context, dec *json.Decoder, opts Options, res *Result) error {
	field := opts.ArrayField
	if field == "" {
		field = DefaultArrayField
	}
	found := false
	var fallback json.RawMessage
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return fmt.Errorf("read object key: %w", err)
		}
		key, _ := keyTok.(string)
		if key == field && !found {
			tok, err := dec.Token()
			if err != nil {
				return fmt.Errorf("read field %q: %w", key, err)
			}
			if d, ok := tok.(json.Delim); !ok || d != '[' {
				return fmt.Errorf("field %q is not an array", key)
			}
			if err := decodeArray(ctx, dec, opts, res); err != nil {
				return err
			}
			found = true
			continue
		}
		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			return fmt.Errorf("read field %q: %w", key, err)
		}
		if !found && fallback == nil && len(raw) > 0 && raw[0] == '[' {
			fallback = raw
		}
	}
	if _, err := dec.Token(); err != nil {
		return fmt.Errorf("read closing object token: %w", err)
	}
	if found {
		return nil
	}
	if fallback == nil {
		return ErrNoRecordArray
	}
	inner := json.NewDecoder(bytes.NewReader(fallback))
	inner.UseNumber()
	if _, err := inner.Token(); err != nil {
		return fmt.Errorf("read fallback array: %w", err)
	}
	return decodeArray(ctx, inner, opts, res)
}

// decodeArray consumes records up to and including the closing ']'. The opening '[' must
// already have been read.
func decodeArray(ctx context.Context, dec *json.Decoder, opts Options, res *Result) error {
	idx := 0
	for dec.More() {
		if err := ctx.Err(); err != nil {
			return err
		}
		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			return fmt.Errorf("decode record %d: %w", idx, err)
		}
		msg, err := decodeRecord(raw, opts)
		if err != nil {
			opts.Logger.Warn("skipping non-object record", zap.Int("index", idx), zap.Error(err))
			res.Skipped++
		} else {
			res.Messages = append(res.Messages, msg)
		}
		idx++
	}
	tok, err := dec.Token()
	if err != nil {
		return fmt.Errorf("read closing array token: %w", err)
	}
	if d, ok := tok.(json.Delim); !ok || d != ']' {
		return fmt.Errorf("expected closing ']', got %v", tok)
	}
	return nil
}

func decodeLines(ctx context.Context, r io.Reader, opts Options) (*Result, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 16<<20)
	res := &Result{Messages: []*models.Message{}}
	line := 0
	for sc.Scan() {
		line++
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		b := bytes.TrimSpace(sc.Bytes())
		if len(b) == 0 {
			continue
		}
		if !json.Valid(b) {
			return nil, fmt.Errorf("line %d: invalid JSON", line)
		}
		msg, err := decodeRecord(b, opts)
		if err != nil {
			opts.Logger.Warn("skipping non-object record", zap.Int("line", line), zap.Error(err))
			res.Skipped++
			continue
		}
		res.Messages = append(res.Messages, msg)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read lines: %w", err)
	}
	return res, nil
}
