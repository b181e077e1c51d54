// Package tracing records append-only JSONL trace events and spans for
// offline diagnostics of a pipeline run.
package tracing

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	json "github.com/goccy/go-json"
	"github.com/google/uuid"
)

// Span event types.
const (
	EventSpanStart = "span.start"
	EventSpanEnd   = "span.end"
)

// Record is one line of a trace file.
type Record struct {
	Event     string         `json:"event"`
	Timestamp string         `json:"timestamp"`
	Payload   map[string]any `json:"payload"`
}

// Recorder appends Records to a JSONL file. A Recorder without a path, or
// one that is not enabled, silently discards events.
type Recorder struct {
	mu      sync.Mutex
	path    string
	enabled bool
	now     func() time.Time
}

// NewRecorder creates a Recorder writing to path. Recording is enabled
// whenever path is non-empty.
func NewRecorder(path string) *Recorder {
	return &Recorder{path: path, enabled: path != "", now: time.Now}
}

// Enabled reports whether events are written.
func (r *Recorder) Enabled() bool {
	return r != nil && r.enabled && r.path != ""
}

func (r *Recorder) clock() time.Time {
	if r == nil || r.now == nil {
		return time.Now()
	}
	return r.now()
}

// Path returns the trace file path.
func (r *Recorder) Path() string {
	if r == nil {
		return ""
	}
	return r.path
}

// RecordEvent appends one record. Parent directories are created on demand.
func (r *Recorder) RecordEvent(eventType string, fields map[string]any) error {
	if !r.Enabled() {
		return nil
	}
	if fields == nil {
		fields = map[string]any{}
	}
	rec := Record{
		Event:     eventType,
		Timestamp: r.clock().UTC().Format(time.RFC3339Nano),
		Payload:   fields,
	}
	line, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to encode trace record: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(r.path), 0755); err != nil {
		return fmt.Errorf("failed to create trace directory: %w", err)
	}
	f, err := os.OpenFile(r.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("failed to open trace file: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("failed to write trace record: %w", err)
	}
	return nil
}

// ReadEvents returns all records in write order. A missing file yields an
// empty slice.
func (r *Recorder) ReadEvents() ([]Record, error) {
	if r.Path() == "" {
		return []Record{}, nil
	}
	data, err := os.ReadFile(r.path)
	if errors.Is(err, os.ErrNotExist) {
		return []Record{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read trace file: %w", err)
	}

	records := []Record{}
	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var rec Record
		if err := json.Unmarshal([]byte(line), &rec); err != nil {
			return nil, fmt.Errorf("failed to decode trace record: %w", err)
		}
		records = append(records, rec)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to scan trace file: %w", err)
	}
	return records, nil
}

// Span brackets a unit of work with span.start and span.end records.
type Span struct {
	ID     string
	Name   string
	Fields map[string]any

	recorder *Recorder
	start    time.Time
}

// StartSpan records span.start and returns the open span. Recording errors
// are not fatal to the traced work; they are returned by End.
func (r *Recorder) StartSpan(name string, fields map[string]any) *Span {
	if fields == nil {
		fields = map[string]any{}
	}
	s := &Span{
		ID:       uuid.NewString(),
		Name:     name,
		Fields:   fields,
		recorder: r,
		start:    r.clock(),
	}
	_ = r.RecordEvent(EventSpanStart, map[string]any{
		"name":      name,
		"span_id":   s.ID,
		"timestamp": s.start.UTC().Format(time.RFC3339Nano),
		"fields":    fields,
	})
	return s
}

// AddField attaches a field that is reported on span.end.
func (s *Span) AddField(key string, value any) {
	s.Fields[key] = value
}

// End records span.end with the elapsed time. A non-nil err is recorded in
// the "error" field.
func (s *Span) End(err error) error {
	end := s.recorder.clock()
	payload := map[string]any{
		"name":        s.Name,
		"span_id":     s.ID,
		"timestamp":   end.UTC().Format(time.RFC3339Nano),
		"duration_ms": float64(end.Sub(s.start)) / float64(time.Millisecond),
		"fields":      s.Fields,
	}
	if err != nil {
		payload["error"] = err.Error()
	}
	return s.recorder.RecordEvent(EventSpanEnd, payload)
}

// WithSpan runs fn inside a span. The span is ended on every exit path; a
// panic is recorded as the span error and then re-raised.
func (r *Recorder) WithSpan(name string, fields map[string]any, fn func(*Span) error) (err error) {
	span := r.StartSpan(name, fields)
	defer func() {
		if p := recover(); p != nil {
			_ = span.End(fmt.Errorf("panic: %v", p))
			panic(p)
		}
		_ = span.End(err)
	}()
	return fn(span)
}
