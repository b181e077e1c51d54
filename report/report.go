// Package report aggregates processed events into summary statistics,
// anomaly lists and per-sensor counts, and renders them as markdown or JSON.
package report

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	json "github.com/goccy/go-json"
	"github.com/gurre/rtap/aws"
	"github.com/gurre/rtap/event"
)

// Default anomaly thresholds. Readings at or above either one are flagged.
const (
	DefaultTempThreshold     = 33.0
	DefaultHumidityThreshold = 65.0
)

// AnalyticsReport is a read-only view over a set of events.
type AnalyticsReport struct {
	Events []event.Event
}

// FromEvents copies events into a new report.
func FromEvents(events []event.Event) *AnalyticsReport {
	return &AnalyticsReport{Events: append([]event.Event(nil), events...)}
}

// FromJSONLines decodes newline-delimited event records. Blank lines are
// skipped; a malformed line fails the whole read.
func FromJSONLines(r io.Reader) (*AnalyticsReport, error) {
	rep := &AnalyticsReport{}
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 16*1024*1024)
	line := 0
	for scanner.Scan() {
		line++
		if err := rep.appendLine(scanner.Bytes()); err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read events: %w", err)
	}
	return rep, nil
}

// FromS3 streams an ND-JSON object through streamer.
func FromS3(ctx context.Context, streamer aws.Streamer, bucket, key string) (*AnalyticsReport, error) {
	rep := &AnalyticsReport{}
	err := streamer.Stream(ctx, bucket, key, 0, func(data []byte, line int64) error {
		if err := rep.appendLine(data); err != nil {
			return fmt.Errorf("line %d: %w", line+1, err)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load report s3://%s/%s: %w", bucket, key, err)
	}
	return rep, nil
}

func (r *AnalyticsReport) appendLine(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil
	}
	e, err := event.Unmarshal(data)
	if err != nil {
		return err
	}
	r.Events = append(r.Events, e)
	return nil
}

// Summary computes count, averages and extremes. Averages are rounded to two
// decimals; min and max are reported as observed.
func (r *AnalyticsReport) Summary() Summary {
	if len(r.Events) == 0 {
		return Summary{}
	}
	first := r.Events[0]
	s := Summary{
		EventCount:     len(r.Events),
		MinTemperature: first.Temperature,
		MaxTemperature: first.Temperature,
		MinHumidity:    first.Humidity,
		MaxHumidity:    first.Humidity,
	}
	var totalTemp, totalHumidity float64
	for _, e := range r.Events {
		totalTemp += e.Temperature
		totalHumidity += e.Humidity
		s.MinTemperature = min(s.MinTemperature, e.Temperature)
		s.MaxTemperature = max(s.MaxTemperature, e.Temperature)
		s.MinHumidity = min(s.MinHumidity, e.Humidity)
		s.MaxHumidity = max(s.MaxHumidity, e.Humidity)
	}
	n := float64(len(r.Events))
	s.AvgTemperature = event.Round2(totalTemp / n)
	s.AvgHumidity = event.Round2(totalHumidity / n)
	return s
}

// Anomalies returns, in input order, the events with temperature at or above
// tempThreshold or humidity at or above humidityThreshold.
func (r *AnalyticsReport) Anomalies(tempThreshold, humidityThreshold float64) []event.Event {
	var out []event.Event
	for _, e := range r.Events {
		if e.Temperature >= tempThreshold || e.Humidity >= humidityThreshold {
			out = append(out, e)
		}
	}
	return out
}

// DefaultAnomalies applies the default thresholds.
func (r *AnalyticsReport) DefaultAnomalies() []event.Event {
	return r.Anomalies(DefaultTempThreshold, DefaultHumidityThreshold)
}

// SensorBreakdown counts events per sensor id.
func (r *AnalyticsReport) SensorBreakdown() map[int]int {
	breakdown := make(map[int]int)
	for _, e := range r.Events {
		breakdown[e.SensorID]++
	}
	return breakdown
}

// Markdown renders the report. Output depends only on the events.
func (r *AnalyticsReport) Markdown() string {
	var b strings.Builder
	b.WriteString("# Analytics Report\n\n## Summary\n\n")
	for _, f := range r.Summary().Fields() {
		fmt.Fprintf(&b, "- **%s**: %s\n", titleKey(f.Name), f.Value)
	}

	b.WriteString("\n## Events by Sensor\n\n")
	breakdown := r.SensorBreakdown()
	ids := make([]int, 0, len(breakdown))
	for id := range breakdown {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	for _, id := range ids {
		fmt.Fprintf(&b, "- Sensor %d: %d events\n", id, breakdown[id])
	}

	b.WriteString("\n## Anomalies\n\n")
	anomalies := r.DefaultAnomalies()
	if len(anomalies) == 0 {
		b.WriteString("- None")
	}
	for i, e := range anomalies {
		if i > 0 {
			b.WriteByte('\n')
		}
		fmt.Fprintf(&b, "- Sensor %d at %d: temp %s°C, humidity %s%%",
			e.SensorID, e.Timestamp, formatFloat(e.Temperature), formatFloat(e.Humidity))
	}
	return b.String()
}

type jsonReport struct {
	Summary         Summary        `json:"summary"`
	SensorBreakdown map[string]int `json:"sensor_breakdown"`
	Anomalies       []event.Event  `json:"anomalies"`
}

// JSON renders summary, breakdown and anomalies as indented JSON.
func (r *AnalyticsReport) JSON() ([]byte, error) {
	breakdown := make(map[string]int)
	for id, n := range r.SensorBreakdown() {
		breakdown[strconv.Itoa(id)] = n
	}
	anomalies := r.DefaultAnomalies()
	if anomalies == nil {
		anomalies = []event.Event{}
	}
	data, err := json.MarshalIndent(jsonReport{
		Summary:         r.Summary(),
		SensorBreakdown: breakdown,
		Anomalies:       anomalies,
	}, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to encode report: %w", err)
	}
	return data, nil
}

// WriteMarkdown writes Markdown() to path, creating parent directories.
func (r *AnalyticsReport) WriteMarkdown(path string) error {
	return writeFile(path, []byte(r.Markdown()))
}

// WriteJSON writes JSON() to path, creating parent directories.
func (r *AnalyticsReport) WriteJSON(path string) error {
	data, err := r.JSON()
	if err != nil {
		return err
	}
	return writeFile(path, data)
}

func writeFile(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create report directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write report: %w", err)
	}
	return nil
}

// titleKey turns "avg_temperature" into "Avg Temperature".
func titleKey(key string) string {
	words := strings.Split(key, "_")
	for i, w := range words {
		if w != "" {
			words[i] = strings.ToUpper(w[:1]) + w[1:]
		}
	}
	return strings.Join(words, " ")
}
