package tracing

import (
	"fmt"
	"strings"

	json "github.com/goccy/go-json"
)

// Exporter renders trace records for sharing.
type Exporter struct {
	Records []Record
}

// Markdown renders the records as a table, one row per record.
func (e Exporter) Markdown() string {
	lines := []string{
		"# Trace Export",
		"",
		"| Event | Timestamp | Details |",
		"| --- | --- | --- |",
	}
	for _, rec := range e.Records {
		payload := rec.Payload
		if payload == nil {
			payload = map[string]any{}
		}
		details, err := json.Marshal(payload)
		if err != nil {
			details = []byte(fmt.Sprintf("%q", err.Error()))
		}
		lines = append(lines, fmt.Sprintf("| %s | %s | `%s` |", rec.Event, rec.Timestamp, details))
	}
	return strings.Join(lines, "\n")
}
