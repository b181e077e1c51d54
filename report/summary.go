package report

import (
	"strconv"
	"strings"

	json "github.com/goccy/go-json"
)

// Summary holds the aggregate statistics of a report. A zero EventCount
// means the report was empty and the other fields are meaningless.
type Summary struct {
	EventCount     int
	AvgTemperature float64
	AvgHumidity    float64
	MinTemperature float64
	MaxTemperature float64
	MinHumidity    float64
	MaxHumidity    float64
}

// Field is one named summary value, already formatted.
type Field struct {
	Name  string
	Value string
}

// Fields lists the summary in its canonical order. An empty summary has
// only event_count.
func (s Summary) Fields() []Field {
	fields := []Field{{Name: "event_count", Value: strconv.Itoa(s.EventCount)}}
	if s.EventCount == 0 {
		return fields
	}
	return append(fields,
		Field{Name: "avg_temperature", Value: formatFloat(s.AvgTemperature)},
		Field{Name: "avg_humidity", Value: formatFloat(s.AvgHumidity)},
		Field{Name: "min_temperature", Value: formatFloat(s.MinTemperature)},
		Field{Name: "max_temperature", Value: formatFloat(s.MaxTemperature)},
		Field{Name: "min_humidity", Value: formatFloat(s.MinHumidity)},
		Field{Name: "max_humidity", Value: formatFloat(s.MaxHumidity)},
	)
}

// String renders the summary as {name: value, ...} in canonical order.
func (s Summary) String() string {
	fields := s.Fields()
	parts := make([]string, len(fields))
	for i, f := range fields {
		parts[i] = f.Name + ": " + f.Value
	}
	return "{" + strings.Join(parts, ", ") + "}"
}

type summaryJSON struct {
	EventCount     int      `json:"event_count"`
	AvgTemperature *float64 `json:"avg_temperature,omitempty"`
	AvgHumidity    *float64 `json:"avg_humidity,omitempty"`
	MinTemperature *float64 `json:"min_temperature,omitempty"`
	MaxTemperature *float64 `json:"max_temperature,omitempty"`
	MinHumidity    *float64 `json:"min_humidity,omitempty"`
	MaxHumidity    *float64 `json:"max_humidity,omitempty"`
}

// MarshalJSON emits {"event_count":0} for an empty summary.
func (s Summary) MarshalJSON() ([]byte, error) {
	out := summaryJSON{EventCount: s.EventCount}
	if s.EventCount > 0 {
		out.AvgTemperature = &s.AvgTemperature
		out.AvgHumidity = &s.AvgHumidity
		out.MinTemperature = &s.MinTemperature
		out.MaxTemperature = &s.MaxTemperature
		out.MinHumidity = &s.MinHumidity
		out.MaxHumidity = &s.MaxHumidity
	}
	return json.Marshal(out)
}

// UnmarshalJSON is the inverse of MarshalJSON.
func (s *Summary) UnmarshalJSON(data []byte) error {
	var in summaryJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	*s = Summary{EventCount: in.EventCount}
	for dst, src := range map[*float64]*float64{
		&s.AvgTemperature: in.AvgTemperature,
		&s.AvgHumidity:    in.AvgHumidity,
		&s.MinTemperature: in.MinTemperature,
		&s.MaxTemperature: in.MaxTemperature,
		&s.MinHumidity:    in.MinHumidity,
		&s.MaxHumidity:    in.MaxHumidity,
	} {
		if src != nil {
			*dst = *src
		}
	}
	return nil
}

// formatFloat prints the shortest representation, keeping one decimal for
// whole numbers so 35 reads as 35.0.
func formatFloat(v float64) string {
	s := strconv.FormatFloat(v, 'f', -1, 64)
	if !strings.ContainsAny(s, ".eEnN") {
		s += ".0"
	}
	return s
}
