// Package event defines the sensor reading that flows through the pipeline
// and its two wire forms: a JSON record for streams and report artifacts, and
// a DynamoDB item for the events table.
package event

import (
	"errors"
	"fmt"
	"math"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	json "github.com/goccy/go-json"
)

// Event is one sensor reading. It is passed by value; transformations
// return a new Event instead of mutating their input.
type Event struct {
	SensorID    int     `json:"sensor_id" dynamodbav:"sensor_id,string"`
	Temperature float64 `json:"temperature" dynamodbav:"temperature"`
	Humidity    float64 `json:"humidity" dynamodbav:"humidity"`
	Timestamp   int64   `json:"timestamp" dynamodbav:"timestamp"`
}

// ErrMalformed is returned when a record cannot be decoded into an Event.
var ErrMalformed = errors.New("malformed event")

// wireEvent uses pointers so that missing fields can be told apart from zero values.
type wireEvent struct {
	SensorID    *int     `json:"sensor_id"`
	Temperature *float64 `json:"temperature"`
	Humidity    *float64 `json:"humidity"`
	Timestamp   *int64   `json:"timestamp"`
}

// Marshal encodes e as a single-line JSON object.
func Marshal(e Event) ([]byte, error) {
	return json.Marshal(e)
}

// Unmarshal decodes a JSON record. All four fields are required.
func Unmarshal(data []byte) (Event, error) {
	var w wireEvent
	if err := json.Unmarshal(data, &w); err != nil {
		return Event{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	switch {
	case w.SensorID == nil:
		return Event{}, fmt.Errorf("%w: missing sensor_id", ErrMalformed)
	case w.Temperature == nil:
		return Event{}, fmt.Errorf("%w: missing temperature", ErrMalformed)
	case w.Humidity == nil:
		return Event{}, fmt.Errorf("%w: missing humidity", ErrMalformed)
	case w.Timestamp == nil:
		return Event{}, fmt.Errorf("%w: missing timestamp", ErrMalformed)
	}
	return Event{
		SensorID:    *w.SensorID,
		Temperature: *w.Temperature,
		Humidity:    *w.Humidity,
		Timestamp:   *w.Timestamp,
	}, nil
}

// Item converts e into a DynamoDB item. The sensor id is stored as a string
// attribute so it can serve as the table's hash key; the rest are numbers.
func Item(e Event) (map[string]types.AttributeValue, error) {
	item, err := attributevalue.MarshalMap(e)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal event item: %w", err)
	}
	return item, nil
}

// FromItem is the inverse of Item.
func FromItem(item map[string]types.AttributeValue) (Event, error) {
	var e Event
	if err := attributevalue.UnmarshalMap(item, &e); err != nil {
		return Event{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return e, nil
}

// AsMap returns the event as a generic map, used for trace payloads.
func (e Event) AsMap() map[string]any {
	return map[string]any{
		"sensor_id":   e.SensorID,
		"temperature": e.Temperature,
		"humidity":    e.Humidity,
		"timestamp":   e.Timestamp,
	}
}

// Round2 rounds v to two decimal places, half away from zero.
func Round2(v float64) float64 {
	return math.Round(v*100) / 100
}
