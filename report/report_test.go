package report

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	json "github.com/goccy/go-json"
	"github.com/gurre/rtap/event"
	"github.com/gurre/rtap/fake"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sample() *AnalyticsReport {
	return FromEvents([]event.Event{
		{SensorID: 2, Temperature: 20, Humidity: 40, Timestamp: 100},
		{SensorID: 1, Temperature: 25, Humidity: 45, Timestamp: 101},
		{SensorID: 2, Temperature: 35, Humidity: 60, Timestamp: 102},
	})
}

func TestSummaryEmpty(t *testing.T) {
	s := FromEvents(nil).Summary()
	assert.Equal(t, Summary{}, s)
	assert.Equal(t, []Field{{Name: "event_count", Value: "0"}}, s.Fields())

	data, err := json.Marshal(s)
	require.NoError(t, err)
	assert.JSONEq(t, `{"event_count":0}`, string(data))
}

func TestSummary(t *testing.T) {
	s := sample().Summary()
	assert.Equal(t, 3, s.EventCount)
	assert.Equal(t, 26.67, s.AvgTemperature)
	assert.Equal(t, 48.33, s.AvgHumidity)
	assert.Equal(t, 20.0, s.MinTemperature)
	assert.Equal(t, 35.0, s.MaxTemperature)
	assert.Equal(t, 40.0, s.MinHumidity)
	assert.Equal(t, 60.0, s.MaxHumidity)
}

func TestSummaryJSONRoundTrip(t *testing.T) {
	s := sample().Summary()
	data, err := json.Marshal(s)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(data), `{"event_count":3,"avg_temperature":26.67`))

	var back Summary
	require.NoError(t, json.Unmarshal(data, &back))
	assert.Equal(t, s, back)
}

func TestSummaryString(t *testing.T) {
	assert.Equal(t, "{event_count: 0}", Summary{}.String())
	assert.Equal(t,
		"{event_count: 3, avg_temperature: 26.67, avg_humidity: 48.33, min_temperature: 20.0, max_temperature: 35.0, min_humidity: 40.0, max_humidity: 60.0}",
		sample().Summary().String())
}

func TestAnomalies(t *testing.T) {
	rep := FromEvents([]event.Event{
		{SensorID: 1, Temperature: 20, Humidity: 40},
		{SensorID: 2, Temperature: 34, Humidity: 70},
	})
	got := rep.Anomalies(33, 65)
	require.Len(t, got, 1)
	assert.Equal(t, 2, got[0].SensorID)

	// Thresholds are inclusive and order is preserved
	rep = FromEvents([]event.Event{
		{SensorID: 3, Temperature: 10, Humidity: 65},
		{SensorID: 4, Temperature: 33, Humidity: 10},
	})
	got = rep.DefaultAnomalies()
	require.Len(t, got, 2)
	assert.Equal(t, 3, got[0].SensorID)
	assert.Equal(t, 4, got[1].SensorID)
}

func TestSensorBreakdown(t *testing.T) {
	assert.Equal(t, map[int]int{1: 1, 2: 2}, sample().SensorBreakdown())
	assert.Empty(t, FromEvents(nil).SensorBreakdown())
}

func TestMarkdown(t *testing.T) {
	want := strings.Join([]string{
		"# Analytics Report",
		"",
		"## Summary",
		"",
		"- **Event Count**: 3",
		"- **Avg Temperature**: 26.67",
		"- **Avg Humidity**: 48.33",
		"- **Min Temperature**: 20.0",
		"- **Max Temperature**: 35.0",
		"- **Min Humidity**: 40.0",
		"- **Max Humidity**: 60.0",
		"",
		"## Events by Sensor",
		"",
		"- Sensor 1: 1 events",
		"- Sensor 2: 2 events",
		"",
		"## Anomalies",
		"",
		"- Sensor 2 at 102: temp 35.0°C, humidity 60.0%",
	}, "\n")
	assert.Equal(t, want, sample().Markdown())
}

func TestMarkdownEmpty(t *testing.T) {
	want := strings.Join([]string{
		"# Analytics Report",
		"",
		"## Summary",
		"",
		"- **Event Count**: 0",
		"",
		"## Events by Sensor",
		"",
		"",
		"## Anomalies",
		"",
		"- None",
	}, "\n")
	assert.Equal(t, want, FromEvents(nil).Markdown())
}

func TestMarkdownDeterministic(t *testing.T) {
	rep := FromEvents([]event.Event{
		{SensorID: 5, Temperature: 21, Humidity: 30},
		{SensorID: 3, Temperature: 22, Humidity: 31},
		{SensorID: 4, Temperature: 23, Humidity: 32},
		{SensorID: 1, Temperature: 24, Humidity: 33},
	})
	first := rep.Markdown()
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, rep.Markdown())
	}
	assert.Less(t, strings.Index(first, "Sensor 1:"), strings.Index(first, "Sensor 5:"))
}

func TestFromJSONLines(t *testing.T) {
	input := `{"sensor_id":1,"temperature":20.5,"humidity":40,"timestamp":1}

{"sensor_id":2,"temperature":34,"humidity":70,"timestamp":2}
`
	rep, err := FromJSONLines(strings.NewReader(input))
	require.NoError(t, err)
	require.Len(t, rep.Events, 2)
	assert.Equal(t, event.Event{SensorID: 2, Temperature: 34, Humidity: 70, Timestamp: 2}, rep.Events[1])

	_, err = FromJSONLines(strings.NewReader(`{"sensor_id":1}`))
	assert.ErrorIs(t, err, event.ErrMalformed)
}

func TestFromS3(t *testing.T) {
	ctx := context.Background()
	client := fake.NewS3()
	_, err := client.CreateBucket(ctx, &s3.CreateBucketInput{Bucket: aws.String("demo-bucket")})
	require.NoError(t, err)

	var body bytes.Buffer
	for _, e := range sample().Events {
		line, err := event.Marshal(e)
		require.NoError(t, err)
		body.Write(line)
		body.WriteByte('\n')
	}
	_, err = client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String("demo-bucket"),
		Key:    aws.String("reports/events.jsonl"),
		Body:   bytes.NewReader(body.Bytes()),
	})
	require.NoError(t, err)

	rep, err := FromS3(ctx, client, "demo-bucket", "reports/events.jsonl")
	require.NoError(t, err)
	assert.Equal(t, sample().Events, rep.Events)

	_, err = FromS3(ctx, client, "demo-bucket", "missing.jsonl")
	assert.Error(t, err)
}

func TestWriteFiles(t *testing.T) {
	dir := t.TempDir()
	rep := sample()

	mdPath := filepath.Join(dir, "out", "report.md")
	require.NoError(t, rep.WriteMarkdown(mdPath))
	md, err := os.ReadFile(mdPath)
	require.NoError(t, err)
	assert.Equal(t, rep.Markdown(), string(md))

	jsonPath := filepath.Join(dir, "out", "report.json")
	require.NoError(t, rep.WriteJSON(jsonPath))
	data, err := os.ReadFile(jsonPath)
	require.NoError(t, err)

	var payload struct {
		Summary         map[string]float64 `json:"summary"`
		SensorBreakdown map[string]int     `json:"sensor_breakdown"`
		Anomalies       []event.Event      `json:"anomalies"`
	}
	require.NoError(t, json.Unmarshal(data, &payload))
	assert.Equal(t, 3.0, payload.Summary["event_count"])
	assert.Equal(t, map[string]int{"1": 1, "2": 2}, payload.SensorBreakdown)
	require.Len(t, payload.Anomalies, 1)
	assert.Equal(t, int64(102), payload.Anomalies[0].Timestamp)
}
