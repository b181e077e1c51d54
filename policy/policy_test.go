package policy

import (
	"testing"

	"github.com/gurre/rtap/event"
	"github.com/stretchr/testify/assert"
)

func TestEvaluate(t *testing.T) {
	strict := &Engine{MaxTemperature: 30, MaxHumidity: 50}

	testCases := []struct {
		name   string
		engine *Engine
		event  event.Event
		want   Decision
	}{
		{
			name:   "temperature short-circuits humidity",
			engine: strict,
			event:  event.Event{SensorID: 1, Temperature: 35, Humidity: 60},
			want:   Decision{Allowed: false, Risk: RiskHigh, Reason: ReasonTemperatureAbove},
		},
		{
			name:   "humidity above threshold",
			engine: strict,
			event:  event.Event{SensorID: 1, Temperature: 25, Humidity: 60},
			want:   Decision{Allowed: false, Risk: RiskMedium, Reason: ReasonHumidityAbove},
		},
		{
			name:   "thresholds are exclusive",
			engine: strict,
			event:  event.Event{SensorID: 1, Temperature: 30, Humidity: 50},
			want:   Decision{Allowed: true, Risk: RiskLow, Reason: ReasonWithinPolicy},
		},
		{
			name:   "defaults allow typical readings",
			engine: New(),
			event:  event.Event{SensorID: 9, Temperature: 39.9, Humidity: 89.9},
			want:   Decision{Allowed: true, Risk: RiskLow, Reason: ReasonWithinPolicy},
		},
		{
			name:   "allowlist checked first",
			engine: FromAllowlist([]int{1, 2}),
			event:  event.Event{SensorID: 3, Temperature: 99, Humidity: 99},
			want:   Decision{Allowed: false, Risk: RiskHigh, Reason: ReasonNotAllowlisted},
		},
		{
			name:   "allowlisted sensor still checked against thresholds",
			engine: FromAllowlist([]int{1, 2}),
			event:  event.Event{SensorID: 2, Temperature: 20, Humidity: 95},
			want:   Decision{Allowed: false, Risk: RiskMedium, Reason: ReasonHumidityAbove},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, tc.engine.Evaluate(tc.event))
		})
	}
}

func TestEmptyAllowlistDeniesEverything(t *testing.T) {
	e := FromAllowlist(nil)
	d := e.Evaluate(event.Event{SensorID: 1, Temperature: 20, Humidity: 40})
	assert.False(t, d.Allowed)
	assert.Equal(t, ReasonNotAllowlisted, d.Reason)
}
