// Package policy decides whether a processed event may be persisted.
package policy

import (
	"github.com/gurre/rtap/event"
)

// Risk grades a policy decision.
type Risk string

const (
	RiskLow    Risk = "low"
	RiskMedium Risk = "medium"
	RiskHigh   Risk = "high"
)

// Default thresholds.
const (
	DefaultMaxTemperature = 40.0
	DefaultMaxHumidity    = 90.0
)

// Decision reasons.
const (
	ReasonNotAllowlisted   = "sensor not in allowlist"
	ReasonTemperatureAbove = "temperature above threshold"
	ReasonHumidityAbove    = "humidity above threshold"
	ReasonWithinPolicy     = "within policy"
)

// Decision is the result of evaluating one event.
type Decision struct {
	Allowed bool   `json:"allowed"`
	Risk    Risk   `json:"risk"`
	Reason  string `json:"reason"`
}

// Engine evaluates events against thresholds and an optional allowlist.
// A nil AllowedSensors admits every sensor.
type Engine struct {
	MaxTemperature float64
	MaxHumidity    float64
	AllowedSensors map[int]struct{}
}

// New returns an Engine with the default thresholds and no allowlist.
func New() *Engine {
	return &Engine{
		MaxTemperature: DefaultMaxTemperature,
		MaxHumidity:    DefaultMaxHumidity,
	}
}

// FromAllowlist returns a default Engine restricted to the given sensors.
func FromAllowlist(ids []int) *Engine {
	e := New()
	e.AllowedSensors = make(map[int]struct{}, len(ids))
	for _, id := range ids {
		e.AllowedSensors[id] = struct{}{}
	}
	return e
}

// Evaluate applies the checks in order; the first failing check decides.
func (p *Engine) Evaluate(e event.Event) Decision {
	if p.AllowedSensors != nil {
		if _, ok := p.AllowedSensors[e.SensorID]; !ok {
			return Decision{Allowed: false, Risk: RiskHigh, Reason: ReasonNotAllowlisted}
		}
	}
	if e.Temperature > p.MaxTemperature {
		return Decision{Allowed: false, Risk: RiskHigh, Reason: ReasonTemperatureAbove}
	}
	if e.Humidity > p.MaxHumidity {
		return Decision{Allowed: false, Risk: RiskMedium, Reason: ReasonHumidityAbove}
	}
	return Decision{Allowed: true, Risk: RiskLow, Reason: ReasonWithinPolicy}
}
