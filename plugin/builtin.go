package plugin

import (
	"math"

	"github.com/gurre/rtap/event"
)

// Built-in plugin names.
const (
	NormalizeTemperatureName = "normalize_temperature"
	ClampHumidityName        = "clamp_humidity"
)

// fahrenheitThreshold is the reading above which a temperature is assumed
// to be Fahrenheit. This is a heuristic, not a unit tag.
const fahrenheitThreshold = 60.0

var builtins = map[string]Factory{
	NormalizeTemperatureName: func() Plugin { return NormalizeTemperature{} },
	ClampHumidityName:        func() Plugin { return ClampHumidity{} },
}

func init() {
	Register("github.com/gurre/rtap/plugin:NormalizeTemperature", builtins[NormalizeTemperatureName])
	Register("github.com/gurre/rtap/plugin:ClampHumidity", builtins[ClampHumidityName])
}

// NormalizeTemperature converts readings above 60 from Fahrenheit to Celsius.
type NormalizeTemperature struct{}

func (NormalizeTemperature) Name() string { return NormalizeTemperatureName }

func (NormalizeTemperature) Process(e event.Event) event.Event {
	if e.Temperature > fahrenheitThreshold {
		e.Temperature = event.Round2((e.Temperature - 32) * 5 / 9)
	}
	return e
}

// ClampHumidity bounds humidity to [0, 100].
type ClampHumidity struct{}

func (ClampHumidity) Name() string { return ClampHumidityName }

func (ClampHumidity) Process(e event.Event) event.Event {
	e.Humidity = event.Round2(math.Min(math.Max(e.Humidity, 0), 100))
	return e
}
