package event

import (
	"math/rand"
	"time"
)

// Default generator ranges.
const (
	DefaultSeed        = 42
	DefaultMinTemp     = 20.0
	DefaultMaxTemp     = 35.0
	DefaultMinHumidity = 30.0
	DefaultMaxHumidity = 70.0

	minSensorID = 1
	maxSensorID = 5
)

// Generator produces a pseudo-random but seed-deterministic sequence of
// events. Only the timestamps are not derived from the seed: they come from
// Now, which defaults to the wall clock.
type Generator struct {
	Seed        int64
	MinTemp     float64
	MaxTemp     float64
	MinHumidity float64
	MaxHumidity float64
	Now         func() time.Time
}

// NewGenerator returns a Generator with the default ranges.
func NewGenerator(seed int64) *Generator {
	return &Generator{
		Seed:        seed,
		MinTemp:     DefaultMinTemp,
		MaxTemp:     DefaultMaxTemp,
		MinHumidity: DefaultMinHumidity,
		MaxHumidity: DefaultMaxHumidity,
		Now:         time.Now,
	}
}

// Generate returns exactly count events. A fresh random source is seeded on
// every call so that repeated calls yield the same readings.
func (g *Generator) Generate(count int) []Event {
	if count <= 0 {
		return []Event{}
	}
	now := g.Now
	if now == nil {
		now = time.Now
	}

	r := rand.New(rand.NewSource(g.Seed))
	events := make([]Event, 0, count)
	for i := 0; i < count; i++ {
		events = append(events, Event{
			SensorID:    minSensorID + r.Intn(maxSensorID-minSensorID+1),
			Temperature: Round2(uniform(r, g.MinTemp, g.MaxTemp)),
			Humidity:    Round2(uniform(r, g.MinHumidity, g.MaxHumidity)),
			Timestamp:   now().Unix(),
		})
	}
	return events
}

func uniform(r *rand.Rand, min, max float64) float64 {
	return min + r.Float64()*(max-min)
}
