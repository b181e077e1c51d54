// Package metrics implements the in-process metrics registry used by a
// pipeline run: named counters and duration observations, point-in-time
// snapshots, and merging of registries from several runs.
package metrics

import (
	"sync"
	"time"

	json "github.com/goccy/go-json"
)

// Registry collects counters and timers. A disabled registry ignores every
// Increment and Observe call.
type Registry struct {
	mu      sync.Mutex
	enabled bool

	counters map[string]int64     // Monotonic counters
	timers   map[string][]float64 // Observed durations in seconds, in observation order
}

// NewRegistry creates a Registry. Pass enabled=false to make all updates no-ops.
func NewRegistry(enabled bool) *Registry {
	return &Registry{
		enabled:  enabled,
		counters: make(map[string]int64),
		timers:   make(map[string][]float64),
	}
}

// Enabled reports whether updates are recorded.
func (r *Registry) Enabled() bool {
	return r.enabled
}

// Increment adds delta to the named counter.
func (r *Registry) Increment(name string, delta int64) {
	if !r.enabled {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.counters[name] += delta
}

// Observe records one duration, in seconds, for the named timer.
func (r *Registry) Observe(name string, seconds float64) {
	if !r.enabled {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.timers[name] = append(r.timers[name], seconds)
}

// Time starts a timer and returns the function that stops it. Use with defer
// so the elapsed time is recorded on every return path:
//
//	defer reg.Time("pipeline.ingest")()
func (r *Registry) Time(name string) func() {
	start := time.Now()
	return func() {
		r.Observe(name, time.Since(start).Seconds())
	}
}

// Snapshot returns a deep copy of the current state.
func (r *Registry) Snapshot() Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return Snapshot{
		Counters: copyCounters(r.counters),
		Timers:   copyTimers(r.timers),
	}
}

// Merge accumulates other's counters and timers into r. Merging does not
// consult r's enabled flag: it combines recorded data, not new updates.
func (r *Registry) Merge(other *Registry) {
	if other == nil || other == r {
		return
	}
	s := other.Snapshot()
	r.mu.Lock()
	defer r.mu.Unlock()
	for name, v := range s.Counters {
		r.counters[name] += v
	}
	for name, values := range s.Timers {
		r.timers[name] = append(r.timers[name], values...)
	}
}

// Reset clears all counters and timers.
func (r *Registry) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.counters = make(map[string]int64)
	r.timers = make(map[string][]float64)
}

// Snapshot is an immutable copy of a registry's state.
type Snapshot struct {
	Counters map[string]int64     `json:"counters"`
	Timers   map[string][]float64 `json:"timers"`
}

// Merge returns a new snapshot with counters summed and timer observations
// concatenated. Neither input is modified.
func (s Snapshot) Merge(other Snapshot) Snapshot {
	out := Snapshot{
		Counters: copyCounters(s.Counters),
		Timers:   copyTimers(s.Timers),
	}
	for name, v := range other.Counters {
		out.Counters[name] += v
	}
	for name, values := range other.Timers {
		out.Timers[name] = append(out.Timers[name], values...)
	}
	return out
}

// MergeSnapshots folds any number of snapshots into one.
func MergeSnapshots(snapshots ...Snapshot) Snapshot {
	out := Snapshot{Counters: map[string]int64{}, Timers: map[string][]float64{}}
	for _, s := range snapshots {
		out = out.Merge(s)
	}
	return out
}

// Summary flattens the snapshot: every timer yields <name>.count,
// <name>.avg_s and <name>.max_s; every counter yields <name>.count.
// Timers without observations are omitted.
func (s Snapshot) Summary() map[string]float64 {
	summary := make(map[string]float64, len(s.Counters)+3*len(s.Timers))
	for name, values := range s.Timers {
		if len(values) == 0 {
			continue
		}
		var sum, max float64
		for i, v := range values {
			sum += v
			if i == 0 || v > max {
				max = v
			}
		}
		summary[name+".count"] = float64(len(values))
		summary[name+".avg_s"] = sum / float64(len(values))
		summary[name+".max_s"] = max
	}
	for name, v := range s.Counters {
		summary[name+".count"] = float64(v)
	}
	return summary
}

// MarshalJSON encodes the snapshot with empty maps rather than nulls.
func (s Snapshot) MarshalJSON() ([]byte, error) {
	type Alias Snapshot
	a := Alias(s)
	if a.Counters == nil {
		a.Counters = map[string]int64{}
	}
	if a.Timers == nil {
		a.Timers = map[string][]float64{}
	}
	return json.Marshal(a)
}

func copyCounters(in map[string]int64) map[string]int64 {
	out := make(map[string]int64, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func copyTimers(in map[string][]float64) map[string][]float64 {
	out := make(map[string][]float64, len(in))
	for k, v := range in {
		out[k] = append([]float64(nil), v...)
	}
	return out
}
