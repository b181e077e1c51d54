package pipeline

import (
	"path"

	"github.com/gurre/rtap/checkpoint"
	"github.com/gurre/rtap/event"
	"github.com/gurre/rtap/metrics"
	"github.com/gurre/rtap/plugin"
	"github.com/gurre/rtap/policy"
	"github.com/gurre/rtap/tracing"
	"github.com/gurre/rtap/writer"
)

// Option overrides a dependency New would otherwise derive from the config.
type Option func(*Pipeline)

// WithPlugins replaces the plugin chain.
func WithPlugins(r *plugin.Registry) Option {
	return func(p *Pipeline) { p.plugins = r }
}

// WithMetrics replaces the metrics registry.
func WithMetrics(r *metrics.Registry) Option {
	return func(p *Pipeline) { p.metrics = r }
}

// WithRecorder replaces the trace recorder.
func WithRecorder(r *tracing.Recorder) Option {
	return func(p *Pipeline) { p.recorder = r }
}

// WithPolicy sets the policy engine. A nil engine disables policy checks.
func WithPolicy(e *policy.Engine) Option {
	return func(p *Pipeline) { p.policy = e }
}

// WithCheckpoint replaces the consumer checkpoint store.
func WithCheckpoint(s checkpoint.Store) Option {
	return func(p *Pipeline) { p.store = s }
}

// WithWriter replaces the table writer built at run time.
func WithWriter(w writer.Writer) Option {
	return func(p *Pipeline) { p.writer = w }
}

// Run defaults.
const (
	DefaultPartitionKey = "demo"
	DefaultReportKey    = "reports/summary.json"
	DefaultTraceKey     = "reports/trace.jsonl"
	DefaultManifestKey  = "reports/manifest.json"
	DefaultBatchLimit   = 50
)

// RunOptions names the resources of one run and its artifact keys.
type RunOptions struct {
	Stream       string
	Bucket       string
	Table        string
	EventCount   int
	PartitionKey string
	ReportKey    string
	TraceKey     string
	ManifestKey  string
	ArtifactDir  string // Prefix joined onto the report, trace and manifest keys
	Seed         *int64 // Generator seed; nil selects event.DefaultSeed
	BatchLimit   int32  // Records per GetRecords call
	Function     string
}

func (o RunOptions) withDefaults(function string) RunOptions {
	if o.PartitionKey == "" {
		o.PartitionKey = DefaultPartitionKey
	}
	if o.ReportKey == "" {
		o.ReportKey = DefaultReportKey
	}
	if o.TraceKey == "" {
		o.TraceKey = DefaultTraceKey
	}
	if o.ManifestKey == "" {
		o.ManifestKey = DefaultManifestKey
	}
	if o.ArtifactDir != "" {
		o.ReportKey = path.Join(o.ArtifactDir, o.ReportKey)
		o.TraceKey = path.Join(o.ArtifactDir, o.TraceKey)
		o.ManifestKey = path.Join(o.ArtifactDir, o.ManifestKey)
	}
	if o.Seed == nil {
		seed := int64(event.DefaultSeed)
		o.Seed = &seed
	}
	if o.BatchLimit <= 0 {
		o.BatchLimit = DefaultBatchLimit
	}
	if o.Function == "" {
		o.Function = function
	}
	return o
}
