package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"

	"github.com/gurre/rtap/checkpoint"
	"github.com/gurre/rtap/event"
	"github.com/gurre/rtap/fake"
	"github.com/gurre/rtap/health"
	"github.com/gurre/rtap/manifest"
	"github.com/gurre/rtap/metrics"
	"github.com/gurre/rtap/pipeline"
	"github.com/gurre/rtap/plugin"
	"github.com/gurre/rtap/report"
	"github.com/gurre/rtap/tracing"
	"go.uber.org/zap"
)

const (
	demoStream = "demo-stream"
	demoBucket = "demo-bucket"
	demoTable  = "demo-table"
	eventsKey  = "reports/events.jsonl"
)

// demo runs the pipeline against a fresh in-memory backend and writes the
// markdown report (and trace export) to a temporary directory.
func (e *env) demo(ctx context.Context, args []string) (int, error) {
	fs := flag.NewFlagSet("demo", flag.ContinueOnError)
	fs.SetOutput(e.stdout)
	events := fs.Int("events", 8, "Number of events to generate")
	trace := fs.Bool("trace", false, "Record a trace and export it as markdown")
	outDir := fs.String("out", "", "Directory for report files (default: a new temp dir)")
	if err := fs.Parse(args); err != nil {
		return 1, err
	}
	if *events < 0 {
		return 1, fmt.Errorf("events must not be negative")
	}

	dir := *outDir
	if dir == "" {
		var err error
		if dir, err = os.MkdirTemp("", "rtap-demo-"); err != nil {
			return 1, fmt.Errorf("failed to create demo directory: %w", err)
		}
	}
	tracePath := ""
	if *trace {
		tracePath = filepath.Join(dir, "trace.jsonl")
	}
	cfg := e.cfg.WithDemo(tracePath)
	cfg.UseFakeAWS = true

	plugins := plugin.NewRegistry()
	if err := plugins.RegisterBuiltin(plugin.NormalizeTemperatureName, plugin.ClampHumidityName); err != nil {
		return 1, err
	}

	factory, _ := fake.NewFactory(cfg.CacheClients)
	// Every demo gets a fresh backend, so no earlier checkpoint applies.
	p, err := pipeline.New(cfg, factory, e.logger,
		pipeline.WithPlugins(plugins),
		pipeline.WithCheckpoint(checkpoint.NewMemoryStore()))
	if err != nil {
		return 1, err
	}
	result, err := p.Run(ctx, pipeline.RunOptions{
		Stream:     demoStream,
		Bucket:     demoBucket,
		Table:      demoTable,
		EventCount: *events,
		ReportKey:  eventsKey,
	})
	if err != nil {
		return 1, err
	}

	rep, err := report.FromS3(ctx, factory.Streamer(), demoBucket, result.ReportKey)
	if err != nil {
		return 1, err
	}
	reportPath := filepath.Join(dir, "report.md")
	if err := rep.WriteMarkdown(reportPath); err != nil {
		return 1, err
	}
	e.logger.Info("Demo report written", zap.String("path", reportPath))

	if p.Recorder().Enabled() {
		records, err := p.Recorder().ReadEvents()
		if err != nil {
			return 1, err
		}
		exportPath := filepath.Join(dir, "trace.md")
		if err := os.WriteFile(exportPath, []byte(tracing.Exporter{Records: records}.Markdown()), 0o644); err != nil {
			return 1, fmt.Errorf("failed to write trace export: %w", err)
		}
		e.logger.Info("Trace export written", zap.String("path", exportPath))
	}

	fmt.Fprintln(e.stdout, "Demo Summary")
	fmt.Fprintln(e.stdout, "============")
	fmt.Fprintf(e.stdout, "Events processed: %d\n", result.EventsProcessed)
	fmt.Fprintf(e.stdout, "Report summary: %s\n", result.Report)
	fmt.Fprintf(e.stdout, "Health: %s\n", result.Health.Status)
	fmt.Fprintf(e.stdout, "Report: %s\n", reportPath)

	if result.EventsProcessed != *events {
		fmt.Fprintln(e.stdout, "FAIL")
		return 1, nil
	}
	fmt.Fprintln(e.stdout, "PASS")
	return 0, nil
}

// simulate runs the pipeline against the configured backend and prints the
// metrics snapshot.
func (e *env) simulate(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("simulate", flag.ContinueOnError)
	fs.SetOutput(e.stdout)
	stream := fs.String("stream", demoStream, "Kinesis stream name")
	bucket := fs.String("bucket", demoBucket, "S3 bucket for artifacts")
	table := fs.String("table", demoTable, "DynamoDB table name")
	events := fs.Int("events", 5, "Number of events to generate")
	seed := fs.Int64("seed", event.DefaultSeed, "Generator seed")
	prefix := fs.String("prefix", "", "Artifact key prefix")
	promFile := fs.String("prom-file", e.cfg.PrometheusFile, "Write metrics in Prometheus textfile format")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *events < 0 {
		return fmt.Errorf("events must not be negative")
	}

	factory, err := newFactory(ctx, e.cfg)
	if err != nil {
		return fmt.Errorf("failed to create AWS clients: %w", err)
	}
	p, err := pipeline.New(e.cfg, factory, e.logger)
	if err != nil {
		return err
	}
	result, err := p.Run(ctx, pipeline.RunOptions{
		Stream:      *stream,
		Bucket:      *bucket,
		Table:       *table,
		EventCount:  *events,
		Seed:        seed,
		ReportKey:   eventsKey,
		ArtifactDir: *prefix,
	})
	if err != nil {
		return err
	}

	fmt.Fprintln(e.stdout, metrics.Format(p.Metrics().Snapshot(), metrics.DefaultPrefix, metrics.DefaultPrecision))
	fmt.Fprintf(e.stdout, "Report: %s\n", result.Report)

	if *promFile != "" {
		if err := metrics.WriteTextfile(*promFile, metrics.DefaultPrefix, p.Metrics()); err != nil {
			return err
		}
		e.logger.Info("Prometheus textfile written", zap.String("path", *promFile))
	}
	return nil
}

// report builds a report from an ND-JSON object, optionally verifying the
// run manifest first.
func (e *env) report(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("report", flag.ContinueOnError)
	fs.SetOutput(e.stdout)
	bucket := fs.String("bucket", "", "S3 bucket holding the events (required)")
	key := fs.String("key", "", "ND-JSON object key (required)")
	out := fs.String("out", "report.md", "Markdown output path")
	jsonOut := fs.String("json", "", "Also write the report as JSON to this path")
	verify := fs.String("verify", "", "Manifest key or s3:// URI to verify before reporting")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *bucket == "" || *key == "" {
		fs.Usage()
		return errors.New("-bucket and -key are required")
	}

	factory, err := newFactory(ctx, e.cfg)
	if err != nil {
		return fmt.Errorf("failed to create AWS clients: %w", err)
	}

	if *verify != "" {
		mBucket, mKey := *bucket, *verify
		if bkt, k, err := manifest.ParseURI(*verify); err == nil {
			mBucket, mKey = bkt, k
		}
		m, err := manifest.Load(ctx, factory.S3(), mBucket, mKey)
		if err != nil {
			return err
		}
		if err := manifest.VerifyChecksums(ctx, factory.S3(), *bucket, m); err != nil {
			return err
		}
		e.logger.Info("Manifest verified",
			zap.String("runId", m.RunID),
			zap.Int("artifacts", len(m.Artifacts)))
	}

	rep, err := report.FromS3(ctx, factory.Streamer(), *bucket, *key)
	if err != nil {
		return err
	}
	if err := rep.WriteMarkdown(*out); err != nil {
		return err
	}
	if *jsonOut != "" {
		if err := rep.WriteJSON(*jsonOut); err != nil {
			return err
		}
	}
	fmt.Fprintf(e.stdout, "Report written to %s\n", *out)
	return nil
}

// health prints the status of the pipeline's dependencies. Against real
// AWS with a principal configured, each component is probed through IAM.
func (e *env) health(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("health", flag.ContinueOnError)
	fs.SetOutput(e.stdout)
	var components stringList
	fs.Var(&components, "component", "Component to check (repeatable; default: all)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if len(components) == 0 {
		components = append(components, health.DefaultComponents...)
	}

	checks := make(map[string]bool, len(components))
	if !e.cfg.UseFakeAWS && e.cfg.PrincipalARN != "" {
		factory, err := newFactory(ctx, e.cfg)
		if err != nil {
			return fmt.Errorf("failed to create AWS clients: %w", err)
		}
		prober := health.NewPermissionProber(factory.IAM(), e.cfg.PrincipalARN)
		if checks, err = prober.Probe(ctx, components); err != nil {
			return err
		}
	} else {
		for _, c := range components {
			checks[c] = true
		}
	}

	fmt.Fprintln(e.stdout, health.Build(checks).String())
	return nil
}
