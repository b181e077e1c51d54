// Package pipeline runs the sensor analytics pipeline: it provisions the
// stream, bucket and table, ingests generated events, drains the stream
// through the plugin chain and policy, stores accepted events and writes
// the report artifacts.
package pipeline

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	awssdk "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/kinesis"
	ktypes "github.com/aws/aws-sdk-go-v2/service/kinesis/types"
	"github.com/aws/aws-sdk-go-v2/service/lambda"
	lambdatypes "github.com/aws/aws-sdk-go-v2/service/lambda/types"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	json "github.com/goccy/go-json"
	"github.com/gurre/rtap/aws"
	"github.com/gurre/rtap/checkpoint"
	"github.com/gurre/rtap/config"
	"github.com/gurre/rtap/event"
	"github.com/gurre/rtap/health"
	"github.com/gurre/rtap/logging"
	"github.com/gurre/rtap/manifest"
	"github.com/gurre/rtap/metrics"
	"github.com/gurre/rtap/plugin"
	"github.com/gurre/rtap/poll"
	"github.com/gurre/rtap/policy"
	"github.com/gurre/rtap/report"
	"github.com/gurre/rtap/tracing"
	"github.com/gurre/rtap/writer"
	"go.uber.org/zap"
)

// ShardID is the only shard of the streams the pipeline creates.
const ShardID = "shardId-000000000000"

// Stage and counter names.
const (
	StageSetup   = "pipeline.setup"
	StageIngest  = "pipeline.ingest"
	StageConsume = "pipeline.consume"
	StageStore   = "pipeline.store"
	StageReport  = "pipeline.report"

	CounterSent          = "records.sent"
	CounterReceived      = "records.received"
	CounterPolicyAllowed = "policy.allowed"
	CounterPolicyDenied  = "policy.denied"
	CounterLambdaInvoked = "lambda.invoked"

	EventProcessed = "event.processed"
)

// Result summarises one run.
type Result struct {
	RunID           string
	EventsProcessed int
	ReportKey       string
	ManifestKey     string
	Report          report.Summary
	Metrics         map[string]float64
	Health          health.Status
}

// Pipeline owns the metrics registry and trace recorder of its runs. It is
// not safe for concurrent Runs.
type Pipeline struct {
	cfg      *config.Config
	factory  *aws.Factory
	logger   *zap.Logger
	plugins  *plugin.Registry
	metrics  *metrics.Registry
	recorder *tracing.Recorder
	policy   *policy.Engine
	store    checkpoint.Store
	writer   writer.Writer
}

// New derives the plugin chain, metrics, tracing, policy and checkpoint
// store from cfg, then applies opts.
func New(cfg *config.Config, factory *aws.Factory, logger *zap.Logger, opts ...Option) (*Pipeline, error) {
	if cfg == nil {
		return nil, errors.New("config is required")
	}
	if factory == nil {
		return nil, errors.New("client factory is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	p := &Pipeline{
		cfg:      cfg,
		factory:  factory,
		logger:   logging.Component(logger, "pipeline"),
		plugins:  plugin.NewRegistry(),
		metrics:  metrics.NewRegistry(cfg.MetricsEnabled),
		recorder: tracing.NewRecorder(cfg.TracePath),
	}
	if err := p.plugins.RegisterBuiltin(cfg.Plugins...); err != nil {
		return nil, fmt.Errorf("failed to register plugins: %w", err)
	}
	if cfg.PolicyEnabled {
		if cfg.PolicyAllowlist != nil {
			p.policy = policy.FromAllowlist(cfg.PolicyAllowlist)
		} else {
			p.policy = policy.New()
		}
	}

	for _, opt := range opts {
		opt(p)
	}

	if p.store == nil {
		store, err := checkpoint.New(cfg.CheckpointURI, factory.S3())
		if err != nil {
			return nil, fmt.Errorf("failed to create checkpoint store: %w", err)
		}
		p.store = store
	}
	return p, nil
}

// Metrics returns the registry the pipeline records into.
func (p *Pipeline) Metrics() *metrics.Registry {
	return p.metrics
}

// Recorder returns the trace recorder.
func (p *Pipeline) Recorder() *tracing.Recorder {
	return p.recorder
}

// Run executes SETUP, INGEST, CONSUME, STORE and REPORT in order. The first
// failing stage aborts the run.
func (p *Pipeline) Run(ctx context.Context, opts RunOptions) (*Result, error) {
	o := opts.withDefaults(p.cfg.LambdaFunction)
	p.logger.Info("Starting pipeline run", zap.String("stream", o.Stream))

	err := p.stage(ctx, StageSetup, map[string]any{"stream": o.Stream, "bucket": o.Bucket, "table": o.Table}, func(*tracing.Span) error {
		return p.setup(ctx, o)
	})
	if err != nil {
		return nil, err
	}

	events := event.NewGenerator(*o.Seed).Generate(o.EventCount)
	err = p.stage(ctx, StageIngest, map[string]any{"events": len(events)}, func(*tracing.Span) error {
		return p.ingest(ctx, o, events)
	})
	if err != nil {
		return nil, err
	}

	var accepted []event.Event
	err = p.stage(ctx, StageConsume, map[string]any{"stream": o.Stream}, func(span *tracing.Span) error {
		var err error
		accepted, err = p.consume(ctx, o)
		span.AddField("accepted", len(accepted))
		return err
	})
	if err != nil {
		return nil, err
	}

	err = p.stage(ctx, StageStore, map[string]any{"table": o.Table, "function": o.Function}, func(*tracing.Span) error {
		return p.storeEvents(ctx, o, accepted)
	})
	if err != nil {
		return nil, err
	}

	var m *manifest.Manifest
	err = p.stage(ctx, StageReport, map[string]any{"bucket": o.Bucket, "key": o.ReportKey}, func(*tracing.Span) error {
		var err error
		m, err = p.writeReport(ctx, o, accepted)
		return err
	})
	if err != nil {
		return nil, err
	}

	result := &Result{
		RunID:           m.RunID,
		EventsProcessed: len(accepted),
		ReportKey:       o.ReportKey,
		ManifestKey:     o.ManifestKey,
		Report:          report.FromEvents(accepted).Summary(),
		Metrics:         p.metrics.Snapshot().Summary(),
		Health: health.Build(map[string]bool{
			aws.ServiceKinesis:  true,
			aws.ServiceS3:       true,
			aws.ServiceDynamoDB: true,
			aws.ServiceLambda:   true,
		}),
	}
	p.logger.Info("Pipeline run complete",
		zap.Int("processed", result.EventsProcessed),
		zap.String("run_id", result.RunID))
	return result, nil
}

// stage times fn and wraps it in a trace span. A cancelled context stops
// the run before the stage starts.
func (p *Pipeline) stage(ctx context.Context, name string, fields map[string]any, fn func(*tracing.Span) error) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}
	stop := p.metrics.Time(name)
	defer stop()
	if err := p.recorder.WithSpan(name, fields, fn); err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}
	return nil
}

// setup ensures the stream, bucket and table exist and are usable.
// Resources that already exist are not an error.
func (p *Pipeline) setup(ctx context.Context, o RunOptions) error {
	opts := poll.Options{Interval: p.cfg.PollInterval, Timeout: p.cfg.PollTimeout}
	if err := EnsureStream(ctx, p.factory.Kinesis(), o.Stream, opts); err != nil {
		return err
	}
	if err := EnsureBucket(ctx, p.factory.S3(), o.Bucket, p.cfg.Region); err != nil {
		return err
	}
	return EnsureTable(ctx, p.factory.DynamoDB(), o.Table, opts)
}

// ingest puts every event to the stream under one partition key.
func (p *Pipeline) ingest(ctx context.Context, o RunOptions, events []event.Event) error {
	kc := p.factory.Kinesis()
	for _, e := range events {
		data, err := event.Marshal(e)
		if err != nil {
			return fmt.Errorf("failed to encode event: %w", err)
		}
		if _, err := kc.PutRecord(ctx, &kinesis.PutRecordInput{
			StreamName:   &o.Stream,
			PartitionKey: &o.PartitionKey,
			Data:         data,
		}); err != nil {
			return fmt.Errorf("failed to put record: %w", err)
		}
		p.metrics.Increment(CounterSent, 1)
	}
	return nil
}

// consume drains the shard from the checkpoint (or the trim horizon) until
// a read returns no records. Each record is decoded, run through the plugin
// chain and, when enabled, the policy. The checkpoint advances after every
// non-empty batch.
func (p *Pipeline) consume(ctx context.Context, o RunOptions) ([]event.Event, error) {
	kc := p.factory.Kinesis()

	state, err := p.store.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load checkpoint: %w", err)
	}
	summary, err := kc.DescribeStreamSummary(ctx, &kinesis.DescribeStreamSummaryInput{StreamName: &o.Stream})
	if err != nil {
		return nil, fmt.Errorf("failed to describe stream %s: %w", o.Stream, err)
	}
	created := awssdk.ToTime(summary.StreamDescriptionSummary.StreamCreationTimestamp)
	iterator, err := p.shardIterator(ctx, kc, o.Stream, state, created)
	if err != nil {
		return nil, err
	}

	var accepted []event.Event
	for iterator != nil {
		out, err := kc.GetRecords(ctx, &kinesis.GetRecordsInput{
			ShardIterator: iterator,
			Limit:         &o.BatchLimit,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to get records: %w", err)
		}
		if len(out.Records) == 0 {
			break
		}

		for _, rec := range out.Records {
			p.metrics.Increment(CounterReceived, 1)
			e, err := event.Unmarshal(rec.Data)
			if err != nil {
				return nil, fmt.Errorf("record %s: %w", awssdk.ToString(rec.SequenceNumber), err)
			}
			e = p.plugins.ProcessAll(e)
			if p.policy != nil {
				decision := p.policy.Evaluate(e)
				if !decision.Allowed {
					p.metrics.Increment(CounterPolicyDenied, 1)
					p.logger.Debug("Event denied by policy",
						zap.Int("sensor_id", e.SensorID),
						zap.String("risk", string(decision.Risk)),
						zap.String("reason", decision.Reason))
					continue
				}
				p.metrics.Increment(CounterPolicyAllowed, 1)
			}
			accepted = append(accepted, e)
		}

		last := out.Records[len(out.Records)-1]
		if err := p.store.Save(ctx, checkpoint.State{
			Stream:         o.Stream,
			ShardID:        ShardID,
			SequenceNumber: awssdk.ToString(last.SequenceNumber),
			StreamCreated:  created,
			UpdatedAt:      time.Now().UTC(),
		}); err != nil {
			return nil, fmt.Errorf("failed to save checkpoint: %w", err)
		}
		iterator = out.NextShardIterator
	}
	return accepted, nil
}

// shardIterator resumes after the checkpointed sequence number when it
// belongs to this incarnation of the stream. A checkpoint from another
// stream, or from one since re-created under the same name, is ignored. A
// sequence number the stream rejects falls back to the trim horizon.
func (p *Pipeline) shardIterator(ctx context.Context, kc aws.KinesisClient, stream string, state checkpoint.State, created time.Time) (*string, error) {
	if !state.Empty() && !state.Matches(stream, ShardID, created) {
		p.logger.Info("Ignoring checkpoint from another stream",
			zap.String("checkpoint_stream", state.Stream),
			zap.Time("checkpoint_stream_created", state.StreamCreated),
			zap.Time("stream_created", created))
	}
	if state.Matches(stream, ShardID, created) {
		out, err := kc.GetShardIterator(ctx, &kinesis.GetShardIteratorInput{
			StreamName:             &stream,
			ShardId:                awssdk.String(ShardID),
			ShardIteratorType:      ktypes.ShardIteratorTypeAfterSequenceNumber,
			StartingSequenceNumber: &state.SequenceNumber,
		})
		if err == nil {
			return out.ShardIterator, nil
		}
		var invalid *ktypes.InvalidArgumentException
		if !errors.As(err, &invalid) {
			return nil, fmt.Errorf("failed to get shard iterator: %w", err)
		}
		p.logger.Warn("Checkpoint rejected, reading from trim horizon",
			zap.String("sequence_number", state.SequenceNumber), zap.Error(err))
	}

	out, err := kc.GetShardIterator(ctx, &kinesis.GetShardIteratorInput{
		StreamName:        &stream,
		ShardId:           awssdk.String(ShardID),
		ShardIteratorType: ktypes.ShardIteratorTypeTrimHorizon,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get shard iterator: %w", err)
	}
	return out.ShardIterator, nil
}

// storeEvents persists accepted events and fires one asynchronous Lambda
// invocation per event.
func (p *Pipeline) storeEvents(ctx context.Context, o RunOptions, events []event.Event) error {
	w := p.writer
	if w == nil {
		w = writer.NewTableWriter(p.factory.DynamoDB(), o.Table, writer.MaxBatchSize)
	}
	if err := w.WriteEvents(ctx, events); err != nil {
		return fmt.Errorf("failed to store events: %w", err)
	}

	lc := p.factory.Lambda()
	for _, e := range events {
		payload, err := json.Marshal(e)
		if err != nil {
			return fmt.Errorf("failed to encode lambda payload: %w", err)
		}
		if _, err := lc.Invoke(ctx, &lambda.InvokeInput{
			FunctionName:   &o.Function,
			InvocationType: lambdatypes.InvocationTypeEvent,
			Payload:        payload,
		}); err != nil {
			return fmt.Errorf("failed to invoke %s: %w", o.Function, err)
		}
		p.metrics.Increment(CounterLambdaInvoked, 1)
	}
	return nil
}

// writeReport uploads the accepted events as ND-JSON to the report and
// trace keys, saves the run manifest and appends event.processed traces.
func (p *Pipeline) writeReport(ctx context.Context, o RunOptions, events []event.Event) (*manifest.Manifest, error) {
	var body bytes.Buffer
	for _, e := range events {
		line, err := event.Marshal(e)
		if err != nil {
			return nil, fmt.Errorf("failed to encode event: %w", err)
		}
		body.Write(line)
		body.WriteByte('\n')
	}
	data := body.Bytes()

	m := manifest.New(o.Stream)
	for _, key := range []string{o.ReportKey, o.TraceKey} {
		if err := p.putObject(ctx, o.Bucket, key, data); err != nil {
			return nil, err
		}
		m.Add(manifest.NewArtifact(key, data, len(events)))
	}
	if err := manifest.Save(ctx, p.factory.S3(), o.Bucket, o.ManifestKey, m); err != nil {
		return nil, err
	}

	if p.recorder.Enabled() {
		for _, e := range events {
			if err := p.recorder.RecordEvent(EventProcessed, map[string]any{"payload": e.AsMap()}); err != nil {
				return nil, fmt.Errorf("failed to record trace: %w", err)
			}
		}
	}
	return m, nil
}

func (p *Pipeline) putObject(ctx context.Context, bucket, key string, data []byte) error {
	sum := md5.Sum(data)
	_, err := p.factory.S3().PutObject(ctx, &s3.PutObjectInput{
		Bucket:      &bucket,
		Key:         &key,
		Body:        bytes.NewReader(data),
		ContentMD5:  awssdk.String(base64.StdEncoding.EncodeToString(sum[:])),
		ContentType: awssdk.String("application/x-ndjson"),
	})
	if err != nil {
		return fmt.Errorf("failed to put s3://%s/%s: %w", bucket, key, err)
	}
	return nil
}
