// Package main provides a data generator for rtap. It provisions a stream or
// table, fills it with seeded sensor readings and can delete a share of the
// stored readings afterwards.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	ddbtypes "github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/aws/aws-sdk-go-v2/service/kinesis"
	"github.com/gurre/rtap/aws"
	"github.com/gurre/rtap/config"
	"github.com/gurre/rtap/event"
	"github.com/gurre/rtap/fake"
	"github.com/gurre/rtap/logging"
	"github.com/gurre/rtap/pipeline"
	"github.com/gurre/rtap/poll"
	"github.com/gurre/rtap/writer"
	"go.uber.org/zap"
)

// Options holds the command-line configuration for the data generator.
type Options struct {
	Target       string // "stream" or "table"
	Name         string
	Events       int
	Seed         int64
	Interval     time.Duration // Timestamp step between consecutive events
	PartitionKey string
	DeleteCount  int // Table target only: readings removed after writing
}

// generate returns opts.Events readings whose timestamps end at now and are
// opts.Interval apart, so every reading has its own table key.
func generate(opts Options, now time.Time) []event.Event {
	g := event.NewGenerator(opts.Seed)
	next := now.Add(-time.Duration(opts.Events-1) * opts.Interval)
	g.Now = func() time.Time {
		t := next
		next = next.Add(opts.Interval)
		return t
	}
	return g.Generate(opts.Events)
}

func putStream(ctx context.Context, kc aws.KinesisClient, opts Options, events []event.Event, logger *zap.Logger) (int, error) {
	sent := 0
	for i, e := range events {
		data, err := event.Marshal(e)
		if err != nil {
			return sent, err
		}
		if _, err := kc.PutRecord(ctx, &kinesis.PutRecordInput{
			StreamName:   &opts.Name,
			PartitionKey: &opts.PartitionKey,
			Data:         data,
		}); err != nil {
			return sent, fmt.Errorf("failed to put record %d: %w", i, err)
		}
		sent++
		if sent%100 == 0 {
			logger.Info("Progress", zap.Int("sent", sent))
		}
	}
	return sent, nil
}

// deleteReadings removes the first count readings and returns how many
// deletes succeeded. Individual failures are logged and skipped.
func deleteReadings(ctx context.Context, dc aws.DynamoDBClient, table string, events []event.Event, count int, logger *zap.Logger) int {
	if count > len(events) {
		count = len(events)
	}
	deleted := 0
	for i := 0; i < count; i++ {
		e := events[i]
		_, err := dc.DeleteItem(ctx, &dynamodb.DeleteItemInput{
			TableName: &table,
			Key: map[string]ddbtypes.AttributeValue{
				"sensor_id": &ddbtypes.AttributeValueMemberS{Value: strconv.Itoa(e.SensorID)},
				"timestamp": &ddbtypes.AttributeValueMemberN{Value: strconv.FormatInt(e.Timestamp, 10)},
			},
		})
		if err != nil {
			logger.Warn("Failed to delete reading", zap.Int("index", i), zap.Error(err))
			continue
		}
		deleted++
	}
	return deleted
}

func run(ctx context.Context, args []string, stdout io.Writer, factory *aws.Factory, cfg *config.Config, logger *zap.Logger) error {
	fs := flag.NewFlagSet("rtap-datagen", flag.ContinueOnError)
	fs.SetOutput(stdout)
	var opts Options
	fs.StringVar(&opts.Target, "target", "stream", "Destination: stream | table")
	fs.StringVar(&opts.Name, "name", "", "Stream or table name (required)")
	fs.IntVar(&opts.Events, "events", 100, "Number of readings to generate")
	fs.Int64Var(&opts.Seed, "seed", event.DefaultSeed, "Random seed")
	fs.DurationVar(&opts.Interval, "interval", time.Second, "Timestamp step between readings")
	fs.StringVar(&opts.PartitionKey, "partition-key", pipeline.DefaultPartitionKey, "Kinesis partition key")
	fs.IntVar(&opts.DeleteCount, "delete-count", 0, "Readings to delete after writing (table target)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	if opts.Name == "" {
		return fmt.Errorf("-name is required")
	}
	if opts.Events < 0 || opts.DeleteCount < 0 {
		return fmt.Errorf("-events and -delete-count must not be negative")
	}
	if opts.Interval < time.Second {
		return fmt.Errorf("-interval must be at least 1s")
	}

	events := generate(opts, time.Now())
	pollOpts := poll.Options{Interval: cfg.PollInterval, Timeout: cfg.PollTimeout}
	fmt.Fprintf(stdout, "Using seed: %d\n", opts.Seed)

	switch opts.Target {
	case "stream":
		if err := pipeline.EnsureStream(ctx, factory.Kinesis(), opts.Name, pollOpts); err != nil {
			return err
		}
		sent, err := putStream(ctx, factory.Kinesis(), opts, events, logger)
		if err != nil {
			return err
		}
		fmt.Fprintf(stdout, "Records sent: %d\n", sent)

	case "table":
		if err := pipeline.EnsureTable(ctx, factory.DynamoDB(), opts.Name, pollOpts); err != nil {
			return err
		}
		w := writer.NewTableWriter(factory.DynamoDB(), opts.Name, writer.MaxBatchSize)
		if err := w.WriteEvents(ctx, events); err != nil {
			return err
		}
		fmt.Fprintf(stdout, "Items written: %d\n", w.Written())
		if opts.DeleteCount > 0 {
			deleted := deleteReadings(ctx, factory.DynamoDB(), opts.Name, events, opts.DeleteCount, logger)
			fmt.Fprintf(stdout, "Items deleted: %d\n", deleted)
		}

	default:
		return fmt.Errorf("unknown target %q: must be stream or table", opts.Target)
	}
	return nil
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.FromEnv()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	logger, err := logging.New(cfg.LogFormat)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	var factory *aws.Factory
	if cfg.UseFakeAWS {
		factory, _ = fake.NewFactory(cfg.CacheClients)
	} else if factory, err = aws.NewSDKFactory(ctx, cfg.Region, cfg.CacheClients); err != nil {
		logger.Fatal("Unable to load SDK config", zap.Error(err))
	}

	if err := run(ctx, os.Args[1:], os.Stdout, factory, cfg, logging.Component(logger, "datagen")); err != nil {
		logger.Error("Data generation failed", zap.Error(err))
		stop()
		os.Exit(1)
	}
}
