// Package writer persists processed events to DynamoDB in batches.
package writer

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/gurre/rtap/aws"
	"github.com/gurre/rtap/event"
)

// MaxBatchSize is the BatchWriteItem request limit.
const MaxBatchSize = 25

const (
	maxRetries       = 5
	defaultBaseDelay = 100 * time.Millisecond
	maxDelay         = 30 * time.Second
)

// Writer persists events.
type Writer interface {
	WriteEvents(ctx context.Context, events []event.Event) error
}

// TableWriter writes events to one table with BatchWriteItem, retrying
// throttled and unprocessed requests with jittered exponential backoff.
type TableWriter struct {
	client    aws.DynamoDBClient
	tableName string
	batchSize int
	baseDelay time.Duration
	written   int
}

// NewTableWriter creates a TableWriter. A batchSize outside 1..25 is
// clamped to MaxBatchSize.
func NewTableWriter(client aws.DynamoDBClient, tableName string, batchSize int) *TableWriter {
	if batchSize < 1 || batchSize > MaxBatchSize {
		batchSize = MaxBatchSize
	}
	return &TableWriter{
		client:    client,
		tableName: tableName,
		batchSize: batchSize,
		baseDelay: defaultBaseDelay,
	}
}

// Written returns the number of events successfully persisted.
func (w *TableWriter) Written() int {
	return w.written
}

// isThrottlingError reports whether err is a DynamoDB capacity error.
// These are recoverable by waiting for capacity to refill.
func isThrottlingError(err error) bool {
	var throughputErr *types.ProvisionedThroughputExceededException
	var requestLimitErr *types.RequestLimitExceeded
	return errors.As(err, &throughputErr) || errors.As(err, &requestLimitErr)
}

// backoffWait sleeps for an exponentially increasing duration with jitter.
// Returns false if the context is cancelled during the wait.
func (w *TableWriter) backoffWait(ctx context.Context, attempt int) bool {
	delay := w.baseDelay * time.Duration(1<<uint(min(attempt, 16)))
	if delay > maxDelay {
		delay = maxDelay
	}
	if delay > 0 {
		delay += time.Duration(rand.Int64N(int64(delay)))
	}

	select {
	case <-time.After(delay):
		return true
	case <-ctx.Done():
		return false
	}
}

type itemKey struct {
	sensorID  int
	timestamp int64
}

// WriteEvents splits events into batches and writes each one. A batch never
// holds two events with the same table key: a repeated key closes the batch
// so the later event is written afterwards and overwrites the earlier one.
// Throttling retries until the context is cancelled; other errors fail after
// five retries. Unprocessed items are re-submitted.
func (w *TableWriter) WriteEvents(ctx context.Context, events []event.Event) error {
	requests := make([]types.WriteRequest, 0, w.batchSize)
	keys := make(map[itemKey]struct{}, w.batchSize)

	flush := func() error {
		if len(requests) == 0 {
			return nil
		}
		if err := w.writeBatch(ctx, requests); err != nil {
			return err
		}
		w.written += len(requests)
		requests = make([]types.WriteRequest, 0, w.batchSize)
		clear(keys)
		return nil
	}

	for _, e := range events {
		k := itemKey{sensorID: e.SensorID, timestamp: e.Timestamp}
		if _, dup := keys[k]; dup || len(requests) == w.batchSize {
			if err := flush(); err != nil {
				return err
			}
		}
		item, err := event.Item(e)
		if err != nil {
			return fmt.Errorf("failed to encode event for sensor %d: %w", e.SensorID, err)
		}
		requests = append(requests, types.WriteRequest{
			PutRequest: &types.PutRequest{Item: item},
		})
		keys[k] = struct{}{}
	}
	return flush()
}

func (w *TableWriter) writeBatch(ctx context.Context, requests []types.WriteRequest) error {
	input := &dynamodb.BatchWriteItemInput{
		RequestItems: map[string][]types.WriteRequest{
			w.tableName: requests,
		},
	}

	attempt := 0
	for {
		output, err := w.client.BatchWriteItem(ctx, input)
		if err != nil {
			if isThrottlingError(err) {
				if !w.backoffWait(ctx, attempt) {
					return ctx.Err()
				}
				attempt++
				continue
			}
			if attempt < maxRetries {
				if !w.backoffWait(ctx, attempt) {
					return ctx.Err()
				}
				attempt++
				continue
			}
			return fmt.Errorf("failed to write batch after %d retries: %w", maxRetries, err)
		}

		if len(output.UnprocessedItems) > 0 {
			input.RequestItems = output.UnprocessedItems
			if !w.backoffWait(ctx, attempt) {
				return ctx.Err()
			}
			attempt++
			continue
		}
		return nil
	}
}
