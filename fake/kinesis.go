package fake

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/kinesis"
	"github.com/aws/aws-sdk-go-v2/service/kinesis/types"
)

// ShardID is the id of the single shard every fake stream has.
const ShardID = "shardId-000000000000"

const defaultGetRecordsLimit = 10000

type kinesisStream struct {
	name    string
	created time.Time
	records []types.Record
}

var (
	creationMu   sync.Mutex
	lastCreation time.Time
)

// creationTime returns a strictly increasing timestamp so that streams
// created back to back in different backends stay distinguishable.
func creationTime() time.Time {
	creationMu.Lock()
	defer creationMu.Unlock()
	now := time.Now().UTC()
	if !now.After(lastCreation) {
		now = lastCreation.Add(time.Nanosecond)
	}
	lastCreation = now
	return now
}

type kinesisState struct {
	mu      sync.Mutex
	streams map[string]*kinesisStream
}

// Kinesis is an in-memory Kinesis client with one shard per stream.
// Shard iterators encode "<stream>|<shard>|<position>".
type Kinesis struct {
	st *kinesisState
}

// NewKinesis returns a Kinesis fake without streams.
func NewKinesis() *Kinesis {
	return &Kinesis{st: &kinesisState{streams: make(map[string]*kinesisStream)}}
}

func (f *Kinesis) handle() *Kinesis {
	return &Kinesis{st: f.st}
}

func (f *Kinesis) stream(name string) (*kinesisStream, error) {
	s, ok := f.st.streams[name]
	if !ok {
		return nil, &types.ResourceNotFoundException{Message: aws.String(fmt.Sprintf("Stream %s not found", name))}
	}
	return s, nil
}

func sequenceNumber(i int) string {
	return fmt.Sprintf("%056d", i+1)
}

func iterator(stream string, pos int) string {
	return fmt.Sprintf("%s|%s|%d", stream, ShardID, pos)
}

func invalidArgument(format string, args ...any) error {
	return &types.InvalidArgumentException{Message: aws.String(fmt.Sprintf(format, args...))}
}

// CreateStream creates a single-shard ACTIVE stream. Re-creating fails with
// ResourceInUseException.
func (f *Kinesis) CreateStream(ctx context.Context, params *kinesis.CreateStreamInput, optFns ...func(*kinesis.Options)) (*kinesis.CreateStreamOutput, error) {
	name := aws.ToString(params.StreamName)
	if name == "" {
		return nil, invalidArgument("stream name is required")
	}
	f.st.mu.Lock()
	defer f.st.mu.Unlock()
	if _, ok := f.st.streams[name]; ok {
		return nil, &types.ResourceInUseException{Message: aws.String(fmt.Sprintf("Stream %s already exists", name))}
	}
	f.st.streams[name] = &kinesisStream{name: name, created: creationTime()}
	return &kinesis.CreateStreamOutput{}, nil
}

// DescribeStreamSummary reports the stream as ACTIVE.
func (f *Kinesis) DescribeStreamSummary(ctx context.Context, params *kinesis.DescribeStreamSummaryInput, optFns ...func(*kinesis.Options)) (*kinesis.DescribeStreamSummaryOutput, error) {
	f.st.mu.Lock()
	defer f.st.mu.Unlock()
	s, err := f.stream(aws.ToString(params.StreamName))
	if err != nil {
		return nil, err
	}
	return &kinesis.DescribeStreamSummaryOutput{
		StreamDescriptionSummary: &types.StreamDescriptionSummary{
			StreamName:              aws.String(s.name),
			StreamStatus:            types.StreamStatusActive,
			StreamCreationTimestamp: aws.Time(s.created),
			OpenShardCount:          aws.Int32(1),
		},
	}, nil
}

// PutRecord appends a record to the shard.
func (f *Kinesis) PutRecord(ctx context.Context, params *kinesis.PutRecordInput, optFns ...func(*kinesis.Options)) (*kinesis.PutRecordOutput, error) {
	if aws.ToString(params.PartitionKey) == "" {
		return nil, invalidArgument("partition key is required")
	}
	f.st.mu.Lock()
	defer f.st.mu.Unlock()
	s, err := f.stream(aws.ToString(params.StreamName))
	if err != nil {
		return nil, err
	}
	seq := sequenceNumber(len(s.records))
	s.records = append(s.records, types.Record{
		Data:                        append([]byte(nil), params.Data...),
		PartitionKey:                params.PartitionKey,
		SequenceNumber:              aws.String(seq),
		ApproximateArrivalTimestamp: aws.Time(time.Now().UTC()),
	})
	return &kinesis.PutRecordOutput{ShardId: aws.String(ShardID), SequenceNumber: aws.String(seq)}, nil
}

// GetShardIterator supports TRIM_HORIZON, LATEST, AT_SEQUENCE_NUMBER and
// AFTER_SEQUENCE_NUMBER.
func (f *Kinesis) GetShardIterator(ctx context.Context, params *kinesis.GetShardIteratorInput, optFns ...func(*kinesis.Options)) (*kinesis.GetShardIteratorOutput, error) {
	f.st.mu.Lock()
	defer f.st.mu.Unlock()
	s, err := f.stream(aws.ToString(params.StreamName))
	if err != nil {
		return nil, err
	}
	if shard := aws.ToString(params.ShardId); shard != ShardID {
		return nil, &types.ResourceNotFoundException{Message: aws.String(fmt.Sprintf("Shard %s in stream %s not found", shard, s.name))}
	}

	var pos int
	switch params.ShardIteratorType {
	case types.ShardIteratorTypeTrimHorizon:
		pos = 0
	case types.ShardIteratorTypeLatest:
		pos = len(s.records)
	case types.ShardIteratorTypeAtSequenceNumber, types.ShardIteratorTypeAfterSequenceNumber:
		seq := aws.ToString(params.StartingSequenceNumber)
		n, err := strconv.Atoi(strings.TrimLeft(seq, "0"))
		if err != nil || n < 1 || n > len(s.records) {
			return nil, invalidArgument("invalid starting sequence number %q", seq)
		}
		pos = n - 1
		if params.ShardIteratorType == types.ShardIteratorTypeAfterSequenceNumber {
			pos = n
		}
	default:
		return nil, invalidArgument("unsupported shard iterator type %q", params.ShardIteratorType)
	}
	return &kinesis.GetShardIteratorOutput{ShardIterator: aws.String(iterator(s.name, pos))}, nil
}

// GetRecords returns up to Limit records after the iterator position and an
// iterator positioned after them.
func (f *Kinesis) GetRecords(ctx context.Context, params *kinesis.GetRecordsInput, optFns ...func(*kinesis.Options)) (*kinesis.GetRecordsOutput, error) {
	raw := aws.ToString(params.ShardIterator)
	parts := strings.Split(raw, "|")
	if len(parts) != 3 || parts[1] != ShardID {
		return nil, invalidArgument("invalid shard iterator %q", raw)
	}
	pos, err := strconv.Atoi(parts[2])
	if err != nil || pos < 0 {
		return nil, invalidArgument("invalid shard iterator %q", raw)
	}

	f.st.mu.Lock()
	defer f.st.mu.Unlock()
	s, err := f.stream(parts[0])
	if err != nil {
		return nil, err
	}
	if pos > len(s.records) {
		return nil, invalidArgument("invalid shard iterator %q", raw)
	}

	limit := int(aws.ToInt32(params.Limit))
	if limit <= 0 || limit > defaultGetRecordsLimit {
		limit = defaultGetRecordsLimit
	}
	end := pos + limit
	if end > len(s.records) {
		end = len(s.records)
	}
	records := make([]types.Record, end-pos)
	copy(records, s.records[pos:end])

	return &kinesis.GetRecordsOutput{
		Records:            records,
		NextShardIterator:  aws.String(iterator(s.name, end)),
		MillisBehindLatest: aws.Int64(0),
	}, nil
}

// RecordCount returns the number of records put to a stream; used by tests.
func (f *Kinesis) RecordCount(stream string) int {
	f.st.mu.Lock()
	defer f.st.mu.Unlock()
	s, ok := f.st.streams[stream]
	if !ok {
		return 0
	}
	return len(s.records)
}
