package fake

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	ddbtypes "github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/aws/aws-sdk-go-v2/service/iam"
	iamtypes "github.com/aws/aws-sdk-go-v2/service/iam/types"
	"github.com/aws/aws-sdk-go-v2/service/kinesis"
	kintypes "github.com/aws/aws-sdk-go-v2/service/kinesis/types"
	"github.com/aws/aws-sdk-go-v2/service/lambda"
	lambdatypes "github.com/aws/aws-sdk-go-v2/service/lambda/types"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestS3(t *testing.T) {
	ctx := context.Background()
	f := NewS3()

	_, err := f.PutObject(ctx, &s3.PutObjectInput{Bucket: aws.String("b"), Key: aws.String("k"), Body: strings.NewReader("x")})
	var noBucket *s3types.NoSuchBucket
	require.ErrorAs(t, err, &noBucket)

	_, err = f.CreateBucket(ctx, &s3.CreateBucketInput{Bucket: aws.String("b")})
	require.NoError(t, err)
	_, err = f.CreateBucket(ctx, &s3.CreateBucketInput{Bucket: aws.String("b")})
	var owned *s3types.BucketAlreadyOwnedByYou
	require.ErrorAs(t, err, &owned)

	put, err := f.PutObject(ctx, &s3.PutObjectInput{Bucket: aws.String("b"), Key: aws.String("reports/a.jsonl"), Body: strings.NewReader("hello")})
	require.NoError(t, err)
	assert.Equal(t, `"5d41402abc4b2a76b9719d911017c592"`, aws.ToString(put.ETag))

	get, err := f.GetObject(ctx, &s3.GetObjectInput{Bucket: aws.String("b"), Key: aws.String("reports/a.jsonl")})
	require.NoError(t, err)
	body, _ := io.ReadAll(get.Body)
	assert.Equal(t, "hello", string(body))
	assert.Equal(t, int64(5), aws.ToInt64(get.ContentLength))

	head, err := f.HeadObject(ctx, &s3.HeadObjectInput{Bucket: aws.String("b"), Key: aws.String("reports/a.jsonl")})
	require.NoError(t, err)
	assert.Equal(t, aws.ToString(put.ETag), aws.ToString(head.ETag))

	_, err = f.PutObject(ctx, &s3.PutObjectInput{Bucket: aws.String("b"), Key: aws.String("other"), Body: strings.NewReader("")})
	require.NoError(t, err)
	list, err := f.ListObjectsV2(ctx, &s3.ListObjectsV2Input{Bucket: aws.String("b"), Prefix: aws.String("reports/")})
	require.NoError(t, err)
	require.Len(t, list.Contents, 1)
	assert.Equal(t, "reports/a.jsonl", aws.ToString(list.Contents[0].Key))

	_, err = f.DeleteObject(ctx, &s3.DeleteObjectInput{Bucket: aws.String("b"), Key: aws.String("reports/a.jsonl")})
	require.NoError(t, err)
	_, err = f.GetObject(ctx, &s3.GetObjectInput{Bucket: aws.String("b"), Key: aws.String("reports/a.jsonl")})
	var noKey *s3types.NoSuchKey
	require.ErrorAs(t, err, &noKey)
}

func TestS3ListPagination(t *testing.T) {
	ctx := context.Background()
	f := NewS3()
	_, _ = f.CreateBucket(ctx, &s3.CreateBucketInput{Bucket: aws.String("b")})
	for _, k := range []string{"c", "a", "b"} {
		_, err := f.PutObject(ctx, &s3.PutObjectInput{Bucket: aws.String("b"), Key: aws.String(k), Body: strings.NewReader(k)})
		require.NoError(t, err)
	}

	page, err := f.ListObjectsV2(ctx, &s3.ListObjectsV2Input{Bucket: aws.String("b"), MaxKeys: aws.Int32(2)})
	require.NoError(t, err)
	require.Len(t, page.Contents, 2)
	assert.True(t, aws.ToBool(page.IsTruncated))

	next, err := f.ListObjectsV2(ctx, &s3.ListObjectsV2Input{Bucket: aws.String("b"), ContinuationToken: page.NextContinuationToken})
	require.NoError(t, err)
	require.Len(t, next.Contents, 1)
	assert.Equal(t, "c", aws.ToString(next.Contents[0].Key))
}

func TestS3Stream(t *testing.T) {
	ctx := context.Background()
	f := NewS3()
	_, _ = f.CreateBucket(ctx, &s3.CreateBucketInput{Bucket: aws.String("b")})
	_, _ = f.PutObject(ctx, &s3.PutObjectInput{Bucket: aws.String("b"), Key: aws.String("k"), Body: strings.NewReader("one\ntwo\nthree\n")})

	var lines []string
	err := f.Stream(ctx, "b", "k", 1, func(line []byte, n int64) error {
		lines = append(lines, string(line))
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"two", "three"}, lines)

	err = f.Stream(ctx, "b", "missing", 0, func([]byte, int64) error { return nil })
	var noKey *s3types.NoSuchKey
	assert.ErrorAs(t, err, &noKey)
}

func createEventsTable(t *testing.T, f *DynamoDB) {
	t.Helper()
	_, err := f.CreateTable(context.Background(), &dynamodb.CreateTableInput{
		TableName: aws.String("events"),
		KeySchema: []ddbtypes.KeySchemaElement{
			{AttributeName: aws.String("sensor_id"), KeyType: ddbtypes.KeyTypeHash},
			{AttributeName: aws.String("timestamp"), KeyType: ddbtypes.KeyTypeRange},
		},
	})
	require.NoError(t, err)
}

func item(sensor, ts string) map[string]ddbtypes.AttributeValue {
	return map[string]ddbtypes.AttributeValue{
		"sensor_id": &ddbtypes.AttributeValueMemberS{Value: sensor},
		"timestamp": &ddbtypes.AttributeValueMemberN{Value: ts},
	}
}

func TestDynamoDB(t *testing.T) {
	ctx := context.Background()
	f := NewDynamoDB()

	_, err := f.DescribeTable(ctx, &dynamodb.DescribeTableInput{TableName: aws.String("events")})
	var notFound *ddbtypes.ResourceNotFoundException
	require.ErrorAs(t, err, &notFound)

	createEventsTable(t, f)
	_, err = f.CreateTable(ctx, &dynamodb.CreateTableInput{
		TableName: aws.String("events"),
		KeySchema: []ddbtypes.KeySchemaElement{{AttributeName: aws.String("sensor_id"), KeyType: ddbtypes.KeyTypeHash}},
	})
	var inUse *ddbtypes.ResourceInUseException
	require.ErrorAs(t, err, &inUse)

	desc, err := f.DescribeTable(ctx, &dynamodb.DescribeTableInput{TableName: aws.String("events")})
	require.NoError(t, err)
	assert.Equal(t, ddbtypes.TableStatusActive, desc.Table.TableStatus)

	_, err = f.PutItem(ctx, &dynamodb.PutItemInput{TableName: aws.String("events"), Item: item("1", "100")})
	require.NoError(t, err)
	_, err = f.PutItem(ctx, &dynamodb.PutItemInput{TableName: aws.String("events"), Item: item("1", "101")})
	require.NoError(t, err)
	_, err = f.PutItem(ctx, &dynamodb.PutItemInput{TableName: aws.String("events"), Item: item("1", "100")})
	require.NoError(t, err)
	assert.Equal(t, 2, f.ItemCount("events"), "same composite key replaces the item")

	got, err := f.GetItem(ctx, &dynamodb.GetItemInput{TableName: aws.String("events"), Key: item("1", "101")})
	require.NoError(t, err)
	assert.NotNil(t, got.Item)

	_, err = f.PutItem(ctx, &dynamodb.PutItemInput{TableName: aws.String("events"), Item: map[string]ddbtypes.AttributeValue{
		"sensor_id": &ddbtypes.AttributeValueMemberS{Value: "1"},
	}})
	assert.Error(t, err, "missing range key")

	page, err := f.Scan(ctx, &dynamodb.ScanInput{TableName: aws.String("events"), Limit: aws.Int32(1)})
	require.NoError(t, err)
	require.Len(t, page.Items, 1)
	require.NotNil(t, page.LastEvaluatedKey)
	rest, err := f.Scan(ctx, &dynamodb.ScanInput{TableName: aws.String("events"), ExclusiveStartKey: page.LastEvaluatedKey})
	require.NoError(t, err)
	assert.Len(t, rest.Items, 1)
	assert.Nil(t, rest.LastEvaluatedKey)

	_, err = f.DeleteItem(ctx, &dynamodb.DeleteItemInput{TableName: aws.String("events"), Key: item("1", "100")})
	require.NoError(t, err)
	assert.Equal(t, 1, f.ItemCount("events"))
}

func TestDynamoDBBatchWriteHook(t *testing.T) {
	ctx := context.Background()
	f := NewDynamoDB()
	createEventsTable(t, f)

	f.OnBatchWrite(func(call int, in *dynamodb.BatchWriteItemInput) (map[string][]ddbtypes.WriteRequest, error) {
		if call == 1 {
			return nil, errors.New("throttled")
		}
		reqs := in.RequestItems["events"]
		return map[string][]ddbtypes.WriteRequest{"events": reqs[:1]}, nil
	})

	in := &dynamodb.BatchWriteItemInput{RequestItems: map[string][]ddbtypes.WriteRequest{
		"events": {
			{PutRequest: &ddbtypes.PutRequest{Item: item("1", "1")}},
			{PutRequest: &ddbtypes.PutRequest{Item: item("2", "1")}},
		},
	}}
	_, err := f.BatchWriteItem(ctx, in)
	require.Error(t, err)

	out, err := f.BatchWriteItem(ctx, in)
	require.NoError(t, err)
	assert.Len(t, out.UnprocessedItems["events"], 1)
	assert.Equal(t, 1, f.ItemCount("events"))
}

func TestDynamoDBBatchWriteRejectsDuplicateKeys(t *testing.T) {
	ctx := context.Background()
	f := NewDynamoDB()
	createEventsTable(t, f)

	_, err := f.BatchWriteItem(ctx, &dynamodb.BatchWriteItemInput{RequestItems: map[string][]ddbtypes.WriteRequest{
		"events": {
			{PutRequest: &ddbtypes.PutRequest{Item: item("1", "7")}},
			{PutRequest: &ddbtypes.PutRequest{Item: item("2", "7")}},
			{PutRequest: &ddbtypes.PutRequest{Item: item("1", "7")}},
		},
	}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "contains duplicates")
	assert.Equal(t, 0, f.ItemCount("events"), "a rejected batch writes nothing")
}

func TestKinesisCursor(t *testing.T) {
	ctx := context.Background()
	f := NewKinesis()

	_, err := f.CreateStream(ctx, &kinesis.CreateStreamInput{StreamName: aws.String("s"), ShardCount: aws.Int32(1)})
	require.NoError(t, err)
	_, err = f.CreateStream(ctx, &kinesis.CreateStreamInput{StreamName: aws.String("s"), ShardCount: aws.Int32(1)})
	var inUse *kintypes.ResourceInUseException
	require.ErrorAs(t, err, &inUse)

	summary, err := f.DescribeStreamSummary(ctx, &kinesis.DescribeStreamSummaryInput{StreamName: aws.String("s")})
	require.NoError(t, err)
	assert.Equal(t, kintypes.StreamStatusActive, summary.StreamDescriptionSummary.StreamStatus)

	var seqs []string
	for _, d := range []string{"a", "b", "c"} {
		out, err := f.PutRecord(ctx, &kinesis.PutRecordInput{StreamName: aws.String("s"), Data: []byte(d), PartitionKey: aws.String("demo")})
		require.NoError(t, err)
		assert.Equal(t, ShardID, aws.ToString(out.ShardId))
		seqs = append(seqs, aws.ToString(out.SequenceNumber))
	}
	assert.Less(t, seqs[0], seqs[1], "sequence numbers increase")

	it, err := f.GetShardIterator(ctx, &kinesis.GetShardIteratorInput{
		StreamName: aws.String("s"), ShardId: aws.String(ShardID), ShardIteratorType: kintypes.ShardIteratorTypeTrimHorizon,
	})
	require.NoError(t, err)

	first, err := f.GetRecords(ctx, &kinesis.GetRecordsInput{ShardIterator: it.ShardIterator, Limit: aws.Int32(2)})
	require.NoError(t, err)
	require.Len(t, first.Records, 2)
	assert.Equal(t, "a", string(first.Records[0].Data))

	second, err := f.GetRecords(ctx, &kinesis.GetRecordsInput{ShardIterator: first.NextShardIterator, Limit: aws.Int32(2)})
	require.NoError(t, err)
	require.Len(t, second.Records, 1)
	assert.Equal(t, "c", string(second.Records[0].Data))

	empty, err := f.GetRecords(ctx, &kinesis.GetRecordsInput{ShardIterator: second.NextShardIterator})
	require.NoError(t, err)
	assert.Empty(t, empty.Records)

	after, err := f.GetShardIterator(ctx, &kinesis.GetShardIteratorInput{
		StreamName: aws.String("s"), ShardId: aws.String(ShardID),
		ShardIteratorType:      kintypes.ShardIteratorTypeAfterSequenceNumber,
		StartingSequenceNumber: aws.String(seqs[0]),
	})
	require.NoError(t, err)
	resumed, err := f.GetRecords(ctx, &kinesis.GetRecordsInput{ShardIterator: after.ShardIterator})
	require.NoError(t, err)
	require.Len(t, resumed.Records, 2)
	assert.Equal(t, "b", string(resumed.Records[0].Data))

	at, err := f.GetShardIterator(ctx, &kinesis.GetShardIteratorInput{
		StreamName: aws.String("s"), ShardId: aws.String(ShardID),
		ShardIteratorType:      kintypes.ShardIteratorTypeAtSequenceNumber,
		StartingSequenceNumber: aws.String(seqs[2]),
	})
	require.NoError(t, err)
	last, err := f.GetRecords(ctx, &kinesis.GetRecordsInput{ShardIterator: at.ShardIterator})
	require.NoError(t, err)
	require.Len(t, last.Records, 1)

	latest, err := f.GetShardIterator(ctx, &kinesis.GetShardIteratorInput{
		StreamName: aws.String("s"), ShardId: aws.String(ShardID), ShardIteratorType: kintypes.ShardIteratorTypeLatest,
	})
	require.NoError(t, err)
	none, err := f.GetRecords(ctx, &kinesis.GetRecordsInput{ShardIterator: latest.ShardIterator})
	require.NoError(t, err)
	assert.Empty(t, none.Records)

	_, err = f.GetRecords(ctx, &kinesis.GetRecordsInput{ShardIterator: aws.String("garbage")})
	var invalid *kintypes.InvalidArgumentException
	assert.ErrorAs(t, err, &invalid)
}

func TestLambdaAndIAM(t *testing.T) {
	ctx := context.Background()
	l := NewLambda()
	out, err := l.Invoke(ctx, &lambda.InvokeInput{FunctionName: aws.String("fn"), InvocationType: lambdatypes.InvocationTypeEvent, Payload: []byte(`{}`)})
	require.NoError(t, err)
	assert.Equal(t, int32(202), out.StatusCode)
	out, err = l.Invoke(ctx, &lambda.InvokeInput{FunctionName: aws.String("fn")})
	require.NoError(t, err)
	assert.Equal(t, int32(200), out.StatusCode)
	assert.Len(t, l.Invocations(), 2)

	i := NewIAM("s3:PutObject")
	res, err := i.SimulatePrincipalPolicy(ctx, &iam.SimulatePrincipalPolicyInput{
		PolicySourceArn: aws.String("arn:aws:iam::123456789012:role/rtap"),
		ActionNames:     []string{"s3:PutObject", "s3:GetObject"},
	})
	require.NoError(t, err)
	require.Len(t, res.EvaluationResults, 2)
	assert.Equal(t, iamtypes.PolicyEvaluationDecisionTypeAllowed, res.EvaluationResults[0].EvalDecision)
	assert.Equal(t, iamtypes.PolicyEvaluationDecisionTypeImplicitDeny, res.EvaluationResults[1].EvalDecision)
}

func TestFactorySharesStateWithoutCache(t *testing.T) {
	ctx := context.Background()
	factory, backend := NewFactory(false)

	_, err := factory.S3().CreateBucket(ctx, &s3.CreateBucketInput{Bucket: aws.String("b")})
	require.NoError(t, err)
	_, err = factory.S3().PutObject(ctx, &s3.PutObjectInput{Bucket: aws.String("b"), Key: aws.String("k"), Body: strings.NewReader("v")})
	require.NoError(t, err, "a second handle sees the bucket created by the first")

	data, ok := backend.S3.Object("b", "k")
	require.True(t, ok)
	assert.Equal(t, "v", string(data))
}
