package pipeline

import (
	"context"
	"errors"
	"fmt"

	awssdk "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	ddbtypes "github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/aws/aws-sdk-go-v2/service/kinesis"
	ktypes "github.com/aws/aws-sdk-go-v2/service/kinesis/types"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/gurre/rtap/aws"
	"github.com/gurre/rtap/config"
	"github.com/gurre/rtap/poll"
)

// EnsureStream creates a single-shard stream unless it exists and waits
// for it to become ACTIVE. Success and Failure in opts are overwritten.
func EnsureStream(ctx context.Context, kc aws.KinesisClient, stream string, opts poll.Options) error {
	_, err := kc.CreateStream(ctx, &kinesis.CreateStreamInput{
		StreamName: &stream,
		ShardCount: awssdk.Int32(1),
	})
	var exists *ktypes.ResourceInUseException
	if err != nil && !errors.As(err, &exists) {
		return fmt.Errorf("failed to create stream %s: %w", stream, err)
	}

	opts.Success = []string{string(ktypes.StreamStatusActive)}
	opts.Failure = []string{string(ktypes.StreamStatusDeleting)}
	if _, err := poll.Until(ctx, opts, func(ctx context.Context) (string, error) {
		out, err := kc.DescribeStreamSummary(ctx, &kinesis.DescribeStreamSummaryInput{StreamName: &stream})
		if err != nil {
			return "", err
		}
		return string(out.StreamDescriptionSummary.StreamStatus), nil
	}); err != nil {
		return fmt.Errorf("stream %s not active: %w", stream, err)
	}
	return nil
}

// EnsureBucket creates bucket unless the caller already owns it. Outside
// us-east-1 the region is passed as the location constraint.
func EnsureBucket(ctx context.Context, client aws.S3Client, bucket, region string) error {
	input := &s3.CreateBucketInput{Bucket: &bucket}
	if region != "" && region != config.DefaultRegion {
		input.CreateBucketConfiguration = &s3types.CreateBucketConfiguration{
			LocationConstraint: s3types.BucketLocationConstraint(region),
		}
	}
	_, err := client.CreateBucket(ctx, input)
	var owned *s3types.BucketAlreadyOwnedByYou
	if err != nil && !errors.As(err, &owned) {
		return fmt.Errorf("failed to create bucket %s: %w", bucket, err)
	}
	return nil
}

// EnsureTable creates the events table (sensor_id hash key, timestamp range
// key, on-demand billing) unless it exists and waits for it to become
// ACTIVE.
func EnsureTable(ctx context.Context, dc aws.DynamoDBClient, table string, opts poll.Options) error {
	_, err := dc.CreateTable(ctx, &dynamodb.CreateTableInput{
		TableName: &table,
		KeySchema: []ddbtypes.KeySchemaElement{
			{AttributeName: awssdk.String("sensor_id"), KeyType: ddbtypes.KeyTypeHash},
			{AttributeName: awssdk.String("timestamp"), KeyType: ddbtypes.KeyTypeRange},
		},
		AttributeDefinitions: []ddbtypes.AttributeDefinition{
			{AttributeName: awssdk.String("sensor_id"), AttributeType: ddbtypes.ScalarAttributeTypeS},
			{AttributeName: awssdk.String("timestamp"), AttributeType: ddbtypes.ScalarAttributeTypeN},
		},
		BillingMode: ddbtypes.BillingModePayPerRequest,
	})
	var exists *ddbtypes.ResourceInUseException
	if err != nil && !errors.As(err, &exists) {
		return fmt.Errorf("failed to create table %s: %w", table, err)
	}

	opts.Success = []string{string(ddbtypes.TableStatusActive)}
	opts.Failure = []string{
		string(ddbtypes.TableStatusDeleting),
		string(ddbtypes.TableStatusInaccessibleEncryptionCredentials),
		string(ddbtypes.TableStatusArchived),
	}
	if _, err := poll.Until(ctx, opts, func(ctx context.Context) (string, error) {
		out, err := dc.DescribeTable(ctx, &dynamodb.DescribeTableInput{TableName: &table})
		if err != nil {
			return "", err
		}
		return string(out.Table.TableStatus), nil
	}); err != nil {
		return fmt.Errorf("table %s not active: %w", table, err)
	}
	return nil
}
