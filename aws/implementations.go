package aws

import (
	"context"
	"fmt"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/iam"
	"github.com/aws/aws-sdk-go-v2/service/kinesis"
	"github.com/aws/aws-sdk-go-v2/service/lambda"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/gurre/s3streamer"
)

// NewSDKFactory loads the default AWS configuration for region and returns a
// Factory backed by real SDK clients.
func NewSDKFactory(ctx context.Context, region string, cache bool) (*Factory, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	return NewFactory(Builders{
		S3:       func() S3Client { return s3.NewFromConfig(cfg) },
		DynamoDB: func() DynamoDBClient { return dynamodb.NewFromConfig(cfg) },
		Kinesis:  func() KinesisClient { return kinesis.NewFromConfig(cfg) },
		Lambda:   func() LambdaClient { return lambda.NewFromConfig(cfg) },
		IAM:      func() IAMClient { return iam.NewFromConfig(cfg) },
		Streamer: func() Streamer { return s3streamer.NewS3Streamer(s3.NewFromConfig(cfg)) },
	}, cache), nil
}
