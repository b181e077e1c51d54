package aws

import (
	"sync"
)

// Service names used as cache keys.
const (
	ServiceS3       = "s3"
	ServiceDynamoDB = "dynamodb"
	ServiceKinesis  = "kinesis"
	ServiceLambda   = "lambda"
	ServiceIAM      = "iam"
	ServiceStreamer = "s3streamer"
)

// Builders construct one client per service.
type Builders struct {
	S3       func() S3Client
	DynamoDB func() DynamoDBClient
	Kinesis  func() KinesisClient
	Lambda   func() LambdaClient
	IAM      func() IAMClient
	Streamer func() Streamer
}

// Factory hands out service clients. With caching on, each service is built
// once and reused until Reset; with caching off every call builds a new
// client.
type Factory struct {
	mu       sync.Mutex
	cache    bool
	builders Builders
	clients  map[string]any
}

// NewFactory creates a Factory over the given builders.
func NewFactory(builders Builders, cache bool) *Factory {
	return &Factory{
		cache:    cache,
		builders: builders,
		clients:  make(map[string]any),
	}
}

// Caching reports whether clients are reused.
func (f *Factory) Caching() bool {
	return f.cache
}

// S3 returns the S3 client.
func (f *Factory) S3() S3Client {
	return client(f, ServiceS3, f.builders.S3)
}

// DynamoDB returns the DynamoDB client.
func (f *Factory) DynamoDB() DynamoDBClient {
	return client(f, ServiceDynamoDB, f.builders.DynamoDB)
}

// Kinesis returns the Kinesis client.
func (f *Factory) Kinesis() KinesisClient {
	return client(f, ServiceKinesis, f.builders.Kinesis)
}

// Lambda returns the Lambda client.
func (f *Factory) Lambda() LambdaClient {
	return client(f, ServiceLambda, f.builders.Lambda)
}

// IAM returns the IAM client.
func (f *Factory) IAM() IAMClient {
	return client(f, ServiceIAM, f.builders.IAM)
}

// Streamer returns the S3 line streamer.
func (f *Factory) Streamer() Streamer {
	return client(f, ServiceStreamer, f.builders.Streamer)
}

// Reset drops every cached client. The next call per service builds anew.
func (f *Factory) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.clients = make(map[string]any)
}

func client[T any](f *Factory, name string, build func() T) T {
	if build == nil {
		var zero T
		return zero
	}
	if !f.cache {
		return build()
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if c, ok := f.clients[name]; ok {
		return c.(T)
	}
	c := build()
	f.clients[name] = c
	return c
}
