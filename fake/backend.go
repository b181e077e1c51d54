package fake

import (
	rtapaws "github.com/gurre/rtap/aws"
)

// Backend groups one fake per service. Every client handed out for a
// Backend shares its state, so caching on or off sees the same data.
type Backend struct {
	S3       *S3
	DynamoDB *DynamoDB
	Kinesis  *Kinesis
	Lambda   *Lambda
	IAM      *IAM
}

// Compile-time interface checks
var (
	_ rtapaws.S3Client       = (*S3)(nil)
	_ rtapaws.DynamoDBClient = (*DynamoDB)(nil)
	_ rtapaws.KinesisClient  = (*Kinesis)(nil)
	_ rtapaws.LambdaClient   = (*Lambda)(nil)
	_ rtapaws.IAMClient      = (*IAM)(nil)
	_ rtapaws.Streamer       = (*S3)(nil)
)

// NewBackend returns empty fakes. IAM allows every action.
func NewBackend() *Backend {
	return &Backend{
		S3:       NewS3(),
		DynamoDB: NewDynamoDB(),
		Kinesis:  NewKinesis(),
		Lambda:   NewLambda(),
		IAM:      NewIAM("*"),
	}
}

// Factory returns an aws.Factory handing out clients over b.
func (b *Backend) Factory(cache bool) *rtapaws.Factory {
	return rtapaws.NewFactory(rtapaws.Builders{
		S3:       func() rtapaws.S3Client { return b.S3.handle() },
		DynamoDB: func() rtapaws.DynamoDBClient { return b.DynamoDB.handle() },
		Kinesis:  func() rtapaws.KinesisClient { return b.Kinesis.handle() },
		Lambda:   func() rtapaws.LambdaClient { return b.Lambda.handle() },
		IAM:      func() rtapaws.IAMClient { return b.IAM.handle() },
		Streamer: func() rtapaws.Streamer { return b.S3.handle() },
	}, cache)
}

// NewFactory builds a Factory over a fresh Backend and returns both.
func NewFactory(cache bool) (*rtapaws.Factory, *Backend) {
	b := NewBackend()
	return b.Factory(cache), b
}
