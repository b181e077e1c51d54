// Package fake provides in-memory implementations of the rtap AWS client
// interfaces. They keep enough service semantics (typed errors, ETags,
// shard cursors, table keys) to run the full pipeline without AWS.
package fake

import (
	"bufio"
	"bytes"
	"context"
	"crypto/md5"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

type s3Object struct {
	data         []byte
	etag         string
	contentType  string
	metadata     map[string]string
	lastModified time.Time
}

type s3State struct {
	mu      sync.Mutex
	buckets map[string]map[string]*s3Object
}

// S3 is an in-memory S3 client. Handles returned by the same Backend share
// their buckets.
type S3 struct {
	st *s3State
}

// NewS3 returns an empty S3 fake.
func NewS3() *S3 {
	return &S3{st: &s3State{buckets: make(map[string]map[string]*s3Object)}}
}

func (f *S3) handle() *S3 {
	return &S3{st: f.st}
}

// ETag returns the quoted hex MD5 of data, as S3 reports for single-part
// uploads.
func ETag(data []byte) string {
	return fmt.Sprintf("\"%x\"", md5.Sum(data))
}

func (f *S3) bucket(name string) (map[string]*s3Object, error) {
	b, ok := f.st.buckets[name]
	if !ok {
		return nil, &types.NoSuchBucket{Message: aws.String(fmt.Sprintf("The specified bucket does not exist: %s", name))}
	}
	return b, nil
}

func (f *S3) object(bucket, key string) (*s3Object, error) {
	b, err := f.bucket(bucket)
	if err != nil {
		return nil, err
	}
	obj, ok := b[key]
	if !ok {
		return nil, &types.NoSuchKey{Message: aws.String(fmt.Sprintf("The specified key does not exist: %s", key))}
	}
	return obj, nil
}

// CreateBucket creates a bucket; re-creating one fails with BucketAlreadyOwnedByYou.
func (f *S3) CreateBucket(ctx context.Context, params *s3.CreateBucketInput, optFns ...func(*s3.Options)) (*s3.CreateBucketOutput, error) {
	name := aws.ToString(params.Bucket)
	if name == "" {
		return nil, fmt.Errorf("bucket name is required")
	}
	f.st.mu.Lock()
	defer f.st.mu.Unlock()
	if _, ok := f.st.buckets[name]; ok {
		return nil, &types.BucketAlreadyOwnedByYou{Message: aws.String(fmt.Sprintf("bucket %s already exists", name))}
	}
	f.st.buckets[name] = make(map[string]*s3Object)
	return &s3.CreateBucketOutput{Location: aws.String("/" + name)}, nil
}

// PutObject stores the body and returns its ETag.
func (f *S3) PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	var data []byte
	if params.Body != nil {
		var err error
		if data, err = io.ReadAll(params.Body); err != nil {
			return nil, err
		}
	}

	f.st.mu.Lock()
	defer f.st.mu.Unlock()
	b, err := f.bucket(aws.ToString(params.Bucket))
	if err != nil {
		return nil, err
	}
	metadata := make(map[string]string, len(params.Metadata))
	for k, v := range params.Metadata {
		metadata[k] = v
	}
	obj := &s3Object{
		data:         data,
		etag:         ETag(data),
		contentType:  aws.ToString(params.ContentType),
		metadata:     metadata,
		lastModified: time.Now().UTC(),
	}
	b[aws.ToString(params.Key)] = obj
	return &s3.PutObjectOutput{ETag: aws.String(obj.etag)}, nil
}

// GetObject returns the object body.
func (f *S3) GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	f.st.mu.Lock()
	defer f.st.mu.Unlock()
	obj, err := f.object(aws.ToString(params.Bucket), aws.ToString(params.Key))
	if err != nil {
		return nil, err
	}
	data := append([]byte(nil), obj.data...)
	return &s3.GetObjectOutput{
		Body:          io.NopCloser(bytes.NewReader(data)),
		ContentLength: aws.Int64(int64(len(data))),
		ContentType:   aws.String(obj.contentType),
		ETag:          aws.String(obj.etag),
		Metadata:      obj.metadata,
		LastModified:  aws.Time(obj.lastModified),
	}, nil
}

// HeadObject returns object metadata.
func (f *S3) HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error) {
	f.st.mu.Lock()
	defer f.st.mu.Unlock()
	obj, err := f.object(aws.ToString(params.Bucket), aws.ToString(params.Key))
	if err != nil {
		return nil, err
	}
	return &s3.HeadObjectOutput{
		ContentLength: aws.Int64(int64(len(obj.data))),
		ContentType:   aws.String(obj.contentType),
		ETag:          aws.String(obj.etag),
		Metadata:      obj.metadata,
		LastModified:  aws.Time(obj.lastModified),
	}, nil
}

// DeleteObject removes a key. Deleting a missing key succeeds, as in S3.
func (f *S3) DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	f.st.mu.Lock()
	defer f.st.mu.Unlock()
	b, err := f.bucket(aws.ToString(params.Bucket))
	if err != nil {
		return nil, err
	}
	delete(b, aws.ToString(params.Key))
	return &s3.DeleteObjectOutput{}, nil
}

// ListObjectsV2 lists keys under the prefix in lexical order. MaxKeys and
// continuation tokens are honoured; the token is the last key returned.
func (f *S3) ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error) {
	f.st.mu.Lock()
	defer f.st.mu.Unlock()
	bucket := aws.ToString(params.Bucket)
	b, err := f.bucket(bucket)
	if err != nil {
		return nil, err
	}

	prefix := aws.ToString(params.Prefix)
	after := aws.ToString(params.ContinuationToken)
	keys := make([]string, 0, len(b))
	for k := range b {
		if strings.HasPrefix(k, prefix) && k > after {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	maxKeys := int(aws.ToInt32(params.MaxKeys))
	if maxKeys <= 0 {
		maxKeys = 1000
	}
	truncated := len(keys) > maxKeys
	if truncated {
		keys = keys[:maxKeys]
	}

	out := &s3.ListObjectsV2Output{
		Name:        aws.String(bucket),
		Prefix:      aws.String(prefix),
		KeyCount:    aws.Int32(int32(len(keys))),
		IsTruncated: aws.Bool(truncated),
	}
	for _, k := range keys {
		obj := b[k]
		out.Contents = append(out.Contents, types.Object{
			Key:          aws.String(k),
			ETag:         aws.String(obj.etag),
			Size:         aws.Int64(int64(len(obj.data))),
			LastModified: aws.Time(obj.lastModified),
		})
	}
	if truncated {
		out.NextContinuationToken = aws.String(keys[len(keys)-1])
	}
	return out, nil
}

// Stream reads an object line by line, skipping the first offset lines.
// It is the in-memory counterpart of the S3 line streamer.
func (f *S3) Stream(ctx context.Context, bucket, key string, offset int64, fn func([]byte, int64) error) error {
	f.st.mu.Lock()
	obj, err := f.object(bucket, key)
	var data []byte
	if err == nil {
		data = append([]byte(nil), obj.data...)
	}
	f.st.mu.Unlock()
	if err != nil {
		return err
	}

	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, 64*1024), 16*1024*1024)
	var line int64
	for scanner.Scan() {
		if line >= offset {
			if err := fn(scanner.Bytes(), line); err != nil {
				return err
			}
		}
		line++
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("error scanning lines: %w", err)
	}
	return nil
}

// Object returns a copy of a stored body; used by tests.
func (f *S3) Object(bucket, key string) ([]byte, bool) {
	f.st.mu.Lock()
	defer f.st.mu.Unlock()
	obj, err := f.object(bucket, key)
	if err != nil {
		return nil, false
	}
	return append([]byte(nil), obj.data...), true
}

// SetETag overrides the ETag of a stored object to simulate corruption.
func (f *S3) SetETag(bucket, key, etag string) bool {
	f.st.mu.Lock()
	defer f.st.mu.Unlock()
	obj, err := f.object(bucket, key)
	if err != nil {
		return false
	}
	obj.etag = etag
	return true
}
