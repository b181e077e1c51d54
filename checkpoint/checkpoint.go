// Package checkpoint persists the stream consumer position so a later run
// can resume reading after the last processed record.
package checkpoint

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	json "github.com/goccy/go-json"
	"github.com/gurre/rtap/aws"
)

// State is the consumer position within one shard of a stream.
// The zero value means "nothing consumed yet".
type State struct {
	Stream         string    `json:"stream"`
	ShardID        string    `json:"shardId"`
	SequenceNumber string    `json:"sequenceNumber"` // Last record handed to the pipeline
	StreamCreated  time.Time `json:"streamCreated"`  // Creation time of the stream incarnation read
	UpdatedAt      time.Time `json:"updatedAt"`
}

// Empty reports whether no position has been recorded.
func (s State) Empty() bool {
	return s.SequenceNumber == ""
}

// Matches reports whether the state belongs to the given shard of the
// stream incarnation created at created. A stream deleted and re-created
// under the same name starts a new sequence, so its old position is void.
func (s State) Matches(stream, shardID string, created time.Time) bool {
	return !s.Empty() && s.Stream == stream && s.ShardID == shardID &&
		s.StreamCreated.Equal(created)
}

// Store saves and loads checkpoint state.
//
//	state, err := store.Load(ctx)
//	if err != nil {
//	    return err
//	}
//	state.SequenceNumber = lastSeq
//	err = store.Save(ctx, state)
type Store interface {
	Load(ctx context.Context) (State, error)
	Save(ctx context.Context, s State) error
}

// New picks a Store by URI scheme: empty keeps state in memory, file://
// writes a local JSON file and s3:// an S3 object through client.
func New(uri string, client aws.S3Client) (Store, error) {
	switch {
	case uri == "":
		return NewMemoryStore(), nil
	case strings.HasPrefix(uri, "file://"):
		return NewFileStore(uri)
	case strings.HasPrefix(uri, "s3://"):
		if client == nil {
			return nil, fmt.Errorf("S3 checkpoint requires an S3 client")
		}
		return NewS3Store(client, uri)
	default:
		return nil, fmt.Errorf("unsupported checkpoint URI: %s", uri)
	}
}

// S3Store keeps the checkpoint in a single S3 object.
type S3Store struct {
	client aws.S3Client
	bucket string
	key    string
}

// NewS3Store creates an S3Store from an s3://bucket/key URI.
func NewS3Store(client aws.S3Client, uri string) (*S3Store, error) {
	u, err := url.Parse(uri)
	if err != nil {
		return nil, fmt.Errorf("invalid S3 URI: %w", err)
	}
	if u.Scheme != "s3" {
		return nil, fmt.Errorf("invalid S3 URI scheme: %s", u.Scheme)
	}
	key := strings.TrimPrefix(u.Path, "/")
	if u.Host == "" || key == "" {
		return nil, fmt.Errorf("S3 URI must name a bucket and key: %s", uri)
	}

	return &S3Store{
		client: client,
		bucket: u.Host,
		key:    key,
	}, nil
}

// Load returns the stored state, or the zero State when the object or its
// bucket does not exist.
func (s *S3Store) Load(ctx context.Context) (State, error) {
	resp, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: &s.bucket,
		Key:    &s.key,
	})
	if err != nil {
		var noSuchKey *types.NoSuchKey
		if errors.As(err, &noSuchKey) {
			return State{}, nil
		}
		var noSuchBucket *types.NoSuchBucket
		if errors.As(err, &noSuchBucket) {
			return State{}, nil
		}
		var notFound *types.NotFound
		if errors.As(err, &notFound) {
			return State{}, nil
		}
		return State{}, fmt.Errorf("failed to get checkpoint: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	var state State
	if err := json.NewDecoder(resp.Body).Decode(&state); err != nil {
		return State{}, fmt.Errorf("failed to decode checkpoint: %w", err)
	}
	return state, nil
}

// Save overwrites the checkpoint object.
func (s *S3Store) Save(ctx context.Context, state State) error {
	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("failed to encode checkpoint: %w", err)
	}

	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: &s.bucket,
		Key:    &s.key,
		Body:   bytes.NewReader(data),
	})
	if err != nil {
		return fmt.Errorf("failed to save checkpoint: %w", err)
	}
	return nil
}

// FileStore keeps the checkpoint in a local JSON file.
type FileStore struct {
	path string
}

// NewFileStore creates a FileStore from a file:// URI. The path must be
// absolute; its directory is created if missing.
func NewFileStore(uri string) (*FileStore, error) {
	u, err := url.Parse(uri)
	if err != nil {
		return nil, fmt.Errorf("invalid file URI: %w", err)
	}
	if u.Scheme != "file" {
		return nil, fmt.Errorf("invalid file URI scheme: %s", u.Scheme)
	}

	cleanPath := filepath.Clean(u.Path)
	if !filepath.IsAbs(cleanPath) {
		return nil, fmt.Errorf("checkpoint path must be absolute: %s", cleanPath)
	}
	if err := os.MkdirAll(filepath.Dir(cleanPath), 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	return &FileStore{path: cleanPath}, nil
}

// Load returns the stored state, or the zero State when the file is absent.
func (f *FileStore) Load(ctx context.Context) (State, error) {
	data, err := os.ReadFile(f.path)
	if err != nil {
		if os.IsNotExist(err) {
			return State{}, nil
		}
		return State{}, fmt.Errorf("failed to read checkpoint file: %w", err)
	}

	var state State
	if err := json.Unmarshal(data, &state); err != nil {
		return State{}, fmt.Errorf("failed to decode checkpoint: %w", err)
	}
	return state, nil
}

// Save writes the state to a temporary file and renames it into place.
func (f *FileStore) Save(ctx context.Context, state State) error {
	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("failed to encode checkpoint: %w", err)
	}

	tmp := f.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("failed to write checkpoint file: %w", err)
	}
	if err := os.Rename(tmp, f.path); err != nil {
		return fmt.Errorf("failed to replace checkpoint file: %w", err)
	}
	return nil
}
