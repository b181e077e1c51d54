package checkpoint

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/gurre/rtap/fake"
)

func sampleState() State {
	return State{
		Stream:         "demo-stream",
		ShardID:        fake.ShardID,
		SequenceNumber: "00000000000000000000000000000000000000000000000000000004",
		StreamCreated:  time.Date(2024, 5, 1, 11, 0, 0, 0, time.UTC),
		UpdatedAt:      time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
	}
}

func assertState(t *testing.T, got, want State) {
	t.Helper()
	if got.Stream != want.Stream {
		t.Errorf("Stream mismatch: got %s, want %s", got.Stream, want.Stream)
	}
	if got.ShardID != want.ShardID {
		t.Errorf("ShardID mismatch: got %s, want %s", got.ShardID, want.ShardID)
	}
	if got.SequenceNumber != want.SequenceNumber {
		t.Errorf("SequenceNumber mismatch: got %s, want %s", got.SequenceNumber, want.SequenceNumber)
	}
	if !got.StreamCreated.Equal(want.StreamCreated) {
		t.Errorf("StreamCreated mismatch: got %v, want %v", got.StreamCreated, want.StreamCreated)
	}
	if !got.UpdatedAt.Equal(want.UpdatedAt) {
		t.Errorf("UpdatedAt mismatch: got %v, want %v", got.UpdatedAt, want.UpdatedAt)
	}
}

func TestStateMatches(t *testing.T) {
	s := sampleState()
	created := s.StreamCreated
	if !s.Matches("demo-stream", fake.ShardID, created) {
		t.Error("expected state to match its own stream and shard")
	}
	if s.Matches("other-stream", fake.ShardID, created) {
		t.Error("expected state not to match another stream")
	}
	if s.Matches("demo-stream", fake.ShardID, created.Add(time.Minute)) {
		t.Error("expected state not to match a re-created stream")
	}
	if (State{Stream: "demo-stream", ShardID: fake.ShardID, StreamCreated: created}).Matches("demo-stream", fake.ShardID, created) {
		t.Error("empty state never matches")
	}
}

func TestMemoryStore_SaveLoad(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	empty, err := store.Load(ctx)
	if err != nil {
		t.Fatalf("failed to load empty state: %v", err)
	}
	if !empty.Empty() {
		t.Errorf("expected empty state, got %+v", empty)
	}

	if err := store.Save(ctx, sampleState()); err != nil {
		t.Fatalf("failed to save state: %v", err)
	}
	second := sampleState()
	second.SequenceNumber = "9"
	if err := store.Save(ctx, second); err != nil {
		t.Fatalf("failed to save state: %v", err)
	}

	loaded, err := store.Load(ctx)
	if err != nil {
		t.Fatalf("failed to load state: %v", err)
	}
	assertState(t, loaded, second)
	if store.Saves() != 2 {
		t.Errorf("expected 2 saves, got %d", store.Saves())
	}
}

func TestFileStore_SaveLoad(t *testing.T) {
	uri := "file://" + filepath.Join(t.TempDir(), "nested", "dir", "checkpoint.json")

	store, err := NewFileStore(uri)
	if err != nil {
		t.Fatalf("failed to create file store: %v", err)
	}

	ctx := context.Background()
	empty, err := store.Load(ctx)
	if err != nil {
		t.Fatalf("failed to load non-existent state: %v", err)
	}
	if !empty.Empty() {
		t.Errorf("expected empty state for non-existent file, got: %+v", empty)
	}

	if err := store.Save(ctx, sampleState()); err != nil {
		t.Fatalf("failed to save state: %v", err)
	}
	loaded, err := store.Load(ctx)
	if err != nil {
		t.Fatalf("failed to load state: %v", err)
	}
	assertState(t, loaded, sampleState())

	if _, err := os.Stat(store.path + ".tmp"); !os.IsNotExist(err) {
		t.Error("expected temporary file to be renamed away")
	}
}

func TestFileStore_InvalidURI(t *testing.T) {
	testCases := []string{
		"s3://bucket/key",
		"http://example.com/file",
		"/path/without/scheme",
	}

	for _, uri := range testCases {
		t.Run(uri, func(t *testing.T) {
			if _, err := NewFileStore(uri); err == nil {
				t.Errorf("expected error for invalid file URI: %s", uri)
			}
		})
	}
}

func TestS3Store_SaveLoad(t *testing.T) {
	ctx := context.Background()
	client := fake.NewS3()

	store, err := NewS3Store(client, "s3://ckpt/path/to/checkpoint.json")
	if err != nil {
		t.Fatalf("failed to create S3 store: %v", err)
	}
	if store.bucket != "ckpt" || store.key != "path/to/checkpoint.json" {
		t.Errorf("unexpected bucket/key: %s/%s", store.bucket, store.key)
	}

	// Missing bucket reads as empty state
	state, err := store.Load(ctx)
	if err != nil {
		t.Fatalf("load with missing bucket: %v", err)
	}
	if !state.Empty() {
		t.Errorf("expected empty state, got %+v", state)
	}

	if _, err := client.CreateBucket(ctx, &s3.CreateBucketInput{Bucket: aws.String("ckpt")}); err != nil {
		t.Fatalf("create bucket: %v", err)
	}
	if state, err = store.Load(ctx); err != nil || !state.Empty() {
		t.Fatalf("expected empty state for missing key, got %+v (%v)", state, err)
	}

	if err := store.Save(ctx, sampleState()); err != nil {
		t.Fatalf("failed to save state: %v", err)
	}
	loaded, err := store.Load(ctx)
	if err != nil {
		t.Fatalf("failed to load state: %v", err)
	}
	assertState(t, loaded, sampleState())
}

func TestS3Store_InvalidURI(t *testing.T) {
	testCases := []string{
		"http://bucket/key",
		"file:///path/to/file",
		"bucket/key",
		"s3://bucket-only",
	}

	for _, uri := range testCases {
		t.Run(uri, func(t *testing.T) {
			if _, err := NewS3Store(nil, uri); err == nil {
				t.Errorf("expected error for invalid S3 URI: %s", uri)
			}
		})
	}
}

func TestNew(t *testing.T) {
	testCases := []struct {
		name    string
		uri     string
		client  bool
		want    string
		wantErr bool
	}{
		{name: "memory", uri: "", want: "*checkpoint.MemoryStore"},
		{name: "file", uri: "file://" + filepath.Join(t.TempDir(), "c.json"), want: "*checkpoint.FileStore"},
		{name: "s3", uri: "s3://b/k.json", client: true, want: "*checkpoint.S3Store"},
		{name: "s3 without client", uri: "s3://b/k.json", wantErr: true},
		{name: "unknown scheme", uri: "gs://b/k", wantErr: true},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			var client *fake.S3
			if tc.client {
				client = fake.NewS3()
			}
			var store Store
			var err error
			if client != nil {
				store, err = New(tc.uri, client)
			} else {
				store, err = New(tc.uri, nil)
			}
			if tc.wantErr {
				if err == nil {
					t.Error("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got := typeName(store); got != tc.want {
				t.Errorf("expected %s, got %s", tc.want, got)
			}
		})
	}
}

func typeName(s Store) string {
	switch s.(type) {
	case *MemoryStore:
		return "*checkpoint.MemoryStore"
	case *FileStore:
		return "*checkpoint.FileStore"
	case *S3Store:
		return "*checkpoint.S3Store"
	default:
		return "unknown"
	}
}
