// Package manifest records the artifacts a pipeline run uploaded to S3 and
// verifies them later against the object ETags.
package manifest

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/base64"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	json "github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/gurre/rtap/aws"
)

// ErrChecksumMismatch is returned when an uploaded object no longer matches
// the checksum recorded in the manifest.
var ErrChecksumMismatch = errors.New("checksum mismatch")

var s3URIPattern = regexp.MustCompile(`^s3://([^/]+)/(.+)$`)

// Manifest describes one pipeline run.
//
//	m := manifest.New("demo-stream")
//	m.Add(manifest.NewArtifact("reports/summary.json", body, 4))
//	err := manifest.Save(ctx, client, "demo-bucket", "reports/manifest.json", m)
type Manifest struct {
	RunID     string     `json:"runId"`
	CreatedAt time.Time  `json:"createdAt"`
	Stream    string     `json:"stream"`
	Artifacts []Artifact `json:"artifacts"`
}

// Artifact is a single uploaded object.
type Artifact struct {
	Key         string `json:"key"`
	MD5Base64   string `json:"md5Checksum"` // Base64-encoded MD5 of the body
	RecordCount int    `json:"recordCount"`
}

// New creates a manifest with a fresh run id.
func New(stream string) *Manifest {
	return &Manifest{
		RunID:     uuid.NewString(),
		CreatedAt: time.Now().UTC(),
		Stream:    stream,
		Artifacts: make([]Artifact, 0, 4),
	}
}

// Add appends an artifact.
func (m *Manifest) Add(a Artifact) {
	m.Artifacts = append(m.Artifacts, a)
}

// Records returns the total record count across artifacts.
func (m *Manifest) Records() int {
	total := 0
	for _, a := range m.Artifacts {
		total += a.RecordCount
	}
	return total
}

// NewArtifact computes the checksum of body.
func NewArtifact(key string, body []byte, records int) Artifact {
	sum := md5.Sum(body)
	return Artifact{
		Key:         key,
		MD5Base64:   base64.StdEncoding.EncodeToString(sum[:]),
		RecordCount: records,
	}
}

// Save writes the manifest as JSON to bucket/key.
func Save(ctx context.Context, client aws.S3Client, bucket, key string, m *Manifest) error {
	data, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("failed to encode manifest: %w", err)
	}
	_, err = client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      &bucket,
		Key:         &key,
		Body:        bytes.NewReader(data),
		ContentType: stringPtr("application/json"),
	})
	if err != nil {
		return fmt.Errorf("failed to put manifest: %w", err)
	}
	return nil
}

// Load reads a manifest from bucket/key.
func Load(ctx context.Context, client aws.S3Client, bucket, key string) (*Manifest, error) {
	resp, err := client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: &bucket,
		Key:    &key,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get manifest: %w", err)
	}
	if resp.Body == nil {
		return nil, fmt.Errorf("manifest response body is nil")
	}
	defer func() { _ = resp.Body.Close() }()

	var m Manifest
	if err := json.NewDecoder(resp.Body).Decode(&m); err != nil {
		return nil, fmt.Errorf("failed to decode manifest: %w", err)
	}
	return &m, nil
}

// VerifyChecksums compares every artifact's MD5 with the ETag S3 reports
// for it. Multipart uploads are not supported since their ETag is not an MD5.
func VerifyChecksums(ctx context.Context, client aws.S3Client, bucket string, m *Manifest) error {
	for _, a := range m.Artifacts {
		key := a.Key
		resp, err := client.HeadObject(ctx, &s3.HeadObjectInput{
			Bucket: &bucket,
			Key:    &key,
		})
		if err != nil {
			return fmt.Errorf("failed to get metadata for artifact %s: %w", a.Key, err)
		}
		if resp.ETag == nil {
			return fmt.Errorf("ETag is nil for artifact %s", a.Key)
		}

		md5Bytes, err := base64.StdEncoding.DecodeString(a.MD5Base64)
		if err != nil {
			return fmt.Errorf("failed to decode MD5 for artifact %s: %w", a.Key, err)
		}
		expected := fmt.Sprintf("%x", md5Bytes)

		etag := strings.Trim(*resp.ETag, "\"")
		if etag != expected {
			return fmt.Errorf("%w for artifact %s: expected %s, got %s", ErrChecksumMismatch, a.Key, expected, etag)
		}
	}
	return nil
}

// ParseURI splits s3://bucket/key.
func ParseURI(uri string) (bucket, key string, err error) {
	matches := s3URIPattern.FindStringSubmatch(uri)
	if len(matches) != 3 {
		return "", "", fmt.Errorf("invalid S3 URI format: %s (must be s3://bucket/key)", uri)
	}
	return matches[1], matches[2], nil
}

func stringPtr(s string) *string { return &s }
