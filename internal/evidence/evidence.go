// Package evidence persists point-in-time resource snapshots and report
// artifacts to object storage. Objects are written once and never updated;
// presigned URLs give auditors time-limited read access.
package evidence

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	awssdk "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"

	apperrors "github.com/catherinevee/compliancemgr/internal/errors"
	"github.com/catherinevee/compliancemgr/internal/logger"
)

// ObjectStore is the storage capability the engines depend on. The S3
// implementation is the production one; tests substitute an in-memory fake.
type ObjectStore interface {
	Put(ctx context.Context, key string, body []byte, contentType string) error
	Get(ctx context.Context, key string) ([]byte, error)
	PresignGet(ctx context.Context, key string, validity time.Duration) (string, error)
}

// S3Store stores objects in one bucket with SSE enforced on every write.
type S3Store struct {
	client  *s3.Client
	presign *s3.PresignClient
	bucket  string
	log     logger.Logger
}

// NewS3Store creates an object store over one bucket
func NewS3Store(cfg awssdk.Config, bucket string) *S3Store {
	client := s3.NewFromConfig(cfg)
	return &S3Store{
		client:  client,
		presign: s3.NewPresignClient(client),
		bucket:  bucket,
		log:     logger.New("evidence"),
	}
}

// Put writes an object with AES256 server-side encryption
func (s *S3Store) Put(ctx context.Context, key string, body []byte, contentType string) error {
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:               awssdk.String(s.bucket),
		Key:                  awssdk.String(key),
		Body:                 bytes.NewReader(body),
		ContentType:          awssdk.String(contentType),
		ServerSideEncryption: s3types.ServerSideEncryptionAes256,
	})
	if err != nil {
		return apperrors.Wrap(err, apperrors.KindInternal, "failed to store object").
			WithDetail("key", key)
	}
	return nil
}

// Get reads an object
func (s *S3Store) Get(ctx context.Context, key string) ([]byte, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: awssdk.String(s.bucket),
		Key:    awssdk.String(key),
	})
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.KindInternal, "failed to read object").
			WithDetail("key", key)
	}
	defer out.Body.Close()
	var buf bytes.Buffer
	if _, err := buf.ReadFrom(out.Body); err != nil {
		return nil, apperrors.Wrap(err, apperrors.KindInternal, "failed to read object body").
			WithDetail("key", key)
	}
	return buf.Bytes(), nil
}

// PresignGet returns a time-limited read URL
func (s *S3Store) PresignGet(ctx context.Context, key string, validity time.Duration) (string, error) {
	req, err := s.presign.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: awssdk.String(s.bucket),
		Key:    awssdk.String(key),
	}, s3.WithPresignExpires(validity))
	if err != nil {
		return "", apperrors.Wrap(err, apperrors.KindInternal, "failed to presign object URL").
			WithDetail("key", key)
	}
	return req.URL, nil
}

// SnapshotKey builds the storage key for a finding's evidence snapshot.
// The timestamp keeps snapshots from different moments distinct.
func SnapshotKey(findingID string, at time.Time) string {
	return fmt.Sprintf("evidence/%s/%s.json", findingID, at.UTC().Format("2006-01-02T15-04-05Z"))
}

// ReportKey builds the storage key for an exported report artifact.
func ReportKey(orgID string, at time.Time, ext string) string {
	return fmt.Sprintf("audit-reports/%s/%s.%s", orgID, at.UTC().Format("2006-01-02T15-04-05Z"), ext)
}

// Snapshot is the stored evidence document.
type Snapshot struct {
	FindingID  string                 `json:"finding_id"`
	ControlID  string                 `json:"control_id"`
	ResourceID string                 `json:"resource_id"`
	CapturedAt time.Time              `json:"captured_at"`
	Phase      string                 `json:"phase"`
	State      map[string]interface{} `json:"state"`
}

// SaveSnapshot writes one evidence snapshot and returns its key.
func SaveSnapshot(ctx context.Context, store ObjectStore, snap Snapshot) (string, error) {
	snap.CapturedAt = snap.CapturedAt.UTC()
	body, err := json.Marshal(snap)
	if err != nil {
		return "", apperrors.Wrap(err, apperrors.KindInternal, "failed to encode snapshot")
	}
	key := SnapshotKey(snap.FindingID, snap.CapturedAt)
	if err := store.Put(ctx, key, body, "application/json"); err != nil {
		return "", err
	}
	return key, nil
}
