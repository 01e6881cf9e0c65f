package storage

import (
	"bytes"
	"context"
	"fmt"
	"path"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// S3Archiver writes profile payloads to Amazon S3 (or compatible APIs).
type S3Archiver struct {
	client    *s3.Client
	uploader  *manager.Uploader
	bucket    string
	keyPrefix string
	now       func() time.Time
}

func NewS3Archiver(client *s3.Client, bucket, keyPrefix string) *S3Archiver {
	return &S3Archiver{
		client:    client,
		uploader:  manager.NewUploader(client),
		bucket:    bucket,
		keyPrefix: keyPrefix,
		now:       time.Now,
	}
}

// ArchiveProfile stores the payload under
// <prefix>/<provider>/<externalID>/<timestamp>.json and returns the
// s3:// location. Repeated logins archive repeatedly; history is the point.
func (a *S3Archiver) ArchiveProfile(ctx context.Context, provider, externalID string, payload []byte) (string, error) {
	if a.bucket == "" {
		return "", fmt.Errorf("storage bucket is required")
	}
	if provider == "" || externalID == "" {
		return "", fmt.Errorf("provider and external id are required")
	}

	key := path.Join(a.keyPrefix, provider, externalID, a.now().UTC().Format("20060102T150405Z")+".json")
	_, err := a.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(payload),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return "", fmt.Errorf("upload profile payload: %w", err)
	}

	return fmt.Sprintf("s3://%s/%s", a.bucket, key), nil
}
