package export

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/wolfman30/dentalchart-platform/pkg/logging"
)

// S3API is the subset of the S3 client used by Archive.
type S3API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// Archive copies exported charts to S3. With no bucket configured every call is a no-op.
type Archive struct {
	bucket   string
	s3Client S3API
	logger   *logging.Logger
}

// NewArchive creates an export archive.
func NewArchive(s3Client S3API, bucket string, logger *logging.Logger) *Archive {
	if logger == nil {
		logger = logging.Default()
	}
	return &Archive{bucket: bucket, s3Client: s3Client, logger: logger}
}

// Enabled returns true if archival is configured.
func (a *Archive) Enabled() bool {
	return a != nil && a.bucket != "" && a.s3Client != nil
}

// Key returns the object key for an export.
func Key(patientID string, now time.Time, filename string) string {
	return fmt.Sprintf("charts/%s/%s/%s", safeName(patientID), now.UTC().Format("2006-01-02"), filename)
}

// Put uploads body under key and returns the key, or "" when archival is disabled.
func (a *Archive) Put(ctx context.Context, key string, body []byte, contentType string) (string, error) {
	if !a.Enabled() {
		return "", nil
	}
	_, err := a.s3Client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(body),
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return "", fmt.Errorf("export: s3 put %s: %w", key, err)
	}
	a.logger.Info("archived chart export to S3", "s3_key", key, "bytes", len(body))
	return key, nil
}
