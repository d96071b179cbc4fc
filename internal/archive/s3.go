// Package archive keeps validated scan images in S3-compatible object storage.
package archive

import (
	"bytes"
	"context"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/neuroscan-portal/internal/domain"
)

// objectPutter is the part of *s3.Client the archive uses
type objectPutter interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

var extensions = map[string]string{
	"image/jpeg": ".jpg",
	"image/jpg":  ".jpg",
	"image/png":  ".png",
}

// S3Archive stores scans under scans/<date>/<uuid>.<ext>
type S3Archive struct {
	client objectPutter
	bucket string
	log    *logrus.Logger
	now    func() time.Time
	newID  func() string
}

// NewS3Archive builds an archive from configuration. A non-empty endpoint
// selects path-style addressing for MinIO and similar servers.
func NewS3Archive(ctx context.Context, cfg domain.ArchiveConfig, logger *logrus.Logger) (*S3Archive, error) {
	opts := []func(*config.LoadOptions) error{
		config.WithRegion(cfg.Region),
	}
	if cfg.AccessKeyID != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})

	return newS3Archive(client, cfg.Bucket, logger), nil
}

func newS3Archive(client objectPutter, bucket string, logger *logrus.Logger) *S3Archive {
	return &S3Archive{
		client: client,
		bucket: bucket,
		log:    logger,
		now:    time.Now,
		newID:  uuid.NewString,
	}
}

// Key returns the object key for an upload taken at t
func Key(t time.Time, id, contentType string) string {
	ext, ok := extensions[strings.ToLower(strings.TrimSpace(contentType))]
	if !ok {
		ext = ".bin"
	}
	return path.Join("scans", t.UTC().Format(domain.DateLayout), id+ext)
}

// Store uploads the image and returns its key
func (a *S3Archive) Store(ctx context.Context, upload domain.UploadRequest) (string, error) {
	key := Key(a.now(), a.newID(), upload.ContentType)

	_, err := a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(a.bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(upload.Data),
		ContentType:   aws.String(upload.ContentType),
		ContentLength: aws.Int64(int64(len(upload.Data))),
		Metadata: map[string]string{
			"original-filename": upload.Filename,
		},
	})
	if err != nil {
		return "", fmt.Errorf("failed to upload scan %q: %w", upload.Filename, err)
	}

	a.log.WithFields(logrus.Fields{
		"bucket": a.bucket,
		"key":    key,
		"size":   len(upload.Data),
	}).Info("Scan archived")

	return key, nil
}
