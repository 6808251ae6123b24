// Package storage keeps verified gateway webhook bodies in S3-compatible
// object storage for audit.
package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/schoolerp/backend/internal/domain/billing"
	"github.com/schoolerp/backend/internal/infrastructure/config"
	"go.uber.org/zap"
)

const defaultPrefix = "webhooks"

// S3WebhookArchive writes each archived webhook as one JSON object
type S3WebhookArchive struct {
	client *s3.Client
	bucket string
	prefix string
	logger *zap.Logger
}

// NewS3WebhookArchive builds an archive from configuration. Static keys are
// used when both are set; otherwise the default AWS credential chain applies.
func NewS3WebhookArchive(ctx context.Context, cfg config.ArchiveConfig, logger *zap.Logger) (*S3WebhookArchive, error) {
	if cfg.Bucket == "" {
		return nil, errors.New("archive bucket is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	loadOpts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(cfg.Region)}
	if cfg.AccessKey != "" && cfg.SecretKey != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, "")))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = cfg.UsePathStyle
		if cfg.Endpoint != "" {
			endpoint := cfg.Endpoint
			if !strings.Contains(endpoint, "://") {
				endpoint = "https://" + endpoint
			}
			o.BaseEndpoint = aws.String(endpoint)
			// MinIO and friends reject the default trailing checksums
			o.RequestChecksumCalculation = aws.RequestChecksumCalculationWhenRequired
		}
	})

	return &S3WebhookArchive{client: client, bucket: cfg.Bucket, prefix: defaultPrefix, logger: logger}, nil
}

// EnsureBucket creates the bucket when it does not exist
func (a *S3WebhookArchive) EnsureBucket(ctx context.Context) error {
	_, err := a.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(a.bucket)})
	if err == nil {
		return nil
	}
	var notFound *types.NotFound
	var noSuchBucket *types.NoSuchBucket
	if !errors.As(err, &notFound) && !errors.As(err, &noSuchBucket) {
		return fmt.Errorf("failed to check archive bucket: %w", err)
	}

	a.logger.Info("Creating webhook archive bucket", zap.String("bucket", a.bucket))
	_, err = a.client.CreateBucket(ctx, &s3.CreateBucketInput{Bucket: aws.String(a.bucket)})
	var owned *types.BucketAlreadyOwnedByYou
	if err != nil && !errors.As(err, &owned) {
		return fmt.Errorf("failed to create archive bucket: %w", err)
	}
	return nil
}

// Archive stores the payload under a date-partitioned key
func (a *S3WebhookArchive) Archive(ctx context.Context, w *billing.ArchivedWebhook) error {
	key := ObjectKey(a.prefix, w)
	_, err := a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(w.Payload),
		ContentType: aws.String("application/json"),
		Metadata: map[string]string{
			"gateway":   w.Gateway,
			"event":     w.Event,
			"reference": w.Reference,
		},
	})
	if err != nil {
		return fmt.Errorf("failed to archive webhook %s: %w", w.Reference, err)
	}
	a.logger.Debug("Webhook archived", zap.String("key", key))
	return nil
}

// ObjectKey is prefix/gateway/YYYY/MM/DD/reference-event-unixnano.json
func ObjectKey(prefix string, w *billing.ArchivedWebhook) string {
	at := w.ReceivedAt.UTC()
	name := fmt.Sprintf("%s-%s-%d.json", safe(w.Reference), safe(w.Event), at.UnixNano())
	return path.Join(prefix, safe(w.Gateway), at.Format("2006/01/02"), name)
}

// safe keeps keys to a conservative character set
func safe(s string) string {
	if s == "" {
		return "unknown"
	}
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_', r == '.':
			return r
		}
		return '_'
	}, s)
}

// NopArchive discards webhooks. It is used when archiving is disabled.
type NopArchive struct{}

// Archive does nothing
func (NopArchive) Archive(context.Context, *billing.ArchivedWebhook) error { return nil }

var (
	_ billing.WebhookArchive = (*S3WebhookArchive)(nil)
	_ billing.WebhookArchive = NopArchive{}
)
