package kvstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("github.com/platinummonkey/isotrack/pkg/kvstore")

// s3API is the subset of *s3.Client the store uses
type s3API interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
	HeadBucket(ctx context.Context, params *s3.HeadBucketInput, optFns ...func(*s3.Options)) (*s3.HeadBucketOutput, error)
}

// S3Store keeps each key as one object under a prefix
type S3Store struct {
	client   s3API
	bucket   string
	prefix   string
	maxValue int64
}

// NewS3Store builds an S3 client from cfg. Static credentials are used when
// both keys are set (MinIO, explicit AWS keys); otherwise the default chain.
func NewS3Store(ctx context.Context, cfg Config) (*S3Store, error) {
	loadOpts := []func(*config.LoadOptions) error{
		config.WithRegion(cfg.S3Region),
	}
	if cfg.S3AccessKey != "" && cfg.S3SecretKey != "" {
		loadOpts = append(loadOpts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.S3AccessKey, cfg.S3SecretKey, ""),
		))
	}

	awsConfig, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsConfig, func(o *s3.Options) {
		if cfg.S3Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.S3Endpoint)
		}
		if cfg.S3UsePathStyle {
			o.UsePathStyle = true
		}
	})

	return newS3Store(client, cfg.S3Bucket, cfg.S3Prefix, cfg.MaxValueBytes), nil
}

func newS3Store(client s3API, bucket, prefix string, maxValueBytes int64) *S3Store {
	return &S3Store{
		client:   client,
		bucket:   bucket,
		prefix:   prefix,
		maxValue: maxValueBytes,
	}
}

func (s *S3Store) objectKey(key string) string {
	return s.prefix + key + ".json"
}

// Get implements Store.Get
func (s *S3Store) Get(ctx context.Context, key string) (string, bool, error) {
	ctx, span := s.startSpan(ctx, "S3.GetObject", key)
	defer span.End()

	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.objectKey(key)),
	})
	if isS3NotFound(err) {
		span.SetStatus(codes.Ok, "object not found")
		return "", false, nil
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to get object")
		return "", false, fmt.Errorf("s3 get failed: %w", err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to read object")
		return "", false, fmt.Errorf("failed to read s3 object: %w", err)
	}

	span.SetAttributes(attribute.Int("content.size", len(data)))
	return string(data), true, nil
}

// Set implements Store.Set
func (s *S3Store) Set(ctx context.Context, key, value string) error {
	if err := checkSize(s.maxValue, key, value); err != nil {
		return err
	}

	ctx, span := s.startSpan(ctx, "S3.PutObject", key)
	defer span.End()
	span.SetAttributes(attribute.Int("content.size", len(value)))

	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(s.objectKey(key)),
		Body:        strings.NewReader(value),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to put object")
		err = fmt.Errorf("s3 put failed: %w", err)
		if isS3Capacity(err) {
			return asCapacity(err)
		}
		return err
	}

	span.SetStatus(codes.Ok, "object uploaded")
	return nil
}

// Delete implements Store.Delete
func (s *S3Store) Delete(ctx context.Context, key string) error {
	ctx, span := s.startSpan(ctx, "S3.DeleteObject", key)
	defer span.End()

	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.objectKey(key)),
	})
	if err != nil && !isS3NotFound(err) {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to delete object")
		return fmt.Errorf("s3 delete failed: %w", err)
	}
	return nil
}

// Ping implements Store.Ping
func (s *S3Store) Ping(ctx context.Context) error {
	_, err := s.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(s.bucket)})
	if err != nil {
		return fmt.Errorf("s3 bucket %s unavailable: %w", s.bucket, err)
	}
	return nil
}

// Close implements Store.Close
func (s *S3Store) Close() error {
	return nil
}

func (s *S3Store) startSpan(ctx context.Context, name, key string) (context.Context, trace.Span) {
	return tracer.Start(ctx, name,
		trace.WithAttributes(
			attribute.String("s3.bucket", s.bucket),
			attribute.String("s3.key", s.objectKey(key)),
		),
	)
}

func isS3NotFound(err error) bool {
	if err == nil {
		return false
	}
	var noSuchKey *types.NoSuchKey
	if errors.As(err, &noSuchKey) {
		return true
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		code := apiErr.ErrorCode()
		return code == "NoSuchKey" || code == "NotFound"
	}
	return false
}

func isS3Capacity(err error) bool {
	var apiErr smithy.APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	switch apiErr.ErrorCode() {
	case "EntityTooLarge", "QuotaExceeded", "XMinioStorageFull", "InsufficientStorage":
		return true
	}
	return false
}
