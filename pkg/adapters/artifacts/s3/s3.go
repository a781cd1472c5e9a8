package s3

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"go.uber.org/zap"

	"github.com/danielcregg/powerpoint-to-video-old/pkg/domain"
)

// DefaultRegion is used when neither config nor the SDK resolve a region.
const DefaultRegion = "us-east-1"

// Config configures the S3 artifact store.
type Config struct {
	Bucket          string
	Region          string
	Endpoint        string
	Prefix          string
	Profile         string
	AccessKeyID     string
	SecretAccessKey string
	ForcePathStyle  bool
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if c.Bucket == "" {
		return fmt.Errorf("bucket is required")
	}
	if (c.AccessKeyID == "") != (c.SecretAccessKey == "") {
		return fmt.Errorf("access key id and secret access key must be set together")
	}
	return nil
}

// ArtifactStore stores artifacts in an S3 bucket.
type ArtifactStore struct {
	client *s3.Client
	bucket string
	prefix string
	logger *zap.Logger
}

// New creates an S3 artifact store.
func New(ctx context.Context, cfg Config, logger *zap.Logger) (*ArtifactStore, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid s3 config: %w", err)
	}

	awsCfg, err := loadAWSConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to load aws config: %w", err)
	}

	opts := []func(*s3.Options){
		func(o *s3.Options) {
			o.UsePathStyle = cfg.ForcePathStyle
			// Checksums only when the operation demands them, so bodies are
			// sent plainly to S3-compatible endpoints.
			o.RequestChecksumCalculation = aws.RequestChecksumCalculationWhenRequired
		},
	}
	if cfg.Endpoint != "" {
		opts = append(opts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		})
	}

	return &ArtifactStore{
		client: s3.NewFromConfig(awsCfg, opts...),
		bucket: cfg.Bucket,
		prefix: strings.Trim(cfg.Prefix, "/"),
		logger: logger,
	}, nil
}

func loadAWSConfig(ctx context.Context, cfg Config) (aws.Config, error) {
	var opts []func(*config.LoadOptions) error

	if cfg.Region != "" {
		opts = append(opts, config.WithRegion(cfg.Region))
	}
	if cfg.Profile != "" {
		opts = append(opts, config.WithSharedConfigProfile(cfg.Profile))
	}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return aws.Config{}, err
	}
	if awsCfg.Region == "" {
		awsCfg.Region = DefaultRegion
	}
	return awsCfg, nil
}

// Put uploads r under key.
func (s *ArtifactStore) Put(ctx context.Context, key string, r io.Reader) error {
	body, size, cleanup, err := seekable(r)
	if err != nil {
		return fmt.Errorf("failed to buffer artifact %s: %w", key, err)
	}
	defer cleanup()

	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(s.objectKey(key)),
		Body:          body,
		ContentLength: aws.Int64(size),
		ContentType:   aws.String(contentType(key)),
	})
	if err != nil {
		return s.wrapError("PutObject", key, err)
	}

	s.logger.Debug("artifact uploaded",
		zap.String("bucket", s.bucket),
		zap.String("key", key),
		zap.Int64("size", size))
	return nil
}

// Open downloads the object stored under key.
func (s *ArtifactStore) Open(ctx context.Context, key string) (io.ReadCloser, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.objectKey(key)),
	})
	if err != nil {
		return nil, s.wrapError("GetObject", key, err)
	}
	return out.Body, nil
}

// Exists reports whether an object is stored under key.
func (s *ArtifactStore) Exists(ctx context.Context, key string) (bool, error) {
	_, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.objectKey(key)),
	})
	if err != nil {
		wrapped := s.wrapError("HeadObject", key, err)
		if errors.Is(wrapped, domain.ErrNotFound) {
			return false, nil
		}
		return false, wrapped
	}
	return true, nil
}

// Ping checks the bucket is reachable.
func (s *ArtifactStore) Ping(ctx context.Context) error {
	_, err := s.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(s.bucket)})
	if err != nil {
		return s.wrapError("HeadBucket", "", err)
	}
	return nil
}

func (s *ArtifactStore) objectKey(key string) string {
	key = strings.TrimPrefix(key, "/")
	if s.prefix == "" {
		return key
	}
	return s.prefix + "/" + key
}

// wrapError classifies S3 failures into domain error kinds.
func (s *ArtifactStore) wrapError(op, key string, err error) error {
	marker := classify(err)
	if key == "" {
		return fmt.Errorf("%w: s3 %s %s: %w", marker, op, s.bucket, err)
	}
	return fmt.Errorf("%w: s3 %s %s/%s: %w", marker, op, s.bucket, key, err)
}

func classify(err error) error {
	var notFound *types.NotFound
	var noSuchKey *types.NoSuchKey
	var noSuchBucket *types.NoSuchBucket

	switch {
	case errors.As(err, &notFound), errors.As(err, &noSuchKey):
		return domain.ErrNotFound
	case errors.As(err, &noSuchBucket):
		return domain.ErrPermanent
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NoSuchKey", "NotFound":
			return domain.ErrNotFound
		case "NoSuchBucket", "AccessDenied", "Forbidden", "InvalidAccessKeyId", "SignatureDoesNotMatch":
			return domain.ErrPermanent
		case "SlowDown", "Throttling", "RequestLimitExceeded":
			return domain.ErrResourceExhausted
		}
	}
	return domain.ErrTransient
}

// seekable returns a body the SDK can sign and retry. Non-seekable readers
// are spooled to a temp file.
func seekable(r io.Reader) (io.ReadSeeker, int64, func(), error) {
	if rs, ok := r.(io.ReadSeeker); ok {
		size, err := rs.Seek(0, io.SeekEnd)
		if err != nil {
			return nil, 0, nil, err
		}
		if _, err := rs.Seek(0, io.SeekStart); err != nil {
			return nil, 0, nil, err
		}
		return rs, size, func() {}, nil
	}

	f, err := os.CreateTemp("", "autopresenter-upload-*")
	if err != nil {
		return nil, 0, nil, err
	}
	cleanup := func() {
		_ = f.Close()
		_ = os.Remove(f.Name())
	}
	size, err := io.Copy(f, r)
	if err != nil {
		cleanup()
		return nil, 0, nil, err
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		cleanup()
		return nil, 0, nil, err
	}
	return f, size, cleanup, nil
}

func contentType(key string) string {
	switch path.Ext(key) {
	case ".png":
		return "image/png"
	case ".txt", ".strategy":
		return "text/plain; charset=utf-8"
	case ".wav":
		return "audio/wav"
	case ".mp4":
		return "video/mp4"
	case ".pdf":
		return "application/pdf"
	case ".pptx":
		return "application/vnd.openxmlformats-officedocument.presentationml.presentation"
	default:
		return "application/octet-stream"
	}
}
