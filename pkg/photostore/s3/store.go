package s3

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"

	"github.com/3leaps/ramekin/pkg/photostore"
)

// Store implements photostore.Store backed by an S3 bucket.
type Store struct {
	client *s3.Client
	bucket string
	prefix string
}

var (
	_ photostore.Store  = (*Store)(nil)
	_ photostore.Putter = (*Store)(nil)
)

// New creates an S3 photo store.
func New(ctx context.Context, cfg Config) (*Store, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	awsCfg, err := loadAWSConfig(ctx, cfg)
	if err != nil {
		return nil, &photostore.Error{Op: "New", Backend: photostore.BackendS3, Key: cfg.Bucket, Err: err}
	}

	s3Opts := []func(*s3.Options){
		func(o *s3.Options) {
			if cfg.ForcePathStyle {
				o.UsePathStyle = true
			}
		},
	}
	if cfg.Endpoint != "" {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		})
	}

	prefix := strings.TrimPrefix(cfg.Prefix, "/")
	if prefix != "" && !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}

	return &Store{
		client: s3.NewFromConfig(awsCfg, s3Opts...),
		bucket: cfg.Bucket,
		prefix: prefix,
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
	awsCfg.Region = resolveRegion(cfg.Endpoint, awsCfg.Region)
	return awsCfg, nil
}

// Head returns metadata for a photo.
func (s *Store) Head(ctx context.Context, ownerID, photoID string) (*photostore.Meta, error) {
	key, err := s.key(ownerID, photoID)
	if err != nil {
		return nil, &photostore.Error{Op: "Head", Backend: photostore.BackendS3, Err: err}
	}

	out, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, s.wrapError("Head", key, err)
	}

	return &photostore.Meta{
		ID:          photoID,
		OwnerID:     ownerID,
		Size:        aws.ToInt64(out.ContentLength),
		ContentType: aws.ToString(out.ContentType),
	}, nil
}

// Get downloads a photo.
func (s *Store) Get(ctx context.Context, ownerID, photoID string) (*photostore.Photo, error) {
	key, err := s.key(ownerID, photoID)
	if err != nil {
		return nil, &photostore.Error{Op: "Get", Backend: photostore.BackendS3, Err: err}
	}

	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, s.wrapError("Get", key, err)
	}
	defer func() { _ = out.Body.Close() }()

	if aws.ToInt64(out.ContentLength) > photostore.MaxPhotoBytes {
		return nil, s.wrapError("Get", key, photostore.ErrTooLarge)
	}
	data, err := io.ReadAll(io.LimitReader(out.Body, photostore.MaxPhotoBytes+1))
	if err != nil {
		return nil, s.wrapError("Get", key, err)
	}
	if len(data) > photostore.MaxPhotoBytes {
		return nil, s.wrapError("Get", key, photostore.ErrTooLarge)
	}

	return &photostore.Photo{
		Meta: photostore.Meta{
			ID:          photoID,
			OwnerID:     ownerID,
			Size:        int64(len(data)),
			ContentType: aws.ToString(out.ContentType),
		},
		Data: data,
	}, nil
}

// Put uploads a photo. Photos larger than photostore.MaxPhotoBytes are
// rejected before any request is made.
func (s *Store) Put(ctx context.Context, ownerID, photoID, contentType string, data []byte) error {
	key, err := s.key(ownerID, photoID)
	if err != nil {
		return &photostore.Error{Op: "Put", Backend: photostore.BackendS3, Err: err}
	}
	if len(data) > photostore.MaxPhotoBytes {
		return s.wrapError("Put", key, photostore.ErrTooLarge)
	}

	in := &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(data),
		ContentLength: aws.Int64(int64(len(data))),
	}
	if contentType != "" {
		in.ContentType = aws.String(contentType)
	}
	if _, err := s.client.PutObject(ctx, in); err != nil {
		return s.wrapError("Put", key, err)
	}
	return nil
}

func (s *Store) key(ownerID, photoID string) (string, error) {
	key, err := photostore.Key(ownerID, photoID)
	if err != nil {
		return "", err
	}
	return s.prefix + key, nil
}

// wrapError converts S3 errors to photo store errors with sentinel causes.
func (s *Store) wrapError(op, key string, err error) error {
	wrapped := &photostore.Error{Op: op, Backend: photostore.BackendS3, Key: key, Err: err}
	if errors.Is(err, photostore.ErrTooLarge) {
		return wrapped
	}

	var notFound *types.NotFound
	var noSuchKey *types.NoSuchKey
	if errors.As(err, &notFound) || errors.As(err, &noSuchKey) {
		wrapped.Err = photostore.ErrNotFound
		return wrapped
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NoSuchKey", "NotFound":
			wrapped.Err = photostore.ErrNotFound
		case "AccessDenied", "Forbidden", "InvalidAccessKeyId", "SignatureDoesNotMatch":
			wrapped.Err = photostore.ErrAccessDenied
		case "SlowDown", "ServiceUnavailable", "InternalError":
			wrapped.Err = photostore.ErrUnavailable
		}
		return wrapped
	}

	return wrapped
}

// resolveRegion defaults to us-east-1 for AWS when the SDK resolved nothing.
// S3-compatible endpoints get no default.
func resolveRegion(endpoint, sdkRegion string) string {
	if sdkRegion != "" {
		return sdkRegion
	}
	if endpoint == "" {
		return DefaultAWSRegion
	}
	return ""
}
