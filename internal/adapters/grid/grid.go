// Package grid implements the storage-grid destination (the reserved EOS
// site) as a push to an S3-compatible object endpoint.
package grid

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/hepworks/histoship/internal/domain"
)

// Config describes a storage-grid endpoint. Bucket and KeyPrefix come from
// the site spec (s3://bucket/prefix); endpoint, region and credentials come
// from the grid options.
type Config struct {
	Endpoint        string
	Region          string
	Bucket          string
	KeyPrefix       string
	AccessKeyID     string
	SecretAccessKey string
	ForcePathStyle  bool
}

// ParseSpec splits an s3://bucket/prefix site spec.
func ParseSpec(spec string) (bucket, prefix string, err error) {
	rest, ok := strings.CutPrefix(spec, "s3://")
	if !ok {
		return "", "", fmt.Errorf("storage-grid spec must start with s3://, got %q", spec)
	}
	bucket, prefix, _ = strings.Cut(rest, "/")
	if bucket == "" {
		return "", "", fmt.Errorf("storage-grid spec %q has no bucket", spec)
	}
	return bucket, strings.Trim(prefix, "/"), nil
}

// NewClient builds an S3 client for the grid endpoint.
func NewClient(ctx context.Context, cfg Config) (*s3.Client, error) {
	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Region),
	}
	if cfg.AccessKeyID != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load grid credentials: %w", err)
	}
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.ForcePathStyle
	})
	return client, nil
}

// API is the slice of the S3 client the site uses; it exists so tests can
// substitute a fake.
type API interface {
	HeadObject(ctx context.Context, in *s3.HeadObjectInput, opts ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	PutObject(ctx context.Context, in *s3.PutObjectInput, opts ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// Site delivers payloads as objects keyed <prefix>/<subsystem>/<filename>.
type Site struct {
	name      string
	client    API
	bucket    string
	keyPrefix string
}

// New creates a storage-grid destination.
func New(name string, client API, bucket, keyPrefix string) *Site {
	return &Site{name: name, client: client, bucket: bucket, keyPrefix: keyPrefix}
}

// Name returns the configured site name.
func (s *Site) Name() string { return s.name }

func (s *Site) key(p domain.Payload) string {
	key := p.Subsystem + "/" + p.Filename
	if s.keyPrefix != "" {
		key = s.keyPrefix + "/" + key
	}
	return key
}

// Deliver pushes the payload with PutObject. An existing object of the same
// size means the payload was already delivered; a different size is a content
// conflict. Endpoint errors are transport failures bounded by the retry
// limit.
func (s *Site) Deliver(ctx context.Context, p domain.Payload, content io.Reader) error {
	key := s.key(p)

	head, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	switch {
	case err == nil:
		if head.ContentLength != nil && *head.ContentLength == p.SizeBytes {
			return nil
		}
		return &domain.ContentConflictError{
			Destination: s.name,
			Filename:    p.Filename,
			Reason:      fmt.Sprintf("object %s exists with different size", key),
		}
	case isNotFound(err):
		// New object, push it.
	default:
		return &domain.TransportError{Destination: s.name, Err: err}
	}

	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(key),
		Body:          content,
		ContentLength: aws.Int64(p.SizeBytes),
	})
	if err != nil {
		return &domain.TransportError{Destination: s.name, Err: err}
	}
	return nil
}

func isNotFound(err error) bool {
	var nf *types.NotFound
	if errors.As(err, &nf) {
		return true
	}
	var nsk *types.NoSuchKey
	return errors.As(err, &nsk)
}
