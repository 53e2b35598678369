package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/url"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/ftu-admissions/admission-api/internal/admission/application"
)

// Options describes an S3 compatible bucket (AWS, R2, MinIO).
type Options struct {
	Region        string
	Endpoint      string
	AccessKey     string
	SecretKey     string
	Bucket        string
	PublicBaseURL string
	PathStyle     bool
}

// S3Storage writes attachments to a bucket and hands out public URLs under PublicBaseURL.
type S3Storage struct {
	client        *s3.Client
	bucket        string
	publicBaseURL string
}

var _ application.ObjectStorage = (*S3Storage)(nil)

// NewClient loads the AWS configuration. Static keys win over the default credential chain.
func NewClient(ctx context.Context, opts Options) (*s3.Client, error) {
	region := opts.Region
	if region == "" {
		region = "auto"
	}
	loaders := []func(*config.LoadOptions) error{config.WithRegion(region)}
	if opts.AccessKey != "" && opts.SecretKey != "" {
		loaders = append(loaders, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(opts.AccessKey, opts.SecretKey, ""),
		))
	}
	awsConfig, err := config.LoadDefaultConfig(ctx, loaders...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return s3.NewFromConfig(awsConfig, func(o *s3.Options) {
		if opts.Endpoint != "" {
			o.BaseEndpoint = aws.String(opts.Endpoint)
		}
		o.UsePathStyle = opts.PathStyle
	}), nil
}

// NewS3Storage binds client to a bucket.
func NewS3Storage(client *s3.Client, opts Options) (*S3Storage, error) {
	if strings.TrimSpace(opts.Bucket) == "" {
		return nil, fmt.Errorf("s3 bucket is required")
	}
	base := strings.TrimRight(opts.PublicBaseURL, "/")
	if base == "" {
		if opts.Endpoint == "" {
			return nil, fmt.Errorf("s3 public base url is required without an endpoint")
		}
		base = strings.TrimRight(opts.Endpoint, "/") + "/" + opts.Bucket
	}
	return &S3Storage{client: client, bucket: opts.Bucket, publicBaseURL: base}, nil
}

// BaseURL is the public root object URLs are issued under.
func (s *S3Storage) BaseURL() string {
	return s.publicBaseURL
}

// Put uploads body under key. The body is buffered so the request can be signed and retried.
func (s *S3Storage) Put(ctx context.Context, key, contentType string, body io.Reader, size int64) (application.StoredObject, error) {
	seeker, ok := body.(io.ReadSeeker)
	if !ok {
		data, err := io.ReadAll(body)
		if err != nil {
			return application.StoredObject{}, fmt.Errorf("read object body: %w", err)
		}
		seeker = bytes.NewReader(data)
		size = int64(len(data))
	}

	input := &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(key),
		Body:          seeker,
		ContentLength: aws.Int64(size),
	}
	if contentType != "" {
		input.ContentType = aws.String(contentType)
	}
	if _, err := s.client.PutObject(ctx, input); err != nil {
		return application.StoredObject{}, fmt.Errorf("failed to put object: %w", err)
	}
	return application.StoredObject{Key: key, URL: s.objectURL(key)}, nil
}

// Delete removes key. Missing keys are not an error on S3.
func (s *S3Storage) Delete(ctx context.Context, key string) error {
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("failed to delete object: %w", err)
	}
	return nil
}

func (s *S3Storage) objectURL(key string) string {
	segments := strings.Split(key, "/")
	for i, segment := range segments {
		segments[i] = url.PathEscape(segment)
	}
	return s.publicBaseURL + "/" + strings.Join(segments, "/")
}
