package fetch

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"transcription-jobs/internal/faults"
)

type objectGetter interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// S3 fetches s3://bucket/key URLs.
type S3 struct {
	client   objectGetter
	maxBytes int64
}

// S3Options configures the S3 client.
type S3Options struct {
	Region    string
	Endpoint  string
	PathStyle bool
	MaxBytes  int64
}

// NewS3 loads AWS credentials from the default chain.
func NewS3(ctx context.Context, opts S3Options) (*S3, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(opts.Region))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = opts.PathStyle
		if opts.Endpoint != "" {
			o.BaseEndpoint = aws.String(opts.Endpoint)
		}
	})
	return newS3WithClient(client, opts.MaxBytes), nil
}

func newS3WithClient(client objectGetter, maxBytes int64) *S3 {
	if maxBytes == 0 {
		maxBytes = defaultMaxBytes
	}
	return &S3{client: client, maxBytes: maxBytes}
}

// Fetch downloads the object named by rawURL to localPath.
func (s *S3) Fetch(ctx context.Context, rawURL, localPath string) error {
	bucket, key, err := parseS3URL(rawURL)
	if err != nil {
		return faults.Wrap(faults.KindFetch, "parse s3 url", err)
	}

	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return faults.Wrap(faults.KindFetch, "get object", err)
	}
	defer out.Body.Close()

	if out.ContentLength != nil && *out.ContentLength > s.maxBytes {
		return faults.Wrap(faults.KindFetch, "get object", fmt.Errorf("%w (%d > %d bytes)", ErrTooLarge, *out.ContentLength, s.maxBytes))
	}
	if err := writeLimited(out.Body, localPath, s.maxBytes); err != nil {
		return faults.Wrap(faults.KindFetch, "get object", err)
	}
	return nil
}

func parseS3URL(rawURL string) (string, string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", "", err
	}
	if u.Scheme != "s3" {
		return "", "", fmt.Errorf("unexpected scheme %q", u.Scheme)
	}
	key := strings.TrimPrefix(u.Path, "/")
	if u.Host == "" || key == "" {
		return "", "", fmt.Errorf("s3 url must be s3://bucket/key, got %q", rawURL)
	}
	return u.Host, key, nil
}
