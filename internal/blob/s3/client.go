// Package s3blob stores trade and outcome archives in an S3-compatible
// bucket using AWS SDK v2. MinIO, R2 and similar stores work through
// Endpoint and ForcePathStyle.
package s3blob

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// ClientConfig holds the archive bucket settings. An empty Endpoint means
// AWS itself; UseSSL picks the scheme for an Endpoint given without one.
type ClientConfig struct {
	Endpoint       string
	Region         string
	Bucket         string
	AccessKey      string
	SecretKey      string
	UseSSL         bool
	ForcePathStyle bool
}

func (cfg ClientConfig) validate() error {
	var errs []error
	if cfg.Bucket == "" {
		errs = append(errs, errors.New("bucket is required"))
	}
	if cfg.Region == "" {
		errs = append(errs, errors.New("region is required"))
	}
	if cfg.AccessKey != "" && cfg.SecretKey == "" {
		errs = append(errs, errors.New("secret key is required with an access key"))
	}
	return errors.Join(errs...)
}

// s3Options applies the endpoint and addressing overrides.
func (cfg ClientConfig) s3Options(o *s3.Options) {
	if cfg.Endpoint != "" {
		o.BaseEndpoint = aws.String(withScheme(cfg.Endpoint, cfg.UseSSL))
	}
	o.UsePathStyle = cfg.ForcePathStyle
}

// Client is the SDK client bound to the archive bucket.
type Client struct {
	api    *s3.Client
	bucket string
}

// New builds a client. Static credentials are used when AccessKey is set,
// the default AWS chain otherwise.
func New(ctx context.Context, cfg ClientConfig) (*Client, error) {
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("s3blob: %w", err)
	}

	opts := []func(*config.LoadOptions) error{config.WithRegion(cfg.Region)}
	if cfg.AccessKey != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		))
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("s3blob: load aws config: %w", err)
	}

	return &Client{
		api:    s3.NewFromConfig(awsCfg, cfg.s3Options),
		bucket: cfg.Bucket,
	}, nil
}

// Health checks the bucket is reachable with a HeadBucket call.
func (c *Client) Health(ctx context.Context) error {
	if _, err := c.api.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(c.bucket)}); err != nil {
		return fmt.Errorf("s3blob: head bucket %s: %w", c.bucket, err)
	}
	return nil
}

func withScheme(endpoint string, useSSL bool) string {
	if strings.Contains(endpoint, "://") {
		return endpoint
	}
	if useSSL {
		return "https://" + endpoint
	}
	return "http://" + endpoint
}
