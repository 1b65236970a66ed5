package archive

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

const (
	initialBackoff = 200 * time.Millisecond
	maxBackoff     = 2 * time.Second
)

type S3Config struct {
	Bucket       string
	Region       string
	Endpoint     string
	UsePathStyle bool
	Retries      int
	Timeout      time.Duration
}

// S3Uploader puts archive objects with its own retry loop. The SDK retryer is
// disabled so attempts are counted in one place.
type S3Uploader struct {
	client  *s3.Client
	bucket  string
	retries int
	timeout time.Duration
}

func NewS3Uploader(ctx context.Context, cfg S3Config) (*S3Uploader, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.Retryer = aws.NopRetryer{}
		o.UsePathStyle = cfg.UsePathStyle
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	})
	return newS3Uploader(client, cfg), nil
}

func newS3Uploader(client *s3.Client, cfg S3Config) *S3Uploader {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &S3Uploader{
		client:  client,
		bucket:  cfg.Bucket,
		retries: max(cfg.Retries, 1),
		timeout: timeout,
	}
}

// Upload stores body under key, backing off from 200ms up to 2s between
// attempts. It stops early when ctx is done.
func (u *S3Uploader) Upload(ctx context.Context, key string, body []byte) error {
	var lastErr error
	backoff := initialBackoff

	for attempt := 1; attempt <= u.retries; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		if err := u.putObject(ctx, key, body); err == nil {
			return nil
		} else {
			lastErr = err
		}

		if attempt == u.retries {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
			backoff = min(backoff*2, maxBackoff)
		}
	}
	return fmt.Errorf("upload %s: %w", key, lastErr)
}

func (u *S3Uploader) putObject(ctx context.Context, key string, body []byte) error {
	ctx, cancel := context.WithTimeout(ctx, u.timeout)
	defer cancel()

	_, err := u.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:          aws.String(u.bucket),
		Key:             aws.String(key),
		Body:            bytes.NewReader(body),
		ContentLength:   aws.Int64(int64(len(body))),
		ContentType:     aws.String("application/x-ndjson"),
		ContentEncoding: aws.String("gzip"),
	})
	return err
}
