// Package blobstore stages a copy of raw uploaded document bytes to S3 and
// returns a URL that the ingest request records as the document's URL. The
// upload handler still passes the full text through ingest in memory;
// staging does not release it.
package blobstore

import (
	"bytes"
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/cwrag/ragcore/internal/config"
)

// Store stages raw document bytes and returns a reference URL.
type Store interface {
	Stage(ctx context.Context, key string, data []byte, contentType string) (url string, err error)
}

type s3Store struct {
	client   *s3.Client
	bucket   string
	endpoint string
}

// New builds an S3-backed Store from cfg, or nil when S3 isn't configured.
func New(ctx context.Context, cfg config.S3Config) (Store, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	optFns := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(cfg.Region)}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, optFns...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})
	return &s3Store{client: client, bucket: cfg.Bucket, endpoint: cfg.Endpoint}, nil
}

func (s *s3Store) Stage(ctx context.Context, key string, data []byte, contentType string) (string, error) {
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return "", fmt.Errorf("s3 put %s/%s: %w", s.bucket, key, err)
	}
	if s.endpoint != "" {
		return fmt.Sprintf("%s/%s/%s", s.endpoint, s.bucket, key), nil
	}
	return fmt.Sprintf("s3://%s/%s", s.bucket, key), nil
}
