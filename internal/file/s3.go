// Copyright (c) 2026 The usbtrace Authors.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package file

import (
	"bytes"
	"context"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/openusbtrace/usbtrace/pkg/log"
)

// S3Config names the bucket and credentials a capture is written to
// for `-o s3://bucket/key`, built from aws-sdk-go-v2's own
// config/credentials conventions.
type S3Config struct {
	Bucket          string
	Region          string
	Endpoint        string // non-empty for S3-compatible stores (MinIO etc.)
	AccessKeyID     string
	SecretAccessKey string
}

// S3Destination uploads complete objects to an S3-compatible bucket.
// Capture files are buffered in memory and uploaded as a single
// PutObject call on Close, since usbtrace captures are written once,
// at the end of a session, rather than streamed incrementally to
// cloud storage.
type S3Destination struct {
	cfg    S3Config
	client *s3.Client
}

var _ Destination = (*S3Destination)(nil)
var _ Source = (*S3Destination)(nil)

// NewS3Destination builds an S3 client from cfg. Static credentials
// are used when provided; otherwise the default AWS credential chain
// applies (environment, shared config, instance role).
func NewS3Destination(ctx context.Context, cfg S3Config) (*S3Destination, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if cfg.Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.Region))
	}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, "")))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, err
	}
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})
	return &S3Destination{cfg: cfg, client: client}, nil
}

func (d *S3Destination) Create(name string) (io.WriteCloser, error) {
	return &s3Upload{dest: d, key: name}, nil
}

func (d *S3Destination) Open(name string) (io.ReadCloser, error) {
	out, err := d.client.GetObject(context.Background(), &s3.GetObjectInput{
		Bucket: aws.String(d.cfg.Bucket),
		Key:    aws.String(name),
	})
	if err != nil {
		return nil, err
	}
	return out.Body, nil
}

// s3Upload buffers the written bytes and uploads them as one object
// on Close.
type s3Upload struct {
	dest *S3Destination
	key  string
	buf  bytes.Buffer
}

func (u *s3Upload) Write(p []byte) (int, error) { return u.buf.Write(p) }

func (u *s3Upload) Close() error {
	_, err := u.dest.client.PutObject(context.Background(), &s3.PutObjectInput{
		Bucket: aws.String(u.dest.cfg.Bucket),
		Key:    aws.String(u.key),
		Body:   bytes.NewReader(u.buf.Bytes()),
	})
	if err != nil {
		log.Errorf("s3 destination: upload of %s/%s failed: %v", u.dest.cfg.Bucket, u.key, err)
		return err
	}
	log.Infof("s3 destination: uploaded %s/%s (%d bytes)", u.dest.cfg.Bucket, u.key, u.buf.Len())
	return nil
}
