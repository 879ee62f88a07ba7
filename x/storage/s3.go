package storage

import (
	"context"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/pkg/errors"

	"github.com/totegamma/postbox/core"
)

// S3Config is the bucket attachments are written to.
// BaseEndpoint points the client at a MinIO or other compatible server
type S3Config struct {
	Region       string `yaml:"region" env:"POSTBOX_S3_REGION,overwrite"`
	Bucket       string `yaml:"bucket" env:"POSTBOX_S3_BUCKET,overwrite"`
	AccessKey    string `yaml:"accessKey" env:"POSTBOX_S3_ACCESS_KEY,overwrite"`
	SecretKey    string `yaml:"secretKey" env:"POSTBOX_S3_SECRET_KEY,overwrite"`
	BaseEndpoint string `yaml:"baseEndpoint" env:"POSTBOX_S3_ENDPOINT,overwrite"`
}

type s3Store struct {
	client *s3.Client
	bucket string
}

// NewS3Store creates a blob store on an s3 bucket
func NewS3Store(ctx context.Context, conf S3Config) (core.BlobStore, error) {
	cfg, err := config.LoadDefaultConfig(ctx,
		config.WithRegion(conf.Region),
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			conf.AccessKey,
			conf.SecretKey,
			"",
		)))
	if err != nil {
		return nil, errors.Wrap(err, "failed to load s3 config")
	}

	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		if conf.BaseEndpoint != "" {
			o.BaseEndpoint = aws.String(conf.BaseEndpoint)
			o.UsePathStyle = true
		}
	})

	return &s3Store{client: client, bucket: conf.Bucket}, nil
}

func (s *s3Store) Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) error {
	ctx, span := tracer.Start(ctx, "Storage.S3.Put")
	defer span.End()

	input := &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        r,
		ContentType: aws.String(contentType),
	}
	if size >= 0 {
		input.ContentLength = aws.Int64(size)
	}

	_, err := s.client.PutObject(ctx, input)
	if err != nil {
		span.RecordError(err)
		return errors.Wrap(err, "failed to put object")
	}
	return nil
}

func (s *s3Store) Open(ctx context.Context, key string) (io.ReadCloser, error) {
	ctx, span := tracer.Start(ctx, "Storage.S3.Open")
	defer span.End()

	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var missing *types.NoSuchKey
		if errors.As(err, &missing) {
			return nil, core.NewErrorNotFound()
		}
		span.RecordError(err)
		return nil, errors.Wrap(err, "failed to get object")
	}
	return out.Body, nil
}

func (s *s3Store) Delete(ctx context.Context, key string) error {
	ctx, span := tracer.Start(ctx, "Storage.S3.Delete")
	defer span.End()

	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		span.RecordError(err)
		return errors.Wrap(err, "failed to delete object")
	}
	return nil
}
