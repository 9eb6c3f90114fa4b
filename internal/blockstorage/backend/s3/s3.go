// Package s3 implements the object-storage backend.ReadWriter contract
// against Amazon S3, following the same Reader/Writer shape as the gcs
// and localfs backends in this tree (itself grounded on the teacher
// repository's friggdb/backend split).
package s3

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/testprobe/testprobe/internal/blockstorage/backend"
)

// Config configures the S3-backed object-storage client.
type Config struct {
	Region   string `yaml:"region,omitempty"`
	Endpoint string `yaml:"endpoint,omitempty"`
}

type readerWriter struct {
	client *s3.Client
}

// New builds an S3 client from the standard AWS SDK credential chain.
func New(ctx context.Context, cfg Config) (backend.ReadWriter, error) {
	opts := []func(*awsconfig.LoadOptions) error{}
	if cfg.Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.Region))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, err
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	})

	return &readerWriter{client: client}, nil
}

func (rw *readerWriter) Fetch(ctx context.Context, bucket, prefix string) ([]backend.Object, error) {
	var objs []backend.Object

	paginator := s3.NewListObjectsV2Paginator(rw.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(bucket),
		Prefix: aws.String(prefix),
	})

	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		for _, obj := range page.Contents {
			key := aws.ToString(obj.Key)
			data, err := rw.Get(ctx, bucket, key)
			if err != nil {
				return nil, err
			}
			objs = append(objs, backend.Object{
				Path: strings.TrimPrefix(key, prefix+"/"),
				Data: data,
			})
		}
	}
	return objs, nil
}

func (rw *readerWriter) Get(ctx context.Context, bucket, path string) ([]byte, error) {
	out, err := rw.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(path),
	})
	var nsk *types.NoSuchKey
	if errors.As(err, &nsk) {
		return nil, backend.ErrObjectNotFound
	}
	if err != nil {
		return nil, err
	}
	defer out.Body.Close()

	buf := bytes.Buffer{}
	if _, err := io.Copy(&buf, out.Body); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (rw *readerWriter) Put(ctx context.Context, bucket, path string, r io.Reader, size int64) error {
	_, err := rw.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(bucket),
		Key:           aws.String(path),
		Body:          r,
		ContentLength: aws.Int64(size),
	})
	return err
}

func (rw *readerWriter) Shutdown() {}
