// Package gcs implements the object-storage backend.ReadWriter contract
// against Google Cloud Storage, adapted from the teacher repository's
// friggdb/backend/gcs/gcs.go reader/writer.
package gcs

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"

	"cloud.google.com/go/storage"
	"google.golang.org/api/iterator"

	"github.com/testprobe/testprobe/internal/blockstorage/backend"
)

// Config configures a GCS-backed object-storage client.
type Config struct {
	// ChunkBufferSize matches the teacher's knob for upload chunking.
	ChunkBufferSize int `yaml:"chunk_buffer_size,omitempty"`
}

type readerWriter struct {
	cfg    Config
	client *storage.Client
}

// New dials Google Cloud Storage using application-default credentials,
// the same discovery path storage.NewClient always uses.
func New(ctx context.Context, cfg Config) (backend.ReadWriter, error) {
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, err
	}
	if cfg.ChunkBufferSize <= 0 {
		cfg.ChunkBufferSize = 8 << 20
	}
	return &readerWriter{cfg: cfg, client: client}, nil
}

func (rw *readerWriter) Fetch(ctx context.Context, bucket, prefix string) ([]backend.Object, error) {
	b := rw.client.Bucket(bucket)
	it := b.Objects(ctx, &storage.Query{Prefix: prefix})

	var objs []backend.Object
	for {
		attrs, err := it.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, err
		}

		data, err := rw.readAll(ctx, b, attrs.Name)
		if err != nil {
			return nil, err
		}
		objs = append(objs, backend.Object{
			Path: strings.TrimPrefix(attrs.Name, prefix+"/"),
			Data: data,
		})
	}
	return objs, nil
}

func (rw *readerWriter) Get(ctx context.Context, bucket, path string) ([]byte, error) {
	b := rw.client.Bucket(bucket)
	data, err := rw.readAll(ctx, b, path)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return nil, backend.ErrObjectNotFound
	}
	return data, err
}

func (rw *readerWriter) Put(ctx context.Context, bucket, path string, r io.Reader, _ int64) error {
	w := rw.client.Bucket(bucket).Object(path).NewWriter(ctx)
	w.ChunkSize = rw.cfg.ChunkBufferSize
	if _, err := io.Copy(w, r); err != nil {
		_ = w.Close()
		return err
	}
	return w.Close()
}

func (rw *readerWriter) Shutdown() {
	_ = rw.client.Close()
}

func (rw *readerWriter) readAll(ctx context.Context, b *storage.BucketHandle, name string) ([]byte, error) {
	r, err := b.Object(name).NewReader(ctx)
	if err != nil {
		return nil, err
	}
	defer r.Close()

	buf := bytes.Buffer{}
	if _, err := io.Copy(&buf, r); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
