// Package localfs implements the object-storage backend.ReadWriter
// contract against the local filesystem, for dev/test use. Adapted from
// the teacher repository's friggdb/backend/local/local.go.
package localfs

import (
	"context"
	"io"
	"os"
	"path/filepath"

	"github.com/testprobe/testprobe/internal/blockstorage/backend"
)

// Config configures the local-disk object-storage backend. Bucket names
// become subdirectories of Root.
type Config struct {
	Root string `yaml:"root,omitempty"`
}

type readerWriter struct {
	cfg Config
}

// New ensures Root exists and returns a backend rooted there.
func New(cfg Config) (backend.ReadWriter, error) {
	if err := os.MkdirAll(cfg.Root, 0o755); err != nil {
		return nil, err
	}
	return &readerWriter{cfg: cfg}, nil
}

func (rw *readerWriter) Fetch(_ context.Context, bucket, prefix string) ([]backend.Object, error) {
	root := filepath.Join(rw.cfg.Root, bucket, prefix)

	var objs []backend.Object
	err := filepath.Walk(root, func(p string, info os.FileInfo, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if info.IsDir() {
			return nil
		}
		data, err := os.ReadFile(p)
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(root, p)
		if err != nil {
			return err
		}
		objs = append(objs, backend.Object{Path: rel, Data: data})
		return nil
	})
	return objs, err
}

func (rw *readerWriter) Get(_ context.Context, bucket, path string) ([]byte, error) {
	data, err := os.ReadFile(filepath.Join(rw.cfg.Root, bucket, path))
	if os.IsNotExist(err) {
		return nil, backend.ErrObjectNotFound
	}
	return data, err
}

func (rw *readerWriter) Put(_ context.Context, bucket, path string, r io.Reader, _ int64) error {
	full := filepath.Join(rw.cfg.Root, bucket, path)
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return err
	}
	f, err := os.Create(full)
	if err != nil {
		return err
	}
	defer f.Close()

	_, err = io.Copy(f, r)
	return err
}

func (rw *readerWriter) Shutdown() {}
