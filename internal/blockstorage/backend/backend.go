// Package backend defines the object-storage contract BlockStorage
// fetches from and uploads to (spec.md §6 "Object-storage contract"),
// grounded on the Reader/Writer split the teacher repository uses for
// its own pluggable storage backends.
package backend

import (
	"context"
	"errors"
	"io"
)

// ErrObjectNotFound is returned by Reader.Get when the named object does
// not exist in the bucket.
var ErrObjectNotFound = errors.New("object not found")

// Object is one file fetched from a bucket: its path relative to the
// test's object prefix, and its content.
type Object struct {
	Path string
	Data []byte
}

// Reader lists and fetches the objects under a test's prefix in a
// bucket. Fetch is a full-listing convenience used by BlockStorage to
// materialize the whole feature/glue tree in one call; Get fetches one
// object by path for callers that already know what they need.
type Reader interface {
	// Fetch lists and downloads every object under prefix in bucket.
	Fetch(ctx context.Context, bucket, prefix string) ([]Object, error)
	Get(ctx context.Context, bucket, path string) ([]byte, error)
}

// Writer uploads evidence produced by a test run.
type Writer interface {
	Put(ctx context.Context, bucket, path string, r io.Reader, size int64) error
}

// ReadWriter is the full contract a concrete backend must satisfy.
type ReadWriter interface {
	Reader
	Writer
	// Shutdown releases backend resources (client connections etc).
	Shutdown()
}
