package blockstorage

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path"
	"path/filepath"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/spf13/afero"

	"github.com/testprobe/testprobe/internal/apperrors"
	"github.com/testprobe/testprobe/internal/blockstorage/backend"
	"github.com/testprobe/testprobe/internal/testresult"
)

// ArtifactSource resolves a test's BlockStorageDirective and the object
// listing that materializes it. It is the FSM-facing shape of what a
// bucket actually contains, decoupled from the backend transport.
type ArtifactSource interface {
	// Resolve returns the directive for testID in bucket: topic list,
	// step-def package names, tag filters, and the set of objects to
	// download into the virtual FS.
	Resolve(ctx context.Context, testID, bucket string) (Directive, []backend.Object, error)
}

// BlockStorage is the C7 child. One instance per test; Initialize may
// be called twice (idempotent replace), LoadToBlockStorage only once,
// and only after a successful Initialize.
type BlockStorage struct {
	testID  string
	source  ArtifactSource
	writer  backend.Writer
	logger  log.Logger
	fs      afero.Fs
	mount   string
	bucket  string

	directive   Directive
	initialized bool
}

// New builds a BlockStorage child scoped to one test. bucket is the
// default bucket used when Initialize is called without an override.
func New(testID, bucket string, source ArtifactSource, writer backend.Writer, logger log.Logger) *BlockStorage {
	return &BlockStorage{
		testID: testID,
		bucket: bucket,
		source: source,
		writer: writer,
		logger: logger,
		fs:     afero.NewMemMapFs(),
		mount:  path.Join("/", testID),
	}
}

// Initialize downloads feature/glue artifacts into the in-memory
// virtual FS and returns the materialized directive. Calling it twice
// replaces the cached directive and re-downloads into the same mount
// path; this is the documented idempotent-replace behavior, not a
// reject.
func (b *BlockStorage) Initialize(ctx context.Context, bucketOverride string) (Directive, error) {
	bucket := b.bucket
	if bucketOverride != "" {
		bucket = bucketOverride
	}

	directive, objects, err := b.source.Resolve(ctx, b.testID, bucket)
	if err != nil {
		return Directive{}, &apperrors.TransientIoError{Op: fmt.Sprintf("blockstorage fetch for test %s", b.testID), Err: err}
	}
	directive.MountPathValue = b.mount

	if b.initialized {
		level.Warn(b.logger).Log("msg", "re-initializing block storage, replacing prior directive", "testId", b.testID)
		b.fs = afero.NewMemMapFs()
	}

	for _, obj := range objects {
		dest := path.Join(b.mount, obj.Path)
		if err := b.fs.MkdirAll(path.Dir(dest), 0o755); err != nil {
			return Directive{}, &apperrors.TransientIoError{Op: "mount virtual fs", Err: err}
		}
		if err := afero.WriteFile(b.fs, dest, obj.Data, 0o644); err != nil {
			return Directive{}, &apperrors.TransientIoError{Op: "mount virtual fs", Err: err}
		}
	}

	for _, dir := range []string{DirEvidenceReports, DirEvidenceEvents, DirResults} {
		if err := b.fs.MkdirAll(path.Join(b.mount, dir), 0o755); err != nil {
			return Directive{}, &apperrors.TransientIoError{Op: "mount virtual fs", Err: err}
		}
	}

	directive.EvidenceOutputDir = path.Join(b.mount, DirEvidence)
	b.directive = directive
	b.initialized = true

	level.Info(b.logger).Log("msg", "block storage fetched", "testId", b.testID, "mount", b.mount, "topics", len(directive.Topics))
	return directive, nil
}

// FS exposes the virtual filesystem so CucumberExecution can read
// feature files and step-def glue rooted under MountPath.
func (b *BlockStorage) FS() afero.Fs { return b.fs }

// Directive returns the cached directive from the last Initialize.
func (b *BlockStorage) Directive() Directive { return b.directive }

// LoadToBlockStorage serializes result and the evidence tree under the
// mount path's evidence/ subtree and uploads both to object storage
// under the test's prefix. Calling this before a successful Initialize
// is a programmer error; it surfaces as a ValidationError rather than
// panicking, so the parent FSM can decide resume-vs-fail without a
// stack unwind.
func (b *BlockStorage) LoadToBlockStorage(ctx context.Context, result testresult.TestExecutionResult) error {
	if !b.initialized {
		return &apperrors.ValidationError{Msg: fmt.Sprintf("LoadToBlockStorage called before Initialize for test %s", b.testID)}
	}

	metaPath := path.Join(b.mount, FileEvidenceMeta)
	metaBytes, err := json.Marshal(result)
	if err != nil {
		return &apperrors.TransientIoError{Op: "serialize result", Err: err}
	}
	if err := afero.WriteFile(b.fs, metaPath, metaBytes, 0o644); err != nil {
		return &apperrors.TransientIoError{Op: "write result to virtual fs", Err: err}
	}

	evidenceRoot := path.Join(b.mount, DirEvidence)
	objects, err := b.collectEvidence(evidenceRoot)
	if err != nil {
		return &apperrors.TransientIoError{Op: "collect evidence", Err: err}
	}

	for _, obj := range objects {
		uploadPath := path.Join(b.testID, DirEvidence, obj.Path)
		size := int64(len(obj.Data))
		if err := b.writer.Put(ctx, b.bucket, uploadPath, bytes.NewReader(obj.Data), size); err != nil {
			return &apperrors.TransientIoError{Op: fmt.Sprintf("upload evidence for test %s", b.testID), Err: err}
		}
	}

	level.Info(b.logger).Log("msg", "block storage upload complete", "testId", b.testID, "objects", len(objects))
	return nil
}

func (b *BlockStorage) collectEvidence(root string) ([]backend.Object, error) {
	var objects []backend.Object
	err := afero.Walk(b.fs, root, func(p string, info os.FileInfo, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if info.IsDir() {
			return nil
		}
		data, readErr := afero.ReadFile(b.fs, p)
		if readErr != nil {
			return readErr
		}
		rel, relErr := filepath.Rel(root, p)
		if relErr != nil {
			return relErr
		}
		objects = append(objects, backend.Object{Path: rel, Data: data})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return objects, nil
}

// Stop releases no backend resources of its own: the writer/backend is
// owned by the assembly-level ObjectStorage module, not this child.
func (b *BlockStorage) Stop() {}
