package blockstorage

import (
	"bytes"
	"context"
	"io"
	"testing"

	"github.com/go-kit/log"
	"github.com/stretchr/testify/require"

	"github.com/testprobe/testprobe/internal/apperrors"
	"github.com/testprobe/testprobe/internal/blockstorage/backend"
	"github.com/testprobe/testprobe/internal/kafka"
	"github.com/testprobe/testprobe/internal/testresult"
)

type fakeSource struct {
	directive Directive
	objects   []backend.Object
	err       error
}

func (f *fakeSource) Resolve(_ context.Context, _, _ string) (Directive, []backend.Object, error) {
	return f.directive, f.objects, f.err
}

type fakeWriter struct {
	puts map[string][]byte
}

func (w *fakeWriter) Put(_ context.Context, _, path string, r io.Reader, _ int64) error {
	if w.puts == nil {
		w.puts = make(map[string][]byte)
	}
	var buf bytes.Buffer
	if _, err := io.Copy(&buf, r); err != nil {
		return err
	}
	w.puts[path] = buf.Bytes()
	return nil
}

func TestBlockStorage_InitializeMaterializesObjectsIntoVirtualFS(t *testing.T) {
	source := &fakeSource{
		directive: Directive{Topics: []kafka.TopicDirective{{Topic: "orders"}}},
		objects:   []backend.Object{{Path: "feature-files/orders.feature", Data: []byte("Feature: orders")}},
	}
	b := New("test-1", "bucket-a", source, &fakeWriter{}, log.NewNopLogger())

	directive, err := b.Initialize(context.Background(), "")
	require.NoError(t, err)
	require.Len(t, directive.Topics, 1)

	exists, err := existsIn(b, "/test-1/feature-files/orders.feature")
	require.NoError(t, err)
	require.True(t, exists)
}

func existsIn(b *BlockStorage, p string) (bool, error) {
	_, err := b.FS().Stat(p)
	if err == nil {
		return true, nil
	}
	return false, nil
}

func TestBlockStorage_InitializeTwiceReplacesDirective(t *testing.T) {
	source := &fakeSource{directive: Directive{Topics: []kafka.TopicDirective{{Topic: "orders"}}}}
	b := New("test-1", "bucket-a", source, &fakeWriter{}, log.NewNopLogger())

	_, err := b.Initialize(context.Background(), "")
	require.NoError(t, err)

	source.directive = Directive{Topics: []kafka.TopicDirective{{Topic: "shipments"}}}
	second, err := b.Initialize(context.Background(), "")
	require.NoError(t, err)
	require.Equal(t, "shipments", second.Topics[0].Topic)
}

func TestBlockStorage_LoadToBlockStorageBeforeInitializeIsValidationError(t *testing.T) {
	b := New("test-1", "bucket-a", &fakeSource{}, &fakeWriter{}, log.NewNopLogger())

	err := b.LoadToBlockStorage(context.Background(), testresult.TestExecutionResult{TestID: "test-1"})
	require.Error(t, err)
	var ve *apperrors.ValidationError
	require.ErrorAs(t, err, &ve)
}

func TestBlockStorage_LoadToBlockStorageUploadsEvidenceAndMetadata(t *testing.T) {
	source := &fakeSource{directive: Directive{}}
	writer := &fakeWriter{}
	b := New("test-1", "bucket-a", source, writer, log.NewNopLogger())

	_, err := b.Initialize(context.Background(), "")
	require.NoError(t, err)

	require.NoError(t, b.FS().MkdirAll("/test-1/evidence/cucumber-reports", 0o755))
	require.NoError(t, writeTestFile(b, "/test-1/evidence/cucumber-reports/report.json", []byte(`{"ok":true}`)))

	result := testresult.TestExecutionResult{TestID: "test-1", Passed: true}
	require.NoError(t, b.LoadToBlockStorage(context.Background(), result))

	require.Contains(t, writer.puts, "test-1/evidence/metadata.json")
	require.Contains(t, writer.puts, "test-1/evidence/cucumber-reports/report.json")
}

func writeTestFile(b *BlockStorage, path string, data []byte) error {
	f, err := b.FS().Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = f.Write(data)
	return err
}
