package modules

import (
	"context"
	"fmt"

	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"

	"github.com/testprobe/testprobe/internal/assembly"
	"github.com/testprobe/testprobe/internal/blockstorage"
	"github.com/testprobe/testprobe/internal/blockstorage/backend"
	"github.com/testprobe/testprobe/internal/blockstorage/backend/azureblob"
	"github.com/testprobe/testprobe/internal/blockstorage/backend/gcs"
	"github.com/testprobe/testprobe/internal/blockstorage/backend/localfs"
	"github.com/testprobe/testprobe/internal/blockstorage/backend/s3"
	"github.com/testprobe/testprobe/internal/config"
)

const keyObjectStorageBackend = "object-storage-backend"
const keyArtifactSource = "artifact-source"

// ObjectStorageModule is the KindObjectStorage module: it dials exactly
// one of the localfs/s3/gcs/azureblob backends per
// config.ObjectStorage.Backend and hands a ManifestArtifactSource plus
// the raw backend.ReadWriter into the build context. Dialing happens
// during Validate rather than Initialize: the Registry's validateOrder
// runs ObjectStorage ahead of ActorRuntime, while initializeOrder runs
// ActorRuntime first, so the handle ActorRuntime's ChildFactories close
// over has to exist by the end of the validate phase.
type ObjectStorageModule struct {
	cfg     config.ObjectStorageConfig
	backend backend.ReadWriter
}

// NewObjectStorageModule wraps the object-storage section of the root
// config.
func NewObjectStorageModule(cfg config.ObjectStorageConfig) *ObjectStorageModule {
	return &ObjectStorageModule{cfg: cfg}
}

func (m *ObjectStorageModule) Kind() assembly.Kind { return assembly.KindObjectStorage }

func (m *ObjectStorageModule) Validate(ctx assembly.Context) (assembly.Context, error) {
	var rw backend.ReadWriter
	var err error

	switch m.cfg.Backend {
	case "localfs":
		rw, err = localfs.New(m.cfg.LocalFS)
	case "s3":
		rw, err = s3.New(context.Background(), m.cfg.S3)
	case "gcs":
		rw, err = gcs.New(context.Background(), m.cfg.GCS)
	case "azureblob":
		var cred *azidentity.DefaultAzureCredential
		cred, err = azidentity.NewDefaultAzureCredential(nil)
		if err == nil {
			rw, err = azureblob.New(m.cfg.Azure, cred)
		}
	default:
		return ctx, fmt.Errorf("object_storage.backend %q is not one of localfs|s3|gcs|azureblob", m.cfg.Backend)
	}
	if err != nil {
		return ctx, fmt.Errorf("dial object storage backend %s: %w", m.cfg.Backend, err)
	}
	m.backend = rw

	source := blockstorage.NewManifestArtifactSource(rw)
	ctx = ctx.With(keyObjectStorageBackend, rw)
	ctx = ctx.With(keyArtifactSource, source)
	return ctx, nil
}

func (m *ObjectStorageModule) Initialize(ctx assembly.Context) (assembly.Context, error) {
	return ctx, nil
}

func (m *ObjectStorageModule) Verify(ctx assembly.Context) (assembly.Context, error) {
	if m.backend == nil {
		return ctx, fmt.Errorf("object storage backend not initialized")
	}
	return ctx, nil
}

// ArtifactSourceFrom extracts the ManifestArtifactSource the
// ActorRuntime module needs to build per-test BlockStorage children.
func ArtifactSourceFrom(ctx assembly.Context) (*blockstorage.ManifestArtifactSource, bool) {
	v, ok := ctx.Get(keyArtifactSource)
	if !ok {
		return nil, false
	}
	return v.(*blockstorage.ManifestArtifactSource), true
}

// BackendFrom extracts the raw object-storage backend the ActorRuntime
// module needs to construct per-test BlockStorage children's writer.
func BackendFrom(ctx assembly.Context) (backend.ReadWriter, bool) {
	v, ok := ctx.Get(keyObjectStorageBackend)
	if !ok {
		return nil, false
	}
	return v.(backend.ReadWriter), true
}
