package assembly

import (
	"context"

	"github.com/testprobe/testprobe/internal/blockstorage"
	"github.com/testprobe/testprobe/internal/kafka"
)

// VaultFunc resolves Kafka security directives for a topic directive
// list. It is the curried form of the SecretVault module's
// fetchSecurityDirectives operation (spec.md §6 Vault contract) — actors
// depend on this function type, never on the concrete vault module, so
// swapping vault backends never touches actor code.
type VaultFunc func(ctx context.Context, topics []kafka.TopicDirective) ([]kafka.SecurityDirective, error)

// StorageFunc bundles the two object-storage operations (fetch/load) an
// actor needs, curried from the concrete ObjectStorage module the same
// way VaultFunc is curried from SecretVault.
type StorageFunc struct {
	Fetch func(ctx context.Context, testID, bucket string) (blockstorage.Directive, error)
	Load  func(ctx context.Context, testID, bucket string, result blockstorage.UploadSpec) error
}

// ServiceFuncs is the bundle extracted once, during the ActorRuntime
// module's Initialize step, and injected into every TestExecutionActor's
// children thereafter (spec.md §4's "curried service functions" design
// note). Actors hold only this struct, never a reference to the
// ObjectStorage/SecretVault modules themselves.
type ServiceFuncs struct {
	Vault   VaultFunc
	Storage StorageFunc
}
