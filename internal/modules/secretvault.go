package modules

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"

	"github.com/testprobe/testprobe/internal/assembly"
	tpconfig "github.com/testprobe/testprobe/internal/config"
	"github.com/testprobe/testprobe/internal/kafka"
	"github.com/testprobe/testprobe/internal/vault"
)

const keySecretsClient = "secrets-client"
const keySecretNamer = "secret-namer"

// SecretVaultModule is the KindSecretVault module: it dials the AWS
// Secrets Manager client every per-test Vault child shares (spec.md §8's
// note that Vault "shares AWS SDK transport with the object-storage
// backend rather than introducing a second cloud client stack"). Like
// ObjectStorageModule, dialing happens in Validate so the handle exists
// before ActorRuntime's Initialize runs.
type SecretVaultModule struct {
	cfg    tpconfig.VaultConfig
	client *secretsmanager.Client
}

// NewSecretVaultModule wraps the vault section of the root config.
func NewSecretVaultModule(cfg tpconfig.VaultConfig) *SecretVaultModule {
	return &SecretVaultModule{cfg: cfg}
}

func (m *SecretVaultModule) Kind() assembly.Kind { return assembly.KindSecretVault }

func (m *SecretVaultModule) Validate(ctx assembly.Context) (assembly.Context, error) {
	awsCfg, err := config.LoadDefaultConfig(context.Background())
	if err != nil {
		return ctx, fmt.Errorf("load AWS config for secrets manager: %w", err)
	}
	m.client = secretsmanager.NewFromConfig(awsCfg)

	prefix := m.cfg.SecretPrefix
	var namer vault.SecretNamer = func(t kafka.TopicDirective) string {
		return fmt.Sprintf("%s/%s", prefix, t.Topic)
	}

	ctx = ctx.With(keySecretsClient, m.client)
	ctx = ctx.With(keySecretNamer, namer)
	return ctx, nil
}

func (m *SecretVaultModule) Initialize(ctx assembly.Context) (assembly.Context, error) {
	return ctx, nil
}

func (m *SecretVaultModule) Verify(ctx assembly.Context) (assembly.Context, error) {
	if m.client == nil {
		return ctx, fmt.Errorf("secrets manager client not initialized")
	}
	return ctx, nil
}

// SecretsClientFrom extracts the shared secretsmanager client the
// ActorRuntime module needs to build per-test Vault children.
func SecretsClientFrom(ctx assembly.Context) (vault.SecretsClient, bool) {
	v, ok := ctx.Get(keySecretsClient)
	if !ok {
		return nil, false
	}
	return v.(*secretsmanager.Client), true
}

// SecretNamerFrom extracts the configured SecretNamer.
func SecretNamerFrom(ctx assembly.Context) (vault.SecretNamer, bool) {
	v, ok := ctx.Get(keySecretNamer)
	if !ok {
		return nil, false
	}
	return v.(vault.SecretNamer), true
}
