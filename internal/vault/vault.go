// Package vault implements the Vault child (C8): it resolves a
// KafkaSecurityDirective per topic a test references, sharing AWS SDK
// transport with the object-storage backend rather than introducing a
// second cloud client stack.
package vault

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"github.com/go-kit/log"
	"github.com/go-kit/log/level"

	"github.com/testprobe/testprobe/internal/apperrors"
	"github.com/testprobe/testprobe/internal/blockstorage"
	"github.com/testprobe/testprobe/internal/kafka"
)

// SecretsClient is the subset of *secretsmanager.Client Vault drives,
// narrowed so tests can substitute a fake without live AWS credentials.
type SecretsClient interface {
	GetSecretValue(ctx context.Context, params *secretsmanager.GetSecretValueInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error)
}

// secretPayload is the JSON shape stored at each topic's secret. Vault
// does not interpret JAASConfig/keystore material beyond copying them
// into the SecurityDirective it hands to the Kafka workers.
type secretPayload struct {
	SecurityProtocol string `json:"securityProtocol"`
	JAASConfig       string `json:"jaasConfig"`
	KeystoreMaterial []byte `json:"keystoreMaterial"`
	TruststoreMaterial []byte `json:"truststoreMaterial"`
}

// SecretNamer derives the secret name for a topic directive. Production
// wiring uses a fixed "<prefix>/<topic>" convention; tests can override.
type SecretNamer func(topic kafka.TopicDirective) string

// DefaultSecretNamer returns the "testprobe/kafka/<topic>" convention.
func DefaultSecretNamer(t kafka.TopicDirective) string {
	return fmt.Sprintf("testprobe/kafka/%s", t.Topic)
}

// Vault is the C8 child. It is not a dskit service: its lifecycle is
// driven directly by the owning TestExecutionActor's FSM (Initialize
// once, Stop once), matching spec.md's description of it as a simple
// request/reply child rather than a long-running supervised loop.
type Vault struct {
	testID string
	client SecretsClient
	namer  SecretNamer
	logger log.Logger
}

// New builds a Vault child scoped to one test.
func New(testID string, client SecretsClient, namer SecretNamer, logger log.Logger) *Vault {
	if namer == nil {
		namer = DefaultSecretNamer
	}
	return &Vault{testID: testID, client: client, namer: namer, logger: logger}
}

// Initialize resolves one KafkaSecurityDirective per TopicDirective in
// directive.Topics. An empty topic list is valid and yields an empty
// result. Any backend error is rewritten to reference testId only,
// never the topic's secret name or any field of the fetched directive.
func (v *Vault) Initialize(ctx context.Context, directive blockstorage.Directive) ([]kafka.SecurityDirective, error) {
	directives := make([]kafka.SecurityDirective, 0, len(directive.Topics))

	for _, topic := range directive.Topics {
		secretName := v.namer(topic)
		out, err := v.client.GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{SecretId: aws.String(secretName)})
		if err != nil {
			return nil, &apperrors.TransientIoError{Op: fmt.Sprintf("vault fetch for test %s", v.testID), Err: errRedacted{}}
		}

		var payload secretPayload
		if unmarshalErr := json.Unmarshal([]byte(aws.ToString(out.SecretString)), &payload); unmarshalErr != nil {
			return nil, &apperrors.TransientIoError{Op: fmt.Sprintf("vault decode for test %s", v.testID), Err: errRedacted{}}
		}

		directives = append(directives, kafka.SecurityDirective{
			Topic:              topic.Topic,
			Role:               topic.Role,
			SecurityProtocol:   kafka.SecurityProtocol(payload.SecurityProtocol),
			JAASConfig:         payload.JAASConfig,
			KeystoreMaterial:   payload.KeystoreMaterial,
			TruststoreMaterial: payload.TruststoreMaterial,
		})
	}

	level.Info(v.logger).Log("msg", "security directives fetched", "testId", v.testID, "count", len(directives))
	return directives, nil
}

// Stop is a no-op; Vault holds no resources beyond the shared AWS
// client, which it does not own. Calling Stop before Initialize is
// valid.
func (v *Vault) Stop() {}

// errRedacted stands in for the real backend error in any
// TransientIoError surfaced out of Vault: the confidentiality contract
// forbids forwarding the secrets-manager error text, which may embed
// the secret name or, in SDK retry diagnostics, request parameters.
type errRedacted struct{}

func (errRedacted) Error() string { return "secret backend error (redacted)" }
