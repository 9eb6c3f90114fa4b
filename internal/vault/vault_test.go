package vault

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"github.com/go-kit/log"
	"github.com/stretchr/testify/require"

	"github.com/testprobe/testprobe/internal/apperrors"
	"github.com/testprobe/testprobe/internal/blockstorage"
	"github.com/testprobe/testprobe/internal/kafka"
)

type fakeSecretsClient struct {
	bySecretName map[string]string
	err          error
}

func (f *fakeSecretsClient) GetSecretValue(_ context.Context, params *secretsmanager.GetSecretValueInput, _ ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error) {
	if f.err != nil {
		return nil, f.err
	}
	body, ok := f.bySecretName[aws.ToString(params.SecretId)]
	if !ok {
		return nil, errors.New("secret not found")
	}
	return &secretsmanager.GetSecretValueOutput{SecretString: aws.String(body)}, nil
}

func marshalSecret(t *testing.T, p secretPayload) string {
	t.Helper()
	b, err := json.Marshal(p)
	require.NoError(t, err)
	return string(b)
}

func TestVault_InitializeEmptyTopicsYieldsEmptyList(t *testing.T) {
	v := New("test-1", &fakeSecretsClient{}, nil, log.NewNopLogger())
	out, err := v.Initialize(context.Background(), blockstorage.Directive{})
	require.NoError(t, err)
	require.Empty(t, out)
}

func TestVault_InitializeResolvesOnePerTopic(t *testing.T) {
	secretBody := marshalSecret(t, secretPayload{SecurityProtocol: "SASL_SSL", JAASConfig: "secret-jaas"})
	client := &fakeSecretsClient{bySecretName: map[string]string{
		"testprobe/kafka/orders": secretBody,
	}}
	v := New("test-1", client, nil, log.NewNopLogger())

	directive := blockstorage.Directive{Topics: []kafka.TopicDirective{{Topic: "orders", Role: kafka.RoleProducer}}}
	out, err := v.Initialize(context.Background(), directive)

	require.NoError(t, err)
	require.Len(t, out, 1)
	require.Equal(t, "orders", out[0].Topic)
	require.Equal(t, kafka.ProtocolSASLSSL, out[0].SecurityProtocol)
	require.Equal(t, "secret-jaas", out[0].JAASConfig)
}

func TestVault_InitializeBackendFailureIsRedacted(t *testing.T) {
	client := &fakeSecretsClient{err: errors.New("AccessDeniedException: arn:aws:secretsmanager:us-east-1:123:secret:testprobe/kafka/orders-abcdef contains sensitive-jaas-content")}
	v := New("test-1", client, nil, log.NewNopLogger())

	directive := blockstorage.Directive{Topics: []kafka.TopicDirective{{Topic: "orders"}}}
	_, err := v.Initialize(context.Background(), directive)

	require.Error(t, err)
	var transientErr *apperrors.TransientIoError
	require.ErrorAs(t, err, &transientErr)
	require.NotContains(t, err.Error(), "sensitive-jaas-content")
	require.Contains(t, err.Error(), "test-1")
}

func TestVault_StopBeforeInitializeIsNoop(t *testing.T) {
	v := New("test-1", &fakeSecretsClient{}, nil, log.NewNopLogger())
	v.Stop()
}
