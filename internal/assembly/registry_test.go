package assembly

import (
	"testing"

	"github.com/stretchr/testify/require"
)

type recordingModule struct {
	kind  Kind
	calls *[]string
	name  string
	fail  string // phase name to fail, or "" for always succeed
}

func (m recordingModule) Kind() Kind { return m.kind }

func (m recordingModule) Validate(ctx Context) (Context, error) {
	*m.calls = append(*m.calls, m.name+":validate")
	if m.fail == "validate" {
		return ctx, errBoom
	}
	return ctx, nil
}

func (m recordingModule) Initialize(ctx Context) (Context, error) {
	*m.calls = append(*m.calls, m.name+":initialize")
	if m.fail == "initialize" {
		return ctx, errBoom
	}
	return ctx.With(m.name, true), nil
}

func (m recordingModule) Verify(ctx Context) (Context, error) {
	*m.calls = append(*m.calls, m.name+":verify")
	if m.fail == "verify" {
		return ctx, errBoom
	}
	return ctx, nil
}

var errBoom = errBoomType{}

type errBoomType struct{}

func (errBoomType) Error() string { return "boom" }

func newFullRegistry(calls *[]string) *Registry {
	r := NewRegistry()
	r.Add(recordingModule{kind: KindConfig, calls: calls, name: "config"})
	r.Add(recordingModule{kind: KindObjectStorage, calls: calls, name: "objectstorage"})
	r.Add(recordingModule{kind: KindSecretVault, calls: calls, name: "secretvault"})
	r.Add(recordingModule{kind: KindActorRuntime, calls: calls, name: "actorruntime"})
	r.Add(recordingModule{kind: KindIngress, calls: calls, name: "ingress"})
	r.Add(recordingModule{kind: KindExternalBehavior, calls: calls, name: "ext1"})
	r.Add(recordingModule{kind: KindExternalBehavior, calls: calls, name: "ext2"})
	return r
}

func TestRegistry_MissingRequiredKind(t *testing.T) {
	r := NewRegistry()
	r.Add(recordingModule{kind: KindConfig, calls: &[]string{}, name: "config"})

	_, err := r.Build(NewContext())
	require.Error(t, err)
}

func TestRegistry_ValidateOrder(t *testing.T) {
	var calls []string
	r := newFullRegistry(&calls)

	_, err := r.Build(NewContext())
	require.NoError(t, err)

	wantValidate := []string{
		"config:validate", "objectstorage:validate", "secretvault:validate",
		"ext1:validate", "ext2:validate", "actorruntime:validate", "ingress:validate",
	}
	require.Equal(t, wantValidate, calls[:len(wantValidate)])
}

func TestRegistry_InitializeAndVerifyOrder(t *testing.T) {
	var calls []string
	r := newFullRegistry(&calls)

	_, err := r.Build(NewContext())
	require.NoError(t, err)

	wantInit := []string{
		"config:initialize", "ext1:initialize", "ext2:initialize",
		"actorruntime:initialize", "objectstorage:initialize", "secretvault:initialize", "ingress:initialize",
	}
	wantVerify := []string{
		"config:verify", "ext1:verify", "ext2:verify",
		"actorruntime:verify", "objectstorage:verify", "secretvault:verify", "ingress:verify",
	}

	n := 7 // validate phase entries
	require.Equal(t, wantInit, calls[n:n+len(wantInit)])
	require.Equal(t, wantVerify, calls[n+len(wantInit):])
}

func TestRegistry_FailFastStopsLaterModules(t *testing.T) {
	var calls []string
	r := NewRegistry()
	r.Add(recordingModule{kind: KindConfig, calls: &calls, name: "config"})
	r.Add(recordingModule{kind: KindObjectStorage, calls: &calls, name: "objectstorage", fail: "validate"})
	r.Add(recordingModule{kind: KindSecretVault, calls: &calls, name: "secretvault"})
	r.Add(recordingModule{kind: KindActorRuntime, calls: &calls, name: "actorruntime"})
	r.Add(recordingModule{kind: KindIngress, calls: &calls, name: "ingress"})

	_, err := r.Build(NewContext())
	require.Error(t, err)
	require.Equal(t, []string{"config:validate", "objectstorage:validate"}, calls)
}

func TestRegistry_DuplicateContributionReplaces(t *testing.T) {
	var calls []string
	r := NewRegistry()
	r.Add(recordingModule{kind: KindConfig, calls: &calls, name: "config-v1"})
	r.Add(recordingModule{kind: KindConfig, calls: &calls, name: "config-v2"})
	r.Add(recordingModule{kind: KindObjectStorage, calls: &calls, name: "objectstorage"})
	r.Add(recordingModule{kind: KindSecretVault, calls: &calls, name: "secretvault"})
	r.Add(recordingModule{kind: KindActorRuntime, calls: &calls, name: "actorruntime"})
	r.Add(recordingModule{kind: KindIngress, calls: &calls, name: "ingress"})

	_, err := r.Build(NewContext())
	require.NoError(t, err)
	require.Contains(t, calls, "config-v2:validate")
	require.NotContains(t, calls, "config-v1:validate")
}
