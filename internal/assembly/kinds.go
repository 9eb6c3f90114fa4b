package assembly

// Kind identifies the role a contributed Module plays in the assembly.
// The five kinds in requiredKinds must all be present before Build runs;
// KindExternalBehavior may appear zero or more times.
type Kind string

const (
	KindConfig          Kind = "config"
	KindActorRuntime    Kind = "actor-runtime"
	KindIngress         Kind = "ingress"
	KindObjectStorage   Kind = "object-storage"
	KindSecretVault     Kind = "secret-vault"
	KindExternalBehavior Kind = "external-behavior"
)

// requiredKinds is the fixed set the Registry enforces is present before
// any phase runs. Order here is not significant; phase ordering lives in
// registry.go's initializeOrder.
var requiredKinds = []Kind{
	KindConfig,
	KindActorRuntime,
	KindIngress,
	KindObjectStorage,
	KindSecretVault,
}
