package assembly

// Context is the opaque value threaded between lifecycle phases. It is
// never mutated in place: every enrichment returns a new Context holding
// a shallow copy of the previous one plus the added entry, so that a
// step can never observe a later step's contribution and "by the time
// any component runs its initialize step, all components it depends on
// have completed their validate step" (the ordering invariant) is a
// property of phase sequencing, not of Context aliasing.
type Context struct {
	values map[string]any
}

// NewContext returns the empty build context Validate starts from.
func NewContext() Context {
	return Context{values: map[string]any{}}
}

// With returns a new Context equal to c plus key=val.
func (c Context) With(key string, val any) Context {
	next := make(map[string]any, len(c.values)+1)
	for k, v := range c.values {
		next[k] = v
	}
	next[key] = val
	return Context{values: next}
}

// Get returns the value stored under key and whether it was present.
func (c Context) Get(key string) (any, bool) {
	v, ok := c.values[key]
	return v, ok
}

// Well-known context keys populated by the core modules, read and
// written through With/Get. The string keys exist so third-party
// ExternalBehavior modules can interoperate without importing every
// concrete type.
const (
	KeyConfig          = "config"
	KeyCoreConfig      = "core-config"
	KeyRuntimeRoot     = "runtime-root"
	KeyQueueHandle     = "queue-handle"
	KeyServiceFuncs    = "service-funcs"
	KeyDSLRegistry     = "dsl-registry"
	KeyObjectStorageFn = "object-storage-fn"
	KeySecretVaultFn   = "secret-vault-fn"
)
