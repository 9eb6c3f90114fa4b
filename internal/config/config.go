// Package config defines the root configuration tree the Config module
// (C1, KindConfig) validates and hands into the build context. Field
// names double as the "namespaced key tree" spec.md §6 describes: every
// key the core consumes (actor system name/timeouts, queue bounds,
// Kafka bootstrap servers, schema-registry URL, REST host/port/timeout)
// lives here, grounded on the teacher's flat-Config-plus-sub-Config
// convention (cmd/tempo/app/config.go).
package config

import (
	"flag"
	"fmt"
	"time"

	"github.com/testprobe/testprobe/internal/blockstorage/backend/azureblob"
	"github.com/testprobe/testprobe/internal/blockstorage/backend/gcs"
	"github.com/testprobe/testprobe/internal/blockstorage/backend/localfs"
	"github.com/testprobe/testprobe/internal/blockstorage/backend/s3"
	"github.com/testprobe/testprobe/internal/guardian"
	"github.com/testprobe/testprobe/internal/ingress"
	pkglog "github.com/testprobe/testprobe/pkg/log"
	"github.com/testprobe/testprobe/internal/queue"
	"github.com/testprobe/testprobe/internal/testexecution"
)

// Config is the root config tree, loaded from YAML and overridable by
// flags, matching the teacher's RegisterFlagsAndApplyDefaults pattern.
type Config struct {
	ActorSystemName   string        `yaml:"actor_system_name,omitempty"`
	ShutdownTimeout   time.Duration `yaml:"shutdown_timeout,omitempty"`
	RestartMaxPerMin  int           `yaml:"restart_max_per_min,omitempty"`
	CucumberWorkers   int           `yaml:"cucumber_workers,omitempty"`

	Log      pkglog.Config   `yaml:"log,omitempty"`
	Queue    queue.Config    `yaml:"queue,omitempty"`
	Execution testexecution.Config `yaml:"execution,omitempty"`
	Ingress  ingress.Config  `yaml:"ingress,omitempty"`

	ObjectStorage ObjectStorageConfig `yaml:"object_storage,omitempty"`
	Vault         VaultConfig         `yaml:"vault,omitempty"`
	Kafka         KafkaConfig         `yaml:"kafka,omitempty"`
}

// ObjectStorageConfig picks one of the localfs/s3/gcs/azureblob backends
// (spec.md §2's "module variants AWS/Azure/GCP"); Backend selects which
// of the nested configs is live.
type ObjectStorageConfig struct {
	Backend string `yaml:"backend,omitempty"` // "localfs", "s3", "gcs", "azureblob"

	LocalFS localfs.Config   `yaml:"localfs,omitempty"`
	S3      s3.Config        `yaml:"s3,omitempty"`
	GCS     gcs.Config       `yaml:"gcs,omitempty"`
	Azure   azureblob.Config `yaml:"azureblob,omitempty"`
}

// VaultConfig configures the secrets-manager-backed Vault child.
type VaultConfig struct {
	SecretPrefix string `yaml:"secret_prefix,omitempty"`
}

// KafkaConfig carries the bootstrap servers and schema-registry URL
// every Kafka group and the codec cache need.
type KafkaConfig struct {
	BootstrapServers   []string `yaml:"bootstrap_servers,omitempty"`
	SchemaRegistryURL  string   `yaml:"schema_registry_url,omitempty"`
	AutoRegisterSchema bool     `yaml:"auto_register_schema,omitempty"` // test-flag only; disabled in production
}

// NewDefaultConfig returns a Config with every flag default applied,
// matching the teacher's NewDefaultConfig helper.
func NewDefaultConfig() *Config {
	c := &Config{}
	fs := flag.NewFlagSet("", flag.PanicOnError)
	c.RegisterFlagsAndApplyDefaults("", fs)
	return c
}

// RegisterFlagsAndApplyDefaults registers every flag this service
// reads and applies its default value.
func (c *Config) RegisterFlagsAndApplyDefaults(prefix string, f *flag.FlagSet) {
	c.ActorSystemName = "testprobe"
	c.ShutdownTimeout = 30 * time.Second
	c.RestartMaxPerMin = 3
	c.CucumberWorkers = 10

	f.StringVar(&c.ActorSystemName, prefix+"actor-system-name", c.ActorSystemName, "Name of the process-wide actor system.")
	f.DurationVar(&c.ShutdownTimeout, prefix+"shutdown-timeout", c.ShutdownTimeout, "Grace period for in-flight tests during shutdown.")
	f.IntVar(&c.RestartMaxPerMin, prefix+"guardian.restart-max-per-min", c.RestartMaxPerMin, "Guardian's restart budget for the Queue, per minute.")
	f.IntVar(&c.CucumberWorkers, prefix+"cucumber-workers", c.CucumberWorkers, "Bounded worker pool size for concurrent godog suite execution.")

	c.Queue = queue.Config{MaxConcurrent: 10, MaxQueueDepth: 100}
	f.IntVar(&c.Queue.MaxConcurrent, prefix+"queue.max-concurrent", c.Queue.MaxConcurrent, "Maximum number of tests executing concurrently.")
	f.IntVar(&c.Queue.MaxQueueDepth, prefix+"queue.max-queue-depth", c.Queue.MaxQueueDepth, "Maximum number of admitted tests, running or pending.")

	c.Execution = testexecution.DefaultConfig()
	f.DurationVar(&c.Execution.SetupTimeout, prefix+"execution.setup-timeout", c.Execution.SetupTimeout, "Top-level timeout for a test's setup/barrier phase.")
	f.DurationVar(&c.Execution.StopTimeout, prefix+"execution.stop-timeout", c.Execution.StopTimeout, "Stop window for test executions (not applied: the FSM stops children synchronously without a time limit).")

	c.Ingress = ingress.DefaultConfig()
	f.StringVar(&c.Ingress.Host, prefix+"ingress.host", c.Ingress.Host, "REST ingress bind host.")
	f.IntVar(&c.Ingress.Port, prefix+"ingress.port", c.Ingress.Port, "REST ingress bind port.")
	f.DurationVar(&c.Ingress.RequestTimeout, prefix+"ingress.request-timeout", c.Ingress.RequestTimeout, "Per-request timeout for REST ingress handlers.")

	c.ObjectStorage.Backend = "localfs"
	f.StringVar(&c.ObjectStorage.Backend, prefix+"object-storage.backend", c.ObjectStorage.Backend, "Object storage backend: localfs, s3, gcs, or azureblob.")
	f.StringVar(&c.ObjectStorage.LocalFS.Root, prefix+"object-storage.localfs.root", "./data/objects", "Root directory for the localfs backend.")
	f.StringVar(&c.ObjectStorage.S3.Region, prefix+"object-storage.s3.region", "", "AWS region for the S3 backend.")
	f.StringVar(&c.ObjectStorage.S3.Endpoint, prefix+"object-storage.s3.endpoint", "", "Override endpoint for the S3 backend (for S3-compatible stores).")
	f.StringVar(&c.ObjectStorage.Azure.ServiceURL, prefix+"object-storage.azureblob.service-url", "", "Azure Blob service URL.")

	f.StringVar(&c.Vault.SecretPrefix, prefix+"vault.secret-prefix", "testprobe/kafka", "Prefix under which per-topic Kafka credentials are stored.")

	f.StringVar(&c.Kafka.SchemaRegistryURL, prefix+"kafka.schema-registry-url", "", "Schema registry base URL.")
	f.BoolVar(&c.Kafka.AutoRegisterSchema, prefix+"kafka.auto-register-schema", false, "Enable schema auto-registration (test use only).")
}

// Validate checks the non-derivable invariants spec.md §6 calls out:
// Kafka bootstrap servers must be non-empty.
func (c *Config) Validate() error {
	if len(c.Kafka.BootstrapServers) == 0 {
		return fmt.Errorf("kafka.bootstrap_servers must be non-empty")
	}
	if c.ObjectStorage.Backend == "" {
		return fmt.Errorf("object_storage.backend must be set")
	}
	return nil
}

// RestartPolicy derives the Guardian restart policy from the flat
// restart_max_per_min key.
func (c *Config) RestartPolicy() guardian.RestartPolicy {
	return guardian.RestartPolicy{MaxRestarts: c.RestartMaxPerMin, Window: time.Minute}
}
