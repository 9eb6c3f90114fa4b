// Package modules implements the five required assembly.Module kinds
// (spec.md §4.1): Config, ObjectStorage, SecretVault, ActorRuntime, and
// Ingress. Each wraps one concrete subsystem and threads its handles
// into the build context in the fixed Validate/Initialize/Verify order
// internal/assembly.Registry drives.
package modules

import (
	"fmt"

	"github.com/testprobe/testprobe/internal/assembly"
	"github.com/testprobe/testprobe/internal/config"
	pkglog "github.com/testprobe/testprobe/pkg/log"
)

// ConfigModule is the C1 KindConfig module. Validate checks the config
// is internally consistent; Initialize attaches it (and nothing derived
// beyond the logger, which has no separate handle worth a context key)
// to the build context and switches the process logger over to the
// configured level/format.
type ConfigModule struct {
	cfg *config.Config
}

// NewConfigModule wraps an already-loaded Config.
func NewConfigModule(cfg *config.Config) *ConfigModule { return &ConfigModule{cfg: cfg} }

func (m *ConfigModule) Kind() assembly.Kind { return assembly.KindConfig }

func (m *ConfigModule) Validate(ctx assembly.Context) (assembly.Context, error) {
	if err := m.cfg.Validate(); err != nil {
		return ctx, fmt.Errorf("config validation: %w", err)
	}
	return ctx, nil
}

func (m *ConfigModule) Initialize(ctx assembly.Context) (assembly.Context, error) {
	if err := pkglog.Init(m.cfg.Log); err != nil {
		return ctx, fmt.Errorf("init logger: %w", err)
	}
	ctx = ctx.With(assembly.KeyConfig, m.cfg)
	ctx = ctx.With(assembly.KeyCoreConfig, m.cfg) // single flat config tree; no separate "core" subset to peel off
	return ctx, nil
}

func (m *ConfigModule) Verify(ctx assembly.Context) (assembly.Context, error) {
	return ctx, nil
}
