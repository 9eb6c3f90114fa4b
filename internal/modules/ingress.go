package modules

import (
	"fmt"
	"net"

	"github.com/testprobe/testprobe/internal/assembly"
	tpconfig "github.com/testprobe/testprobe/internal/config"
	"github.com/testprobe/testprobe/internal/ingress"
)

const keyIngressServer = "ingress-server"

// IngressModule is the KindIngress module: it builds and binds the REST
// server last, once the ActorRuntime module has an addressable Queue to
// forward requests to.
type IngressModule struct {
	cfg   tpconfig.Config
	build ingress.BuildInfo

	server *ingress.Server
	lis    net.Listener
}

// NewIngressModule wraps the root config and the build-info values
// exposed at /api/v1/buildinfo.
func NewIngressModule(cfg tpconfig.Config, build ingress.BuildInfo) *IngressModule {
	return &IngressModule{cfg: cfg, build: build}
}

func (m *IngressModule) Kind() assembly.Kind { return assembly.KindIngress }

func (m *IngressModule) Validate(ctx assembly.Context) (assembly.Context, error) {
	if m.cfg.Ingress.Port <= 0 {
		return ctx, fmt.Errorf("ingress.port must be positive")
	}
	return ctx, nil
}

func (m *IngressModule) Initialize(ctx assembly.Context) (assembly.Context, error) {
	v, ok := ctx.Get(assembly.KeyQueueHandle)
	if !ok {
		return ctx, fmt.Errorf("ingress: queue handle not in build context")
	}
	queueFacade, ok := v.(ingress.QueueFacade)
	if !ok {
		return ctx, fmt.Errorf("ingress: queue handle does not satisfy QueueFacade")
	}

	var reporter ingress.StatusReporter
	if rv, ok := ctx.Get(keyStatusReporter); ok {
		if r, ok := rv.(ingress.StatusReporter); ok {
			reporter = r
		}
	}

	m.server = ingress.NewServer(m.cfg.Ingress, queueFacade, reporter, m.build)
	lis, err := m.server.Listen()
	if err != nil {
		return ctx, fmt.Errorf("bind ingress listener: %w", err)
	}
	m.lis = lis
	ctx = ctx.With(keyIngressServer, m.server)
	return ctx, nil
}

func (m *IngressModule) Verify(ctx assembly.Context) (assembly.Context, error) {
	if m.lis == nil {
		return ctx, fmt.Errorf("ingress listener not bound")
	}
	return ctx, nil
}
