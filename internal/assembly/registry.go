// Package assembly implements the three-phase module lifecycle that
// builds a running service out of independently contributed modules
// (config, actor runtime, ingress, object storage, secret vault, and
// zero-or-more external-behavior modules).
package assembly

import (
	"fmt"

	"github.com/testprobe/testprobe/internal/apperrors"
)

// Module is a unit of service construction. Validate inspects
// configuration and prerequisites without side effects. Initialize
// creates resources and enriches the build context with typed
// handles. Verify checks that the resources Initialize created are
// live. All three return the (possibly enriched) context they were
// given.
type Module interface {
	Kind() Kind
	Validate(Context) (Context, error)
	Initialize(Context) (Context, error)
	Verify(Context) (Context, error)
}

// Registry accumulates module contributions and drives them through
// Validate/Initialize/Verify in the fixed order the assembly invariant
// requires. Duplicate contributions of the same kind replace prior
// ones; contribution order is irrelevant to the outcome.
type Registry struct {
	modules map[Kind]Module
	extra   []Module // ExternalBehaviors, order of addition preserved
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{modules: make(map[Kind]Module)}
}

// Add contributes a module under the given kind. A second Add for the
// same required kind replaces the first. ExternalBehavior modules
// accumulate instead of replacing, since the kind is explicitly
// zero-or-more.
func (r *Registry) Add(m Module) {
	if m.Kind() == KindExternalBehavior {
		r.extra = append(r.extra, m)
		return
	}
	r.modules[m.Kind()] = m
}

// validateOrder and initializeOrder encode the total order in which
// modules of each required kind run during their respective phase.
// ExternalBehaviors are spliced in at the marked position.
var validateOrder = []Kind{KindConfig, KindObjectStorage, KindSecretVault, kindExternalMarker, KindActorRuntime, KindIngress}
var initializeOrder = []Kind{KindConfig, kindExternalMarker, KindActorRuntime, KindObjectStorage, KindSecretVault, KindIngress}

// kindExternalMarker is a placeholder kind used only to mark where in
// validateOrder/initializeOrder the ExternalBehavior modules run; it
// is never assigned to a real Module.
const kindExternalMarker Kind = "__external_marker__"

// Build drives every contributed module through Validate, Initialize,
// and Verify in the order §4.1 specifies. It fails fast: the first
// phase error aborts the build without running later modules or later
// phases. Build requires that all five required kinds have been
// contributed; a missing kind is an AssemblyError.
func (r *Registry) Build(ctx Context) (Context, error) {
	if err := r.checkRequired(); err != nil {
		return ctx, err
	}

	var err error
	ctx, err = r.runPhase(ctx, validateOrder, Module.Validate, "validate")
	if err != nil {
		return ctx, err
	}
	ctx, err = r.runPhase(ctx, initializeOrder, Module.Initialize, "initialize")
	if err != nil {
		return ctx, err
	}
	ctx, err = r.runPhase(ctx, initializeOrder, Module.Verify, "verify")
	if err != nil {
		return ctx, err
	}
	return ctx, nil
}

func (r *Registry) checkRequired() error {
	for _, k := range requiredKinds {
		if _, ok := r.modules[k]; !ok {
			return &apperrors.AssemblyError{Kind: string(k), Err: fmt.Errorf("required module kind %q not contributed", k)}
		}
	}
	return nil
}

func (r *Registry) runPhase(ctx Context, order []Kind, step func(Module, Context) (Context, error), phaseName string) (Context, error) {
	for _, k := range order {
		if k == kindExternalMarker {
			for _, m := range r.extra {
				var err error
				ctx, err = step(m, ctx)
				if err != nil {
					return ctx, &apperrors.AssemblyError{Kind: string(KindExternalBehavior), Err: fmt.Errorf("%s: %w", phaseName, err)}
				}
			}
			continue
		}
		m, ok := r.modules[k]
		if !ok {
			continue // optional required-kind absence already rejected by checkRequired
		}
		var err error
		ctx, err = step(m, ctx)
		if err != nil {
			return ctx, &apperrors.AssemblyError{Kind: string(k), Err: fmt.Errorf("%s: %w", phaseName, err)}
		}
	}
	return ctx, nil
}
