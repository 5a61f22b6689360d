// Copyright 2025 Jinn Network
//
// Package providers implements the invariant-provider prompt machine (spec
// §4.6 "Prompt build"): a fixed-order chain of pure functions, each
// contributing zero or more invariants under a domain name, composed into the
// final prompt. Grounded on pkg/strategy/registry.go's registry-of-strategies
// shape, adapted from chain/attestation strategy selection to invariant
// provider selection.
package providers

import (
	"fmt"

	"github.com/Jinn-Network/jinn-node-sub004/pkg/blueprint"
	"github.com/Jinn-Network/jinn-node-sub004/pkg/config"
	"github.com/Jinn-Network/jinn-node-sub004/pkg/domain"
)

// Domain names an invariant provider contributes under (spec §4.6).
type Domain string

const (
	DomainSystem      Domain = "system"
	DomainJob         Domain = "job"
	DomainLearning    Domain = "learning"
	DomainCoordination Domain = "coordination"
	DomainState       Domain = "state"
	DomainStrategy    Domain = "strategy"
	DomainRecovery    Domain = "recovery"
	DomainTooling     Domain = "tooling"
	DomainQuality     Domain = "quality"
	DomainOutput      Domain = "output"
	DomainCycle       Domain = "cycle"
)

// BuiltContext accumulates invariants across providers in dependency order;
// later providers may read what earlier ones emitted (spec §4.6 "later
// providers may read the accumulated context").
type BuiltContext struct {
	ByDomain map[Domain][]blueprint.Invariant
}

func newBuiltContext() *BuiltContext {
	return &BuiltContext{ByDomain: make(map[Domain][]blueprint.Invariant)}
}

// All flattens every domain's invariants in provider order.
func (b *BuiltContext) All() []blueprint.Invariant {
	var out []blueprint.Invariant
	for _, d := range order {
		out = append(out, b.ByDomain[d]...)
	}
	return out
}

// Provider is a pure function of (jobContext, accumulated context, config)
// contributing invariants under its own Domain (spec §4.6).
type Provider interface {
	Domain() Domain
	Enabled(cfg *config.Config) bool
	Provide(jc domain.JobContext, built *BuiltContext, cfg *config.Config) []blueprint.Invariant
}

// order is the fixed dependency order providers run in (spec §4.6
// "system → job → learning → coordination → state → strategy → recovery →
// tooling → quality → output → cycle").
var order = []Domain{
	DomainSystem, DomainJob, DomainLearning, DomainCoordination, DomainState,
	DomainStrategy, DomainRecovery, DomainTooling, DomainQuality, DomainOutput, DomainCycle,
}

// Chain runs the fixed provider set and returns the aggregated, validated
// invariant list, or an aggregated validation error list (spec §4.6: "invalid
// ⇒ aggregated error list, job fails with INVALID_BLUEPRINT").
func Chain(providers []Provider, jc domain.JobContext, cfg *config.Config) (*BuiltContext, error) {
	byDomain := make(map[Domain]Provider, len(providers))
	for _, p := range providers {
		byDomain[p.Domain()] = p
	}

	built := newBuiltContext()
	var validationErrs []error

	for _, d := range order {
		p, ok := byDomain[d]
		if !ok || !p.Enabled(cfg) {
			continue
		}
		emitted := p.Provide(jc, built, cfg)
		validated := make([]blueprint.Invariant, 0, len(emitted))
		for _, inv := range emitted {
			v, err := blueprint.Validate(inv)
			if err != nil {
				validationErrs = append(validationErrs, err)
				continue
			}
			validated = append(validated, v)
		}
		built.ByDomain[d] = validated
	}

	if len(validationErrs) > 0 {
		return built, domain.NewTaggedError(domain.ErrInvalidBlueprint, jc.Request.ID, "providers.chain", joinErrors(validationErrs))
	}
	return built, nil
}

func joinErrors(errs []error) error {
	msg := ""
	for i, e := range errs {
		if i > 0 {
			msg += "; "
		}
		msg += e.Error()
	}
	return fmt.Errorf("%s", msg)
}

// MissionInvariants returns the invariants the agent sees as its measurement
// set: mission-namespaced ids across every domain's contribution (spec §4.6:
// "Mission invariants ... are handed to the agent as the measurement set").
func MissionInvariants(built *BuiltContext) []blueprint.Invariant {
	var out []blueprint.Invariant
	for _, inv := range built.All() {
		if blueprint.NamespaceOf(inv.ID) == blueprint.NamespaceMission {
			out = append(out, inv)
		}
	}
	return out
}

// SystemInvariants returns the system-namespaced, directive-only invariants.
func SystemInvariants(built *BuiltContext) []blueprint.Invariant {
	var out []blueprint.Invariant
	for _, inv := range built.All() {
		if blueprint.NamespaceOf(inv.ID) == blueprint.NamespaceSystem {
			out = append(out, inv)
		}
	}
	return out
}
