// Copyright 2025 Jinn Network
package providers

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/Jinn-Network/jinn-node-sub004/pkg/blueprint"
	"github.com/Jinn-Network/jinn-node-sub004/pkg/config"
	"github.com/Jinn-Network/jinn-node-sub004/pkg/domain"
)

func missionInvariant(id string) blueprint.Invariant {
	return blueprint.Invariant{Kind: blueprint.KindBoolean, ID: id, Condition: "x", Assessment: "y"}
}

func TestChain_AggregatesMissionInvariants(t *testing.T) {
	bp := blueprint.Blueprint{Invariants: []blueprint.Invariant{
		missionInvariant("JOB-1"), missionInvariant("GOAL-1"),
	}}
	jc := domain.JobContext{Request: domain.Request{ID: "0x1"}}
	cfg := &config.Config{}

	built, err := Chain(Default(bp), jc, cfg)
	require.NoError(t, err)

	mission := MissionInvariants(built)
	ids := make([]string, 0, len(mission))
	for _, m := range mission {
		ids = append(ids, m.ID)
	}
	require.Contains(t, ids, "JOB-1")
	require.Contains(t, ids, "GOAL-1")
}

func TestChain_InvalidInvariantProducesInvalidBlueprintError(t *testing.T) {
	badProvider := fakeProvider{domain: DomainJob, invariants: []blueprint.Invariant{
		{Kind: blueprint.KindFloor, ID: "JOB-BAD"}, // FLOOR requires metric+min
	}}
	jc := domain.JobContext{Request: domain.Request{ID: "0x1"}}
	cfg := &config.Config{}

	_, err := Chain([]Provider{badProvider}, jc, cfg)
	require.Equal(t, domain.ErrInvalidBlueprint, domain.CodeOf(err))
}

func TestStrategyProvider_InjectsDecomposeWhenFourMissionInvariantsAndNoCompletedChild(t *testing.T) {
	bp := blueprint.Blueprint{Invariants: []blueprint.Invariant{
		missionInvariant("JOB-1"), missionInvariant("JOB-2"), missionInvariant("GOAL-1"), missionInvariant("OUT-1"),
	}}
	jc := domain.JobContext{
		Request:   domain.Request{ID: "0x1"},
		Hierarchy: domain.Hierarchy{Root: "root", Nodes: map[string]*domain.HierarchyNode{"root": {Status: domain.HierarchyActive}}},
	}
	cfg := &config.Config{}

	built, err := Chain(Default(bp), jc, cfg)
	require.NoError(t, err)

	found := false
	for _, inv := range built.ByDomain[DomainStrategy] {
		if inv.ID == "STRAT-DECOMPOSE" {
			found = true
		}
	}
	require.True(t, found)
}

func TestStrategyProvider_SkipsDecomposeWhenChildAlreadyCompleted(t *testing.T) {
	bp := blueprint.Blueprint{Invariants: []blueprint.Invariant{
		missionInvariant("JOB-1"), missionInvariant("JOB-2"), missionInvariant("GOAL-1"), missionInvariant("OUT-1"),
	}}
	jc := domain.JobContext{
		Request: domain.Request{ID: "0x1"},
		Hierarchy: domain.Hierarchy{Root: "root", Nodes: map[string]*domain.HierarchyNode{
			"root":  {Status: domain.HierarchyActive},
			"child": {Status: domain.HierarchyCompleted},
		}},
	}
	cfg := &config.Config{}

	built, err := Chain(Default(bp), jc, cfg)
	require.NoError(t, err)
	require.Empty(t, built.ByDomain[DomainStrategy])
}

func TestRecoveryProvider_CitesPriorFailureAndBoundsAttempts(t *testing.T) {
	bp := blueprint.Blueprint{}
	jc := domain.JobContext{
		Request:      domain.Request{ID: "0x1"},
		LoopRecovery: &domain.LoopRecovery{Attempt: 2, LoopMessage: "agent looped on step 3"},
	}
	cfg := &config.Config{}

	built, err := Chain(Default(bp), jc, cfg)
	require.NoError(t, err)

	recov := built.ByDomain[DomainRecovery]
	require.Len(t, recov, 1)
	require.Equal(t, "RECOV-LOOP", recov[0].ID)
	require.Equal(t, float64(maxRecoveryAttempts), *recov[0].Max)
	require.Contains(t, recov[0].Assessment, "agent looped on step 3")
}

type fakeProvider struct {
	domain     Domain
	invariants []blueprint.Invariant
}

func (f fakeProvider) Domain() Domain                 { return f.domain }
func (f fakeProvider) Enabled(cfg *config.Config) bool { return true }
func (f fakeProvider) Provide(jc domain.JobContext, built *BuiltContext, cfg *config.Config) []blueprint.Invariant {
	return f.invariants
}
