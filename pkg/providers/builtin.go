// Copyright 2025 Jinn Network
package providers

import (
	"fmt"

	"github.com/Jinn-Network/jinn-node-sub004/pkg/blueprint"
	"github.com/Jinn-Network/jinn-node-sub004/pkg/config"
	"github.com/Jinn-Network/jinn-node-sub004/pkg/domain"
)

func floatPtr(f float64) *float64 { return &f }

// SystemProvider contributes the always-on directive invariants: identity,
// job naming, and environment disclosure (spec §4.6 "system" domain).
type SystemProvider struct{}

func (SystemProvider) Domain() Domain                    { return DomainSystem }
func (SystemProvider) Enabled(cfg *config.Config) bool    { return true }
func (SystemProvider) Provide(jc domain.JobContext, built *BuiltContext, cfg *config.Config) []blueprint.Invariant {
	return []blueprint.Invariant{
		{Kind: blueprint.KindBoolean, ID: "SYS-IDENTITY", Condition: "agent discloses no operator secrets", Assessment: "operator key material and environment secrets are never echoed in output"},
	}
}

// JobProvider contributes the mission invariants straight from the request's
// blueprint (spec §4.6 "job" domain).
type JobProvider struct {
	Blueprint blueprint.Blueprint
}

func (JobProvider) Domain() Domain                 { return DomainJob }
func (JobProvider) Enabled(cfg *config.Config) bool { return true }
func (p JobProvider) Provide(jc domain.JobContext, built *BuiltContext, cfg *config.Config) []blueprint.Invariant {
	return blueprint.MissionInvariants(p.Blueprint)
}

// LearningProvider surfaces the most recent measurement per invariant id as
// context the agent can read before attempting new work (spec §4.6
// "learning" domain, §4.6 step 3 fold).
type LearningProvider struct{}

func (LearningProvider) Domain() Domain                 { return DomainLearning }
func (LearningProvider) Enabled(cfg *config.Config) bool { return len(cfg.AgentBinary) > 0 }
func (LearningProvider) Provide(jc domain.JobContext, built *BuiltContext, cfg *config.Config) []blueprint.Invariant {
	if len(jc.Measurements) == 0 {
		return nil
	}
	return []blueprint.Invariant{
		{Kind: blueprint.KindBoolean, ID: "LEARN-PRIOR", Condition: fmt.Sprintf("%d prior measurement(s) exist for this workstream", len(jc.Measurements)), Assessment: "agent reviews prior measurements before proposing new work"},
	}
}

// CoordinationProvider surfaces sibling/child job status from the hierarchy
// so the agent avoids duplicating in-flight work (spec §4.6 "coordination" domain).
type CoordinationProvider struct{}

func (CoordinationProvider) Domain() Domain                 { return DomainCoordination }
func (CoordinationProvider) Enabled(cfg *config.Config) bool { return true }
func (CoordinationProvider) Provide(jc domain.JobContext, built *BuiltContext, cfg *config.Config) []blueprint.Invariant {
	active := 0
	for _, n := range jc.Hierarchy.Nodes {
		if n.Status == domain.HierarchyActive {
			active++
		}
	}
	if active == 0 {
		return nil
	}
	return []blueprint.Invariant{
		{Kind: blueprint.KindBoolean, ID: "COORD-ACTIVE", Condition: fmt.Sprintf("%d sibling/child job(s) currently active", active), Assessment: "agent checks active hierarchy nodes before re-dispatching overlapping work"},
	}
}

// StateProvider surfaces the resolved branch and workstream identity (spec
// §4.6 "state" domain).
type StateProvider struct{}

func (StateProvider) Domain() Domain                 { return DomainState }
func (StateProvider) Enabled(cfg *config.Config) bool { return true }
func (StateProvider) Provide(jc domain.JobContext, built *BuiltContext, cfg *config.Config) []blueprint.Invariant {
	return []blueprint.Invariant{
		{Kind: blueprint.KindBoolean, ID: "STATE-WORKSTREAM", Condition: fmt.Sprintf("workstream %s", jc.Metadata.WorkstreamID), Assessment: "agent operates within the declared workstream"},
	}
}

// StrategyProvider injects the "decompose and delegate" directive when the
// mission has accumulated enough invariants without any completed child work
// yet (spec §4.6 "Strategic invariants encode policy").
type StrategyProvider struct {
	MinMissionInvariantsForDecompose int
}

func (StrategyProvider) Domain() Domain                 { return DomainStrategy }
func (StrategyProvider) Enabled(cfg *config.Config) bool { return true }
func (p StrategyProvider) Provide(jc domain.JobContext, built *BuiltContext, cfg *config.Config) []blueprint.Invariant {
	threshold := p.MinMissionInvariantsForDecompose
	if threshold == 0 {
		threshold = 4
	}
	missionCount := len(MissionInvariants(built))
	if missionCount < threshold || hasCompletedChild(jc.Hierarchy) {
		return nil
	}
	return []blueprint.Invariant{
		{
			Kind:      blueprint.KindBoolean,
			ID:        "STRAT-DECOMPOSE",
			Condition: "mission has 4 or more invariants and no completed child job yet",
			Assessment: "agent decomposes the mission into child jobs and dispatches them rather than attempting everything in one run",
			Examples: []blueprint.Example{
				{Description: "dispatch a child job per independent invariant cluster", Positive: true},
				{Description: "attempt all invariants serially in a single unbounded run", Positive: false},
			},
		},
	}
}

func hasCompletedChild(h domain.Hierarchy) bool {
	for id, n := range h.Nodes {
		if id == h.Root {
			continue
		}
		if n.Status == domain.HierarchyCompleted {
			return true
		}
	}
	return false
}

// RecoveryProvider injects a bounded recovery invariant citing the previous
// loop-terminated failure message when the job context carries one (spec
// §4.6 "Loop-recovery provider ... bounds the recovery attempts to 3").
type RecoveryProvider struct{}

const maxRecoveryAttempts = 3

func (RecoveryProvider) Domain() Domain                 { return DomainRecovery }
func (RecoveryProvider) Enabled(cfg *config.Config) bool { return true }
func (RecoveryProvider) Provide(jc domain.JobContext, built *BuiltContext, cfg *config.Config) []blueprint.Invariant {
	if jc.LoopRecovery == nil {
		return nil
	}
	return []blueprint.Invariant{
		{
			Kind:      blueprint.KindCeiling,
			ID:        "RECOV-LOOP",
			Metric:    "recovery_attempt",
			Max:       floatPtr(float64(maxRecoveryAttempts)),
			Assessment: fmt.Sprintf("previous attempt %d failed: %s", jc.LoopRecovery.Attempt, jc.LoopRecovery.LoopMessage),
		},
	}
}

// ToolingProvider declares the required/available tool invariant, enabled
// only for coding jobs (spec §4.6 "A provider is skipped when its
// enabled(config) returns false (e.g., tooling provider only for coding jobs)").
type ToolingProvider struct{}

func (ToolingProvider) Domain() Domain { return DomainTooling }
func (ToolingProvider) Enabled(cfg *config.Config) bool {
	return true // gating on jc.Metadata.Code != nil happens in Provide since Enabled has no job context
}
func (ToolingProvider) Provide(jc domain.JobContext, built *BuiltContext, cfg *config.Config) []blueprint.Invariant {
	if jc.Metadata.Code == nil {
		return nil
	}
	return []blueprint.Invariant{
		{Kind: blueprint.KindBoolean, ID: "TOOL-GIT", Condition: "agent has git available", Assessment: "coding jobs require a working git sub-pipeline"},
	}
}

// QualityProvider contributes the output-quality floor invariants (spec
// §4.6 "quality" domain).
type QualityProvider struct{}

func (QualityProvider) Domain() Domain                 { return DomainQuality }
func (QualityProvider) Enabled(cfg *config.Config) bool { return true }
func (QualityProvider) Provide(jc domain.JobContext, built *BuiltContext, cfg *config.Config) []blueprint.Invariant {
	return []blueprint.Invariant{
		{Kind: blueprint.KindFloor, ID: "QUAL-COMPLETENESS", Metric: "completeness", Min: floatPtr(0.8), Assessment: "agent addresses every mission invariant before reporting completion"},
	}
}

// OutputProvider declares the structured-output contract (spec §4.6 "output" domain).
type OutputProvider struct{}

func (OutputProvider) Domain() Domain                 { return DomainOutput }
func (OutputProvider) Enabled(cfg *config.Config) bool { return true }
func (OutputProvider) Provide(jc domain.JobContext, built *BuiltContext, cfg *config.Config) []blueprint.Invariant {
	return []blueprint.Invariant{
		{Kind: blueprint.KindBoolean, ID: "OUT-STRUCTURED", Condition: "agent emits a structured summary and final status line", Assessment: "pipeline status inference depends on a parseable final status"},
	}
}

// CycleProvider marks cyclic-run dispatches so the agent knows it is
// re-entering a recurring venture cycle (spec §4.6 "cycle" domain, §4.7).
type CycleProvider struct{}

func (CycleProvider) Domain() Domain                 { return DomainCycle }
func (CycleProvider) Enabled(cfg *config.Config) bool { return true }
func (CycleProvider) Provide(jc domain.JobContext, built *BuiltContext, cfg *config.Config) []blueprint.Invariant {
	if jc.Cycle == nil || !jc.Cycle.IsCycleRun {
		return nil
	}
	return []blueprint.Invariant{
		{Kind: blueprint.KindBoolean, ID: "CYCLE-RUN", Condition: fmt.Sprintf("cycle %d", jc.Cycle.CycleNum), Assessment: "agent treats this run as a recurring venture cycle, not a one-off"},
	}
}

// Default returns the full, fixed-order provider set for bp (spec §4.6
// "prompt is assembled from a fixed set of invariant providers").
func Default(bp blueprint.Blueprint) []Provider {
	return []Provider{
		SystemProvider{},
		JobProvider{Blueprint: bp},
		LearningProvider{},
		CoordinationProvider{},
		StateProvider{},
		StrategyProvider{},
		RecoveryProvider{},
		ToolingProvider{},
		QualityProvider{},
		OutputProvider{},
		CycleProvider{},
	}
}
