// Copyright 2025 Jinn Network
//
// Lineage bookkeeping: parent-verification, cyclic-run, and loop-recovery
// re-dispatch (spec §4.7 step 5). Each is a best-effort on-chain follow-up
// request; failures are logged non-fatally since the just-completed
// delivery already settled.
package delivery

import (
	"context"

	"github.com/Jinn-Network/jinn-node-sub004/pkg/domain"
)

const maxLoopRecoveryAttempts = 3

// ScheduleFollowUps evaluates the three lineage rules against the job that
// just delivered and dispatches whichever apply (spec §4.7 step 5). Any
// number of rules may fire independently — they are not mutually exclusive.
func (s *Service) ScheduleFollowUps(ctx context.Context, jc domain.JobContext, status domain.DeliveryStatus, loopTerminatedMessage string) {
	if s.followUps == nil {
		return
	}
	s.scheduleParentVerification(ctx, jc)
	s.scheduleCycleRun(ctx, jc, status)
	s.scheduleLoopRecovery(ctx, jc, status, loopTerminatedMessage)
}

// scheduleParentVerification dispatches a verification run for the parent
// job definition once it has no more pending children (spec §4.7 step 5,
// first bullet).
func (s *Service) scheduleParentVerification(ctx context.Context, jc domain.JobContext) {
	if s.lineage == nil {
		return
	}
	parentID, ok := s.lineage.ParentOf(ctx, jc.Metadata.JobDefinitionID)
	if !ok {
		return
	}
	pending, err := s.lineage.ParentHasPendingChildren(ctx, parentID, jc.Metadata.JobDefinitionID)
	if err != nil {
		s.logger.Printf("check pending children of parent %s: %v", parentID, err)
		return
	}
	if pending {
		return
	}
	additionalContext := map[string]interface{}{"verificationRequired": true}
	if err := s.followUps.DispatchFollowUp(ctx, parentID, additionalContext); err != nil {
		s.logger.Printf("dispatch parent verification for %s: %v", parentID, err)
	}
}

// scheduleCycleRun dispatches a new cycle run of the same job definition
// when the job is cyclic and completed (spec §4.7 step 5, second bullet).
func (s *Service) scheduleCycleRun(ctx context.Context, jc domain.JobContext, status domain.DeliveryStatus) {
	if !jc.Metadata.Cyclic || status != domain.StatusCompleted {
		return
	}
	cycleNum := 1
	if jc.Cycle != nil {
		cycleNum = jc.Cycle.CycleNum + 1
	}
	additionalContext := map[string]interface{}{
		"cycle": map[string]interface{}{
			"isCycleRun": true,
			"cycleNum":   cycleNum,
		},
	}
	if err := s.followUps.DispatchFollowUp(ctx, jc.Metadata.JobDefinitionID, additionalContext); err != nil {
		s.logger.Printf("dispatch cycle run for %s: %v", jc.Metadata.JobDefinitionID, err)
	}
}

// scheduleLoopRecovery dispatches a recovery run, bounded to
// maxLoopRecoveryAttempts, carrying the terminating cause forward (spec §4.7
// step 5 third bullet, testable property / scenario S6).
func (s *Service) scheduleLoopRecovery(ctx context.Context, jc domain.JobContext, status domain.DeliveryStatus, loopTerminatedMessage string) {
	if status != domain.StatusFailed || loopTerminatedMessage == "" {
		return
	}
	attempt := 1
	if jc.LoopRecovery != nil {
		attempt = jc.LoopRecovery.Attempt + 1
	}
	if attempt > maxLoopRecoveryAttempts {
		s.logger.Printf("loop recovery for %s exhausted %d attempts, not re-dispatching", jc.Metadata.JobDefinitionID, maxLoopRecoveryAttempts)
		return
	}
	additionalContext := map[string]interface{}{
		"loopRecovery": map[string]interface{}{
			"attempt":     attempt,
			"loopMessage": loopTerminatedMessage,
		},
	}
	if err := s.followUps.DispatchFollowUp(ctx, jc.Metadata.JobDefinitionID, additionalContext); err != nil {
		s.logger.Printf("dispatch loop recovery for %s: %v", jc.Metadata.JobDefinitionID, err)
	}
}
