// Copyright 2025 Jinn Network
package pipeline

import (
	"regexp"
	"strings"

	"github.com/Jinn-Network/jinn-node-sub004/pkg/domain"
)

var explicitStatusLine = regexp.MustCompile(`(?im)^\*{0,2}status\*{0,2}:?\*{0,2}\s*(COMPLETED|FAILED|DELEGATING|WAITING)\b`)

var inabilityPhrases = []string{
	"i cannot complete",
	"i am unable to complete",
	"unable to complete this task",
}

// ChildAggregator answers whether a given job definition id currently has
// any incomplete child (spec §4.6 "Status inference" step 3).
type ChildAggregator interface {
	HasIncompleteChild(jobDefinitionID string) bool
}

// InferStatus applies the precedence order from spec §4.6 "Status
// inference" / testable property 8: explicit agent-reported status beats a
// semantic scan, which beats child-aggregation, which beats the COMPLETED
// default.
func InferStatus(result domain.ExecutionResult, jobDefinitionID string, children ChildAggregator) (domain.DeliveryStatus, string) {
	if status, ok := explicitAgentStatus(result.AgentReportedStatus); ok {
		return status, result.StructuredSummary
	}

	if status, msg, ok := semanticScan(result.Output); ok {
		return status, msg
	}

	if dispatchedChild(result) {
		return domain.StatusDelegating, result.Output
	}
	if children != nil && children.HasIncompleteChild(jobDefinitionID) {
		return domain.StatusWaiting, result.Output
	}

	return domain.StatusCompleted, result.Output
}

// dispatchedChild reports whether the agent's telemetry shows a successful
// dispatch_new_job tool call, the signal for delegation inference (spec §4.6
// step 3, scenario S4).
func dispatchedChild(result domain.ExecutionResult) bool {
	for _, call := range result.ToolCalls {
		if call.Tool == "dispatch_new_job" && call.Success {
			return true
		}
	}
	return false
}

func explicitAgentStatus(reported string) (domain.DeliveryStatus, bool) {
	switch strings.ToUpper(strings.TrimSpace(reported)) {
	case string(domain.StatusCompleted):
		return domain.StatusCompleted, true
	case string(domain.StatusFailed):
		return domain.StatusFailed, true
	case string(domain.StatusDelegating):
		return domain.StatusDelegating, true
	case string(domain.StatusWaiting):
		return domain.StatusWaiting, true
	default:
		return "", false
	}
}

// semanticScan looks for an explicit "Status: COMPLETED|FAILED|DELEGATING|
// WAITING" line (matched case- and markdown-bold-insensitively) or an
// inability statement in free-form agent output (spec §4.6 step 2).
func semanticScan(output string) (domain.DeliveryStatus, string, bool) {
	if m := explicitStatusLine.FindStringSubmatch(output); m != nil {
		status := domain.DeliveryStatus(strings.ToUpper(m[1]))
		if status == domain.StatusFailed {
			return domain.StatusFailed, extractMessage(output), true
		}
		return status, output, true
	}
	lower := strings.ToLower(output)
	for _, phrase := range inabilityPhrases {
		if strings.Contains(lower, phrase) {
			return domain.StatusFailed, extractMessage(output), true
		}
	}
	return "", "", false
}

// extractMessage returns the first non-empty line of output, the message
// surfaced alongside a FAILED status.
func extractMessage(output string) string {
	for _, line := range strings.Split(output, "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed != "" {
			return trimmed
		}
	}
	return output
}
