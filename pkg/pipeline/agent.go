// Copyright 2025 Jinn Network
//
// Agent subprocess I/O contract: framed JSON records over stdout, parsed
// incrementally so the final record is captured even if the process exits
// abnormally (spec §9 design note "Agent I/O contract"). Grounded on
// pkg/execution/unified_adapter.go's subprocess-framing read loop.
package pipeline

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"time"

	"github.com/Jinn-Network/jinn-node-sub004/pkg/domain"
)

// AgentRunSpec is everything the pipeline supplies to the agent subprocess
// (spec §4.6 "Agent invocation", §6 "Agent subprocess").
type AgentRunSpec struct {
	Prompt        string
	EnabledTools  []string
	Environment   map[string]string
	WorkspaceDir  string // read-only workspace
	WallClockTimeout time.Duration
}

// AgentRunner invokes the agent and returns its final structured record.
type AgentRunner interface {
	Run(ctx context.Context, spec AgentRunSpec) (domain.ExecutionResult, error)
}

// agentRecord is one line of the agent's framed JSON output (spec §6).
type agentRecord struct {
	Output                  string          `json:"output"`
	StructuredSummary       string          `json:"structuredSummary"`
	JobInstanceStatusUpdate string          `json:"jobInstanceStatusUpdate"`
	Telemetry               agentTelemetry  `json:"telemetry"`
}

type agentTelemetry struct {
	ToolCalls []agentToolCall `json:"toolCalls"`
}

type agentToolCall struct {
	Tool       string                 `json:"tool"`
	Success    bool                   `json:"success"`
	DurationMS int64                  `json:"duration_ms"`
	Error      string                 `json:"error"`
	Result     map[string]interface{} `json:"result"`
}

// SubprocessAgent runs the agent as an external binary, matching the
// teacher's argv-only subprocess convention used elsewhere for git (no shell
// interpolation).
type SubprocessAgent struct {
	Binary string
}

// Run implements AgentRunner. The prompt is written to stdin; stdout is
// parsed one JSON line at a time, and the last line that parses successfully
// is kept as the final record, so a crash mid-stream still yields whatever
// the agent had reported up to that point.
func (a *SubprocessAgent) Run(ctx context.Context, spec AgentRunSpec) (domain.ExecutionResult, error) {
	runCtx := ctx
	var cancel context.CancelFunc
	if spec.WallClockTimeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, spec.WallClockTimeout)
		defer cancel()
	}

	cmd := exec.CommandContext(runCtx, a.Binary)
	cmd.Env = envSlice(spec.Environment, spec.EnabledTools)
	cmd.Dir = spec.WorkspaceDir
	cmd.Stdin = bytes.NewBufferString(spec.Prompt)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return domain.ExecutionResult{}, fmt.Errorf("attach agent stdout: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return domain.ExecutionResult{}, fmt.Errorf("start agent: %w", err)
	}

	var last agentRecord
	haveRecord := false
	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 0, 64*1024), 8*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(bytes.TrimSpace(line)) == 0 {
			continue
		}
		var rec agentRecord
		if err := json.Unmarshal(line, &rec); err != nil {
			continue // non-JSON diagnostic line, not the contract's frame
		}
		last = rec
		haveRecord = true
	}

	waitErr := cmd.Wait()
	if runCtx.Err() == context.DeadlineExceeded {
		return domain.ExecutionResult{}, domain.NewTaggedError(domain.ErrAgentTimeout, "", "pipeline.agent", runCtx.Err())
	}
	if !haveRecord {
		if waitErr != nil {
			return domain.ExecutionResult{}, fmt.Errorf("agent exited with no parseable output: %w", waitErr)
		}
		return domain.ExecutionResult{}, fmt.Errorf("agent produced no parseable output")
	}

	return toExecutionResult(last), nil
}

func toExecutionResult(rec agentRecord) domain.ExecutionResult {
	calls := make([]domain.ToolCallTrace, 0, len(rec.Telemetry.ToolCalls))
	for _, c := range rec.Telemetry.ToolCalls {
		calls = append(calls, domain.ToolCallTrace{
			Tool:       c.Tool,
			Success:    c.Success,
			DurationMS: c.DurationMS,
			Error:      c.Error,
			Result:     c.Result,
		})
	}
	return domain.ExecutionResult{
		Output:              rec.Output,
		StructuredSummary:   rec.StructuredSummary,
		AgentReportedStatus: rec.JobInstanceStatusUpdate,
		ToolCalls:           calls,
	}
}

// envSlice renders the job-identity context and tool lists as KEY=VALUE
// pairs (spec §6 "Input env vars"). Arrays are JSON-encoded, matching the
// contract's "(encoded as JSON when array)".
func envSlice(env map[string]string, enabledTools []string) []string {
	out := append([]string{}, os.Environ()...)
	for k, v := range env {
		out = append(out, k+"="+v)
	}
	if toolsJSON, err := json.Marshal(enabledTools); err == nil {
		out = append(out, "ENABLED_TOOLS="+string(toolsJSON))
	}
	return out
}
