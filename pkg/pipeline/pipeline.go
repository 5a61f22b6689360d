// Copyright 2025 Jinn Network
//
// Package pipeline implements C7, the hardest subsystem: the per-request
// state machine that turns a claimed request into a delivered artifact
// (spec §4.6). CLAIMED → CONTEXT_BUILT → PROMPT_BUILT → EXECUTING →
// {REFLECTING | FAILED} → ARTIFACTS_EXTRACTED → DELIVERED. Grounded on
// pkg/scheduler/scheduler.go's stage-sequenced run loop and
// pkg/execution/unified_adapter.go's subprocess-invocation wrapping.
package pipeline

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/Jinn-Network/jinn-node-sub004/pkg/blueprint"
	"github.com/Jinn-Network/jinn-node-sub004/pkg/config"
	"github.com/Jinn-Network/jinn-node-sub004/pkg/domain"
	"github.com/Jinn-Network/jinn-node-sub004/pkg/providers"
)

// ContextBuilder is C6's public surface (spec §4.6 "Context build").
type ContextBuilder interface {
	Build(ctx context.Context, request domain.Request) (domain.JobContext, error)
}

// GitOps is the coding-job git sub-pipeline surface the pipeline drives
// (spec §4.6 "Git sub-pipeline").
type GitOps interface {
	EnsureClone(ctx context.Context, code domain.CodeMetadata) (string, error)
	EnsureBranch(ctx context.Context, dir, jobDefinitionID, slug, baseBranch string) (string, error)
	CommitIfDirty(ctx context.Context, dir, summary string) (bool, error)
	PushWithRebaseRecovery(ctx context.Context, dir, branch string) error
}

// ArtifactPersister records an extracted artifact against its source
// request (spec §4.6 "Artifact extraction" persistence step).
type ArtifactPersister interface {
	CreateArtifact(ctx context.Context, requestID, cid, topic, name string) error
}

// Pipeline is the C7 execution pipeline. It stops at the terminal Outcome;
// submitting that outcome on-chain is pkg/delivery's job (cmd/worker wires
// Pipeline.Run's result into delivery.Service.Deliver).
type Pipeline struct {
	contextBuilder ContextBuilder
	agent          AgentRunner
	reflection     AgentRunner // optional second invocation; nil disables reflection
	gitops         GitOps      // optional; nil means no coding-job support wired
	artifacts      ArtifactPersister
	cfg            *config.Config
	logger         *log.Logger

	inFlight chan struct{}
}

// Option configures a Pipeline.
type Option func(*Pipeline)

func WithReflection(r AgentRunner) Option { return func(p *Pipeline) { p.reflection = r } }
func WithGitOps(g GitOps) Option          { return func(p *Pipeline) { p.gitops = g } }
func WithLogger(l *log.Logger) Option     { return func(p *Pipeline) { p.logger = l } }

// New constructs a Pipeline. inFlightCap bounds concurrent dispatches (spec
// §5 "configurable in-flight cap (default 1)").
func New(contextBuilder ContextBuilder, agent AgentRunner, artifacts ArtifactPersister, cfg *config.Config, inFlightCap int, opts ...Option) *Pipeline {
	if inFlightCap < 1 {
		inFlightCap = 1
	}
	p := &Pipeline{
		contextBuilder: contextBuilder,
		agent:          agent,
		artifacts:      artifacts,
		cfg:            cfg,
		logger:         log.New(log.Writer(), "[Pipeline] ", log.LstdFlags),
		inFlight:       make(chan struct{}, inFlightCap),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Outcome is the terminal result of one run; cmd/worker's dispatcher passes
// it to pkg/delivery to settle on chain.
type Outcome struct {
	Request      domain.Request
	JobContext   domain.JobContext
	Status       domain.DeliveryStatus
	Message      string
	Output       string
	Model        string
	Telemetry    []domain.ToolCallTrace
	ArtifactRefs []domain.ArtifactRef
	PRURL        string
	LoopMessage  string // non-empty only when status==FAILED by loop protection
}

// Run drives one request through CONTEXT_BUILT → PROMPT_BUILT → EXECUTING →
// {REFLECTING|FAILED} → ARTIFACTS_EXTRACTED and returns the terminal
// Outcome; it never submits the on-chain delivery itself, so this package
// stays free of a dependency on pkg/delivery.
func (p *Pipeline) Run(ctx context.Context, request domain.Request) (Outcome, error) {
	p.inFlight <- struct{}{}
	defer func() { <-p.inFlight }()

	jc, err := p.contextBuilder.Build(ctx, request)
	if err != nil {
		return p.failedOutcome(request, jc, err), nil
	}
	attachRedispatchContext(&jc)

	bp, parseErrs := blueprint.Parse(jc.Metadata.BlueprintJSON)
	if len(parseErrs) > 0 {
		err := domain.NewTaggedError(domain.ErrInvalidBlueprint, request.ID, "pipeline.blueprint", joinErrs(parseErrs))
		return p.failedOutcome(request, jc, err), nil
	}

	providerSet := providers.Default(bp)
	built, err := providers.Chain(providerSet, jc, p.cfg)
	if err != nil {
		return p.failedOutcome(request, jc, err), nil
	}

	prompt := renderPrompt(jc, built)
	enabledTools := unionTools(jc.EffectivePolicy)

	workspaceDir, branch, err := p.prepareWorkspace(ctx, jc)
	if err != nil {
		return p.failedOutcome(request, jc, err), nil
	}

	result, err := p.agent.Run(ctx, AgentRunSpec{
		Prompt:           prompt,
		EnabledTools:     enabledTools,
		Environment:      jobIdentityEnv(jc),
		WorkspaceDir:     workspaceDir,
		WallClockTimeout: p.cfg.AgentWallClockTimeout,
	})
	if err != nil {
		code := domain.CodeOf(err)
		if code == domain.ErrUnknown {
			code = domain.ErrAgentTimeout
		}
		return p.failedOutcome(request, jc, domain.NewTaggedError(code, request.ID, "pipeline.agent", err)), nil
	}

	status, message := InferStatus(result, jc.Metadata.JobDefinitionID, nil)
	loopMessage := loopTerminatedMessage(result, status)

	result.Artifacts = ExtractArtifacts(result)
	p.persistArtifacts(ctx, request.ID, result.Artifacts)

	prURL := ""
	if jc.Metadata.Code != nil && status == domain.StatusCompleted && workspaceDir != "" {
		prURL = p.runGitPostExecution(ctx, jc, workspaceDir, branch, result.StructuredSummary)
	}

	p.runReflection(ctx, jc, result, status)

	return Outcome{
		Request:      request,
		JobContext:   jc,
		Status:       status,
		Message:      message,
		Output:       result.Output,
		Model:        jc.Metadata.ModelHint,
		Telemetry:    result.ToolCalls,
		ArtifactRefs: result.Artifacts,
		PRURL:        prURL,
		LoopMessage:  loopMessage,
	}, nil
}

// failedOutcome translates a pipeline-stage error into a terminal FAILED
// outcome; the worker always writes a delivery payload, even for FAILED
// (spec §7 "User-visible failure").
func (p *Pipeline) failedOutcome(request domain.Request, jc domain.JobContext, err error) Outcome {
	p.logger.Printf("request %s failed: %v", request.ID, err)
	return Outcome{
		Request:    request,
		JobContext: jc,
		Status:     domain.StatusFailed,
		Message:    fmt.Sprintf("%s: %v", domain.CodeOf(err), err),
	}
}

// prepareWorkspace runs the git sub-pipeline's pre-execution steps for
// coding jobs (spec §4.6 "Git sub-pipeline": clone/fetch, ensure branch).
// Non-coding jobs return ("", "", nil).
func (p *Pipeline) prepareWorkspace(ctx context.Context, jc domain.JobContext) (dir, branch string, err error) {
	if jc.Metadata.Code == nil {
		return "", "", nil
	}
	if p.gitops == nil {
		return "", "", domain.NewTaggedError(domain.ErrUnknown, jc.Request.ID, "pipeline.gitops", fmt.Errorf("coding job requires git sub-pipeline, none configured"))
	}
	dir, err = p.gitops.EnsureClone(ctx, *jc.Metadata.Code)
	if err != nil {
		return "", "", err
	}
	slug := ""
	if jc.Metadata.Lineage != nil {
		slug = jc.Metadata.Lineage.Branch
	}
	branch, err = p.gitops.EnsureBranch(ctx, dir, jc.Metadata.JobDefinitionID, slug, jc.Metadata.Code.BaseBranch)
	if err != nil {
		return "", "", err
	}
	return dir, branch, nil
}

// runGitPostExecution commits and pushes after a COMPLETED coding job (spec
// §4.6 "Post-execution, auto-stage+commit", "Push with -u"). Commit and push
// failures, including a NON_FAST_FORWARD from a failed rebase recovery, are
// logged and return an empty URL; they do not change the job's delivery
// status (the work is still committed locally).
func (p *Pipeline) runGitPostExecution(ctx context.Context, jc domain.JobContext, dir, branch, summary string) string {
	committed, err := p.gitops.CommitIfDirty(ctx, dir, summary)
	if err != nil {
		p.logger.Printf("commit for %s: %v", jc.Request.ID, err)
		return ""
	}
	if !committed {
		return ""
	}
	if err := p.gitops.PushWithRebaseRecovery(ctx, dir, branch); err != nil {
		p.logger.Printf("push for %s: %v", jc.Request.ID, err)
		return ""
	}
	return compareURL(jc.Metadata.Code.RepositoryURL, jc.Metadata.Code.BaseBranch, branch)
}

// runReflection runs the optional second agent invocation with only the
// create-artifact tool available; its failure is never fatal (spec §4.6
// "Reflection").
func (p *Pipeline) runReflection(ctx context.Context, jc domain.JobContext, result domain.ExecutionResult, status domain.DeliveryStatus) {
	if !p.cfg.ReflectionEnabled || p.reflection == nil {
		return
	}
	prompt := reflectionPrompt(jc, result, status)
	_, err := p.reflection.Run(ctx, AgentRunSpec{
		Prompt:           prompt,
		EnabledTools:     []string{"create_artifact"},
		Environment:      jobIdentityEnv(jc),
		WallClockTimeout: p.cfg.AgentWallClockTimeout,
	})
	if err != nil {
		p.logger.Printf("reflection for %s: %v", jc.Request.ID, err)
	}
}

func (p *Pipeline) persistArtifacts(ctx context.Context, requestID domain.RequestID, refs []domain.ArtifactRef) {
	if p.artifacts == nil {
		return
	}
	for _, ref := range refs {
		if err := p.artifacts.CreateArtifact(ctx, string(requestID), ref.CID, ref.Topic, ref.Name); err != nil {
			p.logger.Printf("persist artifact %s/%s for %s: %v", ref.CID, ref.Topic, requestID, err)
		}
	}
}

// attachRedispatchContext folds a re-dispatched request's loopRecovery/cycle
// additional-context fields into the JobContext, since jobcontext.Builder
// leaves these nil by construction (they are only meaningful on a
// follow-up dispatch, spec §4.7 step 5).
func attachRedispatchContext(jc *domain.JobContext) {
	ac := jc.Metadata.AdditionalContext
	if ac == nil {
		return
	}
	if raw, ok := ac["loopRecovery"].(map[string]interface{}); ok {
		lr := &domain.LoopRecovery{}
		if attempt, ok := raw["attempt"].(float64); ok {
			lr.Attempt = int(attempt)
		}
		if msg, ok := raw["loopMessage"].(string); ok {
			lr.LoopMessage = msg
		}
		jc.LoopRecovery = lr
	}
	if raw, ok := ac["cycle"].(map[string]interface{}); ok {
		c := &domain.CycleInfo{}
		if isCycle, ok := raw["isCycleRun"].(bool); ok {
			c.IsCycleRun = isCycle
		}
		if num, ok := raw["cycleNum"].(float64); ok {
			c.CycleNum = int(num)
		}
		jc.Cycle = c
	}
}

// loopTerminatedMessage reports the loop-protection cause on a FAILED run:
// the first non-empty text after a "loop terminated:" marker in the agent's
// output (spec §4.6 "loop protection is the agent's concern and surfaced via
// telemetry", §4.7 step 5 third bullet).
func loopTerminatedMessage(result domain.ExecutionResult, status domain.DeliveryStatus) string {
	if status != domain.StatusFailed {
		return ""
	}
	lower := strings.ToLower(result.Output)
	const marker = "loop terminated:"
	idx := strings.Index(lower, marker)
	if idx < 0 {
		return ""
	}
	rest := result.Output[idx+len(marker):]
	for _, line := range strings.Split(rest, "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed != "" {
			return trimmed
		}
	}
	return ""
}

func joinErrs(errs []error) error {
	msgs := make([]string, len(errs))
	for i, e := range errs {
		msgs[i] = e.Error()
	}
	return fmt.Errorf("%s", strings.Join(msgs, "; "))
}

// unionTools is the effective tools list handed to the agent: required ∪
// available (spec §4.6 step 4).
func unionTools(policy domain.ToolPolicy) []string {
	seen := make(map[string]bool)
	var out []string
	for _, lists := range [][]string{policy.Required, policy.Available} {
		for _, t := range lists {
			if seen[t] {
				continue
			}
			seen[t] = true
			out = append(out, t)
		}
	}
	return out
}

// jobIdentityEnv renders the job-identity environment variables the agent
// subprocess expects (spec §6 "Input env vars").
func jobIdentityEnv(jc domain.JobContext) map[string]string {
	env := map[string]string{
		"JOB_ID":           string(jc.Request.ID),
		"JOB_DEFINITION_ID": jc.Metadata.JobDefinitionID,
		"JOB_NAME":         jc.Metadata.JobName,
		"WORKSTREAM_ID":    jc.Metadata.WorkstreamID,
		"REQUEST_ID":       string(jc.Request.ID),
		"MECH_ADDRESS":     jc.Request.Mech,
	}
	if jc.Metadata.Code != nil {
		env["BASE_BRANCH"] = jc.Metadata.Code.BaseBranch
		env["BRANCH_NAME"] = jc.Metadata.Code.BranchName
	}
	if jc.Metadata.ModelHint != "" {
		env["DEFAULT_MODEL"] = jc.Metadata.ModelHint
	}
	for k, v := range jc.Environment {
		env[k] = v
	}
	return env
}

// renderPrompt composes the fixed-order provider invariants and narrative
// guidance into the text handed to the agent subprocess (spec §4.6 "Prompt
// build").
func renderPrompt(jc domain.JobContext, built *providers.BuiltContext) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Job: %s (%s)\n", jc.Metadata.JobName, jc.Metadata.JobDefinitionID)
	if jc.LoopRecovery != nil {
		fmt.Fprintf(&b, "Recovery attempt %d of a prior run.\n", jc.LoopRecovery.Attempt)
	}
	if jc.Cycle != nil && jc.Cycle.IsCycleRun {
		fmt.Fprintf(&b, "This is cycle run #%d of a recurring job.\n", jc.Cycle.CycleNum)
	}
	b.WriteString("\nMission invariants to satisfy:\n")
	for _, inv := range providers.MissionInvariants(built) {
		writeInvariantLine(&b, inv)
	}
	b.WriteString("\nSystem directives:\n")
	for _, inv := range providers.SystemInvariants(built) {
		writeInvariantLine(&b, inv)
	}
	return b.String()
}

func writeInvariantLine(b *strings.Builder, inv blueprint.Invariant) {
	switch inv.Kind {
	case blueprint.KindFloor:
		fmt.Fprintf(b, "- [%s] %s >= %v: %s\n", inv.ID, inv.Metric, floatVal(inv.Min), inv.Assessment)
	case blueprint.KindCeiling:
		fmt.Fprintf(b, "- [%s] %s <= %v: %s\n", inv.ID, inv.Metric, floatVal(inv.Max), inv.Assessment)
	case blueprint.KindRange:
		fmt.Fprintf(b, "- [%s] %v <= %s <= %v: %s\n", inv.ID, floatVal(inv.Min), inv.Metric, floatVal(inv.Max), inv.Assessment)
	case blueprint.KindBoolean:
		fmt.Fprintf(b, "- [%s] %s: %s\n", inv.ID, inv.Condition, inv.Assessment)
	}
	for _, ex := range inv.Examples {
		mark := "don't"
		if ex.Positive {
			mark = "do"
		}
		fmt.Fprintf(b, "  (%s: %s)\n", mark, ex.Description)
	}
}

func floatVal(f *float64) float64 {
	if f == nil {
		return 0
	}
	return *f
}

// reflectionPrompt builds the short summary+telemetry prompt for the
// optional reflection pass (spec §4.6 "Reflection").
func reflectionPrompt(jc domain.JobContext, result domain.ExecutionResult, status domain.DeliveryStatus) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Job %s finished with status %s.\n", jc.Metadata.JobDefinitionID, status)
	b.WriteString("Summary: ")
	b.WriteString(result.StructuredSummary)
	b.WriteString("\n")
	fmt.Fprintf(&b, "Tool calls: %d, failures: %d\n", len(result.ToolCalls), countFailures(result.ToolCalls))
	b.WriteString("If there is a durable lesson worth remembering, emit one MEMORY artifact via create_artifact. Otherwise do nothing.\n")
	return b.String()
}

func countFailures(calls []domain.ToolCallTrace) int {
	n := 0
	for _, c := range calls {
		if !c.Success {
			n++
		}
	}
	return n
}

// compareURL derives a GitHub compare-view URL for the pushed branch,
// mirroring the URL git itself prints after a successful push of a new
// branch (spec §4.6 coding-job "PR url" field; no GitHub API client is
// wired, so this is a best-effort link rather than an opened PR).
func compareURL(repoURL, base, branch string) string {
	slug := strings.TrimSuffix(repoURL, ".git")
	slug = strings.TrimPrefix(slug, "https://github.com/")
	slug = strings.TrimPrefix(slug, "git@github.com:")
	if base == "" {
		base = "main"
	}
	return fmt.Sprintf("https://github.com/%s/compare/%s...%s?expand=1", slug, base, branch)
}

// InFlightCount exposes the current in-flight count for observability hooks.
func (p *Pipeline) InFlightCount() int { return len(p.inFlight) }
