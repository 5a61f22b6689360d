// Copyright 2025 Jinn Network
//
// Package jobcontext implements C6's context-build phase: fetch job
// metadata, walk the parent/child hierarchy, fold measurements, derive
// effective tool policy, and compose a JobContext (spec §4.6 "Context
// build"). Grounded on pkg/intent/discovery.go's graph-walk-by-id-lookup
// pattern and pkg/intent/conversion.go's blob→typed-context folding.
package jobcontext

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"

	"github.com/Jinn-Network/jinn-node-sub004/pkg/domain"
)

const maxWalkDepth = 3

// MetadataFetcher resolves a request's content-addressed job metadata (C2).
type MetadataFetcher interface {
	FetchMetadata(ctx context.Context, request domain.Request) (domain.JobMetadata, error)
}

// HierarchyWalker exposes the indexer operations needed to walk the job
// hierarchy (C6 step 2).
type HierarchyWalker interface {
	ChildJobDefinitions(ctx context.Context, jobDefinitionID string) ([]string, error)
	RunsOf(ctx context.Context, jobDefinitionID string) ([]domain.RequestID, error)
	HierarchyStatus(ctx context.Context, jobDefinitionID string) (domain.HierarchyStatus, error)
	BranchOf(ctx context.Context, jobDefinitionID string) (string, error)
	ArtifactRefsOf(ctx context.Context, jobDefinitionID string) ([]string, error)
	MessageRefsOf(ctx context.Context, jobDefinitionID string) ([]string, error)
}

// MeasurementSource resolves the latest MEASUREMENT artifacts for a
// workstream, already deduplicated by caller-visible artifact identity; the
// builder folds them keyed by invariant id, newest wins (spec §4.6 step 3).
type MeasurementSource interface {
	LatestMeasurements(ctx context.Context, workstreamID string) ([]domain.Measurement, error)
}

// ToolRegistry answers which tools this worker can actually run (spec §4.6 step 4).
type ToolRegistry interface {
	Available(tool string) bool
}

// Builder is the C6 context builder.
type Builder struct {
	metadata     MetadataFetcher
	hierarchy    HierarchyWalker
	measurements MeasurementSource
	tools        ToolRegistry
	logger       *log.Logger
}

// New constructs a Builder.
func New(metadata MetadataFetcher, hierarchy HierarchyWalker, measurements MeasurementSource, tools ToolRegistry) *Builder {
	return &Builder{
		metadata:     metadata,
		hierarchy:    hierarchy,
		measurements: measurements,
		tools:        tools,
		logger:       log.New(log.Writer(), "[JobContext] ", log.LstdFlags),
	}
}

// Build composes a normalized JobContext for request, per spec §4.6 steps 1-5.
func (b *Builder) Build(ctx context.Context, request domain.Request) (domain.JobContext, error) {
	metadata, err := b.metadata.FetchMetadata(ctx, request)
	if err != nil {
		return domain.JobContext{}, domain.NewTaggedError(domain.ErrMalformedMetadata, request.ID, "jobcontext.fetch", err)
	}
	if len(metadata.BlueprintJSON) == 0 {
		return domain.JobContext{}, domain.NewTaggedError(domain.ErrMalformedMetadata, request.ID, "jobcontext.fetch", fmt.Errorf("metadata has no blueprint and no legacy compatibility path"))
	}
	if !json.Valid(metadata.BlueprintJSON) {
		return domain.JobContext{}, domain.NewTaggedError(domain.ErrMalformedMetadata, request.ID, "jobcontext.fetch", fmt.Errorf("blueprint is not valid JSON"))
	}

	hierarchy := b.walkHierarchy(ctx, metadata.JobDefinitionID)

	measurements, err := b.foldMeasurements(ctx, metadata.WorkstreamID)
	if err != nil {
		b.logger.Printf("fold measurements for workstream %s: %v", metadata.WorkstreamID, err)
	}

	policy, err := b.effectivePolicy(metadata.ToolPolicy)
	if err != nil {
		return domain.JobContext{}, domain.NewTaggedError(domain.ErrToolUnavailable, request.ID, "jobcontext.policy", err)
	}

	return domain.JobContext{
		Request:         request,
		Metadata:        metadata,
		Hierarchy:       hierarchy,
		Measurements:    measurements,
		EffectivePolicy: policy,
		Environment:     publiclySafeEnvironment(metadata.EnvironmentOverrides),
		LoopRecovery:    nil,
		Cycle:           nil,
	}, nil
}

// effectivePolicy unions required and available tools, failing when a
// required tool is missing from the worker's own registry (spec §4.6 step 4).
func (b *Builder) effectivePolicy(declared domain.ToolPolicy) (domain.ToolPolicy, error) {
	for _, tool := range declared.Required {
		if !b.tools.Available(tool) {
			return domain.ToolPolicy{}, fmt.Errorf("required tool %q is not available", tool)
		}
	}
	return domain.ToolPolicy{
		Required:  declared.Required,
		Available: declared.Available,
	}, nil
}

// foldMeasurements keeps, per invariant id, the measurement with the latest
// timestamp (spec §4.6 step 3: "only newest wins").
func (b *Builder) foldMeasurements(ctx context.Context, workstreamID string) (map[string]domain.Measurement, error) {
	out := make(map[string]domain.Measurement)
	if workstreamID == "" {
		return out, nil
	}
	measurements, err := b.measurements.LatestMeasurements(ctx, workstreamID)
	if err != nil {
		return out, err
	}
	for _, m := range measurements {
		existing, ok := out[m.InvariantID]
		if !ok || m.Timestamp.After(existing.Timestamp) {
			out[m.InvariantID] = m
		}
	}
	return out, nil
}

// walkHierarchy performs the breadth-first parent/child walk to maxWalkDepth
// (spec §4.6 step 2). Unreachable nodes are logged, not fatal.
func (b *Builder) walkHierarchy(ctx context.Context, rootJobDefID string) domain.Hierarchy {
	hierarchy := domain.Hierarchy{Root: rootJobDefID, Nodes: make(map[string]*domain.HierarchyNode)}
	if rootJobDefID == "" {
		return hierarchy
	}

	type queued struct {
		id    string
		depth int
	}
	queue := []queued{{id: rootJobDefID, depth: 0}}
	visited := map[string]bool{rootJobDefID: true}

	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]

		node, err := b.buildNode(ctx, cur.id, cur.depth)
		if err != nil {
			b.logger.Printf("hierarchy node %s unreachable at depth %d: %v", cur.id, cur.depth, err)
			continue
		}
		hierarchy.Nodes[cur.id] = node

		if cur.depth >= maxWalkDepth {
			continue
		}
		children, err := b.hierarchy.ChildJobDefinitions(ctx, cur.id)
		if err != nil {
			b.logger.Printf("list children of %s: %v", cur.id, err)
			continue
		}
		for _, child := range children {
			node.Children = append(node.Children, child)
			if visited[child] {
				continue
			}
			visited[child] = true
			queue = append(queue, queued{id: child, depth: cur.depth + 1})
		}
	}
	return hierarchy
}

func (b *Builder) buildNode(ctx context.Context, jobDefID string, depth int) (*domain.HierarchyNode, error) {
	runs, err := b.hierarchy.RunsOf(ctx, jobDefID)
	if err != nil {
		return nil, err
	}
	status, err := b.hierarchy.HierarchyStatus(ctx, jobDefID)
	if err != nil {
		status = domain.HierarchyUnknown
	}
	branch, _ := b.hierarchy.BranchOf(ctx, jobDefID)
	artifacts, _ := b.hierarchy.ArtifactRefsOf(ctx, jobDefID)
	messages, _ := b.hierarchy.MessageRefsOf(ctx, jobDefID)

	return &domain.HierarchyNode{
		JobDefinitionID: jobDefID,
		RunRequestIDs:   runs,
		Status:          status,
		ArtifactRefs:    artifacts,
		MessageRefs:     messages,
		Branch:          branch,
		Depth:           depth,
	}, nil
}

// publiclySafeEnvironment filters environment overrides to those the
// metadata author explicitly marked for injection; credentials and operator
// secrets never flow through job metadata (spec §4.6 step 5 "publicly-safe
// only").
func publiclySafeEnvironment(overrides map[string]string) map[string]string {
	out := make(map[string]string, len(overrides))
	for k, v := range overrides {
		if isSecretLike(k) {
			continue
		}
		out[k] = v
	}
	return out
}

func isSecretLike(key string) bool {
	upper := strings.ToUpper(key)
	for _, bad := range []string{"SECRET", "PRIVATE", "TOKEN", "PASSWORD", "KEY"} {
		if strings.Contains(upper, bad) {
			return true
		}
	}
	return false
}
