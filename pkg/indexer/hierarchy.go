// Copyright 2025 Jinn Network
//
// Hierarchy, dependency, and lineage queries layered on top of the indexer's
// GraphQL read path (spec §4.6 step 2, §4.5 dependency gate, §4.7 lineage).
// Grouped separately from client.go so the original request/artifact/message
// query surface stays untouched.
package indexer

import (
	"context"
	"fmt"

	"github.com/shurcooL/graphql"

	"github.com/Jinn-Network/jinn-node-sub004/pkg/domain"
)

// ChildJobDefinitions returns the job definition ids whose parent is
// jobDefinitionID, satisfying jobcontext.HierarchyWalker (spec §4.6 step 2).
func (c *Client) ChildJobDefinitions(ctx context.Context, jobDefinitionID string) ([]string, error) {
	children, err := c.ChildrenOf(ctx, jobDefinitionID)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(children))
	for _, child := range children {
		out = append(out, string(child.ID))
	}
	return out, nil
}

// RunsOf returns the request ids that have run against jobDefinitionID.
func (c *Client) RunsOf(ctx context.Context, jobDefinitionID string) ([]domain.RequestID, error) {
	var query struct {
		Requests struct {
			Items []Request
		} `graphql:"requests(where: {jobDefinitionId: $jobDefinitionId})"`
	}
	variables := map[string]interface{}{"jobDefinitionId": graphql.String(jobDefinitionID)}
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	if err := c.gql.Query(ctx, &query, variables); err != nil {
		return nil, fmt.Errorf("query runs of job definition: %w", err)
	}
	out := make([]domain.RequestID, 0, len(query.Requests.Items))
	for _, r := range query.Requests.Items {
		out = append(out, domain.RequestID(r.ID))
	}
	return out, nil
}

// getJobDefinition fetches a single job definition row by id.
func (c *Client) getJobDefinition(ctx context.Context, jobDefinitionID string) (*JobDefinition, error) {
	var query struct {
		JobDefinitions struct {
			Items []JobDefinition
		} `graphql:"jobDefinitions(where: {id: $id}, limit: 1)"`
	}
	variables := map[string]interface{}{"id": graphql.String(jobDefinitionID)}
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	if err := c.gql.Query(ctx, &query, variables); err != nil {
		return nil, fmt.Errorf("query job definition: %w", err)
	}
	if len(query.JobDefinitions.Items) == 0 {
		return nil, nil
	}
	return &query.JobDefinitions.Items[0], nil
}

// HierarchyStatus reports a job definition's aggregate run status, mapped
// from the indexer's free-text status field into the closed domain set
// (spec §4.6 hierarchy node "status").
func (c *Client) HierarchyStatus(ctx context.Context, jobDefinitionID string) (domain.HierarchyStatus, error) {
	jd, err := c.getJobDefinition(ctx, jobDefinitionID)
	if err != nil {
		return domain.HierarchyUnknown, err
	}
	if jd == nil {
		return domain.HierarchyUnknown, nil
	}
	switch string(jd.Status) {
	case string(domain.HierarchyActive):
		return domain.HierarchyActive, nil
	case string(domain.HierarchyCompleted):
		return domain.HierarchyCompleted, nil
	case string(domain.HierarchyFailed):
		return domain.HierarchyFailed, nil
	default:
		return domain.HierarchyUnknown, nil
	}
}

// BranchOf returns the resolved branch name recorded against a job
// definition, if any (spec §4.6 hierarchy node "resolved branch names").
func (c *Client) BranchOf(ctx context.Context, jobDefinitionID string) (string, error) {
	jd, err := c.getJobDefinition(ctx, jobDefinitionID)
	if err != nil {
		return "", err
	}
	if jd == nil {
		return "", nil
	}
	return string(jd.Branch), nil
}

// ArtifactRefsOf returns the artifact CIDs recorded against a job
// definition's runs (spec §4.6 hierarchy node "artifact references").
func (c *Client) ArtifactRefsOf(ctx context.Context, jobDefinitionID string) ([]string, error) {
	var query struct {
		Artifacts struct {
			Items []Artifact
		} `graphql:"artifacts(where: {jobDefinitionId: $jobDefinitionId})"`
	}
	variables := map[string]interface{}{"jobDefinitionId": graphql.String(jobDefinitionID)}
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	if err := c.gql.Query(ctx, &query, variables); err != nil {
		return nil, fmt.Errorf("query job definition artifacts: %w", err)
	}
	out := make([]string, 0, len(query.Artifacts.Items))
	for _, a := range query.Artifacts.Items {
		out = append(out, string(a.CID))
	}
	return out, nil
}

// MessageRefsOf returns the message ids recorded against a job definition's
// runs (spec §4.6 hierarchy node "message references").
func (c *Client) MessageRefsOf(ctx context.Context, jobDefinitionID string) ([]string, error) {
	var query struct {
		Messages struct {
			Items []Message
		} `graphql:"messages(where: {jobDefinitionId: $jobDefinitionId})"`
	}
	variables := map[string]interface{}{"jobDefinitionId": graphql.String(jobDefinitionID)}
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	if err := c.gql.Query(ctx, &query, variables); err != nil {
		return nil, fmt.Errorf("query job definition messages: %w", err)
	}
	out := make([]string, 0, len(query.Messages.Items))
	for _, m := range query.Messages.Items {
		out = append(out, string(m.ID))
	}
	return out, nil
}

// measurementArtifact mirrors an artifact carrying a MEASUREMENT payload,
// scoped by workstream for the C6 measurement fold (spec §4.6 step 3).
type measurementArtifact struct {
	CID          graphql.String `graphql:"cid"`
	Topic        graphql.String
	WorkstreamID graphql.String `graphql:"workstreamId"`
}

// MeasurementArtifactsForWorkstream returns the CIDs of MEASUREMENT-topic
// artifacts recorded against workstreamID, for the caller to resolve through
// the content store and fold by invariant id.
func (c *Client) MeasurementArtifactsForWorkstream(ctx context.Context, workstreamID string) ([]string, error) {
	var query struct {
		Artifacts struct {
			Items []measurementArtifact
		} `graphql:"artifacts(where: {workstreamId: $workstreamId, topic: \"MEASUREMENT\"})"`
	}
	variables := map[string]interface{}{"workstreamId": graphql.String(workstreamID)}
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	if err := c.gql.Query(ctx, &query, variables); err != nil {
		return nil, fmt.Errorf("query measurement artifacts: %w", err)
	}
	out := make([]string, 0, len(query.Artifacts.Items))
	for _, a := range query.Artifacts.Items {
		out = append(out, string(a.CID))
	}
	return out, nil
}

// IsDelivered reports whether requestID has already been delivered,
// satisfying claimloop.DependencyChecker (spec §4.5 step 2: dependency gate).
func (c *Client) IsDelivered(ctx context.Context, requestID string) (bool, error) {
	var query struct {
		Requests struct {
			Items []Request
		} `graphql:"requests(where: {id: $id}, limit: 1)"`
	}
	variables := map[string]interface{}{"id": graphql.String(requestID)}
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	if err := c.gql.Query(ctx, &query, variables); err != nil {
		return false, fmt.Errorf("query request delivered flag: %w", err)
	}
	if len(query.Requests.Items) == 0 {
		return false, domain.ErrContentNotFound
	}
	return bool(query.Requests.Items[0].Delivered), nil
}

// ParentOf returns jobDefinitionID's parent, satisfying
// delivery.LineageQuery (spec §4.7 step 5: parent verification dispatch).
func (c *Client) ParentOf(ctx context.Context, jobDefinitionID string) (string, bool) {
	jd, err := c.getJobDefinition(ctx, jobDefinitionID)
	if err != nil || jd == nil || jd.ParentID == "" {
		return "", false
	}
	return string(jd.ParentID), true
}

// ParentHasPendingChildren reports whether any child of parentJobDefID,
// other than excluding, is still active or has no recorded status (spec
// §4.7 step 5: "no more pending children").
func (c *Client) ParentHasPendingChildren(ctx context.Context, parentJobDefID string, excluding string) (bool, error) {
	children, err := c.ChildrenOf(ctx, parentJobDefID)
	if err != nil {
		return false, err
	}
	for _, child := range children {
		if string(child.ID) == excluding {
			continue
		}
		if string(child.Status) == string(domain.HierarchyActive) || child.Status == "" {
			return true, nil
		}
	}
	return false, nil
}
