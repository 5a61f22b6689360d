// Copyright 2025 Jinn Network
//
// Package indexer implements the GraphQL read path over the "Ponder" chain
// indexer: items-wrapped list queries against requests, jobDefinitions,
// artifacts, and messages, plus the create-artifact side-effect call (spec
// §4.6, §4.9). No teacher package talks GraphQL; the client library is drawn
// from the rest of the retrieved pack's dependency surface (DESIGN.md).
package indexer

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/shurcooL/graphql"
)

// Client wraps a graphql.Client bound to a fixed per-call timeout (spec
// §4.9: "GraphQL 10 s").
type Client struct {
	gql     *graphql.Client
	timeout time.Duration
}

// New constructs a Client against endpoint (spec §4.9 "indexer (GraphQL)").
func New(endpoint string, timeout time.Duration, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{
		gql:     graphql.NewClient(endpoint, httpClient),
		timeout: timeout,
	}
}

// Request mirrors the on-chain request row the indexer exposes.
type Request struct {
	ID              graphql.String
	Requester       graphql.String
	Mech            graphql.String
	MetadataCID     graphql.String `graphql:"metadataCid"`
	WorkstreamID    graphql.String `graphql:"workstreamId"`
	JobDefinitionID graphql.String `graphql:"jobDefinitionId"`
	Delivered       graphql.Boolean
	BlockTime       graphql.String `graphql:"blockTime"`
	Dependencies    []graphql.String
}

// UnclaimedRequests runs the query from spec §4.5 step 1: requests where
// delivered = false and mech is one of the operator's mechs, ordered by
// block timestamp ascending.
func (c *Client) UnclaimedRequests(ctx context.Context, mech string, limit int) ([]Request, error) {
	var query struct {
		Requests struct {
			Items []Request
		} `graphql:"requests(where: {mech: $mech, delivered: false}, orderBy: \"blockTime\", orderDirection: \"asc\", limit: $limit)"`
	}
	variables := map[string]interface{}{
		"mech":  graphql.String(mech),
		"limit": graphql.Int(limit),
	}
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	if err := c.gql.Query(ctx, &query, variables); err != nil {
		return nil, fmt.Errorf("query unclaimed requests: %w", err)
	}
	return query.Requests.Items, nil
}

// JobDefinition mirrors the indexer's jobDefinitions entity (spec §4.6 walk).
type JobDefinition struct {
	ID       graphql.String
	ParentID graphql.String `graphql:"parentId"`
	Status   graphql.String
	Branch   graphql.String
}

// ChildrenOf returns the job definitions whose parentId is parentJobDefID,
// one step of the breadth-first hierarchy walk (spec §4.6 step 2).
func (c *Client) ChildrenOf(ctx context.Context, parentJobDefID string) ([]JobDefinition, error) {
	var query struct {
		JobDefinitions struct {
			Items []JobDefinition
		} `graphql:"jobDefinitions(where: {parentId: $parentId})"`
	}
	variables := map[string]interface{}{"parentId": graphql.String(parentJobDefID)}
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	if err := c.gql.Query(ctx, &query, variables); err != nil {
		return nil, fmt.Errorf("query job definition children: %w", err)
	}
	return query.JobDefinitions.Items, nil
}

// Artifact mirrors the indexer's artifacts entity (spec §4.6 hierarchy node
// "artifact references").
type Artifact struct {
	CID   graphql.String `graphql:"cid"`
	Topic graphql.String
	Name  graphql.String
}

// ArtifactsForRequest returns artifacts recorded against requestID.
func (c *Client) ArtifactsForRequest(ctx context.Context, requestID string) ([]Artifact, error) {
	var query struct {
		Artifacts struct {
			Items []Artifact
		} `graphql:"artifacts(where: {requestId: $requestId})"`
	}
	variables := map[string]interface{}{"requestId": graphql.String(requestID)}
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	if err := c.gql.Query(ctx, &query, variables); err != nil {
		return nil, fmt.Errorf("query artifacts: %w", err)
	}
	return query.Artifacts.Items, nil
}

// Message mirrors the indexer's messages entity (spec §4.6 hierarchy node
// "message references").
type Message struct {
	ID   graphql.String
	Body graphql.String
}

// MessagesForRequest returns messages recorded against requestID.
func (c *Client) MessagesForRequest(ctx context.Context, requestID string) ([]Message, error) {
	var query struct {
		Messages struct {
			Items []Message
		} `graphql:"messages(where: {requestId: $requestId})"`
	}
	variables := map[string]interface{}{"requestId": graphql.String(requestID)}
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	if err := c.gql.Query(ctx, &query, variables); err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	return query.Messages.Items, nil
}

// CreateArtifact is the stable side-effect call that persists a
// pipeline-extracted artifact to the indexer (spec §4.6 "persisted to the
// indexer by a stable side-effect call"). Failures here are logged
// non-fatally by the caller, never escalated to job failure.
func (c *Client) CreateArtifact(ctx context.Context, requestID, cid, topic, name string) error {
	var mutation struct {
		CreateArtifact struct {
			CID graphql.String `graphql:"cid"`
		} `graphql:"createArtifact(requestId: $requestId, cid: $cid, topic: $topic, name: $name)"`
	}
	variables := map[string]interface{}{
		"requestId": graphql.String(requestID),
		"cid":       graphql.String(cid),
		"topic":     graphql.String(topic),
		"name":      graphql.String(name),
	}
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	if err := c.gql.Mutate(ctx, &mutation, variables); err != nil {
		return fmt.Errorf("create artifact: %w", err)
	}
	return nil
}
