// Copyright 2025 Jinn Network
//
// Metadata resolution for C6 step 1 (spec §4.6): fetch the request's job
// metadata blob from the content store (C2), falling back to the legacy
// digest-resolution path when the on-chain pointer predates the CID
// migration, then decode it into domain.JobMetadata. Grounded on
// pkg/contentstore/store.go's Get/GetLegacy split and
// pkg/intent/conversion.go's blob-to-typed-context mapping.
package jobcontext

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/Jinn-Network/jinn-node-sub004/pkg/domain"
)

// ContentFetcher is the subset of pkg/contentstore.Store the metadata
// fetcher needs: resolve by canonical CID, or by legacy digest when the
// on-chain pointer is a bare hex digest predating the CID migration.
type ContentFetcher interface {
	Get(ctx context.Context, cidStr string) ([]byte, error)
	GetLegacy(ctx context.Context, digestHex string, requestID string) ([]byte, error)
}

// contentMetadataFetcher implements MetadataFetcher over a ContentFetcher.
type contentMetadataFetcher struct {
	content ContentFetcher
}

// NewContentMetadataFetcher constructs a MetadataFetcher backed by the
// content store (spec §4.2/§4.6: "Fetch job metadata from C2").
func NewContentMetadataFetcher(content ContentFetcher) MetadataFetcher {
	return &contentMetadataFetcher{content: content}
}

// metadataWire is the on-the-wire JSON shape of a job metadata blob, as
// published to the content store (spec §3 job metadata data model). Field
// names follow the spec's data model verbatim.
type metadataWire struct {
	Blueprint            string                 `json:"blueprint"`
	EnabledTools         []string               `json:"enabledTools"`
	ToolPolicy           *toolPolicyWire        `json:"toolPolicy,omitempty"`
	SourceRequestID      string                 `json:"sourceRequestId,omitempty"`
	WorkstreamID         string                 `json:"workstreamId,omitempty"`
	JobDefinitionID      string                 `json:"jobDefinitionId"`
	JobName              string                 `json:"jobName,omitempty"`
	Code                 *codeWire              `json:"code,omitempty"`
	ModelHint            string                 `json:"modelHint,omitempty"`
	Cyclic               bool                   `json:"cyclic,omitempty"`
	OutputSchema         json.RawMessage        `json:"outputSchema,omitempty"`
	VentureID            string                 `json:"ventureId,omitempty"`
	TemplateID           string                 `json:"templateId,omitempty"`
	Dependencies         []string               `json:"dependencies,omitempty"`
	Lineage              *lineageWire           `json:"lineage,omitempty"`
	EnvironmentOverrides map[string]string      `json:"environmentOverrides,omitempty"`
	AdditionalContext    map[string]interface{} `json:"additionalContext,omitempty"`
}

type toolPolicyWire struct {
	Required  []string `json:"required,omitempty"`
	Available []string `json:"available,omitempty"`
}

type codeWire struct {
	RepositoryURL string `json:"repositoryUrl"`
	BranchName    string `json:"branchName,omitempty"`
	HeadCommit    string `json:"headCommit,omitempty"`
	BaseBranch    string `json:"baseBranch,omitempty"`
}

type lineageWire struct {
	DispatcherRequestID string `json:"dispatcherRequestId,omitempty"`
	Branch              string `json:"branch,omitempty"`
}

// looksLikeHexDigest reports whether s is a bare 32-byte hex digest (the
// legacy pre-CID on-chain pointer form), rather than a canonical CIDv1
// string (spec §4.2).
func looksLikeHexDigest(s string) bool {
	h := strings.TrimPrefix(s, "0x")
	if len(h) != 64 {
		return false
	}
	for _, c := range h {
		if !((c >= '0' && c <= '9') || (c >= 'a' && c <= 'f') || (c >= 'A' && c <= 'F')) {
			return false
		}
	}
	return true
}

// FetchMetadata resolves request.MetadataCID to its job metadata blob and
// decodes it (spec §4.6 step 1). A pointer that is not found under its
// canonical CID is retried under the legacy digest-resolution path only
// when it looks like a bare hex digest; anything else surfaces the fetch
// error directly so the builder can classify it as MALFORMED_METADATA.
func (f *contentMetadataFetcher) FetchMetadata(ctx context.Context, request domain.Request) (domain.JobMetadata, error) {
	raw, err := f.fetchRaw(ctx, request)
	if err != nil {
		return domain.JobMetadata{}, err
	}

	var wire metadataWire
	if err := json.Unmarshal(raw, &wire); err != nil {
		return domain.JobMetadata{}, fmt.Errorf("decode job metadata: %w", err)
	}

	return toDomainMetadata(wire), nil
}

func (f *contentMetadataFetcher) fetchRaw(ctx context.Context, request domain.Request) ([]byte, error) {
	raw, err := f.content.Get(ctx, request.MetadataCID)
	if err != nil {
		return nil, fmt.Errorf("fetch metadata %s: %w", request.MetadataCID, err)
	}
	if raw != nil {
		return raw, nil
	}

	if !looksLikeHexDigest(request.MetadataCID) {
		return nil, fmt.Errorf("metadata %s not found and has no legacy compatibility path", request.MetadataCID)
	}

	raw, err = f.content.GetLegacy(ctx, request.MetadataCID, string(request.ID))
	if err != nil {
		return nil, fmt.Errorf("fetch legacy metadata %s: %w", request.MetadataCID, err)
	}
	if raw == nil {
		return nil, fmt.Errorf("metadata %s not found under any legacy candidate", request.MetadataCID)
	}
	return raw, nil
}

func toDomainMetadata(w metadataWire) domain.JobMetadata {
	out := domain.JobMetadata{
		BlueprintJSON:        []byte(w.Blueprint),
		EnabledTools:         w.EnabledTools,
		SourceRequestID:      domain.RequestID(w.SourceRequestID),
		WorkstreamID:         w.WorkstreamID,
		JobDefinitionID:      w.JobDefinitionID,
		JobName:              w.JobName,
		ModelHint:            w.ModelHint,
		Cyclic:               w.Cyclic,
		OutputSchema:         []byte(w.OutputSchema),
		VentureID:            w.VentureID,
		TemplateID:           w.TemplateID,
		EnvironmentOverrides: w.EnvironmentOverrides,
		AdditionalContext:    w.AdditionalContext,
	}

	if w.ToolPolicy != nil {
		out.ToolPolicy = domain.ToolPolicy{Required: w.ToolPolicy.Required, Available: w.ToolPolicy.Available}
	}
	if w.Code != nil {
		out.Code = &domain.CodeMetadata{
			RepositoryURL: w.Code.RepositoryURL,
			BranchName:    w.Code.BranchName,
			HeadCommit:    w.Code.HeadCommit,
			BaseBranch:    w.Code.BaseBranch,
		}
	}
	if w.Lineage != nil {
		out.Lineage = &domain.Lineage{
			DispatcherRequestID: domain.RequestID(w.Lineage.DispatcherRequestID),
			Branch:              w.Lineage.Branch,
		}
	}
	if len(w.Dependencies) > 0 {
		deps := make([]domain.RequestID, 0, len(w.Dependencies))
		for _, d := range w.Dependencies {
			deps = append(deps, domain.RequestID(d))
		}
		out.Dependencies = deps
	}
	return out
}
