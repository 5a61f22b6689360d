// Copyright 2025 Jinn Network
//
// MeasurementSource resolution for C6 step 3 (spec §4.6): list the
// MEASUREMENT-topic artifact CIDs recorded for a workstream, then resolve
// and decode each one through the content store. The builder itself does
// the newest-wins fold by invariant id; this adapter only resolves and
// decodes. Grounded on pkg/intent/conversion.go's blob→typed-context
// mapping, the same pattern metadata.go uses for job metadata.
package jobcontext

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/Jinn-Network/jinn-node-sub004/pkg/domain"
)

// MeasurementLister lists the CIDs of MEASUREMENT-topic artifacts recorded
// against a workstream (C5/C6, indexer side of spec §4.6 step 3).
type MeasurementLister interface {
	MeasurementArtifactsForWorkstream(ctx context.Context, workstreamID string) ([]string, error)
}

// contentMeasurementSource implements MeasurementSource by listing artifact
// CIDs via a MeasurementLister and resolving each through a ContentFetcher.
type contentMeasurementSource struct {
	lister  MeasurementLister
	content ContentFetcher
}

// NewContentMeasurementSource constructs a MeasurementSource backed by the
// indexer's artifact listing and the content store's blob resolution.
func NewContentMeasurementSource(lister MeasurementLister, content ContentFetcher) MeasurementSource {
	return &contentMeasurementSource{lister: lister, content: content}
}

// measurementWire is the on-the-wire JSON shape of a MEASUREMENT artifact
// (spec §3 measurement data model).
type measurementWire struct {
	InvariantID   string  `json:"invariantId"`
	InvariantType string  `json:"invariantType"`
	Value         float64 `json:"value"`
	Passed        bool    `json:"passed"`
	Context       string  `json:"context,omitempty"`
	Timestamp     string  `json:"timestamp"`
}

// LatestMeasurements resolves every MEASUREMENT artifact recorded for
// workstreamID. A single unresolvable artifact is silently skipped rather
// than failing the whole context build (spec §4.6 step 3 is non-fatal by
// nature: the newest-wins fold degrades gracefully on a missing blob).
func (s *contentMeasurementSource) LatestMeasurements(ctx context.Context, workstreamID string) ([]domain.Measurement, error) {
	cids, err := s.lister.MeasurementArtifactsForWorkstream(ctx, workstreamID)
	if err != nil {
		return nil, fmt.Errorf("list measurement artifacts for %s: %w", workstreamID, err)
	}

	out := make([]domain.Measurement, 0, len(cids))
	for _, cidStr := range cids {
		raw, err := s.content.Get(ctx, cidStr)
		if err != nil || raw == nil {
			continue
		}
		var wire measurementWire
		if err := json.Unmarshal(raw, &wire); err != nil {
			continue
		}
		ts, err := time.Parse(time.RFC3339, wire.Timestamp)
		if err != nil {
			continue
		}
		out = append(out, domain.Measurement{
			InvariantID:   wire.InvariantID,
			InvariantType: wire.InvariantType,
			Value:         wire.Value,
			Passed:        wire.Passed,
			Context:       wire.Context,
			Timestamp:     ts,
		})
	}
	return out, nil
}
