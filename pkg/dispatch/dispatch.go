// Copyright 2025 Jinn Network
//
// Package dispatch implements the shared dispatch-to-marketplace contract
// both C8's lineage follow-ups (spec §4.7 step 5) and the control-plane
// venture/template dispatcher (spec §4.8) post through: publish a fresh job
// metadata blob to the content store, then post an on-chain request
// pointing at it from the operator's own mech. Grounded on
// pkg/delivery/delivery.go's publish-then-submit shape, reused for the
// write direction instead of the read/deliver direction.
package dispatch

import (
	"context"
	"fmt"
	"log"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// Publisher persists a JSON-serializable value to the content store and
// returns its canonical CID (C2).
type Publisher interface {
	PutJSON(value interface{}) (cidStr string, digestHex string, err error)
}

// ChainPoster posts a new on-chain request pointing at a metadata CID (C4).
type ChainPoster interface {
	PostRequest(ctx context.Context, mech common.Address, metadataCID, workstreamID string) (*types.Receipt, error)
}

// Dispatcher implements delivery.FollowUpDispatcher and, via its ctx-less
// wrapper below, venture.Dispatcher.
type Dispatcher struct {
	content Publisher
	chain   ChainPoster
	mech    common.Address
	logger  *log.Logger
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithLogger overrides the default logger.
func WithLogger(l *log.Logger) Option { return func(d *Dispatcher) { d.logger = l } }

// New constructs a Dispatcher that posts follow-up requests against mech.
func New(content Publisher, chain ChainPoster, mech common.Address, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		content: content,
		chain:   chain,
		mech:    mech,
		logger:  log.New(log.Writer(), "[Dispatch] ", log.LstdFlags),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// followUpMetadata is the job metadata blob published for a dispatched
// follow-up request; additionalContext carries the caller's payload
// (verification-required flag, cycle number, loop-recovery attempt, or a
// venture-substituted blueprint) verbatim.
type followUpMetadata struct {
	JobDefinitionID   string                 `json:"jobDefinitionId"`
	AdditionalContext map[string]interface{} `json:"additionalContext,omitempty"`
}

// DispatchFollowUp publishes a metadata blob carrying jobDefinitionID and
// additionalContext, then posts an on-chain request pointing at it,
// satisfying delivery.FollowUpDispatcher (spec §4.7 step 5).
func (d *Dispatcher) DispatchFollowUp(ctx context.Context, jobDefinitionID string, additionalContext map[string]interface{}) error {
	workstreamID, _ := additionalContext["workstreamId"].(string)

	cidStr, _, err := d.content.PutJSON(followUpMetadata{
		JobDefinitionID:   jobDefinitionID,
		AdditionalContext: additionalContext,
	})
	if err != nil {
		return fmt.Errorf("publish follow-up metadata for %s: %w", jobDefinitionID, err)
	}

	if _, err := d.chain.PostRequest(ctx, d.mech, cidStr, workstreamID); err != nil {
		return fmt.Errorf("post follow-up request for %s: %w", jobDefinitionID, err)
	}
	d.logger.Printf("dispatched follow-up for job definition %s (metadata %s)", jobDefinitionID, cidStr)
	return nil
}

// VentureAdapter wraps a Dispatcher behind venture.Dispatcher's ctx-less
// signature (spec §4.8: venture dispatch is a control-plane collaborator
// with no caller-supplied context).
type VentureAdapter struct {
	inner *Dispatcher
}

// NewVentureAdapter constructs a VentureAdapter over inner.
func NewVentureAdapter(inner *Dispatcher) *VentureAdapter {
	return &VentureAdapter{inner: inner}
}

// DispatchFollowUp satisfies venture.Dispatcher by delegating to the
// context-carrying implementation with a background context.
func (a *VentureAdapter) DispatchFollowUp(jobDefinitionID string, additionalContext map[string]interface{}) error {
	return a.inner.DispatchFollowUp(context.Background(), jobDefinitionID, additionalContext)
}
