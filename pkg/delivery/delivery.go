// Copyright 2025 Jinn Network
//
// Package delivery implements C8: serialize the delivery payload, publish it
// to the content store, submit deliver() via the chain gateway with retry on
// transient errors, emit a WORKER_TELEMETRY artifact, and schedule
// parent/child follow-up dispatches (spec §4.7). Grounded on
// pkg/batch/confirmation_tracker.go's receipt-wait-with-retry shape and
// pkg/proof/attestation.go's publish-then-settle two-phase pattern.
package delivery

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math/big"
	"strings"
	"time"

	"github.com/Jinn-Network/jinn-node-sub004/pkg/domain"
)

// Publisher writes the delivery payload to the content store and returns
// both the canonical CID and the on-chain digest hex (C2).
type Publisher interface {
	PutJSON(value interface{}) (cidStr string, digestHex string, err error)
}

// Submitter is the narrow chain-gateway surface delivery needs (C4, spec
// §4.4 "deliver").
type Submitter interface {
	Deliver(ctx context.Context, requestID *big.Int, digest [32]byte) (Receipt, error)
}

// Receipt is the minimal receipt shape delivery inspects; the real
// *types.Receipt from pkg/chain satisfies this structurally via an adapter
// in cmd/worker's wiring.
type Receipt interface {
	Success() bool
}

// ArtifactEmitter persists a WORKER_TELEMETRY (or follow-up) artifact record
// to the indexer (spec §4.7 step 4); failures are logged non-fatally.
type ArtifactEmitter interface {
	CreateArtifact(ctx context.Context, requestID, cid, topic, name string) error
}

// FollowUpDispatcher posts a new on-chain request for a verification, cycle,
// or loop-recovery run (spec §4.7 step 5, §4.8's shared dispatch contract).
type FollowUpDispatcher interface {
	DispatchFollowUp(ctx context.Context, jobDefinitionID string, additionalContext map[string]interface{}) error
}

// LineageQuery answers the hierarchy questions the follow-up decisions need.
type LineageQuery interface {
	ParentOf(ctx context.Context, jobDefinitionID string) (parentJobDefID string, ok bool)
	ParentHasPendingChildren(ctx context.Context, parentJobDefID string, excluding string) (bool, error)
}

// Service is the C8 delivery and lineage coordinator.
type Service struct {
	publisher  Publisher
	submitter  Submitter
	artifacts  ArtifactEmitter
	followUps  FollowUpDispatcher
	lineage    LineageQuery
	logger     *log.Logger

	backoffBase time.Duration
	backoffCap  time.Duration
	maxAttempts int
}

// Option configures a Service.
type Option func(*Service)

func WithLogger(l *log.Logger) Option { return func(s *Service) { s.logger = l } }

// WithBackoff overrides the retry backoff parameters, primarily for tests.
func WithBackoff(base, cap_ time.Duration, maxAttempts int) Option {
	return func(s *Service) {
		s.backoffBase = base
		s.backoffCap = cap_
		s.maxAttempts = maxAttempts
	}
}

// New constructs a Service.
func New(publisher Publisher, submitter Submitter, artifacts ArtifactEmitter, followUps FollowUpDispatcher, lineage LineageQuery, opts ...Option) *Service {
	s := &Service{
		publisher:   publisher,
		submitter:   submitter,
		artifacts:   artifacts,
		followUps:   followUps,
		lineage:     lineage,
		logger:      log.New(log.Writer(), "[Delivery] ", log.LstdFlags),
		backoffBase: time.Second,
		backoffCap:  30 * time.Second,
		maxAttempts: 5,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Outcome is what Deliver returns so callers (and tests) can assert on the
// chain actually happened vs. was skipped.
type Outcome struct {
	CID             string
	DigestHex       string
	AlreadyDelivered bool
}

// Deliver runs spec §4.7 steps 1-4: serialize, publish, submit, emit
// telemetry. Deliver-once (testable property 3) is enforced by the caller's
// delivered-flag check before invoking Deliver; Deliver itself treats
// ErrAlreadyDelivered from the submitter as a non-error no-op so re-entrant
// calls are idempotent.
func (s *Service) Deliver(ctx context.Context, requestIDHex string, requestIDInt *big.Int, payload domain.DeliveryPayload) (Outcome, error) {
	cidStr, digestHex, err := s.publisher.PutJSON(payload)
	if err != nil {
		return Outcome{}, fmt.Errorf("publish delivery payload: %w", err)
	}

	digest, err := decodeDigest(digestHex)
	if err != nil {
		return Outcome{}, fmt.Errorf("decode digest: %w", err)
	}

	if err := s.submitWithRetry(ctx, requestIDInt, digest); err != nil {
		if errors.Is(err, domain.ErrAlreadyDelivered) {
			return Outcome{CID: cidStr, DigestHex: digestHex, AlreadyDelivered: true}, nil
		}
		code := domain.CodeOf(err)
		if code == domain.ErrSafeTxRevert {
			// Terminal: the on-chain state is authoritative (spec §4.7
			// "Retry policy"). Local state still escalates to FAILED; the
			// caller is responsible for that transition.
			return Outcome{CID: cidStr, DigestHex: digestHex}, domain.NewTaggedError(domain.ErrSafeTxRevert, domain.RequestID(requestIDHex), "delivery.submit", err)
		}
		return Outcome{}, err
	}

	s.emitTelemetry(ctx, requestIDHex, payload)
	return Outcome{CID: cidStr, DigestHex: digestHex}, nil
}

// submitWithRetry retries transient RPC errors with exponential backoff;
// SAFE_TX_REVERT is returned immediately as terminal (spec §4.7 "Retry
// policy").
func (s *Service) submitWithRetry(ctx context.Context, requestID *big.Int, digest [32]byte) error {
	var lastErr error
	for attempt := 0; attempt < s.maxAttempts; attempt++ {
		if attempt > 0 {
			delay := backoffDelay(s.backoffBase, s.backoffCap, attempt)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		}
		receipt, err := s.submitter.Deliver(ctx, requestID, digest)
		if err == nil {
			if !receipt.Success() {
				return domain.NewTaggedError(domain.ErrSafeTxRevert, "", "delivery.submit", fmt.Errorf("deliver tx reverted"))
			}
			return nil
		}
		lastErr = err
		if !domain.IsTransient(domain.CodeOf(err)) {
			return err
		}
		s.logger.Printf("deliver submission attempt %d failed, retrying: %v", attempt+1, err)
	}
	return fmt.Errorf("deliver submission exhausted retries: %w", lastErr)
}

// emitTelemetry persists a WORKER_TELEMETRY artifact for observability
// (spec §4.7 step 4); failure here is logged non-fatally.
func (s *Service) emitTelemetry(ctx context.Context, requestIDHex string, payload domain.DeliveryPayload) {
	if s.artifacts == nil {
		return
	}
	telemetryCID, _, err := s.publisher.PutJSON(payload.Telemetry)
	if err != nil {
		s.logger.Printf("encode telemetry for request %s: %v", requestIDHex, err)
		return
	}
	if err := s.artifacts.CreateArtifact(ctx, requestIDHex, telemetryCID, "WORKER_TELEMETRY", ""); err != nil {
		s.logger.Printf("persist WORKER_TELEMETRY artifact for request %s: %v", requestIDHex, err)
	}
}

func backoffDelay(base, cap_ time.Duration, attempt int) time.Duration {
	d := base * time.Duration(1<<uint(attempt))
	if d > cap_ {
		d = cap_
	}
	return d
}

func decodeDigest(digestHex string) ([32]byte, error) {
	var out [32]byte
	h := strings.TrimPrefix(digestHex, "0x")
	if len(h) != 64 {
		return out, fmt.Errorf("digest %q is not 32 bytes", digestHex)
	}
	for i := 0; i < 32; i++ {
		b, err := hexByte(h[i*2 : i*2+2])
		if err != nil {
			return out, err
		}
		out[i] = b
	}
	return out, nil
}

func hexByte(s string) (byte, error) {
	var v byte
	for _, c := range s {
		v <<= 4
		switch {
		case c >= '0' && c <= '9':
			v |= byte(c - '0')
		case c >= 'a' && c <= 'f':
			v |= byte(c-'a') + 10
		case c >= 'A' && c <= 'F':
			v |= byte(c-'A') + 10
		default:
			return 0, fmt.Errorf("invalid hex digit %q", c)
		}
	}
	return v, nil
}
