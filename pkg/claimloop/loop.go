// Copyright 2025 Jinn Network
//
// Package claimloop implements C5: a single-threaded, cooperatively
// cancellable loop that polls the indexer for unclaimed requests, filters by
// eligibility, sorts, and claims the head (spec §4.5). Grounded on
// pkg/consensus/health_monitor.go's ticker-driven background-loop shape and
// pkg/scheduler/scheduler.go's eligibility-gate-then-sort dispatch pattern.
package claimloop

import (
	"context"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/Jinn-Network/jinn-node-sub004/pkg/domain"
)

// RequestSource lists currently unclaimed requests for the operator's mech,
// ordered by block timestamp ascending (spec §4.5 step 1).
type RequestSource interface {
	UnclaimedRequests(ctx context.Context, mech string) ([]domain.Request, error)
}

// StakeGate answers whether a requester's mech is currently staked (spec §4.3/§4.5).
type StakeGate interface {
	IsStaked(ctx context.Context, mech string) (bool, error)
}

// DependencyChecker answers whether a request id has been delivered, the
// primitive the dependency gate is built from (spec §4.5 "Dependency gate").
type DependencyChecker interface {
	IsDelivered(ctx context.Context, id domain.RequestID) (bool, error)
}

// CredentialGate answers, per request, whether the worker holds every
// credential provider the request's enabled-tools list demands (derived from
// a static tool→provider map against metadata fetched by MetadataCID), and
// whether the request demands any credential at all — used to prioritize
// credential-demanding work on a "trusted" (credentialed) worker (spec §4.5
// "Credential gate").
type CredentialGate interface {
	Eligible(ctx context.Context, r domain.Request) (bool, error)
	Demands(ctx context.Context, r domain.Request) (bool, error)
	Trusted() bool
}

// Claimer submits the on-chain claim transaction (spec §4.5 step 4).
type Claimer interface {
	Claim(ctx context.Context, request domain.Request) error
}

// Dispatcher hands a claimed request to the execution pipeline (C7).
type Dispatcher interface {
	Dispatch(ctx context.Context, request domain.Request)
}

// Loop is the C5 request claim loop.
type Loop struct {
	source     RequestSource
	stake      StakeGate
	deps       DependencyChecker
	credential CredentialGate
	claimer    Claimer
	dispatcher Dispatcher
	mech       string
	tick       time.Duration
	logger     *log.Logger

	mu         sync.Mutex
	idleCycles int
	delivered  map[domain.RequestID]bool // local memo for claim idempotence; authoritative check is always on-chain

	shutdown chan struct{}
	done     chan struct{}
}

// Option configures a Loop.
type Option func(*Loop)

func WithLogger(l *log.Logger) Option { return func(lp *Loop) { lp.logger = l } }

// New constructs a Loop.
func New(source RequestSource, stake StakeGate, deps DependencyChecker, credential CredentialGate, claimer Claimer, dispatcher Dispatcher, mech string, tick time.Duration, opts ...Option) *Loop {
	lp := &Loop{
		source:     source,
		stake:      stake,
		deps:       deps,
		credential: credential,
		claimer:    claimer,
		dispatcher: dispatcher,
		mech:       mech,
		tick:       tick,
		logger:     log.New(log.Writer(), "[ClaimLoop] ", log.LstdFlags),
		delivered:  make(map[domain.RequestID]bool),
		shutdown:   make(chan struct{}),
		done:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(lp)
	}
	return lp
}

// IdleCycles reports the current idle-cycle count for the health endpoint
// (spec §4.5 step 5).
func (lp *Loop) IdleCycles() int {
	lp.mu.Lock()
	defer lp.mu.Unlock()
	return lp.idleCycles
}

// Run drives the loop until Stop is called; an in-flight claim always
// finishes (commit or revert) before the loop exits (spec §4.5 cancellation).
func (lp *Loop) Run(ctx context.Context) {
	defer close(lp.done)
	ticker := time.NewTicker(lp.tick)
	defer ticker.Stop()

	for {
		select {
		case <-lp.shutdown:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			lp.runTick(ctx)
		}
	}
}

// Stop requests a graceful shutdown and blocks until the current tick (and
// any in-flight claim it started) finishes.
func (lp *Loop) Stop() {
	close(lp.shutdown)
	<-lp.done
}

func (lp *Loop) runTick(ctx context.Context) {
	requests, err := lp.source.UnclaimedRequests(ctx, lp.mech)
	if err != nil {
		lp.logger.Printf("list unclaimed requests: %v", err)
		return
	}

	eligible := lp.filterEligible(ctx, requests)
	lp.sortEligible(ctx, eligible)

	if len(eligible) == 0 {
		lp.mu.Lock()
		lp.idleCycles++
		lp.mu.Unlock()
		return
	}

	head := eligible[0]
	claimed, err := lp.claimHead(ctx, head)
	if err != nil {
		lp.logger.Printf("claim request %s: %v", head.ID, err)
		return
	}
	if claimed {
		lp.dispatcher.Dispatch(ctx, head)
	}
}

// claimHead enforces claim idempotence (testable property 1): a request
// already delivered on-chain, or already claimed by this process, is a no-op
// rather than a fresh claim transaction. It reports whether a claim was made,
// so only a freshly claimed request is handed to the dispatcher.
func (lp *Loop) claimHead(ctx context.Context, r domain.Request) (bool, error) {
	if r.Delivered {
		return false, nil
	}
	lp.mu.Lock()
	if lp.delivered[r.ID] {
		lp.mu.Unlock()
		return false, nil
	}
	lp.mu.Unlock()

	if err := lp.claimer.Claim(ctx, r); err != nil {
		return false, err
	}
	lp.mu.Lock()
	lp.delivered[r.ID] = true
	lp.mu.Unlock()
	return true, nil
}

// filterEligible applies the stake, dependency, and credential gates (spec
// §4.5 step 2). Dependency safety (testable property 2) is enforced here: a
// request with any undelivered dependency is never returned, so it can never
// reach the execution pipeline.
func (lp *Loop) filterEligible(ctx context.Context, requests []domain.Request) []domain.Request {
	eligible := make([]domain.Request, 0, len(requests))
	for _, r := range requests {
		staked, err := lp.stake.IsStaked(ctx, r.Mech)
		if err != nil {
			lp.logger.Printf("stake check for request %s: %v", r.ID, err)
			continue
		}
		if !staked {
			continue
		}
		satisfied, err := lp.dependenciesSatisfied(ctx, r)
		if err != nil {
			lp.logger.Printf("dependency check for request %s: %v", r.ID, err)
			continue
		}
		if !satisfied {
			continue
		}
		ok, err := lp.credential.Eligible(ctx, r)
		if err != nil {
			lp.logger.Printf("credential check for request %s: %v", r.ID, err)
			continue
		}
		if !ok {
			continue
		}
		eligible = append(eligible, r)
	}
	return eligible
}

// dependenciesSatisfied reports whether every id in r.Dependencies has been
// delivered (spec §4.5 "Dependency gate", testable property 2, scenario S2).
func (lp *Loop) dependenciesSatisfied(ctx context.Context, r domain.Request) (bool, error) {
	for _, dep := range r.Dependencies {
		delivered, err := lp.deps.IsDelivered(ctx, dep)
		if err != nil {
			return false, err
		}
		if !delivered {
			return false, nil
		}
	}
	return true, nil
}

// sortEligible orders credential-demanding jobs first when the worker is
// trusted, then by age (block time ascending), per spec §4.5 step 3. The
// source query already orders by block time ascending, so a stable sort
// here only needs to move credential-demanding jobs forward.
func (lp *Loop) sortEligible(ctx context.Context, requests []domain.Request) {
	if !lp.credential.Trusted() {
		return
	}
	demands := make(map[domain.RequestID]bool, len(requests))
	for _, r := range requests {
		d, err := lp.credential.Demands(ctx, r)
		if err != nil {
			lp.logger.Printf("credential-demand check for request %s: %v", r.ID, err)
			continue
		}
		demands[r.ID] = d
	}
	sort.SliceStable(requests, func(i, j int) bool {
		return demands[requests[i].ID] && !demands[requests[j].ID]
	})
}
