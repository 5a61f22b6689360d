// Copyright 2025 Jinn Network
//
// Adapters gluing C4/C5/C6's narrow package-local interfaces to the
// concrete chain/indexer clients, the same role the teacher's main.go
// wrapper types (MemoryKV, LedgerStoreWrapper) play for its own components.
package main

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/Jinn-Network/jinn-node-sub004/pkg/chain"
	"github.com/Jinn-Network/jinn-node-sub004/pkg/delivery"
	"github.com/Jinn-Network/jinn-node-sub004/pkg/domain"
	"github.com/Jinn-Network/jinn-node-sub004/pkg/indexer"
)

// requestSourceAdapter adapts indexer.Client's (ctx, mech, limit) listing to
// claimloop.RequestSource's (ctx, mech) shape, with a fixed page size, and
// converts the indexer's GraphQL row type to domain.Request.
type requestSourceAdapter struct {
	client *indexer.Client
	limit  int
}

func (a *requestSourceAdapter) UnclaimedRequests(ctx context.Context, mech string) ([]domain.Request, error) {
	rows, err := a.client.UnclaimedRequests(ctx, mech, a.limit)
	if err != nil {
		return nil, err
	}
	out := make([]domain.Request, 0, len(rows))
	for _, r := range rows {
		deps := make([]domain.RequestID, 0, len(r.Dependencies))
		for _, d := range r.Dependencies {
			deps = append(deps, domain.RequestID(d))
		}
		blockTime, _ := time.Parse(time.RFC3339, string(r.BlockTime))
		out = append(out, domain.Request{
			ID:           domain.RequestID(r.ID),
			Requester:    string(r.Requester),
			Mech:         string(r.Mech),
			MetadataCID:  string(r.MetadataCID),
			WorkstreamID: string(r.WorkstreamID),
			Dependencies: deps,
			Delivered:    bool(r.Delivered),
			BlockTime:    blockTime,
		})
	}
	return out, nil
}

// dependencyCheckerAdapter adapts indexer.Client.IsDelivered's string
// request id to claimloop.DependencyChecker's domain.RequestID parameter.
type dependencyCheckerAdapter struct {
	client *indexer.Client
}

func (a *dependencyCheckerAdapter) IsDelivered(ctx context.Context, id domain.RequestID) (bool, error) {
	return a.client.IsDelivered(ctx, string(id))
}

// stakeGateAdapter answers claimloop.StakeGate.IsStaked by consulting the
// chain gateway's staked-operator set (spec §4.5 "Stake gate").
type stakeGateAdapter struct {
	gateway *chain.Gateway
}

func (a *stakeGateAdapter) IsStaked(ctx context.Context, mech string) (bool, error) {
	staked, err := a.gateway.StakedOperators(ctx)
	if err != nil {
		return false, err
	}
	return staked[strings.ToLower(mech)], nil
}

// claimerAdapter adapts chain.Gateway.Claim's receipt-returning signature to
// claimloop.Claimer's error-only contract (spec §4.5 step 4).
type claimerAdapter struct {
	gateway *chain.Gateway
}

func (a *claimerAdapter) Claim(ctx context.Context, request domain.Request) error {
	id, err := request.ID.BigInt()
	if err != nil {
		return fmt.Errorf("parse request id %s: %w", request.ID, err)
	}
	_, err = a.gateway.Claim(ctx, id)
	return err
}

// receiptAdapter satisfies pkg/delivery.Receipt over a *types.Receipt.
type receiptAdapter struct{ receipt *types.Receipt }

func (r receiptAdapter) Success() bool {
	return r.receipt != nil && r.receipt.Status == types.ReceiptStatusSuccessful
}

// submitterAdapter satisfies pkg/delivery.Submitter over the chain gateway's
// Deliver, wrapping its *types.Receipt in a receiptAdapter (spec §4.4/§4.7).
type submitterAdapter struct {
	gateway *chain.Gateway
}

func (a *submitterAdapter) Deliver(ctx context.Context, requestID *big.Int, digest [32]byte) (delivery.Receipt, error) {
	receipt, err := a.gateway.Deliver(ctx, requestID, digest)
	if err != nil {
		return nil, err
	}
	return receiptAdapter{receipt: receipt}, nil
}

// mechAddress parses a hex address string, falling back to the zero address
// on a malformed value (used only for display/log purposes at startup).
func mechAddress(s string) common.Address {
	return common.HexToAddress(s)
}
