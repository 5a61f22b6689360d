// Copyright 2025 Jinn Network
package chain

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// CreateMechEvent is the decoded CreateMech log (spec §4.4 "create").
type CreateMechEvent struct {
	Mech      common.Address
	ServiceID *big.Int
	Factory   common.Address
}

// ParseCreateMech decodes the CreateMech event out of a transaction receipt,
// rejecting any log whose serviceId does not match expectedServiceID — the
// guard spec §4.4 requires so a worker never adopts a mech address meant for
// a different service.
func ParseCreateMech(receipt *types.Receipt, expectedServiceID *big.Int) (*CreateMechEvent, error) {
	eventID := marketplaceABI.Events["CreateMech"].ID
	for _, l := range receipt.Logs {
		if len(l.Topics) == 0 || l.Topics[0] != eventID {
			continue
		}
		if len(l.Topics) < 4 {
			continue
		}
		serviceID := new(big.Int).SetBytes(l.Topics[2].Bytes())
		if serviceID.Cmp(expectedServiceID) != 0 {
			continue
		}
		return &CreateMechEvent{
			Mech:      common.BytesToAddress(l.Topics[1].Bytes()),
			ServiceID: serviceID,
			Factory:   common.BytesToAddress(l.Topics[3].Bytes()),
		}, nil
	}
	return nil, fmt.Errorf("no CreateMech event for service %s in receipt %s", expectedServiceID, receipt.TxHash)
}

// Create submits a marketplace create(serviceId, factory, payload)
// transaction and returns the decoded, serviceId-guarded CreateMech event
// (spec §4.4 "create").
func (g *Gateway) Create(ctx context.Context, serviceID *big.Int, factory common.Address, payload []byte) (*CreateMechEvent, error) {
	data, err := marketplaceABI.Pack("create", serviceID, factory, payload)
	if err != nil {
		return nil, fmt.Errorf("pack create: %w", err)
	}
	receipt, err := g.SubmitEOA(ctx, g.marketplace, data)
	if err != nil {
		return nil, err
	}
	return ParseCreateMech(receipt, serviceID)
}
