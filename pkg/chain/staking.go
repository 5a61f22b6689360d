// Copyright 2025 Jinn Network
package chain

import (
	"context"
	"fmt"
	"math/big"
	"strings"
)

// WatchedServiceIDs installs the set of service ids the gateway polls when
// asked for StakedOperators (spec §4.3: "currently-staked operators" is
// derived from the staking contract, scoped to the mechs this worker cares
// about rather than the whole registry).
func (g *Gateway) WatchedServiceIDs(ids []*big.Int) {
	g.watchedServices = ids
}

// StakedOperators satisfies pkg/peergate.StakeChecker: it reads the staking
// state and multisig address of every watched service and returns the set of
// multisig addresses currently in the Staked state (spec §4.3, §6).
func (g *Gateway) StakedOperators(ctx context.Context) (map[string]bool, error) {
	staked := make(map[string]bool, len(g.watchedServices))
	for _, id := range g.watchedServices {
		state, err := g.GetStakingState(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("staking state for service %s: %w", id, err)
		}
		if state != StakingStateStaked {
			continue
		}
		multisig, err := g.GetServiceInfo(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("service info for service %s: %w", id, err)
		}
		staked[strings.ToLower(multisig.Hex())] = true
	}
	return staked, nil
}
