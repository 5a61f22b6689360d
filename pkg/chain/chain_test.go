// Copyright 2025 Jinn Network
package chain

import (
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/require"
)

func TestClassify_InsufficientFunds(t *testing.T) {
	g := &Gateway{}
	err := g.classify(errors.New("insufficient funds for gas * price + value"), "stage")
	require.ErrorContains(t, err, "INSUFFICIENT_FUNDS")
}

func TestClassify_Revert(t *testing.T) {
	g := &Gateway{}
	err := g.classify(errors.New("execution reverted: custom message"), "stage")
	require.ErrorContains(t, err, "SIM_REVERT")
}

func TestClassify_NonceTooLow(t *testing.T) {
	g := &Gateway{}
	err := g.classify(errors.New("nonce too low"), "stage")
	require.ErrorContains(t, err, "NON_FAST_FORWARD")
}

func TestClassify_DefaultsToRPCFailure(t *testing.T) {
	g := &Gateway{}
	err := g.classify(errors.New("connection refused"), "stage")
	require.ErrorContains(t, err, "RPC_FAILURE")
}

func TestParseCreateMech_RejectsMismatchedServiceID(t *testing.T) {
	eventID := marketplaceABI.Events["CreateMech"].ID
	mech := common.HexToAddress("0x1111111111111111111111111111111111111111")
	factory := common.HexToAddress("0x2222222222222222222222222222222222222222")
	wrongServiceID := big.NewInt(99)

	log := types.Log{
		Topics: []common.Hash{
			eventID,
			common.BytesToHash(mech.Bytes()),
			common.BigToHash(wrongServiceID),
			common.BytesToHash(factory.Bytes()),
		},
	}
	receipt := &types.Receipt{Logs: []*types.Log{&log}}

	_, err := ParseCreateMech(receipt, big.NewInt(7))
	require.Error(t, err)
}

func TestParseCreateMech_AcceptsMatchingServiceID(t *testing.T) {
	eventID := marketplaceABI.Events["CreateMech"].ID
	mech := common.HexToAddress("0x1111111111111111111111111111111111111111")
	factory := common.HexToAddress("0x2222222222222222222222222222222222222222")
	serviceID := big.NewInt(7)

	log := types.Log{
		Topics: []common.Hash{
			eventID,
			common.BytesToHash(mech.Bytes()),
			common.BigToHash(serviceID),
			common.BytesToHash(factory.Bytes()),
		},
	}
	receipt := &types.Receipt{Logs: []*types.Log{&log}}

	evt, err := ParseCreateMech(receipt, serviceID)
	require.NoError(t, err)
	require.Equal(t, mech, evt.Mech)
	require.Equal(t, factory, evt.Factory)
}
