// Copyright 2025 Jinn Network
package chain

import (
	"context"
	"fmt"
	"log"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/Jinn-Network/jinn-node-sub004/pkg/domain"
	"github.com/Jinn-Network/jinn-node-sub004/pkg/signer"
)

// Gateway is C4: the sole path through which the worker reads contract state
// and submits transactions, wrapping an ethclient.Client the way
// pkg/ethereum/ethereum.go wraps its RPC connection.
type Gateway struct {
	client      *ethclient.Client
	signer      *signer.Signer
	chainID     *big.Int
	registry    common.Address
	staking     common.Address
	marketplace common.Address
	safe        common.Address
	logger      *log.Logger

	watchedServices []*big.Int
}

// Option configures a Gateway.
type Option func(*Gateway)

func WithLogger(l *log.Logger) Option { return func(g *Gateway) { g.logger = l } }

// Addresses bundles the contract addresses the gateway talks to (spec §4.4, §6).
type Addresses struct {
	Registry    common.Address
	Staking     common.Address
	Marketplace common.Address
	Safe        common.Address
}

// Dial connects to rpcURL and constructs a Gateway bound to addrs.
func Dial(ctx context.Context, rpcURL string, chainID int64, s *signer.Signer, addrs Addresses, opts ...Option) (*Gateway, error) {
	client, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("dial rpc: %w", err)
	}
	g := &Gateway{
		client:      client,
		signer:      s,
		chainID:     big.NewInt(chainID),
		registry:    addrs.Registry,
		staking:     addrs.Staking,
		marketplace: addrs.Marketplace,
		safe:        addrs.Safe,
		logger:      log.New(log.Writer(), "[ChainGateway] ", log.LstdFlags),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g, nil
}

// Close releases the underlying RPC connection.
func (g *Gateway) Close() { g.client.Close() }

// GetService reads the registry's multisig + deployment state for serviceID
// (spec §4.4 "getService").
func (g *Gateway) GetService(ctx context.Context, serviceID *big.Int) (multisig common.Address, state uint8, err error) {
	out, err := g.call(ctx, registryABI, g.registry, "getService", serviceID)
	if err != nil {
		return common.Address{}, 0, g.classify(err, "GetService")
	}
	return out[0].(common.Address), out[1].(uint8), nil
}

// OwnerOf reads the registry NFT owner of serviceID (spec §4.4 "ownerOf").
func (g *Gateway) OwnerOf(ctx context.Context, serviceID *big.Int) (common.Address, error) {
	out, err := g.call(ctx, registryABI, g.registry, "ownerOf", serviceID)
	if err != nil {
		return common.Address{}, g.classify(err, "OwnerOf")
	}
	return out[0].(common.Address), nil
}

// GetStakingState reads the staking contract's state for serviceID (spec §6).
func (g *Gateway) GetStakingState(ctx context.Context, serviceID *big.Int) (uint8, error) {
	out, err := g.call(ctx, stakingABI, g.staking, "getStakingState", serviceID)
	if err != nil {
		return 0, g.classify(err, "GetStakingState")
	}
	return out[0].(uint8), nil
}

// GetServiceInfo reads the staking contract's multisig address for serviceID (spec §6).
func (g *Gateway) GetServiceInfo(ctx context.Context, serviceID *big.Int) (common.Address, error) {
	out, err := g.call(ctx, stakingABI, g.staking, "getServiceInfo", serviceID)
	if err != nil {
		return common.Address{}, g.classify(err, "GetServiceInfo")
	}
	return out[0].(common.Address), nil
}

// call is the shared read path: pack the call, execute eth_call, unpack.
func (g *Gateway) call(ctx context.Context, a abi.ABI, to common.Address, method string, args ...interface{}) ([]interface{}, error) {
	data, err := a.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("pack %s: %w", method, err)
	}
	result, err := g.client.CallContract(ctx, ethereum.CallMsg{To: &to, Data: data}, nil)
	if err != nil {
		return nil, fmt.Errorf("call %s: %w", method, err)
	}
	out, err := a.Unpack(method, result)
	if err != nil {
		return nil, fmt.Errorf("unpack %s: %w", method, err)
	}
	return out, nil
}

// simulate performs a pre-flight eth_call against to/data from the submitting
// EOA before sending a real transaction, surfacing a revert as SIM_REVERT
// instead of burning gas on a doomed submission (spec §4.4 "pre-flight
// simulation before every write").
func (g *Gateway) simulate(ctx context.Context, from, to common.Address, data []byte) error {
	_, err := g.client.CallContract(ctx, ethereum.CallMsg{From: from, To: &to, Data: data}, nil)
	if err != nil {
		return domain.NewTaggedError(domain.ErrSimRevert, "", "chain.simulate", err)
	}
	return nil
}

func (g *Gateway) waitMined(ctx context.Context, tx *types.Transaction) (*types.Receipt, error) {
	receipt, err := bind.WaitMined(ctx, g.client, tx)
	if err != nil {
		return nil, fmt.Errorf("wait mined: %w", err)
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return receipt, domain.NewTaggedError(domain.ErrSafeTxRevert, "", "chain.waitMined", fmt.Errorf("tx %s reverted", tx.Hash()))
	}
	return receipt, nil
}

// classify maps a raw RPC/ABI error into the spec §7 taxonomy. Node error
// strings vary by client, so this matches on substrings the way
// pkg/ethereum/errors.go classifies JSON-RPC failures.
func (g *Gateway) classify(err error, stage string) error {
	if err == nil {
		return nil
	}
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "insufficient funds"):
		return domain.NewTaggedError(domain.ErrInsufficientFunds, "", stage, err)
	case strings.Contains(msg, "revert"):
		return domain.NewTaggedError(domain.ErrSimRevert, "", stage, err)
	case strings.Contains(msg, "nonce too low"), strings.Contains(msg, "replacement transaction"):
		return domain.NewTaggedError(domain.ErrNonFastForward, "", stage, err)
	default:
		return domain.NewTaggedError(domain.ErrRPCFailure, "", stage, err)
	}
}
