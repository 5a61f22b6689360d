// Copyright 2025 Jinn Network
package chain

import (
	"context"
	"fmt"
	"math/big"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/Jinn-Network/jinn-node-sub004/pkg/domain"
)

// SubmitEOA signs and sends a transaction directly from the operator EOA
// (spec §4.4 "submit_eoa"), after a pre-flight simulation from the same
// sender address.
func (g *Gateway) SubmitEOA(ctx context.Context, to common.Address, data []byte) (*types.Receipt, error) {
	from := g.signer.DeriveAddress()
	if err := g.simulate(ctx, from, to, data); err != nil {
		return nil, err
	}
	tx, err := g.sendTx(ctx, from, to, data)
	if err != nil {
		return nil, g.classify(err, "SubmitEOA")
	}
	return g.waitMined(ctx, tx)
}

// Claim submits a claim() transaction for requestID from the operator EOA
// (spec §4.5 "claim the request head").
func (g *Gateway) Claim(ctx context.Context, requestID *big.Int) (*types.Receipt, error) {
	data, err := marketplaceABI.Pack("claim", requestID)
	if err != nil {
		return nil, fmt.Errorf("pack claim: %w", err)
	}
	return g.SubmitEOA(ctx, g.marketplace, data)
}

// Deliver submits deliver(requestId, digest) via the Safe multisig (spec
// §4.8, §6), the write path every delivery must go through.
func (g *Gateway) Deliver(ctx context.Context, requestID *big.Int, digest [32]byte) (*types.Receipt, error) {
	data, err := marketplaceABI.Pack("deliver", requestID, digest)
	if err != nil {
		return nil, fmt.Errorf("pack deliver: %w", err)
	}
	return g.SubmitViaSafe(ctx, g.marketplace, big.NewInt(0), data)
}

// PostRequest submits request(mech, metadataCid, workstreamId) from the
// operator EOA, the shared dispatch-to-marketplace contract every lineage
// follow-up and venture cycle dispatch goes through (spec §4.7 step 5,
// §4.8 "call the pipeline's dispatch-to-marketplace contract").
func (g *Gateway) PostRequest(ctx context.Context, mech common.Address, metadataCID, workstreamID string) (*types.Receipt, error) {
	data, err := marketplaceABI.Pack("request", mech, metadataCID, workstreamID)
	if err != nil {
		return nil, fmt.Errorf("pack request: %w", err)
	}
	return g.SubmitEOA(ctx, g.marketplace, data)
}

// SubmitViaSafe executes the Safe v1.3 single-owner flow: read nonce,
// getTransactionHash, sign it eth_sign-style (v+4), then execTransaction with
// that signature as the sole owner signature (spec §4.4, §6, testable
// property 6). A pre-flight simulation runs against the Safe's execTransaction
// call before it is sent.
func (g *Gateway) SubmitViaSafe(ctx context.Context, to common.Address, value *big.Int, data []byte) (*types.Receipt, error) {
	nonceOut, err := g.call(ctx, safeABI, g.safe, "nonce")
	if err != nil {
		return nil, g.classify(err, "SubmitViaSafe.nonce")
	}
	safeNonce := nonceOut[0].(*big.Int)

	hashOut, err := g.call(ctx, safeABI, g.safe, "getTransactionHash",
		to, value, data, OperationCall,
		big.NewInt(0), big.NewInt(0), big.NewInt(0),
		common.Address{}, common.Address{}, safeNonce)
	if err != nil {
		return nil, g.classify(err, "SubmitViaSafe.getTransactionHash")
	}
	safeTxHash := hashOut[0].([32]byte)

	sig, err := g.signer.SignMessage(safeTxHash[:])
	if err != nil {
		return nil, fmt.Errorf("sign safe tx hash: %w", err)
	}

	execData, err := safeABI.Pack("execTransaction",
		to, value, data, OperationCall,
		big.NewInt(0), big.NewInt(0), big.NewInt(0),
		common.Address{}, common.Address{}, sig)
	if err != nil {
		return nil, fmt.Errorf("pack execTransaction: %w", err)
	}

	from := g.signer.DeriveAddress()
	if err := g.simulate(ctx, from, g.safe, execData); err != nil {
		return nil, err
	}

	tx, err := g.sendTx(ctx, from, g.safe, execData)
	if err != nil {
		return nil, g.classify(err, "SubmitViaSafe.execTransaction")
	}
	return g.waitMined(ctx, tx)
}

// sendTx signs and broadcasts a transaction using the current pending nonce
// and network-suggested gas price, the minimal raw path underneath what
// bind.TransactOpts does for generated contract bindings.
func (g *Gateway) sendTx(ctx context.Context, from, to common.Address, data []byte) (*types.Transaction, error) {
	nonce, err := g.client.PendingNonceAt(ctx, from)
	if err != nil {
		return nil, fmt.Errorf("pending nonce: %w", err)
	}
	gasPrice, err := g.client.SuggestGasPrice(ctx)
	if err != nil {
		return nil, fmt.Errorf("suggest gas price: %w", err)
	}
	gasLimit, err := g.client.EstimateGas(ctx, ethereum.CallMsg{From: from, To: &to, Data: data})
	if err != nil {
		return nil, fmt.Errorf("estimate gas: %w", err)
	}

	tx := types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		To:       &to,
		Value:    big.NewInt(0),
		Gas:      gasLimit,
		GasPrice: gasPrice,
		Data:     data,
	})
	signed, err := types.SignTx(tx, types.LatestSignerForChainID(g.chainID), g.signer.PrivateKey())
	if err != nil {
		return nil, fmt.Errorf("sign tx: %w", err)
	}
	if err := g.client.SendTransaction(ctx, signed); err != nil {
		return nil, domain.NewTaggedError(domain.ErrRPCFailure, "", "chain.sendTx", err)
	}
	return signed, nil
}
