// Copyright 2025 Jinn Network
//
// Package signer implements C1: operator key custody, address derivation,
// RFC-9421 HTTP request signing, and ERC-191/eth_sign-style message signing
// for Safe transactions (spec §4.1). Grounded on pkg/ethereum/ethereum.go's
// key-handling style (crypto.HexToECDSA, crypto.PubkeyToAddress).
package signer

import (
	"crypto/ecdsa"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// Signer holds the operator's secp256k1 key and signs on its behalf. No key
// material is ever written to a cache on another package's behalf — this is
// the only place the private key lives in memory (spec §9: process-wide
// singletons constructed once, passed explicitly).
type Signer struct {
	privateKey *ecdsa.PrivateKey
	address    common.Address
	chainID    int64
	nonceStore NonceVerifier
}

// NonceVerifier implements the replay-protection "consume" interface from
// spec §4.1: consume returns true the first time (nonce, ttl) is seen within
// the TTL window, false on a duplicate or expired entry.
type NonceVerifier interface {
	Consume(nonce string, ttl int64) bool
}

// Option configures a Signer, matching the teacher's functional-option
// convention (pkg/database/client.go ClientOption).
type Option func(*Signer)

// WithNonceVerifier installs a server-side replay verifier for inbound
// signature checks. The Signer itself does not need one to sign outbound
// requests; this is used by HTTP servers embedding a Signer to verify peers.
func WithNonceVerifier(v NonceVerifier) Option {
	return func(s *Signer) { s.nonceStore = v }
}

// New constructs a Signer from a raw secp256k1 private key and the chain id
// used in the RFC-9421 keyid (spec §4.1: keyid = "chain_id:address").
func New(privateKeyHex string, chainID int64, opts ...Option) (*Signer, error) {
	key, err := crypto.HexToECDSA(privateKeyHex)
	if err != nil {
		return nil, fmt.Errorf("parse operator key: %w", err)
	}
	s := &Signer{
		privateKey: key,
		address:    crypto.PubkeyToAddress(key.PublicKey),
		chainID:    chainID,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// DeriveAddress returns the operator's chain address.
func (s *Signer) DeriveAddress() common.Address { return s.address }

// KeyID returns the RFC-9421 keyid for this signer (spec §4.1).
func (s *Signer) KeyID() string {
	return fmt.Sprintf("%d:%s", s.chainID, s.address.Hex())
}

// PrivateKey exposes the raw key for callers that need it directly (e.g. the
// chain gateway's transactor); kept here rather than duplicated so there is
// exactly one place the key is parsed.
func (s *Signer) PrivateKey() *ecdsa.PrivateKey { return s.privateKey }

// SignMessage produces a 65-byte ECDSA signature over an arbitrary payload,
// eth_sign style: the payload is prefixed per EIP-191 before hashing, and the
// recovery byte is reported as v+4 to mark it as a pre-hashed eth_sign
// payload for Safe's execTransaction (spec §4.1, §4.4, §6, testable
// property 6).
func (s *Signer) SignMessage(payload []byte) ([]byte, error) {
	hash := ethSignHash(payload)
	sig, err := crypto.Sign(hash, s.privateKey)
	if err != nil {
		return nil, fmt.Errorf("sign message: %w", err)
	}
	if len(sig) != 65 {
		return nil, fmt.Errorf("unexpected signature length %d", len(sig))
	}
	// go-ethereum's crypto.Sign returns v in {0,1}; the wire format wants
	// the native Ethereum v (27/28) plus 4 to mark the eth_sign prefix.
	sig[64] = sig[64] + 27 + 4
	return sig, nil
}

// ethSignHash applies the EIP-191 personal-message prefix then keccak256,
// matching the "prefixed message, then v+4" sequence spec §4.4 describes.
func ethSignHash(payload []byte) []byte {
	prefix := fmt.Sprintf("\x19Ethereum Signed Message:\n%d", len(payload))
	return crypto.Keccak256([]byte(prefix), payload)
}
