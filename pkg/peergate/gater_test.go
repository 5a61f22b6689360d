// Copyright 2025 Jinn Network
package peergate

import (
	"context"
	"testing"
	"time"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/ethereum/go-ethereum/crypto"
	libp2pcrypto "github.com/libp2p/go-libp2p/core/crypto"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/stretchr/testify/require"
)

type fakeChecker struct {
	staked map[string]bool
	err    error
}

func (f *fakeChecker) StakedOperators(ctx context.Context) (map[string]bool, error) {
	return f.staked, f.err
}

// secp256k1PeerAndAddress generates a libp2p secp256k1 peer identity and
// returns both its peer.ID and the chain address the gater should derive
// from it (keccak256(pub[1:])[12:]).
func secp256k1PeerAndAddress(t *testing.T) (peer.ID, string) {
	t.Helper()
	priv, err := secp256k1.GeneratePrivateKey()
	require.NoError(t, err)

	pubKey := priv.PubKey()
	uncompressed := pubKey.SerializeUncompressed()
	addr := "0x" + hexEncode(crypto.Keccak256(uncompressed[1:])[12:])

	libp2pPriv, _, err := libp2pcrypto.UnmarshalSecp256k1PrivateKey(priv.Serialize())
	require.NoError(t, err)
	id, err := peer.IDFromPrivateKey(libp2pPriv)
	require.NoError(t, err)
	return id, addr
}

func TestGater_AdmitsStakedOperator(t *testing.T) {
	id, addr := secp256k1PeerAndAddress(t)
	checker := &fakeChecker{staked: map[string]bool{addr: true}}
	g := New(checker, nil, time.Minute)

	require.True(t, g.admitAddress(context.Background(), id))
}

func TestGater_DeniesUnstakedOperator(t *testing.T) {
	id, _ := secp256k1PeerAndAddress(t)
	checker := &fakeChecker{staked: map[string]bool{"0xsomeoneelse": true}}
	g := New(checker, nil, time.Minute)

	require.False(t, g.admitAddress(context.Background(), id))
}

func TestGater_AdmitsTrustedPeerRegardlessOfStake(t *testing.T) {
	id, _ := secp256k1PeerAndAddress(t)
	checker := &fakeChecker{staked: map[string]bool{}}
	g := New(checker, []string{id.String()}, time.Minute)

	require.True(t, g.admitAddress(context.Background(), id))
}

func TestGater_FailOpenOnFirstBootFailure(t *testing.T) {
	id, _ := secp256k1PeerAndAddress(t)
	checker := &fakeChecker{err: context.DeadlineExceeded}
	g := New(checker, nil, time.Minute)

	require.True(t, g.admitAddress(context.Background(), id))
}

func TestGater_FailStaticOnRefreshFailureAfterFirstLoad(t *testing.T) {
	id, addr := secp256k1PeerAndAddress(t)
	checker := &fakeChecker{staked: map[string]bool{addr: true}}
	g := New(checker, nil, time.Millisecond)

	require.True(t, g.admitAddress(context.Background(), id))

	time.Sleep(2 * time.Millisecond)
	checker.err = context.DeadlineExceeded
	checker.staked = nil

	// Cache is served stale; the previously-staked address is still admitted.
	require.True(t, g.admitAddress(context.Background(), id))
}
