// Copyright 2025 Jinn Network
//
// Package peergate implements C3: a libp2p connection gater that admits only
// staked operators (plus explicit trusted peers) at the inbound/outbound
// encrypted gates, leaving dial/multiaddr/upgrade gates open (spec §4.3).
// Grounded on pkg/consensus/health_monitor.go's mutex-guarded,
// periodically-refreshed cached-state shape.
package peergate

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/libp2p/go-libp2p/core/control"
	"github.com/libp2p/go-libp2p/core/crypto/pb"
	"github.com/libp2p/go-libp2p/core/network"
	"github.com/libp2p/go-libp2p/core/peer"
	ma "github.com/multiformats/go-multiaddr"
)

// StakeChecker answers whether an operator address is currently staked
// (spec §4.3); the chain gateway package implements this.
type StakeChecker interface {
	StakedOperators(ctx context.Context) (map[string]bool, error)
}

// Gater is a libp2p core/control.ConnectionGater implementation.
type Gater struct {
	mu            sync.RWMutex
	checker       StakeChecker
	trustedPeers  map[string]bool
	cache         map[string]bool
	cacheLoaded   bool
	cacheTTL      time.Duration
	lastRefresh   time.Time
	refreshFailed bool
	logger        *log.Logger
}

// Option configures a Gater.
type Option func(*Gater)

func WithLogger(l *log.Logger) Option { return func(g *Gater) { g.logger = l } }

// New constructs a Gater with the given staking checker, trusted-peer-id
// allowlist, and cache TTL (spec §4.3: cached for 5 minutes).
func New(checker StakeChecker, trustedPeerIDs []string, ttl time.Duration, opts ...Option) *Gater {
	trusted := make(map[string]bool, len(trustedPeerIDs))
	for _, id := range trustedPeerIDs {
		trusted[id] = true
	}
	g := &Gater{
		checker:      checker,
		trustedPeers: trusted,
		cacheTTL:     ttl,
		logger:       log.New(log.Writer(), "[PeerGate] ", log.LstdFlags),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// refresh reloads the staked-operator set. On failure it serves the
// previous value (fail-static); if there is no previous value (first boot)
// it fails open — admits — to avoid a cold-start lockout, per spec §4.3 and
// the §9 Open Question resolution recorded in SPEC_FULL.md.
func (g *Gater) refresh(ctx context.Context) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.cacheLoaded && time.Since(g.lastRefresh) < g.cacheTTL {
		return
	}

	staked, err := g.checker.StakedOperators(ctx)
	if err != nil {
		g.refreshFailed = true
		if !g.cacheLoaded {
			g.logger.Printf("staking set unavailable on first boot, failing open: %v", err)
		} else {
			g.logger.Printf("staking set refresh failed, serving cached set: %v", err)
		}
		return
	}
	g.cache = staked
	g.cacheLoaded = true
	g.refreshFailed = false
	g.lastRefresh = time.Now()
}

// admitAddress is the shared admission decision for both encrypted gates.
func (g *Gater) admitAddress(ctx context.Context, p peer.ID) bool {
	if g.isTrustedPeer(p) {
		return true
	}
	g.refresh(ctx)

	addr, err := deriveOperatorAddress(p)
	if err != nil {
		return false // non-secp256k1 peer identity: deny (spec §4.3)
	}

	g.mu.RLock()
	defer g.mu.RUnlock()
	if !g.cacheLoaded {
		// First-boot failure with nothing cached yet: fail open.
		return true
	}
	return g.cache[addr]
}

func (g *Gater) isTrustedPeer(p peer.ID) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.trustedPeers[p.String()]
}

// ColdStartFailOpen reports whether the gater is currently admitting every
// non-trusted peer because the staking set has never loaded successfully —
// the observable form of the §9 Open Question fail-open resolution, surfaced
// on the health endpoint rather than left silent.
func (g *Gater) ColdStartFailOpen() bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return !g.cacheLoaded && g.refreshFailed
}

// deriveOperatorAddress derives the chain address from a secp256k1
// peer-identity public key via keccak-256(pub[1:])[12:], the standard chain
// address derivation (spec §4.3).
func deriveOperatorAddress(p peer.ID) (string, error) {
	pub, err := p.ExtractPublicKey()
	if err != nil {
		return "", err
	}
	if pub.Type() != pb.KeyType_Secp256k1 {
		return "", errNonSecp256k1
	}
	raw, err := pub.Raw()
	if err != nil {
		return "", err
	}
	pk, err := secp256k1.ParsePubKey(raw)
	if err != nil {
		return "", err
	}
	uncompressed := pk.SerializeUncompressed() // 0x04 || X || Y
	addr := crypto.Keccak256(uncompressed[1:])[12:]
	return "0x" + hexEncode(addr), nil
}

var errNonSecp256k1 = libp2pErr("peer identity is not secp256k1")

type libp2pErr string

func (e libp2pErr) Error() string { return string(e) }

func hexEncode(b []byte) string {
	const hextable = "0123456789abcdef"
	out := make([]byte, len(b)*2)
	for i, v := range b {
		out[i*2] = hextable[v>>4]
		out[i*2+1] = hextable[v&0x0f]
	}
	return string(out)
}

// InterceptPeerDial always allows: the dial gate is not staking-gated (spec §4.3).
func (g *Gater) InterceptPeerDial(p peer.ID) bool { return true }

// InterceptAddrDial always allows: the multiaddr gate is not staking-gated.
func (g *Gater) InterceptAddrDial(p peer.ID, a ma.Multiaddr) bool { return true }

// InterceptAccept always allows the raw connection; admission happens at the
// encrypted gates below (spec §4.3: "Applied at two gates: inbound-encrypted
// and outbound-encrypted; dial/multiaddr/upgrade gates always allow").
func (g *Gater) InterceptAccept(c network.ConnMultiaddrs) bool { return true }

// InterceptSecured enforces staking admission on both inbound and outbound
// encrypted connections.
func (g *Gater) InterceptSecured(dir network.Direction, p peer.ID, c network.ConnMultiaddrs) bool {
	return g.admitAddress(context.Background(), p)
}

// InterceptUpgraded always allows: the upgrade gate is not staking-gated.
func (g *Gater) InterceptUpgraded(c network.Conn) (bool, control.DisconnectReason) {
	return true, 0
}
