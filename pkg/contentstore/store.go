// Copyright 2025 Jinn Network
//
// Package contentstore implements C2: put/get over a local blockstore, a
// peer-fetch fallback bounded by the admission gater, and an HTTP gateway
// fallback with jittered exponential backoff (spec §4.2). Grounded on
// pkg/ledger/store.go's content-addressed, append-only store pattern and
// pkg/kvdb/adapter.go's Get/Put interface shape.
package contentstore

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"math/rand"
	"net/http"
	"sync"
	"time"
)

// Blockstore is the local durable store, owned by the process and mutated
// only by Put (spec §5 "Shared resources").
type Blockstore interface {
	Get(cidStr string) ([]byte, bool)
	Put(cidStr string, data []byte)
}

// PeerFetcher resolves a CID from the P2P overlay; implementations are
// expected to consult the admission gater themselves before dialing peers
// (spec §4.2 resolve order step 2).
type PeerFetcher interface {
	FetchFromPeers(ctx context.Context, cidStr string) ([]byte, bool)
}

// Announcer broadcasts a newly-put CID over pubsub (spec §4.2 "announces
// over pubsub"); a no-op implementation is fine when no overlay is wired.
type Announcer interface {
	Announce(cidStr string)
}

// Store is the C2 content store client.
type Store struct {
	blockstore Blockstore
	peers      PeerFetcher
	announcer  Announcer
	httpClient *http.Client
	gatewayURL string
	maxRetries int
	timeout    time.Duration
	logger     *log.Logger
}

// Option configures a Store (teacher functional-option convention).
type Option func(*Store)

func WithPeerFetcher(p PeerFetcher) Option   { return func(s *Store) { s.peers = p } }
func WithAnnouncer(a Announcer) Option       { return func(s *Store) { s.announcer = a } }
func WithLogger(l *log.Logger) Option        { return func(s *Store) { s.logger = l } }
func WithMaxRetries(n int) Option            { return func(s *Store) { s.maxRetries = n } }
func WithHTTPClient(c *http.Client) Option   { return func(s *Store) { s.httpClient = c } }

// New constructs a Store backed by blockstore, resolving through gatewayURL
// on local+peer miss.
func New(blockstore Blockstore, gatewayURL string, timeout time.Duration, opts ...Option) *Store {
	s := &Store{
		blockstore: blockstore,
		gatewayURL: gatewayURL,
		timeout:    timeout,
		maxRetries: 3,
		httpClient: &http.Client{Timeout: timeout},
		logger:     log.New(log.Writer(), "[ContentStore] ", log.LstdFlags),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// PutJSON encodes value, stores it locally, announces it, and returns both
// the canonical CID and the 32-byte digest hex for on-chain storage (spec
// §4.2).
func (s *Store) PutJSON(value interface{}) (cidStr string, digestHex string, err error) {
	raw, err := json.Marshal(value)
	if err != nil {
		return "", "", fmt.Errorf("encode value: %w", err)
	}
	digest := sha256Sum(raw)
	canonical, hexDigest, err := encodeCID(digest, codecRaw)
	if err != nil {
		return "", "", fmt.Errorf("encode cid: %w", err)
	}
	s.blockstore.Put(canonical, raw)
	if s.announcer != nil {
		s.announcer.Announce(canonical)
	}
	return canonical, hexDigest, nil
}

// Get resolves cidStr through local blockstore, then peer fetch, then HTTP
// gateway with exponential backoff (spec §4.2 resolve order). It returns
// (nil, nil) — not an error — when every candidate is exhausted and the
// object is genuinely absent; callers decide whether that is fatal.
func (s *Store) Get(ctx context.Context, cidStr string) ([]byte, error) {
	if data, ok := s.blockstore.Get(cidStr); ok {
		return data, nil
	}
	if s.peers != nil {
		if data, ok := s.peers.FetchFromPeers(ctx, cidStr); ok {
			s.blockstore.Put(cidStr, data)
			return data, nil
		}
	}
	data, found, err := s.fetchGatewayWithBackoff(ctx, cidStr)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, nil
	}
	s.blockstore.Put(cidStr, data)
	return data, nil
}

// GetLegacy resolves a historic digest that may have been stored under any
// of several CID codecs (spec §4.2 "get_legacy"): it tries, in order, the
// candidates LegacyCandidates enumerates, returning the first gateway
// success. Absence across all candidates is (nil, nil), matching Get.
func (s *Store) GetLegacy(ctx context.Context, digestHex string, requestID string) ([]byte, error) {
	candidates, err := LegacyCandidates(digestHex, requestID)
	if err != nil {
		return nil, fmt.Errorf("enumerate legacy candidates: %w", err)
	}
	for _, c := range candidates {
		data, err := s.Get(ctx, c)
		if err != nil {
			return nil, err
		}
		if data != nil {
			return data, nil
		}
	}
	return nil, nil
}

// fetchGatewayWithBackoff retries the HTTP gateway with base 1s, cap 10s,
// ±25% jitter (spec §4.2).
func (s *Store) fetchGatewayWithBackoff(ctx context.Context, cidStr string) ([]byte, bool, error) {
	const base = time.Second
	const cap_ = 10 * time.Second

	var lastErr error
	for attempt := 0; attempt <= s.maxRetries; attempt++ {
		if attempt > 0 {
			delay := backoffDelay(base, cap_, attempt)
			select {
			case <-ctx.Done():
				return nil, false, ctx.Err()
			case <-time.After(delay):
			}
		}
		data, found, err := s.fetchGatewayOnce(ctx, cidStr)
		if err == nil {
			return data, found, nil
		}
		lastErr = err
	}
	return nil, false, fmt.Errorf("gateway fetch exhausted retries: %w", lastErr)
}

func (s *Store) fetchGatewayOnce(ctx context.Context, cidStr string) ([]byte, bool, error) {
	reqCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	url := s.gatewayURL + "/ipfs/" + cidStr
	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, url, nil)
	if err != nil {
		return nil, false, err
	}
	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, false, err // transport error: retried by caller
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, false, nil
	case resp.StatusCode >= 500:
		return nil, false, fmt.Errorf("gateway returned %d", resp.StatusCode)
	case resp.StatusCode != http.StatusOK:
		return nil, false, nil
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, false, err
	}
	return data, true, nil
}

func backoffDelay(base, cap_ time.Duration, attempt int) time.Duration {
	d := base * time.Duration(1<<uint(attempt-1))
	if d > cap_ {
		d = cap_
	}
	jitter := float64(d) * 0.25
	offset := (rand.Float64()*2 - 1) * jitter
	return time.Duration(float64(d) + offset)
}

func sha256Sum(b []byte) []byte {
	sum := sha256.Sum256(b)
	return sum[:]
}

// MemoryBlockstore is a simple in-memory Blockstore, used by tests and as a
// placeholder before durable storage is wired (mirrors the teacher's
// MemoryKV helper in main.go).
type MemoryBlockstore struct {
	mu    sync.RWMutex
	store map[string][]byte
}

func NewMemoryBlockstore() *MemoryBlockstore {
	return &MemoryBlockstore{store: make(map[string][]byte)}
}

func (m *MemoryBlockstore) Get(cidStr string) ([]byte, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.store[cidStr]
	if !ok {
		return nil, false
	}
	out := make([]byte, len(v))
	copy(out, v)
	return out, true
}

func (m *MemoryBlockstore) Put(cidStr string, data []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := make([]byte, len(data))
	copy(cp, data)
	m.store[cidStr] = cp
}

var _ Blockstore = (*MemoryBlockstore)(nil)
