// Copyright 2025 Jinn Network
//
// Package credential is the client for the credential/secrets broker (spec
// §6): a signed capabilities probe at startup and an operator-network
// listing, plus the static tool→provider map the claim loop's credential
// gate is built from (spec §4.5 "Credential gate"). Grounded on
// pkg/server/attestation_handlers.go's client/handler pairing, mirrored
// client-side.
package credential

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"

	"github.com/Jinn-Network/jinn-node-sub004/pkg/domain"
)

// HTTPSigner signs an outbound HTTP request RFC-9421 style (C1).
type HTTPSigner interface {
	SignHTTP(req *http.Request, body []byte) error
}

// Client talks to the credential broker (spec §6).
type Client struct {
	baseURL    string
	httpClient *http.Client
	signer     HTTPSigner

	mu         sync.RWMutex
	providers  map[string]bool
	discovered bool
}

// New constructs a Client.
func New(baseURL string, httpClient *http.Client, signer HTTPSigner) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{baseURL: baseURL, httpClient: httpClient, signer: signer}
}

type capabilitiesResponse struct {
	Providers []string `json:"providers"`
}

// DiscoverCapabilities runs the signed POST /credentials/capabilities probe
// once at startup and caches the result (spec §4.5 "discovered once at
// startup by a signed probe of the credential broker").
func (c *Client) DiscoverCapabilities(ctx context.Context) error {
	body := []byte("{}")
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/credentials/capabilities", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build capabilities request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if err := c.signer.SignHTTP(req, body); err != nil {
		return fmt.Errorf("sign capabilities request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("capabilities request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("capabilities request returned %d", resp.StatusCode)
	}

	var parsed capabilitiesResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return fmt.Errorf("decode capabilities response: %w", err)
	}

	providers := make(map[string]bool, len(parsed.Providers))
	for _, p := range parsed.Providers {
		providers[p] = true
	}

	c.mu.Lock()
	c.providers = providers
	c.discovered = true
	c.mu.Unlock()
	return nil
}

// Has reports whether the worker has discovered the named credential
// provider.
func (c *Client) Has(provider string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.providers[provider]
}

// Trusted reports whether the worker holds any credential at all — the
// signal the claim loop's sort step uses to prioritize credential-demanding
// work (spec §4.5 step 3).
func (c *Client) Trusted() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.providers) > 0
}

// Operator is one entry of the operator-network listing (spec §6 "GET
// /admin/operators/network").
type Operator struct {
	Address     string   `json:"address"`
	Multiaddrs  []string `json:"multiaddrs"`
	ServiceID   *int64   `json:"serviceId,omitempty"`
}

type operatorNetworkResponse struct {
	Operators []Operator `json:"operators"`
}

// OperatorNetwork fetches the current operator multiaddr listing (spec §6),
// used to seed the P2P overlay's peer table.
func (c *Client) OperatorNetwork(ctx context.Context) ([]Operator, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/admin/operators/network", nil)
	if err != nil {
		return nil, fmt.Errorf("build operator network request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("operator network request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("operator network request returned %d", resp.StatusCode)
	}
	var parsed operatorNetworkResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("decode operator network response: %w", err)
	}
	return parsed.Operators, nil
}

// toolProviderMap is the static tool→provider table the credential gate
// derives required providers from (spec §4.5 "derive required credential
// providers from the request's enabled-tools list via a static tool→
// provider map"). Tools absent from this map need no credential.
var toolProviderMap = map[string]string{
	"github_pr":        "github",
	"github_issue":     "github",
	"slack_post":       "slack",
	"linear_ticket":    "linear",
	"jira_ticket":      "jira",
	"send_email":       "smtp",
	"web_search":       "search",
	"deploy_to_vercel": "vercel",
}

// RequiredProviders derives the set of credential providers enabledTools
// demands (spec §4.5 "Credential gate").
func RequiredProviders(enabledTools []string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, tool := range enabledTools {
		provider, ok := toolProviderMap[tool]
		if !ok || seen[provider] {
			continue
		}
		seen[provider] = true
		out = append(out, provider)
	}
	return out
}

// MetadataFetcher resolves a request's enabled-tools list, typically by
// fetching job metadata via C2.
type MetadataFetcher func(ctx context.Context, r domain.Request) ([]string, error)

// Gate implements pkg/claimloop.CredentialGate over a Client and the static
// tool→provider map.
type Gate struct {
	client  *Client
	fetcher MetadataFetcher
}

// NewGate constructs a Gate.
func NewGate(client *Client, fetcher MetadataFetcher) *Gate {
	return &Gate{client: client, fetcher: fetcher}
}

// Eligible reports whether the worker holds every credential provider the
// request's enabled tools demand; a request needing no credentials is
// always eligible (spec §4.5 "Jobs needing no credentials are always
// eligible").
func (g *Gate) Eligible(ctx context.Context, r domain.Request) (bool, error) {
	tools, err := g.fetcher(ctx, r)
	if err != nil {
		return false, err
	}
	for _, provider := range RequiredProviders(tools) {
		if !g.client.Has(provider) {
			return false, nil
		}
	}
	return true, nil
}

// Demands reports whether the request needs any credential at all (spec
// §4.5 step 3 "credential-demanding jobs").
func (g *Gate) Demands(ctx context.Context, r domain.Request) (bool, error) {
	tools, err := g.fetcher(ctx, r)
	if err != nil {
		return false, err
	}
	return len(RequiredProviders(tools)) > 0, nil
}

// Trusted reports whether this worker holds any credential provider at all.
func (g *Gate) Trusted() bool { return g.client.Trusted() }
