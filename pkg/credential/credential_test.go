// Copyright 2025 Jinn Network
package credential

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/Jinn-Network/jinn-node-sub004/pkg/domain"
)

type noopSigner struct{}

func (noopSigner) SignHTTP(req *http.Request, body []byte) error { return nil }

func TestDiscoverCapabilities_PopulatesProviders(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"providers":["github","slack"]}`))
	}))
	defer srv.Close()

	c := New(srv.URL, srv.Client(), noopSigner{})
	require.NoError(t, c.DiscoverCapabilities(context.Background()))
	require.True(t, c.Has("github"))
	require.True(t, c.Has("slack"))
	require.False(t, c.Has("jira"))
	require.True(t, c.Trusted())
}

func TestTrusted_FalseBeforeDiscovery(t *testing.T) {
	c := New("http://example.invalid", nil, noopSigner{})
	require.False(t, c.Trusted())
}

func TestRequiredProviders_DedupesAndIgnoresUnknownTools(t *testing.T) {
	got := RequiredProviders([]string{"github_pr", "github_issue", "unknown_tool", "slack_post"})
	require.Equal(t, []string{"github", "slack"}, got)
}

func TestRequiredProviders_EmptyForToolsNeedingNoCredential(t *testing.T) {
	require.Empty(t, RequiredProviders([]string{"create_artifact", "read_file"}))
}

func TestGate_EligibleWhenNoCredentialDemanded(t *testing.T) {
	c := New("http://example.invalid", nil, noopSigner{})
	fetcher := func(ctx context.Context, r domain.Request) ([]string, error) {
		return []string{"create_artifact"}, nil
	}
	gate := NewGate(c, fetcher)

	eligible, err := gate.Eligible(context.Background(), domain.Request{})
	require.NoError(t, err)
	require.True(t, eligible)

	demands, err := gate.Demands(context.Background(), domain.Request{})
	require.NoError(t, err)
	require.False(t, demands)
}

func TestGate_IneligibleWhenMissingCredential(t *testing.T) {
	c := New("http://example.invalid", nil, noopSigner{})
	fetcher := func(ctx context.Context, r domain.Request) ([]string, error) {
		return []string{"github_pr"}, nil
	}
	gate := NewGate(c, fetcher)

	eligible, err := gate.Eligible(context.Background(), domain.Request{})
	require.NoError(t, err)
	require.False(t, eligible)

	demands, err := gate.Demands(context.Background(), domain.Request{})
	require.NoError(t, err)
	require.True(t, demands)
}
