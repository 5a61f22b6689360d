// Copyright 2025 Jinn Network
package indexer

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestUnclaimedRequests_SendsQueryAndParsesItems(t *testing.T) {
	var gotBody map[string]interface{}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"data":{"requests":{"items":[
			{"id":"0x1","requester":"0xabc","mech":"0xdef","metadataCid":"bafy1","workstreamId":"ws1","delivered":false,"blockTime":"100"}
		]}}}`))
	}))
	defer server.Close()

	c := New(server.URL, time.Second, server.Client())
	reqs, err := c.UnclaimedRequests(context.Background(), "0xdef", 10)
	require.NoError(t, err)
	require.Len(t, reqs, 1)
	require.Equal(t, "0x1", string(reqs[0].ID))
	require.Contains(t, gotBody["query"], "requests(")
}
