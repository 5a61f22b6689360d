// Copyright 2025 Jinn Network
package contentstore

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLegacyCandidates_OrderAndForms(t *testing.T) {
	digest := "aa" // not a real 32-byte digest, just checking shape
	cands, err := LegacyCandidates(digest, "7")
	require.NoError(t, err)
	require.Len(t, cands, 3)
	require.True(t, strings.HasSuffix(cands[0], "/7"))
	require.True(t, strings.HasPrefix(cands[1], "f01701220"))
	require.True(t, strings.HasPrefix(cands[2], "f01551220"))
}

func TestLegacyCandidates_NoRequestID(t *testing.T) {
	cands, err := LegacyCandidates("bb", "")
	require.NoError(t, err)
	require.Len(t, cands, 2)
}

func TestDecimalRequestID(t *testing.T) {
	require.Equal(t, "255", DecimalRequestID("0xff"))
	require.Equal(t, "255", DecimalRequestID("ff"))
}

func TestStore_Get_LocalHit(t *testing.T) {
	bs := NewMemoryBlockstore()
	bs.Put("abc", []byte("hello"))
	s := New(bs, "http://unused.example", time.Second)

	data, err := s.Get(context.Background(), "abc")
	require.NoError(t, err)
	require.Equal(t, []byte("hello"), data)
}

func TestStore_Get_GatewayFallback_NotFoundIsNilNotError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	bs := NewMemoryBlockstore()
	s := New(bs, server.URL, time.Second, WithMaxRetries(0))

	data, err := s.Get(context.Background(), "missing-cid")
	require.NoError(t, err)
	require.Nil(t, data)
}

func TestStore_PutJSON_RoundTrip(t *testing.T) {
	bs := NewMemoryBlockstore()
	s := New(bs, "http://unused.example", time.Second)

	type payload struct {
		Foo string `json:"foo"`
	}
	cidStr, digestHex, err := s.PutJSON(payload{Foo: "bar"})
	require.NoError(t, err)
	require.NotEmpty(t, cidStr)
	require.True(t, strings.HasPrefix(digestHex, "0x"))

	data, err := s.Get(context.Background(), cidStr)
	require.NoError(t, err)
	require.JSONEq(t, `{"foo":"bar"}`, string(data))
}
