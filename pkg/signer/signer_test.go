// Copyright 2025 Jinn Network
package signer

import (
	"net/http"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/require"
)

func newTestSigner(t *testing.T) *Signer {
	t.Helper()
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	hexKey := crypto.FromECDSA(key)
	s, err := New(bytesToHex(hexKey), 1)
	require.NoError(t, err)
	return s
}

func bytesToHex(b []byte) string {
	const hextable = "0123456789abcdef"
	out := make([]byte, len(b)*2)
	for i, v := range b {
		out[i*2] = hextable[v>>4]
		out[i*2+1] = hextable[v&0x0f]
	}
	return string(out)
}

func TestSignMessage_VPlus4Layout(t *testing.T) {
	s := newTestSigner(t)
	sig, err := s.SignMessage([]byte("hello safe"))
	require.NoError(t, err)
	require.Len(t, sig, 65)
	v := sig[64]
	require.True(t, v == 31 || v == 32, "expected v+4 in {31,32}, got %d", v)
}

func TestSignHTTP_SetsHeaders(t *testing.T) {
	s := newTestSigner(t)
	req, err := http.NewRequest(http.MethodPost, "https://broker.example/credentials/capabilities", nil)
	require.NoError(t, err)

	require.NoError(t, s.SignHTTP(req, []byte(`{}`)))

	require.Contains(t, req.Header.Get("Signature-Input"), "keyid=")
	require.True(t, strings.HasPrefix(req.Header.Get("Signature"), "sig1=:"))
	require.NotEmpty(t, req.Header.Get("Content-Digest"))
}

func TestKeyID(t *testing.T) {
	s := newTestSigner(t)
	require.True(t, strings.HasPrefix(s.KeyID(), "1:0x"))
}
