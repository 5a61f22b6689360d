// Copyright 2025 Jinn Network
//
// RFC-9421-shaped HTTP message signing (spec §4.1). No library in the
// example pack or wider ecosystem implements RFC 9421; this slice is built
// directly on net/http + crypto/ecdsa, which is the required stdlib
// justification recorded in DESIGN.md.
package signer

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// SignatureTTL is the replay window from spec §4.1.
const SignatureTTL = 60 * time.Second

// ClockSkewTolerance is the verifier-side allowance from spec §4.1.
const ClockSkewTolerance = 10 * time.Second

// SignHTTP signs req with RFC-9421-style headers: a signature-input header
// naming the covered components plus created/expires/keyid/nonce
// parameters, and a signature header carrying the base64 ECDSA signature
// over the derived signature base. The signature binds method, target URI,
// and body digest, so it cannot be replayed against a different request
// (spec §4.1: "binding = request-bound").
func (s *Signer) SignHTTP(req *http.Request, body []byte) error {
	now := time.Now().UTC()
	created := now.Unix()
	expires := now.Add(SignatureTTL).Unix()
	nonce, err := randomNonce()
	if err != nil {
		return fmt.Errorf("generate nonce: %w", err)
	}

	digest := sha256.Sum256(body)
	req.Header.Set("Content-Digest", "sha-256=:"+base64.StdEncoding.EncodeToString(digest[:])+":")

	sigParams := fmt.Sprintf(`("@method" "@target-uri" "content-digest");created=%d;expires=%d;keyid=%q;nonce=%q`,
		created, expires, s.KeyID(), nonce)
	req.Header.Set("Signature-Input", "sig1="+sigParams)

	base := signatureBase(req, sigParams)
	hash := sha256.Sum256([]byte(base))
	sig, err := s.SignMessage(hash[:])
	if err != nil {
		return fmt.Errorf("sign base: %w", err)
	}
	req.Header.Set("Signature", "sig1=:"+base64.StdEncoding.EncodeToString(sig)+":")
	return nil
}

func signatureBase(req *http.Request, sigParams string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "\"@method\": %s\n", strings.ToUpper(req.Method))
	fmt.Fprintf(&b, "\"@target-uri\": %s\n", req.URL.String())
	fmt.Fprintf(&b, "\"content-digest\": %s\n", req.Header.Get("Content-Digest"))
	fmt.Fprintf(&b, "\"@signature-params\": %s", sigParams)
	return b.String()
}

func randomNonce() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}

// VerifyFreshness is the server-side counterpart: it checks the
// created/expires window (widened by ClockSkewTolerance) against the
// current time, then checks replay via the installed NonceVerifier.
// Signature cryptographic verification itself is the caller's concern once
// it has resolved keyid -> public key; this function only enforces the
// framing rules from spec §4.1 (non-replayable, ±10s skew).
func VerifyFreshness(createdUnix, expiresUnix, nonce string, verifier NonceVerifier) error {
	if verifier == nil {
		return fmt.Errorf("no nonce verifier installed")
	}
	created, err := strconv.ParseInt(createdUnix, 10, 64)
	if err != nil {
		return fmt.Errorf("parse created: %w", err)
	}
	expires, err := strconv.ParseInt(expiresUnix, 10, 64)
	if err != nil {
		return fmt.Errorf("parse expires: %w", err)
	}
	now := time.Now().Unix()
	skew := int64(ClockSkewTolerance / time.Second)
	if now+skew < created || now-skew > expires {
		return fmt.Errorf("signature outside its validity window")
	}
	if !verifier.Consume(nonce, ClockSkewTolerance.Milliseconds()) {
		return fmt.Errorf("nonce replayed or expired")
	}
	return nil
}
