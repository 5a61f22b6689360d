// Copyright 2025 Jinn Network
//
// CID construction and legacy-digest reconciliation (spec §4.2). Grounded on
// pkg/kvdb/adapter.go's KV shape, generalized to content addressing via the
// real ipfs/multiformats stack rather than the teacher's raw-bytes KV.
package contentstore

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ipfs/go-cid"
	mbase "github.com/multiformats/go-multibase"
	mh "github.com/multiformats/go-multihash"
)

const (
	codecRaw   = 0x55
	codecDagPB = 0x70
)

// encodeCID builds a CIDv1 whose sha2-256 multihash body is digest, under
// the given codec, and returns both the canonical (base32, lowercase, no
// padding) string form and the hex form used on-chain.
func encodeCID(digest []byte, codec uint64) (string, string, error) {
	mhash, err := mh.Encode(digest, mh.SHA2_256)
	if err != nil {
		return "", "", fmt.Errorf("multihash encode: %w", err)
	}
	c := cid.NewCidV1(codec, mh.Multihash(mhash))

	canonical, err := c.StringOfBase(mbase.Base32)
	if err != nil {
		return "", "", fmt.Errorf("base32 encode: %w", err)
	}
	return canonical, "0x" + digestHex(digest), nil
}

func digestHex(digest []byte) string {
	const hextable = "0123456789abcdef"
	out := make([]byte, len(digest)*2)
	for i, v := range digest {
		out[i*2] = hextable[v>>4]
		out[i*2+1] = hextable[v&0x0f]
	}
	return string(out)
}

// hexCIDCandidates returns the two historic hex-prefixed CID forms spec
// §4.2 names: dag-pb (f01701220) and raw (f01551220), both over the same
// 32-byte digest.
func hexCIDCandidates(digestHexNo0x string) []string {
	return []string{
		"f01701220" + digestHexNo0x,
		"f01551220" + digestHexNo0x,
	}
}

// base32DagPBCID returns the base32 dag-pb CID for digest, optionally
// suffixed with "/<decimalRequestID>" for the legacy directory-pathed
// gateway form spec §4.2 describes.
func base32DagPBCID(digest []byte, decimalRequestID string) (string, error) {
	canonical, _, err := encodeCID(digest, codecDagPB)
	if err != nil {
		return "", err
	}
	if decimalRequestID == "" {
		return canonical, nil
	}
	return canonical + "/" + decimalRequestID, nil
}

// DecimalRequestID interprets a 32-byte hex request id as an unsigned
// big-integer in decimal (spec §4.2).
func DecimalRequestID(requestIDHex string) string {
	h := strings.TrimPrefix(requestIDHex, "0x")
	n := new(big.Int)
	n.SetString(h, 16)
	return n.String()
}

// LegacyCandidates enumerates, in resolution order, the CID strings to try
// when resolving a legacy digest (spec §4.2, testable property 5):
//  1. if a request id is supplied, the base32 dag-pb CID suffixed with
//     "/<decimal request id>",
//  2. then the hex dag-pb and hex raw forms of the same digest.
func LegacyCandidates(digestHex string, requestID string) ([]string, error) {
	digestHex = strings.TrimPrefix(digestHex, "0x")
	digest, err := hexToBytes(digestHex)
	if err != nil {
		return nil, fmt.Errorf("decode digest: %w", err)
	}

	var out []string
	if requestID != "" {
		dagCID, err := base32DagPBCID(digest, DecimalRequestID(requestID))
		if err != nil {
			return nil, err
		}
		out = append(out, dagCID)
	}
	out = append(out, hexCIDCandidates(digestHex)...)
	return out, nil
}

func hexToBytes(s string) ([]byte, error) {
	if len(s)%2 != 0 {
		return nil, fmt.Errorf("odd-length hex string")
	}
	out := make([]byte, len(s)/2)
	for i := 0; i < len(out); i++ {
		hi, err := hexNibble(s[i*2])
		if err != nil {
			return nil, err
		}
		lo, err := hexNibble(s[i*2+1])
		if err != nil {
			return nil, err
		}
		out[i] = hi<<4 | lo
	}
	return out, nil
}

func hexNibble(b byte) (byte, error) {
	switch {
	case b >= '0' && b <= '9':
		return b - '0', nil
	case b >= 'a' && b <= 'f':
		return b - 'a' + 10, nil
	case b >= 'A' && b <= 'F':
		return b - 'A' + 10, nil
	default:
		return 0, fmt.Errorf("invalid hex digit %q", b)
	}
}
