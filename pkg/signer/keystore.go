// Copyright 2025 Jinn Network
//
// Keystore loading: scrypt-KDF + AES-128-CTR, MAC-verified before decrypt
// (spec §4.1). Grounded on pkg/crypto/bls/key_manager.go's
// verify-then-decrypt, functional-option constructor shape.
package signer

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"golang.org/x/crypto/scrypt"
)

// ErrMACMismatch means the keystore file was tampered with or the
// passphrase is wrong; the ciphertext is never touched in this case.
var ErrMACMismatch = errors.New("keystore MAC verification failed")

// keystoreFile is the on-disk encrypted-key envelope.
type keystoreFile struct {
	Version int    `json:"version"`
	Salt    string `json:"salt"`
	IV      string `json:"iv"`
	MAC     string `json:"mac"`
	Cipher  string `json:"ciphertext"`
	N       int    `json:"scrypt_n"`
	R       int    `json:"scrypt_r"`
	P       int    `json:"scrypt_p"`
}

const (
	defaultScryptN = 1 << 18
	defaultScryptR = 8
	defaultScryptP = 1
	scryptKeyLen   = 32 // 16 for AES-128 + 16 for the MAC key
)

// LoadKeystore decrypts the keystore at path with passphrase, verifying the
// MAC before attempting AES decryption (spec §4.1: "verify a MAC before
// decrypt").
func LoadKeystore(path string, passphrase []byte) ([]byte, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read keystore: %w", err)
	}
	var ks keystoreFile
	if err := json.Unmarshal(raw, &ks); err != nil {
		return nil, fmt.Errorf("parse keystore: %w", err)
	}

	salt, err := hex.DecodeString(ks.Salt)
	if err != nil {
		return nil, fmt.Errorf("decode salt: %w", err)
	}
	iv, err := hex.DecodeString(ks.IV)
	if err != nil {
		return nil, fmt.Errorf("decode iv: %w", err)
	}
	wantMAC, err := hex.DecodeString(ks.MAC)
	if err != nil {
		return nil, fmt.Errorf("decode mac: %w", err)
	}
	ciphertext, err := hex.DecodeString(ks.Cipher)
	if err != nil {
		return nil, fmt.Errorf("decode ciphertext: %w", err)
	}

	derived, err := scrypt.Key(passphrase, salt, ks.N, ks.R, ks.P, scryptKeyLen)
	if err != nil {
		return nil, fmt.Errorf("derive key: %w", err)
	}
	aesKey, macKey := derived[:16], derived[16:]

	mac := hmac.New(sha256.New, macKey)
	mac.Write(ciphertext)
	gotMAC := mac.Sum(nil)
	if !hmac.Equal(gotMAC, wantMAC) {
		return nil, ErrMACMismatch
	}

	block, err := aes.NewCipher(aesKey)
	if err != nil {
		return nil, fmt.Errorf("new cipher: %w", err)
	}
	stream := cipher.NewCTR(block, iv)
	plaintext := make([]byte, len(ciphertext))
	stream.XORKeyStream(plaintext, ciphertext)
	return plaintext, nil
}

// WriteKeystore encrypts privateKey under passphrase using the same
// scrypt+AES-128-CTR+HMAC scheme LoadKeystore expects. Exposed for tooling
// and tests; the worker process only ever reads a keystore, never writes one
// at runtime.
func WriteKeystore(path string, privateKey, passphrase []byte, randSource func([]byte) error) error {
	salt := make([]byte, 32)
	iv := make([]byte, aes.BlockSize)
	if err := randSource(salt); err != nil {
		return fmt.Errorf("read salt: %w", err)
	}
	if err := randSource(iv); err != nil {
		return fmt.Errorf("read iv: %w", err)
	}

	derived, err := scrypt.Key(passphrase, salt, defaultScryptN, defaultScryptR, defaultScryptP, scryptKeyLen)
	if err != nil {
		return fmt.Errorf("derive key: %w", err)
	}
	aesKey, macKey := derived[:16], derived[16:]

	block, err := aes.NewCipher(aesKey)
	if err != nil {
		return fmt.Errorf("new cipher: %w", err)
	}
	stream := cipher.NewCTR(block, iv)
	ciphertext := make([]byte, len(privateKey))
	stream.XORKeyStream(ciphertext, privateKey)

	mac := hmac.New(sha256.New, macKey)
	mac.Write(ciphertext)

	ks := keystoreFile{
		Version: 1,
		Salt:    hex.EncodeToString(salt),
		IV:      hex.EncodeToString(iv),
		MAC:     hex.EncodeToString(mac.Sum(nil)),
		Cipher:  hex.EncodeToString(ciphertext),
		N:       defaultScryptN,
		R:       defaultScryptR,
		P:       defaultScryptP,
	}
	out, err := json.Marshal(ks)
	if err != nil {
		return fmt.Errorf("marshal keystore: %w", err)
	}
	return os.WriteFile(path, out, 0o600)
}
