// Package crypto encrypts stored platform secrets at rest. Tokens and
// passwords must be recoverable for re-login, so this is AES-256-GCM rather
// than a hash.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"io"
)

type AEAD struct{ aead cipher.AEAD }

// New builds an AEAD from a 32-byte key.
func New(key []byte) (*AEAD, error) {
	if len(key) != 32 {
		return nil, fmt.Errorf("crypto: key must be 32 bytes (got %d)", len(key))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	a, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	return &AEAD{aead: a}, nil
}

// EncryptString seals plaintext with a fresh nonce; output is base64 of
// nonce||ciphertext. Empty input round-trips to empty so optional columns
// stay empty.
func (a *AEAD) EncryptString(plaintext string) (string, error) {
	if plaintext == "" {
		return "", nil
	}
	nonce := make([]byte, a.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", err
	}
	ct := a.aead.Seal(nil, nonce, []byte(plaintext), nil)
	return base64.RawStdEncoding.EncodeToString(append(nonce, ct...)), nil
}

func (a *AEAD) DecryptString(ciphertextB64 string) (string, error) {
	if ciphertextB64 == "" {
		return "", nil
	}
	buf, err := base64.RawStdEncoding.DecodeString(ciphertextB64)
	if err != nil {
		return "", err
	}
	ns := a.aead.NonceSize()
	if len(buf) < ns {
		return "", fmt.Errorf("crypto: ciphertext too short")
	}
	pt, err := a.aead.Open(nil, buf[:ns], buf[ns:], nil)
	if err != nil {
		return "", err
	}
	return string(pt), nil
}
