package crypto

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testKey() []byte { return bytes.Repeat([]byte{0x42}, 32) }

func TestNew_RejectsBadKeySize(t *testing.T) {
	_, err := New(make([]byte, 16))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "32 bytes")
}

func TestRoundTrip(t *testing.T) {
	a, err := New(testKey())
	require.NoError(t, err)

	ct, err := a.EncryptString("refresh-token-secret")
	require.NoError(t, err)
	assert.NotEqual(t, "refresh-token-secret", ct)

	pt, err := a.DecryptString(ct)
	require.NoError(t, err)
	assert.Equal(t, "refresh-token-secret", pt)
}

func TestEmptyRoundTripsEmpty(t *testing.T) {
	a, err := New(testKey())
	require.NoError(t, err)

	ct, err := a.EncryptString("")
	require.NoError(t, err)
	assert.Empty(t, ct)

	pt, err := a.DecryptString("")
	require.NoError(t, err)
	assert.Empty(t, pt)
}

func TestNonceIsFresh(t *testing.T) {
	a, err := New(testKey())
	require.NoError(t, err)

	c1, err := a.EncryptString("same plaintext")
	require.NoError(t, err)
	c2, err := a.EncryptString("same plaintext")
	require.NoError(t, err)
	assert.NotEqual(t, c1, c2)
}

func TestDecrypt_RejectsTampering(t *testing.T) {
	a, err := New(testKey())
	require.NoError(t, err)

	_, err = a.DecryptString("not base64!!!")
	assert.Error(t, err)

	_, err = a.DecryptString("c2hvcnQ") // valid base64, shorter than a nonce
	assert.Error(t, err)

	other, err := New(bytes.Repeat([]byte{0x24}, 32))
	require.NoError(t, err)
	ct, err := other.EncryptString("secret")
	require.NoError(t, err)
	_, err = a.DecryptString(ct)
	assert.Error(t, err, "wrong key must not decrypt")
}
