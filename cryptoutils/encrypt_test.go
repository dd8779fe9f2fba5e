package cryptoutils

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncryptDecryptRoundTrip(t *testing.T) {
	pub, priv, err := GenerateDeviceKeyPair()
	require.NoError(t, err)

	plaintext := []byte("liveness challenge 42")

	cipher, err := EncryptWithPublicKey(pub, plaintext)
	require.NoError(t, err)
	assert.NotEqual(t, plaintext, cipher)

	decrypted, err := DecryptWithPrivateKey(priv, cipher)
	require.NoError(t, err)
	assert.Equal(t, plaintext, decrypted)
}

func TestDecryptWithWrongKey(t *testing.T) {
	pub, _, err := GenerateDeviceKeyPair()
	require.NoError(t, err)
	_, otherPriv, err := GenerateDeviceKeyPair()
	require.NoError(t, err)

	cipher, err := EncryptWithPublicKey(pub, []byte("secret"))
	require.NoError(t, err)

	_, err = DecryptWithPrivateKey(otherPriv, cipher)
	assert.Error(t, err)
}

func TestDeriveTaskKey(t *testing.T) {
	key1, err := DeriveTaskKey("task-a")
	require.NoError(t, err)
	assert.Len(t, key1, TaskKeySize)

	// Same task id twice still yields distinct keys: the derivation is
	// seeded with fresh randomness, not just the id.
	key2, err := DeriveTaskKey("task-a")
	require.NoError(t, err)
	assert.NotEqual(t, key1, key2)
}

func TestSealOpenPayload(t *testing.T) {
	key, err := DeriveTaskKey("task-b")
	require.NoError(t, err)

	payload := []byte("#!/bin/sh\necho hello\n")

	sealed, err := SealPayload(key, payload)
	require.NoError(t, err)

	opened, err := OpenPayload(key, sealed)
	require.NoError(t, err)
	assert.Equal(t, payload, opened)

	// Tampering must fail authentication.
	sealed[len(sealed)-1] ^= 0xff
	_, err = OpenPayload(key, sealed)
	assert.Error(t, err)
}

func TestWrapUnwrapTaskKey(t *testing.T) {
	pub, priv, err := GenerateDeviceKeyPair()
	require.NoError(t, err)

	key, err := DeriveTaskKey("task-c")
	require.NoError(t, err)

	wrapped, err := EncryptWithPublicKey(pub, key)
	require.NoError(t, err)

	unwrapped, err := DecryptWithPrivateKey(priv, wrapped)
	require.NoError(t, err)
	assert.Equal(t, key, unwrapped)
}

func TestParseInvalidPEM(t *testing.T) {
	assert.Error(t, DevicePubkey("not a pem").Validate())
	assert.Error(t, DevicePrivkey("not a pem").Validate())
}
