package cryptoutils

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
)

// EncryptWithPublicKey encrypts data with RSA-OAEP (SHA-256) under the
// given public key PEM. It is used both to wrap one-time task keys for a
// device and to produce liveness challenge ciphers. OAEP limits the
// plaintext to the modulus size minus padding, which comfortably fits
// 32-byte symmetric keys and short challenges.
func EncryptWithPublicKey(publicKeyPEM DevicePubkey, data []byte) ([]byte, error) {
	pub, err := publicKeyPEM.GetRSAPublicKey()
	if err != nil {
		return nil, err
	}

	out, err := rsa.EncryptOAEP(sha256.New(), rand.Reader, pub, data, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to encrypt: %w", err)
	}
	return out, nil
}

// DecryptWithPrivateKey decrypts data produced by EncryptWithPublicKey
// using the corresponding private key PEM.
func DecryptWithPrivateKey(privateKeyPEM DevicePrivkey, encryptedData []byte) ([]byte, error) {
	priv, err := privateKeyPEM.GetRSAPrivateKey()
	if err != nil {
		return nil, err
	}

	out, err := rsa.DecryptOAEP(sha256.New(), rand.Reader, priv, encryptedData, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt: %w", err)
	}
	return out, nil
}

// SealPayload encrypts a task payload under its one-time symmetric key
// with AES-GCM. Format: [12-byte nonce][ciphertext]. Together with the
// RSA-wrapped key this forms the hybrid scheme: the bulk payload travels
// under the symmetric key, only the small key travels asymmetrically.
func SealPayload(key, payload []byte) ([]byte, error) {
	aesBlock, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}

	aesGCM, err := cipher.NewGCM(aesBlock)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}

	nonce := make([]byte, aesGCM.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}

	return append(nonce, aesGCM.Seal(nil, nonce, payload, nil)...), nil
}

// OpenPayload decrypts a payload produced by SealPayload.
func OpenPayload(key, sealed []byte) ([]byte, error) {
	aesBlock, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}

	aesGCM, err := cipher.NewGCM(aesBlock)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}

	if len(sealed) < aesGCM.NonceSize() {
		return nil, errors.New("sealed payload too short")
	}

	nonce := sealed[:aesGCM.NonceSize()]
	ciphertext := sealed[aesGCM.NonceSize():]

	plaintext, err := aesGCM.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt: %w", err)
	}
	return plaintext, nil
}
