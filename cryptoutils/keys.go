package cryptoutils

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

// DeviceKeyBits is the RSA modulus size used for device key pairs.
const DeviceKeyBits = 2048

// TaskKeySize is the byte length of the one-time symmetric key derived
// for each task.
const TaskKeySize = 32

// GenerateDeviceKeyPair creates a fresh RSA key pair in PEM format.
// Used by the devicectl keygen command and by tests.
func GenerateDeviceKeyPair() (DevicePubkey, DevicePrivkey, error) {
	key, err := rsa.GenerateKey(rand.Reader, DeviceKeyBits)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to generate RSA key: %w", err)
	}

	pubBytes, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to marshal public key: %w", err)
	}
	pubPEM := pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: pubBytes})

	privBytes, err := x509.MarshalPKCS8PrivateKey(key)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to marshal private key: %w", err)
	}
	privPEM := pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: privBytes})

	return DevicePubkey(pubPEM), DevicePrivkey(privPEM), nil
}

// DeriveTaskKey derives the one-time symmetric key for a task. Fresh
// high-entropy randomness is expanded with HKDF-SHA256 salted by the
// task identity, so the key is scoped to exactly one task and is never
// reproducible across tasks even under an identical random draw.
func DeriveTaskKey(taskID string) ([]byte, error) {
	seed := make([]byte, TaskKeySize)
	if _, err := io.ReadFull(rand.Reader, seed); err != nil {
		return nil, fmt.Errorf("failed to read randomness: %w", err)
	}

	salt := sha256.Sum256([]byte(taskID))
	kdf := hkdf.New(sha256.New, seed, salt[:], []byte("task-key"))

	key := make([]byte, TaskKeySize)
	if _, err := io.ReadFull(kdf, key); err != nil {
		return nil, fmt.Errorf("failed to derive task key: %w", err)
	}
	return key, nil
}
