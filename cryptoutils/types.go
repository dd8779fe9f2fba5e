package cryptoutils

import (
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
)

// DevicePubkey is a device's registered public key in PEM format
// (PKIX "PUBLIC KEY" block containing an RSA key).
type DevicePubkey []byte

// DevicePrivkey is the matching private key in PEM format (PKCS#8
// "PRIVATE KEY" or PKCS#1 "RSA PRIVATE KEY" block).
type DevicePrivkey []byte

// GetRSAPublicKey parses the PEM block and returns the RSA public key.
func (k DevicePubkey) GetRSAPublicKey() (*rsa.PublicKey, error) {
	block, _ := pem.Decode(k)
	if block == nil {
		return nil, errors.New("failed to decode public key PEM")
	}

	parsed, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		// Try PKCS#1 format if PKIX fails
		rsaKey, pkcs1Err := x509.ParsePKCS1PublicKey(block.Bytes)
		if pkcs1Err != nil {
			return nil, fmt.Errorf("failed to parse public key: %w", err)
		}
		return rsaKey, nil
	}

	rsaKey, ok := parsed.(*rsa.PublicKey)
	if !ok {
		return nil, errors.New("not an RSA public key")
	}
	return rsaKey, nil
}

// GetRSAPrivateKey parses the PEM block and returns the RSA private key.
func (k DevicePrivkey) GetRSAPrivateKey() (*rsa.PrivateKey, error) {
	block, _ := pem.Decode(k)
	if block == nil {
		return nil, errors.New("failed to decode private key PEM")
	}

	parsed, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		// Try PKCS#1 format if PKCS#8 fails
		rsaKey, pkcs1Err := x509.ParsePKCS1PrivateKey(block.Bytes)
		if pkcs1Err != nil {
			return nil, fmt.Errorf("failed to parse private key: %w", err)
		}
		return rsaKey, nil
	}

	rsaKey, ok := parsed.(*rsa.PrivateKey)
	if !ok {
		return nil, errors.New("not an RSA private key")
	}
	return rsaKey, nil
}

// Validate checks that the public key parses.
func (k DevicePubkey) Validate() error {
	_, err := k.GetRSAPublicKey()
	return err
}

// Validate checks that the private key parses.
func (k DevicePrivkey) Validate() error {
	_, err := k.GetRSAPrivateKey()
	return err
}
