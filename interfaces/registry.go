package interfaces

import (
	"context"
	"errors"

	"github.com/avolkens/device-dispatch-backend/cryptoutils"
)

type DevicePubkey = cryptoutils.DevicePubkey
type DevicePrivkey = cryptoutils.DevicePrivkey

// ErrDeviceNotFound is returned when a device has no registry entry.
var ErrDeviceNotFound = errors.New("device not found in key registry")

// KeyPair is a device's registered RSA key material. Either half may be
// absent: public-only registries (key distribution mirrors) return a
// partial pair.
//
// Note on the trust model: the private half lives server-side so the
// liveness verifier can decrypt challenge ciphers. The same pair is also
// the wrap target for task dispatch, which makes the server a custodian
// of both trust purposes. This is the registered design, not an accident
// of the implementation.
type KeyPair struct {
	Public  DevicePubkey
	Private DevicePrivkey
}

// Complete reports whether both halves are present.
func (kp KeyPair) Complete() bool {
	return len(kp.Public) != 0 && len(kp.Private) != 0
}

// KeyRegistry holds device key material. It is read-only from the
// dispatch core's perspective; registration and rotation happen outside.
type KeyRegistry interface {
	// PublicKey returns the device's registered public key PEM, or
	// ErrDeviceNotFound.
	PublicKey(ctx context.Context, deviceID DeviceID) (DevicePubkey, error)

	// KeyPair returns the device's key pair, possibly partial. Returns
	// ErrDeviceNotFound only when the device has no entry at all.
	KeyPair(ctx context.Context, deviceID DeviceID) (KeyPair, error)

	// Name returns an identifier for logging.
	Name() string
}
