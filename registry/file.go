package registry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/avolkens/device-dispatch-backend/interfaces"
)

// FileRegistry reads device key material from a directory tree:
//
//	<root>/<device-id>/public.pem
//	<root>/<device-id>/private.pem
//
// Entries are re-read on every lookup, so key rotation is a file swap
// with no server restart. Device id validation keeps lookups inside the
// root directory.
type FileRegistry struct {
	root string
	log  *slog.Logger
}

// NewFileRegistry creates a file-backed registry rooted at the given
// directory. The directory must exist.
func NewFileRegistry(root string, log *slog.Logger) (*FileRegistry, error) {
	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("registry root: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("registry root %s is not a directory", root)
	}
	return &FileRegistry{root: root, log: log}, nil
}

func (r *FileRegistry) readKeyFile(deviceID interfaces.DeviceID, name string) ([]byte, error) {
	if err := deviceID.Validate(); err != nil {
		return nil, interfaces.ErrDeviceNotFound
	}
	data, err := os.ReadFile(filepath.Join(r.root, deviceID.String(), name))
	if os.IsNotExist(err) {
		return nil, interfaces.ErrDeviceNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read %s for %s: %w", name, deviceID, err)
	}
	return data, nil
}

// PublicKey returns the device's public key PEM.
func (r *FileRegistry) PublicKey(_ context.Context, deviceID interfaces.DeviceID) (interfaces.DevicePubkey, error) {
	data, err := r.readKeyFile(deviceID, "public.pem")
	if err != nil {
		return nil, err
	}
	return interfaces.DevicePubkey(data), nil
}

// KeyPair returns the device's key pair. A present public key with a
// missing private key yields a partial pair; only a fully absent entry
// is ErrDeviceNotFound.
func (r *FileRegistry) KeyPair(ctx context.Context, deviceID interfaces.DeviceID) (interfaces.KeyPair, error) {
	var pair interfaces.KeyPair

	public, err := r.readKeyFile(deviceID, "public.pem")
	if err == nil {
		pair.Public = interfaces.DevicePubkey(public)
	} else if !errors.Is(err, interfaces.ErrDeviceNotFound) {
		return interfaces.KeyPair{}, err
	}

	private, err := r.readKeyFile(deviceID, "private.pem")
	if err == nil {
		pair.Private = interfaces.DevicePrivkey(private)
	} else if !errors.Is(err, interfaces.ErrDeviceNotFound) {
		return interfaces.KeyPair{}, err
	}

	if len(pair.Public) == 0 && len(pair.Private) == 0 {
		return interfaces.KeyPair{}, interfaces.ErrDeviceNotFound
	}
	return pair, nil
}

// Name returns a unique identifier for this registry backend.
func (r *FileRegistry) Name() string {
	return "file-" + filepath.Base(r.root)
}
