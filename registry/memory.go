package registry

import (
	"context"
	"sync"

	"github.com/avolkens/device-dispatch-backend/interfaces"
)

// MemoryRegistry is an in-process key registry for tests, the devicectl
// simulator, and single-node deployments seeded at startup.
type MemoryRegistry struct {
	mu    sync.RWMutex
	pairs map[interfaces.DeviceID]interfaces.KeyPair
}

// NewMemoryRegistry creates an empty in-process registry.
func NewMemoryRegistry() *MemoryRegistry {
	return &MemoryRegistry{pairs: make(map[interfaces.DeviceID]interfaces.KeyPair)}
}

// Register stores a device's key pair, replacing any previous entry.
func (r *MemoryRegistry) Register(deviceID interfaces.DeviceID, pair interfaces.KeyPair) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pairs[deviceID] = pair
}

// PublicKey returns the registered public key PEM.
func (r *MemoryRegistry) PublicKey(_ context.Context, deviceID interfaces.DeviceID) (interfaces.DevicePubkey, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	pair, ok := r.pairs[deviceID]
	if !ok || len(pair.Public) == 0 {
		return nil, interfaces.ErrDeviceNotFound
	}
	return pair.Public, nil
}

// KeyPair returns the registered key pair, possibly partial.
func (r *MemoryRegistry) KeyPair(_ context.Context, deviceID interfaces.DeviceID) (interfaces.KeyPair, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	pair, ok := r.pairs[deviceID]
	if !ok {
		return interfaces.KeyPair{}, interfaces.ErrDeviceNotFound
	}
	return pair, nil
}

// Name returns a unique identifier for this registry backend.
func (r *MemoryRegistry) Name() string {
	return "memory"
}
