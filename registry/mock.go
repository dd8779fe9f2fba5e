package registry

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/avolkens/device-dispatch-backend/interfaces"
)

// MockRegistry is a testify mock of interfaces.KeyRegistry for
// dispatcher and verifier tests that need backend failures on demand.
type MockRegistry struct {
	mock.Mock
}

func (m *MockRegistry) PublicKey(ctx context.Context, deviceID interfaces.DeviceID) (interfaces.DevicePubkey, error) {
	args := m.Called(ctx, deviceID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(interfaces.DevicePubkey), args.Error(1)
}

func (m *MockRegistry) KeyPair(ctx context.Context, deviceID interfaces.DeviceID) (interfaces.KeyPair, error) {
	args := m.Called(ctx, deviceID)
	return args.Get(0).(interfaces.KeyPair), args.Error(1)
}

func (m *MockRegistry) Name() string {
	return "mock"
}
