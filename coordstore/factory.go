package coordstore

import (
	"fmt"
	"log/slog"
	"net/url"
	"strings"

	"github.com/avolkens/device-dispatch-backend/interfaces"
)

// StoreFactory creates coordination stores from URI strings.
type StoreFactory struct {
	log *slog.Logger
}

// NewStoreFactory creates a new factory instance.
func NewStoreFactory(log *slog.Logger) *StoreFactory {
	return &StoreFactory{log: log}
}

// StoreFor creates a coordination store from a location URI.
//
// Supported schemes:
//   - redis:// and rediss:// - Redis, the production store
//   - memory:// - in-process store for tests and single-node use
//
// Returns an error if the URI is invalid or the scheme is unsupported.
func (f *StoreFactory) StoreFor(locationURI string) (interfaces.CoordinationStore, error) {
	u, err := url.Parse(locationURI)
	if err != nil {
		return nil, fmt.Errorf("invalid store URI: %w", err)
	}

	switch strings.ToLower(u.Scheme) {
	case "redis", "rediss":
		f.log.Debug("Creating redis coordination store", slog.String("uri", u.Redacted()))
		return NewRedisStore(locationURI, f.log)
	case "memory":
		f.log.Debug("Creating in-process coordination store")
		return NewMemoryStore(f.log), nil
	default:
		return nil, fmt.Errorf("unsupported coordination store scheme: %s", u.Scheme)
	}
}
