package registry

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/hashicorp/vault/api"

	"github.com/avolkens/device-dispatch-backend/interfaces"
)

// VaultRegistry reads device key material from HashiCorp Vault's KV v2
// secrets engine. Each device is one secret:
//
//	<mountPath>/data/<dataPath>/<deviceID>
//
// with "public_key" and "private_key" fields holding PEM strings. Either
// field may be absent for a partial pair.
type VaultRegistry struct {
	client    *api.Client
	mountPath string
	dataPath  string
	log       *slog.Logger
}

// NewVaultRegistry creates a Vault-backed registry. Token auth uses the
// provided token, or VAULT_TOKEN from the environment when empty.
func NewVaultRegistry(address, mountPath, dataPath, token string, log *slog.Logger) (*VaultRegistry, error) {
	config := api.DefaultConfig()
	config.Address = address
	config.HttpClient = &http.Client{Timeout: 30 * time.Second}

	client, err := api.NewClient(config)
	if err != nil {
		return nil, fmt.Errorf("failed to create Vault client: %w", err)
	}
	if token != "" {
		client.SetToken(token)
	}

	mountPath = strings.TrimSuffix(mountPath, "/")
	dataPath = strings.Trim(dataPath, "/")

	return &VaultRegistry{
		client:    client,
		mountPath: mountPath,
		dataPath:  dataPath,
		log:       log,
	}, nil
}

func (r *VaultRegistry) secretPath(deviceID interfaces.DeviceID) string {
	if r.dataPath == "" {
		return fmt.Sprintf("%s/data/%s", r.mountPath, deviceID)
	}
	return fmt.Sprintf("%s/data/%s/%s", r.mountPath, r.dataPath, deviceID)
}

// read fetches the device secret and extracts the named PEM field.
// A missing secret or missing field yields nil with no error; the
// callers decide whether a partial result is acceptable.
func (r *VaultRegistry) read(ctx context.Context, deviceID interfaces.DeviceID, field string) ([]byte, bool, error) {
	path := r.secretPath(deviceID)

	secret, err := r.client.Logical().ReadWithContext(ctx, path)
	if err != nil {
		r.log.Error("Failed to read from Vault",
			slog.String("path", path),
			slog.String("device", deviceID.String()),
			"err", err)
		return nil, false, fmt.Errorf("vault read %s: %w", deviceID, err)
	}
	if secret == nil || secret.Data == nil {
		return nil, false, nil
	}

	// KV v2 nests the payload under "data".
	data, ok := secret.Data["data"].(map[string]interface{})
	if !ok {
		return nil, true, fmt.Errorf("invalid data format in Vault response for %s", deviceID)
	}

	value, ok := data[field].(string)
	if !ok || value == "" {
		return nil, true, nil
	}
	return []byte(value), true, nil
}

// PublicKey returns the device's public key PEM.
func (r *VaultRegistry) PublicKey(ctx context.Context, deviceID interfaces.DeviceID) (interfaces.DevicePubkey, error) {
	key, exists, err := r.read(ctx, deviceID, "public_key")
	if err != nil {
		return nil, err
	}
	if !exists || key == nil {
		return nil, interfaces.ErrDeviceNotFound
	}
	return interfaces.DevicePubkey(key), nil
}

// KeyPair returns the device's key pair, possibly partial.
func (r *VaultRegistry) KeyPair(ctx context.Context, deviceID interfaces.DeviceID) (interfaces.KeyPair, error) {
	public, exists, err := r.read(ctx, deviceID, "public_key")
	if err != nil {
		return interfaces.KeyPair{}, err
	}
	if !exists {
		return interfaces.KeyPair{}, interfaces.ErrDeviceNotFound
	}

	private, _, err := r.read(ctx, deviceID, "private_key")
	if err != nil {
		return interfaces.KeyPair{}, err
	}

	return interfaces.KeyPair{
		Public:  interfaces.DevicePubkey(public),
		Private: interfaces.DevicePrivkey(private),
	}, nil
}

// Available checks whether Vault is initialized and unsealed.
func (r *VaultRegistry) Available(ctx context.Context) bool {
	healthCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	health, err := r.client.Sys().HealthWithContext(healthCtx)
	if err != nil {
		r.log.Debug("Vault health check failed", "err", err)
		return false
	}
	if !health.Initialized || health.Sealed {
		r.log.Debug("Vault is not available",
			slog.Bool("initialized", health.Initialized),
			slog.Bool("sealed", health.Sealed))
		return false
	}
	return true
}

// Name returns a unique identifier for this registry backend.
func (r *VaultRegistry) Name() string {
	return fmt.Sprintf("vault-%s-%s", r.mountPath, r.dataPath)
}
