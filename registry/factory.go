package registry

import (
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"strings"

	"github.com/avolkens/device-dispatch-backend/interfaces"
)

// RegistryFactory creates key registry backends from URI strings.
type RegistryFactory struct {
	log *slog.Logger
}

// NewRegistryFactory creates a new factory instance.
func NewRegistryFactory(log *slog.Logger) *RegistryFactory {
	return &RegistryFactory{log: log}
}

// RegistryFor creates a key registry from a location URI.
//
// Supported schemes:
//   - memory:// - empty in-process registry, seeded programmatically
//   - file:///path/to/keys - directory tree of PEM files
//   - vault://host:port/mount/path?token=...&tls=true - Vault KV v2
//   - s3://[ACCESS_KEY:SECRET_KEY@]bucket/prefix?region=... - public keys only
//
// Returns an error if the URI is invalid or the scheme is unsupported.
func (rf *RegistryFactory) RegistryFor(locationURI string) (interfaces.KeyRegistry, error) {
	u, err := url.Parse(locationURI)
	if err != nil {
		return nil, fmt.Errorf("invalid registry URI: %w", err)
	}

	switch strings.ToLower(u.Scheme) {
	case "memory":
		rf.log.Debug("Creating in-process key registry")
		return NewMemoryRegistry(), nil
	case "file":
		return rf.createFileRegistry(u)
	case "vault":
		return rf.createVaultRegistry(u)
	case "s3":
		return rf.createS3Registry(u)
	default:
		return nil, fmt.Errorf("unsupported registry scheme: %s", u.Scheme)
	}
}

// createFileRegistry creates a filesystem registry.
// URI format: file:///absolute/path/ or file://./relative/path/
func (rf *RegistryFactory) createFileRegistry(u *url.URL) (interfaces.KeyRegistry, error) {
	rf.log.Debug("Creating file registry", slog.String("uri", u.String()))

	path := u.Path
	if u.Host != "" {
		path = u.Host + "/" + strings.TrimPrefix(path, "/")
	}
	if path == "" {
		return nil, fmt.Errorf("empty path in file URI: %s", u.String())
	}

	return NewFileRegistry(path, rf.log)
}

// createVaultRegistry creates a Vault KV v2 registry.
// URI format: vault://host:port/mount/data-path?token=...&tls=true
// The token falls back to the VAULT_TOKEN environment variable.
func (rf *RegistryFactory) createVaultRegistry(u *url.URL) (interfaces.KeyRegistry, error) {
	rf.log.Debug("Creating vault registry", slog.String("uri", u.Redacted()))

	parts := strings.SplitN(strings.Trim(u.Path, "/"), "/", 2)
	if parts[0] == "" {
		return nil, fmt.Errorf("vault URI missing mount path: %s", u.Redacted())
	}
	mountPath := parts[0]
	dataPath := ""
	if len(parts) == 2 {
		dataPath = parts[1]
	}

	scheme := "http"
	if u.Query().Get("tls") == "true" {
		scheme = "https"
	}
	address := fmt.Sprintf("%s://%s", scheme, u.Host)

	token := u.Query().Get("token")
	if token == "" {
		token = os.Getenv("VAULT_TOKEN")
	}

	return NewVaultRegistry(address, mountPath, dataPath, token, rf.log)
}

// createS3Registry creates an S3 public key registry.
// URI format: s3://[ACCESS_KEY:SECRET_KEY@]bucket/prefix?region=us-west-2&endpoint=custom.s3.com
func (rf *RegistryFactory) createS3Registry(u *url.URL) (interfaces.KeyRegistry, error) {
	rf.log.Debug("Creating s3 registry", slog.String("uri", u.Redacted()))

	bucketName := u.Host
	if bucketName == "" {
		return nil, fmt.Errorf("s3 URI missing bucket name: %s", u.Redacted())
	}
	prefix := strings.TrimPrefix(u.Path, "/")

	query := u.Query()
	region := query.Get("region")
	if region == "" {
		region = "us-east-1"
	}
	endpoint := query.Get("endpoint")

	var accessKey, secretKey string
	if u.User != nil {
		accessKey = u.User.Username()
		secretKey, _ = u.User.Password()
	} else {
		rf.log.Debug("No credentials provided, S3 bucket assumed to be public")
	}

	return NewS3Registry(bucketName, prefix, region, endpoint, accessKey, secretKey, rf.log)
}
