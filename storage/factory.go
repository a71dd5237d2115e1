package storage

import (
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"strings"

	"github.com/shardguard/recovery-backend/interfaces"
)

// StoreFactory creates recovery stores from location URIs.
type StoreFactory struct {
	log *slog.Logger
}

// NewStoreFactory creates a new factory instance.
func NewStoreFactory(logger *slog.Logger) *StoreFactory {
	return &StoreFactory{log: logger}
}

// StoreFor creates a recovery store from a location URI.
//
// Supported schemes:
//   - memory:// - In-process storage
//   - file:// - Local filesystem storage
//   - sqlite:// - Embedded SQLite database
//   - s3:// - Amazon S3 or compatible object storage
//   - vault:// - HashiCorp Vault KV v2
//
// Returns an error wrapping ErrInvalidStoreURI if the URI is invalid or the
// scheme is unsupported.
func (sf *StoreFactory) StoreFor(locationURI string) (interfaces.RecoveryStore, error) {
	u, err := url.Parse(locationURI)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", interfaces.ErrInvalidStoreURI, err)
	}

	switch strings.ToLower(u.Scheme) {
	case "memory":
		return NewMemoryStore(), nil
	case "file":
		return sf.createFileStore(u)
	case "sqlite":
		return sf.createSQLiteStore(u)
	case "s3":
		return sf.createS3Store(u)
	case "vault":
		return sf.createVaultStore(u)
	default:
		return nil, fmt.Errorf("%w: unsupported store scheme: %s", interfaces.ErrInvalidStoreURI, u.Scheme)
	}
}

// createFileStore creates a filesystem store.
// URI format: file:///absolute/path/ or file://./relative/path/
func (sf *StoreFactory) createFileStore(u *url.URL) (interfaces.RecoveryStore, error) {
	sf.log.Debug("Creating file store", slog.String("uri", u.String()))

	path := u.Path
	if u.Host != "" {
		path = u.Host + "/" + strings.TrimPrefix(path, "/")
	}
	if path == "" {
		return nil, fmt.Errorf("%w: empty path in file URI: %s", interfaces.ErrInvalidStoreURI, u.String())
	}

	return NewFileStore(path, sf.log)
}

// createSQLiteStore creates an embedded SQLite store.
// URI format: sqlite:///absolute/path/recovery.db
func (sf *StoreFactory) createSQLiteStore(u *url.URL) (interfaces.RecoveryStore, error) {
	sf.log.Debug("Creating sqlite store", slog.String("uri", u.String()))

	path := u.Path
	if u.Host != "" {
		path = u.Host + "/" + strings.TrimPrefix(path, "/")
	}
	if path == "" {
		return nil, fmt.Errorf("%w: empty path in sqlite URI: %s", interfaces.ErrInvalidStoreURI, u.String())
	}

	return NewSQLiteStore(path, sf.log)
}

// createS3Store creates an S3 or S3-compatible store.
// URI format: s3://[ACCESS_KEY:SECRET_KEY@]bucket-name/prefix/?region=us-west-2&endpoint=custom.s3.com
func (sf *StoreFactory) createS3Store(u *url.URL) (interfaces.RecoveryStore, error) {
	sf.log.Debug("Creating S3 store", slog.String("uri", u.String()))

	bucketName := u.Host
	if bucketName == "" {
		return nil, fmt.Errorf("%w: missing bucket name in S3 URI", interfaces.ErrInvalidStoreURI)
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
	}

	return NewS3Store(bucketName, prefix, region, endpoint, accessKey, secretKey, sf.log)
}

// createVaultStore creates a HashiCorp Vault store.
// URI format: vault://host:8200/mount/prefix?token=...&scheme=https
// The token falls back to the VAULT_TOKEN environment variable.
func (sf *StoreFactory) createVaultStore(u *url.URL) (interfaces.RecoveryStore, error) {
	sf.log.Debug("Creating Vault store", slog.String("uri", u.Host))

	if u.Host == "" {
		return nil, fmt.Errorf("%w: missing host in vault URI", interfaces.ErrInvalidStoreURI)
	}

	query := u.Query()
	scheme := query.Get("scheme")
	if scheme == "" {
		scheme = "https"
	}
	address := fmt.Sprintf("%s://%s", scheme, u.Host)

	token := query.Get("token")
	if token == "" {
		token = os.Getenv("VAULT_TOKEN")
	}
	if token == "" {
		return nil, fmt.Errorf("%w: vault token not provided in URI or VAULT_TOKEN", interfaces.ErrInvalidStoreURI)
	}

	parts := strings.SplitN(strings.Trim(u.Path, "/"), "/", 2)
	mountPath := "secret"
	dataPath := "recovery"
	if len(parts) > 0 && parts[0] != "" {
		mountPath = parts[0]
	}
	if len(parts) > 1 && parts[1] != "" {
		dataPath = parts[1]
	}

	return NewVaultStore(address, token, mountPath, dataPath, sf.log)
}
