package bagelclient

import (
	"context"

	"github.com/bageldb/libraries/internal/auth"
	"github.com/bageldb/libraries/pkg/bagel"
	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
)

// NewMemoryStore returns a store that keeps the session for the lifetime of
// the process.
func NewMemoryStore() bagel.CredentialStore {
	return auth.NewMemoryStore()
}

// NewFileStore returns a store that persists the session to a YAML file at
// path, readable only by the current user.
func NewFileStore(path string) bagel.CredentialStore {
	return auth.NewOSFileStore(path)
}

// NewKVStore returns a store backed by the JetStream key-value bucket, which
// is created when missing. namespace separates sessions sharing one bucket.
func NewKVStore(conn *nats.Conn, bucket, namespace string) (bagel.CredentialStore, error) {
	store, err := auth.OpenKVStore(conn, bucket, namespace)
	if err != nil {
		return nil, err
	}

	return store, nil
}

// NewRedisStore connects to Redis at url and returns a store keeping the
// session in one hash per namespace. Call the returned function to
// disconnect.
func NewRedisStore(ctx context.Context, url, namespace string) (bagel.CredentialStore, func() error, error) {
	store, closeStore, err := auth.OpenRedisStore(ctx, url, namespace)
	if err != nil {
		return nil, nil, err
	}

	return store, closeStore, nil
}

// NewRedisClientStore returns a store on an existing Redis client, which the
// caller keeps owning.
func NewRedisClientStore(client redis.Cmdable, namespace string) bagel.CredentialStore {
	return auth.NewRedisStore(client, namespace)
}
