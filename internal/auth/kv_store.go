package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/nats-io/nats.go"
)

// KeyValue is the subset of nats.KeyValue the store uses.
type KeyValue interface {
	Get(key string) (nats.KeyValueEntry, error)
	Put(key string, value []byte) (uint64, error)
	Delete(key string, opts ...nats.DeleteOpt) error
	Keys(opts ...nats.WatchOpt) ([]string, error)
}

// KVStore keeps credentials in a NATS JetStream key-value bucket so several
// server processes share one session. Keys are prefixed with the namespace.
type KVStore struct {
	kv        KeyValue
	namespace string
}

// NewKVStore creates a store on kv. An empty namespace uses bare keys.
func NewKVStore(kv KeyValue, namespace string) *KVStore {
	namespace = strings.Trim(namespace, ".")
	if namespace != "" {
		namespace += "."
	}

	return &KVStore{kv: kv, namespace: namespace}
}

// OpenKVStore binds bucket on conn, creating it if needed.
func OpenKVStore(conn *nats.Conn, bucket, namespace string) (*KVStore, error) {
	js, err := conn.JetStream()
	if err != nil {
		return nil, fmt.Errorf("opening JetStream: %w", err)
	}

	kv, err := js.KeyValue(bucket)
	if errors.Is(err, nats.ErrBucketNotFound) {
		kv, err = js.CreateKeyValue(&nats.KeyValueConfig{
			Bucket:      bucket,
			Description: "Bagel session credentials",
			History:     1,
		})
	}

	if err != nil {
		return nil, fmt.Errorf("binding bucket %s: %w", bucket, err)
	}

	return NewKVStore(kv, namespace), nil
}

// Get returns the value stored under key.
func (s *KVStore) Get(_ context.Context, key string) (string, bool, error) {
	entry, err := s.kv.Get(s.namespace + key)
	if errors.Is(err, nats.ErrKeyNotFound) {
		return "", false, nil
	}

	if err != nil {
		return "", false, &StoreError{Op: "get", Key: key, Err: err}
	}

	return string(entry.Value()), true, nil
}

// Set stores value under key.
func (s *KVStore) Set(_ context.Context, key, value string) error {
	_, err := s.kv.Put(s.namespace+key, []byte(value))
	if err != nil {
		return &StoreError{Op: "set", Key: key, Err: err}
	}

	return nil
}

// Remove deletes key.
func (s *KVStore) Remove(_ context.Context, key string) error {
	err := s.kv.Delete(s.namespace + key)
	if err != nil && !errors.Is(err, nats.ErrKeyNotFound) {
		return &StoreError{Op: "remove", Key: key, Err: err}
	}

	return nil
}

// Clear deletes every key in the namespace.
func (s *KVStore) Clear(ctx context.Context) error {
	keys, err := s.kv.Keys()
	if errors.Is(err, nats.ErrNoKeysFound) {
		return nil
	}

	if err != nil {
		return &StoreError{Op: "clear", Err: err}
	}

	for _, key := range keys {
		if !strings.HasPrefix(key, s.namespace) {
			continue
		}

		err = s.Remove(ctx, strings.TrimPrefix(key, s.namespace))
		if err != nil {
			return err
		}
	}

	return nil
}
