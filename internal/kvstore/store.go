// Package kvstore persists opaque values under namespaced keys. Callers read a
// whole value, change it in memory and write the whole value back; there are no
// partial updates and no cross-key transactions.
package kvstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

const DefaultNamespace = "task-store"

var ErrClosed = errors.New("kv store is closed")

type Store interface {
	// Get returns the stored bytes for key. A missing key is found=false with a
	// nil error.
	Get(ctx context.Context, key string) (value []byte, found bool, err error)
	// Set replaces the value for key. Any failure is returned; writes are never
	// dropped silently.
	Set(ctx context.Context, key string, value []byte) error
	Close() error
}

// GetJSON decodes the value at key into a T, or returns def when the key is
// absent.
func GetJSON[T any](ctx context.Context, s Store, key string, def T) (T, error) {
	raw, ok, err := s.Get(ctx, key)
	if err != nil {
		return def, err
	}
	if !ok || len(raw) == 0 {
		return def, nil
	}
	var out T
	if err := json.Unmarshal(raw, &out); err != nil {
		return def, fmt.Errorf("decode %s: %w", key, err)
	}
	return out, nil
}

func SetJSON(ctx context.Context, s Store, key string, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	return s.Set(ctx, key, raw)
}

func normalizeNamespace(ns string) string {
	ns = strings.TrimSpace(ns)
	if ns == "" {
		return DefaultNamespace
	}
	return ns
}

func validateKey(key string) error {
	if strings.TrimSpace(key) == "" {
		return errors.New("key is required")
	}
	return nil
}
