package kvstore

import (
	"context"
	"sync"
)

type memoryData struct {
	mu     sync.RWMutex
	values map[string][]byte
	closed bool
}

// MemoryStore keeps values in process memory under "<namespace>:<key>", the
// same layout the redis backend uses. Views made with WithNamespace share one
// backing map.
type MemoryStore struct {
	data      *memoryData
	namespace string
}

func NewMemoryStore() *MemoryStore {
	return NewMemoryStoreWithNamespace(DefaultNamespace)
}

func NewMemoryStoreWithNamespace(namespace string) *MemoryStore {
	return &MemoryStore{
		data:      &memoryData{values: map[string][]byte{}},
		namespace: normalizeNamespace(namespace),
	}
}

// WithNamespace returns a store over the same backing map with a different
// key prefix. Closing either closes both.
func (s *MemoryStore) WithNamespace(namespace string) *MemoryStore {
	return &MemoryStore{data: s.data, namespace: normalizeNamespace(namespace)}
}

func (s *MemoryStore) Namespace() string { return s.namespace }

func (s *MemoryStore) Get(_ context.Context, key string) ([]byte, bool, error) {
	if err := validateKey(key); err != nil {
		return nil, false, err
	}
	s.data.mu.RLock()
	defer s.data.mu.RUnlock()
	if s.data.closed {
		return nil, false, ErrClosed
	}
	v, ok := s.data.values[s.memoryKey(key)]
	if !ok {
		return nil, false, nil
	}
	return append([]byte(nil), v...), true, nil
}

func (s *MemoryStore) Set(_ context.Context, key string, value []byte) error {
	if err := validateKey(key); err != nil {
		return err
	}
	s.data.mu.Lock()
	defer s.data.mu.Unlock()
	if s.data.closed {
		return ErrClosed
	}
	s.data.values[s.memoryKey(key)] = append([]byte(nil), value...)
	return nil
}

func (s *MemoryStore) Close() error {
	s.data.mu.Lock()
	s.data.closed = true
	s.data.mu.Unlock()
	return nil
}

func (s *MemoryStore) memoryKey(key string) string {
	return s.namespace + ":" + key
}
