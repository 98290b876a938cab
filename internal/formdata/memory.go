package formdata

import (
	"context"
	"sort"
	"strings"
	"sync"

	"usrtaskmgt/internal/domain"
)

// MemoryStore keeps encoded form data in a map.
type MemoryStore struct {
	mu   sync.RWMutex
	data map[string][]byte
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: map[string][]byte{}}
}

func (s *MemoryStore) GetFormData(_ context.Context, tdk, pid string) (domain.FormData, bool, error) {
	key := Key(tdk, pid)
	s.mu.RLock()
	b, ok := s.data[key]
	s.mu.RUnlock()
	if !ok {
		return domain.FormData{}, false, nil
	}
	fd, err := decode(b)
	if err != nil {
		return domain.FormData{}, false, storageErr("decode", key, err)
	}
	return fd, true, nil
}

func (s *MemoryStore) PutFormData(_ context.Context, tdk, pid string, fd domain.FormData) error {
	key := Key(tdk, pid)
	b, err := encode(fd)
	if err != nil {
		return storageErr("encode", key, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.data == nil {
		s.data = map[string][]byte{}
	}
	s.data[key] = b
	return nil
}

func (s *MemoryStore) DeleteByProcessInstanceID(_ context.Context, pid string) error {
	prefix := ProcessPrefix(pid)
	s.mu.Lock()
	defer s.mu.Unlock()
	for k := range s.data {
		if strings.HasPrefix(k, prefix) {
			delete(s.data, k)
		}
	}
	return nil
}

// Keys lists the stored keys in order.
func (s *MemoryStore) Keys() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	keys := make([]string, 0, len(s.data))
	for k := range s.data {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func (s *MemoryStore) Close() error { return nil }
