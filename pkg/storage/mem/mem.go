// Package mem is a process local blob store, used when no cache path
// is configured.
package mem

import (
	"bytes"
	"sort"
	"sync"

	"github.com/hashicorp/go-hclog"

	"github.com/the-maldridge/nrepo/pkg/storage"
)

type memStore struct {
	mu sync.RWMutex
	m  map[string][]byte
}

func init() {
	storage.RegisterCallback(newFactory)
}

func newFactory() {
	storage.RegisterFactory("memory", New)
}

// New returns an empty in-memory store.  The path is ignored.
func New(hclog.Logger, string) (storage.Storage, error) {
	return &memStore{m: make(map[string][]byte)}, nil
}

func (s *memStore) Get(k []byte) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.m[string(k)]
	if !ok {
		return nil, nil
	}
	return append([]byte(nil), v...), nil
}

func (s *memStore) Put(k, v []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.m[string(k)] = append([]byte(nil), v...)
	return nil
}

func (s *memStore) Del(k []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.m, string(k))
	return nil
}

func (s *memStore) Scan(prefix []byte, f func(key []byte) error) error {
	s.mu.RLock()
	var keys []string
	for k := range s.m {
		if bytes.HasPrefix([]byte(k), prefix) {
			keys = append(keys, k)
		}
	}
	s.mu.RUnlock()
	sort.Strings(keys)
	for _, k := range keys {
		if err := f([]byte(k)); err != nil {
			return err
		}
	}
	return nil
}

func (s *memStore) Close() error { return nil }
