// Package bc is a bitcask backed blob store.  It keeps the upstream
// metadata cache across runs.
package bc

import (
	"errors"
	"fmt"

	"git.mills.io/prologic/bitcask"
	"github.com/hashicorp/go-hclog"

	"github.com/the-maldridge/nrepo/pkg/storage"
)

// Cache entries are one package's metadata, keys are a prefixed base
// name.
const (
	maxKeySize   = 512
	maxValueSize = 4 << 20
)

// bcStore is the type that must satisfy storage.Storage
type bcStore struct {
	s *bitcask.Bitcask

	l    hclog.Logger
	path string
}

func init() {
	storage.RegisterCallback(newFactory)
}

func newFactory() {
	storage.RegisterFactory("bitcask", newBCStore)
}

func newBCStore(l hclog.Logger, p string) (storage.Storage, error) {
	x := bcStore{
		l:    l.Named("bitcask"),
		path: p,
	}

	if p == "" {
		x.l.Error("A path must be set for the bitcask store")
		return nil, errors.New("required path unset")
	}

	b, err := bitcask.Open(p,
		bitcask.WithMaxKeySize(maxKeySize),
		bitcask.WithMaxValueSize(maxValueSize),
		bitcask.WithSync(true),
	)
	if err != nil {
		x.l.Error("Error initializing bitcask", "path", p, "error", err)
		return nil, fmt.Errorf("opening cache %s: %w", p, err)
	}
	x.s = b
	x.l.Debug("Cache opened", "path", p, "keys", b.Len())
	return &x, nil
}

func (b *bcStore) Get(k []byte) ([]byte, error) {
	v, err := b.s.Get(k)
	if errors.Is(err, bitcask.ErrKeyNotFound) {
		return nil, nil
	}
	return v, err
}

func (b *bcStore) Put(k, v []byte) error {
	if err := b.s.Put(k, v); err != nil {
		return fmt.Errorf("cache put %s: %w", k, err)
	}
	return nil
}

func (b *bcStore) Del(k []byte) error {
	return b.s.Delete(k)
}

func (b *bcStore) Scan(prefix []byte, f func(key []byte) error) error {
	return b.s.Scan(prefix, f)
}

// Close merges away deleted and overwritten entries before closing.
func (b *bcStore) Close() error {
	if err := b.s.Merge(); err != nil {
		b.l.Warn("Unable to compact cache", "path", b.path, "error", err)
	}
	return b.s.Close()
}
